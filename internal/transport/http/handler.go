package httptransport

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"tempmail/client/internal/domain"
	"tempmail/client/internal/mailsync"
	"tempmail/client/internal/render"
	"tempmail/client/internal/security"
)

// Handler 聚合本地桥接服务的 HTTP 处理逻辑
type Handler struct {
	deps    RouterDependencies
	content *security.ContentFilter
	attach  *security.AttachmentSecurity
}

func newHandler(deps RouterDependencies) *Handler {
	return &Handler{
		deps:    deps,
		content: security.NewContentFilter(),
		attach:  security.NewAttachmentSecurity(),
	}
}

// addressResponse 当前地址信息
type addressResponse struct {
	Address string   `json:"address"`
	Domain  string   `json:"domain"`
	Domains []string `json:"domains"`
	Changed bool     `json:"changed"`
}

// updateAddressRequest 修改地址请求，Address 和 Local 二选一
type updateAddressRequest struct {
	Address string `json:"address"`
	Local   string `json:"local"`
}

// messageResponse 邮件详情
type messageResponse struct {
	Envelope domain.Envelope    `json:"envelope"`
	Detail   *domain.Detail     `json:"detail"`
	IsHTML   bool               `json:"isHtml"`
	Warnings []security.Warning `json:"warnings"`
}

// getState 返回完整同步状态
func (h *Handler) getState(c *gin.Context) {
	Success(c, h.deps.Sync.Snapshot())
}

// listEnvelopes 返回当前邮件列表
func (h *Handler) listEnvelopes(c *gin.Context) {
	snap := h.deps.Sync.Snapshot()
	Success(c, gin.H{
		"address":   snap.Address,
		"envelopes": snap.Envelopes,
		"count":     len(snap.Envelopes),
		"hasMore":   snap.HasMore,
		"loading":   snap.Loading,
	})
}

// loadMore 加载下一页
func (h *Handler) loadMore(c *gin.Context) {
	added, err := h.deps.Sync.LoadNextPage(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	snap := h.deps.Sync.Snapshot()
	Success(c, gin.H{
		"added":   added,
		"count":   len(snap.Envelopes),
		"hasMore": snap.HasMore,
	})
}

// getAddress 返回当前地址和可用域名
func (h *Handler) getAddress(c *gin.Context) {
	Success(c, h.addressInfo(false))
}

// updateAddress 手动修改地址
func (h *Handler) updateAddress(c *gin.Context) {
	var req updateAddressRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidJSON)
		return
	}

	var (
		changed bool
		err     error
	)
	switch {
	case req.Address != "":
		changed, err = h.deps.Session.Update(c.Request.Context(), req.Address)
	case req.Local != "":
		changed, err = h.deps.Session.UpdateLocal(c.Request.Context(), req.Local)
	default:
		BadRequest(c, MsgInvalidRequest)
		return
	}
	if err != nil {
		respondError(c, err)
		return
	}

	Success(c, h.addressInfo(changed))
}

// randomAddress 生成随机地址，all=true 时同时随机选择域名
func (h *Handler) randomAddress(c *gin.Context) {
	var err error
	if c.Query("all") == "true" {
		_, err = h.deps.Session.RandomizeAll(c.Request.Context())
	} else {
		_, err = h.deps.Session.Randomize(c.Request.Context())
	}
	if err != nil {
		respondError(c, err)
		return
	}
	Success(c, h.addressInfo(true))
}

func (h *Handler) addressInfo(changed bool) addressResponse {
	addr := h.deps.Session.Current()
	return addressResponse{
		Address: addr,
		Domain:  domain.DomainOf(addr),
		Domains: h.deps.Session.Domains(),
		Changed: changed,
	}
}

// listDomains 返回可用域名，refresh=true 时重新从上游获取
func (h *Handler) listDomains(c *gin.Context) {
	domains := h.deps.Session.Domains()
	if c.Query("refresh") == "true" {
		if h.deps.API != nil {
			h.deps.API.InvalidateDomains()
		}
		var err error
		domains, err = h.deps.Session.RefreshDomains(c.Request.Context())
		if err != nil {
			respondError(c, err)
			return
		}
	}
	Success(c, gin.H{
		"domains": domains,
		"count":   len(domains),
	})
}

// listHistory 返回最近使用过的地址
func (h *Handler) listHistory(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if err != nil || limit <= 0 {
		BadRequest(c, MsgInvalidRequest)
		return
	}
	history, err := h.deps.Session.History(c.Request.Context(), limit)
	if err != nil {
		respondError(c, err)
		return
	}
	Success(c, gin.H{
		"current": h.deps.Session.Current(),
		"history": history,
	})
}

// forgetHistory 从历史中删除 address 参数指定的地址
func (h *Handler) forgetHistory(c *gin.Context) {
	address := c.Query("address")
	if address == "" {
		BadRequest(c, MsgInvalidRequest)
		return
	}
	if err := h.deps.Session.Forget(c.Request.Context(), address); err != nil {
		respondError(c, err)
		return
	}
	SuccessWithMsg(c, "已删除", nil)
}

// getMessage 选择邮件并返回详情
func (h *Handler) getMessage(c *gin.Context) {
	id, ok := messageID(c)
	if !ok {
		return
	}

	env, detail, err := h.selectMessage(c, id)
	if err != nil {
		respondError(c, err)
		return
	}

	names := make([]string, 0, len(detail.Attachments))
	for _, att := range detail.Attachments {
		names = append(names, att.Filename)
	}
	warnings := h.content.Inspect(env.Subject, detail.Content)
	warnings = append(warnings, h.attach.InspectAttachments(names)...)

	Success(c, messageResponse{
		Envelope: env,
		Detail:   detail,
		IsHTML:   render.IsHTML(detail.Content),
		Warnings: warnings,
	})
}

// renderMessage 返回可以直接在 iframe 中展示的邮件正文文档
func (h *Handler) renderMessage(c *gin.Context) {
	id, ok := messageID(c)
	if !ok {
		return
	}

	_, detail, err := h.selectMessage(c, id)
	if err != nil {
		respondError(c, err)
		return
	}

	c.Header("Content-Security-Policy", render.ContentSecurityPolicy)
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(render.Document(detail.Content)))
}

// selectMessage 当前已选择该邮件且详情已加载时直接复用，否则重新选择
func (h *Handler) selectMessage(c *gin.Context, id int64) (domain.Envelope, *domain.Detail, error) {
	if env, detail, ok := h.deps.Sync.Selected(); ok && env.ID == id && detail != nil {
		return env, detail, nil
	}

	detail, err := h.deps.Sync.Select(c.Request.Context(), id)
	if err != nil {
		return domain.Envelope{}, nil, err
	}
	env, ok := h.deps.Sync.Store().Get(id)
	if !ok {
		return domain.Envelope{}, nil, mailsync.ErrUnknownEnvelope
	}
	return env, detail, nil
}

// markRendered 邮件展示后清除新邮件标记
func (h *Handler) markRendered(c *gin.Context) {
	id, ok := messageID(c)
	if !ok {
		return
	}
	Success(c, gin.H{"cleared": h.deps.Sync.MarkRendered(id)})
}

// savedAttachment 单个附件的保存结果
type savedAttachment struct {
	ID       string             `json:"id"`
	Filename string             `json:"filename"`
	Path     string             `json:"path,omitempty"`
	Size     int64              `json:"size"`
	Warnings []security.Warning `json:"warnings,omitempty"`
	Error    string             `json:"error,omitempty"`
}

// saveAttachments 把邮件的所有附件保存到本地下载目录
func (h *Handler) saveAttachments(c *gin.Context) {
	if h.deps.Downloader == nil {
		Error(c, http.StatusServiceUnavailable, MsgNotAvailable)
		return
	}
	id, ok := messageID(c)
	if !ok {
		return
	}

	_, detail, err := h.selectMessage(c, id)
	if err != nil {
		respondError(c, err)
		return
	}

	results, err := h.deps.Downloader.DownloadAll(c.Request.Context(), detail.Attachments)
	if err != nil {
		respondError(c, err)
		return
	}

	saved := make([]savedAttachment, 0, len(results))
	failed := 0
	for _, res := range results {
		item := savedAttachment{
			ID:       res.Attachment.ID,
			Filename: res.Attachment.Filename,
			Path:     res.Path,
			Size:     res.Size,
			Warnings: res.Warnings,
		}
		if res.Err != nil {
			item.Error = res.Err.Error()
			failed++
		}
		saved = append(saved, item)
	}

	Success(c, gin.H{
		"dir":         h.deps.Downloader.Dir(),
		"attachments": saved,
		"failed":      failed,
	})
}

// clearSelection 取消选择
func (h *Handler) clearSelection(c *gin.Context) {
	h.deps.Sync.Deselect()
	SuccessWithMsg(c, "已取消选择", nil)
}

// downloadAttachment 重定向到上游附件下载地址
func (h *Handler) downloadAttachment(c *gin.Context) {
	if h.deps.API == nil {
		Error(c, http.StatusServiceUnavailable, MsgNotAvailable)
		return
	}
	id := c.Param("id")
	if id == "" {
		BadRequest(c, MsgInvalidRequest)
		return
	}
	c.Redirect(http.StatusFound, h.deps.API.DownloadURL(id))
}

// messageID 解析路径中的邮件 ID，失败时直接写入错误响应
func messageID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		_ = c.Error(errors.New("invalid message id"))
		BadRequest(c, MsgInvalidMessageID)
		return 0, false
	}
	return id, true
}
