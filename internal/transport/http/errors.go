package httptransport

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"tempmail/client/internal/domain"
	"tempmail/client/internal/download"
	"tempmail/client/internal/mailapi"
	"tempmail/client/internal/mailsync"
	"tempmail/client/internal/session"
)

// errorMessages 错误消息映射表（业务错误 -> 中文消息）
var errorMessages = []struct {
	err    error
	status int
	msg    string
}{
	// 地址错误
	{domain.ErrInvalidAddress, http.StatusBadRequest, "邮箱地址格式无效"},
	{domain.ErrEmailTooLong, http.StatusBadRequest, "邮箱地址过长"},
	{domain.ErrLocalPartTooLong, http.StatusBadRequest, "邮箱前缀过长"},
	{domain.ErrInvalidLocalPart, http.StatusBadRequest, "邮箱前缀格式无效"},
	{domain.ErrDomainTooLong, http.StatusBadRequest, "域名过长"},
	{domain.ErrInvalidDomain, http.StatusBadRequest, "域名格式无效"},
	{domain.ErrDomainNotAllowed, http.StatusUnprocessableEntity, "域名不在服务端提供的列表中"},

	// 会话错误
	{session.ErrNoDomains, http.StatusServiceUnavailable, "服务端没有可用域名"},
	{session.ErrNoAddress, http.StatusConflict, "还没有邮箱地址"},

	// 同步错误
	{mailsync.ErrNoAddress, http.StatusConflict, "还没有邮箱地址"},
	{mailsync.ErrUnknownEnvelope, http.StatusNotFound, "邮件不存在"},
	{mailsync.ErrSelectionChanged, http.StatusConflict, "选择已改变"},
	{mailsync.ErrClosed, http.StatusServiceUnavailable, "同步客户端已关闭"},

	{download.ErrNoAttachments, http.StatusNotFound, "邮件没有附件"},
}

// 通用错误消息
const (
	MsgInvalidRequest   = "请求参数格式错误"
	MsgInvalidJSON      = "JSON格式错误"
	MsgInvalidMessageID = "邮件ID无效"
	MsgUpstreamFailed   = "上游服务请求失败"
	MsgRequestCancelled = "请求已取消"
	MsgNotAvailable     = "功能未启用"
)

// GetErrorMessage 获取错误的中文消息和 HTTP 状态码
func GetErrorMessage(err error) (int, string) {
	for _, m := range errorMessages {
		if errors.Is(err, m.err) {
			return m.status, m.msg
		}
	}

	var apiErr *mailapi.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Kind {
		case mailapi.KindClient:
			// 上游 4xx 原样透传状态码和消息
			return apiErr.Status, apiErr.Message
		case mailapi.KindAborted:
			return http.StatusRequestTimeout, MsgRequestCancelled
		default:
			return http.StatusBadGateway, MsgUpstreamFailed + ": " + mailapi.MessageOf(err)
		}
	}
	if mailapi.IsAborted(err) {
		return http.StatusRequestTimeout, MsgRequestCancelled
	}

	return http.StatusInternalServerError, err.Error()
}

// respondError 把错误转换为统一响应
func respondError(c *gin.Context, err error) {
	status, msg := GetErrorMessage(err)
	_ = c.Error(err)
	Error(c, status, msg)
}
