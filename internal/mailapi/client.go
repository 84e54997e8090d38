package mailapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"tempmail/client/internal/cache"
	"tempmail/client/internal/config"
	"tempmail/client/internal/domain"
)

const (
	domainsCacheKey = "domains"
	maxErrorBody    = 4 << 10
)

// Recorder 记录上游请求的结果，status 为 0 表示没有收到响应
type Recorder interface {
	ObserveRequest(op string, status int, duration time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) ObserveRequest(string, int, time.Duration) {}

// Client 临时邮箱上游 API 客户端
//
// 所有请求都经过令牌桶限流，并携带 X-Request-ID 便于在服务端日志中关联。
// 长轮询请求使用单独的超时时间，其余请求使用 RequestTimeout。
type Client struct {
	baseURL         *url.URL
	http            *http.Client
	limiter         *rate.Limiter
	domains         *cache.LocalCache[[]string]
	userAgent       string
	requestTimeout  time.Duration
	longPollTimeout time.Duration
	log             *zap.Logger
	recorder        Recorder
}

// New 创建上游 API 客户端
//
// 参数:
//   - cfg: 上游 API 配置
//   - log: 日志记录器，为 nil 时不输出日志
//
// 返回值:
//   - *Client: 客户端实例，使用完毕后调用 Close
//   - error: BaseURL 不合法时返回错误
func New(cfg config.APIConfig, log *zap.Logger) (*Client, error) {
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if log == nil {
		log = zap.NewNop()
	}

	limit := rate.Limit(cfg.RateLimit)
	if cfg.RateLimit <= 0 {
		limit = rate.Inf
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	ttl := cfg.DomainCacheTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}

	return &Client{
		baseURL:         base,
		http:            &http.Client{},
		limiter:         rate.NewLimiter(limit, burst),
		domains:         cache.NewLocalCache[[]string](ttl, ttl),
		userAgent:       cfg.UserAgent,
		requestTimeout:  cfg.RequestTimeout,
		longPollTimeout: cfg.LongPollTimeout,
		log:             log.Named("mailapi"),
		recorder:        nopRecorder{},
	}, nil
}

// SetRecorder 设置请求指标记录器
func (c *Client) SetRecorder(r Recorder) {
	if r == nil {
		r = nopRecorder{}
	}
	c.recorder = r
}

// Close 释放客户端持有的后台资源
func (c *Client) Close() {
	c.domains.Close()
	c.http.CloseIdleConnections()
}

// BaseURL 返回上游 API 根地址
func (c *Client) BaseURL() string {
	return c.baseURL.String()
}

// Domains 获取服务端提供的域名列表，结果按配置的 TTL 缓存
func (c *Client) Domains(ctx context.Context) ([]string, error) {
	list, err := c.domains.GetOrLoad(ctx, domainsCacheKey, func(ctx context.Context) ([]string, error) {
		var domains []string
		if err := c.getJSON(ctx, "domains", "/api/domain", nil, c.requestTimeout, &domains); err != nil {
			return nil, err
		}
		return domains, nil
	})
	if err != nil {
		return nil, err
	}
	out := make([]string, len(list))
	copy(out, list)
	return out, nil
}

// InvalidateDomains 丢弃缓存的域名列表
func (c *Client) InvalidateDomains() {
	c.domains.Delete(domainsCacheKey)
}

// Fetch 分页获取邮箱的邮件列表（新到旧）
func (c *Client) Fetch(ctx context.Context, to string, limit, offset int) ([]domain.Envelope, error) {
	q := url.Values{}
	q.Set("to", to)
	q.Set("limit", strconv.Itoa(limit))
	q.Set("offset", strconv.Itoa(offset))

	var list []domain.Envelope
	if err := c.getJSON(ctx, "fetch", "/api/fetch", q, c.requestTimeout, &list); err != nil {
		return nil, err
	}
	return list, nil
}

// FetchLatest 长轮询等待 ID 大于 id 的新邮件
//
// 服务端在挂起超时后返回 204，此时返回 (nil, nil)。
func (c *Client) FetchLatest(ctx context.Context, to string, id int64) (*domain.Envelope, error) {
	q := url.Values{}
	q.Set("to", to)
	q.Set("id", strconv.FormatInt(id, 10))

	var env domain.Envelope
	err := c.getJSON(ctx, "fetch_latest", "/api/fetch/latest", q, c.longPollTimeout, &env)
	if errors.Is(err, errNoContent) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &env, nil
}

// FetchDetail 获取单封邮件的正文和附件
func (c *Client) FetchDetail(ctx context.Context, id int64) (*domain.Detail, error) {
	var detail domain.Detail
	path := "/api/fetch/" + strconv.FormatInt(id, 10)
	if err := c.getJSON(ctx, "fetch_detail", path, nil, c.requestTimeout, &detail); err != nil {
		return nil, err
	}
	if detail.Attachments == nil {
		detail.Attachments = []domain.Attachment{}
	}
	return &detail, nil
}

// DownloadURL 返回附件的下载地址
func (c *Client) DownloadURL(id string) string {
	return c.baseURL.JoinPath("api", "download", id).String()
}

// Download 下载附件并写入 w
//
// 返回值:
//   - string: 服务端 Content-Disposition 中的文件名，没有时为空
//   - int64: 写入的字节数
//   - error: 请求或写入失败时返回错误
func (c *Client) Download(ctx context.Context, id string, w io.Writer) (string, int64, error) {
	const op = "download"
	resp, cancel, err := c.do(ctx, op, "/api/download/"+id, nil, 0)
	if err != nil {
		return "", 0, err
	}
	defer cancel()
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", 0, readError(op, resp)
	}

	var filename string
	if cd := resp.Header.Get("Content-Disposition"); cd != "" {
		if _, params, err := mime.ParseMediaType(cd); err == nil {
			filename = params["filename"]
		}
	}

	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return filename, n, c.classify(ctx, op, err)
	}
	return filename, n, nil
}

var errNoContent = errors.New("no content")

// getJSON 发送 GET 请求并把 2xx 响应解码到 out，204 返回 errNoContent
func (c *Client) getJSON(ctx context.Context, op, path string, query url.Values, timeout time.Duration, out interface{}) error {
	resp, cancel, err := c.do(ctx, op, path, query, timeout)
	if err != nil {
		return err
	}
	defer cancel()
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return errNoContent
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return readError(op, resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if ctx.Err() != nil {
			return &Error{Kind: KindAborted, Op: op, Err: ctx.Err()}
		}
		return &Error{Kind: KindDecode, Op: op, Status: resp.StatusCode, Err: err}
	}
	return nil
}

// do 限流后发送请求，返回的 cancel 需要在读完响应体后调用
func (c *Client) do(ctx context.Context, op, path string, query url.Values, timeout time.Duration) (*http.Response, context.CancelFunc, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, nil, c.classify(ctx, op, err)
	}

	reqCtx, cancel := ctx, context.CancelFunc(func() {})
	if timeout > 0 {
		reqCtx, cancel = context.WithTimeout(ctx, timeout)
	}

	u := c.baseURL.JoinPath(path)
	if query != nil {
		u.RawQuery = query.Encode()
	}

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, u.String(), nil)
	if err != nil {
		cancel()
		return nil, nil, &Error{Kind: KindNetwork, Op: op, Err: err}
	}
	requestID := uuid.NewString()
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", requestID)
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	elapsed := time.Since(start)
	if err != nil {
		cancel()
		c.recorder.ObserveRequest(op, 0, elapsed)
		apiErr := c.classify(ctx, op, err)
		if !IsAborted(apiErr) {
			c.log.Debug("request failed",
				zap.String("op", op),
				zap.String("request_id", requestID),
				zap.Duration("elapsed", elapsed),
				zap.Error(err),
			)
		}
		return nil, nil, apiErr
	}

	c.recorder.ObserveRequest(op, resp.StatusCode, elapsed)
	c.log.Debug("request completed",
		zap.String("op", op),
		zap.String("request_id", requestID),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", elapsed),
	)
	return resp, cancel, nil
}

// classify 区分调用方取消和网络故障；单次请求超时属于网络故障
func (c *Client) classify(ctx context.Context, op string, err error) error {
	if ctx.Err() != nil {
		return &Error{Kind: KindAborted, Op: op, Err: ctx.Err()}
	}
	return &Error{Kind: KindNetwork, Op: op, Err: err}
}

type errorBody struct {
	Message string `json:"message"`
}

// readError 解析非 2xx 响应体中的 message，解析失败时使用状态文本
func readError(op string, resp *http.Response) error {
	var body errorBody
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err == nil {
		_ = json.Unmarshal(data, &body)
	}
	return statusError(op, resp.StatusCode, body.Message)
}
