package mailapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Kind 上游请求失败的分类
type Kind int

const (
	// KindAborted 请求被调用方取消，静默处理，不重试
	KindAborted Kind = iota + 1
	// KindClient 4xx 响应，服务端返回的消息需要提示给用户
	KindClient
	// KindServer 5xx 响应，视为暂时性故障
	KindServer
	// KindNetwork 连接失败、超时等网络错误，视为暂时性故障
	KindNetwork
	// KindDecode 响应体不是合法 JSON，视为暂时性故障
	KindDecode
)

func (k Kind) String() string {
	switch k {
	case KindAborted:
		return "aborted"
	case KindClient:
		return "client_error"
	case KindServer:
		return "server_error"
	case KindNetwork:
		return "network"
	case KindDecode:
		return "decode"
	default:
		return "unknown"
	}
}

// Error 上游 API 调用错误
type Error struct {
	Kind    Kind
	Op      string // 调用的接口，例如 "fetch_latest"
	Status  int    // HTTP 状态码，网络错误时为 0
	Message string // 服务端返回的 message，解析失败时为状态文本
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e.Status != 0:
		return fmt.Sprintf("mailapi %s: %d %s", e.Op, e.Status, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("mailapi %s: %s: %v", e.Op, e.Kind, e.Err)
	default:
		return fmt.Sprintf("mailapi %s: %s", e.Op, e.Kind)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Transient 返回该错误是否可以通过重试恢复
func (e *Error) Transient() bool {
	return e.Kind == KindServer || e.Kind == KindNetwork || e.Kind == KindDecode
}

// KindOf 返回错误的分类，非 *Error 的错误按网络错误处理
func KindOf(err error) Kind {
	if err == nil {
		return 0
	}
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Kind
	}
	if errors.Is(err, context.Canceled) {
		return KindAborted
	}
	return KindNetwork
}

// IsAborted 判断错误是否由取消请求引起
func IsAborted(err error) bool {
	return KindOf(err) == KindAborted
}

// MessageOf 返回适合展示给用户的错误消息
func MessageOf(err error) string {
	var apiErr *Error
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}
	if err == nil {
		return ""
	}
	return err.Error()
}

func statusError(op string, status int, message string) *Error {
	if message == "" {
		message = http.StatusText(status)
	}
	kind := KindServer
	if status >= 400 && status < 500 {
		kind = KindClient
	}
	return &Error{Kind: kind, Op: op, Status: status, Message: message}
}
