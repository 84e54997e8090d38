package domain

import "time"

// Envelope 表示邮箱列表中的一封邮件摘要。
//
// ID 由上游服务分配，同一邮箱内唯一且单调递增；Animate 只在客户端使用，
// 标记新到达、尚未展示过的邮件，不参与序列化。
type Envelope struct {
	ID        int64     `json:"id"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Subject   string    `json:"subject"`
	CreatedAt time.Time `json:"created_at"`
	Animate   bool      `json:"-"`
}

// Sender 返回去掉邮箱地址部分的发件人名称
func (e Envelope) Sender() string {
	return FormatFrom(e.From)
}

// Detail 是单封邮件的正文和附件列表，按选择懒加载，不跨选择缓存。
type Detail struct {
	Attachments []Attachment `json:"attachments"`
	Content     string       `json:"content"`
}

// HasAttachments 返回邮件是否带附件
func (d *Detail) HasAttachments() bool {
	return d != nil && len(d.Attachments) > 0
}
