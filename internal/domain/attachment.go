package domain

// Attachment 表示邮件附件。下载地址由 ID 拼接得到。
type Attachment struct {
	ID       string `json:"id"`       // 附件唯一标识
	Filename string `json:"filename"` // 原始文件名
}
