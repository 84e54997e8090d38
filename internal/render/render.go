// Package render 把邮件正文转换为可以安全展示的 HTML 文档或终端文本。
package render

import (
	"regexp"
	"strings"

	"golang.org/x/net/html"
)

// htmlIndicators 正文包含任意一项即按 HTML 邮件处理
var htmlIndicators = []string{
	"<html", "<HTML", "<body", "<BODY", "<div", "<DIV",
	"<p>", "<P>", "<span", "<SPAN", "<table", "<TABLE",
	"<a ", "<A ", "<img", "<IMG", "<br>", "<BR>",
	"&nbsp;", "&amp;", "&lt;", "&gt;",
}

var urlRegex = regexp.MustCompile(`https?://[^\s<]+`)

// IsHTML 判断邮件正文是否为 HTML
func IsHTML(body string) bool {
	for _, indicator := range htmlIndicators {
		if strings.Contains(body, indicator) {
			return true
		}
	}
	return false
}

// FormatPlainText 把纯文本正文转换为 HTML 片段
//
// 先转义，再把 URL 转成在新窗口打开的链接，最后把换行转成 <br>。
func FormatPlainText(text string) string {
	escaped := html.EscapeString(strings.ReplaceAll(text, "\r", ""))
	linked := urlRegex.ReplaceAllStringFunc(escaped, func(u string) string {
		return `<a href="` + u + `" target="_blank" rel="noopener noreferrer">` + u + `</a>`
	})
	return strings.ReplaceAll(linked, "\n", "<br>")
}

// Body 返回正文的安全 HTML 片段：HTML 邮件经过清理，纯文本邮件经过转义
func Body(content string) string {
	if IsHTML(content) {
		return SanitizeHTML(content)
	}
	return FormatPlainText(content)
}
