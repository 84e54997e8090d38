// Package security 对收到的邮件内容和附件做本地检查，结果只作为提示，不拦截邮件。
package security

import (
	"regexp"
	"strings"
)

// Warning 一条内容检查提示
type Warning struct {
	Code   string `json:"code"`
	Detail string `json:"detail"`
}

const (
	WarnActiveContent = "active_content"
	WarnSpam          = "spam"
	WarnAttachment    = "dangerous_attachment"
)

// ContentFilter 内容过滤器
type ContentFilter struct {
	// 主动内容模式，渲染时会被清理掉
	maliciousPatterns []*regexp.Regexp

	// 垃圾邮件关键词
	spamKeywords []string

	// 命中多少个关键词视为垃圾邮件
	spamThreshold int
}

// NewContentFilter 创建内容过滤器
func NewContentFilter() *ContentFilter {
	return &ContentFilter{
		maliciousPatterns: []*regexp.Regexp{
			regexp.MustCompile(`(?is)<script[^>]*>.*?</script>`),
			regexp.MustCompile(`(?i)javascript:`),
			regexp.MustCompile(`(?i)\bonload\s*=`),
			regexp.MustCompile(`(?i)\bonerror\s*=`),
			regexp.MustCompile(`(?i)\bonclick\s*=`),
			regexp.MustCompile(`(?i)eval\s*\(`),
			regexp.MustCompile(`(?i)document\.cookie`),
			regexp.MustCompile(`(?i)<iframe[^>]*>`),
			regexp.MustCompile(`(?i)<object[^>]*>`),
			regexp.MustCompile(`(?i)<embed[^>]*>`),
			regexp.MustCompile(`(?i)<form[^>]*>`),
		},
		spamKeywords: []string{
			"viagra", "casino", "lottery", "winner", "congratulations",
			"free money", "click here", "limited time", "act now",
			"guaranteed", "no risk", "earn money", "work from home",
		},
		spamThreshold: 3,
	}
}

// Inspect 检查邮件主题和正文，返回所有命中的提示
//
// 参数:
//   - subject: 邮件主题
//   - content: 邮件正文（HTML 或纯文本）
//
// 返回值:
//   - []Warning: 命中的提示，没有问题时返回空切片
func (cf *ContentFilter) Inspect(subject, content string) []Warning {
	warnings := []Warning{}

	if malicious, reason := cf.checkMaliciousContent(content); malicious {
		warnings = append(warnings, Warning{Code: WarnActiveContent, Detail: reason})
	}

	if spam, reason := cf.checkSpamContent(subject + "\n" + content); spam {
		warnings = append(warnings, Warning{Code: WarnSpam, Detail: reason})
	}

	return warnings
}

// checkMaliciousContent 检查主动内容
func (cf *ContentFilter) checkMaliciousContent(content string) (bool, string) {
	for _, pattern := range cf.maliciousPatterns {
		if pattern.MatchString(content) {
			return true, "active content removed: " + pattern.String()
		}
	}
	return false, ""
}

// checkSpamContent 检查垃圾邮件内容
func (cf *ContentFilter) checkSpamContent(content string) (bool, string) {
	contentLower := strings.ToLower(content)

	spamCount := 0
	for _, keyword := range cf.spamKeywords {
		if strings.Contains(contentLower, keyword) {
			spamCount++
		}
	}

	if spamCount >= cf.spamThreshold {
		return true, "multiple spam keywords found"
	}

	return false, ""
}
