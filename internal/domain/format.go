package domain

import (
	"regexp"
	"strings"
)

var fromRegex = regexp.MustCompile(`^(.+?)\s*<(.+?)>$`)

// FormatFrom 提取发件人显示名称
//
// `"Alice" <alice@example.com>` 返回 `Alice`；没有显示名称时原样返回。
func FormatFrom(from string) string {
	m := fromRegex.FindStringSubmatch(strings.TrimSpace(from))
	if m == nil {
		return from
	}
	return strings.TrimSuffix(strings.TrimPrefix(m[1], `"`), `"`)
}

// FormatFromWithEmail 返回 `名称 <地址>` 形式，名称去掉引号
func FormatFromWithEmail(from string) string {
	m := fromRegex.FindStringSubmatch(strings.TrimSpace(from))
	if m == nil {
		return from
	}
	name := strings.TrimSuffix(strings.TrimPrefix(m[1], `"`), `"`)
	return name + " <" + m[2] + ">"
}
