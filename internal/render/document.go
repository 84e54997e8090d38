package render

import "strings"

// ContentSecurityPolicy 独立渲染的邮件文档使用的 CSP：沙箱隔离，禁止脚本
const ContentSecurityPolicy = "sandbox allow-popups allow-popups-to-escape-sandbox; default-src 'none'; img-src * data:; style-src 'unsafe-inline' *; font-src * data:"

const documentHead = `<!DOCTYPE html>
<html>
<head>
<meta charset="UTF-8">
<meta name="viewport" content="width=device-width, initial-scale=1.0">
<style>
* { box-sizing: border-box; }
body {
  font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", Roboto, Arial, sans-serif;
  font-size: 14px;
  line-height: 1.6;
  color: #333;
  padding: 16px;
  margin: 0;
  background: transparent;
  word-wrap: break-word;
  overflow-wrap: break-word;
}
img { max-width: 100%; height: auto; display: block; }
table { max-width: 100%; border-collapse: collapse; table-layout: fixed; }
td, th { word-wrap: break-word; overflow-wrap: break-word; }
a { color: #4f46e5; }
a:hover { text-decoration: underline; }
pre, code { white-space: pre-wrap; word-wrap: break-word; overflow-wrap: break-word; max-width: 100%; }
</style>
</head>
<body>
`

const documentTail = `
</body>
</html>
`

// Document 把邮件正文包装成带样式的独立 HTML 文档
func Document(content string) string {
	body := Body(content)
	var b strings.Builder
	b.Grow(len(documentHead) + len(body) + len(documentTail))
	b.WriteString(documentHead)
	b.WriteString(body)
	b.WriteString(documentTail)
	return b.String()
}
