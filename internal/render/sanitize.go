package render

import (
	"bytes"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// droppedElements 连同子节点整体删除的元素
var droppedElements = map[atom.Atom]bool{
	atom.Script:   true,
	atom.Iframe:   true,
	atom.Frame:    true,
	atom.Frameset: true,
	atom.Object:   true,
	atom.Embed:    true,
	atom.Applet:   true,
	atom.Form:     true,
	atom.Base:     true,
	atom.Meta:     true,
	atom.Link:     true,
	atom.Noscript: true,
}

// urlAttributes 需要检查协议的属性
var urlAttributes = map[string]bool{
	"href":       true,
	"src":        true,
	"action":     true,
	"formaction": true,
	"background": true,
	"xlink:href": true,
	"poster":     true,
}

// SanitizeHTML 清理 HTML 邮件正文
//
// 删除脚本、内嵌框架、插件和表单，去掉 on* 事件属性和 javascript:/vbscript: 链接，
// 所有 <a> 强制在新窗口打开且不带 opener。返回 <body> 内部的 HTML。
func SanitizeHTML(content string) string {
	doc, err := html.Parse(strings.NewReader(content))
	if err != nil {
		return FormatPlainText(content)
	}

	clean(doc)

	body := findBody(doc)
	if body == nil {
		body = doc
	}

	var buf bytes.Buffer
	for c := body.FirstChild; c != nil; c = c.NextSibling {
		if err := html.Render(&buf, c); err != nil {
			return FormatPlainText(content)
		}
	}
	return buf.String()
}

func clean(n *html.Node) {
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		switch c.Type {
		case html.ElementNode:
			if droppedElements[c.DataAtom] {
				n.RemoveChild(c)
			} else {
				cleanAttributes(c)
				clean(c)
			}
		case html.CommentNode:
			n.RemoveChild(c)
		default:
			clean(c)
		}
		c = next
	}
}

func cleanAttributes(n *html.Node) {
	attrs := n.Attr[:0]
	for _, a := range n.Attr {
		key := strings.ToLower(a.Key)
		if strings.HasPrefix(key, "on") {
			continue
		}
		if urlAttributes[key] && unsafeURL(a.Val) {
			continue
		}
		if key == "style" && unsafeStyle(a.Val) {
			continue
		}
		if n.DataAtom == atom.A && (key == "target" || key == "rel") {
			continue
		}
		attrs = append(attrs, a)
	}
	if n.DataAtom == atom.A {
		attrs = append(attrs,
			html.Attribute{Key: "target", Val: "_blank"},
			html.Attribute{Key: "rel", Val: "noopener noreferrer"},
		)
	}
	n.Attr = attrs
}

func unsafeURL(v string) bool {
	v = strings.ToLower(strings.Map(func(r rune) rune {
		if r <= ' ' {
			return -1
		}
		return r
	}, v))
	return strings.HasPrefix(v, "javascript:") ||
		strings.HasPrefix(v, "vbscript:") ||
		strings.HasPrefix(v, "data:text/html")
}

func unsafeStyle(v string) bool {
	v = strings.ToLower(v)
	return strings.Contains(v, "expression(") || strings.Contains(v, "javascript:")
}

func findBody(n *html.Node) *html.Node {
	if n.Type == html.ElementNode && n.DataAtom == atom.Body {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if b := findBody(c); b != nil {
			return b
		}
	}
	return nil
}
