package security

import (
	"bytes"
	"path/filepath"
	"strings"
	"unicode"
)

// AttachmentSecurity 附件安全检查器
type AttachmentSecurity struct {
	// 危险文件扩展名
	dangerousExtensions map[string]bool

	// 文件名最大长度
	maxFilenameLength int
}

// NewAttachmentSecurity 创建附件安全检查器
func NewAttachmentSecurity() *AttachmentSecurity {
	return &AttachmentSecurity{
		dangerousExtensions: map[string]bool{
			".exe": true,
			".bat": true,
			".cmd": true,
			".scr": true,
			".pif": true,
			".com": true,
			".vbs": true,
			".js":  true,
			".jar": true,
			".msi": true,
			".ps1": true,
			".sh":  true,
			".php": true,
			".asp": true,
			".jsp": true,
		},
		maxFilenameLength: 255,
	}
}

// CheckFilename 检查附件文件名
//
// 返回值:
//   - bool: 是否危险
//   - string: 危险原因
func (as *AttachmentSecurity) CheckFilename(filename string) (bool, string) {
	return as.checkFileExtension(filename)
}

// InspectAttachments 检查一组附件文件名，返回所有命中的提示
func (as *AttachmentSecurity) InspectAttachments(filenames []string) []Warning {
	warnings := []Warning{}
	for _, name := range filenames {
		if dangerous, reason := as.checkFileExtension(name); dangerous {
			warnings = append(warnings, Warning{Code: WarnAttachment, Detail: name + ": " + reason})
		}
	}
	return warnings
}

// SafeFilename 把上游提供的文件名转换为可以写入本地目录的文件名
//
// 去掉目录部分和控制字符，替换路径分隔符；结果为空时使用 fallback。
func (as *AttachmentSecurity) SafeFilename(filename, fallback string) string {
	name := strings.ReplaceAll(filename, "\\", "/")
	name = filepath.Base(name)
	name = strings.Map(func(r rune) rune {
		switch {
		case unicode.IsControl(r):
			return -1
		case r == ':' || r == '*' || r == '?' || r == '"' || r == '<' || r == '>' || r == '|':
			return '_'
		}
		return r
	}, name)
	name = strings.TrimSpace(name)
	name = strings.TrimLeft(name, ".")

	if name == "" || name == "/" {
		name = fallback
	}

	if len(name) > as.maxFilenameLength {
		ext := filepath.Ext(name)
		if len(ext) > 16 {
			ext = ""
		}
		name = name[:as.maxFilenameLength-len(ext)] + ext
	}
	return name
}

// CheckContent 检查下载内容的文件头
func (as *AttachmentSecurity) CheckContent(header []byte) (bool, string) {
	return as.checkFileMagic(header)
}

// checkFileExtension 检查文件扩展名
func (as *AttachmentSecurity) checkFileExtension(filename string) (bool, string) {
	ext := strings.ToLower(filepath.Ext(filename))

	if as.dangerousExtensions[ext] {
		return true, "dangerous file extension: " + ext
	}

	return false, ""
}

// checkFileMagic 检查文件魔数
func (as *AttachmentSecurity) checkFileMagic(header []byte) (bool, string) {
	executableSignatures := [][]byte{
		{0x4D, 0x5A},             // PE executable
		{0x7F, 0x45, 0x4C, 0x46}, // ELF executable
		{0xFE, 0xED, 0xFA, 0xCE}, // Mach-O executable
		{0xCE, 0xFA, 0xED, 0xFE}, // Mach-O executable (reverse)
	}

	for _, sig := range executableSignatures {
		if bytes.HasPrefix(header, sig) {
			return true, "executable file detected"
		}
	}

	return false, ""
}
