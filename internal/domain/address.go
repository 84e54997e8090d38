package domain

import (
	"errors"
	"regexp"
	"strings"
)

// 地址相关的错误定义
var (
	ErrInvalidAddress   = errors.New("invalid email address")
	ErrEmailTooLong     = errors.New("email address too long")
	ErrLocalPartTooLong = errors.New("local part too long (max 64 chars)")
	ErrDomainTooLong    = errors.New("domain too long (max 253 chars)")
	ErrInvalidLocalPart = errors.New("invalid local part format")
	ErrInvalidDomain    = errors.New("invalid domain format")
	ErrDomainNotAllowed = errors.New("domain not offered by server")
)

// RFC 5322 邮箱地址长度限制
const (
	MaxEmailLength     = 254 // 整个邮箱地址最大长度
	MaxLocalPartLength = 64  // 本地部分最大长度(@前面)
	MaxDomainLength    = 253 // 域名最大长度
)

var (
	// 本地部分只允许字母、数字和 - _ .
	localPartRegex = regexp.MustCompile(`^[a-zA-Z0-9._-]+$`)

	// 不在允许集合内的字符，编辑时直接剔除
	localPartStrip = regexp.MustCompile(`[^a-zA-Z0-9._-]`)

	// 域名验证（支持子域名）
	domainRegex = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9-]{0,61}[a-zA-Z0-9]?(\.[a-zA-Z0-9][a-zA-Z0-9-]{0,61}[a-zA-Z0-9]?)*$`)
)

// EmailValidator 邮箱地址验证器
type EmailValidator struct{}

// NewEmailValidator 创建邮箱地址验证器
func NewEmailValidator() *EmailValidator {
	return &EmailValidator{}
}

// ValidateEmail 完整验证邮箱地址
//
// 参数:
//   - email: 待验证的地址，前后空白会被忽略
//
// 返回值:
//   - error: 地址不合法时返回对应的哨兵错误
func (v *EmailValidator) ValidateEmail(email string) error {
	email = strings.TrimSpace(email)

	if len(email) > MaxEmailLength {
		return ErrEmailTooLong
	}

	local, domain, err := SplitAddress(email)
	if err != nil {
		return err
	}

	if err := v.ValidateLocalPart(local); err != nil {
		return err
	}

	return v.ValidateDomain(domain)
}

// ValidateLocalPart 验证邮箱本地部分
func (v *EmailValidator) ValidateLocalPart(localPart string) error {
	if localPart == "" {
		return ErrInvalidLocalPart
	}
	if len(localPart) > MaxLocalPartLength {
		return ErrLocalPartTooLong
	}
	if !localPartRegex.MatchString(localPart) {
		return ErrInvalidLocalPart
	}
	return nil
}

// ValidateDomain 验证域名
func (v *EmailValidator) ValidateDomain(domain string) error {
	if domain == "" {
		return ErrInvalidDomain
	}

	if len(domain) > MaxDomainLength {
		return ErrDomainTooLong
	}

	if !domainRegex.MatchString(domain) {
		return ErrInvalidDomain
	}

	// 每个标签不超过63字符
	for _, label := range strings.Split(domain, ".") {
		if len(label) > 63 {
			return ErrInvalidDomain
		}
	}

	return nil
}

// SplitAddress 将地址拆分为本地部分和域名
func SplitAddress(address string) (local, domain string, err error) {
	at := strings.LastIndex(address, "@")
	if at <= 0 || at == len(address)-1 {
		return "", "", ErrInvalidAddress
	}
	if strings.Contains(address[:at], "@") {
		return "", "", ErrInvalidAddress
	}
	return address[:at], strings.ToLower(address[at+1:]), nil
}

// JoinAddress 拼接本地部分和域名
func JoinAddress(local, domain string) string {
	return local + "@" + domain
}

// DomainOf 返回地址的域名部分，地址不合法时返回空字符串
func DomainOf(address string) string {
	_, domain, err := SplitAddress(address)
	if err != nil {
		return ""
	}
	return domain
}

// SanitizeLocalPart 清理用户输入的本地部分
//
// 只保留字母、数字和 - _ . ，并截断到 64 个字符。
func SanitizeLocalPart(input string) string {
	cleaned := localPartStrip.ReplaceAllString(strings.TrimSpace(input), "")
	if len(cleaned) > MaxLocalPartLength {
		cleaned = cleaned[:MaxLocalPartLength]
	}
	return cleaned
}

// ContainsDomain 判断域名列表中是否包含指定域名（不区分大小写）
func ContainsDomain(domains []string, domain string) bool {
	for _, d := range domains {
		if strings.EqualFold(d, domain) {
			return true
		}
	}
	return false
}
