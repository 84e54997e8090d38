package domain

import (
	"math/rand/v2"
	"strings"
	"sync"
)

var firstNames = []string{
	"james", "mary", "john", "patricia", "robert", "jennifer", "michael", "linda",
	"william", "elizabeth", "david", "barbara", "richard", "susan", "joseph", "jessica",
	"thomas", "sarah", "charles", "karen", "daniel", "nancy", "matthew", "lisa",
	"anthony", "betty", "mark", "sandra", "donald", "ashley", "steven", "emily",
	"andrew", "donna", "joshua", "michelle", "kevin", "carol", "brian", "amanda",
	"george", "melissa", "timothy", "deborah", "ronald", "stephanie", "jason", "rebecca",
}

var lastNames = []string{
	"smith", "johnson", "williams", "brown", "jones", "garcia", "miller", "davis",
	"rodriguez", "martinez", "hernandez", "lopez", "gonzalez", "wilson", "anderson", "thomas",
	"taylor", "moore", "jackson", "martin", "lee", "perez", "thompson", "white",
	"harris", "sanchez", "clark", "ramirez", "lewis", "robinson", "walker", "young",
	"allen", "king", "wright", "scott", "torres", "nguyen", "hill", "flores",
	"green", "adams", "nelson", "baker", "hall", "rivera", "campbell", "mitchell",
}

// AddressGenerator 随机邮箱地址生成器
//
// 生成格式: 名 + 姓 + 1~4 位数字 @ 域名，名和姓只包含小写字母。
type AddressGenerator struct {
	mu  sync.Mutex
	rnd *rand.Rand
}

// NewAddressGenerator 创建随机地址生成器，src 为 nil 时使用随机种子
func NewAddressGenerator(src rand.Source) *AddressGenerator {
	if src == nil {
		src = rand.NewPCG(rand.Uint64(), rand.Uint64())
	}
	return &AddressGenerator{rnd: rand.New(src)}
}

// Address 在指定域名下生成一个随机地址
func (g *AddressGenerator) Address(domain string) string {
	g.mu.Lock()
	defer g.mu.Unlock()

	var b strings.Builder
	b.WriteString(firstNames[g.rnd.IntN(len(firstNames))])
	b.WriteString(lastNames[g.rnd.IntN(len(lastNames))])
	digits := g.rnd.IntN(4) + 1
	for i := 0; i < digits; i++ {
		b.WriteByte(byte('0' + g.rnd.IntN(10)))
	}
	return JoinAddress(b.String(), domain)
}

// PickDomain 从列表中随机选择一个域名，列表为空时返回空字符串
func (g *AddressGenerator) PickDomain(domains []string) string {
	if len(domains) == 0 {
		return ""
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return domains[g.rnd.IntN(len(domains))]
}
