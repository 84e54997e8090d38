package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"tempmail/client/internal/domain"
	"tempmail/client/internal/storage"
)

var (
	// ErrNoDomains 服务端没有提供任何域名
	ErrNoDomains = errors.New("no domains available")
	// ErrNoAddress 还没有当前地址
	ErrNoAddress = errors.New("no current address")
)

// DomainSource 提供服务端可用的域名列表
type DomainSource interface {
	Domains(ctx context.Context) ([]string, error)
}

// Listener 地址变化回调，在 Update 返回前同步调用
type Listener = func(address string)

// Manager 管理当前邮箱地址
//
// 地址只会因为显式操作（随机生成或手动编辑）而改变。每次变化都会按注册顺序
// 同步通知所有订阅者，订阅者收到通知时旧地址相关的状态必须已经作废。
type Manager struct {
	domains   DomainSource
	history   storage.AddressHistory
	generator *domain.AddressGenerator
	validator *domain.EmailValidator
	log       *zap.Logger

	// updateMu 保证"设置地址 + 通知订阅者"整体串行
	updateMu sync.Mutex

	mu          sync.RWMutex
	current     string
	domainList  []string
	listeners   map[int]Listener
	nextID      int
	listenOrder []int
}

// NewManager 创建地址会话管理器
//
// 参数:
//   - domains: 域名列表来源，通常是上游 API 客户端
//   - history: 地址历史存储，为 nil 时不保存历史
//   - log: 日志记录器
func NewManager(domains DomainSource, history storage.AddressHistory, log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{
		domains:   domains,
		history:   history,
		generator: domain.NewAddressGenerator(nil),
		validator: domain.NewEmailValidator(),
		log:       log.Named("session"),
		listeners: make(map[int]Listener),
	}
}

// SetGenerator 替换随机地址生成器，测试中用于固定随机种子
func (m *Manager) SetGenerator(g *domain.AddressGenerator) {
	m.generator = g
}

// Current 返回当前地址，尚未确定时返回空字符串
func (m *Manager) Current() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Domains 返回最近一次获取的域名列表副本
func (m *Manager) Domains() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, len(m.domainList))
	copy(out, m.domainList)
	return out
}

// Subscribe 注册地址变化回调，返回取消订阅函数
func (m *Manager) Subscribe(fn Listener) func() {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.listeners[id] = fn
	m.listenOrder = append(m.listenOrder, id)
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			delete(m.listeners, id)
			for i, v := range m.listenOrder {
				if v == id {
					m.listenOrder = append(m.listenOrder[:i], m.listenOrder[i+1:]...)
					break
				}
			}
		})
	}
}

// Init 获取域名列表并确定初始地址
//
// 地址的选择顺序：
//  1. preferred 不为空时使用 preferred
//  2. 历史中保存的当前地址，且其域名仍在列表中
//  3. 在第一个域名下随机生成
//
// 返回值:
//   - string: 确定的初始地址
//   - error: 域名列表获取失败或为空时返回错误
func (m *Manager) Init(ctx context.Context, preferred string) (string, error) {
	domains, err := m.RefreshDomains(ctx)
	if err != nil {
		return "", err
	}
	if len(domains) == 0 {
		return "", ErrNoDomains
	}

	if preferred != "" {
		if _, err := m.Update(ctx, preferred); err != nil {
			return "", err
		}
		return m.Current(), nil
	}

	if m.history != nil {
		saved, err := m.history.Current(ctx)
		switch {
		case err == nil && domain.ContainsDomain(domains, domain.DomainOf(saved)):
			if _, err := m.Update(ctx, saved); err == nil {
				return saved, nil
			}
		case err != nil && !errors.Is(err, storage.ErrNoCurrentAddress):
			m.log.Warn("failed to restore address", zap.Error(err))
		}
	}

	addr := m.generator.Address(domains[0])
	if _, err := m.Update(ctx, addr); err != nil {
		return "", err
	}
	return addr, nil
}

// RefreshDomains 重新获取域名列表
func (m *Manager) RefreshDomains(ctx context.Context) ([]string, error) {
	domains, err := m.domains.Domains(ctx)
	if err != nil {
		return nil, fmt.Errorf("load domains: %w", err)
	}
	m.mu.Lock()
	m.domainList = append([]string(nil), domains...)
	m.mu.Unlock()
	return domains, nil
}

// Update 切换到新地址
//
// 参数:
//   - address: 新地址，本地部分会先经过清理
//
// 返回值:
//   - bool: 地址是否发生变化，与当前地址相同时返回 false 且不通知订阅者
//   - error: 地址不合法或域名不在服务端列表中时返回错误
func (m *Manager) Update(ctx context.Context, address string) (bool, error) {
	local, dom, err := domain.SplitAddress(address)
	if err != nil {
		return false, err
	}
	local = domain.SanitizeLocalPart(local)
	if local == "" {
		return false, domain.ErrInvalidLocalPart
	}
	address = domain.JoinAddress(local, dom)
	if err := m.validator.ValidateEmail(address); err != nil {
		return false, err
	}

	m.updateMu.Lock()
	defer m.updateMu.Unlock()

	m.mu.Lock()
	if len(m.domainList) > 0 && !domain.ContainsDomain(m.domainList, dom) {
		m.mu.Unlock()
		return false, fmt.Errorf("%w: %s", domain.ErrDomainNotAllowed, dom)
	}
	if m.current == address {
		m.mu.Unlock()
		return false, nil
	}
	m.current = address
	listeners := make([]Listener, 0, len(m.listenOrder))
	for _, id := range m.listenOrder {
		listeners = append(listeners, m.listeners[id])
	}
	m.mu.Unlock()

	m.log.Info("address changed", zap.String("address", address))

	// 先让订阅者作废旧地址的状态，再保存历史（Redis 时有网络往返）
	for _, fn := range listeners {
		fn(address)
	}

	if m.history != nil {
		if err := m.history.Remember(ctx, address); err != nil {
			m.log.Warn("failed to remember address", zap.String("address", address), zap.Error(err))
		}
	}
	return true, nil
}

// UpdateLocal 只修改本地部分，保留当前域名
func (m *Manager) UpdateLocal(ctx context.Context, local string) (bool, error) {
	dom := domain.DomainOf(m.Current())
	if dom == "" {
		return false, ErrNoAddress
	}
	return m.Update(ctx, domain.JoinAddress(local, dom))
}

// Randomize 在当前域名（没有时使用第一个域名）下生成新的随机地址
func (m *Manager) Randomize(ctx context.Context) (string, error) {
	dom := domain.DomainOf(m.Current())
	if dom == "" {
		domains := m.Domains()
		if len(domains) == 0 {
			return "", ErrNoDomains
		}
		dom = domains[0]
	}
	addr := m.generator.Address(dom)
	if _, err := m.Update(ctx, addr); err != nil {
		return "", err
	}
	return addr, nil
}

// RandomizeAll 随机选择一个域名并生成随机地址
func (m *Manager) RandomizeAll(ctx context.Context) (string, error) {
	dom := m.generator.PickDomain(m.Domains())
	if dom == "" {
		return "", ErrNoDomains
	}
	addr := m.generator.Address(dom)
	if _, err := m.Update(ctx, addr); err != nil {
		return "", err
	}
	return addr, nil
}

// History 返回最近使用过的地址
func (m *Manager) History(ctx context.Context, limit int) ([]string, error) {
	if m.history == nil {
		return []string{}, nil
	}
	return m.history.Recent(ctx, limit)
}

// Forget 从历史中删除一个地址，不影响当前地址
func (m *Manager) Forget(ctx context.Context, address string) error {
	if m.history == nil {
		return nil
	}
	return m.history.Forget(ctx, address)
}
