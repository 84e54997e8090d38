package memory

import (
	"context"
	"sync"

	"tempmail/client/internal/storage"
)

// AddressHistory 在内存中保存最近使用的邮箱地址，进程退出后丢失。
type AddressHistory struct {
	mu      sync.Mutex
	max     int
	current string
	recent  []string
}

var _ storage.AddressHistory = (*AddressHistory)(nil)

// NewAddressHistory 创建内存地址历史，最多保留 max 个地址
func NewAddressHistory(max int) *AddressHistory {
	if max <= 0 {
		max = 20
	}
	return &AddressHistory{max: max}
}

func (h *AddressHistory) Remember(_ context.Context, address string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.current = address
	next := make([]string, 0, len(h.recent)+1)
	next = append(next, address)
	for _, a := range h.recent {
		if a != address {
			next = append(next, a)
		}
	}
	if len(next) > h.max {
		next = next[:h.max]
	}
	h.recent = next
	return nil
}

func (h *AddressHistory) Current(_ context.Context) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.current == "" {
		return "", storage.ErrNoCurrentAddress
	}
	return h.current, nil
}

func (h *AddressHistory) Recent(_ context.Context, limit int) ([]string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if limit <= 0 || limit > len(h.recent) {
		limit = len(h.recent)
	}
	out := make([]string, limit)
	copy(out, h.recent[:limit])
	return out, nil
}

func (h *AddressHistory) Forget(_ context.Context, address string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	next := h.recent[:0]
	for _, a := range h.recent {
		if a != address {
			next = append(next, a)
		}
	}
	h.recent = next
	if h.current == address {
		h.current = ""
	}
	return nil
}
