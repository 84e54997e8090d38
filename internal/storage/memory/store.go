package memory

import (
	"sync"

	"tempmail/client/internal/domain"
)

// EnvelopeStore 在内存中保存当前邮箱的邮件摘要列表，按新到旧排列。
//
// 任何操作都不会引入重复 ID。
type EnvelopeStore struct {
	mu    sync.RWMutex
	items []domain.Envelope
	ids   map[int64]struct{}
}

// NewEnvelopeStore 创建一个空的邮件摘要存储
func NewEnvelopeStore() *EnvelopeStore {
	return &EnvelopeStore{ids: make(map[int64]struct{})}
}

// ReplaceAll 用新列表替换全部内容，列表内重复的 ID 只保留第一次出现
func (s *EnvelopeStore) ReplaceAll(list []domain.Envelope) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.items = make([]domain.Envelope, 0, len(list))
	s.ids = make(map[int64]struct{}, len(list))
	for _, e := range list {
		if _, ok := s.ids[e.ID]; ok {
			continue
		}
		s.ids[e.ID] = struct{}{}
		s.items = append(s.items, e)
	}
}

// Prepend 把新邮件插入到最前面
//
// 返回值:
//   - bool: ID 已存在时不做任何修改并返回 false
func (s *EnvelopeStore) Prepend(e domain.Envelope) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.ids[e.ID]; ok {
		return false
	}
	s.ids[e.ID] = struct{}{}
	s.items = append([]domain.Envelope{e}, s.items...)
	return true
}

// AppendAll 把更旧的一页邮件追加到末尾，已存在的 ID 被跳过
//
// 返回值:
//   - int: 实际追加的数量
func (s *EnvelopeStore) AppendAll(list []domain.Envelope) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	added := 0
	for _, e := range list {
		if _, ok := s.ids[e.ID]; ok {
			continue
		}
		s.ids[e.ID] = struct{}{}
		s.items = append(s.items, e)
		added++
	}
	return added
}

// Clear 清空存储
func (s *EnvelopeStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = nil
	s.ids = make(map[int64]struct{})
}

// List 返回当前列表的副本
func (s *EnvelopeStore) List() []domain.Envelope {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Envelope, len(s.items))
	copy(out, s.items)
	return out
}

// Len 返回邮件数量
func (s *EnvelopeStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// Has 判断 ID 是否已存在
func (s *EnvelopeStore) Has(id int64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.ids[id]
	return ok
}

// Get 按 ID 查找邮件
func (s *EnvelopeStore) Get(id int64) (domain.Envelope, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.ids[id]; !ok {
		return domain.Envelope{}, false
	}
	for _, e := range s.items {
		if e.ID == id {
			return e, true
		}
	}
	return domain.Envelope{}, false
}

// Newest 返回列表中最大的 ID，列表为空时 ok 为 false
func (s *EnvelopeStore) Newest() (id int64, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, e := range s.items {
		if !ok || e.ID > id {
			id, ok = e.ID, true
		}
	}
	return id, ok
}

// ClearAnimate 清除邮件的新到达标记，邮件不存在或已清除时返回 false
func (s *EnvelopeStore) ClearAnimate(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.items {
		if s.items[i].ID == id {
			if !s.items[i].Animate {
				return false
			}
			s.items[i].Animate = false
			return true
		}
	}
	return false
}
