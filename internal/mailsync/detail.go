package mailsync

import (
	"context"

	"tempmail/client/internal/domain"
)

// Select 选择一封邮件并加载详情
//
// 每次选择使用独立的 context，重新选择、取消选择或地址变化都会取消上一次的请求。
// 详情只保存在当前选择上，不跨选择缓存。
//
// 返回值:
//   - *domain.Detail: 邮件正文和附件
//   - error: 没有地址、邮件不在列表中、选择已改变或请求失败时返回错误
func (c *Client) Select(ctx context.Context, id int64) (*domain.Detail, error) {
	c.mu.Lock()
	gen := c.gen
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	if gen == nil {
		c.mu.Unlock()
		return nil, ErrNoAddress
	}
	if !c.store.Has(id) {
		c.mu.Unlock()
		return nil, ErrUnknownEnvelope
	}
	if c.sel != nil {
		c.sel.cancel()
	}
	selCtx, cancel := context.WithCancel(gen.ctx)
	sel := &selection{id: id, cancel: cancel}
	c.sel = sel
	c.mu.Unlock()

	reqCtx, stop := mergeContext(selCtx, ctx)
	detail, err := c.api.FetchDetail(reqCtx, id)
	stop()

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.alive(gen) || c.sel != sel {
		return nil, ErrSelectionChanged
	}
	if err != nil {
		return nil, err
	}
	sel.detail = detail
	return detail, nil
}

// Selected 返回当前选择的邮件和已加载的详情
func (c *Client) Selected() (domain.Envelope, *domain.Detail, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sel == nil {
		return domain.Envelope{}, nil, false
	}
	env, ok := c.store.Get(c.sel.id)
	if !ok {
		return domain.Envelope{}, nil, false
	}
	return env, c.sel.detail, true
}

// Deselect 取消当前选择，丢弃已加载的详情
func (c *Client) Deselect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sel != nil {
		c.sel.cancel()
		c.sel = nil
	}
}

// MarkRendered 邮件第一次展示后清除新到达标记
func (c *Client) MarkRendered(id int64) bool {
	return c.store.ClearAnimate(id)
}
