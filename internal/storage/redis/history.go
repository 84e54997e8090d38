package redis

import (
	"context"
	"errors"
	"fmt"

	goredis "github.com/redis/go-redis/v9"

	"tempmail/client/internal/storage"
)

const (
	currentKey = "tmail:address:current"
	recentKey  = "tmail:address:recent"
)

// AddressHistory 使用 Redis 保存地址历史，可在多次运行之间恢复上次的地址。
//
// 最近地址保存在列表中（LPUSH + LTRIM），当前地址保存在独立的字符串键中。
type AddressHistory struct {
	rdb *goredis.Client
	max int64
}

var _ storage.AddressHistory = (*AddressHistory)(nil)

// NewAddressHistory 创建基于 Redis 的地址历史
func NewAddressHistory(c *Client, max int) *AddressHistory {
	if max <= 0 {
		max = 20
	}
	return &AddressHistory{rdb: c.Client(), max: int64(max)}
}

func (h *AddressHistory) Remember(ctx context.Context, address string) error {
	_, err := h.rdb.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Set(ctx, currentKey, address, 0)
		pipe.LRem(ctx, recentKey, 0, address)
		pipe.LPush(ctx, recentKey, address)
		pipe.LTrim(ctx, recentKey, 0, h.max-1)
		return nil
	})
	if err != nil {
		return fmt.Errorf("remember address: %w", err)
	}
	return nil
}

func (h *AddressHistory) Current(ctx context.Context) (string, error) {
	address, err := h.rdb.Get(ctx, currentKey).Result()
	if errors.Is(err, goredis.Nil) || (err == nil && address == "") {
		return "", storage.ErrNoCurrentAddress
	}
	if err != nil {
		return "", fmt.Errorf("get current address: %w", err)
	}
	return address, nil
}

func (h *AddressHistory) Recent(ctx context.Context, limit int) ([]string, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit) - 1
	}
	list, err := h.rdb.LRange(ctx, recentKey, 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("list recent addresses: %w", err)
	}
	return list, nil
}

func (h *AddressHistory) Forget(ctx context.Context, address string) error {
	if err := h.rdb.LRem(ctx, recentKey, 0, address).Err(); err != nil {
		return fmt.Errorf("forget address: %w", err)
	}

	current, err := h.rdb.Get(ctx, currentKey).Result()
	if err != nil && !errors.Is(err, goredis.Nil) {
		return fmt.Errorf("forget address: %w", err)
	}
	if current == address {
		return h.rdb.Del(ctx, currentKey).Err()
	}
	return nil
}
