package storage

import (
	"context"
	"errors"
)

var (
	// ErrNoCurrentAddress 尚未保存过当前地址
	ErrNoCurrentAddress = errors.New("no current address remembered")
)

// AddressHistory 定义邮箱地址历史的存取操作。
//
// 实现需要保证 Recent 按最近使用顺序返回且不含重复地址。
type AddressHistory interface {
	// Remember 记录地址为当前地址，并移到历史最前面
	Remember(ctx context.Context, address string) error
	// Current 返回最后一次记录的地址，不存在时返回 ErrNoCurrentAddress
	Current(ctx context.Context) (string, error)
	// Recent 返回最近使用的地址，最多 limit 个
	Recent(ctx context.Context, limit int) ([]string, error)
	// Forget 从历史中移除地址
	Forget(ctx context.Context, address string) error
}
