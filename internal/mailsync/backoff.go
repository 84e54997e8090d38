package mailsync

import "time"

// Backoff 指数退避策略：第 n 次连续失败后等待 Base * 2^(n-1)，不超过 Max
type Backoff struct {
	Base time.Duration
	Max  time.Duration
}

// DefaultBackoff 初始 1 秒，上限 30 秒
func DefaultBackoff() Backoff {
	return Backoff{Base: time.Second, Max: 30 * time.Second}
}

// Delay 返回第 failures 次连续失败后的等待时间，failures < 1 时返回 0
func (b Backoff) Delay(failures int) time.Duration {
	if failures < 1 {
		return 0
	}
	d := b.Base
	for i := 1; i < failures; i++ {
		d *= 2
		if d >= b.Max {
			return b.Max
		}
	}
	if d > b.Max {
		return b.Max
	}
	return d
}

// Clock 提供可替换的定时器，测试中用于记录等待时间而不真正等待
type Clock interface {
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) After(d time.Duration) <-chan time.Time {
	return time.After(d)
}
