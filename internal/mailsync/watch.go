package mailsync

import (
	"context"
	"time"

	"go.uber.org/zap"

	"tempmail/client/internal/domain"
	"tempmail/client/internal/mailapi"
)

// loopState 长轮询循环的状态
type loopState int

const (
	stateIdle loopState = iota
	stateWaiting
	stateDelivered
	stateEmptyTimeout
	stateFailed
)

func (s loopState) String() string {
	switch s {
	case stateWaiting:
		return "waiting"
	case stateDelivered:
		return "delivered"
	case stateEmptyTimeout:
		return "empty_timeout"
	case stateFailed:
		return "failed"
	default:
		return "idle"
	}
}

// streak 一段连续失败内的提示状态，成功后整体重置
type streak struct {
	surfaced map[string]bool
	lost     bool
}

func (s *streak) reset() {
	s.surfaced = nil
	s.lost = false
}

// watch 长轮询循环：发起请求，等待结果，按结果计算延迟，延迟结束后再次请求。
// 只有 generation 被取消时退出。
func (c *Client) watch(gen *generation) {
	var st streak
	for {
		cursor, ok := c.beginWait(gen)
		if !ok {
			return
		}

		env, err := c.api.FetchLatest(gen.ctx, gen.address, cursor)

		delay, ok := c.settle(gen, env, err, &st)
		if !ok {
			return
		}
		if !c.sleep(gen.ctx, delay) {
			return
		}
	}
}

// beginWait 进入 Waiting 状态并返回当前游标
func (c *Client) beginWait(gen *generation) (int64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.alive(gen) {
		return 0, false
	}
	c.state = stateWaiting
	cursor := c.latestID
	if cursor < 0 {
		cursor = 0
	}
	return cursor, true
}

// settle 处理一次长轮询的结果，返回下一次请求前的等待时间
func (c *Client) settle(gen *generation, env *domain.Envelope, err error, st *streak) (time.Duration, bool) {
	if err != nil && mailapi.IsAborted(err) {
		return 0, false
	}

	c.mu.Lock()
	if !c.alive(gen) {
		c.mu.Unlock()
		return 0, false
	}

	switch {
	case err != nil:
		c.state = stateFailed
		c.failures++
		failures := c.failures
		delay := c.opts.Backoff.Delay(failures)
		c.mu.Unlock()

		c.recorder.ObservePoll(OutcomeFailed)
		c.recorder.SetFailureStreak(failures)
		c.log.Debug("long poll failed",
			zap.String("address", gen.address),
			zap.Int("failures", failures),
			zap.Duration("retry_in", delay),
			zap.Error(err),
		)
		c.surfaceFailure(gen, err, failures, st)
		return delay, true

	case env == nil:
		c.state = stateEmptyTimeout
		c.failures = 0
		c.mu.Unlock()

		st.reset()
		c.recorder.ObservePoll(OutcomeEmpty)
		c.recorder.SetFailureStreak(0)
		return c.opts.ResubmitDelay, true

	default:
		c.state = stateDelivered
		c.failures = 0
		// 不比游标新的邮件已经在列表中，或者早于列表中最新的邮件，都不再插入
		added := false
		delivered := *env
		if env.ID > c.latestID {
			c.latestID = env.ID
			delivered.Animate = true
			added = c.store.Prepend(delivered)
		}
		c.mu.Unlock()

		st.reset()
		c.recorder.SetFailureStreak(0)
		if !added {
			c.recorder.ObservePoll(OutcomeDuplicate)
			return c.opts.ResubmitDelay, true
		}

		c.recorder.ObservePoll(OutcomeDelivered)
		c.recorder.AddEnvelopes(1)
		c.notify(Notice{
			Kind:       NoticeNewMail,
			Level:      LevelInfo,
			Address:    gen.address,
			Generation: gen.id,
			Message:    "new mail from " + delivered.Sender(),
			Envelope:   &delivered,
		})
		return c.opts.ResubmitDelay, true
	}
}

// surfaceFailure 4xx 消息在一段连续失败内每种只提示一次；
// 连续失败达到阈值时提示一次连接断开。
func (c *Client) surfaceFailure(gen *generation, err error, failures int, st *streak) {
	if mailapi.KindOf(err) == mailapi.KindClient {
		msg := mailapi.MessageOf(err)
		if !st.surfaced[msg] {
			if st.surfaced == nil {
				st.surfaced = make(map[string]bool)
			}
			st.surfaced[msg] = true
			c.notify(Notice{
				Kind:       NoticeRequestFailed,
				Level:      LevelWarn,
				Address:    gen.address,
				Generation: gen.id,
				Message:    msg,
			})
		}
	}

	if failures >= c.opts.FailureThreshold && !st.lost {
		st.lost = true
		c.log.Warn("connection lost", zap.String("address", gen.address), zap.Int("failures", failures))
		c.notify(Notice{
			Kind:       NoticeConnectionLost,
			Level:      LevelError,
			Address:    gen.address,
			Generation: gen.id,
			Message:    "connection lost, retrying",
		})
	}
}

// sleep 等待 d，ctx 结束时返回 false
func (c *Client) sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	select {
	case <-ctx.Done():
		return false
	case <-c.opts.Clock.After(d):
		return ctx.Err() == nil
	}
}
