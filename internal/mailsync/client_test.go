package mailsync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tempmail/client/internal/domain"
	"tempmail/client/internal/mailapi"
	"tempmail/client/internal/storage/memory"
)

const (
	waitFor = 2 * time.Second
	tick    = 2 * time.Millisecond
)

type fetchCall struct {
	to     string
	limit  int
	offset int
}

// fakeAPI 可编排的上游接口，未设置的长轮询一直挂起直到被取消
type fakeAPI struct {
	mu          sync.Mutex
	fetch       func(ctx context.Context, to string, limit, offset int) ([]domain.Envelope, error)
	latest      func(ctx context.Context, to string, id int64) (*domain.Envelope, error)
	detail      func(ctx context.Context, id int64) (*domain.Detail, error)
	fetchCalls  []fetchCall
	latestCalls []int64
}

func (f *fakeAPI) Fetch(ctx context.Context, to string, limit, offset int) ([]domain.Envelope, error) {
	f.mu.Lock()
	f.fetchCalls = append(f.fetchCalls, fetchCall{to, limit, offset})
	fn := f.fetch
	f.mu.Unlock()
	if fn == nil {
		return []domain.Envelope{}, nil
	}
	return fn(ctx, to, limit, offset)
}

func (f *fakeAPI) FetchLatest(ctx context.Context, to string, id int64) (*domain.Envelope, error) {
	f.mu.Lock()
	f.latestCalls = append(f.latestCalls, id)
	fn := f.latest
	f.mu.Unlock()
	if fn == nil {
		return blockUntilCancelled(ctx)
	}
	return fn(ctx, to, id)
}

func (f *fakeAPI) FetchDetail(ctx context.Context, id int64) (*domain.Detail, error) {
	f.mu.Lock()
	fn := f.detail
	f.mu.Unlock()
	if fn == nil {
		return &domain.Detail{Content: fmt.Sprintf("body %d", id), Attachments: []domain.Attachment{}}, nil
	}
	return fn(ctx, id)
}

func (f *fakeAPI) fetchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.fetchCalls)
}

func (f *fakeAPI) latestIDs() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int64(nil), f.latestCalls...)
}

func blockUntilCancelled(ctx context.Context) (*domain.Envelope, error) {
	<-ctx.Done()
	return nil, &mailapi.Error{Kind: mailapi.KindAborted, Op: "fetch_latest", Err: ctx.Err()}
}

type step struct {
	env *domain.Envelope
	err error
}

func empty() step { return step{} }

func delivered(id int64) step {
	return step{env: &domain.Envelope{ID: id, From: fmt.Sprintf("\"Sender %d\" <s%d@x.io>", id, id)}}
}

func deliveredAs(id int64, subject string) step {
	return step{env: &domain.Envelope{ID: id, From: "x@x.io", Subject: subject}}
}

func failed() step {
	return step{err: &mailapi.Error{Kind: mailapi.KindServer, Status: 502, Message: "Bad Gateway"}}
}

func rejected(msg string) step {
	return step{err: &mailapi.Error{Kind: mailapi.KindClient, Status: 400, Message: msg}}
}

func networkDown() step {
	return step{err: &mailapi.Error{Kind: mailapi.KindNetwork, Err: errors.New("connection refused")}}
}

// script 依次返回编排的结果，用完后挂起直到被取消
func script(steps ...step) func(ctx context.Context, to string, id int64) (*domain.Envelope, error) {
	var mu sync.Mutex
	i := 0
	return func(ctx context.Context, _ string, _ int64) (*domain.Envelope, error) {
		mu.Lock()
		if i >= len(steps) {
			mu.Unlock()
			return blockUntilCancelled(ctx)
		}
		s := steps[i]
		i++
		mu.Unlock()
		if s.env != nil {
			e := *s.env
			return &e, nil
		}
		return nil, s.err
	}
}

// recordingClock 记录等待时间并立即触发
type recordingClock struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (c *recordingClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	c.delays = append(c.delays, d)
	c.mu.Unlock()
	ch := make(chan time.Time, 1)
	ch <- time.Now()
	return ch
}

func (c *recordingClock) recorded() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.delays...)
}

// noticeLog 收集通知
type noticeLog struct {
	mu      sync.Mutex
	notices []Notice
}

func (l *noticeLog) Notify(n Notice) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.notices = append(l.notices, n)
}

func (l *noticeLog) ofKind(kind NoticeKind) []Notice {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []Notice
	for _, n := range l.notices {
		if n.Kind == kind {
			out = append(out, n)
		}
	}
	return out
}

func newTestClient(t *testing.T, api *fakeAPI, opts Options) (*Client, *noticeLog, *recordingClock) {
	t.Helper()
	notices := &noticeLog{}
	clock := &recordingClock{}
	if opts.Clock == nil {
		opts.Clock = clock
	}
	c := New(api, memory.NewEnvelopeStore(), notices, nil, opts)
	t.Cleanup(c.Close)
	return c, notices, clock
}

func envelopes(ids ...int64) []domain.Envelope {
	out := make([]domain.Envelope, len(ids))
	for i, id := range ids {
		out[i] = domain.Envelope{ID: id, From: "a@x.io", Subject: fmt.Sprintf("mail %d", id)}
	}
	return out
}

func storeIDs(c *Client) []int64 {
	list := c.Store().List()
	out := make([]int64, len(list))
	for i, e := range list {
		out[i] = e.ID
	}
	return out
}

func waitLatestCalls(t *testing.T, api *fakeAPI, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return len(api.latestIDs()) >= n }, waitFor, tick)
}

func TestBackoff_Delay(t *testing.T) {
	b := DefaultBackoff()
	tests := []struct {
		failures int
		expected time.Duration
	}{
		{0, 0},
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{5, 16 * time.Second},
		{6, 30 * time.Second},
		{7, 30 * time.Second},
		{100, 30 * time.Second},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("失败%d次", tt.failures), func(t *testing.T) {
			assert.Equal(t, tt.expected, b.Delay(tt.failures))
		})
	}
}

func TestClient_FirstPage(t *testing.T) {
	t.Run("不足一页时没有更多", func(t *testing.T) {
		api := &fakeAPI{fetch: func(context.Context, string, int, int) ([]domain.Envelope, error) {
			return envelopes(3, 2, 1), nil
		}}
		c, _, _ := newTestClient(t, api, Options{PageSize: 50})

		c.SetAddress("me@x.io")
		waitLatestCalls(t, api, 1)

		snap := c.Snapshot()
		assert.Equal(t, []int64{3, 2, 1}, storeIDs(c))
		assert.False(t, snap.HasMore)
		assert.Equal(t, 3, snap.Offset)
		assert.Equal(t, int64(3), snap.LatestID)
		assert.Equal(t, []int64{3}, api.latestIDs())

		n, err := c.LoadNextPage(context.Background())
		assert.NoError(t, err)
		assert.Equal(t, 0, n)
		assert.Equal(t, 1, api.fetchCount())
		assert.Equal(t, fetchCall{"me@x.io", 50, 0}, api.fetchCalls[0])
	})

	t.Run("空邮箱游标为0", func(t *testing.T) {
		api := &fakeAPI{}
		c, _, _ := newTestClient(t, api, Options{PageSize: 50})

		c.SetAddress("me@x.io")
		waitLatestCalls(t, api, 1)

		assert.Equal(t, int64(0), c.Snapshot().LatestID)
		assert.Equal(t, []int64{0}, api.latestIDs())
	})

	t.Run("第一页失败时提示并继续长轮询", func(t *testing.T) {
		api := &fakeAPI{fetch: func(context.Context, string, int, int) ([]domain.Envelope, error) {
			return nil, &mailapi.Error{Kind: mailapi.KindClient, Status: 400, Message: "invalid address"}
		}}
		c, notices, _ := newTestClient(t, api, Options{PageSize: 50})

		c.SetAddress("me@x.io")
		waitLatestCalls(t, api, 1)

		assert.Empty(t, storeIDs(c))
		failedNotices := notices.ofKind(NoticeRequestFailed)
		require.Len(t, failedNotices, 1)
		assert.Equal(t, "invalid address", failedNotices[0].Message)
		assert.Equal(t, []int64{0}, api.latestIDs())
	})
}

func TestClient_Pagination(t *testing.T) {
	pages := map[int][]domain.Envelope{
		0: envelopes(6, 5),
		2: envelopes(4, 3),
		4: envelopes(2),
	}
	api := &fakeAPI{fetch: func(_ context.Context, _ string, _ int, offset int) ([]domain.Envelope, error) {
		return pages[offset], nil
	}}
	c, _, _ := newTestClient(t, api, Options{PageSize: 2})

	c.SetAddress("me@x.io")
	waitLatestCalls(t, api, 1)
	assert.True(t, c.Snapshot().HasMore)

	n, err := c.LoadNextPage(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.True(t, c.Snapshot().HasMore)

	n, err = c.LoadNextPage(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	snap := c.Snapshot()
	assert.False(t, snap.HasMore)
	assert.Equal(t, 5, snap.Offset)
	assert.Equal(t, []int64{6, 5, 4, 3, 2}, storeIDs(c))

	// hasMore 为 false 后不再请求
	n, err = c.LoadNextPage(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, 3, api.fetchCount())
}

func TestClient_PaginationSerialized(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	api := &fakeAPI{fetch: func(_ context.Context, _ string, _ int, offset int) ([]domain.Envelope, error) {
		if offset == 0 {
			return envelopes(4, 3), nil
		}
		started <- struct{}{}
		<-release
		return envelopes(2, 1), nil
	}}
	c, _, _ := newTestClient(t, api, Options{PageSize: 2})

	c.SetAddress("me@x.io")
	waitLatestCalls(t, api, 1)

	done := make(chan int, 1)
	go func() {
		n, _ := c.LoadNextPage(context.Background())
		done <- n
	}()
	<-started

	// 已有分页请求在进行，第二次调用直接返回
	n, err := c.LoadNextPage(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.True(t, c.Snapshot().Loading)

	close(release)
	assert.Equal(t, 2, <-done)
	assert.Equal(t, 2, api.fetchCount())
	assert.Equal(t, []int64{4, 3, 2, 1}, storeIDs(c))
}

func TestClient_PaginationAfterFailedFirstPage(t *testing.T) {
	var pageFailed sync.Once
	release := make(chan struct{})
	api := &fakeAPI{
		fetch: func(context.Context, string, int, int) ([]domain.Envelope, error) {
			var err error
			pageFailed.Do(func() {
				err = &mailapi.Error{Kind: mailapi.KindServer, Status: 500, Message: "Internal Server Error"}
			})
			if err != nil {
				return nil, err
			}
			return envelopes(10, 9), nil
		},
		// 第一次长轮询等到分页完成后才返回，之后的请求挂起
		latest: func(ctx context.Context, _ string, id int64) (*domain.Envelope, error) {
			if id != 0 {
				return blockUntilCancelled(ctx)
			}
			select {
			case <-release:
				return nil, nil
			case <-ctx.Done():
				return blockUntilCancelled(ctx)
			}
		},
	}
	c, notices, _ := newTestClient(t, api, Options{PageSize: 50})

	c.SetAddress("me@x.io")
	waitLatestCalls(t, api, 1)
	assert.Equal(t, int64(0), c.Snapshot().LatestID)
	assert.Len(t, notices.ofKind(NoticeRequestFailed), 1)

	n, err := c.LoadNextPage(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []int64{10, 9}, storeIDs(c))
	assert.Equal(t, int64(10), c.Snapshot().LatestID)

	close(release)
	waitLatestCalls(t, api, 2)
	assert.Equal(t, []int64{0, 10}, api.latestIDs())
	assert.Empty(t, notices.ofKind(NoticeNewMail))
}

func TestClient_StaleDeliveryIgnored(t *testing.T) {
	api := &fakeAPI{
		fetch: func(context.Context, string, int, int) ([]domain.Envelope, error) {
			return envelopes(10, 9), nil
		},
		latest: script(delivered(3)),
	}
	c, notices, _ := newTestClient(t, api, Options{PageSize: 50})

	c.SetAddress("me@x.io")
	waitLatestCalls(t, api, 2)

	assert.Equal(t, []int64{10, 9}, storeIDs(c))
	assert.Equal(t, []int64{10, 10}, api.latestIDs())
	assert.Equal(t, int64(10), c.Snapshot().LatestID)
	assert.Empty(t, notices.ofKind(NoticeNewMail))
}

func TestClient_PaginationFailure(t *testing.T) {
	api := &fakeAPI{fetch: func(_ context.Context, _ string, _ int, offset int) ([]domain.Envelope, error) {
		if offset == 0 {
			return envelopes(2, 1), nil
		}
		return nil, &mailapi.Error{Kind: mailapi.KindServer, Status: 500, Message: "database error"}
	}}
	c, notices, _ := newTestClient(t, api, Options{PageSize: 2})

	c.SetAddress("me@x.io")
	waitLatestCalls(t, api, 1)

	_, err := c.LoadNextPage(context.Background())
	require.Error(t, err)
	assert.Equal(t, mailapi.KindServer, mailapi.KindOf(err))

	snap := c.Snapshot()
	assert.False(t, snap.Loading)
	assert.True(t, snap.HasMore)
	assert.Equal(t, 2, snap.Offset)
	require.Len(t, notices.ofKind(NoticeRequestFailed), 1)
}

func TestClient_StaleGenerationDiscarded(t *testing.T) {
	t.Run("旧地址的第一页晚到", func(t *testing.T) {
		release := make(chan struct{})
		aStarted := make(chan struct{})
		api := &fakeAPI{fetch: func(_ context.Context, to string, _ int, _ int) ([]domain.Envelope, error) {
			if to == "a@x.io" {
				close(aStarted)
				<-release // 忽略取消，模拟响应晚到
				return envelopes(99), nil
			}
			return envelopes(1), nil
		}}
		c, _, _ := newTestClient(t, api, Options{PageSize: 50})

		c.SetAddress("a@x.io")
		<-aStarted
		c.SetAddress("b@x.io")
		require.Eventually(t, func() bool { return c.Store().Has(1) }, waitFor, tick)

		close(release)
		require.Never(t, func() bool { return c.Store().Has(99) }, 100*time.Millisecond, tick)
		assert.Equal(t, "b@x.io", c.Snapshot().Address)
		assert.Equal(t, int64(1), c.Snapshot().LatestID)
	})

	t.Run("旧地址的长轮询晚到", func(t *testing.T) {
		release := make(chan struct{})
		aWaiting := make(chan struct{})
		api := &fakeAPI{latest: func(ctx context.Context, to string, _ int64) (*domain.Envelope, error) {
			if to == "a@x.io" {
				close(aWaiting)
				<-release
				return &domain.Envelope{ID: 77}, nil
			}
			return blockUntilCancelled(ctx)
		}}
		c, notices, _ := newTestClient(t, api, Options{PageSize: 50})

		c.SetAddress("a@x.io")
		<-aWaiting
		c.SetAddress("b@x.io")
		close(release)

		require.Never(t, func() bool { return c.Store().Has(77) }, 100*time.Millisecond, tick)
		assert.Empty(t, notices.ofKind(NoticeNewMail))
	})
}

func TestClient_ScriptedLiveLoop(t *testing.T) {
	steps := []step{empty(), empty(), delivered(5), delivered(5), failed(), failed(), delivered(6)}
	api := &fakeAPI{latest: script(steps...)}
	c, notices, clock := newTestClient(t, api, Options{PageSize: 50})

	c.SetAddress("me@x.io")
	waitLatestCalls(t, api, len(steps)+1)

	assert.Equal(t, []int64{6, 5}, storeIDs(c))
	assert.Equal(t, []int64{0, 0, 0, 5, 5, 5, 5, 6}, api.latestIDs())

	delays := clock.recorded()
	require.Len(t, delays, 2)
	assert.Less(t, delays[0], delays[1])
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, delays)

	newMail := notices.ofKind(NoticeNewMail)
	require.Len(t, newMail, 2)
	assert.Equal(t, int64(5), newMail[0].Envelope.ID)
	assert.Equal(t, "new mail from Sender 5", newMail[0].Message)
	assert.Equal(t, int64(6), newMail[1].Envelope.ID)
	assert.Empty(t, notices.ofKind(NoticeConnectionLost))
	assert.Empty(t, notices.ofKind(NoticeRequestFailed))

	for _, e := range c.Store().List() {
		assert.True(t, e.Animate)
	}
	assert.Equal(t, "waiting", c.Snapshot().State)
	assert.Equal(t, 0, c.Snapshot().Failures)
}

func TestClient_ResubmitDelay(t *testing.T) {
	api := &fakeAPI{latest: script(empty(), delivered(1))}
	c, _, clock := newTestClient(t, api, Options{PageSize: 50, ResubmitDelay: 250 * time.Millisecond})

	c.SetAddress("me@x.io")
	waitLatestCalls(t, api, 3)

	assert.Equal(t, []time.Duration{250 * time.Millisecond, 250 * time.Millisecond}, clock.recorded())
}

func TestClient_ConnectionLostOncePerStreak(t *testing.T) {
	steps := []step{
		failed(), failed(), empty(), // 2 次，不提示
		failed(), networkDown(), failed(), failed(), empty(), // 4 次，提示一次
		networkDown(), failed(), failed(), // 3 次，提示一次
	}
	api := &fakeAPI{latest: script(steps...)}
	c, notices, clock := newTestClient(t, api, Options{PageSize: 50})

	c.SetAddress("me@x.io")
	waitLatestCalls(t, api, len(steps)+1)

	lost := notices.ofKind(NoticeConnectionLost)
	assert.Len(t, lost, 2)
	assert.Empty(t, notices.ofKind(NoticeRequestFailed))

	s := time.Second
	assert.Equal(t, []time.Duration{s, 2 * s, s, 2 * s, 4 * s, 8 * s, s, 2 * s, 4 * s}, clock.recorded())
	assert.Equal(t, 3, c.Snapshot().Failures)
	assert.Equal(t, "waiting", c.Snapshot().State)
}

func TestClient_ClientErrorsSurfacedOncePerStreak(t *testing.T) {
	steps := []step{
		rejected("bad address"), rejected("bad address"), rejected("mailbox locked"),
		empty(),
		rejected("bad address"),
	}
	api := &fakeAPI{latest: script(steps...)}
	c, notices, _ := newTestClient(t, api, Options{PageSize: 50})

	c.SetAddress("me@x.io")
	waitLatestCalls(t, api, len(steps)+1)

	var messages []string
	for _, n := range notices.ofKind(NoticeRequestFailed) {
		messages = append(messages, n.Message)
	}
	assert.Equal(t, []string{"bad address", "mailbox locked", "bad address"}, messages)
	assert.Len(t, notices.ofKind(NoticeConnectionLost), 1)
}

func TestClient_DedupByIDOnly(t *testing.T) {
	api := &fakeAPI{latest: script(deliveredAs(5, "first"), deliveredAs(5, "second"))}
	c, notices, _ := newTestClient(t, api, Options{PageSize: 50})

	c.SetAddress("me@x.io")
	waitLatestCalls(t, api, 3)

	env, ok := c.Store().Get(5)
	require.True(t, ok)
	assert.Equal(t, "first", env.Subject)
	assert.Equal(t, 1, c.Store().Len())
	assert.Len(t, notices.ofKind(NoticeNewMail), 1)
}

func TestClient_SetAddressResetsState(t *testing.T) {
	api := &fakeAPI{
		fetch: func(_ context.Context, to string, _ int, _ int) ([]domain.Envelope, error) {
			if to == "a@x.io" {
				return envelopes(3, 2, 1), nil
			}
			return nil, nil
		},
	}
	c, notices, _ := newTestClient(t, api, Options{PageSize: 3})

	c.SetAddress("a@x.io")
	waitLatestCalls(t, api, 1)
	_, err := c.Select(context.Background(), 2)
	require.NoError(t, err)

	before := c.Snapshot()
	assert.Equal(t, int64(2), before.Selected)

	api.mu.Lock()
	api.fetch = func(ctx context.Context, _ string, _ int, _ int) ([]domain.Envelope, error) {
		<-ctx.Done() // 保持第一页加载中，观察重置后的状态
		return nil, &mailapi.Error{Kind: mailapi.KindAborted, Err: ctx.Err()}
	}
	api.mu.Unlock()

	c.SetAddress("b@x.io")
	snap := c.Snapshot()
	assert.Equal(t, "b@x.io", snap.Address)
	assert.Equal(t, before.Generation+1, snap.Generation)
	assert.Empty(t, snap.Envelopes)
	assert.Equal(t, int64(-1), snap.LatestID)
	assert.Equal(t, 0, snap.Offset)
	assert.True(t, snap.HasMore)
	assert.True(t, snap.Loading)
	assert.Zero(t, snap.Selected)

	_, _, ok := c.Selected()
	assert.False(t, ok)

	changed := notices.ofKind(NoticeAddressChanged)
	require.Len(t, changed, 2)
	assert.Equal(t, "b@x.io", changed[1].Address)

	// 第一页加载中，分页请求不发出
	n, err := c.LoadNextPage(context.Background())
	assert.NoError(t, err)
	assert.Zero(t, n)

	// 相同地址不重新开始
	c.SetAddress("b@x.io")
	assert.Equal(t, snap.Generation, c.Snapshot().Generation)
}

func TestClient_Selection(t *testing.T) {
	firstStarted := make(chan struct{})
	api := &fakeAPI{
		fetch: func(context.Context, string, int, int) ([]domain.Envelope, error) {
			return envelopes(2, 1), nil
		},
		detail: func(ctx context.Context, id int64) (*domain.Detail, error) {
			if id == 1 {
				close(firstStarted)
				<-ctx.Done()
				return nil, &mailapi.Error{Kind: mailapi.KindAborted, Err: ctx.Err()}
			}
			return &domain.Detail{Content: "hello", Attachments: []domain.Attachment{{ID: "att1", Filename: "a.txt"}}}, nil
		},
	}
	c, _, _ := newTestClient(t, api, Options{PageSize: 50})

	_, err := c.Select(context.Background(), 1)
	assert.ErrorIs(t, err, ErrNoAddress)

	c.SetAddress("me@x.io")
	waitLatestCalls(t, api, 1)

	t.Run("未知邮件", func(t *testing.T) {
		_, err := c.Select(context.Background(), 42)
		assert.ErrorIs(t, err, ErrUnknownEnvelope)
	})

	t.Run("重新选择取消上一次请求", func(t *testing.T) {
		errCh := make(chan error, 1)
		go func() {
			_, err := c.Select(context.Background(), 1)
			errCh <- err
		}()
		<-firstStarted

		detail, err := c.Select(context.Background(), 2)
		require.NoError(t, err)
		assert.Equal(t, "hello", detail.Content)
		assert.ErrorIs(t, <-errCh, ErrSelectionChanged)

		env, got, ok := c.Selected()
		require.True(t, ok)
		assert.Equal(t, int64(2), env.ID)
		assert.Equal(t, detail, got)
	})

	t.Run("取消选择", func(t *testing.T) {
		c.Deselect()
		_, _, ok := c.Selected()
		assert.False(t, ok)
		assert.Zero(t, c.Snapshot().Selected)
	})
}

func TestClient_MarkRendered(t *testing.T) {
	api := &fakeAPI{latest: script(delivered(9))}
	c, _, _ := newTestClient(t, api, Options{PageSize: 50})

	c.SetAddress("me@x.io")
	waitLatestCalls(t, api, 2)

	env, _ := c.Store().Get(9)
	assert.True(t, env.Animate)
	assert.True(t, c.MarkRendered(9))
	assert.False(t, c.MarkRendered(9))
	env, _ = c.Store().Get(9)
	assert.False(t, env.Animate)
}

// fakeSource 模拟地址会话
type fakeSource struct {
	mu        sync.Mutex
	current   string
	listeners []func(string)
}

func (s *fakeSource) Current() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

func (s *fakeSource) Subscribe(fn func(string)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
	return func() {}
}

func (s *fakeSource) set(addr string) {
	s.mu.Lock()
	s.current = addr
	listeners := append(([]func(string))(nil), s.listeners...)
	s.mu.Unlock()
	for _, fn := range listeners {
		fn(addr)
	}
}

func TestClient_Run(t *testing.T) {
	api := &fakeAPI{}
	c, _, _ := newTestClient(t, api, Options{PageSize: 50})
	src := &fakeSource{current: "first@x.io"}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx, src) }()

	require.Eventually(t, func() bool { return c.Address() == "first@x.io" }, waitFor, tick)
	waitLatestCalls(t, api, 1)

	src.set("second@x.io")
	assert.Equal(t, "second@x.io", c.Address())

	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, "", c.Address())

	// 关闭后不再响应地址变化
	c.SetAddress("third@x.io")
	assert.Equal(t, "", c.Address())
}

func TestClient_CloseCancelsInFlight(t *testing.T) {
	api := &fakeAPI{}
	c, _, _ := newTestClient(t, api, Options{PageSize: 50})

	c.SetAddress("me@x.io")
	waitLatestCalls(t, api, 1)

	closed := make(chan struct{})
	go func() {
		c.Close()
		close(closed)
	}()

	select {
	case <-closed:
	case <-time.After(waitFor):
		t.Fatal("Close did not return")
	}
	assert.Len(t, api.latestIDs(), 1)
}
