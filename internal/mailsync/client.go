package mailsync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"tempmail/client/internal/domain"
	"tempmail/client/internal/mailapi"
	"tempmail/client/internal/storage/memory"
)

var (
	// ErrNoAddress 还没有设置邮箱地址
	ErrNoAddress = errors.New("no address")
	// ErrClosed 客户端已关闭
	ErrClosed = errors.New("sync client closed")
	// ErrUnknownEnvelope 当前列表中没有该邮件
	ErrUnknownEnvelope = errors.New("envelope not in mailbox")
	// ErrSelectionChanged 请求完成前选择已经改变
	ErrSelectionChanged = errors.New("selection changed")
)

// Fetcher 同步客户端依赖的上游接口
type Fetcher interface {
	Fetch(ctx context.Context, to string, limit, offset int) ([]domain.Envelope, error)
	FetchLatest(ctx context.Context, to string, id int64) (*domain.Envelope, error)
	FetchDetail(ctx context.Context, id int64) (*domain.Detail, error)
}

// AddressSource 地址来源，地址变化时同步回调
type AddressSource interface {
	Current() string
	Subscribe(fn func(address string)) func()
}

// Options 同步策略
type Options struct {
	PageSize         int
	Backoff          Backoff
	FailureThreshold int
	ResubmitDelay    time.Duration
	Clock            Clock
}

func (o *Options) normalize() {
	if o.PageSize <= 0 {
		o.PageSize = 50
	}
	if o.Backoff.Base <= 0 || o.Backoff.Max < o.Backoff.Base {
		o.Backoff = DefaultBackoff()
	}
	if o.FailureThreshold <= 0 {
		o.FailureThreshold = 3
	}
	if o.ResubmitDelay < 0 {
		o.ResubmitDelay = 0
	}
	if o.Clock == nil {
		o.Clock = realClock{}
	}
}

// generation 一个地址对应的生命周期，地址变化时整体取消
type generation struct {
	id      uint64
	address string
	ctx     context.Context
	cancel  context.CancelFunc
}

type selection struct {
	id     int64
	cancel context.CancelFunc
	detail *domain.Detail
}

// Snapshot 同步状态的只读快照
type Snapshot struct {
	Address    string            `json:"address"`
	Generation uint64            `json:"generation"`
	Envelopes  []domain.Envelope `json:"envelopes"`
	LatestID   int64             `json:"latestId"`
	Offset     int               `json:"offset"`
	HasMore    bool              `json:"hasMore"`
	Loading    bool              `json:"loading"`
	State      string            `json:"state"`
	Failures   int               `json:"failures"`
	Selected   int64             `json:"selected,omitempty"`
}

// Client 邮箱同步客户端
//
// 每个地址对应一个 generation：先加载第一页，再在同一个协程中进入长轮询循环。
// 所有对列表和游标的修改都在 mu 保护下进行，并且先检查 generation 是否仍然有效，
// 过期 generation 的响应即使晚到也会被丢弃。通知在释放锁之后发出。
type Client struct {
	api      Fetcher
	store    *memory.EnvelopeStore
	notifier Notifier
	recorder Recorder
	log      *zap.Logger
	opts     Options

	root       context.Context
	rootCancel context.CancelFunc
	wg         sync.WaitGroup

	mu          sync.Mutex
	closed      bool
	gen         *generation
	genSeq      uint64
	latestID    int64
	offset      int
	hasMore     bool
	pageLoading bool
	state       loopState
	failures    int
	sel         *selection
}

// New 创建同步客户端
//
// 参数:
//   - api: 上游接口
//   - store: 邮件摘要存储，由客户端独占写入
//   - notifier: 通知接收者，为 nil 时丢弃通知
//   - log: 日志记录器
//   - opts: 同步策略，零值字段使用默认值
func New(api Fetcher, store *memory.EnvelopeStore, notifier Notifier, log *zap.Logger, opts Options) *Client {
	opts.normalize()
	if notifier == nil {
		notifier = nopNotifier{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	root, cancel := context.WithCancel(context.Background())
	return &Client{
		api:        api,
		store:      store,
		notifier:   notifier,
		recorder:   nopRecorder{},
		log:        log.Named("mailsync"),
		opts:       opts,
		root:       root,
		rootCancel: cancel,
		latestID:   -1,
		hasMore:    true,
	}
}

// SetRecorder 设置指标记录器，需要在 SetAddress 之前调用
func (c *Client) SetRecorder(r Recorder) {
	if r == nil {
		r = nopRecorder{}
	}
	c.recorder = r
}

// Store 返回邮件摘要存储，调用方只能读取
func (c *Client) Store() *memory.EnvelopeStore {
	return c.store
}

// Run 跟随地址来源运行，直到 ctx 结束后关闭客户端
func (c *Client) Run(ctx context.Context, src AddressSource) error {
	unsubscribe := src.Subscribe(c.SetAddress)
	defer unsubscribe()

	if addr := src.Current(); addr != "" {
		c.SetAddress(addr)
	}

	<-ctx.Done()
	c.Close()
	return nil
}

// SetAddress 切换到新地址
//
// 同步完成以下操作后返回：取消上一个 generation 的所有请求、清空列表和选择、
// 游标重置为未知、分页重置为 {0, true}，然后启动新 generation 的加载协程。
// 地址为空时只做清理；与当前地址相同时不做任何操作。
func (c *Client) SetAddress(address string) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	if c.gen != nil && c.gen.address == address {
		c.mu.Unlock()
		return
	}

	c.resetLocked()
	if address == "" {
		c.gen = nil
		c.mu.Unlock()
		return
	}

	c.genSeq++
	ctx, cancel := context.WithCancel(c.root)
	gen := &generation{id: c.genSeq, address: address, ctx: ctx, cancel: cancel}
	c.gen = gen
	c.pageLoading = true
	c.state = stateIdle
	c.wg.Add(1)
	c.mu.Unlock()

	c.log.Info("address generation started", zap.String("address", address), zap.Uint64("generation", gen.id))
	c.notify(Notice{
		Kind:       NoticeAddressChanged,
		Level:      LevelInfo,
		Address:    address,
		Generation: gen.id,
		Message:    "address changed",
	})

	go c.run(gen)
}

// resetLocked 取消当前 generation 并清空所有状态，调用方持有 mu
func (c *Client) resetLocked() {
	if c.gen != nil {
		c.gen.cancel()
	}
	if c.sel != nil {
		c.sel.cancel()
		c.sel = nil
	}
	c.store.Clear()
	c.latestID = -1
	c.offset = 0
	c.hasMore = true
	c.pageLoading = false
	c.state = stateIdle
	c.failures = 0
	c.recorder.SetFailureStreak(0)
}

// Close 取消所有请求并等待后台协程退出
func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.resetLocked()
	c.gen = nil
	c.rootCancel()
	c.mu.Unlock()

	c.wg.Wait()
}

// Address 返回当前 generation 的地址
func (c *Client) Address() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen == nil {
		return ""
	}
	return c.gen.address
}

// Snapshot 返回当前同步状态
func (c *Client) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Snapshot{
		Envelopes: c.store.List(),
		LatestID:  c.latestID,
		Offset:    c.offset,
		HasMore:   c.hasMore,
		Loading:   c.pageLoading,
		State:     c.state.String(),
		Failures:  c.failures,
	}
	if c.gen != nil {
		s.Address = c.gen.address
		s.Generation = c.gen.id
	}
	if c.sel != nil {
		s.Selected = c.sel.id
	}
	return s
}

func (c *Client) run(gen *generation) {
	defer c.wg.Done()

	c.loadFirstPage(gen)
	c.watch(gen)
}

// alive 判断 gen 是否仍是当前 generation，调用方持有 mu
func (c *Client) alive(gen *generation) bool {
	return !c.closed && c.gen == gen && gen.ctx.Err() == nil
}

// loadFirstPage 加载第一页并设置游标
//
// 失败时列表保持为空，游标设为 0，长轮询照常开始。
func (c *Client) loadFirstPage(gen *generation) {
	list, err := c.api.Fetch(gen.ctx, gen.address, c.opts.PageSize, 0)

	c.mu.Lock()
	if !c.alive(gen) {
		c.mu.Unlock()
		return
	}
	c.pageLoading = false

	if err != nil {
		c.latestID = 0
		c.mu.Unlock()
		if mailapi.IsAborted(err) {
			return
		}
		c.log.Warn("first page failed", zap.String("address", gen.address), zap.Error(err))
		c.notify(Notice{
			Kind:       NoticeRequestFailed,
			Level:      LevelError,
			Address:    gen.address,
			Generation: gen.id,
			Message:    mailapi.MessageOf(err),
		})
		return
	}

	c.store.ReplaceAll(list)
	c.offset = len(list)
	c.hasMore = len(list) == c.opts.PageSize
	c.latestID = 0
	if newest, ok := c.store.Newest(); ok {
		c.latestID = newest
	}
	c.mu.Unlock()

	c.recorder.AddEnvelopes(len(list))
	c.log.Debug("first page loaded",
		zap.String("address", gen.address),
		zap.Int("count", len(list)),
		zap.Bool("has_more", len(list) == c.opts.PageSize),
	)
}

// LoadNextPage 加载下一页更早的邮件
//
// 以下情况直接返回 (0, nil)：正在加载、没有更多、没有地址。
// 同一个 generation 同时最多只有一个分页请求。
//
// 返回值:
//   - int: 新增到列表中的邮件数量
//   - error: 请求失败时返回错误，调用方取消时返回 Aborted 错误
func (c *Client) LoadNextPage(ctx context.Context) (int, error) {
	c.mu.Lock()
	gen := c.gen
	if c.closed || gen == nil || c.pageLoading || !c.hasMore {
		c.mu.Unlock()
		return 0, nil
	}
	c.pageLoading = true
	offset := c.offset
	c.mu.Unlock()

	reqCtx, stop := mergeContext(gen.ctx, ctx)
	list, err := c.api.Fetch(reqCtx, gen.address, c.opts.PageSize, offset)
	stop()

	c.mu.Lock()
	if !c.alive(gen) {
		c.mu.Unlock()
		return 0, nil
	}
	c.pageLoading = false

	if err != nil {
		c.mu.Unlock()
		if !mailapi.IsAborted(err) {
			c.notify(Notice{
				Kind:       NoticeRequestFailed,
				Level:      LevelError,
				Address:    gen.address,
				Generation: gen.id,
				Message:    mailapi.MessageOf(err),
			})
		}
		return 0, fmt.Errorf("load page at offset %d: %w", offset, err)
	}

	added := c.store.AppendAll(list)
	c.offset += len(list)
	c.hasMore = len(list) == c.opts.PageSize
	// 第一页失败后由分页补齐列表时，游标跟上最新的邮件
	if newest, ok := c.store.Newest(); ok && newest > c.latestID {
		c.latestID = newest
	}
	c.mu.Unlock()

	c.recorder.AddEnvelopes(added)
	return added, nil
}

// mergeContext 返回在 parent 或 other 任一结束时都会取消的 context
func mergeContext(parent, other context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	if other == nil {
		return ctx, cancel
	}
	stop := context.AfterFunc(other, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

func (c *Client) notify(n Notice) {
	if n.Time.IsZero() {
		n.Time = time.Now()
	}
	c.notifier.Notify(n)
}
