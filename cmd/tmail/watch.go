package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"tempmail/client/internal/domain"
	"tempmail/client/internal/download"
	"tempmail/client/internal/health"
	"tempmail/client/internal/mailsync"
	"tempmail/client/internal/monitoring"
	"tempmail/client/internal/session"
	"tempmail/client/internal/storage"
	"tempmail/client/internal/storage/memory"
	"tempmail/client/internal/storage/redis"
	httptransport "tempmail/client/internal/transport/http"
	"tempmail/client/internal/websocket"
)

// watch 确定地址后持续接收新邮件，直到收到退出信号
func (a *app) watch(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	address := fs.String("address", a.cfg.Session.Address, "使用指定的邮箱地址")
	random := fs.Bool("random", false, "忽略历史，随机选择域名生成新地址")
	bridge := fs.Bool("bridge", a.cfg.Bridge.Enabled, "启动本地桥接服务")
	if err := fs.Parse(args); err != nil {
		return err
	}

	log := a.log
	log.Info("starting tmail client",
		zap.String("api", a.api.BaseURL()),
		zap.String("log_level", a.cfg.Log.Level),
		zap.Bool("bridge", *bridge),
	)

	metrics := monitoring.NewMetrics()
	a.api.SetRecorder(metrics)

	history, redisClient, err := a.openHistory(ctx)
	if err != nil {
		return err
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	mgr := session.NewManager(a.api, history, log)

	// hub 在同步客户端之后创建，第一次地址变化前一定已经赋值
	var hub *websocket.Hub
	notifier := mailsync.MultiNotifier{
		mailsync.NewLogNotifier(log),
		metrics,
		newPrinter(a.out),
		mailsync.NotifierFunc(func(n mailsync.Notice) {
			if hub != nil {
				hub.Notify(n)
			}
		}),
	}

	syncClient := mailsync.New(a.api, memory.NewEnvelopeStore(), notifier, log, mailsync.Options{
		PageSize:         a.cfg.Sync.PageSize,
		Backoff:          mailsync.Backoff{Base: a.cfg.Sync.BackoffBase, Max: a.cfg.Sync.BackoffMax},
		FailureThreshold: a.cfg.Sync.FailureThreshold,
		ResubmitDelay:    a.cfg.Sync.ResubmitDelay,
	})
	syncClient.SetRecorder(metrics)
	defer syncClient.Close()

	if *bridge {
		hub = websocket.NewHub(a.cfg.Bridge.AllowedOrigins, syncClient, log)
		hub.SetStats(metrics)
	}

	initCtx, cancel := context.WithTimeout(ctx, a.cfg.API.RequestTimeout*2)
	addr, err := mgr.Init(initCtx, *address)
	if err == nil && *random {
		addr, err = mgr.RandomizeAll(initCtx)
	}
	cancel()
	if err != nil {
		return fmt.Errorf("init address: %w", err)
	}
	log.Info("using address", zap.String("address", addr))

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		return syncClient.Run(groupCtx, mgr)
	})

	if *bridge {
		opts := health.Options{
			UpstreamURL:      a.api.BaseURL(),
			Sync:             syncClient,
			FailureThreshold: a.cfg.Sync.FailureThreshold,
		}
		if redisClient != nil {
			opts.Redis = redisClient
		}
		checker := health.NewHealthChecker(opts, log)

		downloader := download.New(a.api, a.cfg.Download.Dir, a.cfg.Download.Workers, log)
		downloader.SetRecorder(metrics)

		router := httptransport.NewRouter(httptransport.RouterDependencies{
			Config:     a.cfg,
			Session:    mgr,
			Sync:       syncClient,
			API:        a.api,
			Hub:        hub,
			Metrics:    metrics,
			Health:     checker,
			Downloader: downloader,
			Logger:     log,
		})
		server := httptransport.NewServer(a.cfg.Bridge.Addr(), router, log)

		group.Go(func() error {
			log.Info("starting WebSocket hub")
			hub.Run(groupCtx)
			return nil
		})
		group.Go(func() error {
			return server.Run(groupCtx)
		})
	}

	if err := group.Wait(); err != nil && err != context.Canceled {
		log.Error("client error", zap.Error(err))
		return err
	}

	log.Info("client exited cleanly")
	return nil
}

// openHistory 按配置创建地址历史存储，使用 Redis 时同时返回连接
func (a *app) openHistory(ctx context.Context) (storage.AddressHistory, *redis.Client, error) {
	if a.cfg.Session.HistoryBackend != "redis" {
		return memory.NewAddressHistory(a.cfg.Session.HistorySize), nil, nil
	}

	client, err := redis.New(ctx, &a.cfg.Redis, a.log)
	if err != nil {
		return nil, nil, fmt.Errorf("connect redis: %w", err)
	}
	return redis.NewAddressHistory(client, a.cfg.Session.HistorySize), client, nil
}

// printer 把同步通知输出到终端
type printer struct {
	mu  sync.Mutex
	out io.Writer
}

func newPrinter(out io.Writer) *printer {
	return &printer{out: out}
}

func (p *printer) Notify(n mailsync.Notice) {
	p.mu.Lock()
	defer p.mu.Unlock()

	ts := n.Time.Format(time.TimeOnly)
	switch n.Kind {
	case mailsync.NoticeNewMail:
		if n.Envelope == nil {
			return
		}
		fmt.Fprintf(p.out, "%s  #%d  %s  %s\n",
			ts, n.Envelope.ID, domain.FormatFrom(n.Envelope.From), n.Envelope.Subject)
	case mailsync.NoticeAddressChanged:
		fmt.Fprintf(p.out, "%s  watching %s\n", ts, n.Address)
	default:
		fmt.Fprintf(p.out, "%s  [%s] %s\n", ts, n.Level, n.Message)
	}
}
