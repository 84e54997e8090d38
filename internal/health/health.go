package health

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/heptiolabs/healthcheck"
	"go.uber.org/zap"

	"tempmail/client/internal/mailsync"
)

const (
	defaultTimeout        = 5 * time.Second
	defaultGoroutineLimit = 1000
)

// SyncStatus 提供同步客户端的当前状态
type SyncStatus interface {
	Snapshot() mailsync.Snapshot
}

// Pinger 可探测的外部依赖，例如 Redis
type Pinger interface {
	Ping(ctx context.Context) error
}

// Options 健康检查配置
type Options struct {
	UpstreamURL      string        // 上游 API 根地址，就绪检查会请求 /api/domain
	Timeout          time.Duration // 单项检查超时
	Sync             SyncStatus    // 同步客户端，为 nil 时跳过
	FailureThreshold int           // 连续失败达到该值视为未就绪
	Redis            Pinger        // 地址历史使用 Redis 时检查连接
	GoroutineLimit   int           // 协程数量上限
}

// HealthChecker 健康检查器
type HealthChecker struct {
	health healthcheck.Handler
	opts   Options
	logger *zap.Logger
}

// NewHealthChecker 创建健康检查器
func NewHealthChecker(opts Options, logger *zap.Logger) *HealthChecker {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.GoroutineLimit <= 0 {
		opts.GoroutineLimit = defaultGoroutineLimit
	}
	if opts.FailureThreshold <= 0 {
		opts.FailureThreshold = 3
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	hc := &HealthChecker{
		health: healthcheck.NewHandler(),
		opts:   opts,
		logger: logger.Named("health"),
	}

	// 添加健康检查
	hc.addChecks()

	return hc
}

// addChecks 添加健康检查
func (hc *HealthChecker) addChecks() {
	// 协程数量检查
	hc.health.AddLivenessCheck("goroutine-threshold", healthcheck.GoroutineCountCheck(hc.opts.GoroutineLimit))

	// 上游 API 检查
	if hc.opts.UpstreamURL != "" {
		url := strings.TrimRight(hc.opts.UpstreamURL, "/") + "/api/domain"
		hc.health.AddReadinessCheck("upstream", healthcheck.Timeout(healthcheck.HTTPGetCheck(url, hc.opts.Timeout), hc.opts.Timeout))
	}

	// 同步循环检查
	if hc.opts.Sync != nil {
		hc.health.AddReadinessCheck("sync", hc.checkSync)
	}

	// Redis 连接检查
	if hc.opts.Redis != nil {
		hc.health.AddReadinessCheck("redis", func() error {
			ctx, cancel := context.WithTimeout(context.Background(), hc.opts.Timeout)
			defer cancel()
			return hc.opts.Redis.Ping(ctx)
		})
	}
}

// checkSync 连续失败次数达到阈值时视为连接已断开
func (hc *HealthChecker) checkSync() error {
	snap := hc.opts.Sync.Snapshot()
	if snap.Address == "" {
		return fmt.Errorf("no address")
	}
	if snap.Failures >= hc.opts.FailureThreshold {
		return fmt.Errorf("connection lost: %d consecutive failures", snap.Failures)
	}
	return nil
}

// LiveEndpoint 存活检查
func (hc *HealthChecker) LiveEndpoint(w http.ResponseWriter, r *http.Request) {
	hc.health.LiveEndpoint(w, r)
}

// ReadyEndpoint 就绪检查
func (hc *HealthChecker) ReadyEndpoint(w http.ResponseWriter, r *http.Request) {
	hc.health.ReadyEndpoint(w, r)
}

// CheckHealth 执行健康检查，返回每一项的结果
func (hc *HealthChecker) CheckHealth() map[string]string {
	results := make(map[string]string)

	if hc.opts.Sync != nil {
		if err := hc.checkSync(); err != nil {
			results["sync"] = fmt.Sprintf("ERROR: %v", err)
		} else {
			results["sync"] = "OK"
		}
	}

	if hc.opts.Redis != nil {
		ctx, cancel := context.WithTimeout(context.Background(), hc.opts.Timeout)
		err := hc.opts.Redis.Ping(ctx)
		cancel()
		if err != nil {
			results["redis"] = fmt.Sprintf("ERROR: %v", err)
		} else {
			results["redis"] = "OK"
		}
	} else {
		results["redis"] = "NOT_AVAILABLE"
	}

	results["timestamp"] = time.Now().Format(time.RFC3339)

	return results
}
