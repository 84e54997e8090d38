package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var configEnvKeys = []string{
	"TEMPMAIL_API_BASE_URL",
	"TEMPMAIL_API_REQUEST_TIMEOUT",
	"TEMPMAIL_API_LONG_POLL_TIMEOUT",
	"TEMPMAIL_SYNC_PAGE_SIZE",
	"TEMPMAIL_SYNC_BACKOFF_BASE",
	"TEMPMAIL_SYNC_BACKOFF_MAX",
	"TEMPMAIL_SYNC_FAILURE_THRESHOLD",
	"TEMPMAIL_SYNC_RESUBMIT_DELAY",
	"TEMPMAIL_SESSION_ADDRESS",
	"TEMPMAIL_SESSION_HISTORY_BACKEND",
	"TEMPMAIL_BRIDGE_PORT",
	"TEMPMAIL_BRIDGE_ALLOWED_ORIGINS",
	"TEMPMAIL_REDIS_ADDRESS",
	"TEMPMAIL_REDIS_DB",
	"TEMPMAIL_DOWNLOAD_WORKERS",
	"TEMPMAIL_LOG_LEVEL",
}

// withCleanEnv 清空相关环境变量，测试结束后恢复原值
func withCleanEnv(t *testing.T) {
	t.Helper()
	original := make(map[string]string)
	for _, key := range configEnvKeys {
		original[key] = os.Getenv(key)
		os.Unsetenv(key)
	}
	t.Cleanup(func() {
		for key, value := range original {
			if value == "" {
				os.Unsetenv(key)
			} else {
				os.Setenv(key, value)
			}
		}
	})
}

func TestLoad(t *testing.T) {
	t.Run("加载默认配置成功", func(t *testing.T) {
		withCleanEnv(t)

		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, "http://127.0.0.1:3000", cfg.API.BaseURL)
		assert.Equal(t, 15*time.Second, cfg.API.RequestTimeout)
		assert.Equal(t, 90*time.Second, cfg.API.LongPollTimeout)
		assert.Equal(t, 50, cfg.Sync.PageSize)
		assert.Equal(t, time.Second, cfg.Sync.BackoffBase)
		assert.Equal(t, 30*time.Second, cfg.Sync.BackoffMax)
		assert.Equal(t, 3, cfg.Sync.FailureThreshold)
		assert.Equal(t, time.Duration(0), cfg.Sync.ResubmitDelay)
		assert.Equal(t, "memory", cfg.Session.HistoryBackend)
		assert.Equal(t, 20, cfg.Session.HistorySize)
		assert.True(t, cfg.Bridge.Enabled)
		assert.Equal(t, "127.0.0.1:8787", cfg.Bridge.Addr())
		assert.Equal(t, []string{"*"}, cfg.Bridge.AllowedOrigins)
		assert.Equal(t, 4, cfg.Download.Workers)
		assert.Equal(t, "info", cfg.Log.Level)
	})

	t.Run("加载自定义配置成功", func(t *testing.T) {
		withCleanEnv(t)
		os.Setenv("TEMPMAIL_API_BASE_URL", "https://mail.example.com/")
		os.Setenv("TEMPMAIL_SYNC_PAGE_SIZE", "20")
		os.Setenv("TEMPMAIL_SYNC_BACKOFF_BASE", "500ms")
		os.Setenv("TEMPMAIL_SYNC_BACKOFF_MAX", "10s")
		os.Setenv("TEMPMAIL_SYNC_RESUBMIT_DELAY", "250ms")
		os.Setenv("TEMPMAIL_SESSION_ADDRESS", "alice@example.com")
		os.Setenv("TEMPMAIL_SESSION_HISTORY_BACKEND", "Redis")
		os.Setenv("TEMPMAIL_REDIS_ADDRESS", "redis:6379")
		os.Setenv("TEMPMAIL_REDIS_DB", "2")
		os.Setenv("TEMPMAIL_BRIDGE_PORT", "9000")
		os.Setenv("TEMPMAIL_BRIDGE_ALLOWED_ORIGINS", "http://localhost:5173, http://127.0.0.1:5173")

		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, "https://mail.example.com", cfg.API.BaseURL)
		assert.Equal(t, 20, cfg.Sync.PageSize)
		assert.Equal(t, 500*time.Millisecond, cfg.Sync.BackoffBase)
		assert.Equal(t, 10*time.Second, cfg.Sync.BackoffMax)
		assert.Equal(t, 250*time.Millisecond, cfg.Sync.ResubmitDelay)
		assert.Equal(t, "alice@example.com", cfg.Session.Address)
		assert.Equal(t, "redis", cfg.Session.HistoryBackend)
		assert.Equal(t, "redis:6379", cfg.Redis.Address)
		assert.Equal(t, 2, cfg.Redis.DB)
		assert.Equal(t, 9000, cfg.Bridge.Port)
		assert.Equal(t, []string{"http://localhost:5173", "http://127.0.0.1:5173"}, cfg.Bridge.AllowedOrigins)
	})

	t.Run("无效的上游地址", func(t *testing.T) {
		withCleanEnv(t)
		os.Setenv("TEMPMAIL_API_BASE_URL", "mail.example.com")

		_, err := Load()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "api.base_url")
	})

	t.Run("无效的超时时间", func(t *testing.T) {
		withCleanEnv(t)
		os.Setenv("TEMPMAIL_API_REQUEST_TIMEOUT", "soon")

		_, err := Load()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "api.request_timeout")
	})

	t.Run("退避上限小于初始值", func(t *testing.T) {
		withCleanEnv(t)
		os.Setenv("TEMPMAIL_SYNC_BACKOFF_BASE", "5s")
		os.Setenv("TEMPMAIL_SYNC_BACKOFF_MAX", "1s")

		_, err := Load()
		assert.Error(t, err)
	})

	t.Run("未知的历史存储类型", func(t *testing.T) {
		withCleanEnv(t)
		os.Setenv("TEMPMAIL_SESSION_HISTORY_BACKEND", "postgres")

		_, err := Load()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "history_backend")
	})

	t.Run("页大小必须为正数", func(t *testing.T) {
		withCleanEnv(t)
		os.Setenv("TEMPMAIL_SYNC_PAGE_SIZE", "0")

		_, err := Load()
		assert.Error(t, err)
	})
}

func TestParseList(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected []string
	}{
		{"单个值", "a", []string{"a"}},
		{"多个值带空格", " a , b ,c ", []string{"a", "b", "c"}},
		{"空字符串", "", []string{}},
		{"只有逗号", ",,", []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, parseList(tt.input))
		})
	}
}
