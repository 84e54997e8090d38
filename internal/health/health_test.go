package health

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"tempmail/client/internal/mailsync"
)

type fakeSync struct {
	snap mailsync.Snapshot
}

func (f fakeSync) Snapshot() mailsync.Snapshot { return f.snap }

type fakePinger struct {
	err error
}

func (f fakePinger) Ping(context.Context) error { return f.err }

func ready(hc *HealthChecker) int {
	rec := httptest.NewRecorder()
	hc.ReadyEndpoint(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	return rec.Code
}

func TestHealthChecker(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/domain" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write([]byte(`["example.com"]`))
	}))
	defer upstream.Close()

	t.Run("全部正常", func(t *testing.T) {
		hc := NewHealthChecker(Options{
			UpstreamURL: upstream.URL,
			Sync:        fakeSync{snap: mailsync.Snapshot{Address: "a@example.com"}},
			Redis:       fakePinger{},
		}, nil)
		assert.Equal(t, http.StatusOK, ready(hc))

		rec := httptest.NewRecorder()
		hc.LiveEndpoint(rec, httptest.NewRequest(http.MethodGet, "/live", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("连续失败达到阈值", func(t *testing.T) {
		hc := NewHealthChecker(Options{
			Sync:             fakeSync{snap: mailsync.Snapshot{Address: "a@example.com", Failures: 3}},
			FailureThreshold: 3,
		}, nil)
		assert.Equal(t, http.StatusServiceUnavailable, ready(hc))
		assert.Contains(t, hc.CheckHealth()["sync"], "connection lost")
	})

	t.Run("没有地址", func(t *testing.T) {
		hc := NewHealthChecker(Options{Sync: fakeSync{}}, nil)
		assert.Equal(t, http.StatusServiceUnavailable, ready(hc))
	})

	t.Run("上游不可用", func(t *testing.T) {
		down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer down.Close()

		hc := NewHealthChecker(Options{UpstreamURL: down.URL}, nil)
		assert.Equal(t, http.StatusServiceUnavailable, ready(hc))
	})

	t.Run("Redis 不可用", func(t *testing.T) {
		hc := NewHealthChecker(Options{Redis: fakePinger{err: errors.New("refused")}}, nil)
		assert.Equal(t, http.StatusServiceUnavailable, ready(hc))
		assert.Equal(t, "ERROR: refused", hc.CheckHealth()["redis"])
	})
}
