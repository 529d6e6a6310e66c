// File: internal/provisioner/client_test.go
package provisioner

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/threadweaver/internal/config"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	cfg := config.ProvisionerConfig{
		BaseURL:        srv.URL,
		StartPath:      "/api/v1/browser/start",
		StopPath:       "/api/v1/browser/stop",
		AttributesPath: "/api/v1/user/attributes",
		Timeout:        2 * time.Second,
		RetryMax:       2,
		RetryWait:      time.Millisecond,
	}
	return NewClient(zaptest.NewLogger(t), cfg), srv
}

func TestStart(t *testing.T) {
	ctx := context.Background()

	t.Run("returns the DevTools endpoint", func(t *testing.T) {
		c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/api/v1/browser/start", r.URL.Path)
			assert.Equal(t, "p-7", r.URL.Query().Get("identity_id"))
			_, _ = w.Write([]byte(`{"code":0,"msg":"ok","data":{"ws_endpoint":"ws://127.0.0.1:9222/devtools/browser/x","debug_port":"9222"}}`))
		})

		ep, err := c.Start(ctx, "p-7")
		require.NoError(t, err)
		assert.Equal(t, "ws://127.0.0.1:9222/devtools/browser/x", ep.WebSocketURL)
		assert.Equal(t, "9222", ep.DebugPort)
	})

	t.Run("non-zero code is a rejection", func(t *testing.T) {
		c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"code":-1,"msg":"profile busy"}`))
		})

		_, err := c.Start(ctx, "p-7")
		assert.ErrorIs(t, err, ErrServiceRejected)
		assert.Contains(t, err.Error(), "profile busy")
	})

	t.Run("missing endpoint is an error", func(t *testing.T) {
		c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"code":0,"data":{}}`))
		})
		_, err := c.Start(ctx, "p-7")
		assert.ErrorContains(t, err, "no DevTools endpoint")
	})

	t.Run("server errors are retried", func(t *testing.T) {
		var hits atomic.Int32
		c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			if hits.Add(1) < 3 {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			_, _ = w.Write([]byte(`{"code":0,"data":{"ws_endpoint":"ws://x"}}`))
		})

		ep, err := c.Start(ctx, "p-7")
		require.NoError(t, err)
		assert.Equal(t, "ws://x", ep.WebSocketURL)
		assert.EqualValues(t, 3, hits.Load())
	})

	t.Run("retries stop after three attempts", func(t *testing.T) {
		var hits atomic.Int32
		c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			hits.Add(1)
			w.WriteHeader(http.StatusBadGateway)
		})

		_, err := c.Start(ctx, "p-7")
		assert.Error(t, err)
		assert.EqualValues(t, 3, hits.Load())
	})

	t.Run("client errors are not retried", func(t *testing.T) {
		var hits atomic.Int32
		c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			hits.Add(1)
			w.WriteHeader(http.StatusNotFound)
		})

		_, err := c.Start(ctx, "p-7")
		assert.ErrorContains(t, err, "unexpected status 404")
		assert.EqualValues(t, 1, hits.Load())
	})
}

func TestStop(t *testing.T) {
	var path string
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		_, _ = w.Write([]byte(`{"code":0,"msg":"success"}`))
	})

	require.NoError(t, c.Stop(context.Background(), "p-1"))
	assert.Equal(t, "/api/v1/browser/stop", path)
}

func TestAttributesOf(t *testing.T) {
	ctx := context.Background()

	t.Run("structured attributes", func(t *testing.T) {
		c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"code":0,"data":{"attributes":{"Gender":" Female ","age":31,"note":null}}}`))
		})

		attrs, err := c.AttributesOf(ctx, "p-1")
		require.NoError(t, err)
		assert.Equal(t, "Female", attrs["gender"])
		assert.Equal(t, "31", attrs["age"])
		assert.NotContains(t, attrs, "note")
	})

	t.Run("meta note fallback", func(t *testing.T) {
		c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"code":0,"data":{"remark":"warm account; Meta :: {\"gender\": \"male\"} end"}}`))
		})

		attrs, err := c.AttributesOf(ctx, "p-1")
		require.NoError(t, err)
		assert.Equal(t, "male", attrs["gender"])
	})

	t.Run("note without meta yields no attributes", func(t *testing.T) {
		c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"code":0,"data":{"remark":"just a note"}}`))
		})

		attrs, err := c.AttributesOf(ctx, "p-1")
		require.NoError(t, err)
		assert.Empty(t, attrs)
	})

	t.Run("cancelled context aborts", func(t *testing.T) {
		c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"code":0}`))
		})
		cctx, cancel := context.WithCancel(ctx)
		cancel()

		_, err := c.AttributesOf(cctx, "p-1")
		assert.Error(t, err)
	})
}

func TestParseRemark(t *testing.T) {
	meta, err := parseRemark(`meta :: {"gender":"Female"}`)
	require.NoError(t, err)
	assert.Equal(t, "Female", meta["gender"])

	_, err = parseRemark(`meta :: not json`)
	assert.Error(t, err)

	meta, err = parseRemark("plain")
	assert.NoError(t, err)
	assert.Nil(t, meta)
}
