package observability

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "boorubot/pkg/logx"
)

func get(t *testing.T, h http.Handler, target string, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, http.NoBody)
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHandlerAuth(t *testing.T) {
	t.Parallel()
	s := New(Config{Token: "s3cret"}, nil, logx.Nop())
	h := s.Handler()

	tests := []struct {
		name   string
		target string
		header []string
		want   int
	}{
		{name: "no credentials", target: "/healthz", want: http.StatusUnauthorized},
		{name: "query token", target: "/healthz?token=s3cret", want: http.StatusOK},
		{name: "wrong query token", target: "/healthz?token=nope", want: http.StatusUnauthorized},
		{name: "bearer", target: "/metrics", header: []string{"Authorization", "Bearer s3cret"}, want: http.StatusOK},
		{name: "wrong bearer", target: "/metrics", header: []string{"Authorization", "Bearer x"}, want: http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := get(t, h, tt.target, tt.header...)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestHandlerRoutes(t *testing.T) {
	t.Parallel()
	notReady := errors.New("storage down")
	s := New(Config{}, func(context.Context) error { return notReady }, logx.Nop())
	h := s.Handler()

	rec := get(t, h, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")

	assert.Equal(t, "ok", get(t, h, "/healthz").Body.String())
	rec = get(t, h, "/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "storage down")

	assert.Equal(t, http.StatusNotFound, get(t, h, "/debug/pprof/").Code, "pprof is off by default")

	withPprof := New(Config{Pprof: true}, nil, logx.Nop()).Handler()
	assert.Equal(t, http.StatusOK, get(t, withPprof, "/debug/pprof/").Code)
}

func TestIsLoopbackAddr(t *testing.T) {
	t.Parallel()
	tests := map[string]bool{
		"127.0.0.1:9090": true,
		"localhost:1":    true,
		"[::1]:80":       true,
		":9090":          false,
		"0.0.0.0:9090":   false,
		"10.0.0.2:9090":  false,
		"garbage":        false,
	}
	for addr, want := range tests {
		assert.Equal(t, want, isLoopbackAddr(addr), addr)
	}
}

func TestStartRefusesInsecureBind(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: true, Addr: "0.0.0.0:0"}, nil, logx.Nop())
	assert.ErrorIs(t, s.Start(context.Background()), ErrInsecureBind)
	assert.Empty(t, s.Addr())
}

func TestReconfigureEnableDisable(t *testing.T) {
	prevMutex := runtime.SetMutexProfileFraction(-1)
	t.Cleanup(func() {
		runtime.SetMutexProfileFraction(prevMutex)
		runtime.SetBlockProfileRate(0)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	s := New(Config{}, nil, logx.Nop())
	t.Cleanup(func() { s.Stop(context.Background()) })

	require.NoError(t, s.Reconfigure(ctx, Config{Enabled: true, Addr: "127.0.0.1:0", MutexProfileFraction: 7}))
	addr := s.Addr()
	require.NotEmpty(t, addr)
	assert.Equal(t, 7, runtime.SetMutexProfileFraction(-1))

	resp, err := http.Get("http://" + addr + "/healthz")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	assert.Equal(t, "ok", string(body))

	require.NoError(t, s.Reconfigure(ctx, Config{Enabled: false}))
	assert.Empty(t, s.Addr())
	_, err = http.Get("http://" + addr + "/healthz")
	assert.Error(t, err)
}
