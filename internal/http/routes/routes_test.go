package routes

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seanmobrien/we-dont-need-no-education-sub012/cache"
	"github.com/seanmobrien/we-dont-need-no-education-sub012/internal/config"
)

type testProxy struct {
	server     *httptest.Server
	origin     *httptest.Server
	mr         *miniredis.Miniredis
	originHits atomic.Int32
}

func newTestProxy(t *testing.T, bufferLimit int64, originBody string) *testProxy {
	t.Helper()
	return newTestProxyWithOrigin(t, bufferLimit, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		fmt.Fprint(w, originBody)
	})
}

func newTestProxyWithOrigin(t *testing.T, bufferLimit int64, handler http.HandlerFunc) *testProxy {
	t.Helper()

	tp := &testProxy{}

	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tp.originHits.Add(1)
		handler(w, r)
	}))
	t.Cleanup(origin.Close)
	tp.origin = origin

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	tp.mr = mr

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	tiered := cache.New(cache.NewRedisStore(client), cache.Config{
		TTL:            time.Minute,
		MaxChunks:      64,
		MaxTotalBytes:  1 << 20,
		MemoryCapacity: 16,
		DedupeEnabled:  true,
	}, zerolog.Nop())

	originURL, err := url.Parse(origin.URL)
	require.NoError(t, err)

	s := New(ServerOptions{
		Cache:       tiered,
		Origin:      originURL,
		Cfg:         &config.Config{Redis: config.RedisConfig{Addr: mr.Addr()}},
		BufferLimit: bufferLimit,
	})
	tp.server = httptest.NewServer(s.Router)
	t.Cleanup(tp.server.Close)

	return tp
}

func (tp *testProxy) get(t *testing.T, path string) (int, string) {
	t.Helper()
	resp, err := http.Get(tp.server.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestProxyServesSmallResponseFromCache(t *testing.T) {
	tp := newTestProxy(t, 1024, "small response")

	status, body := tp.get(t, "/page")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "small response", body)
	assert.Equal(t, int32(1), tp.originHits.Load())

	status, body = tp.get(t, "/page")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "small response", body)
	assert.Equal(t, int32(1), tp.originHits.Load(), "second request must come from cache")
}

func TestProxyStreamsLargeResponseAndReplays(t *testing.T) {
	large := strings.Repeat("0123456789", 100)
	tp := newTestProxy(t, 16, large)

	status, body := tp.get(t, "/big")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, large, body, "streaming must deliver the exact origin bytes")
	assert.Equal(t, int32(1), tp.originHits.Load())

	// Wait for the capture session to seal the stream keys, then the next
	// request replays without going to the origin.
	require.Eventually(t, func() bool {
		keys := tp.mr.Keys()
		for _, k := range keys {
			if strings.HasSuffix(k, ":stream") && tp.mr.TTL(k) > 0 {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)

	status, body = tp.get(t, "/big")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, large, body)
	assert.Equal(t, int32(1), tp.originHits.Load(), "replay must not hit the origin")
}

func TestProxyDedupesConcurrentRequests(t *testing.T) {
	release := make(chan struct{})
	tp := newTestProxyWithOrigin(t, 1024, func(w http.ResponseWriter, r *http.Request) {
		<-release
		fmt.Fprint(w, "shared")
	})

	const clients = 4
	var wg sync.WaitGroup
	statuses := make([]int, clients)
	bodies := make([]string, clients)
	errs := make([]error, clients)
	for i := 0; i < clients; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resp, err := http.Get(tp.server.URL + "/page")
			if err != nil {
				errs[i] = err
				return
			}
			defer resp.Body.Close()
			body, readErr := io.ReadAll(resp.Body)
			statuses[i], bodies[i], errs[i] = resp.StatusCode, string(body), readErr
		}(i)
	}

	// Hold the origin until the first fetch is in flight, so the rest of
	// the clients queue up behind its future.
	require.Eventually(t, func() bool {
		return tp.originHits.Load() == 1
	}, time.Second, time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), tp.originHits.Load(), "concurrent identical requests share one origin fetch")
	for i := 0; i < clients; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, http.StatusOK, statuses[i])
		assert.Equal(t, "shared", bodies[i])
	}
}

func TestProxyPurgeForcesRefetch(t *testing.T) {
	tp := newTestProxy(t, 1024, "cache me")

	tp.get(t, "/page")
	require.Equal(t, int32(1), tp.originHits.Load())

	// The cache key derives from the origin-side URL, not the proxy URL.
	originSide := tp.origin.URL + "/page"
	req, err := http.NewRequest(http.MethodDelete, tp.server.URL+"/cache?url="+url.QueryEscape(originSide), nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	tp.get(t, "/page")
	assert.Equal(t, int32(2), tp.originHits.Load(), "purged entry must be refetched")
}

func TestKeyForIsStableAndOpaque(t *testing.T) {
	k1 := keyFor("GET", "https://example.com/a")
	k2 := keyFor("GET", "https://example.com/a")
	k3 := keyFor("GET", "https://example.com/b")

	assert.Equal(t, k1, k2)
	assert.NotEqual(t, k1, k3)
	assert.True(t, strings.HasPrefix(k1, "fetch:"))
	assert.Len(t, k1, len("fetch:")+32)
}
