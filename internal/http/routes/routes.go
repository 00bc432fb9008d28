package routes

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/hibiken/asynq"

	"github.com/seanmobrien/we-dont-need-no-education-sub012/cache"
	"github.com/seanmobrien/we-dont-need-no-education-sub012/internal/config"
	"github.com/seanmobrien/we-dont-need-no-education-sub012/internal/jobs"
)

type Server struct {
	Router      *chi.Mux
	Cache       *cache.TieredCache
	Origin      *url.URL
	Client      *http.Client
	RedisAddr   string
	BufferLimit int64 // responses up to this size are cached buffered, larger ones streamed
}

type ServerOptions struct {
	Cache       *cache.TieredCache
	Origin      *url.URL
	Cfg         *config.Config
	BufferLimit int64
}

func New(opts ServerOptions) *Server {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	s := &Server{
		Router:      r,
		Cache:       opts.Cache,
		Origin:      opts.Origin,
		RedisAddr:   opts.Cfg.Redis.Addr,
		BufferLimit: opts.BufferLimit,
		Client: &http.Client{
			Timeout: 30 * time.Second,
			// do not follow redirects
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
	if s.BufferLimit <= 0 {
		s.BufferLimit = 256 << 10
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if _, err := w.Write([]byte("ok")); err != nil {
			log.Printf("Error writing health check response: %v", err)
		}
	})

	r.Post("/cache/warm", s.handleWarm)
	r.Delete("/cache", s.handlePurge)
	r.Get("/*", s.handleFetch)

	return s
}

// errResponseTooLarge signals that a sniffed origin response does not fit
// the buffered representation and must be streamed instead.
var errResponseTooLarge = errors.New("origin response exceeds buffer limit")

// handleFetch serves a GET through the cache. The fetch runs through
// GetOrFetch so concurrent identical requests share one origin call. Small
// responses are stored buffered; anything that does not fit the buffer
// limit is streamed to the client while the capture coordinator mirrors it
// into the streaming tier.
func (s *Server) handleFetch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	target := s.originURLFor(r)
	key := keyFor(r.Method, target)

	var (
		overflow *http.Response
		prefix   []byte
	)
	v, err := s.Cache.GetOrFetch(ctx, key, func(ctx context.Context) (*cache.Value, error) {
		resp, err := s.fetchOrigin(ctx, target)
		if err != nil {
			return nil, err
		}

		// Sniff up to the buffer limit to decide between the buffered and
		// streaming representations.
		buf := make([]byte, s.BufferLimit)
		n, readErr := io.ReadFull(resp.Body, buf)
		buf = buf[:n]

		if readErr == io.EOF || readErr == io.ErrUnexpectedEOF {
			resp.Body.Close()
			return &cache.Value{Body: buf, Headers: flattenHeader(resp.Header), StatusCode: resp.StatusCode}, nil
		}
		if readErr != nil {
			resp.Body.Close()
			return nil, readErr
		}
		overflow, prefix = resp, buf
		return nil, errResponseTooLarge
	})

	switch {
	case err == nil:
		writeValue(w, v)
	case errors.Is(err, errResponseTooLarge) && overflow != nil:
		defer overflow.Body.Close()
		s.streamThrough(ctx, w, key, overflow, prefix)
	case errors.Is(err, errResponseTooLarge):
		// Deduped onto another request's oversized fetch. A body stream
		// cannot be shared, so serve this one directly; the originator's
		// capture session is already mirroring the key.
		s.passThrough(ctx, w, target)
	default:
		http.Error(w, "could not fetch from origin", http.StatusBadGateway)
	}
}

func (s *Server) fetchOrigin(ctx context.Context, target string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	return s.Client.Do(req)
}

// streamThrough delivers an oversized response to the client while the
// capture coordinator mirrors it, sniffed prefix first.
func (s *Server) streamThrough(ctx context.Context, w http.ResponseWriter, key string, resp *http.Response, prefix []byte) {
	meta := cache.StreamMetadata{Headers: flattenHeader(resp.Header), StatusCode: resp.StatusCode}
	body := s.Cache.Capture().Tee(ctx, key, resp.Body, meta, [][]byte{prefix})
	defer body.Close()

	copyHeader(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)
	if _, err := w.Write(prefix); err != nil {
		return
	}
	if _, err := io.Copy(w, body); err != nil {
		log.Printf("Error streaming to client: %v", err)
	}
}

// passThrough proxies the origin response without caching it.
func (s *Server) passThrough(ctx context.Context, w http.ResponseWriter, target string) {
	resp, err := s.fetchOrigin(ctx, target)
	if err != nil {
		http.Error(w, "could not contact origin", http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	copyHeader(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil {
		log.Printf("Error streaming to client: %v", err)
	}
}

// handleWarm enqueues a background fetch so the cache is hot before the
// first real request.
func (s *Server) handleWarm(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("url")
	target, err := url.Parse(raw)
	if err != nil || !target.IsAbs() {
		http.Error(w, "url parameter must be an absolute URL", http.StatusBadRequest)
		return
	}

	payload, err := json.Marshal(jobs.WarmFetchPayload{
		CacheKey: keyFor(http.MethodGet, target.String()),
		URL:      target.String(),
	})
	if err != nil {
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	client := asynq.NewClient(asynq.RedisClientOpt{Addr: s.RedisAddr})
	defer func() {
		if closeErr := client.Close(); closeErr != nil {
			log.Printf("Error closing asynq client: %v", closeErr)
		}
	}()

	task := asynq.NewTask(jobs.TaskWarmFetch, payload)
	info, err := client.Enqueue(task,
		asynq.Queue("warm"),
		asynq.MaxRetry(3),
		asynq.Timeout(5*time.Minute),
	)
	if err != nil {
		log.Printf("[asynq] enqueue failed: %v", err)
		http.Error(w, "could not enqueue warm task", http.StatusInternalServerError)
		return
	}
	log.Printf("[asynq] enqueued task: id=%s queue=%s maxRetry=3", info.ID, info.Queue)
	w.WriteHeader(http.StatusAccepted)
}

// handlePurge drops every cached representation of a URL.
func (s *Server) handlePurge(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("url")
	target, err := url.Parse(raw)
	if err != nil || !target.IsAbs() {
		http.Error(w, "url parameter must be an absolute URL", http.StatusBadRequest)
		return
	}
	s.Cache.Purge(r.Context(), keyFor(http.MethodGet, target.String()))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) originURLFor(r *http.Request) string {
	u := *s.Origin
	u.Path = r.URL.Path
	u.RawQuery = r.URL.RawQuery
	return u.String()
}

func writeValue(w http.ResponseWriter, v *cache.Value) {
	for name, val := range v.Headers {
		w.Header().Set(name, val)
	}
	w.WriteHeader(v.StatusCode)
	if _, err := w.Write(v.Body); err != nil {
		log.Printf("Error writing cached response: %v", err)
	}
}

func flattenHeader(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for name := range h {
		out[name] = h.Get(name)
	}
	return out
}

func copyHeader(dst, src http.Header) {
	for name, vals := range src {
		for _, v := range vals {
			dst.Add(name, v)
		}
	}
}
