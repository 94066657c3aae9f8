// Package http exposes the ledger engine as a JSON API.
package http

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"dompet/internal/cache"
	"dompet/internal/core"
	"dompet/internal/ledger"
	"dompet/internal/log"
	"dompet/internal/middleware/ratelimit"
	"dompet/internal/middleware/security"
	"dompet/internal/middleware/trace"
	"dompet/internal/overview"
)

// Pinger is implemented by stores that can report readiness.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Config struct {
	Addr string
	// OverviewCacheSize and OverviewCacheTTL bound the dashboard cache.
	// A size of zero disables it.
	OverviewCacheSize int
	OverviewCacheTTL  time.Duration
	RateLimit         ratelimit.Config
	Logger            *log.Logger
	// Clock supplies the default month; nil means time.Now.
	Clock func() time.Time
	// Ready is checked by /readyz when set.
	Ready Pinger
}

func DefaultConfig() Config {
	return Config{
		Addr:              ":8080",
		OverviewCacheSize: 256,
		OverviewCacheTTL:  30 * time.Second,
		RateLimit:         ratelimit.DefaultConfig(),
	}
}

type Server struct {
	http.Server
	svc    *ledger.Service
	logger *log.Logger
	now    func() time.Time
	ready  Pinger

	overviewCache *cache.LRUCache[overview.Payload]
	// overviewGen counts each user's writes. A dashboard is cached only if no
	// write finished while it was composed. Guarded by overviewMu.
	overviewMu   sync.Mutex
	overviewGen  map[core.UserID]uint64
	cacheManager *cache.Manager
	rateLimiter   *ratelimit.Limiter
	detector      *security.Detector
	tracer        *trace.Middleware
	started       time.Time

	shutdownOnce sync.Once
}

// apiFunc handles an authenticated call and returns the status and body to
// send. A nil body sends no content.
type apiFunc func(r *http.Request, user core.UserID) (int, any, error)

func NewServer(svc *ledger.Service, cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = log.Discard()
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	logger := cfg.Logger.WithComponent(log.ComponentHTTP)

	s := &Server{
		svc:          svc,
		logger:       logger,
		now:          cfg.Clock,
		ready:        cfg.Ready,
		overviewGen:  make(map[core.UserID]uint64),
		cacheManager: cache.NewManager(cfg.Logger),
		rateLimiter:  ratelimit.NewLimiter(cfg.RateLimit),
		detector:     security.NewDetector(cfg.Logger),
		started:      cfg.Clock(),
	}
	s.tracer = trace.NewMiddleware(cfg.Logger, s.detector.ExtractClientIP)
	if cfg.OverviewCacheSize > 0 {
		s.overviewCache = cache.NewLRUCache[overview.Payload](cfg.OverviewCacheSize, cfg.OverviewCacheTTL)
		s.cacheManager.Register(s.overviewCache)
		s.cacheManager.StartCleanup(5 * time.Minute)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)
	mux.HandleFunc("GET /metrics", s.handleMetrics)

	mux.HandleFunc("GET /api/payment-methods", s.api(s.listPaymentMethods))
	mux.HandleFunc("POST /api/payment-methods", s.api(s.createPaymentMethod))
	mux.HandleFunc("GET /api/payment-methods/{id}", s.api(s.getPaymentMethod))
	mux.HandleFunc("PUT /api/payment-methods/{id}", s.api(s.updatePaymentMethod))
	mux.HandleFunc("DELETE /api/payment-methods/{id}", s.api(s.deletePaymentMethod))

	mux.HandleFunc("GET /api/categories", s.api(s.listCategories))
	mux.HandleFunc("POST /api/categories", s.api(s.createCategory))
	mux.HandleFunc("DELETE /api/categories/{id}", s.api(s.deleteCategory))
	mux.HandleFunc("GET /api/subcategories", s.api(s.listSubcategories))
	mux.HandleFunc("POST /api/subcategories", s.api(s.createSubcategory))
	mux.HandleFunc("DELETE /api/subcategories/{id}", s.api(s.deleteSubcategory))

	mux.HandleFunc("GET /api/transactions", s.api(s.listTransactions))
	mux.HandleFunc("POST /api/transactions", s.api(s.createTransaction))
	mux.HandleFunc("GET /api/transactions/{id}", s.api(s.getTransaction))
	mux.HandleFunc("PUT /api/transactions/{id}", s.api(s.updateTransaction))
	mux.HandleFunc("DELETE /api/transactions/{id}", s.api(s.deleteTransaction))

	mux.HandleFunc("GET /api/transfers", s.api(s.listTransfers))
	mux.HandleFunc("POST /api/transfers", s.api(s.createTransfer))
	mux.HandleFunc("GET /api/transfers/{id}", s.api(s.getTransfer))
	mux.HandleFunc("PUT /api/transfers/{id}", s.api(s.updateTransfer))
	mux.HandleFunc("DELETE /api/transfers/{id}", s.api(s.deleteTransfer))

	mux.HandleFunc("GET /api/budgets/overview", s.api(s.budgetOverview))
	mux.HandleFunc("PUT /api/budgets", s.api(s.upsertBudgets))
	mux.HandleFunc("GET /api/dashboard/overview", s.api(s.dashboardOverview))

	mux.HandleFunc("POST /api/seed", s.api(s.seed))
	mux.HandleFunc("POST /api/reconcile", s.api(s.reconcile))

	var handler http.Handler = mux
	handler = s.rateLimiter.Middleware(s.rateLimitKey, s.onRateLimit)(handler)
	handler = security.NewHeadersMiddleware(security.DefaultHeadersConfig()).Middleware(handler)
	handler = s.detector.Middleware(handler)
	handler = s.tracer.Middleware(handler)

	s.Server = http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s
}

// api resolves the caller, runs h and renders its result. Successful writes
// drop the caller's cached dashboards before the response is sent.
func (s *Server) api(h apiFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, err := userFrom(r)
		if err != nil {
			writeError(w, r, err)
			return
		}
		status, body, err := h(r, user)
		if err != nil {
			writeError(w, r, err)
			return
		}
		if r.Method != http.MethodGet {
			s.invalidateOverview(user)
		}
		writeJSON(w, status, body)
	}
}

// Shutdown gracefully shuts down the server and its background routines.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		s.cacheManager.Stop()
		s.rateLimiter.Stop()
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}

// rateLimitKey counts writes per user when identified, per client IP
// otherwise.
func (s *Server) rateLimitKey(r *http.Request) string {
	if user, err := userFrom(r); err == nil {
		return "user:" + string(user)
	}
	return "ip:" + s.detector.ExtractClientIP(r)
}

func (s *Server) onRateLimit(w http.ResponseWriter, r *http.Request) {
	s.logger.WarnContext(r.Context(), "Rate limit exceeded",
		log.FieldClientIP, s.detector.ExtractClientIP(r), log.FieldMethod, r.Method, log.FieldPath, r.URL.Path)
	w.Header().Set("Retry-After", "60")
	writeJSON(w, http.StatusTooManyRequests, errorBody{Error: "rate limit exceeded", Kind: "rate_limited"})
}

func overviewKey(user core.UserID, month core.Month, days int, today core.Date) string {
	return fmt.Sprintf("%s|%s|%d|%s", user, month, days, today)
}

// overviewGeneration returns the write count of user, to be passed to
// cacheOverview once the payload is composed.
func (s *Server) overviewGeneration(user core.UserID) uint64 {
	s.overviewMu.Lock()
	defer s.overviewMu.Unlock()
	return s.overviewGen[user]
}

// cacheOverview stores p unless a write of user finished after gen was read.
func (s *Server) cacheOverview(user core.UserID, gen uint64, key string, p overview.Payload) {
	s.overviewMu.Lock()
	defer s.overviewMu.Unlock()
	if s.overviewGen[user] != gen {
		return
	}
	s.overviewCache.Set(key, p)
}

func (s *Server) invalidateOverview(user core.UserID) {
	if s.overviewCache == nil {
		return
	}
	s.overviewMu.Lock()
	defer s.overviewMu.Unlock()
	s.overviewGen[user]++
	prefix := string(user) + "|"
	s.overviewCache.DeleteFunc(func(key string) bool { return strings.HasPrefix(key, prefix) })
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": s.now().UTC().Format(time.RFC3339),
		"uptime":    s.now().Sub(s.started).Round(time.Second).String(),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status, code := "ready", http.StatusOK
	checks := map[string]any{}
	if s.ready != nil {
		if err := s.ready.Ping(ctx); err != nil {
			checks["store"] = "failed: " + err.Error()
			status, code = "not_ready", http.StatusServiceUnavailable
		} else {
			checks["store"] = "ok"
		}
	}
	if s.overviewCache != nil {
		checks["overview_cache"] = map[string]any{"entries": s.overviewCache.Size()}
	}
	checks["rate_limiter"] = map[string]any{"active_clients": s.rateLimiter.ActiveClients()}

	writeJSON(w, code, map[string]any{
		"status":    status,
		"timestamp": s.now().UTC().Format(time.RFC3339),
		"checks":    checks,
	})
}

// handleMetrics reports counters in plain text.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")

	tm := s.tracer.GetMetrics()
	rl := s.rateLimiter.GetMetrics()
	sec := s.detector.GetMetrics()

	var b strings.Builder
	fmt.Fprintf(&b, "dompet_http_requests_total %d\n", tm.TotalRequests)
	fmt.Fprintf(&b, "dompet_http_server_errors_total %d\n", tm.ServerErrors)
	fmt.Fprintf(&b, "dompet_http_last_response_microseconds %d\n", tm.LastResponseTime)
	fmt.Fprintf(&b, "dompet_rate_limit_hits_total %d\n", rl.TotalHits)
	fmt.Fprintf(&b, "dompet_rate_limit_clients %d\n", rl.ClientCount)
	fmt.Fprintf(&b, "dompet_security_suspicious_total %d\n", sec.SuspiciousRequests)
	fmt.Fprintf(&b, "dompet_security_blocked_total %d\n", sec.BlockedRequests)
	if s.overviewCache != nil {
		st := s.overviewCache.Stats()
		fmt.Fprintf(&b, "dompet_overview_cache_hits_total %d\n", st.Hits)
		fmt.Fprintf(&b, "dompet_overview_cache_misses_total %d\n", st.Misses)
		fmt.Fprintf(&b, "dompet_overview_cache_entries %d\n", st.Entries)
	}
	fmt.Fprintf(&b, "dompet_uptime_seconds %d\n", int64(s.now().Sub(s.started).Seconds()))
	_, _ = w.Write([]byte(b.String()))
}
