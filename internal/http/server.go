package http

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"bankfeed/internal/ledger"
	"bankfeed/internal/log"
	"bankfeed/internal/services"
)

type Server struct {
	http.Server
	svc    *services.RefreshService
	holder *ledger.Holder
	logger *log.Logger

	rateLimiter *rateLimiter
	metrics     securityMetrics

	shutdownOnce sync.Once
}

// Simple in-memory rate limiter
type rateLimiter struct {
	mu           sync.Mutex
	clients      map[string]*clientInfo
	stopCleanup  chan struct{}
	shutdownOnce sync.Once
}

type clientInfo struct {
	lastRequest time.Time
	requests    int
}

func newRateLimiter() *rateLimiter {
	rl := &rateLimiter{
		clients:     make(map[string]*clientInfo),
		stopCleanup: make(chan struct{}),
	}
	go rl.startCleanup()
	return rl
}

// startCleanup runs periodic cleanup to remove stale client entries
func (rl *rateLimiter) startCleanup() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanupStaleEntries()
		case <-rl.stopCleanup:
			return
		}
	}
}

// cleanupStaleEntries removes client entries older than 10 minutes
func (rl *rateLimiter) cleanupStaleEntries() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := time.Now().Add(-10 * time.Minute)
	for ip, client := range rl.clients {
		if client.lastRequest.Before(cutoff) {
			delete(rl.clients, ip)
		}
	}
}

func (rl *rateLimiter) stop() {
	rl.shutdownOnce.Do(func() {
		if rl.stopCleanup != nil {
			close(rl.stopCleanup)
		}
	})
}

func (rl *rateLimiter) allow(clientIP string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	client, exists := rl.clients[clientIP]

	if !exists {
		rl.clients[clientIP] = &clientInfo{
			lastRequest: now,
			requests:    1,
		}
		return true
	}

	// Reset counter if more than 1 minute has passed
	if now.Sub(client.lastRequest) > time.Minute {
		client.requests = 1
		client.lastRequest = now
		return true
	}

	// Allow up to 60 requests per minute
	client.requests++
	client.lastRequest = now

	return client.requests <= 60
}

// NewServer configures the JSON API routes, returning a ready-to-run server.
func NewServer(addr string, svc *services.RefreshService, holder *ledger.Holder, logger *log.Logger) *Server {
	mux := http.NewServeMux()

	s := &Server{
		Server: http.Server{
			Addr:    addr,
			Handler: mux,
		},
		svc:         svc,
		holder:      holder,
		logger:      logger.WithComponent(log.ComponentHTTP),
		rateLimiter: newRateLimiter(),
	}

	mux.HandleFunc("GET /healthz", handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)

	mux.HandleFunc("POST /refresh", s.withSecurityHeaders(s.handleRefresh))

	mux.HandleFunc("GET /transactions", s.withSecurityHeaders(s.handleTransactions))
	mux.HandleFunc("GET /balances", s.withSecurityHeaders(s.handleBalances))
	mux.HandleFunc("GET /networth", s.withSecurityHeaders(s.handleNetWorth))
	mux.HandleFunc("GET /categories", s.withSecurityHeaders(s.handleCategories))

	mux.HandleFunc("GET /budget", s.withSecurityHeaders(s.handleGetBudget))
	mux.HandleFunc("GET /budget/{category}", s.withSecurityHeaders(s.handleGetBudgetCategory))
	mux.HandleFunc("PUT /budget", s.withSecurityHeaders(s.handlePutBudget))

	mux.HandleFunc("GET /rules", s.withSecurityHeaders(s.handleListRules))
	mux.HandleFunc("POST /rules", s.withSecurityHeaders(s.handleAddRule))
	mux.HandleFunc("DELETE /rules/{index}", s.withSecurityHeaders(s.handleRemoveRule))

	mux.HandleFunc("GET /charts/balances", s.withSecurityHeaders(s.handleChartBalances))
	mux.HandleFunc("GET /charts/budget", s.withSecurityHeaders(s.handleChartBudget))
	mux.HandleFunc("GET /charts/transactions-in", s.withSecurityHeaders(s.handleChartTransactionsIn))
	mux.HandleFunc("GET /charts/transactions-out", s.withSecurityHeaders(s.handleChartTransactionsOut))

	mux.HandleFunc("GET /tokens/invalid", s.withSecurityHeaders(s.handleInvalidTokens))
	mux.HandleFunc("POST /tokens/exchange", s.withSecurityHeaders(s.handleExchangeToken))

	return s
}

// Shutdown gracefully shuts down the server and cleanup routines
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error

	s.shutdownOnce.Do(func() {
		if s.rateLimiter != nil {
			s.rateLimiter.stop()
		}
		shutdownErr = s.Server.Shutdown(ctx)
	})

	return shutdownErr
}

// withSecurityHeaders adds security headers, rate limiting, and request
// logging to responses.
func (s *Server) withSecurityHeaders(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		clientIP := extractClientIP(r)
		requestID := generateRequestID()

		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		s.logger.InfoContext(ctx, "request started",
			log.FieldRequestID, requestID,
			log.FieldMethod, r.Method,
			log.FieldPath, r.URL.Path,
			log.FieldClientIP, clientIP)

		if detectSuspiciousRequest(r, &s.metrics) {
			s.logger.WarnContext(ctx, "suspicious request",
				log.FieldRequestID, requestID,
				log.FieldPath, r.URL.Path,
				log.FieldClientIP, clientIP)
		}

		// Mutations are rate limited; reads are cheap snapshot lookups.
		if r.Method != http.MethodGet && !s.rateLimiter.allow(clientIP) {
			atomic.AddInt64(&s.metrics.rateLimitHits, 1)
			s.logger.WarnContext(ctx, "rate limit exceeded",
				log.FieldClientIP, clientIP,
				log.FieldMethod, r.Method,
				log.FieldPath, r.URL.Path)
			w.Header().Set("Retry-After", "60")
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}

		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")

		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next(rw, r)

		duration := time.Since(start)
		s.logger.InfoContext(ctx, "request completed",
			log.FieldRequestID, requestID,
			log.FieldMethod, r.Method,
			log.FieldPath, r.URL.Path,
			log.FieldStatusCode, rw.statusCode,
			log.FieldDuration, duration.Milliseconds(),
			log.FieldClientIP, clientIP)
	}
}

type requestIDKey struct{}

// responseWriter wraps http.ResponseWriter to capture the status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// generateRequestID creates a unique request ID for tracing
func generateRequestID() string {
	bytes := make([]byte, 8)
	if _, err := rand.Read(bytes); err != nil {
		return fmt.Sprintf("req_%d", time.Now().UnixNano())
	}
	return "req_" + hex.EncodeToString(bytes)
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.holder.Load() == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}
