package security

import (
	"crypto/tls"
	"net/http"
	"net/http/httptest"
	"testing"

	"dompet/internal/log"
)

func TestDetectSuspiciousRequest(t *testing.T) {
	d := NewDetector(log.Discard())
	cases := []struct {
		name   string
		method string
		target string
		agent  string
		want   bool
	}{
		{"plain api call", http.MethodGet, "/api/transactions?month=2025-03", "curl/8.0", false},
		{"path traversal", http.MethodGet, "/api/../../etc/passwd", "", true},
		{"scanner agent", http.MethodGet, "/api/transactions", "sqlmap/1.7", true},
		{"trace method", "TRACE", "/api/transactions", "", true},
		{"script in query", http.MethodGet, "/api/transfers?month=%3Cscript%3E", "", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(tc.method, tc.target, nil)
			req.Header.Set("User-Agent", tc.agent)
			got, reason := d.DetectSuspiciousRequest(req)
			if got != tc.want {
				t.Fatalf("got %v (%s), want %v", got, reason, tc.want)
			}
		})
	}
}

func TestDetectorMiddlewareBlocksTrace(t *testing.T) {
	d := NewDetector(log.Discard())
	called := false
	h := d.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true }))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest("TRACE", "/api/transactions", nil))
	if called || rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405 without reaching the handler, got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/.git/config", nil))
	if !called {
		t.Fatalf("suspicious GET should be logged, not blocked")
	}
	if m := d.GetMetrics(); m.SuspiciousRequests != 2 || m.BlockedRequests != 1 {
		t.Fatalf("unexpected metrics %+v", m)
	}
}

func TestExtractClientIP(t *testing.T) {
	d := NewDetector(nil)
	cases := []struct {
		remote, xff, want string
	}{
		{"203.0.113.5:1234", "198.51.100.1", "203.0.113.5"},
		{"10.0.0.2:1234", "198.51.100.1, 10.0.0.2", "198.51.100.1"},
		{"10.0.0.2:1234", "garbage", "10.0.0.2"},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = tc.remote
		req.Header.Set("X-Forwarded-For", tc.xff)
		if got := d.ExtractClientIP(req); got != tc.want {
			t.Fatalf("remote %s xff %q: got %s, want %s", tc.remote, tc.xff, got, tc.want)
		}
	}
}

func TestHeadersMiddleware(t *testing.T) {
	h := NewHeadersMiddleware(DefaultHeadersConfig()).Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	if rr.Header().Get("X-Content-Type-Options") != "nosniff" || rr.Header().Get("Cache-Control") != "no-store" {
		t.Fatalf("missing headers: %v", rr.Header())
	}
	if rr.Header().Get("Strict-Transport-Security") != "" {
		t.Fatalf("HSTS must only be sent over TLS")
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.TLS = &tls.ConnectionState{}
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Header().Get("Strict-Transport-Security") == "" {
		t.Fatalf("expected HSTS over TLS")
	}
}
