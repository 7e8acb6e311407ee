package server

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/AvengeMedia/dankseek/internal/api"
	"github.com/AvengeMedia/dankseek/internal/metrics"
)

func newTestHTTP(staticDir string) *HTTPServer {
	srv := &api.Server{
		Searcher:    &mockSearcher{},
		Indexer:     &mockRouterIndexer{},
		Watcher:     &mockRouterWatcher{},
		ResultLimit: 15,
	}
	return NewHTTP(HTTPOptions{
		Addr:        "127.0.0.1:6969",
		StaticDir:   staticDir,
		ResultLimit: 15,
		Metrics:     metrics.New(),
	}, srv)
}

func TestNewHTTP(t *testing.T) {
	srv := newTestHTTP("")

	if srv == nil {
		t.Fatal("NewHTTP() returned nil")
	}
	if srv.server == nil {
		t.Fatal("server should not be nil")
	}
	if srv.server.Addr != "127.0.0.1:6969" {
		t.Errorf("Addr = %v, want 127.0.0.1:6969", srv.server.Addr)
	}
}

func TestHTTPServer_Routes(t *testing.T) {
	srv := newTestHTTP("")

	tests := []struct {
		name        string
		path        string
		method      string
		body        string
		status      int
		contentType string
		contains    string
	}{
		{
			name:     "health endpoint",
			path:     "/health",
			method:   http.MethodGet,
			status:   http.StatusOK,
			contains: "ok",
		},
		{
			name:        "search page",
			path:        "/",
			method:      http.MethodGet,
			status:      http.StatusOK,
			contentType: "text/html; charset=utf-8",
			contains:    "index.js",
		},
		{
			name:        "search script",
			path:        "/index.js",
			method:      http.MethodGet,
			status:      http.StatusOK,
			contentType: "text/javascript; charset=utf-8",
			contains:    "/api/search",
		},
		{
			name:        "raw search",
			path:        "/api/search",
			method:      http.MethodPost,
			body:        "notes",
			status:      http.StatusOK,
			contentType: "application/json",
			contains:    `["/notes/a.txt",0.5]`,
		},
		{
			name:   "raw search wrong method",
			path:   "/api/search",
			method: http.MethodGet,
			status: http.StatusMethodNotAllowed,
		},
		{
			name:     "search endpoint",
			path:     "/search?q=test",
			method:   http.MethodGet,
			status:   http.StatusOK,
			contains: "/notes/a.txt",
		},
		{
			name:   "stats endpoint",
			path:   "/stats",
			method: http.MethodGet,
			status: http.StatusOK,
		},
		{
			name:   "watch status endpoint",
			path:   "/watch/status",
			method: http.MethodGet,
			status: http.StatusOK,
		},
		{
			name:     "openapi document",
			path:     "/openapi.json",
			method:   http.MethodGet,
			status:   http.StatusOK,
			contains: "DankSeek API",
		},
		{
			name:   "unknown path",
			path:   "/nope",
			method: http.MethodGet,
			status: http.StatusNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, strings.NewReader(tt.body))
			rec := httptest.NewRecorder()

			srv.Handler().ServeHTTP(rec, req)

			if rec.Code != tt.status {
				t.Errorf("status = %v, want %v", rec.Code, tt.status)
			}
			if tt.contentType != "" && rec.Header().Get("Content-Type") != tt.contentType {
				t.Errorf("Content-Type = %q, want %q", rec.Header().Get("Content-Type"), tt.contentType)
			}
			if tt.contains != "" && !strings.Contains(rec.Body.String(), tt.contains) {
				t.Errorf("body %q does not contain %q", rec.Body.String(), tt.contains)
			}
		})
	}
}

func TestHTTPServer_RawSearchLimit(t *testing.T) {
	srv := &api.Server{
		Searcher: &mockSearcher{},
		Indexer:  &mockRouterIndexer{},
		Watcher:  &mockRouterWatcher{},
	}
	h := NewHTTP(HTTPOptions{Addr: ":0", ResultLimit: 1}, srv)

	rec := httptest.NewRecorder()
	h.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/search", strings.NewReader("q")))

	var pairs [][2]any
	if err := json.Unmarshal(rec.Body.Bytes(), &pairs); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if len(pairs) != 1 {
		t.Errorf("got %d results, want 1", len(pairs))
	}
}

func TestHTTPServer_StaticDirOverride(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "index.html"), []byte("<p>custom</p>"), 0o644); err != nil {
		t.Fatal(err)
	}
	srv := newTestHTTP(dir)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusOK || rec.Body.String() != "<p>custom</p>" {
		t.Errorf("GET / = %d %q", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/index.js", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing static file status = %d, want 404", rec.Code)
	}
}

func TestHTTPServer_Metrics(t *testing.T) {
	srv := newTestHTTP("")

	srv.Handler().ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %v", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "dankseek_http_requests_total") {
		t.Error("metrics output should include the request counter")
	}
}

func TestHTTPServer_Shutdown(t *testing.T) {
	srv := newTestHTTP("")

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}

	done := make(chan error, 1)
	go func() {
		done <- srv.Serve(ln)
	}()

	resp, err := http.Get("http://" + ln.Addr().String() + "/health")
	if err != nil {
		t.Fatalf("GET /health error = %v", err)
	}
	resp.Body.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		t.Errorf("Shutdown() error = %v", err)
	}
	if err := <-done; err != nil {
		t.Errorf("Serve() error = %v", err)
	}
}
