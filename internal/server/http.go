package server

import (
	"context"
	"embed"
	"errors"
	"io/fs"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/AvengeMedia/dankseek/internal/api"
	"github.com/AvengeMedia/dankseek/internal/handlers"
	"github.com/AvengeMedia/dankseek/internal/log"
	"github.com/AvengeMedia/dankseek/internal/metrics"
	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

//go:embed static
var embedded embed.FS

type HTTPServer struct {
	server *http.Server
}

func NewHumaConfig(title, version string) huma.Config {
	schemaPrefix := "#/components/schemas/"
	schemasPath := "/schemas"

	registry := huma.NewMapRegistry(schemaPrefix, huma.DefaultSchemaNamer)

	return huma.Config{
		OpenAPI: &huma.OpenAPI{
			OpenAPI: "3.1.0",
			Info: &huma.Info{
				Title:       title,
				Version:     version,
				Description: "Local TF-IDF search over a folder of documents",
			},
			Components: &huma.Components{
				Schemas: registry,
			},
		},
		OpenAPIPath:   "/openapi",
		DocsPath:      "/docs",
		SchemasPath:   schemasPath,
		Formats:       huma.DefaultFormats,
		DefaultFormat: "application/json",
	}
}

// StaticFS returns the search page assets, read from dir when it is set and
// from the binary otherwise.
func StaticFS(dir string) fs.FS {
	if dir != "" {
		return os.DirFS(dir)
	}
	sub, err := fs.Sub(embedded, "static")
	if err != nil {
		panic(err)
	}
	return sub
}

type HTTPOptions struct {
	Addr        string
	StaticDir   string
	ResultLimit int
	Version     string
	Metrics     *metrics.Metrics
}

func NewHTTP(opts HTTPOptions, srv *api.Server) *HTTPServer {
	m := opts.Metrics
	if m == nil {
		m = metrics.New()
	}
	raw := handlers.New(srv.Searcher, opts.ResultLimit)
	static := StaticFS(opts.StaticDir)

	r := chi.NewRouter()
	r.Use(m.Middleware)

	r.Get("/health", raw.Health)
	r.Handle("/metrics", m.Handler())

	r.Group(func(r chi.Router) {
		r.Use(middleware.RequestID)
		r.Use(middleware.RealIP)
		r.Use(middleware.Logger)
		r.Use(middleware.Recoverer)
		r.Use(middleware.Timeout(30 * time.Second))

		r.Get("/", serveStatic(static, "index.html", "text/html; charset=utf-8"))
		r.Get("/index.js", serveStatic(static, "index.js", "text/javascript; charset=utf-8"))
		r.Post("/api/search", raw.SearchRaw)

		version := opts.Version
		if version == "" {
			version = "dev"
		}
		config := NewHumaConfig("DankSeek API", version)
		config.DocsPath = ""
		humaAPI := humachi.New(r, config)

		r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/html")
			w.Write([]byte(`<!doctype html>
<html>
	<head>
		<title>DankSeek API Reference</title>
		<meta charset="utf-8" />
		<meta name="viewport" content="width=device-width, initial-scale=1" />
	</head>
	<body>
		<script
			id="api-reference"
			data-url="/openapi.json"></script>
		<script src="https://cdn.jsdelivr.net/npm/@scalar/api-reference"></script>
	</body>
</html>`))
		})

		api.RegisterHandlers(srv, humaAPI)
	})

	return &HTTPServer{
		server: &http.Server{
			Addr:         opts.Addr,
			Handler:      r,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
	}
}

func serveStatic(fsys fs.FS, name, contentType string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		data, err := fs.ReadFile(fsys, name)
		if err != nil {
			log.Errorf("could not serve %s: %v", name, err)
			if errors.Is(err, fs.ErrNotExist) {
				http.NotFound(w, r)
				return
			}
			http.Error(w, "500", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", contentType)
		w.Write(data)
	}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.server.Handler
}

func (s *HTTPServer) Start() error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln until Shutdown.
func (s *HTTPServer) Serve(ln net.Listener) error {
	addr := ln.Addr().String()
	log.Infof("HTTP server listening on http://%s/", addr)
	log.Infof("API Documentation: http://%s/docs", addr)
	log.Infof("OpenAPI Spec: http://%s/openapi.json", addr)

	if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	log.Infof("shutting down HTTP server")
	return s.server.Shutdown(ctx)
}
