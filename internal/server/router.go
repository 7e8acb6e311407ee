package server

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/AvengeMedia/dankseek/internal/config"
	"github.com/AvengeMedia/dankseek/internal/indexer"
	"github.com/AvengeMedia/dankseek/internal/log"
	"github.com/AvengeMedia/dankseek/internal/model"
	"github.com/AvengeMedia/dankseek/internal/server/models"
)

const requestTimeout = 30 * time.Second

type Searcher interface {
	Top(ctx context.Context, query string, n int) ([]model.Result, error)
}

type IndexerInterface interface {
	Trigger() bool
	Stats() *config.IndexStats
	ListFiles(prefix string, limit int) []indexer.FileInfo
}

type WatcherInterface interface {
	Start() error
	Stop() error
	IsRunning() bool
}

type Router struct {
	searcher    Searcher
	indexer     IndexerInterface
	watcher     WatcherInterface
	resultLimit int
}

func NewRouter(searcher Searcher, indexer IndexerInterface, watcher WatcherInterface, resultLimit int) *Router {
	return &Router{
		searcher:    searcher,
		indexer:     indexer,
		watcher:     watcher,
		resultLimit: resultLimit,
	}
}

func (r *Router) RouteRequest(conn net.Conn, req models.Request) {
	log.Debugf("socket request: method=%s id=%d", req.Method, req.ID)

	switch req.Method {
	case "ping":
		models.Respond(conn, req.ID, "pong")
	case "search":
		r.handleSearch(conn, req)
	case "reindex":
		r.handleReindex(conn, req)
	case "stats":
		r.handleStats(conn, req)
	case "index.files":
		r.handleIndexFiles(conn, req)
	case "watch.start":
		r.handleWatchStart(conn, req)
	case "watch.stop":
		r.handleWatchStop(conn, req)
	case "watch.status":
		r.handleWatchStatus(conn, req)
	default:
		models.RespondError(conn, req.ID, fmt.Sprintf("unknown method: %s", req.Method))
	}
}

func (r *Router) handleSearch(conn net.Conn, req models.Request) {
	query, ok := req.Params["query"].(string)
	if !ok {
		models.RespondError(conn, req.ID, "query parameter required")
		return
	}

	limit := r.resultLimit
	if l, ok := req.Params["limit"].(float64); ok && l >= 0 {
		limit = int(l)
	}

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	results, err := r.searcher.Top(ctx, query, limit)
	if err != nil {
		models.RespondError(conn, req.ID, fmt.Sprintf("search failed: %v", err))
		return
	}
	if results == nil {
		results = []model.Result{}
	}

	models.Respond(conn, req.ID, results)
}

func (r *Router) handleReindex(conn net.Conn, req models.Request) {
	status := "reindex already pending"
	if r.indexer.Trigger() {
		status = "reindex scheduled"
	}
	models.Respond(conn, req.ID, map[string]string{"status": status})
}

func (r *Router) handleStats(conn net.Conn, req models.Request) {
	models.Respond(conn, req.ID, r.indexer.Stats())
}

func (r *Router) handleWatchStart(conn net.Conn, req models.Request) {
	if r.watcher.IsRunning() {
		models.RespondError(conn, req.ID, "watcher already running")
		return
	}

	if err := r.watcher.Start(); err != nil {
		models.RespondError(conn, req.ID, fmt.Sprintf("failed to start watcher: %v", err))
		return
	}

	models.Respond(conn, req.ID, map[string]string{"status": "watcher started"})
}

func (r *Router) handleWatchStop(conn net.Conn, req models.Request) {
	if !r.watcher.IsRunning() {
		models.RespondError(conn, req.ID, "watcher not running")
		return
	}

	if err := r.watcher.Stop(); err != nil {
		models.RespondError(conn, req.ID, fmt.Sprintf("failed to stop watcher: %v", err))
		return
	}

	models.Respond(conn, req.ID, map[string]string{"status": "watcher stopped"})
}

func (r *Router) handleWatchStatus(conn net.Conn, req models.Request) {
	status := "stopped"
	if r.watcher.IsRunning() {
		status = "running"
	}

	models.Respond(conn, req.ID, map[string]string{"status": status})
}

func (r *Router) handleIndexFiles(conn net.Conn, req models.Request) {
	prefix, _ := req.Params["prefix"].(string)
	limit := 100
	if l, ok := req.Params["limit"].(float64); ok && l > 0 {
		limit = int(l)
	}

	files := r.indexer.ListFiles(prefix, 0)
	total := len(files)
	if len(files) > limit {
		files = files[:limit]
	}

	models.Respond(conn, req.ID, map[string]any{
		"files": files,
		"total": total,
	})
}
