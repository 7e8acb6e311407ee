package api

import (
	"context"
	"net/http"

	"github.com/AvengeMedia/dankseek/internal/config"
	"github.com/AvengeMedia/dankseek/internal/indexer"
	"github.com/AvengeMedia/dankseek/internal/log"
	"github.com/AvengeMedia/dankseek/internal/model"
	"github.com/danielgtaylor/huma/v2"
)

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

type Server struct {
	Searcher    Searcher
	Indexer     IndexerInterface
	Watcher     WatcherInterface
	ResultLimit int
}

type Hit struct {
	Path  string  `json:"path" example:"/home/user/notes/todo.md"`
	Score float64 `json:"score" example:"0.0213"`
}

type SearchInput struct {
	Query string `query:"q" doc:"Search query" example:"mountain"`
	Limit int    `query:"limit" minimum:"0" maximum:"10000" doc:"Maximum results, 0 for the server default"`
}

type SearchOutput struct {
	Body struct {
		Query string `json:"query"`
		Hits  []Hit  `json:"hits"`
	}
}

type ReindexOutput struct {
	Body struct {
		Status string `json:"status" example:"reindex scheduled"`
	}
}

type StatsOutput struct {
	Body *config.IndexStats
}

type FilesInput struct {
	Prefix string `query:"prefix" doc:"Only list paths starting with this prefix" example:"/home/user/notes"`
	Limit  int    `query:"limit" default:"100" minimum:"1" maximum:"100000" doc:"Maximum files"`
}

type FilesOutput struct {
	Body struct {
		Files []indexer.FileInfo `json:"files"`
		Total int                `json:"total"`
	}
}

type WatchStatusOutput struct {
	Body struct {
		Status string `json:"status" enum:"running,stopped" example:"running"`
	}
}

type WatchActionOutput struct {
	Body struct {
		Status string `json:"status" example:"watcher started"`
	}
}

func RegisterHandlers(srv *Server, api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "search",
		Summary:     "Search indexed files",
		Description: "Rank indexed documents against the query by TF-IDF, best first",
		Method:      http.MethodGet,
		Path:        "/search",
		Tags:        []string{"Search"},
	}, func(ctx context.Context, input *SearchInput) (*SearchOutput, error) {
		limit := input.Limit
		if limit == 0 {
			limit = srv.ResultLimit
		}

		results, err := srv.Searcher.Top(ctx, input.Query, limit)
		if err != nil {
			return nil, huma.Error500InternalServerError("search failed", err)
		}

		resp := &SearchOutput{}
		resp.Body.Query = input.Query
		resp.Body.Hits = make([]Hit, len(results))
		for i, r := range results {
			resp.Body.Hits[i] = Hit{Path: r.Path, Score: r.Score}
		}
		return resp, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "reindex",
		Summary:       "Trigger a reindex cycle",
		Description:   "Wake the reindex loop now instead of waiting for the next interval",
		Method:        http.MethodPost,
		Path:          "/reindex",
		DefaultStatus: http.StatusAccepted,
		Tags:          []string{"Index"},
	}, func(ctx context.Context, input *struct{}) (*ReindexOutput, error) {
		resp := &ReindexOutput{}
		if srv.Indexer.Trigger() {
			log.Debugf("reindex requested over HTTP")
			resp.Body.Status = "reindex scheduled"
		} else {
			resp.Body.Status = "reindex already pending"
		}
		return resp, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "stats",
		Summary:     "Get index statistics",
		Method:      http.MethodGet,
		Path:        "/stats",
		Tags:        []string{"Index"},
	}, func(ctx context.Context, input *struct{}) (*StatsOutput, error) {
		return &StatsOutput{Body: srv.Indexer.Stats()}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "listFiles",
		Summary:     "List indexed files",
		Method:      http.MethodGet,
		Path:        "/files",
		Tags:        []string{"Index"},
	}, func(ctx context.Context, input *FilesInput) (*FilesOutput, error) {
		all := srv.Indexer.ListFiles(input.Prefix, 0)
		resp := &FilesOutput{}
		resp.Body.Total = len(all)
		if len(all) > input.Limit {
			all = all[:input.Limit]
		}
		resp.Body.Files = all
		return resp, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "watchStart",
		Summary:     "Start file watcher",
		Method:      http.MethodPost,
		Path:        "/watch/start",
		Tags:        []string{"Watcher"},
	}, func(ctx context.Context, input *struct{}) (*WatchActionOutput, error) {
		if srv.Watcher.IsRunning() {
			return nil, huma.Error409Conflict("watcher already running")
		}
		if err := srv.Watcher.Start(); err != nil {
			log.Errorf("failed to start watcher: %v", err)
			return nil, huma.Error500InternalServerError("failed to start watcher", err)
		}
		resp := &WatchActionOutput{}
		resp.Body.Status = "watcher started"
		return resp, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "watchStop",
		Summary:     "Stop file watcher",
		Method:      http.MethodPost,
		Path:        "/watch/stop",
		Tags:        []string{"Watcher"},
	}, func(ctx context.Context, input *struct{}) (*WatchActionOutput, error) {
		if !srv.Watcher.IsRunning() {
			return nil, huma.Error409Conflict("watcher not running")
		}
		if err := srv.Watcher.Stop(); err != nil {
			log.Errorf("failed to stop watcher: %v", err)
			return nil, huma.Error500InternalServerError("failed to stop watcher", err)
		}
		resp := &WatchActionOutput{}
		resp.Body.Status = "watcher stopped"
		return resp, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "watchStatus",
		Summary:     "Get watcher status",
		Method:      http.MethodGet,
		Path:        "/watch/status",
		Tags:        []string{"Watcher"},
	}, func(ctx context.Context, input *struct{}) (*WatchStatusOutput, error) {
		resp := &WatchStatusOutput{}
		resp.Body.Status = "stopped"
		if srv.Watcher.IsRunning() {
			resp.Body.Status = "running"
		}
		return resp, nil
	})
}
