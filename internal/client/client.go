// Package client talks to a running dseek server over its control socket.
package client

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/AvengeMedia/dankseek/internal/config"
	"github.com/AvengeMedia/dankseek/internal/indexer"
	"github.com/AvengeMedia/dankseek/internal/model"
	"github.com/AvengeMedia/dankseek/internal/server/models"
)

var ErrNotRunning = errors.New("service not running")

var socketOverride string

// UseSocket pins requests to path instead of discovering a running server.
func UseSocket(path string) {
	socketOverride = path
}

func findRunningSocket() (string, error) {
	if socketOverride != "" {
		return socketOverride, nil
	}

	dir := models.SocketDir()
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", ErrNotRunning
	}

	for _, entry := range entries {
		if !strings.HasPrefix(entry.Name(), models.SocketPrefix) || !strings.HasSuffix(entry.Name(), ".sock") {
			continue
		}

		socketPath := filepath.Join(dir, entry.Name())
		conn, err := net.Dial("unix", socketPath)
		if err == nil {
			conn.Close()
			return socketPath, nil
		}
	}

	return "", ErrNotRunning
}

func sendRequest(method string, params map[string]any) (json.RawMessage, error) {
	socketPath, err := findRunningSocket()
	if err != nil {
		return nil, err
	}

	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		return nil, ErrNotRunning
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(time.Minute))

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 64*1024*1024)
	if !scanner.Scan() {
		return nil, fmt.Errorf("no server info from %s", socketPath)
	}
	var info models.ServerInfo
	if err := json.Unmarshal(scanner.Bytes(), &info); err != nil {
		return nil, fmt.Errorf("bad server info: %w", err)
	}
	if info.APIVersion != models.APIVersion {
		return nil, fmt.Errorf("server speaks API version %d, want %d", info.APIVersion, models.APIVersion)
	}

	req := models.Request{
		ID:     1,
		Method: method,
		Params: params,
	}

	data, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	if _, err := conn.Write(append(data, '\n')); err != nil {
		return nil, err
	}

	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("no response from server")
	}

	var resp models.Response[json.RawMessage]
	if err := json.Unmarshal(scanner.Bytes(), &resp); err != nil {
		return nil, err
	}

	if resp.Error != "" {
		return nil, fmt.Errorf("%s", resp.Error)
	}
	if resp.Result == nil {
		return nil, fmt.Errorf("empty response from server")
	}

	return *resp.Result, nil
}

func call[T any](method string, params map[string]any) (T, error) {
	var out T
	result, err := sendRequest(method, params)
	if err != nil {
		return out, err
	}
	err = json.Unmarshal(result, &out)
	return out, err
}

func status(method string) (string, error) {
	resp, err := call[struct {
		Status string `json:"status"`
	}](method, nil)
	return resp.Status, err
}

func Ping() error {
	_, err := call[string]("ping", nil)
	return err
}

// Search returns at most limit ranked results. A limit of zero returns all.
func Search(query string, limit int) ([]model.Result, error) {
	return call[[]model.Result]("search", map[string]any{
		"query": query,
		"limit": limit,
	})
}

func Reindex() (string, error) {
	return status("reindex")
}

func Stats() (*config.IndexStats, error) {
	return call[*config.IndexStats]("stats", nil)
}

type FilesResult struct {
	Files []indexer.FileInfo `json:"files"`
	Total int                `json:"total"`
}

func Files(prefix string, limit int) (*FilesResult, error) {
	return call[*FilesResult]("index.files", map[string]any{
		"prefix": prefix,
		"limit":  limit,
	})
}

func WatchStatus() (string, error) {
	return status("watch.status")
}

func WatchStart() (string, error) {
	return status("watch.start")
}

func WatchStop() (string, error) {
	return status("watch.stop")
}
