package server

import (
	"bufio"
	"encoding/json"
	"errors"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"github.com/AvengeMedia/dankseek/internal/log"
	"github.com/AvengeMedia/dankseek/internal/server/models"
)

func GetSocketPath() string {
	return models.SocketPath(os.Getpid())
}

func cleanupStaleSockets() {
	dir := models.SocketDir()
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}

	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasPrefix(name, models.SocketPrefix) || !strings.HasSuffix(name, ".sock") {
			continue
		}

		pidStr := strings.TrimSuffix(strings.TrimPrefix(name, models.SocketPrefix), ".sock")
		pid, err := strconv.Atoi(pidStr)
		if err != nil || pid == os.Getpid() {
			continue
		}

		socketPath := filepath.Join(dir, name)
		process, err := os.FindProcess(pid)
		if err == nil {
			err = process.Signal(syscall.Signal(0))
		}
		if err != nil {
			os.Remove(socketPath)
			log.Debugf("removed stale socket: %s", socketPath)
		}
	}
}

type UnixServer struct {
	router   *Router
	path     string
	mu       sync.Mutex
	listener net.Listener
}

// NewUnix serves router on path, or on the per-process socket when path is
// empty.
func NewUnix(router *Router, path string) *UnixServer {
	return &UnixServer{
		router: router,
		path:   path,
	}
}

func (s *UnixServer) Path() string {
	if s.path == "" {
		return GetSocketPath()
	}
	return s.path
}

func (s *UnixServer) handleConnection(conn net.Conn) {
	defer conn.Close()

	srvInfoData, _ := json.Marshal(models.ServerInfo{
		APIVersion: models.APIVersion,
	})
	conn.Write(append(srvInfoData, '\n'))

	scanner := bufio.NewScanner(conn)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 10*1024*1024)
	if scanner.Scan() {
		var req models.Request
		if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
			models.RespondError(conn, 0, "invalid json")
			return
		}

		s.router.RouteRequest(conn, req)
	}
}

func (s *UnixServer) Start() error {
	if s.path == "" {
		cleanupStaleSockets()
	}

	socketPath := s.Path()
	if err := os.MkdirAll(filepath.Dir(socketPath), 0o755); err != nil {
		return err
	}
	os.Remove(socketPath)

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	log.Infof("control socket listening on %s", socketPath)
	log.Debug(`request format: {"id": <int>, "method": "...", "params": {...}}`)

	for {
		conn, err := listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		go s.handleConnection(conn)
	}
}

func (s *UnixServer) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	err := s.listener.Close()
	s.listener = nil
	os.Remove(s.Path())
	return err
}
