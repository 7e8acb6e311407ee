// Package models holds the line-delimited JSON envelopes spoken over the
// control socket.
package models

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
)

const (
	APIVersion   = 1
	SocketPrefix = "dankseek-"
)

type ServerInfo struct {
	APIVersion int `json:"apiVersion"`
}

type Request struct {
	ID     int            `json:"id,omitempty"`
	Method string         `json:"method"`
	Params map[string]any `json:"params,omitempty"`
}

type Response[T any] struct {
	ID     int    `json:"id,omitempty"`
	Result *T     `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

func Respond(conn net.Conn, id int, result any) {
	write(conn, Response[any]{ID: id, Result: &result})
}

func RespondError(conn net.Conn, id int, msg string) {
	write(conn, Response[any]{ID: id, Error: msg})
}

func write(conn net.Conn, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		data, _ = json.Marshal(Response[any]{Error: fmt.Sprintf("encode response: %v", err)})
	}
	conn.Write(append(data, '\n'))
}

// SocketDir is where servers place their sockets and clients look for them.
func SocketDir() string {
	if runtime := os.Getenv("XDG_RUNTIME_DIR"); runtime != "" {
		return runtime
	}
	if info, err := os.Stat("/run/dankseek"); err == nil && info.IsDir() {
		return "/run/dankseek"
	}
	return os.TempDir()
}

// SocketPath is the socket for the server running as pid.
func SocketPath(pid int) string {
	return filepath.Join(SocketDir(), fmt.Sprintf("%s%d.sock", SocketPrefix, pid))
}
