package server

import (
	"bufio"
	"encoding/json"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/AvengeMedia/dankseek/internal/server/models"
)

func startUnix(t *testing.T) (*UnixServer, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.sock")
	router, _, _, _ := newTestRouter()
	srv := NewUnix(router, path)

	done := make(chan error, 1)
	go func() { done <- srv.Start() }()
	t.Cleanup(func() {
		srv.Close()
		<-done
	})

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if conn, err := net.Dial("unix", path); err == nil {
			conn.Close()
			return srv, path
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("socket %s never came up", path)
	return nil, ""
}

func roundTrip(t *testing.T, path string, line []byte) (models.ServerInfo, []byte) {
	t.Helper()
	conn, err := net.Dial("unix", path)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(5 * time.Second))

	scanner := bufio.NewScanner(conn)
	if !scanner.Scan() {
		t.Fatal("no server info line")
	}
	var info models.ServerInfo
	if err := json.Unmarshal(scanner.Bytes(), &info); err != nil {
		t.Fatalf("server info %q: %v", scanner.Bytes(), err)
	}

	if _, err := conn.Write(append(line, '\n')); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if !scanner.Scan() {
		t.Fatal("no response line")
	}
	return info, append([]byte(nil), scanner.Bytes()...)
}

func TestUnixServer_RoundTrip(t *testing.T) {
	_, path := startUnix(t)

	req, _ := json.Marshal(models.Request{ID: 42, Method: "ping"})
	info, line := roundTrip(t, path, req)

	if info.APIVersion != models.APIVersion {
		t.Errorf("APIVersion = %d, want %d", info.APIVersion, models.APIVersion)
	}

	var resp models.Response[string]
	if err := json.Unmarshal(line, &resp); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if resp.ID != 42 || resp.Result == nil || *resp.Result != "pong" {
		t.Errorf("response = %+v", resp)
	}
}

func TestUnixServer_InvalidJSON(t *testing.T) {
	_, path := startUnix(t)

	_, line := roundTrip(t, path, []byte("{not json"))

	var resp models.Response[any]
	if err := json.Unmarshal(line, &resp); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if resp.Error != "invalid json" {
		t.Errorf("Error = %q, want invalid json", resp.Error)
	}
}

func TestUnixServer_CloseRemovesSocket(t *testing.T) {
	srv, path := startUnix(t)

	if err := srv.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("socket file should be removed, stat error = %v", err)
	}
	if err := srv.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}

func TestGetSocketPath(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_RUNTIME_DIR", dir)

	want := filepath.Join(dir, models.SocketPrefix+strconv.Itoa(os.Getpid())+".sock")
	if got := GetSocketPath(); got != want {
		t.Errorf("GetSocketPath() = %q, want %q", got, want)
	}
}

func TestCleanupStaleSockets(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_RUNTIME_DIR", dir)

	// Pids are capped well below this on Linux, so no process owns it.
	stale := filepath.Join(dir, models.SocketPrefix+"2147483646.sock")
	unrelated := filepath.Join(dir, "other.sock")
	for _, p := range []string{stale, unrelated} {
		if err := os.WriteFile(p, nil, 0o600); err != nil {
			t.Fatal(err)
		}
	}

	cleanupStaleSockets()

	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Error("stale socket should be removed")
	}
	if _, err := os.Stat(unrelated); err != nil {
		t.Error("unrelated files must be left alone")
	}
}
