package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strings"
	"time"
)

// ============================================================================
// IPC Server - Unix Domain Socket Interface
// ============================================================================
// Lets brainthrottle-ctl and scripts talk to the daemon.
//
// Protocol: Line-delimited JSON
//   - Client sends: {"type": "scroll", "data": {"dx": 0, "dy": 3}}
//                   {"type": "restore"}
//                   {"type": "status"}
//   - Server responds: {"status": "ok"} (plus "state" for status requests)
//                      or {"status": "error", "error": "msg"}
// ============================================================================

// ipcStatusType is the one request type answered by the IPC layer itself
// (via a snapshot round-trip) instead of being forwarded as an event.
const ipcStatusType = "status"

// ipcSnapshotTimeout bounds the snapshot round-trip through the daemon loop.
const ipcSnapshotTimeout = time.Second

// IPCResponse represents the response sent back to IPC clients
type IPCResponse struct {
	Status string         `json:"status"`          // "ok" or "error"
	Error  string         `json:"error,omitempty"` // error message if status == "error"
	State  *StateSnapshot `json:"state,omitempty"` // status requests only
}

// runIPCServer serves the Unix domain socket until ctx is canceled.
func runIPCServer(ctx context.Context, socketPath string, events chan<- Event, logger *slog.Logger) error {
	socketPath = ExpandPath(socketPath)

	// Remove a stale socket left by a previous run.
	if err := os.RemoveAll(socketPath); err != nil {
		return fmt.Errorf("remove existing socket: %w", err)
	}

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", socketPath, err)
	}
	defer listener.Close()
	defer os.Remove(socketPath)

	// Only the owning user may poke the daemon.
	if err := os.Chmod(socketPath, 0o600); err != nil {
		return fmt.Errorf("chmod socket: %w", err)
	}

	logger.Info("IPC listening", "socket", socketPath)

	// Close the listener on shutdown. This unblocks Accept().
	go func() {
		<-ctx.Done()
		_ = listener.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				logger.Debug("IPC listener closed")
				return nil
			}
			logger.Error("IPC accept error", "error", err)
			continue
		}

		go handleIPCConnection(ctx, conn, events, logger)
	}
}

// handleIPCConnection serves one client until it disconnects.
func handleIPCConnection(ctx context.Context, conn net.Conn, events chan<- Event, logger *slog.Logger) {
	defer conn.Close()

	scanner := bufio.NewScanner(conn)
	encoder := json.NewEncoder(conn)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		logger.Debug("IPC received", "line", line)

		resp := handleIPCRequest(ctx, []byte(line), events)
		if err := encoder.Encode(resp); err != nil {
			logger.Error("IPC failed to send response", "error", err)
			return
		}
	}
}

// handleIPCRequest turns one request line into a response.
func handleIPCRequest(ctx context.Context, line []byte, events chan<- Event) IPCResponse {
	var env EventEnvelope
	if err := json.Unmarshal(line, &env); err != nil {
		return ipcError(fmt.Errorf("parse request: %w", err))
	}

	if env.Type == ipcStatusType {
		snap, err := requestSnapshot(ctx, events, ipcSnapshotTimeout)
		if err != nil {
			return ipcError(fmt.Errorf("status: %w", err))
		}
		return IPCResponse{Status: "ok", State: &snap}
	}

	// Payload events only; the daemon assigns timestamps.
	ev, err := UnmarshalEvent(line)
	if err != nil {
		return ipcError(fmt.Errorf("parse event: %w", err))
	}

	select {
	case events <- ev:
		return IPCResponse{Status: "ok"}
	default:
		return ipcError(errors.New("event queue full"))
	}
}

func ipcError(err error) IPCResponse {
	return IPCResponse{Status: "error", Error: err.Error()}
}
