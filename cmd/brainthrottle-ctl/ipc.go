package main

import (
	"encoding/json"
	"fmt"
	"net"
	"time"
)

// Wire types (duplicated from the daemon package for a standalone binary)

type request struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

type scrollData struct {
	DX int64 `json:"dx"`
	DY int64 `json:"dy"`
}

type restoreData struct {
	Origin string `json:"origin,omitempty"`
}

type stateSnapshot struct {
	Penalized          bool      `json:"penalized"`
	OriginalBrightness float64   `json:"original_brightness"`
	PenaltyStartedAt   time.Time `json:"penalty_started_at"`
	PenaltyDeadline    time.Time `json:"penalty_deadline"`
	Brightness         float64   `json:"brightness"`
	BrightnessKnown    bool      `json:"brightness_known"`
	BrightnessAt       time.Time `json:"brightness_at"`
	RecentTotal        int64     `json:"recent_total"`
	LastScrollAt       time.Time `json:"last_scroll_at"`
}

type response struct {
	Status string         `json:"status"`
	Error  string         `json:"error,omitempty"`
	State  *stateSnapshot `json:"state,omitempty"`
}

const ipcTimeout = 3 * time.Second

type ipcClient struct {
	socketPath string
	dial       func(network, addr string) (net.Conn, error) // nil means net.Dial
}

// send writes one request line and reads one response.
func (c *ipcClient) send(req request) (response, error) {
	dial := c.dial
	if dial == nil {
		dial = net.Dial
	}
	conn, err := dial("unix", c.socketPath)
	if err != nil {
		return response{}, fmt.Errorf("connect to %s: %w", c.socketPath, err)
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(ipcTimeout))

	data, err := json.Marshal(req)
	if err != nil {
		return response{}, fmt.Errorf("marshal request: %w", err)
	}
	if _, err := fmt.Fprintf(conn, "%s\n", data); err != nil {
		return response{}, fmt.Errorf("send request: %w", err)
	}

	var resp response
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		return response{}, fmt.Errorf("decode response: %w", err)
	}
	if resp.Status != "ok" {
		return resp, fmt.Errorf("daemon error: %s", resp.Error)
	}
	return resp, nil
}
