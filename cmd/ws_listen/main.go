package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/url"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
)

// ws_listen prints the brainthrottle state feed, one line per event.

type envelope struct {
	Type string          `json:"type"`
	Ts   *time.Time      `json:"ts,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

func main() {
	var (
		wsURL = flag.String("ws", "ws://127.0.0.1:3002/ws", "brainthrottle state WebSocket URL")
		raw   = flag.Bool("raw", false, "Print frames verbatim")
	)
	flag.Parse()

	u, err := url.Parse(*wsURL)
	if err != nil {
		log.Fatalf("invalid websocket URL: %v", err)
	}

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)

	d := websocket.Dialer{HandshakeTimeout: 5 * time.Second}

	log.Printf("connecting to %s...", u.String())
	conn, _, err := d.Dial(u.String(), nil)
	if err != nil {
		log.Fatalf("failed to connect: %v", err)
	}
	defer conn.Close()
	log.Printf("connected! (press Ctrl+C to exit)")

	// The server pings every 20s; each ping extends the read deadline.
	_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPingHandler(func(appData string) error {
		_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(time.Second))
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			messageType, message, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Printf("websocket error: %v", err)
				}
				return
			}
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))

			if messageType != websocket.TextMessage {
				continue
			}
			if *raw {
				fmt.Println(string(message))
				continue
			}
			printFrame(os.Stdout, message)
		}
	}()

	select {
	case <-sigc:
		log.Printf("shutting down...")
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		if err := conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second)); err != nil {
			log.Printf("error closing connection: %v", err)
		}
	case <-done:
		log.Printf("connection closed")
	}
}

// printFrame prints one state frame as "<time> [TYPE] key=value ...".
func printFrame(w io.Writer, message []byte) {
	var env envelope
	if err := json.Unmarshal(message, &env); err != nil {
		fmt.Fprintf(w, "[TEXT] %s\n", string(message))
		return
	}

	ts := time.Now()
	if env.Ts != nil {
		ts = env.Ts.Local()
	}

	var fields map[string]any
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, &fields); err != nil {
			fmt.Fprintf(w, "%s [%s] %s\n", ts.Format("15:04:05.000"), env.Type, string(env.Data))
			return
		}
	}

	fmt.Fprintf(w, "%s [%s]", ts.Format("15:04:05.000"), env.Type)
	for _, k := range sortedKeys(fields) {
		fmt.Fprintf(w, " %s=%v", k, fields[k])
	}
	fmt.Fprintln(w)
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
