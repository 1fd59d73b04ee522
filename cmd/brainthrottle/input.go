package main

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"os"
)

// inputEvent represents a Linux input event structure
// struct input_event { struct timeval time; __u16 type; __u16 code; __s32 value; };
type inputEvent struct {
	Sec   int64
	Usec  int64
	Type  uint16
	Code  uint16
	Value int32
}

var inputEventSize = binary.Size(inputEvent{})

// decodeInputEvents decodes every complete input_event in buf.
func decodeInputEvents(buf []byte, fn func(inputEvent)) {
	reader := bytes.NewReader(nil)
	for len(buf) >= inputEventSize {
		reader.Reset(buf[:inputEventSize])
		buf = buf[inputEventSize:]

		var ev inputEvent
		if err := binary.Read(reader, binary.LittleEndian, &ev); err != nil {
			// Skip malformed events
			continue
		}
		fn(ev)
	}
}

// readInputEvents reads input events from r until it fails and sends them to
// events. It runs in a dedicated goroutine and blocks on read operations.
func readInputEvents(r io.Reader, events chan<- inputEvent, readErr chan<- error) {
	buf := make([]byte, inputEventSize)
	for {
		if _, err := io.ReadFull(r, buf); err != nil {
			readErr <- err
			return
		}
		decodeInputEvents(buf, func(ev inputEvent) { events <- ev })
	}
}

// openInputDevices opens every configured device read-only. On error the
// already-opened files are closed.
func openInputDevices(paths []string) ([]*os.File, error) {
	files := make([]*os.File, 0, len(paths))
	for _, p := range paths {
		f, err := os.Open(p)
		if err != nil {
			closeInputDevices(files)
			return nil, fmt.Errorf("open input device %s: %w", p, err)
		}
		files = append(files, f)
	}
	return files, nil
}

func closeInputDevices(files []*os.File) {
	for _, f := range files {
		_ = f.Close()
	}
}

// scrollFramer groups REL_WHEEL / REL_HWHEEL values up to the next EV_SYN
// into a single ScrollDelta, so one physical wheel notch (which may report
// both axes in the same frame) is one scroll event.
type scrollFramer struct {
	dx, dy  int64
	pending bool
}

// Feed consumes one raw event and returns a ScrollDelta when a frame with
// scroll motion is complete.
func (f *scrollFramer) Feed(ev inputEvent) (ScrollDelta, bool) {
	switch ev.Type {
	case EV_REL:
		switch ev.Code {
		case REL_WHEEL:
			f.dy += int64(ev.Value)
			f.pending = true
		case REL_HWHEEL:
			f.dx += int64(ev.Value)
			f.pending = true
		}
		// Hi-res wheel codes and pointer motion are ignored.
		return ScrollDelta{}, false

	case EV_SYN:
		if !f.pending {
			return ScrollDelta{}, false
		}
		d := ScrollDelta{DX: f.dx, DY: f.dy}
		*f = scrollFramer{}
		return d, true

	default:
		return ScrollDelta{}, false
	}
}

// runInputForwarder translates raw input events into ScrollDelta events for
// the daemon. It returns when ctx is done, or with the reader's error.
func runInputForwarder(ctx context.Context, raw <-chan inputEvent, readErr <-chan error, out chan<- Event, logger *slog.Logger) error {
	var framer scrollFramer
	for {
		select {
		case <-ctx.Done():
			return nil

		case err := <-readErr:
			return fmt.Errorf("input reader stopped: %w", err)

		case ev := <-raw:
			d, ok := framer.Feed(ev)
			if !ok {
				continue
			}
			logger.Debug("scroll", "dx", d.DX, "dy", d.DY)
			select {
			case out <- d:
			case <-ctx.Done():
				return nil
			}
		}
	}
}
