package main

import (
	"encoding/json"
	"fmt"
)

// ============================================================================
// Action Types
// ============================================================================
// Actions are payload events produced outside the daemon goroutine (input
// devices, IPC). They carry no timestamp; the daemon wraps them in TimedEvent
// when they enter the loop so the reducer never reads the clock itself.
// ============================================================================

// ScrollDelta is one scroll observation from an input source.
type ScrollDelta struct {
	DX int64 `json:"dx"` // horizontal detents, signed
	DY int64 `json:"dy"` // vertical detents, signed
}

func (ScrollDelta) eventMarker() {}

// RestoreNow ends the current penalty episode immediately, exactly as if the
// countdown had expired. It is a no-op when no penalty is active.
type RestoreNow struct {
	Origin string `json:"origin,omitempty"` // e.g. "ipc", "ctl"
}

func (RestoreNow) eventMarker() {}

// Interrupt requests a graceful shutdown: restore if penalized, then exit.
type Interrupt struct {
	Signal string `json:"signal,omitempty"`
}

func (Interrupt) eventMarker() {}

// ============================================================================
// JSON Encoding/Decoding Support
// ============================================================================
// EventEnvelope wraps events for JSON serialization/deserialization.
// Since Go doesn't have union types, we use a type discriminator.
// ============================================================================

// EventEnvelope wraps an event with a type discriminator for JSON marshaling
type EventEnvelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// UnmarshalEvent deserializes a JSON event envelope into a concrete Event
func UnmarshalEvent(data []byte) (Event, error) {
	var env EventEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("unmarshal envelope: %w", err)
	}

	switch env.Type {
	case "scroll":
		var a ScrollDelta
		if err := json.Unmarshal(env.Data, &a); err != nil {
			return nil, fmt.Errorf("unmarshal ScrollDelta: %w", err)
		}
		return a, nil

	case "restore":
		var a RestoreNow
		if len(env.Data) > 0 {
			if err := json.Unmarshal(env.Data, &a); err != nil {
				return nil, fmt.Errorf("unmarshal RestoreNow: %w", err)
			}
		}
		return a, nil

	default:
		return nil, fmt.Errorf("unknown event type: %q", env.Type)
	}
}

// MarshalEvent serializes an Event into a JSON envelope with type discriminator
func MarshalEvent(e Event) ([]byte, error) {
	var env EventEnvelope

	switch e := e.(type) {
	case ScrollDelta:
		env.Type = "scroll"
		data, err := json.Marshal(e)
		if err != nil {
			return nil, fmt.Errorf("marshal ScrollDelta: %w", err)
		}
		env.Data = data

	case RestoreNow:
		env.Type = "restore"
		if e.Origin != "" {
			data, err := json.Marshal(e)
			if err != nil {
				return nil, fmt.Errorf("marshal RestoreNow: %w", err)
			}
			env.Data = data
		}

	default:
		return nil, fmt.Errorf("unsupported event type: %T", e)
	}

	return json.Marshal(env)
}
