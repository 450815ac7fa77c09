// Package realtimetest provides an in-memory Conn for tests.
package realtimetest

import (
	"encoding/json"
	"sync"

	"chatcall_realtime/internal/model"
)

// Conn records every frame sent to it. Full makes Send drop frames.
type Conn struct {
	mu     sync.Mutex
	frames []model.Frame
	Full   bool
}

func (c *Conn) Send(frame []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Full {
		return false
	}
	var f model.Frame
	if err := json.Unmarshal(frame, &f); err != nil {
		return false
	}
	c.frames = append(c.frames, f)
	return true
}

// Frames returns a copy of the recorded frames.
func (c *Conn) Frames() []model.Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]model.Frame, len(c.frames))
	copy(out, c.frames)
	return out
}

// Events returns the recorded frames with the given event name.
func (c *Conn) Events(event string) []model.Frame {
	var out []model.Frame
	for _, f := range c.Frames() {
		if f.Event == event {
			out = append(out, f)
		}
	}
	return out
}

// Decode unmarshals the data of frame f into v.
func Decode(f model.Frame, v any) error {
	return json.Unmarshal(f.Data, v)
}

func (c *Conn) Reset() {
	c.mu.Lock()
	c.frames = nil
	c.mu.Unlock()
}
