package convo

import (
	"strings"
	"sync"
	"time"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one recorded contribution to the conversation.
type Turn struct {
	Role      Role
	Text      string
	At        time.Time
	LatencyMs int64
	Metadata  map[string]string
}

// Context holds the bounded conversation history for one session. The
// window is counted in exchanges (a user turn plus the assistant reply),
// so the turn cap is twice the window. Oldest turns are evicted first.
type Context struct {
	mu     sync.RWMutex
	window int
	turns  []Turn
}

const DefaultWindow = 5

func NewContext(window int) *Context {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Context{window: window}
}

func (c *Context) Window() int { return c.window }

// RecordUser appends a user turn. Empty or whitespace-only text is
// ignored so failed transcriptions never pollute the history.
func (c *Context) RecordUser(text string, at time.Time) bool {
	return c.AddTurn(Turn{Role: RoleUser, Text: text, At: at})
}

// RecordAssistant appends an assistant turn.
func (c *Context) RecordAssistant(text string, at time.Time) bool {
	return c.AddTurn(Turn{Role: RoleAssistant, Text: text, At: at})
}

// AddTurn appends one turn, evicting the oldest once the history exceeds
// twice the window. Historical turns are never mutated; corrections are
// new turns.
func (c *Context) AddTurn(t Turn) bool {
	t.Text = strings.TrimSpace(t.Text)
	if t.Text == "" {
		return false
	}
	if t.At.IsZero() {
		t.At = time.Now()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.turns = append(c.turns, t)
	if max := c.window * 2; len(c.turns) > max {
		c.turns = append(c.turns[:0:0], c.turns[len(c.turns)-max:]...)
	}
	return true
}

// Turns returns a copy of the retained history, oldest first.
func (c *Context) Turns() []Turn {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Turn, len(c.turns))
	copy(out, c.turns)
	return out
}

func (c *Context) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.turns)
}

// Render flattens the retained history into the prompt form consumed by
// the generator, one "ROLE: text" line per turn.
func (c *Context) Render() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var sb strings.Builder
	for i, t := range c.turns {
		if i > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString(strings.ToUpper(string(t.Role)))
		sb.WriteString(": ")
		sb.WriteString(t.Text)
	}
	return sb.String()
}

func (c *Context) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.turns = nil
}
