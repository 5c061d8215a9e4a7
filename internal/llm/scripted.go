package llm

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrScriptExhausted is returned by ScriptedClient when no replies remain.
var ErrScriptExhausted = errors.New("llm: scripted replies exhausted")

// Reply is one scripted completion.
type Reply struct {
	Text  string
	Err   error
	Delay time.Duration
}

// ScriptedClient replays canned replies in order. It is used by tests and
// by offline evaluation runs. A Respond func, when set, takes precedence
// over the script.
type ScriptedClient struct {
	mu       sync.Mutex
	replies  []Reply
	requests []Request

	Respond func(req Request) Reply
}

// NewScriptedClient returns a client that answers with texts in order.
func NewScriptedClient(texts ...string) *ScriptedClient {
	s := &ScriptedClient{}
	for _, t := range texts {
		s.replies = append(s.replies, Reply{Text: t})
	}
	return s
}

// Push appends replies to the script.
func (s *ScriptedClient) Push(replies ...Reply) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replies = append(s.replies, replies...)
}

// Requests returns a copy of every request received.
func (s *ScriptedClient) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Request, len(s.requests))
	copy(out, s.requests)
	return out
}

func (s *ScriptedClient) Complete(ctx context.Context, req Request) (string, error) {
	s.mu.Lock()
	s.requests = append(s.requests, req)
	var r Reply
	switch {
	case s.Respond != nil:
		r = s.Respond(req)
	case len(s.replies) > 0:
		r = s.replies[0]
		s.replies = s.replies[1:]
	default:
		s.mu.Unlock()
		return "", ErrScriptExhausted
	}
	s.mu.Unlock()

	if r.Delay > 0 {
		select {
		case <-time.After(r.Delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if r.Err != nil {
		return "", r.Err
	}
	return r.Text, nil
}

var _ Client = (*ScriptedClient)(nil)
