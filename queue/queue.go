// Package queue is the fire-and-forget task runtime federation handlers run on.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
)

// Task is one unit of work. Payload is the JSON encoded message for the handler.
type Task struct {
	Kind     string          `json:"kind"`
	Payload  json.RawMessage `json:"payload"`
	Attempts int             `json:"attempts"`
}

func NewTask(kind string, payload any) (Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Task{}, fmt.Errorf("failed to marshal %s payload: %w", kind, err)
	}
	return Task{Kind: kind, Payload: data}, nil
}

// Dispatcher hands a task off and returns without waiting for it to run.
type Dispatcher interface {
	Dispatch(ctx context.Context, task Task) error
}

type HandlerFunc func(ctx context.Context, task Task) error

// Handle decodes the payload into T before calling fn.
// Undecodable payloads are permanent failures.
func Handle[T any](fn func(ctx context.Context, msg T) error) HandlerFunc {
	return func(ctx context.Context, task Task) error {
		var msg T
		if err := json.Unmarshal(task.Payload, &msg); err != nil {
			return Permanent(fmt.Errorf("failed to decode %s payload: %w", task.Kind, err))
		}
		return fn(ctx, msg)
	}
}

// Router maps task kinds to handlers.
type Router struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
}

func NewRouter() *Router {
	return &Router{handlers: make(map[string]HandlerFunc)}
}

func (r *Router) Handle(kind string, h HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[kind] = h
}

func (r *Router) Route(ctx context.Context, task Task) error {
	r.mu.RLock()
	h, ok := r.handlers[task.Kind]
	r.mu.RUnlock()
	if !ok {
		return Permanent(fmt.Errorf("no handler for task kind %q", task.Kind))
	}
	return h(ctx, task)
}

// Kinds lists the registered task kinds.
func (r *Router) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]string, 0, len(r.handlers))
	for k := range r.handlers {
		kinds = append(kinds, k)
	}
	return kinds
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}
