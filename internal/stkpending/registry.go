// Package stkpending correlates an in-flight STK Push with the out-of-band
// user response (accept, cancel, timeout) that eventually resolves it.
package stkpending

import (
	"context"
	"sync"
	"time"
)

type ResponseKind string

const (
	ResponseAccepted  ResponseKind = "accepted"
	ResponseCancelled ResponseKind = "cancelled"
	ResponseOffline   ResponseKind = "offline"
	ResponseTimeout   ResponseKind = "timeout"
	ResponseFailed    ResponseKind = "failed"
)

// UserResponse is what the person holding the simulated phone did with the
// STK prompt.
type UserResponse struct {
	Kind    ResponseKind `json:"kind"`
	PIN     string       `json:"pin,omitempty"`
	Message string       `json:"message,omitempty"`
}

// Registry maps a checkout request ID to the one-shot channel its STK job is
// waiting on. Critical sections are O(1); the channels are buffered so a
// resolver never blocks on a slow job.
type Registry struct {
	mu      sync.Mutex
	pending map[string]chan UserResponse
}

func NewRegistry() *Registry {
	return &Registry{pending: make(map[string]chan UserResponse)}
}

// Register creates the one-shot channel for a checkout request and returns
// the receiving side.
func (r *Registry) Register(checkoutRequestID string) <-chan UserResponse {
	ch := make(chan UserResponse, 1)
	r.mu.Lock()
	r.pending[checkoutRequestID] = ch
	r.mu.Unlock()
	return ch
}

// Resolve sends the user's response to the waiting job and consumes the
// entry. A resolution with no waiting entry is silently dropped, matching
// re-resolutions after the first one wins.
func (r *Registry) Resolve(checkoutRequestID string, response UserResponse) bool {
	r.mu.Lock()
	ch, ok := r.pending[checkoutRequestID]
	if ok {
		delete(r.pending, checkoutRequestID)
	}
	r.mu.Unlock()
	if !ok {
		return false
	}
	ch <- response
	return true
}

// Remove drops the entry without resolving it. Jobs call this on their way
// out so an abandoned prompt cannot leak.
func (r *Registry) Remove(checkoutRequestID string) {
	r.mu.Lock()
	delete(r.pending, checkoutRequestID)
	r.mu.Unlock()
}

// Len reports the number of prompts still waiting.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// Await blocks until the prompt is resolved or the deadline passes, in which
// case it auto-resolves to Timeout.
func (r *Registry) Await(ctx context.Context, checkoutRequestID string, deadline time.Duration) UserResponse {
	ch := r.Register(checkoutRequestID)
	defer r.Remove(checkoutRequestID)

	timer := time.NewTimer(deadline)
	defer timer.Stop()

	select {
	case response := <-ch:
		return response
	case <-timer.C:
		return UserResponse{Kind: ResponseTimeout}
	case <-ctx.Done():
		return UserResponse{Kind: ResponseTimeout}
	}
}
