// Package cancellation implements C7: gateway-authoritative, cluster-wide
// cancellation of in-flight tool runs. A local run registry tracks
// in-flight runs on each worker; a Pub/Sub channel broadcasts cancel
// requests to whichever worker actually owns the run.
package cancellation

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/mcpfed/gateway/pkg/cache"
	"github.com/mcpfed/gateway/pkg/gwerrors"
)

const cancelChannel = "cancellation:cancel"

// Notifier delivers the notifications/cancelled JSON-RPC notification to a
// run's owning client transport. Implemented by the session/transport
// layer; kept as an interface here so this package never imports C3/C4.
type Notifier interface {
	NotifyCancelled(sessionID, requestID, reason string)
}

// Run is an in-flight tool execution tracked for cancellation (spec.md §3
// "Run Record").
type Run struct {
	RequestID    string
	Name         string
	SessionID    string
	RegisteredAt time.Time
	Cancelled    bool
	CancelledAt  time.Time
	CancelReason string

	signal chan struct{}
	once   sync.Once
}

// Signal returns the one-shot channel the dispatcher selects on alongside
// the upstream call; it closes exactly once, when this run is cancelled.
func (r *Run) Signal() <-chan struct{} { return r.signal }

func (r *Run) trip(reason string) {
	r.once.Do(func() {
		r.Cancelled = true
		r.CancelledAt = time.Now()
		r.CancelReason = reason
		close(r.signal)
	})
}

// Service owns the local run registry and the cluster cancel bus.
type Service struct {
	Cache    cache.Cache
	Notifier Notifier

	mu  sync.Mutex
	run map[string]*Run
}

func NewService(c cache.Cache, notifier Notifier) *Service {
	return &Service{Cache: c, Notifier: notifier, run: make(map[string]*Run)}
}

// RegisterRun stores a new Run in the local registry and returns it; the
// dispatcher awaits Run.Signal() alongside the upstream call.
func (s *Service) RegisterRun(requestID, name, sessionID string) *Run {
	r := &Run{RequestID: requestID, Name: name, SessionID: sessionID, RegisteredAt: time.Now(), signal: make(chan struct{})}
	s.mu.Lock()
	s.run[requestID] = r
	s.mu.Unlock()
	return r
}

// DeregisterRun removes a completed run from the local registry.
func (s *Service) DeregisterRun(requestID string) {
	s.mu.Lock()
	delete(s.run, requestID)
	s.mu.Unlock()
}

type cancelResult struct {
	Status    string `json:"status"`
	RequestID string `json:"requestId"`
	Reason    string `json:"reason,omitempty"`
}

type cancelMessage struct {
	RequestID string `json:"request_id"`
	Reason    string `json:"reason"`
}

// CancelRun implements cancel_run: if the run is known locally, it is
// tripped immediately and a cancellation notification is emitted; otherwise
// the cancel request is broadcast cluster-wide and "queued" is returned.
func (s *Service) CancelRun(ctx context.Context, requestID, reason string) (map[string]any, error) {
	if r, ok := s.cancelLocal(requestID, reason); ok {
		s.Notifier.NotifyCancelled(r.SessionID, r.RequestID, reason)
		res := cancelResult{Status: "cancelled", RequestID: requestID, Reason: reason}
		return toMap(res), nil
	}
	msg, err := json.Marshal(cancelMessage{RequestID: requestID, Reason: reason})
	if err != nil {
		return nil, gwerrors.Wrap(gwerrors.Internal, err, "marshal cancel message")
	}
	if err := s.Cache.Publish(ctx, cancelChannel, string(msg)); err != nil {
		return nil, gwerrors.Wrap(gwerrors.Internal, err, "publish cancel message")
	}
	return toMap(cancelResult{Status: "queued", RequestID: requestID, Reason: reason}), nil
}

func (s *Service) cancelLocal(requestID, reason string) (*Run, bool) {
	s.mu.Lock()
	r, ok := s.run[requestID]
	s.mu.Unlock()
	if !ok {
		return nil, false
	}
	r.trip(reason)
	return r, true
}

// Status implements status(request_id); returns found=false (→ 404 at the
// edge) if this worker doesn't own the run. There is deliberately no
// global status lookup.
func (s *Service) Status(requestID string) (*Run, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.run[requestID]
	return r, ok
}

// Subscribe starts the cluster cancel-message listener. Every worker calls
// this once at startup; it runs until ctx is cancelled.
func (s *Service) Subscribe(ctx context.Context) error {
	sub, err := s.Cache.Subscribe(ctx, cancelChannel)
	if err != nil {
		return gwerrors.Wrap(gwerrors.Internal, err, "subscribe to cancellation channel")
	}
	go func() {
		defer sub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-sub.Channel():
				if !ok {
					return
				}
				s.onCancelMessage(msg.Payload)
			}
		}
	}()
	return nil
}

func (s *Service) onCancelMessage(payload string) {
	var m cancelMessage
	if err := json.Unmarshal([]byte(payload), &m); err != nil {
		return
	}
	if r, ok := s.cancelLocal(m.RequestID, m.Reason); ok {
		s.Notifier.NotifyCancelled(r.SessionID, r.RequestID, m.Reason)
	}
}

func toMap(v any) map[string]any {
	b, _ := json.Marshal(v)
	var m map[string]any
	_ = json.Unmarshal(b, &m)
	return m
}
