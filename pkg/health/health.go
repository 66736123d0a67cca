// Package health tracks gateway liveness/readiness for the /health
// endpoint served by every C3 transport. The retrieved teacher pack
// referenced docker/mcp-gateway/pkg/health from pkg/gateway/transport.go
// and run.go but did not include the package itself; this is a minimal
// stand-in built from that call-site shape (State.IsHealthy()).
package health

import "sync/atomic"

// State is a process-wide health flag. NewState starts it healthy; the
// orchestrator sets it healthy again when Run has started its background
// loops and clears it on graceful-shutdown drain. No dependency
// reachability is probed.
type State struct {
	healthy atomic.Bool
}

func NewState() *State {
	s := &State{}
	s.healthy.Store(true)
	return s
}

func (s *State) IsHealthy() bool { return s.healthy.Load() }

func (s *State) SetHealthy(v bool) { s.healthy.Store(v) }
