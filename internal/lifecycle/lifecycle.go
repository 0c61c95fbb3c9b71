// Package lifecycle tracks process drain state and the most recent advisory run.
package lifecycle

import (
	"sync"
	"sync/atomic"
	"time"
)

// RunStatus summarises the last completed advisory run.
type RunStatus struct {
	RunID     string    `json:"run_id"`
	At        time.Time `json:"at"`
	OK        bool      `json:"ok"`
	RiskScore int       `json:"risk_score"`
	Error     string    `json:"error,omitempty"`
}

// State is shared by the HTTP handlers and main.
type State struct {
	shuttingDown atomic.Bool

	mu      sync.RWMutex
	lastRun *RunStatus
}

// SetShuttingDown sets the drain flag. While true, health returns 503 with
// status shutting-down and new advisory runs are refused.
func (s *State) SetShuttingDown(v bool) {
	s.shuttingDown.Store(v)
}

func (s *State) IsShuttingDown() bool {
	return s.shuttingDown.Load()
}

// RecordRun stores rs as the last run.
func (s *State) RecordRun(rs RunStatus) {
	s.mu.Lock()
	s.lastRun = &rs
	s.mu.Unlock()
}

// LastRun returns a copy of the last run, or false if none has finished.
func (s *State) LastRun() (RunStatus, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.lastRun == nil {
		return RunStatus{}, false
	}
	return *s.lastRun, true
}
