// Package pipeline implements the run-state record and the orchestrator that
// sequences the data-preparation stages against the external services.
package pipeline

import (
	"errors"
	"sync"
	"time"

	"github.com/codersbrain/refi-ready/pkg/types"
)

// ErrAlreadyRunning reports that a run is in flight; triggers fail fast
// rather than queue.
var ErrAlreadyRunning = errors.New("pipeline is already running")

const (
	// logRingCapacity bounds the trailing-output ring.
	logRingCapacity = 40
	// snapshotLogLines is how many trailing lines a snapshot exposes.
	snapshotLogLines = 20
)

// RunState is the mutable pipeline run record. Constructed once at process
// start and shared by reference between the trigger path, the orchestrator's
// background goroutine and status readers; a single mutex guards every field
// so snapshots are never partial.
type RunState struct {
	mu         sync.Mutex
	status     types.RunStatus
	startedAt  *time.Time
	finishedAt *time.Time
	exitCode   *int
	message    string
	lines      []string
	sourceKey  *string
}

// NewRunState creates an idle run record.
func NewRunState() *RunState {
	return &RunState{
		status:  types.RunIdle,
		message: "No run started yet.",
	}
}

// TryBegin transitions idle/terminal state to running, resetting the record.
// Returns ErrAlreadyRunning when a run is active.
func (s *RunState) TryBegin() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status == types.RunRunning {
		return ErrAlreadyRunning
	}
	now := time.Now().UTC()
	s.status = types.RunRunning
	s.startedAt = &now
	s.finishedAt = nil
	s.exitCode = nil
	s.message = "Pipeline run started."
	s.lines = nil
	s.sourceKey = nil
	return nil
}

// Append records one line of trailing output and makes it the current message.
func (s *RunState) Append(line string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lines = append(s.lines, line)
	if len(s.lines) > logRingCapacity {
		s.lines = s.lines[len(s.lines)-logRingCapacity:]
	}
	if line != "" {
		s.message = line
	}
}

// Finish marks the run terminal. A zero exit code records success;
// sourceKey, when non-empty, is the resolved output location.
func (s *RunState) Finish(exitCode int, message, sourceKey string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	s.finishedAt = &now
	s.exitCode = &exitCode
	s.message = message
	if exitCode == 0 {
		s.status = types.RunSucceeded
	} else {
		s.status = types.RunFailed
	}
	if sourceKey != "" {
		key := sourceKey
		s.sourceKey = &key
	} else {
		s.sourceKey = nil
	}
}

// Snapshot returns a consistent copy of the record.
func (s *RunState) Snapshot() types.RunSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := types.RunSnapshot{
		Status:  s.status,
		Message: s.message,
	}
	if s.startedAt != nil {
		t := *s.startedAt
		snap.StartedAt = &t
	}
	if s.finishedAt != nil {
		t := *s.finishedAt
		snap.FinishedAt = &t
	}
	if s.exitCode != nil {
		c := *s.exitCode
		snap.ExitCode = &c
	}
	if s.sourceKey != nil {
		k := *s.sourceKey
		snap.SourceKey = &k
	}
	n := len(s.lines)
	start := 0
	if n > snapshotLogLines {
		start = n - snapshotLogLines
	}
	snap.LastOutput = append([]string{}, s.lines[start:]...)
	return snap
}
