package observability

import (
	"fmt"
	"sync"
	"time"
)

type Role string

const (
	RoleIdle      Role = "IDLE"
	RolePlanning  Role = "PLANNING"
	RoleExecuting Role = "EXECUTING"
)

// StatusSnapshot is a copy of the process-wide status taken under lock.
type StatusSnapshot struct {
	Role          Role
	Question      string
	Done, Total   int
	Answered      int
	Exhausted     int
	LastHeartbeat time.Time
}

// Progress renders the current attempt or step, e.g. "attempt 2/3".
func (s StatusSnapshot) Progress() string {
	if s.Total == 0 {
		return ""
	}
	switch s.Role {
	case RolePlanning:
		return fmt.Sprintf("attempt %d/%d", s.Done, s.Total)
	case RoleExecuting:
		return fmt.Sprintf("step %d/%d", s.Done, s.Total)
	}
	return ""
}

type systemStatus struct {
	mu   sync.RWMutex
	snap StatusSnapshot
}

var globalStatus = &systemStatus{
	snap: StatusSnapshot{Role: RoleIdle, LastHeartbeat: time.Now()},
}

// SetStatus switches the role and the question being worked on. Progress resets.
func SetStatus(role Role, question string) {
	globalStatus.mu.Lock()
	defer globalStatus.mu.Unlock()
	globalStatus.snap.Role = role
	globalStatus.snap.Question = question
	globalStatus.snap.Done, globalStatus.snap.Total = 0, 0
}

// SetProgress records that item done of total (attempt or step) has started.
func SetProgress(done, total int) {
	globalStatus.mu.Lock()
	defer globalStatus.mu.Unlock()
	globalStatus.snap.Done, globalStatus.snap.Total = done, total
}

func countOutcome(state string) {
	globalStatus.mu.Lock()
	defer globalStatus.mu.Unlock()
	switch state {
	case "succeeded":
		globalStatus.snap.Answered++
	case "exhausted":
		globalStatus.snap.Exhausted++
	}
}

// Snapshot returns a copy of the global status.
func Snapshot() StatusSnapshot {
	globalStatus.mu.RLock()
	defer globalStatus.mu.RUnlock()
	return globalStatus.snap
}

// GetStatus retrieves the role, question and last heartbeat.
func GetStatus() (Role, string, time.Time) {
	s := Snapshot()
	return s.Role, s.Question, s.LastHeartbeat
}

// Heartbeat updates the last heartbeat time.
func Heartbeat() {
	globalStatus.mu.Lock()
	defer globalStatus.mu.Unlock()
	globalStatus.snap.LastHeartbeat = time.Now()
}
