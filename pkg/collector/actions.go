package collector

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nergy-se/curvecontrol/pkg/backend"
)

// ActionLog records user initiated actions for the daily summary.
type ActionLog struct {
	actions []backend.UserAction
	now     func() time.Time
	mutex   sync.Mutex
}

func NewActionLog(now func() time.Time) *ActionLog {
	if now == nil {
		now = time.Now
	}
	return &ActionLog{now: now}
}

func (l *ActionLog) Log(service string, data interface{}) backend.UserAction {
	a := backend.UserAction{
		ID:        uuid.NewString(),
		Timestamp: l.now().Format(time.RFC3339),
		Service:   service,
		Data:      data,
	}
	l.mutex.Lock()
	l.actions = append(l.actions, a)
	l.mutex.Unlock()
	return a
}

func (l *ActionLog) Snapshot() []backend.UserAction {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	out := make([]backend.UserAction, len(l.actions))
	copy(out, l.actions)
	return out
}

// Forget removes the given actions and keeps anything logged after they were read.
func (l *ActionLog) Forget(sent []backend.UserAction) {
	ids := make(map[string]struct{}, len(sent))
	for _, a := range sent {
		ids[a.ID] = struct{}{}
	}
	l.mutex.Lock()
	defer l.mutex.Unlock()
	kept := l.actions[:0]
	for _, a := range l.actions {
		if _, ok := ids[a.ID]; !ok {
			kept = append(kept, a)
		}
	}
	l.actions = kept
}
