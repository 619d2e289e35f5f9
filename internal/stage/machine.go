// Package stage tracks the lifecycle of one in-flight link or order
// operation: the current stage, a human-readable status line, and the
// auto-reset back to idle once the operation reaches a terminal stage.
package stage

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Stage is the closed set of coordinator stages.
type Stage string

const (
	Idle              Stage = "idle"
	SwitchingNetwork  Stage = "switching-network"
	CheckingBalance   Stage = "checking-balance"
	LinkingWallet     Stage = "linking-wallet"
	DeployingProxy    Stage = "deploying-proxy"
	SettingAllowances Stage = "setting-allowances"
	SigningOrder      Stage = "signing-order"
	SubmittingOrder   Stage = "submitting-order"
	Completed         Stage = "completed"
	Error             Stage = "error"
)

// rank orders the stages so a transition can never move backward within one
// operation.
var rank = map[Stage]int{
	Idle:              0,
	SwitchingNetwork:  1,
	CheckingBalance:   2,
	LinkingWallet:     3,
	DeployingProxy:    4,
	SettingAllowances: 5,
	SigningOrder:      6,
	SubmittingOrder:   7,
	Completed:         8,
	Error:             9,
}

// DefaultResetDelay is how long a terminal stage stays visible before the
// machine reverts to idle.
const DefaultResetDelay = 2 * time.Second

// Observer receives every stage transition. Transitions for one operation are
// delivered in order, one at a time.
type Observer interface {
	StageChanged(s Stage, message string)
}

// Machine is the process-local state cell shared by the link and order
// coordinators. One operation is in flight at a time. Terminal stages linger
// for status display but never block: Begin restarts from them right away,
// and the auto-reset timer only clears the display when nothing follows.
type Machine struct {
	mu         sync.Mutex
	current    Stage
	message    string
	opID       string
	resetDelay time.Duration
	resetTimer *time.Timer
	observers  []Observer
	closed     bool
	log        *zap.Logger
}

// NewMachine creates an idle machine. resetDelay <= 0 selects
// DefaultResetDelay.
func NewMachine(resetDelay time.Duration, log *zap.Logger, observers ...Observer) *Machine {
	if resetDelay <= 0 {
		resetDelay = DefaultResetDelay
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Machine{
		current:    Idle,
		resetDelay: resetDelay,
		observers:  observers,
		log:        log,
	}
}

// Current returns the active stage and its status message.
func (m *Machine) Current() (Stage, string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current, m.message
}

// Begin starts a new operation. The machine must be idle or at a terminal
// stage; a terminal stage is reset immediately (its pending timer cancelled),
// so a finished operation never blocks the next one. Only a live,
// non-terminal operation is refused.
func (m *Machine) Begin(s Stage, message string) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return fmt.Errorf("stage: machine closed")
	}
	if m.current == Completed || m.current == Error {
		if m.resetTimer != nil {
			m.resetTimer.Stop()
			m.resetTimer = nil
		}
		m.opID = ""
		m.setLocked(Idle, "")
	}
	if m.current != Idle {
		cur := m.current
		m.mu.Unlock()
		return fmt.Errorf("stage: operation already in flight (stage %s)", cur)
	}
	m.opID = uuid.NewString()
	m.setLocked(s, message)
	m.mu.Unlock()
	return nil
}

// Advance moves the in-flight operation forward. Backward transitions are
// rejected.
func (m *Machine) Advance(s Stage, message string) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return fmt.Errorf("stage: machine closed")
	}
	if m.current == Idle {
		m.mu.Unlock()
		return fmt.Errorf("stage: no operation in flight")
	}
	if rank[s] <= rank[m.current] {
		cur := m.current
		m.mu.Unlock()
		return fmt.Errorf("stage: cannot move %s -> %s", cur, s)
	}
	m.setLocked(s, message)
	m.mu.Unlock()
	return nil
}

// Complete marks the operation successful and schedules the reset to idle.
func (m *Machine) Complete(message string) {
	m.terminal(Completed, message)
}

// Fail marks the operation failed and schedules the reset to idle.
func (m *Machine) Fail(message string) {
	m.terminal(Error, message)
}

func (m *Machine) terminal(s Stage, message string) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.setLocked(s, message)
	if m.resetTimer != nil {
		m.resetTimer.Stop()
	}
	m.resetTimer = time.AfterFunc(m.resetDelay, m.reset)
	m.mu.Unlock()
}

func (m *Machine) reset() {
	m.mu.Lock()
	if m.closed || (m.current != Completed && m.current != Error) {
		m.mu.Unlock()
		return
	}
	m.opID = ""
	m.setLocked(Idle, "")
	m.mu.Unlock()
}

// Close cancels any pending reset timer and detaches the machine. Further
// transitions are rejected; callers tear the machine down with their UI so no
// callback fires after unmount.
func (m *Machine) Close() {
	m.mu.Lock()
	m.closed = true
	if m.resetTimer != nil {
		m.resetTimer.Stop()
		m.resetTimer = nil
	}
	m.mu.Unlock()
}

// setLocked records the transition and notifies observers. Caller holds m.mu,
// so observers see transitions strictly ordered.
func (m *Machine) setLocked(s Stage, message string) {
	m.current = s
	m.message = message
	m.log.Debug("stage transition",
		zap.String("op", m.opID),
		zap.String("stage", string(s)),
		zap.String("message", message),
	)
	for _, o := range m.observers {
		o.StageChanged(s, message)
	}
}
