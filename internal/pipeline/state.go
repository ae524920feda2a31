package pipeline

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// State 流水线状态
type State string

const (
	StateInitialized State = "initialized"
	StateRetrieving  State = "retrieving"
	StateGenerating  State = "generating"
	StateMatching    State = "matching"
	StateRendering   State = "rendering"
	StateCompleted   State = "completed"
	StateFailed      State = "failed"
)

// ErrInvalidTransition 状态迁移不在迁移表中
var ErrInvalidTransition = errors.New("非法状态迁移")

// 正向迁移只有一条路径，Failed 由任意非终止状态进入
var transitions = map[State]State{
	StateInitialized: StateRetrieving,
	StateRetrieving:  StateGenerating,
	StateGenerating:  StateMatching,
	StateMatching:    StateRendering,
	StateRendering:   StateCompleted,
}

// Terminal 是否为终止状态
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// CanTransition 判断 from -> to 是否合法
func CanTransition(from, to State) bool {
	if from.Terminal() {
		return false
	}
	if to == StateFailed {
		return true
	}
	return transitions[from] == to
}

// Transition 一次状态变化
type Transition struct {
	From   State     `json:"from"`
	To     State     `json:"to"`
	At     time.Time `json:"at"`
	Reason string    `json:"reason,omitempty"`
}

// Observer 状态变化回调，在迁移完成后同步调用
type Observer func(reportID string, t Transition)

// Tracker 单次运行的状态机
type Tracker struct {
	mu        sync.Mutex
	reportID  string
	state     State
	history   []Transition
	observers []Observer
	now       func() time.Time
}

// NewTracker 创建处于 Initialized 状态的状态机
func NewTracker(reportID string, observers ...Observer) *Tracker {
	return &Tracker{
		reportID:  reportID,
		state:     StateInitialized,
		observers: observers,
		now:       time.Now,
	}
}

// State 当前状态
func (t *Tracker) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// To 迁移到下一个状态
func (t *Tracker) To(next State) error {
	return t.move(next, "")
}

// Fail 进入 Failed，已终止时返回 ErrInvalidTransition
func (t *Tracker) Fail(reason string) error {
	return t.move(StateFailed, reason)
}

// History 迁移记录副本
func (t *Tracker) History() []Transition {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Transition, len(t.history))
	copy(out, t.history)
	return out
}

func (t *Tracker) move(next State, reason string) error {
	t.mu.Lock()
	if !CanTransition(t.state, next) {
		from := t.state
		t.mu.Unlock()
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, next)
	}
	tr := Transition{From: t.state, To: next, At: t.now(), Reason: reason}
	t.state = next
	t.history = append(t.history, tr)
	observers := t.observers
	t.mu.Unlock()

	for _, o := range observers {
		o(t.reportID, tr)
	}
	return nil
}
