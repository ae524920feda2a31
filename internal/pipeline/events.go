package pipeline

import (
	"sync"
	"time"
)

// Event 报告进度事件
type Event struct {
	ReportID   string    `json:"report_id"`
	From       State     `json:"from"`
	State      State     `json:"state"`
	Kind       Kind      `json:"kind,omitempty"`
	Message    string    `json:"message,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Terminal 事件是否表示运行结束
func (e Event) Terminal() bool { return e.State.Terminal() }

// EventBus 进程内事件总线，按报告 ID 分发
type EventBus struct {
	mu     sync.RWMutex
	subs   map[string]map[uint64]chan Event
	seq    uint64
	buffer int
}

// NewEventBus 创建事件总线，buffer 为每个订阅者的缓冲长度
func NewEventBus(buffer int) *EventBus {
	if buffer <= 0 {
		buffer = 8
	}
	return &EventBus{
		subs:   make(map[string]map[uint64]chan Event),
		buffer: buffer,
	}
}

// Publish 发布事件，订阅者缓冲已满时丢弃
func (b *EventBus) Publish(evt Event) {
	if b == nil {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs[evt.ReportID] {
		select {
		case ch <- evt:
		default:
		}
	}
}

// Subscribe 订阅某个报告的事件，返回的 cancel 关闭通道
func (b *EventBus) Subscribe(reportID string) (<-chan Event, func()) {
	ch := make(chan Event, b.buffer)
	b.mu.Lock()
	b.seq++
	id := b.seq
	if _, ok := b.subs[reportID]; !ok {
		b.subs[reportID] = make(map[uint64]chan Event)
	}
	b.subs[reportID][id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() { b.removeListener(reportID, id) })
	}
}

// Subscribers 当前订阅数
func (b *EventBus) Subscribers(reportID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[reportID])
}

func (b *EventBus) removeListener(reportID string, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	listeners, ok := b.subs[reportID]
	if !ok {
		return
	}
	if ch, exists := listeners[id]; exists {
		delete(listeners, id)
		close(ch)
	}
	if len(listeners) == 0 {
		delete(b.subs, reportID)
	}
}
