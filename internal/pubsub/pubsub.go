package pubsub

import (
	"sync"
	"time"

	"attendance-service/internal/models"
)

// Event is the typed payload pushed to subscribers on every ledger write.
type Event struct {
	Key    models.RecordKey        `json:"key"`
	Record models.AttendanceRecord `json:"record"`
}

// Callback receives events matching the subscription scope. Callbacks run on
// the publisher's goroutine, so per-key delivery order matches write order;
// slow consumers should hand off to their own channel.
type Callback func(Event)

type subscription struct {
	id    int
	match func(Event) bool
	fn    Callback
}

// Bus is an in-process publish/subscribe hub scoped to slot/date or
// student/date-range. Any transport (websocket, SSE, polling) can sit on top
// of it.
type Bus struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]subscription
}

func NewBus() *Bus {
	return &Bus{subs: make(map[int]subscription)}
}

// SubscribeSlot delivers every write for the given (slotID, date).
func (b *Bus) SubscribeSlot(slotID string, date time.Time, fn Callback) func() {
	day := date.Format(models.DateLayout)

	return b.add(func(e Event) bool {
		return e.Key.SlotID == slotID && e.Key.Date == day
	}, fn)
}

// SubscribeStudent delivers every write for the student with a record date
// inside [from, to].
func (b *Bus) SubscribeStudent(studentID string, from, to time.Time, fn Callback) func() {
	fromDay := from.Format(models.DateLayout)
	toDay := to.Format(models.DateLayout)

	return b.add(func(e Event) bool {
		return e.Key.StudentID == studentID && e.Key.Date >= fromDay && e.Key.Date <= toDay
	}, fn)
}

func (b *Bus) add(match func(Event) bool, fn Callback) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	b.subs[id] = subscription{id: id, match: match, fn: fn}

	return func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
}

// Publish fans the event out to every matching subscriber. The ledger calls
// it while still serializing writes per key, which is what gives subscribers
// write-order delivery for a given key.
func (b *Bus) Publish(e Event) {
	b.mu.Lock()
	matched := make([]Callback, 0, len(b.subs))
	for _, sub := range b.subs {
		if sub.match(e) {
			matched = append(matched, sub.fn)
		}
	}
	b.mu.Unlock()

	for _, fn := range matched {
		fn(e)
	}
}
