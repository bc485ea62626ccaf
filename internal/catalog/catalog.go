package catalog

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"attendance-service/internal/models"
	"attendance-service/pkg/response"
)

type Store interface {
	SlotsForScope(ctx context.Context, scope models.Scope, weekday int) ([]models.TimeSlot, error)
	GetSlot(ctx context.Context, slotID string) (*models.TimeSlot, error)
}

type scopeKey struct {
	scope   models.Scope
	weekday int
}

// Catalog is the read path for slot definitions. Slot configuration is an
// external administrative concern; the engine only ever reads. Store calls
// run under a bounded timeout, and the last known-good answer is served when
// the store is unreachable rather than blocking or failing the caller.
type Catalog struct {
	store   Store
	timeout time.Duration

	mu        sync.RWMutex
	lastLists map[scopeKey][]models.TimeSlot
	lastSlots map[string]models.TimeSlot
}

func New(store Store, timeout time.Duration) *Catalog {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	return &Catalog{
		store:     store,
		timeout:   timeout,
		lastLists: make(map[scopeKey][]models.TimeSlot),
		lastSlots: make(map[string]models.TimeSlot),
	}
}

// SlotsFor returns the scope's slots for the date's weekday, in slot_number
// order. An empty schedule is an empty list, never an error.
func (c *Catalog) SlotsFor(ctx context.Context, scope models.Scope, date time.Time) ([]models.TimeSlot, error) {
	const op = "catalog.Catalog.SlotsFor"

	key := scopeKey{scope: scope, weekday: int(date.Weekday())}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	slots, err := c.store.SlotsForScope(ctx, scope, key.weekday)
	if err != nil {
		c.mu.RLock()
		cached, ok := c.lastLists[key]
		c.mu.RUnlock()

		if ok {
			return cached, nil
		}

		return nil, fmt.Errorf("%s: %w", op, response.ErrCatalogUnavailable)
	}

	c.mu.Lock()
	c.lastLists[key] = slots
	for _, slot := range slots {
		c.lastSlots[slot.SlotID] = slot
	}
	c.mu.Unlock()

	return slots, nil
}

// Slot resolves a single slot by id.
func (c *Catalog) Slot(ctx context.Context, slotID string) (*models.TimeSlot, error) {
	const op = "catalog.Catalog.Slot"

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	slot, err := c.store.GetSlot(ctx, slotID)
	if err != nil {
		if errors.Is(err, response.ErrNotFound) {
			return nil, fmt.Errorf("%s: %w", op, response.ErrNotFound)
		}

		c.mu.RLock()
		cached, ok := c.lastSlots[slotID]
		c.mu.RUnlock()

		if ok {
			result := cached
			return &result, nil
		}

		return nil, fmt.Errorf("%s: %w", op, response.ErrCatalogUnavailable)
	}

	c.mu.Lock()
	c.lastSlots[slotID] = *slot
	c.mu.Unlock()

	return slot, nil
}
