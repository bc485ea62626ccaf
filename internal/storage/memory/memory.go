package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"attendance-service/internal/models"
	"attendance-service/pkg/response"

	"github.com/google/uuid"
)

// Storage is the in-memory store used by tests and local development. It
// implements the same interface as the postgres store, selected by wiring,
// not by a global dev-mode flag.
type Storage struct {
	mu          sync.RWMutex
	slots       map[string]models.TimeSlot
	records     map[models.RecordKey]models.AttendanceRecord
	audit       []models.AuditEntry
	enrollments map[string]models.Scope
}

func New() *Storage {
	return &Storage{
		slots:       make(map[string]models.TimeSlot),
		records:     make(map[models.RecordKey]models.AttendanceRecord),
		enrollments: make(map[string]models.Scope),
	}
}

// AddSlot seeds the catalog. Slots are immutable once published, so there is
// no update path.
func (s *Storage) AddSlot(slot models.TimeSlot) {
	s.mu.Lock()
	s.slots[slot.SlotID] = slot
	s.mu.Unlock()
}

func (s *Storage) Enroll(studentID string, scope models.Scope) {
	s.mu.Lock()
	s.enrollments[studentID] = scope
	s.mu.Unlock()
}

func (s *Storage) SlotsForScope(ctx context.Context, scope models.Scope, weekday int) ([]models.TimeSlot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var slots []models.TimeSlot
	for _, slot := range s.slots {
		if slot.Scope == scope && slot.Weekday == weekday {
			slots = append(slots, slot)
		}
	}

	sort.Slice(slots, func(i, j int) bool {
		return slots[i].SlotNumber < slots[j].SlotNumber
	})

	return slots, nil
}

func (s *Storage) GetSlot(ctx context.Context, slotID string) (*models.TimeSlot, error) {
	const op = "storage.memory.GetSlot"

	s.mu.RLock()
	defer s.mu.RUnlock()

	slot, ok := s.slots[slotID]
	if !ok {
		return nil, fmt.Errorf("%s: %w", op, response.ErrNotFound)
	}

	return &slot, nil
}

func (s *Storage) UpsertRecord(ctx context.Context, rec *models.AttendanceRecord) (*models.AttendanceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := rec.Key()

	stored := *rec
	if prev, ok := s.records[key]; ok {
		// Update in place keeps the original row identity.
		stored.ID = prev.ID
	} else if stored.ID == "" {
		stored.ID = uuid.NewString()
	}

	s.records[key] = stored

	result := stored
	return &result, nil
}

func (s *Storage) GetRecord(ctx context.Context, key models.RecordKey) (*models.AttendanceRecord, error) {
	const op = "storage.memory.GetRecord"

	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[key]
	if !ok {
		return nil, fmt.Errorf("%s: %w", op, response.ErrNotFound)
	}

	result := rec
	return &result, nil
}

func (s *Storage) RecordsForStudent(ctx context.Context, studentID string, from, to time.Time) ([]models.AttendanceRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	fromDay := from.Format(models.DateLayout)
	toDay := to.Format(models.DateLayout)

	var records []models.AttendanceRecord
	for key, rec := range s.records {
		if key.StudentID == studentID && key.Date >= fromDay && key.Date <= toDay {
			records = append(records, rec)
		}
	}

	sort.Slice(records, func(i, j int) bool {
		if !records[i].Date.Equal(records[j].Date) {
			return records[i].Date.Before(records[j].Date)
		}
		return records[i].SlotID < records[j].SlotID
	})

	return records, nil
}

func (s *Storage) RecordsForSlot(ctx context.Context, slotID string, date time.Time) ([]models.AttendanceRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	day := date.Format(models.DateLayout)

	var records []models.AttendanceRecord
	for key, rec := range s.records {
		if key.SlotID == slotID && key.Date == day {
			records = append(records, rec)
		}
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].StudentID < records[j].StudentID
	})

	return records, nil
}

func (s *Storage) AppendAudit(ctx context.Context, entry *models.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := *entry
	if stored.ID == "" {
		stored.ID = uuid.NewString()
	}

	s.audit = append(s.audit, stored)

	return nil
}

func (s *Storage) AuditForSlot(ctx context.Context, slotID string, date time.Time) ([]models.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	day := date.Format(models.DateLayout)

	var entries []models.AuditEntry
	for _, entry := range s.audit {
		if entry.SlotID == slotID && entry.Date.Format(models.DateLayout) == day {
			entries = append(entries, entry)
		}
	}

	return entries, nil
}

func (s *Storage) IsEnrolled(ctx context.Context, studentID string, scope models.Scope) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	enrolled, ok := s.enrollments[studentID]
	return ok && enrolled == scope, nil
}
