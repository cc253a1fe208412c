// Package slots keeps the (date, time) → appointment mapping of the secretariat desk.
package slots

import (
	"fmt"
	"sort"
	"sync"
)

// Key identifies one slot.
type Key struct {
	Date string
	Time string
}

// ConflictError is returned by Reserve when the slot is already held.
type ConflictError struct {
	Date   string
	Time   string
	Holder string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("slot %s %s already held by %s", e.Date, e.Time, e.Holder)
}

// Index maps each slot to at most one appointment id. Safe for concurrent use.
type Index struct {
	mu    sync.RWMutex
	grid  Grid
	taken map[Key]string
}

// NewIndex builds an empty index over the given grid.
func NewIndex(grid Grid) *Index {
	return &Index{grid: grid, taken: make(map[Key]string)}
}

// Grid returns the business-hours grid of the index.
func (i *Index) Grid() Grid {
	return i.grid
}

// IsAvailable reports whether nobody holds the slot.
func (i *Index) IsAvailable(date, time string) bool {
	i.mu.RLock()
	defer i.mu.RUnlock()
	_, held := i.taken[Key{Date: date, Time: time}]
	return !held
}

// Holder returns the appointment id holding the slot, if any.
func (i *Index) Holder(date, time string) (string, bool) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	id, ok := i.taken[Key{Date: date, Time: time}]
	return id, ok
}

// Reserve claims the slot for appointmentID. It never overwrites an existing holder.
func (i *Index) Reserve(date, time, appointmentID string) error {
	key := Key{Date: date, Time: time}
	i.mu.Lock()
	defer i.mu.Unlock()
	if holder, held := i.taken[key]; held {
		return &ConflictError{Date: date, Time: time, Holder: holder}
	}
	i.taken[key] = appointmentID
	return nil
}

// Release frees the slot. Releasing a free slot is a no-op.
func (i *Index) Release(date, time string) {
	i.mu.Lock()
	delete(i.taken, Key{Date: date, Time: time})
	i.mu.Unlock()
}

// ReleaseHeldBy frees the slot only while appointmentID still holds it.
func (i *Index) ReleaseHeldBy(date, time, appointmentID string) bool {
	key := Key{Date: date, Time: time}
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.taken[key] != appointmentID {
		return false
	}
	delete(i.taken, key)
	return true
}

// AvailableSlotsFor lists the free grid labels of date in ascending order.
func (i *Index) AvailableSlotsFor(date string) []string {
	labels := i.grid.Labels()
	i.mu.RLock()
	defer i.mu.RUnlock()
	free := make([]string, 0, len(labels))
	for _, label := range labels {
		if _, held := i.taken[Key{Date: date, Time: label}]; !held {
			free = append(free, label)
		}
	}
	sort.Strings(free)
	return free
}

// Replace swaps the whole index content, used when warming from the store.
func (i *Index) Replace(entries map[Key]string) {
	next := make(map[Key]string, len(entries))
	for k, v := range entries {
		next[k] = v
	}
	i.mu.Lock()
	i.taken = next
	i.mu.Unlock()
}

// SyncDate makes the holders of date match stored, which maps time labels to appointment ids.
// An existing holder missing from stored survives only while keep reports it as still being written.
func (i *Index) SyncDate(date string, stored map[string]string, keep func(appointmentID string) bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	for key, holder := range i.taken {
		if key.Date != date {
			continue
		}
		if _, ok := stored[key.Time]; ok {
			continue
		}
		if keep == nil || !keep(holder) {
			delete(i.taken, key)
		}
	}
	for label, id := range stored {
		i.taken[Key{Date: date, Time: label}] = id
	}
}

// Len returns the number of held slots.
func (i *Index) Len() int {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return len(i.taken)
}
