package alertfeed

import (
	"sort"
	"sync"
	"time"

	"geominer/siren/pkg/api/siren"
	"geominer/siren/pkg/models"
)

// Record is one alert together with the local view state layered on it.
// The alert half belongs to the server; the flags belong to this process.
type Record struct {
	models.Alert
	IsRead     bool
	IsResolved bool
}

// Store holds the locally known alert collection. Poll results and pushed
// notices feed it; consumers read it through Snapshot and Unread.
type Store struct {
	mu      sync.RWMutex
	records map[string]Record
}

// NewStore creates an empty alert store
func NewStore() *Store {
	return &Store{
		records: make(map[string]Record),
	}
}

// LoadFromPoll replaces the collection with a poll result. The server is
// authoritative for every alert field; the local read and resolved flags
// survive the reload so state already shown to the user never regresses.
func (s *Store) LoadFromPoll(alerts []models.Alert) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := make(map[string]Record, len(alerts))
	for _, alert := range alerts {
		rec := Record{
			Alert:      alert,
			IsRead:     alert.Acknowledged(),
			IsResolved: alert.Resolved(),
		}
		if prev, ok := s.records[alert.ID]; ok {
			rec.IsRead = rec.IsRead || prev.IsRead
			rec.IsResolved = rec.IsResolved || prev.IsResolved
		}
		next[alert.ID] = rec
	}
	s.records = next
}

// AddFromPush inserts an alert delivered over the live channel. Alerts the
// store already knows are left untouched; returns true when the alert was new.
func (s *Store) AddFromPush(alert models.Alert) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[alert.ID]; ok {
		return false
	}
	s.records[alert.ID] = Record{
		Alert:      alert,
		IsRead:     alert.Acknowledged(),
		IsResolved: alert.Resolved(),
	}
	return true
}

// Get returns a copy of one record
func (s *Store) Get(id string) (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	return rec, ok
}

// Apply stores a record wholesale, overwriting any previous state for its ID
func (s *Store) Apply(rec Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.ID] = rec
}

// ApplyServer overwrites the alert half of a record with the server's copy
// and folds its acknowledged and resolved state into the local flags.
func (s *Store) ApplyServer(alert models.Alert) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[alert.ID]
	if !ok {
		rec = Record{}
	}
	rec.Alert = alert
	rec.IsRead = rec.IsRead || alert.Acknowledged()
	rec.IsResolved = rec.IsResolved || alert.Resolved()
	s.records[alert.ID] = rec
}

// Len returns the number of known alerts
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Snapshot returns the collection ordered newest first. Alerts sharing a
// creation time fall back to ID order so the view is stable between calls.
func (s *Store) Snapshot() []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Record, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Unread counts the alerts not yet marked read. Derived on demand so it can
// never drift from the collection.
func (s *Store) Unread() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, rec := range s.records {
		if !rec.IsRead {
			n++
		}
	}
	return n
}

// AlertFromNotice converts a pushed wire notice into an alert record shell.
// Only the fields the live channel carries are filled in; a later poll
// completes the rest. An unparseable timestamp leaves CreatedAt zero, which
// sorts the alert to the end of the snapshot instead of rejecting it.
func AlertFromNotice(n siren.AlertNotice) models.Alert {
	createdAt, _ := time.Parse(time.RFC3339, n.Timestamp)
	return models.Alert{
		ID:        n.ID,
		AlertType: n.Type,
		Severity:  models.Severity(n.Severity),
		Title:     n.Title,
		Message:   n.Message,
		SiteID:    n.SiteID,
		CreatedAt: createdAt,
	}
}
