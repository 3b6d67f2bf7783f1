// Package catalog хранит снимок меню, полученный от сервиса столовой.
package catalog

import (
	"strings"
	"time"

	"github.com/mmeshcher/canteen-station/internal/model"
)

// AllCategories обозначает отсутствие фильтра по категории.
const AllCategories = "All"

// Snapshot неизменяем после создания и заменяется целиком при обновлении.
type Snapshot struct {
	entries   []model.CatalogEntry
	index     map[string]int
	fetchedAt time.Time
}

// NewSnapshot создаёт снимок из упорядоченного списка позиций.
func NewSnapshot(entries []model.CatalogEntry, fetchedAt time.Time) *Snapshot {
	s := &Snapshot{
		entries:   make([]model.CatalogEntry, len(entries)),
		index:     make(map[string]int, len(entries)),
		fetchedAt: fetchedAt,
	}
	copy(s.entries, entries)
	for i, e := range s.entries {
		if _, dup := s.index[e.ID]; !dup {
			s.index[e.ID] = i
		}
	}
	return s
}

// Entries возвращает копию позиций в порядке сервиса.
func (s *Snapshot) Entries() []model.CatalogEntry {
	if s == nil {
		return nil
	}
	out := make([]model.CatalogEntry, len(s.entries))
	copy(out, s.entries)
	return out
}

// Lookup ищет позицию по идентификатору.
func (s *Snapshot) Lookup(id string) (model.CatalogEntry, bool) {
	if s == nil {
		return model.CatalogEntry{}, false
	}
	i, ok := s.index[id]
	if !ok {
		return model.CatalogEntry{}, false
	}
	return s.entries[i], true
}

// FetchedAt возвращает момент получения снимка.
func (s *Snapshot) FetchedAt() time.Time {
	if s == nil {
		return time.Time{}
	}
	return s.fetchedAt
}

// Categories возвращает "All" и затем категории в порядке первого появления.
func (s *Snapshot) Categories() []string {
	out := []string{AllCategories}
	if s == nil {
		return out
	}
	seen := make(map[string]struct{})
	for _, e := range s.entries {
		if _, ok := seen[e.Category]; ok {
			continue
		}
		seen[e.Category] = struct{}{}
		out = append(out, e.Category)
	}
	return out
}

// Filter отбирает позиции по категории и подстроке названия без учёта регистра.
func (s *Snapshot) Filter(category, query string) []model.CatalogEntry {
	if s == nil {
		return nil
	}
	q := strings.ToLower(strings.TrimSpace(query))
	out := make([]model.CatalogEntry, 0, len(s.entries))
	for _, e := range s.entries {
		if category != "" && category != AllCategories && e.Category != category {
			continue
		}
		if q != "" && !strings.Contains(strings.ToLower(e.Name), q) {
			continue
		}
		out = append(out, e)
	}
	return out
}
