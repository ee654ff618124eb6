// Package remotestore defines the relational Remote Store the sync engine
// reconciles against, with in-memory and PostgreSQL implementations.
package remotestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// OwnerColumn is the column every table is scoped by.
const OwnerColumn = "user_id"

var (
	// ErrUnscopedFilter is returned when a query or delete does not name an owner.
	ErrUnscopedFilter = errors.New("filter must be scoped to an owner")
	// ErrUnscopedRow is returned when an upserted row carries no owner.
	ErrUnscopedRow = errors.New("row must carry an owner")
	// ErrUnknownTable is returned for tables outside the catalog.
	ErrUnknownTable = errors.New("unknown table")
)

// Row is one record as exchanged with the Remote Store.
type Row map[string]any

// Filter selects rows by column equality.
type Filter map[string]any

// Store is the relational Remote Store. Every call is scoped to one owner.
type Store interface {
	Query(ctx context.Context, table string, filter Filter) ([]Row, error)
	Upsert(ctx context.Context, table string, rows []Row, conflictKeys []string) error
	Delete(ctx context.Context, table string, filter Filter) error
}

// ToRow converts a JSON-tagged value into a Row.
func ToRow(value any) (Row, error) {
	body, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	var row Row
	if err := json.Unmarshal(body, &row); err != nil {
		return nil, err
	}
	return row, nil
}

// FromRow decodes a Row into a JSON-tagged value.
func FromRow(row Row, out any) error {
	body, err := json.Marshal(row)
	if err != nil {
		return err
	}
	return json.Unmarshal(body, out)
}

func ownerOf(filter map[string]any) (string, bool) {
	value, ok := filter[OwnerColumn]
	if !ok || value == nil {
		return "", false
	}
	owner := strings.TrimSpace(fmt.Sprint(value))
	return owner, owner != ""
}

// MemoryStore is an in-memory Remote Store with the same partial-update
// upsert semantics as the PostgreSQL store.
type MemoryStore struct {
	mu     sync.RWMutex
	tables map[string][]Row
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tables: make(map[string][]Row)}
}

// Query implements Store.
func (m *MemoryStore) Query(_ context.Context, table string, filter Filter) ([]Row, error) {
	if _, ok := ownerOf(filter); !ok {
		return nil, ErrUnscopedFilter
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Row, 0)
	for _, row := range m.tables[table] {
		if matches(row, filter) {
			out = append(out, cloneRow(row))
		}
	}
	sortRows(out)
	return out, nil
}

// Upsert implements Store. Existing rows matching every conflict key have the
// provided columns overwritten; other columns are kept.
func (m *MemoryStore) Upsert(_ context.Context, table string, rows []Row, conflictKeys []string) error {
	if len(conflictKeys) == 0 {
		return errors.New("upsert requires conflict keys")
	}
	normalized := make([]Row, 0, len(rows))
	for _, row := range rows {
		if _, ok := ownerOf(row); !ok {
			return ErrUnscopedRow
		}
		clean, err := normalizeRow(row)
		if err != nil {
			return err
		}
		normalized = append(normalized, clean)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	existing := m.tables[table]
	for _, row := range normalized {
		key := Filter{}
		for _, column := range conflictKeys {
			key[column] = row[column]
		}
		updated := false
		for i, current := range existing {
			if matches(current, key) {
				for column, value := range row {
					current[column] = value
				}
				existing[i] = current
				updated = true
				break
			}
		}
		if !updated {
			existing = append(existing, row)
		}
	}
	m.tables[table] = existing
	return nil
}

// Delete implements Store.
func (m *MemoryStore) Delete(_ context.Context, table string, filter Filter) error {
	if _, ok := ownerOf(filter); !ok {
		return ErrUnscopedFilter
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.tables[table][:0]
	for _, row := range m.tables[table] {
		if !matches(row, filter) {
			kept = append(kept, row)
		}
	}
	m.tables[table] = kept
	return nil
}

// Rows returns a copy of every row in table, across owners.
func (m *MemoryStore) Rows(table string) []Row {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Row, 0, len(m.tables[table]))
	for _, row := range m.tables[table] {
		out = append(out, cloneRow(row))
	}
	sortRows(out)
	return out
}

func matches(row Row, filter Filter) bool {
	for column, want := range filter {
		got, ok := row[column]
		if !ok || fmt.Sprint(got) != fmt.Sprint(want) {
			return false
		}
	}
	return true
}

func normalizeRow(row Row) (Row, error) {
	body, err := json.Marshal(row)
	if err != nil {
		return nil, fmt.Errorf("encode row: %w", err)
	}
	var out Row
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("decode row: %w", err)
	}
	return out, nil
}

func cloneRow(row Row) Row {
	clone, err := normalizeRow(row)
	if err != nil {
		return row
	}
	return clone
}

func sortRows(rows []Row) {
	sort.SliceStable(rows, func(i, j int) bool {
		ki := fmt.Sprint(rows[i]["id"]) + "|" + fmt.Sprint(rows[i][OwnerColumn])
		kj := fmt.Sprint(rows[j]["id"]) + "|" + fmt.Sprint(rows[j][OwnerColumn])
		return ki < kj
	})
}
