// Файловый журнал прогресса векторизации для запусков без PostgreSQL-журнала
// (CLI-прогоны, локальная отладка). Хранится как JSON, пишется атомарно
// через tmp-файл и rename.
package fileledger

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/lookalike-tech/go-backend/internal/domain"
)

type entry struct {
	Status    string    `json:"status"` // processed | failed_transient | failed_permanent
	Reason    string    `json:"reason,omitempty"`
	Attempts  int       `json:"attempts"`
	UpdatedAt time.Time `json:"updated_at"`
}

type ledgerFile struct {
	Entries   map[int64]entry `json:"entries"`
	UpdatedAt time.Time       `json:"updated_at"`
}

const (
	statusProcessed       = "processed"
	statusFailedTransient = "failed_transient"
	statusFailedPermanent = "failed_permanent"
)

// Ledger — журнал прогресса в одном JSON-файле.
type Ledger struct {
	path string

	mu      sync.Mutex
	entries map[int64]entry
	dirty   bool
}

// New загружает журнал из path; отсутствующий файл — пустой журнал.
func New(path string) (*Ledger, error) {
	l := &Ledger{
		path:    filepath.Clean(path),
		entries: make(map[int64]entry),
	}

	data, err := os.ReadFile(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return l, nil
		}

		return nil, fmt.Errorf("read ledger %s: %w", l.path, err)
	}

	var file ledgerFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse ledger %s: %w", l.path, err)
	}
	if file.Entries != nil {
		l.entries = file.Entries
	}

	return l, nil
}

func (l *Ledger) IsProcessed(_ context.Context, productID int64) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.entries[productID].Status == statusProcessed, nil
}

func (l *Ledger) MarkProcessed(_ context.Context, productID int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	prev := l.entries[productID]
	l.entries[productID] = entry{
		Status:    statusProcessed,
		Attempts:  prev.Attempts + 1,
		UpdatedAt: time.Now().UTC(),
	}
	l.dirty = true
	return nil
}

func (l *Ledger) MarkFailed(_ context.Context, productID int64, reason string, permanent bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	status := statusFailedTransient
	if permanent {
		status = statusFailedPermanent
	}

	prev := l.entries[productID]
	l.entries[productID] = entry{
		Status:    status,
		Reason:    reason,
		Attempts:  prev.Attempts + 1,
		UpdatedAt: time.Now().UTC(),
	}
	l.dirty = true
	return nil
}

// NextBatch отбирает из allIDs ещё не обработанные и не постоянно-сбойные id,
// сохраняя порядок allIDs.
func (l *Ledger) NextBatch(_ context.Context, allIDs []int64, limit int) ([]int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]int64, 0, len(allIDs))
	for _, id := range allIDs {
		status := l.entries[id].Status
		if status == statusProcessed || status == statusFailedPermanent {
			continue
		}

		out = append(out, id)
		if limit > 0 && len(out) == limit {
			break
		}
	}

	return out, nil
}

// Flush атомарно записывает журнал на диск: сперва tmp-файл, затем rename.
// Уцелевшая копия всегда валидный JSON.
func (l *Ledger) Flush(_ context.Context) error {
	l.mu.Lock()
	if !l.dirty {
		l.mu.Unlock()
		return nil
	}

	file := ledgerFile{
		Entries:   make(map[int64]entry, len(l.entries)),
		UpdatedAt: time.Now().UTC(),
	}
	for id, en := range l.entries {
		file.Entries[id] = en
	}
	l.dirty = false
	l.mu.Unlock()

	data, err := json.MarshalIndent(&file, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal ledger: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(l.path), 0o750); err != nil {
		return fmt.Errorf("mkdir for ledger %s: %w", l.path, err)
	}

	tmp := l.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		l.markDirty()
		return fmt.Errorf("write ledger %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, l.path); err != nil {
		l.markDirty()
		return fmt.Errorf("rename ledger %s: %w", l.path, err)
	}

	return nil
}

func (l *Ledger) Stats(_ context.Context) (*domain.LedgerStats, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	stats := &domain.LedgerStats{}
	for _, en := range l.entries {
		switch en.Status {
		case statusProcessed:
			stats.Processed++
		case statusFailedTransient:
			stats.FailedTransient++
		case statusFailedPermanent:
			stats.FailedPermanent++
		}
	}

	return stats, nil
}

func (l *Ledger) markDirty() {
	l.mu.Lock()
	l.dirty = true
	l.mu.Unlock()
}
