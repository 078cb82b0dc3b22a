// Журнал прогресса в памяти: для тестов и одноразовых прогонов,
// где переживать рестарт не требуется.
package memledger

import (
	"context"
	"sync"
	"time"

	"github.com/lookalike-tech/go-backend/internal/domain"
)

type Ledger struct {
	mu       sync.Mutex
	done     map[int64]bool
	failures map[int64]domain.LedgerFailure
}

func New() *Ledger {
	return &Ledger{
		done:     make(map[int64]bool),
		failures: make(map[int64]domain.LedgerFailure),
	}
}

func (l *Ledger) IsProcessed(_ context.Context, productID int64) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.done[productID], nil
}

func (l *Ledger) MarkProcessed(_ context.Context, productID int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.done[productID] = true
	delete(l.failures, productID)
	return nil
}

func (l *Ledger) MarkFailed(_ context.Context, productID int64, reason string, permanent bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	failure := l.failures[productID]
	failure.ProductID = productID
	failure.Reason = reason
	failure.Permanent = permanent
	failure.Attempts++
	failure.UpdatedAt = time.Now().UTC()
	l.failures[productID] = failure
	return nil
}

func (l *Ledger) NextBatch(_ context.Context, allIDs []int64, limit int) ([]int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]int64, 0, len(allIDs))
	for _, id := range allIDs {
		if l.done[id] {
			continue
		}
		if f, ok := l.failures[id]; ok && f.Permanent {
			continue
		}

		out = append(out, id)
		if limit > 0 && len(out) == limit {
			break
		}
	}

	return out, nil
}

// Flush — no-op: журнал живёт только в памяти.
func (l *Ledger) Flush(_ context.Context) error {
	return nil
}

func (l *Ledger) Stats(_ context.Context) (*domain.LedgerStats, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	stats := &domain.LedgerStats{Processed: len(l.done)}
	for _, f := range l.failures {
		if f.Permanent {
			stats.FailedPermanent++
		} else {
			stats.FailedTransient++
		}
	}

	return stats, nil
}
