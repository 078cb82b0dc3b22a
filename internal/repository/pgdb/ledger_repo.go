package pgdb

import (
	"context"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jimlawless/whereami"

	"github.com/lookalike-tech/go-backend/internal/domain"
	"github.com/lookalike-tech/go-backend/pkg/e"
)

const (
	statusProcessed       = "processed"
	statusFailedTransient = "failed_transient"
	statusFailedPermanent = "failed_permanent"
)

type pendingMark struct {
	processed bool
	reason    string
	permanent bool
}

// LedgerRepo — журнал прогресса векторизации поверх таблицы embedding_progress.
// Отметки копятся в памяти, Flush сбрасывает их одной транзакцией.
type LedgerRepo struct {
	pool *pgxpool.Pool

	mu      sync.Mutex
	pending map[int64]pendingMark
}

func NewLedgerRepo(pool *pgxpool.Pool) *LedgerRepo {
	return &LedgerRepo{
		pool:    pool,
		pending: make(map[int64]pendingMark),
	}
}

func (l *LedgerRepo) IsProcessed(ctx context.Context, productID int64) (bool, error) {
	l.mu.Lock()
	if mark, ok := l.pending[productID]; ok {
		l.mu.Unlock()
		return mark.processed, nil
	}
	l.mu.Unlock()

	query := `
		SELECT EXISTS (
			SELECT 1 FROM embedding_progress
			WHERE product_id = $1 AND status = $2
		)
	`

	var processed bool
	if err := l.pool.QueryRow(ctx, query, productID, statusProcessed).Scan(&processed); err != nil {
		return false, e.Wrap(whereami.WhereAmI(), err)
	}

	return processed, nil
}

func (l *LedgerRepo) MarkProcessed(_ context.Context, productID int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pending[productID] = pendingMark{processed: true}
	return nil
}

func (l *LedgerRepo) MarkFailed(_ context.Context, productID int64, reason string, permanent bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pending[productID] = pendingMark{reason: reason, permanent: permanent}
	return nil
}

// NextBatch отбирает из allIDs кандидатов на обработку: без отметки processed
// и без постоянного сбоя, в порядке allIDs, не более limit (0 — без лимита).
func (l *LedgerRepo) NextBatch(ctx context.Context, allIDs []int64, limit int) ([]int64, error) {
	query := `
		SELECT product_id, status
		FROM embedding_progress
		WHERE product_id = ANY($1)
	`

	rows, err := l.pool.Query(ctx, query, allIDs)
	if err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}
	defer rows.Close()

	done := make(map[int64]bool)
	for rows.Next() {
		var id int64
		var status string
		if err := rows.Scan(&id, &status); err != nil {
			return nil, e.Wrap(whereami.WhereAmI(), err)
		}

		if status == statusProcessed || status == statusFailedPermanent {
			done[id] = true
		}
	}
	if err := rows.Err(); err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	l.mu.Lock()
	for id, mark := range l.pending {
		if mark.processed || mark.permanent {
			done[id] = true
		}
	}
	l.mu.Unlock()

	out := make([]int64, 0, len(allIDs))
	for _, id := range allIDs {
		if done[id] {
			continue
		}

		out = append(out, id)
		if limit > 0 && len(out) == limit {
			break
		}
	}

	return out, nil
}

// Flush сбрасывает накопленные отметки одной транзакцией. Отметки, пришедшие
// во время сброса, остаются в буфере до следующего вызова.
func (l *LedgerRepo) Flush(ctx context.Context) error {
	l.mu.Lock()
	if len(l.pending) == 0 {
		l.mu.Unlock()
		return nil
	}
	snapshot := make(map[int64]pendingMark, len(l.pending))
	for id, mark := range l.pending {
		snapshot[id] = mark
	}
	l.mu.Unlock()

	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return e.Wrap(whereami.WhereAmI(), err)
	}
	defer tx.Rollback(ctx)

	upsert := `
		INSERT INTO embedding_progress (product_id, status, reason, attempts, updated_at)
		VALUES ($1, $2, $3, 1, NOW())
		ON CONFLICT (product_id)
		DO UPDATE SET status = EXCLUDED.status,
		              reason = EXCLUDED.reason,
		              attempts = embedding_progress.attempts + 1,
		              updated_at = NOW()
	`

	for id, mark := range snapshot {
		status := statusProcessed
		var reason *string
		if !mark.processed {
			status = statusFailedTransient
			if mark.permanent {
				status = statusFailedPermanent
			}
			reason = &mark.reason
		}

		if _, err := tx.Exec(ctx, upsert, id, status, reason); err != nil {
			return e.Wrap(whereami.WhereAmI(), err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return e.Wrap(whereami.WhereAmI(), err)
	}

	l.mu.Lock()
	for id, mark := range snapshot {
		if current, ok := l.pending[id]; ok && current == mark {
			delete(l.pending, id)
		}
	}
	l.mu.Unlock()

	return nil
}

// Stats сбрасывает буфер и агрегирует журнал по статусам.
func (l *LedgerRepo) Stats(ctx context.Context) (*domain.LedgerStats, error) {
	if err := l.Flush(ctx); err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	query := `
		SELECT status, COUNT(*)
		FROM embedding_progress
		GROUP BY status
	`

	rows, err := l.pool.Query(ctx, query)
	if err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}
	defer rows.Close()

	stats := &domain.LedgerStats{}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, e.Wrap(whereami.WhereAmI(), err)
		}

		switch status {
		case statusProcessed:
			stats.Processed = count
		case statusFailedTransient:
			stats.FailedTransient = count
		case statusFailedPermanent:
			stats.FailedPermanent = count
		}
	}
	if err := rows.Err(); err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	return stats, nil
}
