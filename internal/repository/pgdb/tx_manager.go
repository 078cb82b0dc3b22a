package pgdb

import (
	"context"

	transaction "github.com/avito-tech/go-transaction-manager/drivers/pgxv5/v2"
	"github.com/jackc/pgx/v5"
	"github.com/jimlawless/whereami"

	"github.com/lookalike-tech/go-backend/pkg/e"
	"github.com/lookalike-tech/go-backend/pkg/tr"
)

// TxManager выполняет функцию внутри одной транзакции PostgreSQL,
// прокидывая открытую транзакцию репозиториям через контекст.
type TxManager struct {
	pool transaction.Transactional
}

func NewTxManager(pool transaction.Transactional) *TxManager {
	return &TxManager{pool: pool}
}

func (t *TxManager) WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	ctx, tx, err := transaction.NewTransaction(ctx, pgx.TxOptions{}, t.pool)
	if err != nil {
		return e.Wrap(whereami.WhereAmI(), err)
	}
	defer func() {
		if tx.IsActive() {
			tx.Rollback(ctx)
		}
	}()

	pgxTx, ok := tx.Transaction().(pgx.Tx)
	if !ok {
		return e.Wrap(whereami.WhereAmI(), e.ErrTransactionNotFound)
	}
	ctx = tr.CtxWithTx(ctx, pgxTx)

	if err := fn(ctx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return e.Wrap(whereami.WhereAmI(), err)
	}

	return nil
}
