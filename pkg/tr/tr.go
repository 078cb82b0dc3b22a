package tr

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/lookalike-tech/go-backend/pkg/e"
)

type txKey struct{}

// CtxWithTx кладёт объект транзакции (pgx.Tx) в контекст.
func CtxWithTx(ctx context.Context, tx pgx.Tx) context.Context {
	return context.WithValue(ctx, txKey{}, tx)
}

// TxFromCtx извлекает объект транзакции (pgx.Tx) из контекста
func TxFromCtx(ctx context.Context) (pgx.Tx, error) {
	tx, ok := ctx.Value(txKey{}).(pgx.Tx)
	if !ok {
		return nil, e.ErrTransactionNotFound
	}
	return tx, nil
}
