package domain

import "time"

// LedgerFailure — запись о неудачной попытке векторизации товара.
type LedgerFailure struct {
	ProductID int64
	Reason    string
	Permanent bool
	Attempts  int
	UpdatedAt time.Time
}

// LedgerStats — агрегированное состояние журнала прогресса.
type LedgerStats struct {
	Processed       int
	FailedTransient int
	FailedPermanent int
}
