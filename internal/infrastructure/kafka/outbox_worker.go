package kafka

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/lookalike-tech/go-backend/internal/usecase"
	"github.com/lookalike-tech/go-backend/pkg/e"
	"github.com/lookalike-tech/go-backend/pkg/logger"
)

const (
	outboxChannel   = "outbox_pending"
	drainBatchSize  = 10
	notifyWaitSlice = 30 * time.Second
)

// OutboxWorker выгребает события product.embedded из таблицы outbox_events
// и публикует их в Kafka. Просыпается по LISTEN/NOTIFY 'outbox_pending';
// таймаут ожидания служит страховкой на случай потерянного уведомления.
type OutboxWorker struct {
	repo      usecase.OutboxRepository
	logger    logger.Logger
	producer  usecase.MessageProducer
	stop      chan struct{}
	stopOnce  sync.Once
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	dbConnStr string
}

func NewOutboxWorker(
	repo usecase.OutboxRepository,
	logger logger.Logger,
	producer usecase.MessageProducer,
	dbConnStr string,
) *OutboxWorker {
	return &OutboxWorker{
		repo:      repo,
		logger:    logger,
		producer:  producer,
		stop:      make(chan struct{}),
		dbConnStr: dbConnStr,
	}
}

func (w *OutboxWorker) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)

	w.wg.Add(2)
	go func() {
		defer w.wg.Done()
		w.drainOnStartup(ctx)
	}()
	go func() {
		defer w.wg.Done()
		w.listenOutboxNotifications(ctx)
	}()
}

// Stop останавливает фоновые горутины и дожидается их завершения.
// Повторный вызов безопасен: closer может дёрнуть Stop ещё раз при
// принудительном завершении.
func (w *OutboxWorker) Stop() {
	w.stopOnce.Do(func() {
		close(w.stop)
		if w.cancel != nil {
			w.cancel()
		}
	})
	w.wg.Wait()
}

// drainOnStartup отправляет события, накопившиеся за время простоя сервиса.
func (w *OutboxWorker) drainOnStartup(ctx context.Context) {
	w.logger.Infof("draining pending outbox events on startup")
	if err := w.drainOutbox(ctx); err != nil {
		w.logger.Warnf("startup outbox drain failed: %v", err)
		return
	}

	select {
	case <-ctx.Done():
	case <-w.stop:
	}
	w.logger.Infof("outbox worker stopped")
}

// drainOutbox забирает и публикует события партиями, пока таблица не опустеет.
func (w *OutboxWorker) drainOutbox(ctx context.Context) error {
	for {
		events, err := w.repo.GetAndMarkAsProcessing(ctx, drainBatchSize)
		if err != nil {
			return err
		}
		if len(events) == 0 {
			return nil
		}

		for _, event := range events {
			if err := w.publishEvent(ctx, event); err != nil {
				w.logger.Warnf("event %s not delivered: %v", event.EventID, err)
				continue
			}
			if err := w.repo.MarkAsProcessed(ctx, event.ID); err != nil {
				w.logger.Warnf("mark processed failed for event %s: %v", event.EventID, err)
			}
		}
	}
}

func (w *OutboxWorker) listenOutboxNotifications(ctx context.Context) {
	var conn *pgx.Conn

	connect := func() error {
		var err error
		conn, err = pgx.Connect(ctx, w.dbConnStr)
		if err != nil {
			return e.Wrap("connect for LISTEN", err)
		}

		if _, err = conn.Exec(ctx, "LISTEN "+outboxChannel); err != nil {
			conn.Close(ctx)
			return e.Wrap("LISTEN "+outboxChannel, err)
		}

		w.logger.Infof("subscribed to %q channel", outboxChannel)
		return nil
	}

	if err := connect(); err != nil {
		w.logger.Warnf("initial LISTEN connect failed: %v", err)
		return
	}
	defer conn.Close(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stop:
			return
		default:
		}

		waitCtx, cancel := context.WithTimeout(ctx, notifyWaitSlice)
		notif, err := conn.WaitForNotification(waitCtx)
		cancel()

		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
				continue
			}
			w.logger.Warnf("LISTEN connection lost: %v, reconnecting", err)
			conn.Close(ctx)

			time.Sleep(2 * time.Second)
			if err := connect(); err != nil {
				w.logger.Warnf("reconnect failed: %v", err)
				time.Sleep(5 * time.Second)
			}
			continue
		}

		if notif == nil || notif.Channel != outboxChannel {
			continue
		}

		w.logger.Debugf("outbox notification received, draining")
		if err := w.drainOutbox(ctx); err != nil {
			w.logger.Warnf("outbox drain failed: %v", err)
		}
	}
}

func (w *OutboxWorker) publishEvent(ctx context.Context, event *usecase.OutboxEvent) error {
	if err := w.producer.WriteRawMessage(ctx, usecase.NewWriteRawMessageReq(event.ProductID, event.Payload)); err != nil {
		if isRetryableError(err) {
			return e.Wrap("temporary kafka failure, event stays pending", err)
		}
		return e.Wrap("permanent kafka failure", err)
	}
	return nil
}

func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	errStr := strings.ToLower(err.Error())
	retryablePhrases := []string{
		"connection refused",
		"i/o timeout",
		"network is unreachable",
		"broker not available",
		"connection reset",
		"broken pipe",
		"no such host",
	}
	for _, phrase := range retryablePhrases {
		if strings.Contains(errStr, phrase) {
			return true
		}
	}
	return false
}
