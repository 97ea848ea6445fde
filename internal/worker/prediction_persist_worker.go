package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"medscan/internal/model"
	"medscan/pkg/predict"
)

// errReject marks deliveries that can never succeed and must not be requeued.
var errReject = errors.New("reject delivery")

type PredictionStore interface {
	Create(ctx context.Context, p *model.Prediction) error
}

type HistoryInvalidator interface {
	DeleteHistory(ctx context.Context, userID uint) error
}

type PersistRecorder interface {
	RecordPersisted(ok bool)
}

type PredictionPersistWorker struct {
	conn      *amqp.Connection
	store     PredictionStore
	cache     HistoryInvalidator
	metrics   PersistRecorder
	queueName string
	logger    *zap.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewPredictionPersistWorker(
	conn *amqp.Connection,
	store PredictionStore,
	cache HistoryInvalidator,
	metrics PersistRecorder,
	queueName string,
	logger *zap.Logger,
) *PredictionPersistWorker {
	return &PredictionPersistWorker{
		conn:      conn,
		store:     store,
		cache:     cache,
		metrics:   metrics,
		queueName: queueName,
		logger:    logger,
	}
}

func (w *PredictionPersistWorker) Start(ctx context.Context) error {
	if w.cancel != nil {
		return nil
	}

	workerCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	ch, err := w.conn.Channel()
	if err != nil {
		cancel()
		return fmt.Errorf("open worker channel failed: %w", err)
	}
	if err := ch.Qos(16, 0, false); err != nil {
		_ = ch.Close()
		cancel()
		return fmt.Errorf("set worker qos failed: %w", err)
	}

	deliveries, err := ch.Consume(
		w.queueName,
		"",
		false,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		_ = ch.Close()
		cancel()
		return fmt.Errorf("consume queue failed: %w", err)
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer ch.Close()

		for {
			select {
			case <-workerCtx.Done():
				return
			case d, ok := <-deliveries:
				if !ok {
					w.logger.Warn("prediction delivery channel closed")
					return
				}
				w.ack(d, w.handle(workerCtx, d.Body))
			}
		}
	}()

	w.logger.Info("prediction persist worker started", zap.String("queue", w.queueName))
	return nil
}

func (w *PredictionPersistWorker) ack(d amqp.Delivery, err error) {
	switch {
	case err == nil:
		_ = d.Ack(false)
	case errors.Is(err, errReject):
		_ = d.Nack(false, false)
	default:
		// storage failures are retried once by the broker before being dropped
		_ = d.Nack(false, !d.Redelivered)
	}
}

// handle stores one queued record and invalidates the owner's cached history.
func (w *PredictionPersistWorker) handle(ctx context.Context, body []byte) error {
	var rec predict.Record
	if err := json.Unmarshal(body, &rec); err != nil {
		w.logger.Error("worker decode prediction failed", zap.Error(err))
		w.metrics.RecordPersisted(false)
		return fmt.Errorf("%w: %v", errReject, err)
	}

	p, err := model.PredictionFromRecord(rec)
	if err != nil {
		w.logger.Error("worker rejected invalid prediction", zap.String("record_id", rec.ID), zap.Error(err))
		w.metrics.RecordPersisted(false)
		return fmt.Errorf("%w: %v", errReject, err)
	}

	if err := w.store.Create(ctx, p); err != nil {
		w.logger.Error("worker persist prediction failed", zap.String("record_id", rec.ID), zap.Error(err))
		w.metrics.RecordPersisted(false)
		return err
	}

	if w.cache != nil {
		if err := w.cache.DeleteHistory(ctx, p.UserID); err != nil {
			w.logger.Warn("worker invalidate history failed", zap.Uint("user_id", p.UserID), zap.Error(err))
		}
	}
	w.metrics.RecordPersisted(true)
	return nil
}

func (w *PredictionPersistWorker) Close() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
}
