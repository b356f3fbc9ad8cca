package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/sirupsen/logrus"

	"bulk-import-service/internal/importer"
	"bulk-import-service/internal/repository"
)

// consumerName is shared across replicas so each trigger is delivered to one
// worker
const consumerName = "import-workflow"

// ImportSubscriber consumes import.requested triggers and runs the workflow
// engine. Delivery gives each trigger one retry: the first redelivery after a
// failed or interrupted run resumes from recorded step results, further
// failures stay parked on the batch's failed status.
type ImportSubscriber struct {
	js              jetstream.JetStream
	engine          *importer.Engine
	batches         repository.BatchRepositoryInterface
	publisher       *Publisher
	workflowTimeout time.Duration
	logger          *logrus.Entry
}

// NewImportSubscriber creates a subscriber sharing the publisher's JetStream
// connection
func NewImportSubscriber(publisher *Publisher, engine *importer.Engine, batches repository.BatchRepositoryInterface, workflowTimeout time.Duration, logger *logrus.Logger) *ImportSubscriber {
	if logger == nil {
		logger = logrus.New()
	}
	if workflowTimeout <= 0 {
		workflowTimeout = 30 * time.Minute
	}
	return &ImportSubscriber{
		js:              publisher.JetStream(),
		engine:          engine,
		batches:         batches,
		publisher:       publisher,
		workflowTimeout: workflowTimeout,
		logger:          logger.WithField("component", "import-subscriber"),
	}
}

// Start begins consuming import triggers until the context is cancelled
func (s *ImportSubscriber) Start(ctx context.Context) error {
	consumer, err := s.js.CreateOrUpdateConsumer(ctx, StreamName, jetstream.ConsumerConfig{
		Durable:       consumerName,
		FilterSubject: SubjectRequestedPrefix + ">",
		AckPolicy:     jetstream.AckExplicitPolicy,
		// AckWait must outlast the longest workflow run or the server
		// redelivers mid-flight.
		AckWait:       s.workflowTimeout + 5*time.Minute,
		MaxDeliver:    2,
		DeliverPolicy: jetstream.DeliverAllPolicy,
	})
	if err != nil {
		return fmt.Errorf("failed to create import trigger consumer: %w", err)
	}

	go s.consume(ctx, consumer)

	s.logger.Info("Listening for import triggers")
	return nil
}

func (s *ImportSubscriber) consume(ctx context.Context, consumer jetstream.Consumer) {
	msgs, err := consumer.Messages()
	if err != nil {
		s.logger.WithError(err).Error("Failed to get import trigger messages iterator")
		return
	}

	for {
		select {
		case <-ctx.Done():
			msgs.Stop()
			return
		default:
			msg, err := msgs.Next()
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, jetstream.ErrMsgIteratorClosed) {
					return
				}
				s.logger.WithError(err).Error("Error getting next import trigger")
				time.Sleep(time.Second)
				continue
			}

			if err := s.handleTrigger(ctx, msg); err != nil {
				s.logger.WithError(err).Error("Import trigger failed")
				msg.Nak()
			} else {
				msg.Ack()
			}
		}
	}
}

func (s *ImportSubscriber) handleTrigger(ctx context.Context, msg jetstream.Msg) error {
	var trig importer.Trigger
	if err := json.Unmarshal(msg.Data(), &trig); err != nil {
		// A malformed trigger never becomes runnable; ack it away.
		s.logger.WithError(err).Warn("Dropping malformed import trigger")
		return nil
	}

	log := s.logger.WithFields(logrus.Fields{
		"batchId":    trig.BatchID,
		"merchantId": trig.MerchantID,
		"importType": trig.ImportType,
	})

	runCtx, cancel := context.WithTimeout(ctx, s.workflowTimeout)
	defer cancel()

	runErr := s.engine.Run(runCtx, trig)

	// The batch status is final either way; notify downstream from the
	// record, not from the in-memory outcome.
	s.notifyResult(trig, log)

	if runErr != nil {
		return fmt.Errorf("run batch %s: %w", trig.BatchID, runErr)
	}
	return nil
}

func (s *ImportSubscriber) notifyResult(trig importer.Trigger, log *logrus.Entry) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	batch, err := s.batches.GetByID(ctx, trig.BatchID)
	if err != nil {
		log.WithError(err).Warn("Could not load batch for result notification")
		return
	}
	if !batch.IsTerminal() {
		return
	}
	if err := s.publisher.PublishBatchResult(ctx, batch); err != nil {
		log.WithError(err).Warn("Could not publish batch result event")
	}
}
