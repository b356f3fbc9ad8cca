// Package events provides NATS JetStream publishing and subscription for
// import workflow events.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/sirupsen/logrus"

	"bulk-import-service/internal/importer"
	"bulk-import-service/internal/models"
)

const (
	// StreamName holds every import event, triggers and outcomes alike
	StreamName = "IMPORT_EVENTS"

	SubjectRequestedPrefix  = "import.requested."
	SubjectCompleted        = "import.completed"
	SubjectValidationFailed = "import.validation_failed"
	SubjectFailed           = "import.failed"
)

// ResultEvent notifies downstream consumers that a batch reached a terminal
// status
type ResultEvent struct {
	EventType         string    `json:"eventType"`
	BatchID           string    `json:"batchId"`
	MerchantID        string    `json:"merchantId"`
	ImportType        string    `json:"importType"`
	Status            string    `json:"status"`
	ImportedUsers     int       `json:"importedUsers,omitempty"`
	UpdatedUsers      int       `json:"updatedUsers,omitempty"`
	ImportedPurchases int       `json:"importedPurchases,omitempty"`
	ImportedItems     int       `json:"importedItems,omitempty"`
	ErrorMessage      string    `json:"errorMessage,omitempty"`
	Timestamp         time.Time `json:"timestamp"`
}

// Publisher publishes import events to JetStream
type Publisher struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	logger *logrus.Entry
}

// NewPublisher connects to NATS and ensures the import events stream exists
func NewPublisher(natsURL string, logger *logrus.Logger) (*Publisher, error) {
	if logger == nil {
		logger = logrus.New()
		logger.SetLevel(logrus.InfoLevel)
	}
	log := logger.WithField("component", "import-events")

	nc, err := nats.Connect(natsURL,
		nats.Name("bulk-import-service"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.ReconnectBufSize(8*1024*1024),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.WithField("url", nc.ConnectedUrl()).Info("Reconnected to NATS")
		}),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.WithError(err).Warn("Disconnected from NATS")
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			log.Info("NATS connection closed")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      StreamName,
		Subjects:  []string{"import.>"},
		Retention: jetstream.LimitsPolicy,
		MaxAge:    24 * time.Hour * 7,
		Storage:   jetstream.FileStorage,
		Replicas:  1,
	})
	if err != nil {
		log.WithError(err).Warn("Failed to ensure import events stream (may already exist)")
	}

	return &Publisher{nc: nc, js: js, logger: log}, nil
}

// Close closes the NATS connection
func (p *Publisher) Close() {
	if p.nc != nil {
		p.nc.Close()
	}
}

// JetStream exposes the underlying JetStream context so the subscriber can
// share one connection
func (p *Publisher) JetStream() jetstream.JetStream {
	return p.js
}

// PublishImportRequested publishes the trigger that starts a workflow run.
// The publish is synchronous: the upload handler must not report accepted
// until the trigger is stored in the stream.
func (p *Publisher) PublishImportRequested(ctx context.Context, trig importer.Trigger) error {
	data, err := json.Marshal(trig)
	if err != nil {
		return fmt.Errorf("encode trigger: %w", err)
	}

	subject := SubjectRequestedPrefix + string(trig.ImportType)
	if _, err := p.js.Publish(ctx, subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}

	p.logger.WithFields(logrus.Fields{
		"subject":    subject,
		"batchId":    trig.BatchID,
		"merchantId": trig.MerchantID,
	}).Info("Import trigger published")
	return nil
}

// PublishBatchResult publishes the terminal-status notification for a batch
func (p *Publisher) PublishBatchResult(ctx context.Context, batch *models.ImportBatch) error {
	var subject string
	switch batch.Status {
	case models.BatchStatusCompleted:
		subject = SubjectCompleted
	case models.BatchStatusValidationFailed:
		subject = SubjectValidationFailed
	case models.BatchStatusFailed:
		subject = SubjectFailed
	default:
		return fmt.Errorf("batch %s is not terminal (status %s)", batch.ID, batch.Status)
	}

	event := ResultEvent{
		EventType:         subject,
		BatchID:           batch.ID.String(),
		MerchantID:        batch.MerchantID.String(),
		ImportType:        string(batch.ImportType),
		Status:            batch.Status,
		ImportedUsers:     batch.ImportedUsers,
		UpdatedUsers:      batch.UpdatedUsers,
		ImportedPurchases: batch.ImportedPurchases,
		ImportedItems:     batch.ImportedItems,
		Timestamp:         time.Now().UTC(),
	}
	if batch.ErrorMessage != nil {
		event.ErrorMessage = *batch.ErrorMessage
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode result event: %w", err)
	}

	// Result notifications are best-effort; the batch record is the source
	// of truth.
	go func() {
		pubCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if _, err := p.js.Publish(pubCtx, subject, data); err != nil {
			p.logger.WithFields(logrus.Fields{
				"subject": subject,
				"batchId": event.BatchID,
			}).WithError(err).Error("Failed to publish batch result event")
			return
		}
		p.logger.WithFields(logrus.Fields{
			"subject": subject,
			"batchId": event.BatchID,
			"status":  event.Status,
		}).Info("Batch result event published")
	}()

	return nil
}
