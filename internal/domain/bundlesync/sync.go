// Package bundlesync moves extracted bundles to the FHIR server, either
// directly or through a durable queue drained by a background worker.
package bundlesync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/emcare/forms/internal/platform/fhir"
)

// ErrInvalidMessage is returned for queue messages that cannot be decoded.
var ErrInvalidMessage = errors.New("invalid sync message")

// ContentType of queued sync messages.
const ContentType = "application/json"

// Message is the queued envelope around one extracted bundle.
type Message struct {
	ID         string          `json:"id"`
	Bundle     json.RawMessage `json:"bundle"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
}

// TransactionPoster posts a transaction bundle to the FHIR server.
type TransactionPoster interface {
	Transaction(ctx context.Context, bundle []byte) ([]byte, error)
}

// Publisher puts a message on the sync queue.
type Publisher interface {
	Publish(ctx context.Context, contentType string, body []byte) error
}

// Uploader converts bundles to transactions and posts them.
type Uploader struct {
	server TransactionPoster
	logger zerolog.Logger
}

func NewUploader(server TransactionPoster, logger zerolog.Logger) *Uploader {
	return &Uploader{server: server, logger: logger}
}

// Upload posts bundle as a transaction and returns the number of entries the
// server answered with.
func (u *Uploader) Upload(ctx context.Context, bundle []byte) (int, error) {
	res, err := fhir.DecodeResource(bundle)
	if err != nil {
		return 0, fmt.Errorf("decode bundle: %w", err)
	}
	tx, err := fhir.ToTransactionBundle(res)
	if err != nil {
		return 0, err
	}
	body, err := fhir.EncodeResource(tx)
	if err != nil {
		return 0, err
	}

	out, err := u.server.Transaction(ctx, body)
	if err != nil {
		return 0, err
	}
	entries := 0
	if resp, err := fhir.DecodeResource(out); err == nil {
		entries = len(fhir.BundleEntries(resp))
	}
	u.logger.Info().Int("entries", len(fhir.BundleEntries(tx))).Int("response_entries", entries).Msg("bundle uploaded")
	return entries, nil
}

// Dispatcher hands bundles to the queue when one is configured and uploads
// them directly otherwise.
type Dispatcher struct {
	publisher Publisher
	uploader  *Uploader
	logger    zerolog.Logger
}

// NewDispatcher creates a Dispatcher. publisher may be nil.
func NewDispatcher(publisher Publisher, uploader *Uploader, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{publisher: publisher, uploader: uploader, logger: logger}
}

// Submit implements forms.BundleSink.
func (d *Dispatcher) Submit(ctx context.Context, bundle []byte) error {
	if d.publisher == nil {
		_, err := d.uploader.Upload(ctx, bundle)
		return err
	}

	msg := Message{ID: uuid.NewString(), Bundle: bundle, EnqueuedAt: time.Now().UTC()}
	body, err := fhir.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode sync message: %w", err)
	}
	if err := d.publisher.Publish(ctx, ContentType, body); err != nil {
		return err
	}
	d.logger.Info().Str("message_id", msg.ID).Msg("bundle queued for sync")
	return nil
}

// Worker uploads queued bundles.
type Worker struct {
	uploader *Uploader
	logger   zerolog.Logger
}

func NewWorker(uploader *Uploader, logger zerolog.Logger) *Worker {
	return &Worker{uploader: uploader, logger: logger}
}

// Handle decodes one queue message and uploads its bundle. Its signature
// matches messaging.Handler.
func (w *Worker) Handle(ctx context.Context, body []byte) error {
	var msg Message
	if err := fhir.Unmarshal(body, &msg); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidMessage, err)
	}
	if len(msg.Bundle) == 0 {
		return fmt.Errorf("%w: %s has no bundle", ErrInvalidMessage, msg.ID)
	}

	log := w.logger.With().Str("message_id", msg.ID).Logger()
	if _, err := w.uploader.Upload(ctx, msg.Bundle); err != nil {
		log.Error().Err(err).Msg("sync upload failed")
		return err
	}
	log.Info().Dur("queued_for", time.Since(msg.EnqueuedAt)).Msg("sync message processed")
	return nil
}
