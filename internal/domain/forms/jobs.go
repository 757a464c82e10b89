package forms

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/emcare/forms/internal/platform/fhir"
)

// BundleSink receives extracted bundles for upload to the FHIR server.
type BundleSink interface {
	Submit(ctx context.Context, bundle []byte) error
}

// ExtractionJobs runs extractions in the background and records their outcome
// in an async job store so clients can poll for the bundle.
type ExtractionJobs struct {
	preparer *Preparer
	store    fhir.AsyncJobStore
	sink     BundleSink
	logger   zerolog.Logger
}

// NewExtractionJobs creates a job runner. sink may be nil.
func NewExtractionJobs(p *Preparer, store fhir.AsyncJobStore, sink BundleSink, logger zerolog.Logger) *ExtractionJobs {
	return &ExtractionJobs{preparer: p, store: store, sink: sink, logger: logger}
}

// Store returns the job store the runner writes to.
func (j *ExtractionJobs) Store() fhir.AsyncJobStore { return j.store }

// Start registers a job and launches the extraction. The returned channel is
// closed once the job record holds the final result.
func (j *ExtractionJobs) Start(ctx context.Context, s *Session, response []byte, request string) (string, <-chan struct{}, error) {
	job := &fhir.AsyncJob{Request: request, Status: fhir.AsyncStatusInProgress}
	if err := j.store.Create(ctx, job); err != nil {
		return "", nil, err
	}

	finished := make(chan struct{})
	results := j.preparer.ExtractAsync(ctx, s, response)
	bg := context.WithoutCancel(ctx)

	go func() {
		defer close(finished)
		res := <-results

		log := j.logger.With().Str("job_id", job.ID).Str("topic", string(s.Topic)).Logger()
		job.CompletedAt = time.Now().UTC()
		if res.Err != nil {
			job.Status = fhir.AsyncStatusError
			job.Error = res.Err.Error()
			job.ErrorCode = fhir.IssueTypeProcessing
			if !errors.Is(res.Err, ErrExtraction) {
				job.ErrorCode = fhir.IssueTypeException
			}
			log.Error().Err(res.Err).Msg("extraction job failed")
		} else {
			job.Status = fhir.AsyncStatusCompleted
			job.Output = res.Bundle
			if j.sink != nil {
				if err := j.sink.Submit(bg, res.Bundle); err != nil {
					log.Error().Err(err).Msg("bundle submission failed")
				}
			}
			log.Info().Msg("extraction job completed")
		}

		if err := j.store.Update(bg, job); err != nil {
			log.Error().Err(err).Msg("failed to record extraction result")
		}
	}()

	return job.ID, finished, nil
}
