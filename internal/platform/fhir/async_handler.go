package fhir

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

// MIMEApplicationFHIRJSON is the FHIR JSON media type.
const MIMEApplicationFHIRJSON = "application/fhir+json"

// AsyncJob represents the state of an asynchronous FHIR request.
type AsyncJob struct {
	ID            string    `json:"id"`
	Status        string    `json:"status"` // "in-progress", "completed", "error"
	Request       string    `json:"request"`
	TransactionTS time.Time `json:"transactionTime"`
	CompletedAt   time.Time `json:"completedAt,omitempty"`
	Output        []byte    `json:"-"`
	Error         string    `json:"error,omitempty"`
	ErrorCode     string    `json:"-"`
}

// Async job status constants.
const (
	AsyncStatusInProgress = "in-progress"
	AsyncStatusCompleted  = "completed"
	AsyncStatusError      = "error"
)

// AsyncJobStore defines the persistence interface for async job tracking.
type AsyncJobStore interface {
	Create(ctx context.Context, job *AsyncJob) error
	Get(ctx context.Context, jobID string) (*AsyncJob, error)
	Update(ctx context.Context, job *AsyncJob) error
	Delete(ctx context.Context, jobID string) error
}

// InMemoryAsyncJobStore is a concurrency-safe, in-memory implementation of AsyncJobStore.
type InMemoryAsyncJobStore struct {
	mu   sync.RWMutex
	jobs map[string]*AsyncJob
}

// NewInMemoryAsyncJobStore creates an empty InMemoryAsyncJobStore.
func NewInMemoryAsyncJobStore() *InMemoryAsyncJobStore {
	return &InMemoryAsyncJobStore{
		jobs: make(map[string]*AsyncJob),
	}
}

// Create adds a new async job to the store. If the job ID is empty a unique
// identifier is generated automatically.
func (s *InMemoryAsyncJobStore) Create(_ context.Context, job *AsyncJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if _, exists := s.jobs[job.ID]; exists {
		return fmt.Errorf("async job %s already exists", job.ID)
	}
	if job.TransactionTS.IsZero() {
		job.TransactionTS = time.Now().UTC()
	}
	if job.Status == "" {
		job.Status = AsyncStatusInProgress
	}

	// Store a copy so callers cannot mutate the map entry.
	cp := *job
	s.jobs[job.ID] = &cp
	return nil
}

// Get retrieves an async job by ID. Returns an error when the job is not found.
func (s *InMemoryAsyncJobStore) Get(_ context.Context, jobID string) (*AsyncJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return nil, fmt.Errorf("async job %s not found", jobID)
	}
	cp := *job
	return &cp, nil
}

// Update replaces an existing async job in the store.
func (s *InMemoryAsyncJobStore) Update(_ context.Context, job *AsyncJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[job.ID]; !ok {
		return fmt.Errorf("async job %s not found", job.ID)
	}
	cp := *job
	s.jobs[job.ID] = &cp
	return nil
}

// Delete removes an async job from the store. It is not an error to delete a
// job that does not exist.
func (s *InMemoryAsyncJobStore) Delete(_ context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.jobs, jobID)
	return nil
}

// AsyncStatusHandler returns an echo.HandlerFunc that serves
// GET /_async/:jobId and reports the current status of an async job.
//
// Behaviour by job status:
//   - "in-progress": 202 Accepted with an X-Progress header.
//   - "completed":   200 OK with the job output as the body.
//   - "error":       500 Internal Server Error with an OperationOutcome.
//   - not found:     404 Not Found with an OperationOutcome.
func AsyncStatusHandler(store AsyncJobStore) echo.HandlerFunc {
	return func(c echo.Context) error {
		jobID := c.Param("jobId")
		if jobID == "" {
			return c.JSON(http.StatusBadRequest, NewOperationOutcome(
				IssueSeverityError, IssueTypeRequired, "jobId parameter is required",
			))
		}

		job, err := store.Get(c.Request().Context(), jobID)
		if err != nil {
			return c.JSON(http.StatusNotFound, NewOperationOutcome(
				IssueSeverityError, IssueTypeNotFound, fmt.Sprintf("async job %s not found", jobID),
			))
		}

		switch job.Status {
		case AsyncStatusInProgress:
			c.Response().Header().Set("X-Progress", "in-progress")
			return c.NoContent(http.StatusAccepted)

		case AsyncStatusCompleted:
			return c.Blob(http.StatusOK, MIMEApplicationFHIRJSON, job.Output)

		case AsyncStatusError:
			code := job.ErrorCode
			if code == "" {
				code = IssueTypeException
			}
			return c.JSON(http.StatusInternalServerError, NewOperationOutcome(
				IssueSeverityError, code, job.Error,
			))

		default:
			return c.JSON(http.StatusInternalServerError, NewOperationOutcome(
				IssueSeverityError, IssueTypeException, "unknown job status",
			))
		}
	}
}

// AsyncDeleteHandler returns an echo.HandlerFunc that serves
// DELETE /_async/:jobId to remove a finished async job.
func AsyncDeleteHandler(store AsyncJobStore) echo.HandlerFunc {
	return func(c echo.Context) error {
		jobID := c.Param("jobId")
		if jobID == "" {
			return c.JSON(http.StatusBadRequest, NewOperationOutcome(
				IssueSeverityError, IssueTypeRequired, "jobId parameter is required",
			))
		}

		if err := store.Delete(c.Request().Context(), jobID); err != nil {
			return c.JSON(http.StatusInternalServerError, NewOperationOutcome(
				IssueSeverityError, IssueTypeException, err.Error(),
			))
		}

		return c.NoContent(http.StatusAccepted)
	}
}

// RespondAsync writes a 202 Accepted response with the Content-Location header
// pointing to the polling endpoint for the given job ID.
func RespondAsync(c echo.Context, pollPrefix, jobID string) error {
	c.Response().Header().Set("Content-Location", fmt.Sprintf("%s/%s", pollPrefix, jobID))
	return c.NoContent(http.StatusAccepted)
}
