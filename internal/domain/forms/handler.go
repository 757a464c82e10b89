package forms

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"github.com/emcare/forms/internal/platform/fhir"
)

// AsyncPath is the polling prefix for extraction jobs, relative to the API group.
const AsyncPath = "/_async"

type Handler struct {
	preparer     *Preparer
	jobs         *ExtractionJobs
	validate     *validator.Validate
	pollPrefix   string
	defaultTopic Topic
}

// HandlerOption configures a Handler.
type HandlerOption func(*Handler)

// WithDefaultTopic marks t as the default topic in topic listings.
func WithDefaultTopic(t Topic) HandlerOption {
	return func(h *Handler) { h.defaultTopic = t }
}

// NewHandler creates the forms HTTP handler. pollPrefix is the absolute path
// prefix under which job status is served, e.g. "/api/v1/_async".
func NewHandler(p *Preparer, jobs *ExtractionJobs, pollPrefix string, opts ...HandlerOption) *Handler {
	h := &Handler{
		preparer:     p,
		jobs:         jobs,
		validate:     validator.New(),
		pollPrefix:   pollPrefix,
		defaultTopic: DefaultTopic,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/topics", h.ListTopics)
	api.POST("/forms/:topic/$prepare", h.Prepare)
	api.POST("/forms/:topic/$extract", h.Extract)
	api.GET(AsyncPath+"/:jobId", fhir.AsyncStatusHandler(h.jobs.Store()))
	api.DELETE(AsyncPath+"/:jobId", fhir.AsyncDeleteHandler(h.jobs.Store()))
}

// TopicInfo describes one selectable topic.
type TopicInfo struct {
	Index         int    `json:"index"`
	Name          string `json:"name"`
	Questionnaire string `json:"questionnaire"`
	StructureMap  string `json:"structureMap"`
	Default       bool   `json:"default"`
}

// PrepareResponse is the body of a successful $prepare call.
type PrepareResponse struct {
	Topic                 string          `json:"topic"`
	Questionnaire         json.RawMessage `json:"questionnaire"`
	QuestionnaireResponse json.RawMessage `json:"questionnaireResponse"`
}

// ExtractRequest is the body of a $extract call. Questionnaire is the
// prepared questionnaire returned by $prepare; when omitted the topic's
// questionnaire is loaded afresh.
type ExtractRequest struct {
	QuestionnaireResponse json.RawMessage `json:"questionnaireResponse" validate:"required"`
	Questionnaire         json.RawMessage `json:"questionnaire,omitempty"`
}

func (h *Handler) ListTopics(c echo.Context) error {
	out := make([]TopicInfo, 0, len(Topics))
	for i, t := range Topics {
		out = append(out, TopicInfo{
			Index:         i,
			Name:          string(t),
			Questionnaire: t.QuestionnaireAsset(),
			StructureMap:  t.StructureMapAsset(),
			Default:       t == h.defaultTopic,
		})
	}
	return c.JSON(http.StatusOK, out)
}

func (h *Handler) Prepare(c echo.Context) error {
	topic, err := ParseTopic(c.Param("topic"))
	if err != nil {
		return writeError(c, err)
	}
	s, err := h.preparer.LoadForm(c.Request().Context(), topic)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, PrepareResponse{
		Topic:                 string(s.Topic),
		Questionnaire:         s.Questionnaire,
		QuestionnaireResponse: s.Response,
	})
}

func (h *Handler) Extract(c echo.Context) error {
	topic, err := ParseTopic(c.Param("topic"))
	if err != nil {
		return writeError(c, err)
	}

	var req ExtractRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, fhir.NewOperationOutcome(
			fhir.IssueSeverityError, fhir.IssueTypeStructure, "invalid request body: "+err.Error()))
	}
	if err := h.validate.Struct(req); err != nil {
		return c.JSON(http.StatusBadRequest, fhir.NewOperationOutcome(
			fhir.IssueSeverityError, fhir.IssueTypeRequired, "questionnaireResponse is required"))
	}
	res, err := fhir.DecodeResource(req.QuestionnaireResponse)
	if err != nil || fhir.ResourceType(res) != "QuestionnaireResponse" {
		return c.JSON(http.StatusBadRequest, fhir.NewOperationOutcome(
			fhir.IssueSeverityError, fhir.IssueTypeStructure, "questionnaireResponse must be a QuestionnaireResponse resource"))
	}

	ctx := c.Request().Context()
	var s *Session
	if len(req.Questionnaire) > 0 {
		s, err = h.preparer.Resume(ctx, topic, req.Questionnaire)
	} else {
		s, err = h.preparer.LoadForm(ctx, topic)
	}
	if err != nil {
		return writeError(c, err)
	}

	jobID, _, err := h.jobs.Start(ctx, s, req.QuestionnaireResponse, c.Request().URL.Path)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, fhir.NewOperationOutcome(
			fhir.IssueSeverityError, fhir.IssueTypeException, err.Error()))
	}
	return fhir.RespondAsync(c, h.pollPrefix, jobID)
}

// writeError maps preparer failures to OperationOutcome responses.
func writeError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, ErrConfiguration):
		return c.JSON(http.StatusBadRequest, fhir.NewOperationOutcome(
			fhir.IssueSeverityError, fhir.IssueTypeNotSupported, err.Error()))
	case errors.Is(err, ErrAssetNotFound):
		return c.JSON(http.StatusNotFound, fhir.NewOperationOutcome(
			fhir.IssueSeverityError, fhir.IssueTypeNotFound, err.Error()))
	case errors.Is(err, ErrParse):
		return c.JSON(http.StatusUnprocessableEntity, fhir.NewOperationOutcome(
			fhir.IssueSeverityError, fhir.IssueTypeStructure, err.Error()))
	case errors.Is(err, ErrExtraction):
		return c.JSON(http.StatusBadGateway, fhir.NewOperationOutcome(
			fhir.IssueSeverityError, fhir.IssueTypeProcessing, err.Error()))
	default:
		return c.JSON(http.StatusInternalServerError, fhir.ErrorOutcome(err.Error()))
	}
}
