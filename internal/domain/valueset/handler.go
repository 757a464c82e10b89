package valueset

import (
	"errors"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/emcare/forms/internal/platform/fhir"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(fhirGroup *echo.Group) {
	fhirGroup.GET("/ValueSet", h.SearchValueSetsFHIR)
	fhirGroup.POST("/ValueSet", h.ImportValueSetFHIR)
	fhirGroup.GET("/ValueSet/$codes", h.LookupCodes)
}

// LookupCodes serves GET /fhir/ValueSet/$codes?url=... with the flattened
// codings of the value set.
func (h *Handler) LookupCodes(c echo.Context) error {
	url := c.QueryParam("url")
	if url == "" {
		return c.JSON(http.StatusBadRequest, fhir.NewOperationOutcome(
			fhir.IssueSeverityError, fhir.IssueTypeRequired, "url parameter is required"))
	}
	codes, err := h.svc.Lookup(c.Request().Context(), url)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, fhir.ErrorOutcome(err.Error()))
	}
	return c.JSON(http.StatusOK, codes)
}

// SearchValueSetsFHIR returns the stored value set for ?url= or a searchset
// of every stored value set.
func (h *Handler) SearchValueSetsFHIR(c echo.Context) error {
	ctx := c.Request().Context()
	var items []*ValueSet
	if url := c.QueryParam("url"); url != "" {
		vs, err := h.svc.Get(ctx, url)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return c.JSON(http.StatusInternalServerError, fhir.ErrorOutcome(err.Error()))
		}
		if vs != nil {
			items = append(items, vs)
		}
	} else {
		var err error
		items, err = h.svc.List(ctx)
		if err != nil {
			return c.JSON(http.StatusInternalServerError, fhir.ErrorOutcome(err.Error()))
		}
	}

	entries := make([]interface{}, 0, len(items))
	for _, vs := range items {
		entries = append(entries, map[string]interface{}{"resource": vs.Resource})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"resourceType": "Bundle",
		"type":         "searchset",
		"total":        len(items),
		"entry":        entries,
	})
}

func (h *Handler) ImportValueSetFHIR(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return c.JSON(http.StatusBadRequest, fhir.ErrorOutcome("failed to read request body"))
	}
	items, err := h.svc.Import(c.Request().Context(), body)
	if errors.Is(err, ErrInvalidValueSet) {
		return c.JSON(http.StatusBadRequest, fhir.NewOperationOutcome(
			fhir.IssueSeverityError, fhir.IssueTypeInvalid, err.Error()))
	}
	if err != nil {
		return c.JSON(http.StatusInternalServerError, fhir.ErrorOutcome(err.Error()))
	}
	if len(items) == 1 {
		return c.JSON(http.StatusCreated, items[0].Resource)
	}
	return c.JSON(http.StatusCreated, fhir.NewOperationOutcome(
		fhir.IssueSeverityInformation, "informational", "imported value sets"))
}
