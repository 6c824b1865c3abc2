package access

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/labsecure/labsecure/internal/domain/patient"
	"github.com/labsecure/labsecure/internal/domain/result"
)

// Handler exposes the access gateway over HTTP.
type Handler struct {
	service *Service
}

// NewHandler creates a new access handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes mounts the gateway routes on the supplied Echo group.
func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.POST("/results/:result_id/view", h.handleView)
	g.GET("/patients/:patient_id/results", h.handleList)
	g.POST("/reports/:result_id", h.handleGenerateReport)
	g.GET("/reports/download", h.handleDownload)
	g.POST("/results/:result_id/delete-request", h.handleDeleteRequest)
}

type disclosureRequest struct {
	PatientID     string `json:"patient_id"`
	Justification string `json:"justification"`
	BreakGlass    bool   `json:"break_glass"`
}

func (h *Handler) handleView(c echo.Context) error {
	var req disclosureRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}

	r, err := h.service.View(c.Request().Context(), ViewRequest{
		ResultID:      c.Param("result_id"),
		PatientID:     req.PatientID,
		Justification: req.Justification,
		BreakGlass:    req.BreakGlass,
		SourceIP:      c.RealIP(),
	})
	if err != nil {
		return disclosureError(c, err)
	}

	return c.JSON(http.StatusOK, r)
}

func (h *Handler) handleList(c echo.Context) error {
	patientID := c.Param("patient_id")
	if patientID == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "patient_id is required"})
	}

	list, err := h.service.ListForPatient(c.Request().Context(), patientID, c.RealIP())
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to list results"})
	}
	if list == nil {
		list = []*result.LabResult{}
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"patient_id": patientID,
		"results":    list,
		"total":      len(list),
	})
}

func (h *Handler) handleGenerateReport(c echo.Context) error {
	var req disclosureRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}

	link, err := h.service.GenerateReport(c.Request().Context(), ViewRequest{
		ResultID:      c.Param("result_id"),
		PatientID:     req.PatientID,
		Justification: req.Justification,
		BreakGlass:    req.BreakGlass,
		SourceIP:      c.RealIP(),
	})
	if err != nil {
		return disclosureError(c, err)
	}

	return c.JSON(http.StatusOK, link)
}

func (h *Handler) handleDownload(c echo.Context) error {
	token := c.QueryParam("token")
	if token == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "token query parameter is required"})
	}

	obj, err := h.service.Download(c.Request().Context(), token)
	if err != nil {
		if errors.Is(err, ErrLinkExpired) || errors.Is(err, ErrLinkInvalid) {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": err.Error()})
		}
		return c.JSON(http.StatusNotFound, map[string]string{"error": "report not found"})
	}

	return c.Blob(http.StatusOK, obj.ContentType, obj.Body)
}

type deleteRequest struct {
	PatientID string `json:"patient_id"`
}

func (h *Handler) handleDeleteRequest(c echo.Context) error {
	var req deleteRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if req.PatientID == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "patient_id is required"})
	}

	err := h.service.RequestErasure(c.Request().Context(), c.Param("result_id"), req.PatientID, c.RealIP())
	if err != nil {
		if errors.Is(err, result.ErrResultNotFound) {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "result not found"})
		}
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to request erasure"})
	}

	return c.JSON(http.StatusAccepted, map[string]string{
		"result_id": c.Param("result_id"),
		"status":    "DELETE_REQUESTED",
	})
}

// disclosureError maps gateway errors onto HTTP status codes.
func disclosureError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, ErrJustificationRequired):
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.Is(err, result.ErrResultNotFound):
		return c.JSON(http.StatusNotFound, map[string]string{"error": "result not found"})
	case errors.Is(err, patient.ErrPatientNotFound):
		return c.JSON(http.StatusNotFound, map[string]string{"error": "patient not found"})
	default:
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "disclosure failed"})
	}
}
