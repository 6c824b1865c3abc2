package ingestion

import (
	"errors"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/labsecure/labsecure/internal/domain/result"
)

// maxPayloadBytes bounds a single submission body.
const maxPayloadBytes = 1 << 20

// Handler exposes the ingestion gateway over HTTP.
type Handler struct {
	service *Service
}

// NewHandler creates a new ingestion handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes mounts the gateway routes on the supplied Echo group.
func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.POST("/ingest", h.handleIngest)
	g.GET("/status/:result_id", h.handleStatus)
	g.GET("/health", h.handleHealth)
}

type errorResponse struct {
	Error   string   `json:"error"`
	Missing []string `json:"missing_fields,omitempty"`
}

func (h *Handler) handleIngest(c echo.Context) error {
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxPayloadBytes))
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "failed to read request body"})
	}

	receipt, err := h.service.Submit(c.Request().Context(), body, c.RealIP())
	if err != nil {
		var verr *result.ValidationError
		if errors.As(err, &verr) {
			return c.JSON(http.StatusBadRequest, errorResponse{Error: verr.Error(), Missing: verr.Missing})
		}
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: "failed to accept submission"})
	}

	return c.JSON(http.StatusAccepted, receipt)
}

func (h *Handler) handleStatus(c echo.Context) error {
	resultID := c.Param("result_id")
	if resultID == "" {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "result_id is required"})
	}

	view, err := h.service.Status(c.Request().Context(), resultID, c.RealIP())
	if err != nil {
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: "failed to read status"})
	}

	return c.JSON(http.StatusOK, view)
}

func (h *Handler) handleHealth(c echo.Context) error {
	h.service.Health(c.Request().Context(), c.RealIP())
	return c.JSON(http.StatusOK, map[string]string{"status": "ok", "service": "ingestion"})
}
