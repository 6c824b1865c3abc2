package audit

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
)

// Handler exposes the read-only audit query surface consumed by the external
// compliance dashboard. Nothing here can modify the ledger.
type Handler struct {
	ledger *Ledger
}

// NewHandler creates a new audit query handler.
func NewHandler(ledger *Ledger) *Handler {
	return &Handler{ledger: ledger}
}

// RegisterRoutes mounts the audit query routes on the supplied Echo group.
func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("/admin/audit", h.handleListRecent)
	g.GET("/admin/compliance-report", h.handleComplianceReport)
}

type listResponse struct {
	Events []*Event `json:"events"`
	Total  int      `json:"total"`
}

func (h *Handler) handleListRecent(c echo.Context) error {
	limit := intParam(c, "limit", 100)

	events, err := h.ledger.ListRecent(c.Request().Context(), limit)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	if events == nil {
		events = []*Event{}
	}

	return c.JSON(http.StatusOK, listResponse{Events: events, Total: len(events)})
}

func (h *Handler) handleComplianceReport(c echo.Context) error {
	limit := intParam(c, "limit", 500)

	summary, err := h.ledger.Summarize(c.Request().Context(), limit)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}

	return c.JSON(http.StatusOK, summary)
}

func intParam(c echo.Context, name string, defaultVal int) int {
	v := c.QueryParam(name)
	if v == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return defaultVal
	}
	return n
}
