package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/hierenlab/hieren-api/database"
	"github.com/hierenlab/hieren-api/services/rag"
)

// HealthHandler reports the liveness of the API and its dependencies
type HealthHandler struct {
	store     database.Storage
	ragClient *rag.Client
}

// NewHealthHandler creates a health handler. The RAG client may be nil when
// the knowledge service is not configured.
func NewHealthHandler(store database.Storage, ragClient *rag.Client) *HealthHandler {
	return &HealthHandler{store: store, ragClient: ragClient}
}

// Ping reports component health. It always answers 200 so load balancers see
// a live process; degraded dependencies show up in the payload.
func (h *HealthHandler) Ping(c *fiber.Ctx) error {
	dbStatus := "ok"
	if err := h.store.HealthCheck(); err != nil {
		dbStatus = "unavailable"
	}

	ragStatus := "not_configured"
	if h.ragClient != nil {
		ragStatus = "ok"
		if err := h.ragClient.HealthCheck(c.Context()); err != nil {
			ragStatus = "unavailable"
		}
	}

	status := "ok"
	if dbStatus != "ok" {
		status = "degraded"
	}

	return c.JSON(fiber.Map{
		"status": status,
		"components": fiber.Map{
			"database":  dbStatus,
			"knowledge": ragStatus,
		},
	})
}
