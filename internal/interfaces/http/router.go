package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/dguerrero-dev/facturacion-sri/internal/application/billing"
	"github.com/dguerrero-dev/facturacion-sri/internal/domain/repository"
)

// RouterDeps dependencias para el router.
type RouterDeps struct {
	CreateComprobante *billing.CreateComprobanteUseCase
	Orchestrator      *billing.SRIOrchestrator
	ComprobanteRepo   repository.ComprobanteRepository
	ArtifactRepo      repository.ArtifactRepository
	CompanyID         string
}

// Router registra las rutas de la API.
func Router(app *fiber.App, deps RouterDeps) {
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	api := app.Group("/api/v1")

	handler := NewComprobanteHandler(
		deps.CreateComprobante,
		deps.Orchestrator,
		deps.ComprobanteRepo,
		deps.ArtifactRepo,
		deps.CompanyID,
	)
	comprobantes := api.Group("/comprobantes")
	comprobantes.Post("/", handler.Create)
	comprobantes.Post("/:id/emitir", handler.Emitir)
	comprobantes.Get("/:id", handler.GetByID)
	comprobantes.Get("/:id/artifacts/:stage", handler.GetArtifact)
}
