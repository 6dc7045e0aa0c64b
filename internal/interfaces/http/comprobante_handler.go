package http

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/dguerrero-dev/facturacion-sri/internal/application/billing"
	"github.com/dguerrero-dev/facturacion-sri/internal/application/dto"
	"github.com/dguerrero-dev/facturacion-sri/internal/domain"
	"github.com/dguerrero-dev/facturacion-sri/internal/domain/entity"
	"github.com/dguerrero-dev/facturacion-sri/internal/domain/repository"
)

// ComprobanteHandler maneja las peticiones HTTP de comprobantes electrónicos.
type ComprobanteHandler struct {
	createUC        *billing.CreateComprobanteUseCase
	orchestrator    *billing.SRIOrchestrator
	comprobanteRepo repository.ComprobanteRepository
	artifactRepo    repository.ArtifactRepository
	companyID       string // emisor único configurado para esta instancia
}

// NewComprobanteHandler construye el handler.
func NewComprobanteHandler(
	createUC *billing.CreateComprobanteUseCase,
	orchestrator *billing.SRIOrchestrator,
	comprobanteRepo repository.ComprobanteRepository,
	artifactRepo repository.ArtifactRepository,
	companyID string,
) *ComprobanteHandler {
	return &ComprobanteHandler{
		createUC:        createUC,
		orchestrator:    orchestrator,
		comprobanteRepo: comprobanteRepo,
		artifactRepo:    artifactRepo,
		companyID:       companyID,
	}
}

// Create crea un comprobante en estado PENDIENTE.
// POST /api/v1/comprobantes
func (h *ComprobanteHandler) Create(c *fiber.Ctx) error {
	var in dto.CreateComprobanteRequest
	if err := c.BodyParser(&in); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "INVALID_BODY", Message: "cuerpo inválido"})
	}
	resp, err := h.createUC.Create(c.Context(), h.companyID, in)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidInput) {
			return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "VALIDATION", Message: err.Error()})
		}
		if errors.Is(err, domain.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(dto.ErrorResponse{Code: "NOT_FOUND", Message: err.Error()})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Code: "INTERNAL", Message: err.Error()})
	}
	return c.Status(fiber.StatusCreated).JSON(resp)
}

// Emitir dispara la emisión al SRI. Con ?async=true responde 202 y procesa en
// background; sin él bloquea hasta el desenlace (incl. presupuesto de sondeo).
// POST /api/v1/comprobantes/:id/emitir
func (h *ComprobanteHandler) Emitir(c *fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "VALIDATION", Message: "id requerido"})
	}

	if c.QueryBool("async") {
		h.orchestrator.EmitirAsync(id)
		return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"comprobante_id": id, "estado": "procesando"})
	}

	result := h.orchestrator.Emitir(c.Context(), id)
	status := fiber.StatusOK
	if result.Estado == entity.EstadoError {
		status = fiber.StatusUnprocessableEntity
	}
	return c.Status(status).JSON(result)
}

// GetByID devuelve el estado de emisión del comprobante.
// GET /api/v1/comprobantes/:id
func (h *ComprobanteHandler) GetByID(c *fiber.Ctx) error {
	id := c.Params("id")
	comp, err := h.comprobanteRepo.GetByID(c.Context(), id)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Code: "INTERNAL", Message: err.Error()})
	}
	if comp == nil {
		return c.Status(fiber.StatusNotFound).JSON(dto.ErrorResponse{Code: "NOT_FOUND", Message: "comprobante no encontrado"})
	}
	return c.JSON(dto.ComprobanteResponse{
		ID:                 comp.ID,
		TipoDoc:            comp.TipoDoc,
		Numero:             comp.NumeroCompleto(),
		FechaEmision:       comp.FechaEmision,
		Estado:             comp.Estado,
		ClaveAcceso:        comp.ClaveAcceso,
		NumeroAutorizacion: comp.NumeroAutorizacion,
		FechaAutorizacion:  comp.FechaAutorizacion,
		MensajeSRI:         comp.MensajeSRI,
		ImporteTotal:       comp.ImporteTotal,
	})
}

// GetArtifact devuelve el XML de una etapa (GENERADO, FIRMADO, AUTORIZADO)
// para auditoría.
// GET /api/v1/comprobantes/:id/artifacts/:stage
func (h *ComprobanteHandler) GetArtifact(c *fiber.Ctx) error {
	id := c.Params("id")
	stage := c.Params("stage")
	switch stage {
	case entity.StageGenerado, entity.StageFirmado, entity.StageAutorizado:
	default:
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "VALIDATION", Message: "stage inválido"})
	}
	artifact, err := h.artifactRepo.Get(c.Context(), id, stage)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Code: "INTERNAL", Message: err.Error()})
	}
	if artifact == nil {
		return c.Status(fiber.StatusNotFound).JSON(dto.ErrorResponse{Code: "NOT_FOUND", Message: "artefacto no encontrado"})
	}
	c.Set(fiber.HeaderContentType, "application/xml; charset=utf-8")
	return c.Send(artifact.XML)
}
