package repository

import (
	"context"

	"github.com/dguerrero-dev/facturacion-sri/internal/domain/entity"
)

// ArtifactRepository almacena el XML de cada etapa del comprobante.
// Escritura única por (comprobanteID, stage): una etapa nunca se sobreescribe,
// solo se supersede con una etapa posterior.
type ArtifactRepository interface {
	Save(ctx context.Context, a *entity.Artifact) error
	Get(ctx context.Context, comprobanteID, stage string) (*entity.Artifact, error)
}

// ExchangeLogRepository registra cada intercambio petición/respuesta con el
// SRI como evidencia inmutable para disputas posteriores.
type ExchangeLogRepository interface {
	Append(ctx context.Context, e *entity.ExchangeLog) error
	ListByComprobante(ctx context.Context, comprobanteID string) ([]entity.ExchangeLog, error)
}
