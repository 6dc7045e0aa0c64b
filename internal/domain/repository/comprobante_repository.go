package repository

import (
	"context"

	"github.com/dguerrero-dev/facturacion-sri/internal/domain/entity"
)

// ComprobanteRepository puerto de persistencia de comprobantes.
type ComprobanteRepository interface {
	Create(ctx context.Context, c *entity.Comprobante) error
	GetByID(ctx context.Context, id string) (*entity.Comprobante, error)
	GetByClaveAcceso(ctx context.Context, clave string) (*entity.Comprobante, error)
	// UpdateEmision persiste clave de acceso, estado, autorización y mensaje.
	// La clave de acceso solo se escribe si el registro aún no tiene una.
	UpdateEmision(ctx context.Context, c *entity.Comprobante) error
	GetDetalles(ctx context.Context, comprobanteID string) ([]entity.Detalle, error)
}
