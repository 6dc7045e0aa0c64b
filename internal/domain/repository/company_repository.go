package repository

import (
	"context"

	"github.com/dguerrero-dev/facturacion-sri/internal/domain/entity"
)

// CompanyRepository define el puerto de persistencia para el emisor (DIP).
// La implementación vive en infrastructure.
type CompanyRepository interface {
	Create(ctx context.Context, company *entity.Company) error
	GetByID(ctx context.Context, id string) (*entity.Company, error)
	GetByRUC(ctx context.Context, ruc string) (*entity.Company, error)
	// GetEstablecimiento devuelve el establecimiento del emisor por código.
	GetEstablecimiento(ctx context.Context, companyID, codigoEstab string) (*entity.Establecimiento, error)
	GetPuntoEmision(ctx context.Context, establecimientoID, codigoPto string) (*entity.PuntoEmision, error)
	// NextSecuencial incrementa y devuelve el secuencial del punto de emisión.
	NextSecuencial(ctx context.Context, puntoEmisionID string) (int64, error)
}
