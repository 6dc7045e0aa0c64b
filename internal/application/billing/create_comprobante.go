package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/dguerrero-dev/facturacion-sri/internal/application/dto"
	"github.com/dguerrero-dev/facturacion-sri/internal/domain"
	"github.com/dguerrero-dev/facturacion-sri/internal/domain/entity"
	"github.com/dguerrero-dev/facturacion-sri/internal/domain/repository"
	pkgsri "github.com/dguerrero-dev/facturacion-sri/pkg/sri"
)

// CreateComprobanteUseCase crea un comprobante en estado PENDIENTE con el
// secuencial asignado del punto de emisión. No toca la red: la emisión al SRI
// es un paso separado (SRIOrchestrator).
type CreateComprobanteUseCase struct {
	comprobanteRepo repository.ComprobanteRepository
	companyRepo     repository.CompanyRepository
}

// NewCreateComprobanteUseCase construye el caso de uso.
func NewCreateComprobanteUseCase(
	comprobanteRepo repository.ComprobanteRepository,
	companyRepo repository.CompanyRepository,
) *CreateComprobanteUseCase {
	return &CreateComprobanteUseCase{
		comprobanteRepo: comprobanteRepo,
		companyRepo:     companyRepo,
	}
}

// Create valida la petición, asigna el siguiente secuencial del punto de
// emisión, calcula los totales desde las líneas y persiste el comprobante.
func (uc *CreateComprobanteUseCase) Create(ctx context.Context, companyID string, in dto.CreateComprobanteRequest) (*dto.ComprobanteResponse, error) {
	if err := validateRequest(in); err != nil {
		return nil, err
	}

	company, err := uc.companyRepo.GetByID(ctx, companyID)
	if err != nil {
		return nil, err
	}
	if company == nil {
		return nil, domain.ErrNotFound
	}
	estab, err := uc.companyRepo.GetEstablecimiento(ctx, companyID, in.Estab)
	if err != nil {
		return nil, err
	}
	if estab == nil {
		return nil, fmt.Errorf("%w: establecimiento %s", domain.ErrNotFound, in.Estab)
	}
	punto, err := uc.companyRepo.GetPuntoEmision(ctx, estab.ID, in.PtoEmi)
	if err != nil {
		return nil, err
	}
	if punto == nil {
		return nil, fmt.Errorf("%w: punto de emisión %s", domain.ErrNotFound, in.PtoEmi)
	}

	secuencial, err := uc.companyRepo.NextSecuencial(ctx, punto.ID)
	if err != nil {
		return nil, fmt.Errorf("asignar secuencial: %w", err)
	}

	comp := buildComprobante(companyID, secuencial, in)
	if err := uc.comprobanteRepo.Create(ctx, comp); err != nil {
		return nil, err
	}

	return &dto.ComprobanteResponse{
		ID:           comp.ID,
		TipoDoc:      comp.TipoDoc,
		Numero:       comp.NumeroCompleto(),
		FechaEmision: comp.FechaEmision,
		Estado:       comp.Estado,
		ImporteTotal: comp.ImporteTotal,
	}, nil
}

func validateRequest(in dto.CreateComprobanteRequest) error {
	switch {
	case in.TipoDoc != pkgsri.DocTypeFactura && in.TipoDoc != pkgsri.DocTypeNotaCredito:
		return fmt.Errorf("%w: tipo_doc %q", domain.ErrInvalidInput, in.TipoDoc)
	case in.Estab == "" || in.PtoEmi == "":
		return fmt.Errorf("%w: estab y pto_emi requeridos", domain.ErrInvalidInput)
	case in.FechaEmision.IsZero():
		return fmt.Errorf("%w: fecha_emision requerida", domain.ErrInvalidInput)
	case in.Comprador.TipoIdentificacion == "" || in.Comprador.Identificacion == "" || in.Comprador.RazonSocial == "":
		return fmt.Errorf("%w: datos del comprador incompletos", domain.ErrInvalidInput)
	case len(in.Detalles) == 0:
		return fmt.Errorf("%w: al menos un detalle", domain.ErrInvalidInput)
	}
	if in.TipoDoc == pkgsri.DocTypeNotaCredito {
		if in.CodDocModificado == "" || in.NumDocModificado == "" || in.FechaEmisionDocSustento == nil {
			return fmt.Errorf("%w: nota de crédito requiere documento sustento", domain.ErrInvalidInput)
		}
	}
	return nil
}

// buildComprobante mapea la petición a la entidad calculando los totales:
// totalSinImpuestos y descuento desde las líneas, importeTotal sumando los
// impuestos y la propina.
func buildComprobante(companyID string, secuencial int64, in dto.CreateComprobanteRequest) *entity.Comprobante {
	now := time.Now()
	comp := &entity.Comprobante{
		ID:         uuid.New().String(),
		CompanyID:  companyID,
		TipoDoc:    in.TipoDoc,
		Estab:      in.Estab,
		PtoEmi:     in.PtoEmi,
		Secuencial: fmt.Sprintf("%09d", secuencial),
		Estado:     entity.EstadoPendiente,

		FechaEmision: in.FechaEmision,

		TipoIdentComprador:      in.Comprador.TipoIdentificacion,
		RazonSocialComprador:    pkgsri.Clean(in.Comprador.RazonSocial),
		IdentificacionComprador: in.Comprador.Identificacion,
		DireccionComprador:      pkgsri.Clean(in.Comprador.Direccion),

		CodDocModificado:        in.CodDocModificado,
		NumDocModificado:        in.NumDocModificado,
		FechaEmisionDocSustento: in.FechaEmisionDocSustento,
		MotivoModificacion:      pkgsri.Clean(in.MotivoModificacion),

		Propina:   in.Propina,
		CreatedAt: now,
		UpdatedAt: now,
	}

	totalSinImpuestos := decimal.Zero
	totalDescuento := decimal.Zero
	totalImpuestos := decimal.Zero
	for _, d := range in.Detalles {
		detalle := entity.Detalle{
			CodigoPrincipal:        d.CodigoPrincipal,
			CodigoAuxiliar:         d.CodigoAuxiliar,
			Descripcion:            pkgsri.Clean(d.Descripcion),
			Cantidad:               d.Cantidad,
			PrecioUnitario:         d.PrecioUnitario,
			Descuento:              d.Descuento,
			PrecioTotalSinImpuesto: d.Cantidad.Mul(d.PrecioUnitario).Sub(d.Descuento).Round(2),
		}
		for _, imp := range d.Impuestos {
			detalle.Impuestos = append(detalle.Impuestos, entity.ImpuestoDetalle{
				Codigo:           imp.Codigo,
				CodigoPorcentaje: imp.CodigoPorcentaje,
				Tarifa:           imp.Tarifa,
				BaseImponible:    imp.BaseImponible,
				Valor:            imp.Valor,
			})
			totalImpuestos = totalImpuestos.Add(imp.Valor)
		}
		totalSinImpuestos = totalSinImpuestos.Add(detalle.PrecioTotalSinImpuesto)
		totalDescuento = totalDescuento.Add(d.Descuento)
		comp.Detalles = append(comp.Detalles, detalle)
	}
	comp.TotalSinImpuestos = totalSinImpuestos.Round(2)
	comp.TotalDescuento = totalDescuento.Round(2)
	comp.ImporteTotal = totalSinImpuestos.Add(totalImpuestos).Add(in.Propina).Round(2)

	for _, p := range in.Pagos {
		pago := entity.Pago{FormaPago: p.FormaPago, Total: p.Total, Plazo: p.Plazo}
		if p.Plazo > 0 {
			pago.UnidadTiempo = pkgsri.UnidadTiempoDias
		}
		comp.Pagos = append(comp.Pagos, pago)
	}
	return comp
}
