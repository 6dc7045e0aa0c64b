package billing

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dguerrero-dev/facturacion-sri/internal/application/dto"
	"github.com/dguerrero-dev/facturacion-sri/internal/domain"
	"github.com/dguerrero-dev/facturacion-sri/internal/domain/entity"
)

func requestDePrueba() dto.CreateComprobanteRequest {
	return dto.CreateComprobanteRequest{
		TipoDoc:      "01",
		Estab:        "001",
		PtoEmi:       "002",
		FechaEmision: time.Date(2025, 3, 15, 0, 0, 0, 0, time.UTC),
		Comprador: dto.CompradorRequest{
			TipoIdentificacion: "04",
			RazonSocial:        "CLIENTE DE PRUEBA",
			Identificacion:     "1713328506001",
		},
		Detalles: []dto.DetalleRequest{
			{
				CodigoPrincipal: "PROD-01",
				Descripcion:     "Servicio de consultoría",
				Cantidad:        decimal.NewFromInt(2),
				PrecioUnitario:  decimal.RequireFromString("50.00"),
				Descuento:       decimal.RequireFromString("10.00"),
				Impuestos: []dto.ImpuestoRequest{
					{Codigo: "2", CodigoPorcentaje: "4", Tarifa: decimal.NewFromInt(15),
						BaseImponible: decimal.RequireFromString("90.00"), Valor: decimal.RequireFromString("13.50")},
				},
			},
		},
	}
}

func newCreateUC() (*CreateComprobanteUseCase, *memComprobanteRepo) {
	comprobantes := newMemComprobanteRepo()
	companies := &memCompanyRepo{
		company: &entity.Company{ID: "co-1", RUC: "1792146739001", RazonSocial: "COMERCIAL ANDINA S.A."},
		estab:   &entity.Establecimiento{ID: "est-1", Codigo: "001"},
		punto:   &entity.PuntoEmision{ID: "pto-1", Codigo: "002"},
	}
	return NewCreateComprobanteUseCase(comprobantes, companies), comprobantes
}

func TestCreateComprobanteCalculaTotales(t *testing.T) {
	uc, repo := newCreateUC()

	resp, err := uc.Create(context.Background(), "co-1", requestDePrueba())
	require.NoError(t, err)

	assert.Equal(t, entity.EstadoPendiente, resp.Estado)
	assert.Equal(t, "001-002-000000001", resp.Numero)
	assert.True(t, resp.ImporteTotal.Equal(decimal.RequireFromString("103.50")),
		"importe total %s", resp.ImporteTotal)

	stored, err := repo.GetByID(context.Background(), resp.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, "000000001", stored.Secuencial)
	assert.True(t, stored.TotalSinImpuestos.Equal(decimal.RequireFromString("90.00")))
	assert.True(t, stored.TotalDescuento.Equal(decimal.RequireFromString("10.00")))
	assert.Empty(t, stored.ClaveAcceso, "la clave se asigna recién en la emisión")
	require.Len(t, stored.Detalles, 1)
	assert.True(t, stored.Detalles[0].PrecioTotalSinImpuesto.Equal(decimal.RequireFromString("90.00")))
}

func TestCreateComprobanteSecuencialIncrementa(t *testing.T) {
	uc, _ := newCreateUC()

	primero, err := uc.Create(context.Background(), "co-1", requestDePrueba())
	require.NoError(t, err)
	segundo, err := uc.Create(context.Background(), "co-1", requestDePrueba())
	require.NoError(t, err)

	assert.Equal(t, "001-002-000000001", primero.Numero)
	assert.Equal(t, "001-002-000000002", segundo.Numero)
}

func TestCreateComprobanteConPropinaYPagos(t *testing.T) {
	uc, repo := newCreateUC()

	in := requestDePrueba()
	in.Propina = decimal.RequireFromString("1.50")
	in.Pagos = []dto.PagoRequest{{FormaPago: "20", Total: decimal.RequireFromString("105.00"), Plazo: 30}}

	resp, err := uc.Create(context.Background(), "co-1", in)
	require.NoError(t, err)
	assert.True(t, resp.ImporteTotal.Equal(decimal.RequireFromString("105.00")))

	stored, _ := repo.GetByID(context.Background(), resp.ID)
	require.Len(t, stored.Pagos, 1)
	assert.Equal(t, "dias", stored.Pagos[0].UnidadTiempo)
}

func TestCreateComprobanteValidaciones(t *testing.T) {
	uc, _ := newCreateUC()
	ctx := context.Background()

	casos := map[string]func(*dto.CreateComprobanteRequest){
		"tipo de documento desconocido": func(in *dto.CreateComprobanteRequest) { in.TipoDoc = "99" },
		"sin punto de emisión":          func(in *dto.CreateComprobanteRequest) { in.PtoEmi = "" },
		"sin fecha de emisión":          func(in *dto.CreateComprobanteRequest) { in.FechaEmision = time.Time{} },
		"comprador incompleto":          func(in *dto.CreateComprobanteRequest) { in.Comprador.Identificacion = "" },
		"sin detalles":                  func(in *dto.CreateComprobanteRequest) { in.Detalles = nil },
	}
	for nombre, mutar := range casos {
		t.Run(nombre, func(t *testing.T) {
			in := requestDePrueba()
			mutar(&in)
			_, err := uc.Create(ctx, "co-1", in)
			assert.ErrorIs(t, err, domain.ErrInvalidInput)
		})
	}
}

func TestCreateNotaCreditoRequiereSustento(t *testing.T) {
	uc, _ := newCreateUC()

	in := requestDePrueba()
	in.TipoDoc = "04"
	_, err := uc.Create(context.Background(), "co-1", in)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	sustento := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	in.CodDocModificado = "01"
	in.NumDocModificado = "001-002-000000100"
	in.FechaEmisionDocSustento = &sustento
	resp, err := uc.Create(context.Background(), "co-1", in)
	require.NoError(t, err)
	assert.Equal(t, "04", resp.TipoDoc)
}

func TestCreateComprobantePuntoEmisionInexistente(t *testing.T) {
	comprobantes := newMemComprobanteRepo()
	companies := &memCompanyRepo{
		company: &entity.Company{ID: "co-1"},
		estab:   &entity.Establecimiento{ID: "est-1", Codigo: "001"},
	}
	uc := NewCreateComprobanteUseCase(comprobantes, companies)

	_, err := uc.Create(context.Background(), "co-1", requestDePrueba())
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
