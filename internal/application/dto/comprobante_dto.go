package dto

import (
	"time"

	"github.com/shopspring/decimal"
)

// CreateComprobanteRequest body para POST /api/v1/comprobantes.
// El secuencial se asigna del punto de emisión; no lo elige el caller.
type CreateComprobanteRequest struct {
	TipoDoc string `json:"tipo_doc"` // 01=factura, 04=nota de crédito
	Estab   string `json:"estab"`
	PtoEmi  string `json:"pto_emi"`

	FechaEmision time.Time `json:"fecha_emision"`

	Comprador CompradorRequest `json:"comprador"`

	// Solo nota de crédito
	CodDocModificado        string     `json:"cod_doc_modificado,omitempty"`
	NumDocModificado        string     `json:"num_doc_modificado,omitempty"`
	FechaEmisionDocSustento *time.Time `json:"fecha_emision_doc_sustento,omitempty"`
	MotivoModificacion      string     `json:"motivo_modificacion,omitempty"`

	Detalles []DetalleRequest `json:"detalles"`
	Pagos    []PagoRequest    `json:"pagos,omitempty"`

	Propina decimal.Decimal `json:"propina,omitempty"`
}

// CompradorRequest identifica al comprador.
type CompradorRequest struct {
	TipoIdentificacion string `json:"tipo_identificacion"` // Tabla 6 (04, 05, 06, 07)
	RazonSocial        string `json:"razon_social"`
	Identificacion     string `json:"identificacion"`
	Direccion          string `json:"direccion,omitempty"`
}

// DetalleRequest línea del comprobante.
type DetalleRequest struct {
	CodigoPrincipal string            `json:"codigo_principal"`
	CodigoAuxiliar  string            `json:"codigo_auxiliar,omitempty"`
	Descripcion     string            `json:"descripcion"`
	Cantidad        decimal.Decimal   `json:"cantidad"`
	PrecioUnitario  decimal.Decimal   `json:"precio_unitario"`
	Descuento       decimal.Decimal   `json:"descuento,omitempty"`
	Impuestos       []ImpuestoRequest `json:"impuestos"`
}

// ImpuestoRequest cargo de impuesto de una línea.
type ImpuestoRequest struct {
	Codigo           string          `json:"codigo"`            // 2=IVA
	CodigoPorcentaje string          `json:"codigo_porcentaje"` // tarifa
	Tarifa           decimal.Decimal `json:"tarifa"`
	BaseImponible    decimal.Decimal `json:"base_imponible"`
	Valor            decimal.Decimal `json:"valor"`
}

// PagoRequest forma de pago.
type PagoRequest struct {
	FormaPago string          `json:"forma_pago"` // Tabla 24
	Total     decimal.Decimal `json:"total"`
	Plazo     int             `json:"plazo,omitempty"`
}

// ComprobanteResponse comprobante en respuestas.
type ComprobanteResponse struct {
	ID                 string     `json:"id"`
	TipoDoc            string     `json:"tipo_doc"`
	Numero             string     `json:"numero"` // estab-ptoEmi-secuencial
	FechaEmision       time.Time  `json:"fecha_emision"`
	Estado             string     `json:"estado"`
	ClaveAcceso        string     `json:"clave_acceso,omitempty"`
	NumeroAutorizacion string     `json:"numero_autorizacion,omitempty"`
	FechaAutorizacion  *time.Time `json:"fecha_autorizacion,omitempty"`
	MensajeSRI         string     `json:"mensaje_sri,omitempty"`

	ImporteTotal decimal.Decimal `json:"importe_total"`
}
