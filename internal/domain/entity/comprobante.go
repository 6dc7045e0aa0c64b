package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

// Estados del ciclo de emisión electrónica SRI. Ver domain/sri para las reglas
// de transición.
const (
	EstadoPendiente  = "PENDIENTE"  // Creado, sin enviar al SRI
	EstadoEnviado    = "ENVIADO"    // Recibido por recepción, autorización pendiente
	EstadoAutorizado = "AUTORIZADO" // Autorizado por el SRI (terminal)
	EstadoRechazado  = "RECHAZADO"  // No autorizado / rechazado (terminal)
	EstadoDevuelto   = "DEVUELTA"   // Devuelto en recepción (reintentable)
	EstadoEnProceso  = "EN_PROCESO" // Autorización aún en cola del SRI
	EstadoError      = "ERROR"      // Error local o de transporte
)

// Comprobante es la cabecera de un comprobante electrónico (factura o nota de
// crédito) con su estado de emisión SRI.
type Comprobante struct {
	ID         string
	CompanyID  string
	TipoDoc    string // codDoc: 01=factura, 04=nota de crédito
	Estab      string // código de establecimiento (3 dígitos)
	PtoEmi     string // punto de emisión (3 dígitos)
	Secuencial string // secuencial (hasta 9 dígitos, se rellena con ceros)

	FechaEmision     time.Time
	FechaVencimiento *time.Time

	// Comprador
	TipoIdentComprador      string // tipoIdentificacionComprador (04, 05, 06, 07, 08)
	RazonSocialComprador    string
	IdentificacionComprador string
	DireccionComprador      string

	// Solo nota de crédito: referencia al documento modificado
	CodDocModificado        string
	NumDocModificado        string // estab-ptoEmi-secuencial del documento sustento
	FechaEmisionDocSustento *time.Time
	MotivoModificacion      string

	// Totales
	TotalSinImpuestos decimal.Decimal
	TotalDescuento    decimal.Decimal
	Propina           decimal.Decimal
	ImporteTotal      decimal.Decimal
	// Subtotales por tarifa de IVA (buckets); respaldo para totalConImpuestos
	// cuando las líneas no traen impuestos.
	SubtotalesTarifa []SubtotalTarifa

	Detalles          []Detalle
	Pagos             []Pago
	CamposAdicionales []CampoAdicional

	// Resultado de la emisión
	ClaveAcceso        string // 49 dígitos, inmutable una vez asignada
	Estado             string
	NumeroAutorizacion string // asignado por el SRI, distinto de la clave de acceso
	FechaAutorizacion  *time.Time
	MensajeSRI         string // último mensaje devuelto por el SRI

	CreatedAt time.Time
	UpdatedAt time.Time
}

// EsNotaCredito indica si el comprobante es una nota de crédito.
func (c *Comprobante) EsNotaCredito() bool {
	return c.TipoDoc == "04"
}

// NumeroCompleto devuelve estab-ptoEmi-secuencial (ej: 001-002-000000123).
func (c *Comprobante) NumeroCompleto() string {
	return c.Estab + "-" + c.PtoEmi + "-" + c.Secuencial
}

// Detalle es una línea del comprobante.
type Detalle struct {
	ID                     string
	ComprobanteID          string
	CodigoPrincipal        string
	CodigoAuxiliar         string
	Descripcion            string
	Cantidad               decimal.Decimal
	PrecioUnitario         decimal.Decimal
	Descuento              decimal.Decimal
	PrecioTotalSinImpuesto decimal.Decimal
	Impuestos              []ImpuestoDetalle
}

// ImpuestoDetalle es un cargo de impuesto de una línea. La estructura admite
// varias tarifas simultáneas por línea aunque los emisores actuales usan una.
type ImpuestoDetalle struct {
	Codigo           string // 2=IVA, 3=ICE, 5=IRBPNR
	CodigoPorcentaje string // tarifa (0, 2, 4, ...)
	Tarifa           decimal.Decimal
	BaseImponible    decimal.Decimal
	Valor            decimal.Decimal
}

// SubtotalTarifa es un subtotal agregado por (código, códigoPorcentaje).
type SubtotalTarifa struct {
	Codigo           string
	CodigoPorcentaje string
	Tarifa           decimal.Decimal
	BaseImponible    decimal.Decimal
	Valor            decimal.Decimal
}

// Pago es una forma de pago del comprobante.
type Pago struct {
	FormaPago    string // Tabla 24 (01, 19, 20, ...)
	Total        decimal.Decimal
	Plazo        int // días de plazo; 0 = contado
	UnidadTiempo string
}

// CampoAdicional es un par nombre/valor de infoAdicional.
type CampoAdicional struct {
	Nombre string
	Valor  string
}
