// Package sri contiene catálogos y utilidades alineados a la Ficha Técnica de
// Comprobantes Electrónicos del SRI (Ecuador), esquema offline.
package sri

// =============================================================================
// Tabla 3 - Tipos de comprobante (codDoc)
// =============================================================================

const (
	DocTypeFactura           = "01" // Factura
	DocTypeNotaCredito       = "04" // Nota de crédito
	DocTypeNotaDebito        = "05" // Nota de débito
	DocTypeGuiaRemision      = "06" // Guía de remisión
	DocTypeComprobanteRetenc = "07" // Comprobante de retención
)

// ValidDocTypeCodes códigos de tipo de comprobante aceptados en la clave de acceso.
var ValidDocTypeCodes = map[string]bool{
	DocTypeFactura: true, DocTypeNotaCredito: true, DocTypeNotaDebito: true,
	DocTypeGuiaRemision: true, DocTypeComprobanteRetenc: true,
}

// =============================================================================
// Tabla 4 - Ambiente (tipoAmbiente)
// =============================================================================

const (
	AmbientePruebas    = "1" // Pruebas (celcer.sri.gob.ec)
	AmbienteProduccion = "2" // Producción (cel.sri.gob.ec)
)

// ValidAmbienteCodes ambientes reconocidos por el SRI.
var ValidAmbienteCodes = map[string]bool{
	AmbientePruebas: true, AmbienteProduccion: true,
}

// TipoEmisionNormal es el único tipo de emisión vigente (emisión normal).
// El SRI retiró la emisión por contingencia ("2") del esquema offline.
const TipoEmisionNormal = "1"

// =============================================================================
// Tabla 6 - Tipos de identificación del comprador (tipoIdentificacionComprador)
// =============================================================================

const (
	IdentRUC             = "04" // RUC (13 dígitos)
	IdentCedula          = "05" // Cédula
	IdentPasaporte       = "06" // Pasaporte
	IdentConsumidorFinal = "07" // Venta a consumidor final
	IdentExterior        = "08" // Identificación del exterior
)

// RUCConsumidorFinal identificación genérica para ventas a consumidor final.
const RUCConsumidorFinal = "9999999999999"

// ValidIdentificationTypeCodes tipos de identificación del comprador aceptados.
var ValidIdentificationTypeCodes = map[string]bool{
	IdentRUC: true, IdentCedula: true, IdentPasaporte: true,
	IdentConsumidorFinal: true, IdentExterior: true,
}

// =============================================================================
// Tabla 16/17 - Impuestos y tarifas (codigo / codigoPorcentaje)
// =============================================================================

const (
	TaxCodeIVA  = "2" // IVA
	TaxCodeICE  = "3" // ICE
	TaxCodeIRBP = "5" // IRBPNR
)

// Códigos de porcentaje de IVA (codigoPorcentaje).
const (
	RateCodeIVA0     = "0" // 0%
	RateCodeIVA12    = "2" // 12%
	RateCodeIVA14    = "3" // 14%
	RateCodeNoObjeto = "6" // No objeto de impuesto
	RateCodeExento   = "7" // Exento de IVA
	RateCodeIVA15    = "4" // 15%
	RateCodeIVA5     = "5" // 5%
)

// =============================================================================
// Tabla 24 - Formas de pago (formaPago)
// =============================================================================

const (
	PaymentSinSistemaFinanciero = "01" // Sin utilización del sistema financiero
	PaymentCompensacionDeudas   = "15" // Compensación de deudas
	PaymentTarjetaDebito        = "16" // Tarjeta de débito
	PaymentDineroElectronico    = "17" // Dinero electrónico
	PaymentTarjetaPrepago       = "18" // Tarjeta prepago
	PaymentTarjetaCredito       = "19" // Tarjeta de crédito
	PaymentOtrosSistFinanciero  = "20" // Otros con utilización del sistema financiero
	PaymentEndosoTitulos        = "21" // Endoso de títulos
)

// UnidadTiempoDias unidad de tiempo por defecto para el plazo de los pagos.
const UnidadTiempoDias = "dias"

// MonedaDolar es la única moneda aceptada por el esquema (constante del XML).
const MonedaDolar = "DOLAR"
