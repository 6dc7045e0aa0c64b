// Package sri implementa la generación del XML de comprobantes electrónicos
// según la Ficha Técnica del SRI (Ecuador), esquema offline.
package sri

import (
	"github.com/dguerrero-dev/facturacion-sri/internal/domain/entity"
)

// Versiones de esquema vigentes por tipo de comprobante.
const (
	VersionFactura     = "1.1.0"
	VersionNotaCredito = "1.1.0"
)

// ComprobanteElementID es el id del elemento raíz al que apunta la Reference
// de la firma XAdES-BES. El firmador lo asume presente.
const ComprobanteElementID = "comprobante"

// BuildContext agrupa los datos necesarios para construir el XML.
type BuildContext struct {
	Comprobante     *entity.Comprobante
	Company         *entity.Company
	Establecimiento *entity.Establecimiento // dirEstablecimiento; nil = se omite
	Ambiente        string                  // 1=pruebas, 2=producción
}

// docPolicy parametriza el generador por tipo de comprobante: etiquetas de
// raíz y bloque de información, versión y campos propios. Consolida las
// variantes por-tipo en un solo generador.
type docPolicy struct {
	rootTag    string
	infoTag    string
	version    string
	creditNote bool
}

var (
	policyFactura = docPolicy{
		rootTag: "factura", infoTag: "infoFactura", version: VersionFactura,
	}
	policyNotaCredito = docPolicy{
		rootTag: "notaCredito", infoTag: "infoNotaCredito", version: VersionNotaCredito,
		creditNote: true,
	}
)
