package entity

import "time"

// Etapas del comprobante persistidas como artefactos inmutables.
const (
	StageGenerado   = "GENERADO"   // XML construido, sin firmar
	StageFirmado    = "FIRMADO"    // XML con firma XAdES-BES
	StageAutorizado = "AUTORIZADO" // XML devuelto por el SRI con sello de autorización
)

// Artifact es el XML de un comprobante en una etapa del pipeline. Se escribe
// una sola vez por (ComprobanteID, Stage); nunca se sobreescribe.
type Artifact struct {
	ID            string
	ComprobanteID string
	Stage         string
	XML           []byte
	CreatedAt     time.Time
}

// ExchangeLog es el registro de auditoría de un intercambio con el SRI
// (petición/respuesta), independiente del resultado final.
type ExchangeLog struct {
	ID            string
	ComprobanteID string
	ClaveAcceso   string
	Operacion     string // "recepcion" | "autorizacion"
	Request       []byte
	Response      []byte
	CreatedAt     time.Time
}
