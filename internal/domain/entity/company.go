package entity

import "time"

// Company representa al emisor (contribuyente) de comprobantes electrónicos.
type Company struct {
	ID              string
	RUC             string // RUC ecuatoriano (13 dígitos)
	RazonSocial     string
	NombreComercial string
	DirMatriz       string
	// Flags fiscales que condicionan infoTributaria / infoFactura
	ContribuyenteEspecial string // número de resolución; vacío = no aplica
	ObligadoContabilidad  bool
	Rimpe                 bool   // régimen RIMPE - emprendedor
	Status                string // active, suspended, inactive
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// Establecimiento es una sucursal autorizada del emisor.
type Establecimiento struct {
	ID        string
	CompanyID string
	Codigo    string // 3 dígitos (001, 002, ...)
	Direccion string
}

// PuntoEmision es un punto de emisión dentro de un establecimiento.
type PuntoEmision struct {
	ID                string
	EstablecimientoID string
	Codigo            string // 3 dígitos
	SecuencialActual  int64  // último secuencial asignado
}
