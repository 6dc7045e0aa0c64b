// Reglas de transición del estado de emisión de un comprobante.

package sri

import (
	"fmt"

	"github.com/dguerrero-dev/facturacion-sri/internal/domain/entity"
)

// EsTerminal indica si el estado no admite más transiciones por reenvío.
// AUTORIZADO es terminal exitoso; RECHAZADO es terminal salvo anulación y
// reemisión bajo una clave de acceso nueva.
func EsTerminal(estado string) bool {
	switch estado {
	case entity.EstadoAutorizado, entity.EstadoRechazado:
		return true
	}
	return false
}

// EsReintentable indica si el comprobante puede reenviarse reutilizando la
// misma clave de acceso: DEVUELTA y los errores locales/de transporte vuelven
// al punto de partida; EN_PROCESO admite reanudar solo la consulta de
// autorización.
func EsReintentable(estado string) bool {
	switch estado {
	case entity.EstadoPendiente, entity.EstadoDevuelto, entity.EstadoError, entity.EstadoEnProceso:
		return true
	}
	return false
}

// CanSubmit valida que un comprobante pueda entrar al pipeline de emisión.
// Devuelve (skip=true) cuando ya está autorizado: el reenvío de un comprobante
// autorizado es un no-op exitoso, nunca un reenvío real.
func CanSubmit(c *entity.Comprobante) (skip bool, err error) {
	switch {
	case c.Estado == entity.EstadoAutorizado:
		return true, nil
	case c.Estado == entity.EstadoEnviado:
		return false, fmt.Errorf("sri: comprobante %s ya tiene un envío en curso", c.ID)
	case EsTerminal(c.Estado):
		return false, fmt.Errorf("sri: comprobante %s en estado terminal %s; anular y reemitir con clave nueva", c.ID, c.Estado)
	}
	return false, nil
}
