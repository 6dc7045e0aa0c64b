// Validación de dominio previa a la construcción del XML. Agrupa todos los
// errores de campos faltantes en lugar de fallar en el primero.

package sri

import (
	"errors"
	"fmt"

	"github.com/dguerrero-dev/facturacion-sri/internal/domain/entity"
)

// ErrComprobanteInvalido agrupa errores de validación de comprobante.
var ErrComprobanteInvalido = errors.New("comprobante inválido para emisión SRI")

// ValidateComprobante comprueba los campos obligatorios antes de construir el
// XML. No toca la red: un comprobante inválido nunca llega al SRI.
func ValidateComprobante(c *entity.Comprobante) error {
	if c == nil {
		return fmt.Errorf("%w: comprobante nulo", ErrComprobanteInvalido)
	}
	var errs []error

	if c.ClaveAcceso == "" {
		errs = append(errs, errors.New("clave de acceso no asignada"))
	} else if v := ValidateClaveAcceso(c.ClaveAcceso); !v.Valid {
		for _, e := range v.Errors {
			errs = append(errs, e)
		}
	}
	if c.Secuencial == "" {
		errs = append(errs, errors.New("secuencial requerido"))
	}
	if c.FechaEmision.IsZero() {
		errs = append(errs, errors.New("fecha de emisión requerida"))
	}
	if c.TipoIdentComprador == "" {
		errs = append(errs, errors.New("tipo de identificación del comprador requerido"))
	}
	if c.IdentificacionComprador == "" {
		errs = append(errs, errors.New("identificación del comprador requerida"))
	}
	if c.RazonSocialComprador == "" {
		errs = append(errs, errors.New("razón social del comprador requerida"))
	}
	if len(c.Detalles) == 0 {
		errs = append(errs, errors.New("el comprobante debe tener al menos un detalle"))
	}
	if c.EsNotaCredito() {
		if c.CodDocModificado == "" || c.NumDocModificado == "" {
			errs = append(errs, errors.New("nota de crédito requiere documento modificado (codDoc y número)"))
		}
		if c.FechaEmisionDocSustento == nil {
			errs = append(errs, errors.New("nota de crédito requiere fecha de emisión del documento sustento"))
		}
	}

	if len(errs) > 0 {
		return errors.Join(append([]error{ErrComprobanteInvalido}, errs...)...)
	}
	return nil
}
