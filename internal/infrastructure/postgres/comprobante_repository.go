package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/dguerrero-dev/facturacion-sri/internal/domain/entity"
	"github.com/dguerrero-dev/facturacion-sri/internal/domain/repository"
)

var _ repository.ComprobanteRepository = (*ComprobanteRepo)(nil)

// ComprobanteRepo implementación de ComprobanteRepository (usable con pool o tx).
type ComprobanteRepo struct {
	q Querier
}

// NewComprobanteRepository construye el adaptador. Pasar pool o tx (Querier).
func NewComprobanteRepository(q Querier) *ComprobanteRepo {
	return &ComprobanteRepo{q: q}
}

// Create persiste la cabecera del comprobante y sus detalles.
func (r *ComprobanteRepo) Create(ctx context.Context, c *entity.Comprobante) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	const q = `
		INSERT INTO comprobantes
			(id, company_id, tipo_doc, estab, pto_emi, secuencial, fecha_emision,
			 tipo_ident_comprador, razon_social_comprador, identificacion_comprador, direccion_comprador,
			 cod_doc_modificado, num_doc_modificado, fecha_emision_doc_sustento, motivo_modificacion,
			 total_sin_impuestos, total_descuento, propina, importe_total,
			 clave_acceso, estado, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23)`
	_, err := r.q.Exec(ctx, q,
		c.ID, c.CompanyID, c.TipoDoc, c.Estab, c.PtoEmi, c.Secuencial, c.FechaEmision,
		c.TipoIdentComprador, c.RazonSocialComprador, c.IdentificacionComprador, nullIfEmpty(c.DireccionComprador),
		nullIfEmpty(c.CodDocModificado), nullIfEmpty(c.NumDocModificado), c.FechaEmisionDocSustento, nullIfEmpty(c.MotivoModificacion),
		c.TotalSinImpuestos, c.TotalDescuento, c.Propina, c.ImporteTotal,
		nullIfEmpty(c.ClaveAcceso), c.Estado, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("comprobante %s-%s-%s ya existe: %w", c.Estab, c.PtoEmi, c.Secuencial, err)
		}
		return fmt.Errorf("insert comprobante: %w", err)
	}
	for i := range c.Detalles {
		if derr := r.createDetalle(ctx, c.ID, &c.Detalles[i]); derr != nil {
			return derr
		}
	}
	return nil
}

func (r *ComprobanteRepo) createDetalle(ctx context.Context, comprobanteID string, d *entity.Detalle) error {
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	d.ComprobanteID = comprobanteID
	const q = `
		INSERT INTO comprobante_detalles
			(id, comprobante_id, codigo_principal, codigo_auxiliar, descripcion,
			 cantidad, precio_unitario, descuento, precio_total_sin_impuesto)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`
	_, err := r.q.Exec(ctx, q,
		d.ID, d.ComprobanteID, d.CodigoPrincipal, nullIfEmpty(d.CodigoAuxiliar), d.Descripcion,
		d.Cantidad, d.PrecioUnitario, d.Descuento, d.PrecioTotalSinImpuesto,
	)
	if err != nil {
		return fmt.Errorf("insert detalle: %w", err)
	}
	for _, imp := range d.Impuestos {
		const qi = `
			INSERT INTO detalle_impuestos
				(detalle_id, codigo, codigo_porcentaje, tarifa, base_imponible, valor)
			VALUES ($1,$2,$3,$4,$5,$6)`
		if _, ierr := r.q.Exec(ctx, qi,
			d.ID, imp.Codigo, imp.CodigoPorcentaje, imp.Tarifa, imp.BaseImponible, imp.Valor,
		); ierr != nil {
			return fmt.Errorf("insert impuesto de detalle: %w", ierr)
		}
	}
	return nil
}

// UpdateEmision persiste el resultado de emisión. La clave de acceso solo se
// escribe si el registro aún no tiene una: una vez asignada es inmutable.
func (r *ComprobanteRepo) UpdateEmision(ctx context.Context, c *entity.Comprobante) error {
	const q = `
		UPDATE comprobantes
		SET clave_acceso        = COALESCE(clave_acceso, $2),
		    estado              = $3,
		    numero_autorizacion = COALESCE($4, numero_autorizacion),
		    fecha_autorizacion  = COALESCE($5, fecha_autorizacion),
		    mensaje_sri         = $6,
		    updated_at          = $7
		WHERE id = $1`
	_, err := r.q.Exec(ctx, q,
		c.ID,
		nullIfEmpty(c.ClaveAcceso),
		c.Estado,
		nullIfEmpty(c.NumeroAutorizacion),
		c.FechaAutorizacion,
		nullIfEmpty(c.MensajeSRI),
		c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update emisión: %w", err)
	}
	return nil
}

// GetByID obtiene la cabecera del comprobante por ID.
func (r *ComprobanteRepo) GetByID(ctx context.Context, id string) (*entity.Comprobante, error) {
	return r.getByField(ctx, "id", id)
}

// GetByClaveAcceso obtiene la cabecera por clave de acceso.
func (r *ComprobanteRepo) GetByClaveAcceso(ctx context.Context, clave string) (*entity.Comprobante, error) {
	return r.getByField(ctx, "clave_acceso", clave)
}

func (r *ComprobanteRepo) getByField(ctx context.Context, field, value string) (*entity.Comprobante, error) {
	q := fmt.Sprintf(`
		SELECT id, company_id, tipo_doc, estab, pto_emi, secuencial, fecha_emision,
		       tipo_ident_comprador, razon_social_comprador, identificacion_comprador, direccion_comprador,
		       cod_doc_modificado, num_doc_modificado, fecha_emision_doc_sustento, motivo_modificacion,
		       total_sin_impuestos, total_descuento, propina, importe_total,
		       clave_acceso, estado, numero_autorizacion, fecha_autorizacion, mensaje_sri,
		       created_at, updated_at
		FROM comprobantes WHERE %s = $1`, field)

	var c entity.Comprobante
	var direccion, codDocMod, numDocMod, motivo, clave, numAut, mensaje *string
	err := r.q.QueryRow(ctx, q, value).Scan(
		&c.ID, &c.CompanyID, &c.TipoDoc, &c.Estab, &c.PtoEmi, &c.Secuencial, &c.FechaEmision,
		&c.TipoIdentComprador, &c.RazonSocialComprador, &c.IdentificacionComprador, &direccion,
		&codDocMod, &numDocMod, &c.FechaEmisionDocSustento, &motivo,
		&c.TotalSinImpuestos, &c.TotalDescuento, &c.Propina, &c.ImporteTotal,
		&clave, &c.Estado, &numAut, &c.FechaAutorizacion, &mensaje,
		&c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get comprobante: %w", err)
	}
	c.DireccionComprador = deref(direccion)
	c.CodDocModificado = deref(codDocMod)
	c.NumDocModificado = deref(numDocMod)
	c.MotivoModificacion = deref(motivo)
	c.ClaveAcceso = deref(clave)
	c.NumeroAutorizacion = deref(numAut)
	c.MensajeSRI = deref(mensaje)
	return &c, nil
}

// GetDetalles obtiene las líneas del comprobante con sus impuestos.
func (r *ComprobanteRepo) GetDetalles(ctx context.Context, comprobanteID string) ([]entity.Detalle, error) {
	const q = `
		SELECT id, comprobante_id, codigo_principal, codigo_auxiliar, descripcion,
		       cantidad, precio_unitario, descuento, precio_total_sin_impuesto
		FROM comprobante_detalles WHERE comprobante_id = $1 ORDER BY id`
	rows, err := r.q.Query(ctx, q, comprobanteID)
	if err != nil {
		return nil, fmt.Errorf("get detalles: %w", err)
	}
	defer rows.Close()

	var detalles []entity.Detalle
	for rows.Next() {
		var d entity.Detalle
		var codigoAux *string
		if err := rows.Scan(
			&d.ID, &d.ComprobanteID, &d.CodigoPrincipal, &codigoAux, &d.Descripcion,
			&d.Cantidad, &d.PrecioUnitario, &d.Descuento, &d.PrecioTotalSinImpuesto,
		); err != nil {
			return nil, fmt.Errorf("scan detalle: %w", err)
		}
		d.CodigoAuxiliar = deref(codigoAux)
		detalles = append(detalles, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range detalles {
		impuestos, ierr := r.getImpuestos(ctx, detalles[i].ID)
		if ierr != nil {
			return nil, ierr
		}
		detalles[i].Impuestos = impuestos
	}
	return detalles, nil
}

func (r *ComprobanteRepo) getImpuestos(ctx context.Context, detalleID string) ([]entity.ImpuestoDetalle, error) {
	const q = `
		SELECT codigo, codigo_porcentaje, tarifa, base_imponible, valor
		FROM detalle_impuestos WHERE detalle_id = $1`
	rows, err := r.q.Query(ctx, q, detalleID)
	if err != nil {
		return nil, fmt.Errorf("get impuestos: %w", err)
	}
	defer rows.Close()

	var impuestos []entity.ImpuestoDetalle
	for rows.Next() {
		var imp entity.ImpuestoDetalle
		if err := rows.Scan(&imp.Codigo, &imp.CodigoPorcentaje, &imp.Tarifa, &imp.BaseImponible, &imp.Valor); err != nil {
			return nil, fmt.Errorf("scan impuesto: %w", err)
		}
		impuestos = append(impuestos, imp)
	}
	return impuestos, rows.Err()
}

func deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
