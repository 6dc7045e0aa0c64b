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

var _ repository.CompanyRepository = (*CompanyRepo)(nil)

// CompanyRepo implementación de CompanyRepository sobre PostgreSQL.
type CompanyRepo struct {
	q Querier
}

// NewCompanyRepository construye el adaptador. Pasar pool o tx (Querier).
func NewCompanyRepository(q Querier) *CompanyRepo {
	return &CompanyRepo{q: q}
}

// Create persiste el emisor.
func (r *CompanyRepo) Create(ctx context.Context, company *entity.Company) error {
	if company.ID == "" {
		company.ID = uuid.New().String()
	}
	const q = `
		INSERT INTO companies
			(id, ruc, razon_social, nombre_comercial, dir_matriz,
			 contribuyente_especial, obligado_contabilidad, rimpe, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,now(),now())`
	_, err := r.q.Exec(ctx, q,
		company.ID, company.RUC, company.RazonSocial, nullIfEmpty(company.NombreComercial),
		company.DirMatriz, nullIfEmpty(company.ContribuyenteEspecial),
		company.ObligadoContabilidad, company.Rimpe,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("RUC %s ya registrado: %w", company.RUC, err)
		}
		return fmt.Errorf("insert company: %w", err)
	}
	return nil
}

// GetByID obtiene el emisor por ID.
func (r *CompanyRepo) GetByID(ctx context.Context, id string) (*entity.Company, error) {
	return r.getByField(ctx, "id", id)
}

// GetByRUC obtiene el emisor por RUC.
func (r *CompanyRepo) GetByRUC(ctx context.Context, ruc string) (*entity.Company, error) {
	return r.getByField(ctx, "ruc", ruc)
}

func (r *CompanyRepo) getByField(ctx context.Context, field, value string) (*entity.Company, error) {
	q := fmt.Sprintf(`
		SELECT id, ruc, razon_social, nombre_comercial, dir_matriz,
		       contribuyente_especial, obligado_contabilidad, rimpe
		FROM companies WHERE %s = $1`, field)
	var c entity.Company
	var nombreComercial, contribEsp *string
	err := r.q.QueryRow(ctx, q, value).Scan(
		&c.ID, &c.RUC, &c.RazonSocial, &nombreComercial, &c.DirMatriz,
		&contribEsp, &c.ObligadoContabilidad, &c.Rimpe,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get company: %w", err)
	}
	c.NombreComercial = deref(nombreComercial)
	c.ContribuyenteEspecial = deref(contribEsp)
	return &c, nil
}

// GetEstablecimiento obtiene el establecimiento por código dentro del emisor.
func (r *CompanyRepo) GetEstablecimiento(ctx context.Context, companyID, codigoEstab string) (*entity.Establecimiento, error) {
	const q = `
		SELECT id, company_id, codigo, direccion
		FROM establecimientos WHERE company_id = $1 AND codigo = $2`
	var e entity.Establecimiento
	err := r.q.QueryRow(ctx, q, companyID, codigoEstab).Scan(
		&e.ID, &e.CompanyID, &e.Codigo, &e.Direccion,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get establecimiento: %w", err)
	}
	return &e, nil
}

// GetPuntoEmision obtiene el punto de emisión por código dentro del establecimiento.
func (r *CompanyRepo) GetPuntoEmision(ctx context.Context, establecimientoID, codigoPto string) (*entity.PuntoEmision, error) {
	const q = `
		SELECT id, establecimiento_id, codigo, secuencial_actual
		FROM puntos_emision WHERE establecimiento_id = $1 AND codigo = $2`
	var p entity.PuntoEmision
	err := r.q.QueryRow(ctx, q, establecimientoID, codigoPto).Scan(
		&p.ID, &p.EstablecimientoID, &p.Codigo, &p.SecuencialActual,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get punto de emisión: %w", err)
	}
	return &p, nil
}

// NextSecuencial incrementa atómicamente y devuelve el secuencial del punto de
// emisión. El UPDATE ... RETURNING evita la carrera entre dos emisores.
func (r *CompanyRepo) NextSecuencial(ctx context.Context, puntoEmisionID string) (int64, error) {
	const q = `
		UPDATE puntos_emision
		SET secuencial_actual = secuencial_actual + 1
		WHERE id = $1
		RETURNING secuencial_actual`
	var secuencial int64
	if err := r.q.QueryRow(ctx, q, puntoEmisionID).Scan(&secuencial); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, fmt.Errorf("punto de emisión %s no encontrado", puntoEmisionID)
		}
		return 0, fmt.Errorf("next secuencial: %w", err)
	}
	return secuencial, nil
}
