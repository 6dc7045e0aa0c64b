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

var _ repository.ArtifactRepository = (*ArtifactRepo)(nil)
var _ repository.ExchangeLogRepository = (*ExchangeLogRepo)(nil)

// ArtifactRepo implementación de ArtifactRepository sobre PostgreSQL.
type ArtifactRepo struct {
	q Querier
}

// NewArtifactRepository construye el adaptador. Pasar pool o tx (Querier).
func NewArtifactRepository(q Querier) *ArtifactRepo {
	return &ArtifactRepo{q: q}
}

// Save guarda el XML de una etapa. Escritura única por (comprobante, etapa):
// una segunda escritura de la misma etapa se ignora (ON CONFLICT DO NOTHING),
// el artefacto original es evidencia y no se reemplaza.
func (r *ArtifactRepo) Save(ctx context.Context, a *entity.Artifact) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	const q = `
		INSERT INTO comprobante_artifacts (id, comprobante_id, stage, xml, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (comprobante_id, stage) DO NOTHING`
	_, err := r.q.Exec(ctx, q, a.ID, a.ComprobanteID, a.Stage, a.XML, a.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert artifact: %w", err)
	}
	return nil
}

// Get obtiene el artefacto de una etapa; nil si no existe.
func (r *ArtifactRepo) Get(ctx context.Context, comprobanteID, stage string) (*entity.Artifact, error) {
	const q = `
		SELECT id, comprobante_id, stage, xml, created_at
		FROM comprobante_artifacts
		WHERE comprobante_id = $1 AND stage = $2`
	var a entity.Artifact
	err := r.q.QueryRow(ctx, q, comprobanteID, stage).Scan(
		&a.ID, &a.ComprobanteID, &a.Stage, &a.XML, &a.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get artifact: %w", err)
	}
	return &a, nil
}

// ExchangeLogRepo implementación de ExchangeLogRepository sobre PostgreSQL.
// Solo inserta y lista: los registros de intercambio jamás se modifican.
type ExchangeLogRepo struct {
	q Querier
}

// NewExchangeLogRepository construye el adaptador.
func NewExchangeLogRepository(q Querier) *ExchangeLogRepo {
	return &ExchangeLogRepo{q: q}
}

// Append registra un intercambio petición/respuesta con el SRI.
func (r *ExchangeLogRepo) Append(ctx context.Context, e *entity.ExchangeLog) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	const q = `
		INSERT INTO sri_exchange_log (id, comprobante_id, clave_acceso, operacion, request, response, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := r.q.Exec(ctx, q,
		e.ID, e.ComprobanteID, nullIfEmpty(e.ClaveAcceso), e.Operacion, e.Request, e.Response, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert exchange log: %w", err)
	}
	return nil
}

// ListByComprobante devuelve los intercambios en orden cronológico.
func (r *ExchangeLogRepo) ListByComprobante(ctx context.Context, comprobanteID string) ([]entity.ExchangeLog, error) {
	const q = `
		SELECT id, comprobante_id, clave_acceso, operacion, request, response, created_at
		FROM sri_exchange_log
		WHERE comprobante_id = $1
		ORDER BY created_at, id`
	rows, err := r.q.Query(ctx, q, comprobanteID)
	if err != nil {
		return nil, fmt.Errorf("list exchange log: %w", err)
	}
	defer rows.Close()

	var entries []entity.ExchangeLog
	for rows.Next() {
		var e entity.ExchangeLog
		var clave *string
		if err := rows.Scan(&e.ID, &e.ComprobanteID, &clave, &e.Operacion, &e.Request, &e.Response, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan exchange log: %w", err)
		}
		e.ClaveAcceso = deref(clave)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
