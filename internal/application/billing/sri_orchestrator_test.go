package billing

import (
	"context"
	"crypto/tls"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dguerrero-dev/facturacion-sri/internal/domain/entity"
	infrasri "github.com/dguerrero-dev/facturacion-sri/internal/infrastructure/sri"
	"github.com/dguerrero-dev/facturacion-sri/pkg/config"
	"github.com/dguerrero-dev/facturacion-sri/pkg/logger"
)

// ── stubs de persistencia ─────────────────────────────────────────────────────

type memComprobanteRepo struct {
	mu   sync.Mutex
	docs map[string]*entity.Comprobante
}

func newMemComprobanteRepo(docs ...*entity.Comprobante) *memComprobanteRepo {
	r := &memComprobanteRepo{docs: map[string]*entity.Comprobante{}}
	for _, d := range docs {
		copia := *d
		r.docs[d.ID] = &copia
	}
	return r
}

func (r *memComprobanteRepo) Create(_ context.Context, c *entity.Comprobante) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copia := *c
	r.docs[c.ID] = &copia
	return nil
}

func (r *memComprobanteRepo) GetByID(_ context.Context, id string) (*entity.Comprobante, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.docs[id]
	if !ok {
		return nil, nil
	}
	copia := *c
	return &copia, nil
}

func (r *memComprobanteRepo) GetByClaveAcceso(_ context.Context, clave string) (*entity.Comprobante, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.docs {
		if c.ClaveAcceso == clave {
			copia := *c
			return &copia, nil
		}
	}
	return nil, nil
}

func (r *memComprobanteRepo) UpdateEmision(_ context.Context, c *entity.Comprobante) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.docs[c.ID]
	if ok && stored.ClaveAcceso != "" && stored.ClaveAcceso != c.ClaveAcceso {
		// La clave de acceso es inmutable una vez asignada.
		c.ClaveAcceso = stored.ClaveAcceso
	}
	copia := *c
	r.docs[c.ID] = &copia
	return nil
}

func (r *memComprobanteRepo) GetDetalles(_ context.Context, id string) ([]entity.Detalle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.docs[id]; ok {
		return c.Detalles, nil
	}
	return nil, nil
}

type memCompanyRepo struct {
	company    *entity.Company
	estab      *entity.Establecimiento
	punto      *entity.PuntoEmision
	secuencial int64
}

func (r *memCompanyRepo) Create(context.Context, *entity.Company) error { return nil }
func (r *memCompanyRepo) GetByID(context.Context, string) (*entity.Company, error) {
	return r.company, nil
}
func (r *memCompanyRepo) GetByRUC(context.Context, string) (*entity.Company, error) {
	return r.company, nil
}
func (r *memCompanyRepo) GetEstablecimiento(context.Context, string, string) (*entity.Establecimiento, error) {
	return r.estab, nil
}
func (r *memCompanyRepo) GetPuntoEmision(context.Context, string, string) (*entity.PuntoEmision, error) {
	return r.punto, nil
}
func (r *memCompanyRepo) NextSecuencial(context.Context, string) (int64, error) {
	r.secuencial++
	return r.secuencial, nil
}

type memArtifactRepo struct {
	mu    sync.Mutex
	saved map[string][]byte // stage -> xml
}

func newMemArtifactRepo() *memArtifactRepo {
	return &memArtifactRepo{saved: map[string][]byte{}}
}

func (r *memArtifactRepo) Save(_ context.Context, a *entity.Artifact) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saved[a.Stage] = a.XML
	return nil
}

func (r *memArtifactRepo) Get(_ context.Context, _, stage string) (*entity.Artifact, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	xml, ok := r.saved[stage]
	if !ok {
		return nil, nil
	}
	return &entity.Artifact{Stage: stage, XML: xml}, nil
}

type memExchangeRepo struct {
	mu      sync.Mutex
	entries []entity.ExchangeLog
}

func (r *memExchangeRepo) Append(_ context.Context, e *entity.ExchangeLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, *e)
	return nil
}

func (r *memExchangeRepo) ListByComprobante(context.Context, string) ([]entity.ExchangeLog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]entity.ExchangeLog(nil), r.entries...), nil
}

// ── stubs de firma, certificado, lock y SRI ───────────────────────────────────

// fakeSigner marca el XML como firmado sin criptografía real; el firmador de
// verdad se prueba en su propio paquete.
type fakeSigner struct{ fail bool }

func (f *fakeSigner) Sign(xmlBytes []byte, _ tls.Certificate) ([]byte, error) {
	if f.fail {
		return nil, assert.AnError
	}
	return append([]byte("<!--firmado-->"), xmlBytes...), nil
}

type stubCertSource struct{ err error }

func (s *stubCertSource) Load(context.Context) (tls.Certificate, error) {
	return tls.Certificate{}, s.err
}

type serialLocker struct{ mu sync.Mutex }

func (l *serialLocker) WithLock(ctx context.Context, _ string, fn func(context.Context) error) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return fn(ctx)
}

type scriptedAuthority struct {
	mu             sync.Mutex
	recepcion      *infrasri.ReceptionResult
	autorizaciones []*infrasri.AuthorizationResult
	recepciones    int
	polls          int
}

func (s *scriptedAuthority) ValidarComprobante(context.Context, []byte) (*infrasri.ReceptionResult, error) {
	s.mu.Lock()
	s.recepciones++
	s.mu.Unlock()
	return s.recepcion, nil
}

func (s *scriptedAuthority) AutorizacionComprobante(_ context.Context, clave string) (*infrasri.AuthorizationResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.polls
	s.polls++
	if idx >= len(s.autorizaciones) {
		idx = len(s.autorizaciones) - 1
	}
	r := *s.autorizaciones[idx]
	r.ClaveAcceso = clave
	return &r, nil
}

// ── fixtures ──────────────────────────────────────────────────────────────────

func facturaDePrueba() *entity.Comprobante {
	iva := entity.ImpuestoDetalle{
		Codigo:           "2",
		CodigoPorcentaje: "4",
		Tarifa:           decimal.NewFromInt(15),
		BaseImponible:    decimal.NewFromInt(100),
		Valor:            decimal.NewFromInt(15),
	}
	return &entity.Comprobante{
		ID:         "comp-1",
		CompanyID:  "emp-1",
		TipoDoc:    "01",
		Estab:      "001",
		PtoEmi:     "002",
		Secuencial: "123",
		Estado:     entity.EstadoPendiente,

		FechaEmision: time.Date(2025, 10, 23, 0, 0, 0, 0, time.UTC),

		TipoIdentComprador:      "04",
		RazonSocialComprador:    "COMERCIAL ANDINA S.A.",
		IdentificacionComprador: "1790012345001",
		DireccionComprador:      "Av. Amazonas N34-121",

		TotalSinImpuestos: decimal.NewFromInt(100),
		TotalDescuento:    decimal.Zero,
		Propina:           decimal.Zero,
		ImporteTotal:      decimal.NewFromInt(115),

		Detalles: []entity.Detalle{{
			CodigoPrincipal:        "P-001",
			Descripcion:            "Servicio de mantenimiento",
			Cantidad:               decimal.NewFromInt(1),
			PrecioUnitario:         decimal.NewFromInt(100),
			Descuento:              decimal.Zero,
			PrecioTotalSinImpuesto: decimal.NewFromInt(100),
			Impuestos:              []entity.ImpuestoDetalle{iva},
		}},
		Pagos: []entity.Pago{{FormaPago: "01", Total: decimal.NewFromInt(115)}},
	}
}

func emisorDePrueba() *memCompanyRepo {
	return &memCompanyRepo{
		company: &entity.Company{
			ID:          "emp-1",
			RUC:         "1792146739001",
			RazonSocial: "TECNOLOGIA QUITO CIA. LTDA.",
			DirMatriz:   "Av. República del Salvador N36-84",
		},
		estab: &entity.Establecimiento{
			ID:        "est-1",
			Codigo:    "001",
			Direccion: "Av. República del Salvador N36-84",
		},
	}
}

func newTestOrchestrator(t *testing.T, repo *memComprobanteRepo, authority infrasri.AuthorityClient, attempts int) (*SRIOrchestrator, *memArtifactRepo, *memExchangeRepo) {
	t.Helper()
	artifacts := newMemArtifactRepo()
	exchanges := &memExchangeRepo{}
	log := logger.New(logger.Config{Env: "development", Level: "error"})

	orch := NewSRIOrchestrator(
		repo,
		emisorDePrueba(),
		artifacts,
		exchanges,
		infrasri.NewXMLBuilderService(),
		&fakeSigner{},
		authority,
		&stubCertSource{},
		&serialLocker{},
		config.SRIConfig{
			Ambiente:     "1",
			PollAttempts: attempts,
			PollDelay:    time.Millisecond,
		},
		log,
	)
	return orch, artifacts, exchanges
}

// ── tests ─────────────────────────────────────────────────────────────────────

func TestEmitirAutorizadoTrasTresSondeos(t *testing.T) {
	repo := newMemComprobanteRepo(facturaDePrueba())
	fecha := time.Date(2025, 10, 23, 14, 5, 11, 0, time.UTC)
	authority := &scriptedAuthority{
		recepcion: &infrasri.ReceptionResult{Success: true, Estado: infrasri.EstadoRecibida},
		autorizaciones: []*infrasri.AuthorizationResult{
			{EnProceso: true, Estado: infrasri.EstadoEnProceso},
			{EnProceso: true, Estado: infrasri.EstadoEnProceso},
			{
				Success:            true,
				Estado:             infrasri.EstadoAutorizado,
				NumeroAutorizacion: "2310202501179214673900110010020000001231",
				FechaAutorizacion:  &fecha,
				ComprobanteXML:     []byte(`<factura id="comprobante"/>`),
			},
		},
	}
	orch, artifacts, exchanges := newTestOrchestrator(t, repo, authority, 10)

	result := orch.Emitir(context.Background(), "comp-1")

	assert.Equal(t, entity.EstadoAutorizado, result.Estado)
	assert.Len(t, result.ClaveAcceso, 49)
	assert.Equal(t, "2310202501179214673900110010020000001231", result.NumeroAutorizacion)
	assert.Equal(t, 3, authority.polls)

	// Estado persistido y clave asignada.
	stored, err := repo.GetByID(context.Background(), "comp-1")
	require.NoError(t, err)
	assert.Equal(t, entity.EstadoAutorizado, stored.Estado)
	assert.Equal(t, result.ClaveAcceso, stored.ClaveAcceso)
	require.NotNil(t, stored.FechaAutorizacion)

	// Tres artefactos: generado, firmado y el devuelto por el SRI.
	for _, stage := range []string{entity.StageGenerado, entity.StageFirmado, entity.StageAutorizado} {
		a, aerr := artifacts.Get(context.Background(), "comp-1", stage)
		require.NoError(t, aerr)
		require.NotNil(t, a, "falta artefacto %s", stage)
	}

	// Cada intercambio queda auditado: 1 recepción + 3 autorizaciones.
	logs, err := exchanges.ListByComprobante(context.Background(), "comp-1")
	require.NoError(t, err)
	assert.Len(t, logs, 4)
	assert.Equal(t, "recepcion", logs[0].Operacion)
}

func TestEmitirPresupuestoAgotadoQuedaEnProceso(t *testing.T) {
	repo := newMemComprobanteRepo(facturaDePrueba())
	authority := &scriptedAuthority{
		recepcion:      &infrasri.ReceptionResult{Success: true, Estado: infrasri.EstadoRecibida},
		autorizaciones: []*infrasri.AuthorizationResult{{EnProceso: true, Estado: infrasri.EstadoEnProceso}},
	}
	orch, _, _ := newTestOrchestrator(t, repo, authority, 5)

	result := orch.Emitir(context.Background(), "comp-1")

	assert.Equal(t, entity.EstadoEnProceso, result.Estado)
	assert.Equal(t, 5, authority.polls, "nunca más de maxAttempts sondeos")
	assert.Len(t, result.ClaveAcceso, 49, "la clave se conserva para reintentos")

	stored, _ := repo.GetByID(context.Background(), "comp-1")
	assert.Equal(t, entity.EstadoEnProceso, stored.Estado)
}

func TestEmitirEnProcesoReanudaSoloElSondeo(t *testing.T) {
	comp := facturaDePrueba()
	comp.Estado = entity.EstadoEnProceso
	comp.ClaveAcceso = "2310202501179214673900110010020000001231234567819"
	repo := newMemComprobanteRepo(comp)
	fecha := time.Date(2025, 10, 24, 9, 0, 0, 0, time.UTC)
	authority := &scriptedAuthority{
		// Si la recepción se reenviara, el SRI la devolvería como clave ya
		// registrada; el orquestador no debe llegar ahí.
		recepcion: &infrasri.ReceptionResult{
			Success: false,
			Estado:  infrasri.EstadoDevuelta,
			Mensaje: "43: CLAVE ACCESO REGISTRADA",
		},
		autorizaciones: []*infrasri.AuthorizationResult{{
			Success:            true,
			Estado:             infrasri.EstadoAutorizado,
			NumeroAutorizacion: "AUT-2",
			FechaAutorizacion:  &fecha,
		}},
	}
	orch, _, exchanges := newTestOrchestrator(t, repo, authority, 5)

	result := orch.Emitir(context.Background(), "comp-1")

	assert.Equal(t, entity.EstadoAutorizado, result.Estado)
	assert.Equal(t, "AUT-2", result.NumeroAutorizacion)
	assert.Equal(t, 0, authority.recepciones, "la recepción no se reenvía al reanudar")
	assert.Equal(t, 1, authority.polls)

	stored, _ := repo.GetByID(context.Background(), "comp-1")
	assert.Equal(t, entity.EstadoAutorizado, stored.Estado)
	assert.Equal(t, comp.ClaveAcceso, stored.ClaveAcceso)

	// Solo queda auditada la consulta de autorización.
	logs, _ := exchanges.ListByComprobante(context.Background(), "comp-1")
	require.Len(t, logs, 1)
	assert.Equal(t, "autorizacion", logs[0].Operacion)
}

func TestEmitirDevueltaEnRecepcion(t *testing.T) {
	repo := newMemComprobanteRepo(facturaDePrueba())
	authority := &scriptedAuthority{
		recepcion: &infrasri.ReceptionResult{
			Success: false,
			Estado:  infrasri.EstadoDevuelta,
			Mensaje: "45: ERROR SECUENCIAL REGISTRADO",
		},
	}
	orch, _, _ := newTestOrchestrator(t, repo, authority, 10)

	result := orch.Emitir(context.Background(), "comp-1")

	assert.Equal(t, entity.EstadoDevuelto, result.Estado)
	assert.Contains(t, result.Mensaje, "SECUENCIAL")
	assert.Equal(t, 0, authority.polls)

	stored, _ := repo.GetByID(context.Background(), "comp-1")
	assert.Equal(t, entity.EstadoDevuelto, stored.Estado)
	assert.Contains(t, stored.MensajeSRI, "SECUENCIAL")
}

func TestEmitirYaAutorizadoEsNoOp(t *testing.T) {
	comp := facturaDePrueba()
	comp.Estado = entity.EstadoAutorizado
	comp.ClaveAcceso = "2310202501179214673900110010020000001231234567819"
	comp.NumeroAutorizacion = "AUT-1"
	repo := newMemComprobanteRepo(comp)
	authority := &scriptedAuthority{}
	orch, _, exchanges := newTestOrchestrator(t, repo, authority, 10)

	result := orch.Emitir(context.Background(), "comp-1")

	assert.Equal(t, entity.EstadoAutorizado, result.Estado)
	assert.Equal(t, "AUT-1", result.NumeroAutorizacion)
	assert.Equal(t, 0, authority.polls, "un comprobante autorizado jamás se reenvía")

	logs, _ := exchanges.ListByComprobante(context.Background(), "comp-1")
	assert.Empty(t, logs)
}

func TestEmitirRechazadoEsTerminal(t *testing.T) {
	comp := facturaDePrueba()
	comp.Estado = entity.EstadoRechazado
	comp.ClaveAcceso = "2310202501179214673900110010020000001231234567819"
	repo := newMemComprobanteRepo(comp)
	orch, _, _ := newTestOrchestrator(t, repo, &scriptedAuthority{}, 10)

	result := orch.Emitir(context.Background(), "comp-1")

	assert.Equal(t, entity.EstadoRechazado, result.Estado, "el estado persistido no se toca")
	assert.Contains(t, result.Mensaje, "clave nueva")

	stored, _ := repo.GetByID(context.Background(), "comp-1")
	assert.Equal(t, entity.EstadoRechazado, stored.Estado)
}

func TestEmitirClaveSePersisteAntesDeEnviar(t *testing.T) {
	repo := newMemComprobanteRepo(facturaDePrueba())

	var claveAlEnviar string
	authority := &claveCaptorAuthority{repo: repo, captura: &claveAlEnviar}
	orch, _, _ := newTestOrchestrator(t, repo, authority, 1)

	result := orch.Emitir(context.Background(), "comp-1")

	assert.Len(t, claveAlEnviar, 49,
		"la clave debe estar persistida antes de la primera llamada de red")
	assert.Equal(t, result.ClaveAcceso, claveAlEnviar)
}

// claveCaptorAuthority lee la clave persistida en el momento de la recepción.
type claveCaptorAuthority struct {
	repo    *memComprobanteRepo
	captura *string
}

func (a *claveCaptorAuthority) ValidarComprobante(ctx context.Context, _ []byte) (*infrasri.ReceptionResult, error) {
	stored, _ := a.repo.GetByID(ctx, "comp-1")
	if stored != nil {
		*a.captura = stored.ClaveAcceso
	}
	return &infrasri.ReceptionResult{Success: true, Estado: infrasri.EstadoRecibida}, nil
}

func (a *claveCaptorAuthority) AutorizacionComprobante(_ context.Context, clave string) (*infrasri.AuthorizationResult, error) {
	return &infrasri.AuthorizationResult{
		Success:     true,
		Estado:      infrasri.EstadoAutorizado,
		ClaveAcceso: clave,
	}, nil
}

func TestEmitirErrorDeCertificadoSeEtiqueta(t *testing.T) {
	repo := newMemComprobanteRepo(facturaDePrueba())
	artifacts := newMemArtifactRepo()
	log := logger.New(logger.Config{Env: "development", Level: "error"})

	orch := NewSRIOrchestrator(
		repo, emisorDePrueba(), artifacts, &memExchangeRepo{},
		infrasri.NewXMLBuilderService(), &fakeSigner{},
		&scriptedAuthority{}, &stubCertSource{err: assert.AnError}, &serialLocker{},
		config.SRIConfig{Ambiente: "1", PollAttempts: 1, PollDelay: time.Millisecond},
		log,
	)

	result := orch.Emitir(context.Background(), "comp-1")

	assert.Equal(t, entity.EstadoError, result.Estado)
	assert.Contains(t, result.Mensaje, "certificado",
		"el error de certificado se distingue del de transporte")
}

func TestEmitirComprobanteInexistente(t *testing.T) {
	repo := newMemComprobanteRepo()
	orch, _, _ := newTestOrchestrator(t, repo, &scriptedAuthority{}, 1)

	result := orch.Emitir(context.Background(), "no-existe")

	assert.Equal(t, entity.EstadoError, result.Estado)
	assert.Contains(t, result.Mensaje, "no encontrado")
}
