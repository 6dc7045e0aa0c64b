package billing

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/dguerrero-dev/facturacion-sri/internal/domain/entity"
	"github.com/dguerrero-dev/facturacion-sri/internal/domain/repository"
	domsri "github.com/dguerrero-dev/facturacion-sri/internal/domain/sri"
	"github.com/dguerrero-dev/facturacion-sri/internal/infrastructure/metrics"
	infrasri "github.com/dguerrero-dev/facturacion-sri/internal/infrastructure/sri"
	"github.com/dguerrero-dev/facturacion-sri/internal/infrastructure/sri/signer"
	"github.com/dguerrero-dev/facturacion-sri/pkg/config"
	"github.com/dguerrero-dev/facturacion-sri/pkg/logger"
	pkgsri "github.com/dguerrero-dev/facturacion-sri/pkg/sri"
)

// SRIOrchestrator orquesta el ciclo completo de emisión electrónica SRI:
//
//	Clave de acceso → XML → Firma XAdES-BES → Recepción SOAP → Sondeo de autorización → Update DB
//
// Puede ejecutarse sincrónicamente (Emitir) o en goroutine independiente
// (EmitirAsync) con su propio context.Background() + timeout, desacoplado del
// ciclo HTTP. Nunca propaga un panic ni deja un error sin persistir: siempre
// termina actualizando el estado del comprobante y devolviendo un resultado.
type SRIOrchestrator struct {
	comprobanteRepo repository.ComprobanteRepository
	companyRepo     repository.CompanyRepository
	artifactRepo    repository.ArtifactRepository
	exchangeRepo    repository.ExchangeLogRepository
	xmlBuilder      *infrasri.XMLBuilderService
	signer          pkgsri.Signer
	authority       infrasri.AuthorityClient
	certs           CertificateSource
	locker          DocumentLocker
	sriConfig       config.SRIConfig
	log             *logger.Logger
}

// NewSRIOrchestrator construye el orquestador con todas sus dependencias.
func NewSRIOrchestrator(
	comprobanteRepo repository.ComprobanteRepository,
	companyRepo repository.CompanyRepository,
	artifactRepo repository.ArtifactRepository,
	exchangeRepo repository.ExchangeLogRepository,
	xmlBuilder *infrasri.XMLBuilderService,
	signer pkgsri.Signer,
	authority infrasri.AuthorityClient,
	certs CertificateSource,
	locker DocumentLocker,
	sriConfig config.SRIConfig,
	log *logger.Logger,
) *SRIOrchestrator {
	return &SRIOrchestrator{
		comprobanteRepo: comprobanteRepo,
		companyRepo:     companyRepo,
		artifactRepo:    artifactRepo,
		exchangeRepo:    exchangeRepo,
		xmlBuilder:      xmlBuilder,
		signer:          signer,
		authority:       authority,
		certs:           certs,
		locker:          locker,
		sriConfig:       sriConfig,
		log:             log.Component("sri-orchestrator"),
	}
}

// EmisionResult es el resultado de una emisión; el orquestador siempre
// devuelve uno, nunca deja escapar un error sin etiquetar.
type EmisionResult struct {
	ComprobanteID      string     `json:"comprobante_id"`
	Estado             string     `json:"estado"`
	ClaveAcceso        string     `json:"clave_acceso,omitempty"`
	NumeroAutorizacion string     `json:"numero_autorizacion,omitempty"`
	FechaAutorizacion  *time.Time `json:"fecha_autorizacion,omitempty"`
	Mensaje            string     `json:"mensaje,omitempty"`
}

// EmitirAsync dispara la emisión en una goroutine independiente con su propio
// timeout, desacoplada del ciclo HTTP del caller.
func (o *SRIOrchestrator) EmitirAsync(comprobanteID string) {
	go func() {
		budget := o.pollBudget() + 60*time.Second
		ctx, cancel := context.WithTimeout(context.Background(), budget)
		defer cancel()
		o.Emitir(ctx, comprobanteID)
	}()
}

// Emitir ejecuta el ciclo completo de emisión para un comprobante ya
// persistido. Serializa emisiones concurrentes del mismo comprobante con un
// advisory lock y re-verifica el estado dentro del lock.
func (o *SRIOrchestrator) Emitir(ctx context.Context, comprobanteID string) *EmisionResult {
	started := time.Now()
	result := &EmisionResult{ComprobanteID: comprobanteID, Estado: entity.EstadoError}

	err := o.locker.WithLock(ctx, comprobanteID, func(ctx context.Context) error {
		result = o.emitir(ctx, comprobanteID)
		return nil
	})
	if err != nil {
		result.Mensaje = "no se pudo adquirir el lock de emisión: " + err.Error()
		o.log.Error().Str("comprobante_id", comprobanteID).Err(err).Msg("lock de emisión")
	}

	metrics.EmisionesTotal.WithLabelValues(result.Estado).Inc()
	metrics.EmisionDuration.Observe(time.Since(started).Seconds())
	return result
}

// emitir es el núcleo secuencial; se ejecuta siempre dentro del lock.
func (o *SRIOrchestrator) emitir(ctx context.Context, comprobanteID string) *EmisionResult {
	// markError persiste ERROR con el mensaje y hace log del paso fallido.
	markError := func(c *entity.Comprobante, step, msg string) *EmisionResult {
		o.log.Error().
			Str("comprobante_id", comprobanteID).
			Str("clave_acceso", c.ClaveAcceso).
			Str("step", step).
			Msg(msg)
		c.Estado = entity.EstadoError
		c.MensajeSRI = msg
		c.UpdatedAt = time.Now()
		if err := o.comprobanteRepo.UpdateEmision(ctx, c); err != nil {
			o.log.Error().Str("comprobante_id", comprobanteID).Err(err).
				Msg("no se pudo persistir estado ERROR")
		}
		return &EmisionResult{
			ComprobanteID: comprobanteID,
			Estado:        entity.EstadoError,
			ClaveAcceso:   c.ClaveAcceso,
			Mensaje:       msg,
		}
	}

	// 0. Re-fetch datos frescos dentro del lock (otra emisión pudo terminar).
	comp, err := o.comprobanteRepo.GetByID(ctx, comprobanteID)
	if err != nil || comp == nil {
		o.log.Error().Str("comprobante_id", comprobanteID).Err(err).Msg("comprobante no encontrado")
		return &EmisionResult{
			ComprobanteID: comprobanteID,
			Estado:        entity.EstadoError,
			Mensaje:       fmt.Sprintf("comprobante %s no encontrado", comprobanteID),
		}
	}

	if skip, serr := domsri.CanSubmit(comp); serr != nil {
		// Envío en curso o estado terminal: se informa sin tocar el estado
		// persistido.
		o.log.Warn().Str("comprobante_id", comprobanteID).
			Str("estado", comp.Estado).Msg(serr.Error())
		return &EmisionResult{
			ComprobanteID: comprobanteID,
			Estado:        comp.Estado,
			ClaveAcceso:   comp.ClaveAcceso,
			Mensaje:       serr.Error(),
		}
	} else if skip {
		// Ya autorizado: no-op exitoso, jamás se reenvía.
		o.log.Info().Str("comprobante_id", comprobanteID).
			Str("clave_acceso", comp.ClaveAcceso).Msg("ya autorizado, emisión omitida")
		return &EmisionResult{
			ComprobanteID:      comprobanteID,
			Estado:             entity.EstadoAutorizado,
			ClaveAcceso:        comp.ClaveAcceso,
			NumeroAutorizacion: comp.NumeroAutorizacion,
			FechaAutorizacion:  comp.FechaAutorizacion,
		}
	}

	// Reanudación: un comprobante EN_PROCESO ya fue recibido por el SRI bajo su
	// clave; reenviar la recepción sería devuelto como clave registrada. Se
	// reanuda únicamente el sondeo de autorización.
	if comp.Estado == entity.EstadoEnProceso && comp.ClaveAcceso != "" {
		o.log.Info().Str("comprobante_id", comprobanteID).
			Str("clave_acceso", comp.ClaveAcceso).Msg("reanudando sondeo de autorización")
		authResult, soapErr := infrasri.AwaitAuthorization(ctx, o.auditedClient(comprobanteID),
			comp.ClaveAcceso, o.sriConfig.PollAttempts, o.sriConfig.PollDelay)
		if soapErr != nil {
			return markError(comp, "soap", soapErr.Error())
		}
		return o.applyOutcome(ctx, comp, authResult)
	}

	company, err := o.companyRepo.GetByID(ctx, comp.CompanyID)
	if err != nil || company == nil {
		return markError(comp, "fetch-company", fmt.Sprintf("emisor %s no encontrado: %v", comp.CompanyID, err))
	}
	estab, err := o.companyRepo.GetEstablecimiento(ctx, comp.CompanyID, comp.Estab)
	if err != nil {
		return markError(comp, "fetch-establecimiento", fmt.Sprintf("establecimiento %s: %v", comp.Estab, err))
	}
	if len(comp.Detalles) == 0 {
		detalles, derr := o.comprobanteRepo.GetDetalles(ctx, comprobanteID)
		if derr != nil {
			return markError(comp, "fetch-detalles", derr.Error())
		}
		comp.Detalles = detalles
	}

	// 1. Clave de acceso: se genera una sola vez y se persiste ANTES de
	// cualquier llamada de red; una vez asignada nunca cambia.
	if comp.ClaveAcceso == "" {
		clave, cerr := domsri.GenerateClaveAcceso(domsri.ClaveParams{
			FechaEmision: comp.FechaEmision,
			CodDoc:       comp.TipoDoc,
			RUC:          company.RUC,
			Ambiente:     o.sriConfig.Ambiente,
			Estab:        comp.Estab,
			PtoEmi:       comp.PtoEmi,
			Secuencial:   comp.Secuencial,
		})
		if cerr != nil {
			return markError(comp, "clave-acceso", cerr.Error())
		}
		comp.ClaveAcceso = clave
		comp.UpdatedAt = time.Now()
		if uerr := o.comprobanteRepo.UpdateEmision(ctx, comp); uerr != nil {
			return markError(comp, "clave-acceso", "no se pudo persistir la clave de acceso: "+uerr.Error())
		}
	}

	// 2. Construir XML según tipo de comprobante.
	buildCtx := &infrasri.BuildContext{
		Comprobante:     comp,
		Company:         company,
		Establecimiento: estab,
		Ambiente:        o.sriConfig.Ambiente,
	}
	var xmlBytes []byte
	var buildErr error
	if comp.EsNotaCredito() {
		xmlBytes, buildErr = o.xmlBuilder.BuildNotaCredito(buildCtx)
	} else {
		xmlBytes, buildErr = o.xmlBuilder.BuildFactura(buildCtx)
	}
	if buildErr != nil {
		return markError(comp, "xml-build", buildErr.Error())
	}
	o.saveArtifact(ctx, comprobanteID, entity.StageGenerado, xmlBytes)

	// 3. Cargar y verificar el certificado. El error se etiqueta distinto al
	// de transporte: "arregla el certificado" no es "la red falló".
	cert, certErr := o.certs.Load(ctx)
	if certErr != nil {
		return markError(comp, "cert-load", "certificado de firma: "+certErr.Error())
	}

	// 4. Firma XAdES-BES.
	signedXML, signErr := o.signer.Sign(xmlBytes, cert)
	if signErr != nil {
		return markError(comp, "xml-sign", signErr.Error())
	}
	metrics.FirmasTotal.Inc()
	o.saveArtifact(ctx, comprobanteID, entity.StageFirmado, signedXML)

	// 5. Marcar en vuelo y enviar: recepción + sondeo de autorización. La
	// cancelación corta sondeos futuros pero nunca retracta la recepción.
	comp.Estado = entity.EstadoEnviado
	comp.UpdatedAt = time.Now()
	if uerr := o.comprobanteRepo.UpdateEmision(ctx, comp); uerr != nil {
		return markError(comp, "persist-enviado", uerr.Error())
	}

	authResult, soapErr := infrasri.SubmitAndAwait(ctx, o.auditedClient(comprobanteID), signedXML,
		comp.ClaveAcceso, o.sriConfig.PollAttempts, o.sriConfig.PollDelay)
	if soapErr != nil {
		return markError(comp, "soap", soapErr.Error())
	}

	// 6. Persistir el desenlace.
	return o.applyOutcome(ctx, comp, authResult)
}

// applyOutcome traduce el resultado del SRI al estado persistido.
func (o *SRIOrchestrator) applyOutcome(ctx context.Context, comp *entity.Comprobante, r *infrasri.AuthorizationResult) *EmisionResult {
	switch {
	case r.Success:
		comp.Estado = entity.EstadoAutorizado
		comp.NumeroAutorizacion = r.NumeroAutorizacion
		comp.FechaAutorizacion = r.FechaAutorizacion
		if len(r.ComprobanteXML) > 0 {
			o.saveArtifact(ctx, comp.ID, entity.StageAutorizado, r.ComprobanteXML)
		}
	case r.EnProceso:
		comp.Estado = entity.EstadoEnProceso
	case r.Estado == infrasri.EstadoDevuelta:
		comp.Estado = entity.EstadoDevuelto
	default:
		// NO AUTORIZADO / RECHAZADO
		comp.Estado = entity.EstadoRechazado
	}
	comp.MensajeSRI = r.Mensaje
	comp.UpdatedAt = time.Now()
	if err := o.comprobanteRepo.UpdateEmision(ctx, comp); err != nil {
		o.log.Error().Str("comprobante_id", comp.ID).Err(err).
			Str("estado", comp.Estado).Msg("no se pudo persistir estado final")
	}

	evt := o.log.Info()
	if comp.Estado == entity.EstadoRechazado || comp.Estado == entity.EstadoDevuelto {
		evt = o.log.Warn()
	}
	evt.Str("comprobante_id", comp.ID).
		Str("clave_acceso", comp.ClaveAcceso).
		Str("estado", comp.Estado).
		Str("numero_autorizacion", comp.NumeroAutorizacion).
		Msg("emisión finalizada")

	return &EmisionResult{
		ComprobanteID:      comp.ID,
		Estado:             comp.Estado,
		ClaveAcceso:        comp.ClaveAcceso,
		NumeroAutorizacion: comp.NumeroAutorizacion,
		FechaAutorizacion:  comp.FechaAutorizacion,
		Mensaje:            comp.MensajeSRI,
	}
}

// saveArtifact guarda el XML de una etapa; el fallo se registra pero no
// aborta la emisión (el artefacto es evidencia, no insumo).
func (o *SRIOrchestrator) saveArtifact(ctx context.Context, comprobanteID, stage string, xml []byte) {
	err := o.artifactRepo.Save(ctx, &entity.Artifact{
		ComprobanteID: comprobanteID,
		Stage:         stage,
		XML:           xml,
		CreatedAt:     time.Now(),
	})
	if err != nil {
		o.log.Warn().Str("comprobante_id", comprobanteID).Str("stage", stage).
			Err(err).Msg("no se pudo guardar artefacto")
	}
}

func (o *SRIOrchestrator) pollBudget() time.Duration {
	attempts := o.sriConfig.PollAttempts
	if attempts < 1 {
		attempts = 1
	}
	return time.Duration(attempts) * (o.sriConfig.PollDelay + o.sriConfig.CallTimeout)
}

// auditedClient envuelve el cliente SRI con el registro de intercambios del
// comprobante.
func (o *SRIOrchestrator) auditedClient(comprobanteID string) *auditedAuthorityClient {
	return &auditedAuthorityClient{
		inner:         o.authority,
		exchangeRepo:  o.exchangeRepo,
		comprobanteID: comprobanteID,
		log:           o.log,
	}
}

// ── auditoría de intercambios ─────────────────────────────────────────────────

// auditedAuthorityClient decora AuthorityClient registrando cada intercambio
// como evidencia inmutable, independiente del resultado final.
type auditedAuthorityClient struct {
	inner         infrasri.AuthorityClient
	exchangeRepo  repository.ExchangeLogRepository
	comprobanteID string
	log           *logger.Logger
}

func (a *auditedAuthorityClient) ValidarComprobante(ctx context.Context, signedXML []byte) (*infrasri.ReceptionResult, error) {
	result, err := a.inner.ValidarComprobante(ctx, signedXML)
	a.appendLog(ctx, "recepcion", "", signedXML, result, err)
	return result, err
}

func (a *auditedAuthorityClient) AutorizacionComprobante(ctx context.Context, clave string) (*infrasri.AuthorizationResult, error) {
	metrics.SondeosAutorizacionTotal.Inc()
	result, err := a.inner.AutorizacionComprobante(ctx, clave)
	a.appendLog(ctx, "autorizacion", clave, []byte(clave), result, err)
	return result, err
}

func (a *auditedAuthorityClient) appendLog(ctx context.Context, operacion, clave string, request []byte, result interface{}, callErr error) {
	var response []byte
	if callErr != nil {
		response = []byte("error: " + callErr.Error())
	} else if result != nil {
		response, _ = json.Marshal(result)
	}
	err := a.exchangeRepo.Append(ctx, &entity.ExchangeLog{
		ComprobanteID: a.comprobanteID,
		ClaveAcceso:   clave,
		Operacion:     operacion,
		Request:       request,
		Response:      response,
		CreatedAt:     time.Now(),
	})
	if err != nil {
		a.log.Warn().Str("comprobante_id", a.comprobanteID).Str("operacion", operacion).
			Err(err).Msg("no se pudo registrar intercambio")
	}
}

// ── carga de certificado ──────────────────────────────────────────────────────

// FileCertificateSource carga el certificado desde disco según la extensión
// configurada (.p12/.pfx con contraseña, o .pem con llave separada).
type FileCertificateSource struct {
	cfg config.SRIConfig
	log *logger.Logger
}

// NewFileCertificateSource crea la fuente de certificados de archivo.
func NewFileCertificateSource(cfg config.SRIConfig, log *logger.Logger) *FileCertificateSource {
	return &FileCertificateSource{cfg: cfg, log: log.Component("cert-source")}
}

// Load implementa CertificateSource. Advierte (sin fallar) cuando el
// certificado expira dentro de los próximos 30 días.
func (f *FileCertificateSource) Load(_ context.Context) (cert tls.Certificate, err error) {
	if f.cfg.CertPath == "" {
		return tls.Certificate{}, fmt.Errorf("SRI_CERT_PATH no configurado")
	}
	lower := strings.ToLower(f.cfg.CertPath)
	if strings.HasSuffix(lower, ".p12") || strings.HasSuffix(lower, ".pfx") {
		cert, err = signer.LoadFromP12(f.cfg.CertPath, f.cfg.CertPassword)
	} else {
		cert, err = signer.LoadFromPEM(f.cfg.CertPath, f.cfg.CertKeyPath)
	}
	if err != nil {
		return tls.Certificate{}, err
	}
	if cert.Leaf != nil && signer.ExpiresWithin(cert.Leaf, signer.NearExpiryDays*24*time.Hour) {
		f.log.Warn().Time("not_after", cert.Leaf.NotAfter).
			Msg("el certificado de firma expira pronto")
	}
	return cert, nil
}
