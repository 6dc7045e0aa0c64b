package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dguerrero-dev/facturacion-sri/internal/application/billing"
	"github.com/dguerrero-dev/facturacion-sri/internal/infrastructure/metrics"
	"github.com/dguerrero-dev/facturacion-sri/internal/infrastructure/postgres"
	infrasri "github.com/dguerrero-dev/facturacion-sri/internal/infrastructure/sri"
	"github.com/dguerrero-dev/facturacion-sri/internal/infrastructure/sri/signer"
	httpRouter "github.com/dguerrero-dev/facturacion-sri/internal/interfaces/http"
	"github.com/dguerrero-dev/facturacion-sri/pkg/config"
	"github.com/dguerrero-dev/facturacion-sri/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("cargar configuración: " + err.Error())
	}

	log := logger.New(logger.Config{
		Env:   cfg.App.Env,
		Level: cfg.App.LogLevel,
	})
	log.Info().
		Str("env", cfg.App.Env).
		Str("app", cfg.App.Name).
		Str("ambiente_sri", cfg.SRI.Ambiente).
		Msg("iniciando aplicación")

	metrics.Register()

	ctx := context.Background()
	pool, err := postgres.NewPool(ctx, cfg.DB)
	if err != nil {
		log.Fatal().Err(err).Msg("conexión a PostgreSQL")
	}
	defer pool.Close()

	companyRepo := postgres.NewCompanyRepository(pool)
	comprobanteRepo := postgres.NewComprobanteRepository(pool)
	artifactRepo := postgres.NewArtifactRepository(pool)
	exchangeRepo := postgres.NewExchangeLogRepository(pool)
	locker := postgres.NewAdvisoryLocker(pool)

	// Emisor configurado para esta instancia.
	company, err := companyRepo.GetByRUC(ctx, cfg.SRI.RUC)
	if err != nil {
		log.Fatal().Err(err).Msg("consultar emisor")
	}
	if company == nil {
		log.Fatal().Str("ruc", cfg.SRI.RUC).Msg("emisor no registrado; cargar companies primero")
	}

	xmlBuilder := infrasri.NewXMLBuilderService()
	signerSvc := signer.NewDigitalSignatureService()
	certSource := billing.NewFileCertificateSource(cfg.SRI, log)

	authority, err := infrasri.NewSOAPAuthorityClient(infrasri.SOAPClientConfig{
		Ambiente:           cfg.SRI.Ambiente,
		RecepcionURL:       cfg.SRI.RecepcionURL,
		AutorizacionURL:    cfg.SRI.AutorizacionURL,
		Timeout:            cfg.SRI.CallTimeout,
		InsecureSkipVerify: cfg.SRI.TLSInsecureSkipVerify,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("cliente SOAP SRI")
	}

	// Ciclo completo: clave de acceso → XML → XAdES-BES → recepción → autorización → DB.
	orchestrator := billing.NewSRIOrchestrator(
		comprobanteRepo, companyRepo, artifactRepo, exchangeRepo,
		xmlBuilder, signerSvc, authority, certSource, locker,
		cfg.SRI, log,
	)

	createUC := billing.NewCreateComprobanteUseCase(comprobanteRepo, companyRepo)

	app := fiber.New(fiber.Config{
		AppName:      cfg.App.Name,
		ReadTimeout:  time.Second * 10,
		WriteTimeout: time.Second * 10,
		IdleTimeout:  time.Second * 60,
	})
	app.Use(recover.New())

	httpRouter.Router(app, httpRouter.RouterDeps{
		CreateComprobante: createUC,
		Orchestrator:      orchestrator,
		ComprobanteRepo:   comprobanteRepo,
		ArtifactRepo:      artifactRepo,
		CompanyID:         company.ID,
	})

	go func() {
		if err := app.Listen(cfg.HTTP.Addr()); err != nil {
			log.Error().Err(err).Msg("servidor HTTP finalizado")
		}
	}()

	// Métricas Prometheus en un listener aparte (no pasa por Fiber).
	metricsSrv := &http.Server{Addr: ":9090", Handler: promhttp.Handler()}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("servidor de métricas finalizado")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("señal de apagado recibida, cerrando servidor...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("apagado del servidor")
	}
	_ = metricsSrv.Shutdown(shutdownCtx)

	log.Info().Msg("aplicación detenida")
}
