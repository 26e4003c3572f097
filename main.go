package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/alecthomas/kingpin"
	foundation "github.com/estafette/estafette-foundation"
	"github.com/gorilla/mux"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
	"github.com/uber/jaeger-client-go"
	jaegercfg "github.com/uber/jaeger-client-go/config"

	"github.com/sparesparrow/openssl-ci-orchestrator/api"
	"github.com/sparesparrow/openssl-ci-orchestrator/clients/artifact"
	"github.com/sparesparrow/openssl-ci-orchestrator/clients/ciapi"
	"github.com/sparesparrow/openssl-ci-orchestrator/clients/dedup"
	"github.com/sparesparrow/openssl-ci-orchestrator/clients/gatetool"
	"github.com/sparesparrow/openssl-ci-orchestrator/clients/runner"
	"github.com/sparesparrow/openssl-ci-orchestrator/services/aggregator"
	"github.com/sparesparrow/openssl-ci-orchestrator/services/executor"
	"github.com/sparesparrow/openssl-ci-orchestrator/services/gates"
	"github.com/sparesparrow/openssl-ci-orchestrator/services/orchestrator"
	"github.com/sparesparrow/openssl-ci-orchestrator/services/promotion"
	"github.com/sparesparrow/openssl-ci-orchestrator/services/scheduler"
	"github.com/sparesparrow/openssl-ci-orchestrator/services/trigger"
	"github.com/sparesparrow/openssl-ci-orchestrator/transport"
)

var (
	appgroup  string
	app       string
	version   string
	branch    string
	revision  string
	buildDate string
)

var (
	apiAddress           = kingpin.Flag("api-address", "The address the http api listens on.").Default(":8080").OverrideDefaultFromEnvar("API_ADDRESS").String()
	configFilePath       = kingpin.Flag("config-file-path", "Path to the yaml configuration file.").Default("config.yaml").OverrideDefaultFromEnvar("CONFIG_FILE_PATH").String()
	postgresDSN          = kingpin.Flag("postgres-dsn", "Postgres connection string for dedup keys and promotion records; leave empty for in-memory storage.").Envar("POSTGRES_DSN").String()
	minioEndpoint        = kingpin.Flag("minio-endpoint", "Endpoint of the artifact object store.").Envar("MINIO_ENDPOINT").String()
	minioAccessKey       = kingpin.Flag("minio-access-key", "Access key for the artifact object store.").Envar("MINIO_ACCESS_KEY").String()
	minioSecretKey       = kingpin.Flag("minio-secret-key", "Secret key for the artifact object store.").Envar("MINIO_SECRET_KEY").String()
	minioBucket          = kingpin.Flag("minio-bucket", "Bucket holding staged and production artifacts.").Default("artifacts").OverrideDefaultFromEnvar("MINIO_BUCKET").String()
	minioUseSSL          = kingpin.Flag("minio-use-ssl", "Use tls towards the artifact object store.").Default("true").OverrideDefaultFromEnvar("MINIO_USE_SSL").Bool()
	statusURL            = kingpin.Flag("status-url", "Url of the source repository's commit status api; leave empty to disable callbacks.").Envar("STATUS_URL").String()
	statusToken          = kingpin.Flag("status-token", "Bearer token for the commit status api.").Envar("STATUS_TOKEN").String()
	statusMaxRetries     = kingpin.Flag("status-max-retries", "Max retries for status callbacks.").Default("3").OverrideDefaultFromEnvar("STATUS_MAX_RETRIES").Int()
	logsDir              = kingpin.Flag("logs-dir", "Directory job logs are written to.").Default("/var/lib/ci-orchestrator/logs").OverrideDefaultFromEnvar("LOGS_DIR").String()
	artifactDir          = kingpin.Flag("artifact-dir", "Directory gate tools inspect built artifacts in.").Default("/var/lib/ci-orchestrator/artifacts").OverrideDefaultFromEnvar("ARTIFACT_DIR").String()
	detailURLBase        = kingpin.Flag("detail-url-base", "Base url used in status callback detail links.").Envar("DETAIL_URL_BASE").String()
	shutdownGraceSeconds = kingpin.Flag("shutdown-grace-seconds", "Seconds to wait for in-flight requests on shutdown.").Default("15").OverrideDefaultFromEnvar("SHUTDOWN_GRACE_SECONDS").Int()
)

func main() {

	kingpin.Parse()

	applicationInfo := foundation.NewApplicationInfo(appgroup, app, version, branch, revision, buildDate)
	foundation.InitLoggingFromEnv(applicationInfo)

	gracefulShutdown, waitGroup := foundation.InitGracefulShutdownHandling()

	closer := initJaeger(app)
	defer closer.Close()

	ctx := context.Background()

	config, err := api.ReadConfigFromFile(*configFilePath)
	if err != nil {
		log.Fatal().Err(err).Msgf("Failed reading configuration from %v", *configFilePath)
	}

	var db *sql.DB
	if *postgresDSN != "" {
		db, err = sql.Open("pgx", *postgresDSN)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed opening postgres connection")
		}
		defer db.Close()
	}

	var dedupClient dedup.Client
	if db != nil {
		dedupClient, err = dedup.NewPostgresClient(ctx, db, config.Dedup.TTL.AsDuration())
		if err != nil {
			log.Fatal().Err(err).Msg("Failed creating postgres dedup client")
		}
	} else {
		dedupClient = dedup.NewInMemoryClient(config.Dedup.TTL.AsDuration())
	}

	if *minioEndpoint == "" {
		log.Fatal().Msg("An artifact object store endpoint is required")
	}
	artifactClient, err := artifact.NewClient(ctx, artifact.Config{
		Endpoint:  *minioEndpoint,
		AccessKey: *minioAccessKey,
		SecretKey: *minioSecretKey,
		Bucket:    *minioBucket,
		UseSSL:    *minioUseSSL,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed creating artifact client")
	}

	ciapiClient := ciapi.NewClient(*statusURL, *statusToken, *statusMaxRetries)

	buildCommands := make(map[api.Platform][]string)
	for _, platform := range config.Platforms {
		buildCommands[platform.Name] = platform.BuildCommand
	}
	runnerClient := runner.NewClient(buildCommands, *logsDir)

	var promotionStore promotion.Store
	if db != nil {
		promotionStore, err = promotion.NewPostgresStore(ctx, db)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed creating postgres promotion store")
		}
	} else {
		promotionStore = promotion.NewInMemoryStore()
	}

	triggerService := trigger.NewService(dedupClient, config.Auth.Token)
	schedulerService := scheduler.NewService(config.Scheduler, config.Platforms)
	executorService := executor.NewService(runnerClient, config.Executor, config.Platforms)
	aggregatorService := aggregator.NewService(config.Aggregator)
	gatesService := gates.NewService(gatetool.NewClient(), config.Gates)
	promotionService := promotion.NewService(promotionStore, artifactClient, config.Promotion, func(record api.PromotionRecord) {
		// the expired approval window is a terminal state the source repo must see
		err := ciapiClient.PostStatus(context.Background(), api.StatusUpdate{
			BuildRequestID: record.BuildRequestID,
			CommitSHA:      record.CommitSHA,
			State:          string(record.State),
		})
		if err != nil {
			log.Warn().Err(err).Msgf("Posting auto-rejection of build outcome %v failed", record.BuildOutcomeID)
		}
	})

	// approval windows of records awaiting approval before a restart stay bounded
	if err = promotionService.ResumeApprovalTimeouts(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed resuming approval timeouts")
	}

	orchestratorService := orchestrator.NewService(triggerService, schedulerService, executorService, aggregatorService, gatesService, promotionService, ciapiClient, *artifactDir, *detailURLBase)

	scheduledTriggers := startScheduledTriggers(orchestratorService, config)

	handler := transport.NewHandler(orchestratorService)
	router := mux.NewRouter()
	handler.ConfigureRoutes(router)

	server := &http.Server{
		Addr:    *apiAddress,
		Handler: router,
	}

	go func() {
		log.Info().Msgf("Listening on %v", *apiAddress)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Http server failed")
		}
	}()

	foundation.HandleGracefulShutdown(gracefulShutdown, waitGroup, func() {
		scheduledTriggers.Stop()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(*shutdownGraceSeconds)*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("Shutting down http server failed")
		}

		executorService.Shutdown()
		orchestratorService.Wait()
	})
}

func startScheduledTriggers(orchestratorService orchestrator.Service, config api.Config) *cron.Cron {

	scheduledTriggers := cron.New()

	for _, schedule := range config.Schedules {
		schedule := schedule
		_, err := scheduledTriggers.AddFunc(schedule.Cron, func() {
			log.Info().Msgf("Firing scheduled trigger for %v at %v", schedule.SourceRepo, schedule.Ref)
			// a symbolic per-fire sha so each scheduled run claims its own dedup key
			_, err := orchestratorService.Submit(context.Background(), trigger.RawEvent{
				SourceRepo: schedule.SourceRepo,
				CommitSHA:  fmt.Sprintf("scheduled-%v", time.Now().UTC().Format("2006-01-02T15:04")),
				EventKind:  api.EventKindScheduled,
				Ref:        schedule.Ref,
				AuthToken:  config.Auth.Token,
			})
			if err != nil {
				log.Warn().Err(err).Msgf("Scheduled trigger for %v failed", schedule.SourceRepo)
			}
		})
		if err != nil {
			log.Fatal().Err(err).Msgf("Invalid cron expression %v", schedule.Cron)
		}
	}

	scheduledTriggers.Start()

	return scheduledTriggers
}

// initJaeger returns an instance of Jaeger Tracer that can be configured with environment variables
// https://github.com/jaegertracing/jaeger-client-go#environment-variables
func initJaeger(service string) io.Closer {

	cfg, err := jaegercfg.FromEnv()
	if err != nil {
		log.Fatal().Err(err).Msg("Generating Jaeger config from environment variables failed")
	}

	// disable jaeger if service name is empty
	if cfg.ServiceName == "" {
		cfg.Disabled = true
	}

	closer, err := cfg.InitGlobalTracer(service, jaegercfg.Logger(jaeger.StdLogger))
	if err != nil {
		log.Fatal().Err(err).Msg("Generating Jaeger tracer failed")
	}

	return closer
}
