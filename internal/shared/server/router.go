package server

import (
	"context"
	"database/sql"
	"net/http"

	"github.com/gin-gonic/gin"

	"report-backend/internal/assessments"
	"report-backend/internal/audits"
	"report-backend/internal/compare"
	"report-backend/internal/enrich"
	"report-backend/internal/genai/gemini"
	"report-backend/internal/parse"
	"report-backend/internal/progress"
	"report-backend/internal/shared/config"
	"report-backend/internal/shared/server/middleware"
	"report-backend/internal/shared/server/respond"
	"report-backend/internal/shared/storage/db"
	"report-backend/internal/shared/storage/object"
	localstore "report-backend/internal/shared/storage/object/local"
	s3store "report-backend/internal/shared/storage/object/s3"
	"report-backend/internal/shared/telemetry"
)

// NewRouter constructs the Gin engine with middleware, dependencies and
// routes registered.
func NewRouter(cfg config.Config) (*gin.Engine, error) {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	r.Use(
		middleware.RequestID(),
		middleware.Logging(),
		middleware.Recovery(),
		middleware.CORS(cfg.CORSAllowOrigin),
	)

	// Dependencies
	store, err := newObjectStore(cfg)
	if err != nil {
		return nil, err
	}

	var sqlDB *sql.DB
	if cfg.DatabaseURL != "" {
		conn, err := db.Connect(context.Background(), cfg.DatabaseURL, db.OptionsFromEnv(db.DefaultServerOptions()))
		if err != nil {
			telemetry.Warn("db.connect_failed", map[string]any{"error": err.Error()})
		} else if err := db.RunMigrations(context.Background(), conn); err != nil {
			telemetry.Warn("db.migrate_failed", map[string]any{"error": err.Error()})
			conn.Close()
		} else {
			sqlDB = conn
		}
	}

	var repo assessments.Repo
	if sqlDB != nil {
		repo = &assessments.PGRepo{DB: sqlDB}
	} else {
		telemetry.Warn("assessments.memory_repo", map[string]any{"reason": "no database connection"})
		repo = assessments.NewMemoryRepo()
	}

	gen, err := gemini.NewClient(cfg.GeminiAPIKey, gemini.Options{
		BaseURL:       cfg.GeminiBaseURL,
		UploadRetries: cfg.UploadRetries,
		RetryDelay:    cfg.UploadRetryDelay,
		ReadyTimeout:  cfg.FileReadyTimeout,
	})
	if err != nil {
		return nil, err
	}

	if cfg.ParserAPIKey == "" {
		telemetry.Warn("parse.no_api_key", map[string]any{"env": "LLAMACLOUD_API_KEY"})
	}
	parser := parse.NewLlamaParseClient(cfg.ParserAPIKey, parse.LlamaParseOptions{BaseURL: cfg.ParserBaseURL})

	var researcher enrich.Researcher
	if cfg.FirecrawlAPIKey != "" {
		researcher = enrich.NewFirecrawlClient(cfg.FirecrawlAPIKey, enrich.FirecrawlOptions{BaseURL: cfg.FirecrawlBaseURL})
	}
	describer := enrich.NewService(gen, cfg.EnrichModel, researcher)

	assessSvc := &assessments.Service{
		Repo:         repo,
		Store:        store,
		Gen:          gen,
		Parser:       parser,
		Describer:    describer,
		Broker:       progress.NewBroker(),
		ReportModel:  cfg.ReportModel,
		SectionModel: cfg.SectionModel,
	}
	assessHandler := assessments.NewHandler(assessSvc)
	auditSvc := &audits.Service{Reports: assessSvc, Store: store, Gen: gen, Model: cfg.AuditModel}
	auditHandler := audits.NewHandler(auditSvc)
	compareSvc := &compare.Service{Reports: assessSvc, Store: store, Gen: gen, Model: cfg.ComparisonModel}
	compareHandler := compare.NewHandler(compareSvc)

	api := r.Group("/api/v1")
	api.GET("/health", func(c *gin.Context) {
		respond.JSON(c, http.StatusOK, gin.H{"ok": true})
	})

	// Status polling tolerates a tighter budget than the rest of the API.
	poll := api.Group("")
	poll.Use(middleware.RateLimit(middleware.RateLimitConfig{
		Rules: map[string]middleware.RateLimitRule{
			"POLL": {Rate: 5, Burst: 10},
		},
		DefaultGroup: "POLL",
	}))

	assessHandler.RegisterRoutes(api, poll)
	auditHandler.RegisterRoutes(api)
	compareHandler.RegisterRoutes(api)

	return r, nil
}

func newObjectStore(cfg config.Config) (object.ObjectStore, error) {
	if cfg.ObjectStoreType == "s3" {
		return s3store.New(context.Background(), cfg.AWSRegion, cfg.S3Bucket, cfg.S3Prefix)
	}
	return localstore.New(cfg.LocalStoreDir), nil
}

// Addr normalizes the listen address.
func Addr(port string) string {
	if port == "" {
		return ":8080"
	}
	if port[0] == ':' {
		return port
	}
	return ":" + port
}
