package server

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	appconfig "github.com/lexpilot/seatwise/config"
	"github.com/lexpilot/seatwise/internal/chat"
	"github.com/lexpilot/seatwise/internal/llm"
	"github.com/lexpilot/seatwise/internal/report"
	"github.com/lexpilot/seatwise/internal/runtime"
	"github.com/lexpilot/seatwise/internal/storage"
	"github.com/lexpilot/seatwise/internal/store"
)

// Run wires the full service and blocks serving HTTP.
func Run(cfg *appconfig.Config, addr string) error {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	// Unified HTTP error handler with structured JSON and logging
	baseLogger := log.New(log.Writer(), "[HTTP] ", log.LstdFlags)
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		}
		req := c.Request()
		baseLogger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
		if !c.Response().Committed {
			_ = c.JSON(code, map[string]interface{}{"error": msg})
		}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Cookie", "Authorization"},
		AllowCredentials: true,
	}))

	e.GET("/healthz", func(c echo.Context) error { return c.String(200, "ok") })
	registerDocs(e)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	ctx := context.Background()
	dsn, err := cfg.Databases.Postgres.DSN()
	if err != nil {
		return err
	}
	if err := Migrate(dsn, "up", 0); err != nil {
		baseLogger.Printf("warn: migrate: %v", err)
	}
	st, err := store.NewWithDSN(ctx, dsn)
	if err != nil {
		return err
	}

	objects, err := storage.NewMinioStore(cfg.Storage)
	if err != nil {
		return err
	}
	if err := objects.EnsureBucket(ctx); err != nil {
		return err
	}

	if cfg.Databases.Redis.Host == "" || cfg.Databases.Redis.Port == "" {
		return fmt.Errorf("redis not configured (databases.redis.host/port)")
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Databases.Redis.Addr(),
		Password: cfg.Databases.Redis.Pass,
		DB:       cfg.Databases.Redis.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis connection failed (%s): %w", cfg.Databases.Redis.Addr(), err)
	}

	secret, err := runtime.LoadJWTSecret(cfg)
	if err != nil {
		return err
	}

	// One completion-service client for the whole process. An empty api_key is
	// legal: grounded paths degrade to intervention_required.
	client := llm.NewOpenAIClient(cfg.LLM)

	pipeLogger := log.New(log.Writer(), "[PIPELINE] ", log.LstdFlags)
	generator := &report.Generator{
		Store:   st,
		Objects: objects,
		Extractor: &report.LLMExtractor{
			Client: client,
			Logger: pipeLogger,
		},
		Engine: &report.Engine{
			Client:       client,
			Logger:       pipeLogger,
			MaxPages:     cfg.Report.MaxEvidencePages,
			ExcerptChars: cfg.Report.ExcerptChars,
		},
		Renderer: &report.Renderer{},
		Locks:    &report.RedisLocker{Client: rdb},
		Logger:   pipeLogger,
		LockTTL:  time.Duration(cfg.Report.LockTTLSeconds) * time.Second,
	}
	generate := func(projectID, ownerID string) {
		go generator.Run(context.Background(), projectID, ownerID)
	}

	chatLogger := log.New(log.Writer(), "[CHAT] ", log.LstdFlags)
	chatSvc := &chat.Service{
		Store:      st,
		Client:     client,
		Logger:     chatLogger,
		Regenerate: generate,
		MaxHistory: cfg.Chat.MaxHistory,
		Timeout:    cfg.LLM.Timeout,
	}

	api := e.Group("/api")
	auth := &AuthHandler{Store: st, Secret: secret}
	auth.Register(api.Group("/auth"))

	authed := api.Group("", runtime.EchoAuthMiddleware(secret))
	authed.GET("/me", func(c echo.Context) error {
		return c.JSON(200, MeResponse{UserID: c.Get("user_id").(string)})
	})

	projects := authed.Group("/projects")
	ph := &ProjectsHandler{Store: st, Objects: objects, Logger: baseLogger, Generate: generate}
	ph.Register(projects)
	dh := &DocumentsHandler{Store: st, Objects: objects, Logger: baseLogger, Generate: generate}
	dh.Register(projects)
	ch := &ChatHandler{Store: st, Chat: chatSvc}
	ch.Register(projects)

	if addr == "" {
		addr = cfg.Server.Address
		if addr == "" {
			addr = ":8080"
		}
	}
	log.Printf("listening on %s", addr)
	return e.Start(addr)
}
