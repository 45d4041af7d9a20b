// Package main provides the missiond API server implementation.
package main

import (
	"log/slog"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"
	"go.opentelemetry.io/otel/trace"

	"github.com/missiond/missiond/pkg/eventbus"
	"github.com/missiond/missiond/pkg/ledger"
	"github.com/missiond/missiond/pkg/persistence"
	"github.com/missiond/missiond/pkg/web"
)

type API struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	eventBus    eventbus.EventBus
	tracer      trace.Tracer
	validate    *validator.Validate
}

func NewAPI(
	logger *slog.Logger,
	persistence persistence.Persistence,
	eventBus eventbus.EventBus,
	tracer trace.Tracer,
) *API {
	return &API{
		persistence: persistence,
		logger:      logger,
		eventBus:    eventBus,
		tracer:      tracer,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (a *API) App() *fiber.App {
	jobLedger := ledger.NewLedger(
		a.persistence,
		a.logger,
		ledger.ConfigFromEnv(),
		ledger.WithEventBus(a.eventBus),
		ledger.WithTracer(a.tracer),
	)

	handlers := web.NewAPIHandlers(jobLedger, a.validate)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("missiond API")
	})

	runs := app.Group("/job-runs")
	runs.Post("/", handlers.CreateJobRun)
	runs.Get("/:id", handlers.GetJobRun)
	runs.Post("/:id/cancel", handlers.CancelJobRun)
	runs.Get("/:id/audit", handlers.GetJobRunAudit)

	app.Get("/health", handlers.HealthCheck)

	return app
}

func (a *API) Start(port int) error {
	app := a.App()

	err := app.Listen(":" + strconv.Itoa(port))

	return err
}
