// Package server exposes the analysis session over HTTP.
//
// Route map:
//
//	POST   /api/ingest           ingest a CSV/JSON body (or ?url= to fetch)
//	DELETE /api/dataset          clear the current dataset
//	GET    /api/schema           inferred column profiles and mapping
//	GET    /api/routes           per-route aggregates
//	GET    /api/timeseries       minute-bucket aggregates
//	GET    /api/classification   per-route congestion labels
//	GET    /api/recommendations  least congested routes (?top=N)
//	GET    /api/markers          geotagged rows for map display
//	GET    /api/export           full export document
//	POST   /api/archive          archive the current export document
//	GET    /api/archive          list archived snapshots (?limit=N)
//	GET    /api/archive/:id      load one archived snapshot
//	GET    /charts               HTML dashboard
//	GET    /health               liveness probe
package server

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"trafficlens/internal/archive"
	"trafficlens/internal/datasource/httpds"
	"trafficlens/internal/engine"
)

// Config carries the server's collaborators. Archive is optional; archive
// endpoints return 503 when it is nil.
type Config struct {
	Session *engine.Session
	Archive archive.Archiver
	Fetcher *httpds.Client

	// BodyLimit caps the ingest payload size in bytes. Zero uses 64 MiB.
	BodyLimit int
}

// New builds the fiber application with all routes and middleware wired.
func New(cfg Config) *fiber.App {
	if cfg.Fetcher == nil {
		cfg.Fetcher = httpds.NewClient(httpds.Config{Timeout: 30 * time.Second})
	}
	bodyLimit := cfg.BodyLimit
	if bodyLimit <= 0 {
		bodyLimit = 64 << 20
	}

	app := fiber.New(fiber.Config{
		AppName:      "trafficlens",
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		BodyLimit:    bodyLimit,
		ErrorHandler: errorHandler,
	})

	app.Use(recover.New())
	app.Use(logger.New(logger.Config{
		Format: "[${time}] ${status} - ${method} ${path} (${latency})\n",
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,DELETE,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept",
	}))

	h := &handler{
		session: cfg.Session,
		archive: cfg.Archive,
		fetcher: cfg.Fetcher,
	}

	app.Get("/health", h.health)
	app.Get("/charts", h.charts)

	api := app.Group("/api")
	{
		api.Post("/ingest", h.ingest)
		api.Delete("/dataset", h.clearDataset)

		api.Get("/schema", h.schema)
		api.Get("/routes", h.routes)
		api.Get("/timeseries", h.timeSeries)
		api.Get("/classification", h.classification)
		api.Get("/recommendations", h.recommendations)
		api.Get("/markers", h.markers)
		api.Get("/export", h.export)

		api.Post("/archive", h.archiveSave)
		api.Get("/archive", h.archiveList)
		api.Get("/archive/:id", h.archiveLoad)
	}

	return app
}

func errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "internal server error"
	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		message = e.Message
	}
	return c.Status(code).JSON(fiber.Map{
		"error":   true,
		"message": message,
	})
}
