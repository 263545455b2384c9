// Command serve runs the HTTP API and dashboard.
//
// Configuration comes from the environment (a .env file is loaded when
// present):
//
//	PORT              listen port (default 8080)
//	TOP_N             default recommendation count
//	MAX_ROWS          cap on normalized rows per ingestion
//	ARCHIVE_KIND      sqlite | postgres | mssql (empty: archiving disabled)
//	ARCHIVE_DSN       backend DSN
//	METRICS_BACKEND   datadog | none (default none)
//	DD_TAGS           extra Datadog tags, comma separated
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"trafficlens/internal/archive"
	_ "trafficlens/internal/archive/mssql"
	_ "trafficlens/internal/archive/postgres"
	_ "trafficlens/internal/archive/sqlite"
	"trafficlens/internal/config"
	"trafficlens/internal/engine"
	"trafficlens/internal/metrics"
	"trafficlens/internal/metrics/datadog"
	"trafficlens/internal/server"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file found, using system environment")
	}

	ctx := context.Background()

	if getEnv("METRICS_BACKEND", "none") == "datadog" {
		backend, err := datadog.NewBackend(ctx, datadog.Options{
			JobName: "trafficlens-serve",
			Tags:    datadog.ParseTagsCSV(os.Getenv("DD_TAGS")),
		})
		if err != nil {
			log.Fatalf("datadog backend: %v", err)
		}
		metrics.SetBackend(backend)
		defer func() { _ = backend.Close() }()
	}

	limits := config.Limits{
		TopN:    getEnvInt("TOP_N", 0),
		MaxRows: getEnvInt("MAX_ROWS", 0),
	}
	session := engine.NewSession(limits)

	var store archive.Archiver
	if kind := os.Getenv("ARCHIVE_KIND"); kind != "" {
		initCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()

		var err error
		store, err = archive.New(initCtx, archive.Config{Kind: kind, DSN: os.Getenv("ARCHIVE_DSN")})
		if err != nil {
			log.Fatalf("archive: %v", err)
		}
		defer store.Close()
		if err := store.Init(initCtx); err != nil {
			log.Fatalf("archive init: %v", err)
		}
		log.Printf("archive backend %s ready", kind)
	}

	app := server.New(server.Config{
		Session: session,
		Archive: store,
	})

	go func() {
		addr := ":" + getEnv("PORT", "8080")
		log.Printf("listening on %s", addr)
		if err := app.Listen(addr); err != nil {
			log.Fatalf("server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("shutting down")
	if err := app.ShutdownWithTimeout(5 * time.Second); err != nil {
		log.Printf("forced shutdown: %v", err)
	}
	_ = metrics.Flush()
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Fatalf("%s: %v", key, err)
	}
	return n
}
