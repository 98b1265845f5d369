package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/vizboard/vizboard-backend/internal/app"
	"github.com/vizboard/vizboard-backend/internal/observability"
)

func main() {
	_ = godotenv.Load()

	a, err := app.New()
	if err != nil {
		fmt.Printf("Failed to init app: %v\n", err)
		os.Exit(1)
	}
	defer a.Close()

	shutdownOTel := observability.InitOTel(context.Background(), a.Log, observability.OtelConfig{
		ServiceName: "vizboard-backend",
		Environment: os.Getenv("APP_ENV"),
		Version:     os.Getenv("APP_VERSION"),
	})
	if shutdownOTel != nil {
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = shutdownOTel(ctx)
		}()
	}

	a.Log.Info("Starting HTTP server", "addr", a.Cfg.HTTPAddr)
	if err := a.Run(a.Cfg.HTTPAddr); err != nil {
		a.Log.Error("Server exited", "error", err)
		os.Exit(1)
	}
}
