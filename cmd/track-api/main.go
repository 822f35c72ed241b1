package main

import (
	"context"
	"errors"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
)

func main() {
	// .env is optional: in containers everything comes from the environment
	_ = godotenv.Load()

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	app := mustBootstrapTrackAPI()
	err := app.Run()
	app.Close()
	if err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("track-api stopped", "err", err)
		os.Exit(1)
	}
}
