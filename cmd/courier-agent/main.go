package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/BearBump/LiveTrack/config"
	"github.com/BearBump/LiveTrack/internal/auth"
	"github.com/BearBump/LiveTrack/internal/models"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

type rootFlags struct {
	configPath string
	orderID    string
	token      string
	courierID  string
	jwtSecret  string
	source     string
	statusAddr string
}

func newRootCmd(f agentFactories) *cobra.Command {
	var fl rootFlags
	cmd := &cobra.Command{
		Use:          "courier-agent",
		Short:        "Streams the courier's position for one order to track-api",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadConfig(fl.configPath)
			if err != nil {
				return fmt.Errorf("ошибка парсинга конфига, %w", err)
			}
			token, err := resolveToken(fl)
			if err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			_, err = RunCourierAgent(ctx, cfg, courierAgentOpts{
				orderID:    fl.orderID,
				token:      token,
				sourceMode: fl.source,
				statusAddr: fl.statusAddr,
			}, f)
			return err
		},
	}

	cmd.Flags().StringVar(&fl.configPath, "config", os.Getenv("configPath"), "path to the YAML config")
	cmd.Flags().StringVar(&fl.orderID, "order-id", "", "order to share the location for")
	cmd.Flags().StringVar(&fl.token, "token", os.Getenv("COURIER_TOKEN"), "bearer token of the courier")
	cmd.Flags().StringVar(&fl.courierID, "courier-id", "", "mint a token for this courier instead of --token")
	cmd.Flags().StringVar(&fl.jwtSecret, "jwt-secret", os.Getenv("JWT_SECRET"), "secret used with --courier-id")
	cmd.Flags().StringVar(&fl.source, "source", "", "auto | device | synthetic")
	cmd.Flags().StringVar(&fl.statusAddr, "status-addr", "", "address of the local status server")
	_ = cmd.MarkFlagRequired("order-id")
	return cmd
}

func resolveToken(fl rootFlags) (string, error) {
	if fl.token != "" {
		return fl.token, nil
	}
	if fl.courierID == "" || fl.jwtSecret == "" {
		return "", fmt.Errorf("either --token or --courier-id with --jwt-secret is required")
	}
	return auth.Issue(fl.jwtSecret, models.Identity{UserID: fl.courierID, Role: models.RoleDelivery}, 12*time.Hour)
}

func main() {
	_ = godotenv.Load()

	if err := newRootCmd(defaultAgentFactories()).ExecuteContext(context.Background()); err != nil {
		slog.Error("courier-agent failed", "err", err)
		os.Exit(1)
	}
}
