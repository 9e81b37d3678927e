package main

import (
	"github.com/spf13/cobra"

	"github.com/dream-ai/docchat/internal/server"
)

var serveMemory bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&serveMemory, "memory", false, "keep all data in memory instead of PostgreSQL")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx := cmd.Context()
	a, err := buildApp(ctx, cfg, logger, serveMemory)
	if err != nil {
		return err
	}
	defer a.Close()

	srv := server.New(a.service, server.Options{
		Addr:            cfg.Server.Addr,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		Ready:           a.ready,
		Logger:          logger,
	})
	return srv.Run(ctx)
}
