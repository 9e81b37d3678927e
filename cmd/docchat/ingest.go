package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var ingestTenant string

var ingestCmd = &cobra.Command{
	Use:   "ingest <file>...",
	Short: "Ingest PDF, EPUB, text or markdown files",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runIngest,
}

func init() {
	ingestCmd.Flags().StringVar(&ingestTenant, "tenant", "", "tenant that owns the documents")
	_ = ingestCmd.MarkFlagRequired("tenant")
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer logger.Sync()

	a, err := buildApp(cmd.Context(), cfg, logger, false)
	if err != nil {
		return err
	}
	defer a.Close()

	var failed int
	for _, path := range args {
		res, err := a.processor.IngestFile(cmd.Context(), ingestTenant, path)
		if err != nil {
			failed++
			logger.Error("ingest failed", zap.String("file", path), zap.Error(err))
			continue
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %d chunks (document %s)\n", path, res.ChunksCreated, res.DocumentID)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d files failed", failed, len(args))
	}
	return nil
}
