package main

import (
	"encoding/json"
	"errors"

	"github.com/spf13/cobra"

	"github.com/markdave123-py/coursebot/internal/core/ingestion_engine"
)

var ingestFull bool

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Reconcile the course files with the resource store",
	Long: `Lists every file of the course, (re-)ingests new and changed ones and
deletes resources whose file no longer exists.

Without --full only files modified within STALE_AFTER of the run start are
re-processed. With --full every file is re-extracted and re-embedded.`,
	Args: cobra.NoArgs,
	RunE: runIngest,
}

func init() {
	ingestCmd.Flags().BoolVar(&ingestFull, "full", false, "re-ingest every file regardless of its modification time")
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	ing, err := a.RequireIngestor()
	if err != nil {
		return err
	}

	mode := ingestion_engine.Incremental
	if ingestFull {
		mode = ingestion_engine.Full
	}
	stats, err := ing.Run(ctx, mode)
	if stats != nil {
		if perr := printJSON(cmd, stats); perr != nil {
			return errors.Join(err, perr)
		}
	}
	return err
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
