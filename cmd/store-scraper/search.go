package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/maltedev/store-scraper/internal/jobs"
	"github.com/spf13/cobra"
)

var searchCmd = &cobra.Command{
	Use:   "search [keyword]",
	Short: "Run one keyword across the stores and print the results as JSON",
	Args:  cobra.ExactArgs(1),
	RunE:  runSearch,
}

func init() {
	searchCmd.Flags().String("api-key", "", "API key the request is recorded under")
	searchCmd.Flags().Bool("dry-run", false, "Delete the stored products after printing them")
	rootCmd.AddCommand(searchCmd)
}

func runSearch(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	token, _ := cmd.Flags().GetString("api-key")
	if token == "" && a.memory != nil {
		token = "cli-" + uuid.NewString()
		a.memory.AddAPIKey(token, true)
	}

	dryRun, _ := cmd.Flags().GetBool("dry-run")
	return search(ctx, a.manager, cmd.OutOrStdout(), token, args[0], dryRun)
}

// search submits keyword, runs it to completion and writes the results.
func search(ctx context.Context, m *jobs.Manager, out io.Writer, token, keyword string, dryRun bool) error {
	req, err := m.Submit(ctx, token, keyword)
	if err != nil {
		return fmt.Errorf("failed to submit keyword: %w", err)
	}

	runErr := m.Run(ctx, req)

	results, err := m.Results(context.WithoutCancel(ctx), req.ID)
	if err != nil {
		return errors.Join(runErr, err)
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(results); err != nil {
		return fmt.Errorf("failed to write results: %w", err)
	}

	if dryRun {
		if err := m.Discard(context.WithoutCancel(ctx), req.ID); err != nil {
			return errors.Join(runErr, err)
		}
	}
	return runErr
}
