package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/hyperjump/kotae/internal/cli"
	"github.com/hyperjump/kotae/internal/config"
	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/internal/server"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Ingest the configured sources and serve the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := opts.setup()
			if err != nil {
				return err
			}
			defer logger.Sync()

			comps, err := initializeComponents(cfg, logger)
			if err != nil {
				return err
			}
			defer comps.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if _, err := comps.prepare(ctx, cfg.Ingest.Sources); err != nil {
				return fmt.Errorf("ingestion failed: %w", err)
			}

			srv := server.NewServer(comps.Orchestrator, comps.VectorIndex, comps.Storage, cfg, logger)
			errCh := make(chan error, 1)
			go func() {
				if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
			}()

			select {
			case <-ctx.Done():
			case err := <-errCh:
				return fmt.Errorf("server failed: %w", err)
			}
			logger.Info("Shutting down...")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Stop(shutdownCtx)
		},
	}
}

func newIngestCmd(opts *rootOptions) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "ingest <path|url>...",
		Short: "Ingest files, directories or URLs into the passage store",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := cli.ParseOutputFormat(output)
			if err != nil {
				return err
			}
			cfg, logger, err := opts.setup()
			if err != nil {
				return err
			}
			defer logger.Sync()

			comps, err := initializeComponents(cfg, logger)
			if err != nil {
				return err
			}
			defer comps.Close()

			stats, err := comps.prepare(cmd.Context(), args)
			if err != nil {
				return fmt.Errorf("ingestion failed: %w", err)
			}
			return cli.WriteIngestStats(cmd.OutOrStdout(), stats, format)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "text", "output format: text or json")
	return cmd
}

func newAskCmd(opts *rootOptions) *cobra.Command {
	var (
		topK      int
		filters   []string
		output    string
		serverURL string
	)
	cmd := &cobra.Command{
		Use:   "ask [flags] <query...>",
		Short: "Answer a question from the ingested documents",
		Long: `Answer a question from the ingested documents.

The query is all remaining arguments joined by spaces. With --server the
question is sent to a running kotae server; otherwise the index is restored
from the passage store in-process.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := cli.ParseOutputFormat(output)
			if err != nil {
				return err
			}
			filter, err := cli.ParseFilters(filters)
			if err != nil {
				return err
			}
			query := models.Query{Text: strings.Join(args, " "), TopK: topK, Filters: filter}

			var resp *models.AskResponse
			if serverURL != "" {
				resp, err = askViaHTTP(cmd.Context(), serverURL, query)
			} else {
				resp, err = askDirect(cmd.Context(), opts, query)
			}
			if err != nil {
				return err
			}
			return cli.WriteAnswer(cmd.OutOrStdout(), resp, format)
		},
	}
	cmd.Flags().IntVarP(&topK, "top-k", "k", 0, "number of passages to retrieve (0 = config default)")
	cmd.Flags().StringArrayVarP(&filters, "filter", "f", nil, "metadata filter key=value (repeatable)")
	cmd.Flags().StringVarP(&output, "output", "o", "text", "output format: text or json")
	cmd.Flags().StringVar(&serverURL, "server", "", "server URL (empty = answer in-process)")
	return cmd
}

func askDirect(ctx context.Context, opts *rootOptions, query models.Query) (*models.AskResponse, error) {
	cfg, logger, err := opts.setup()
	if err != nil {
		return nil, err
	}
	defer logger.Sync()

	comps, err := initializeComponents(cfg, logger)
	if err != nil {
		return nil, err
	}
	defer comps.Close()

	if _, err := comps.prepare(ctx, nil); err != nil {
		return nil, err
	}
	return comps.Orchestrator.Ask(ctx, query)
}

func newStatusCmd(opts *rootOptions) *cobra.Command {
	var (
		output    string
		serverURL string
	)
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show index and configuration status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			format, err := cli.ParseOutputFormat(output)
			if err != nil {
				return err
			}
			var status *models.Status
			if serverURL != "" {
				status, err = statusViaHTTP(cmd.Context(), serverURL)
			} else {
				status, err = statusDirect(cmd.Context(), opts)
			}
			if err != nil {
				return err
			}
			return cli.WriteStatus(cmd.OutOrStdout(), status, format)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "text", "output format: text or json")
	cmd.Flags().StringVar(&serverURL, "server", "", "server URL (empty = read the passage store directly)")
	return cmd
}

func statusDirect(ctx context.Context, opts *rootOptions) (*models.Status, error) {
	cfg, logger, err := opts.setup()
	if err != nil {
		return nil, err
	}
	defer logger.Sync()

	comps, err := initializeComponents(cfg, logger)
	if err != nil {
		return nil, err
	}
	defer comps.Close()

	if _, err := comps.prepare(ctx, nil); err != nil {
		return nil, err
	}
	return server.CollectStatus(ctx, comps.Orchestrator, comps.VectorIndex, comps.Storage, cfg)
}

func newInitCmd(opts *rootOptions) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config file to the --config path",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := opts.configPath
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("config %s already exists (use --force to overwrite)", path)
			}
			if err := config.Save(path, config.Default()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote default config to %s\n", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "kotae version %s\n", version)
		},
	}
}

var httpClient = &http.Client{Timeout: 5 * time.Minute}

func askViaHTTP(ctx context.Context, serverURL string, query models.Query) (*models.AskResponse, error) {
	body, err := json.Marshal(query)
	if err != nil {
		return nil, err
	}
	var resp models.AskResponse
	if err := doJSON(ctx, http.MethodPost, strings.TrimRight(serverURL, "/")+"/api/v1/ask", body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func statusViaHTTP(ctx context.Context, serverURL string) (*models.Status, error) {
	var status models.Status
	if err := doJSON(ctx, http.MethodGet, strings.TrimRight(serverURL, "/")+"/api/v1/status", nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

func doJSON(ctx context.Context, method, url string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		var apiErr struct {
			Error string `json:"error"`
		}
		b, _ := io.ReadAll(resp.Body)
		if json.Unmarshal(b, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("server returned %d: %s", resp.StatusCode, apiErr.Error)
		}
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

