package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/mailstream/mailstream/internal/config"
	"github.com/mailstream/mailstream/internal/database"
	"github.com/mailstream/mailstream/internal/fetchguard"
	"github.com/mailstream/mailstream/internal/model"
	"github.com/mailstream/mailstream/internal/queue"
	"github.com/mailstream/mailstream/internal/repository"
)

var (
	timeout   time.Duration
	listLimit int
)

var rootCmd = &cobra.Command{
	Use:           "mailctl",
	Short:         "Operator tool for the mailstream delivery pipeline",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var enqueueCmd = &cobra.Command{
	Use:   "enqueue [file]",
	Short: "Validate a JSON payload file and add it to the stream",
	Args:  cobra.ExactArgs(1),
	RunE:  runEnqueue,
}

var checkURLCmd = &cobra.Command{
	Use:   "check-url [url]",
	Short: "Check whether a sheet URL passes the remote fetch rules",
	Args:  cobra.ExactArgs(1),
	RunE:  runCheckURL,
}

var deadLettersCmd = &cobra.Command{
	Use:   "dead-letters",
	Short: "List payloads that exhausted their retries",
	RunE:  runDeadLetters,
}

func init() {
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 10*time.Second, "timeout for network calls")
	deadLettersCmd.Flags().IntVar(&listLimit, "limit", 20, "maximum number of entries to list")

	rootCmd.AddCommand(enqueueCmd)
	rootCmd.AddCommand(checkURLCmd)
	rootCmd.AddCommand(deadLettersCmd)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runEnqueue(cmd *cobra.Command, args []string) error {
	raw, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read payload file: %w", err)
	}
	p, err := model.ParsePayload(raw)
	if err != nil {
		return err
	}
	if err := p.Validate(); err != nil {
		return err
	}
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.SchemaVersion == "" {
		p.SchemaVersion = model.SupportedSchemaVersion
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	rdb, err := database.NewRedis(cfg.Redis)
	if err != nil {
		return err
	}
	defer rdb.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	stream := queue.NewRedisStream(rdb.Client, queue.RedisStreamOptions{Name: cfg.Stream.Name})
	entryID, err := stream.Add(ctx, p)
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "queued payload %s as entry %s on %s\n", p.ID, entryID, stream.Name())
	return nil
}

func runCheckURL(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	guard := fetchguard.New(fetchguard.Options{Timeout: timeout})
	if err := guard.AssertSafe(ctx, args[0], cfg.Sheet.URLAllowlist); err != nil {
		var serr *fetchguard.SecurityError
		if errors.As(err, &serr) {
			return fmt.Errorf("rejected: %s", serr.Reason)
		}
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), "ok")
	return nil
}

func runDeadLetters(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	letters, err := repository.NewDeadLetterRepository(db).List(ctx, listLimit)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(letters)
}
