package cmd

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/naka-gawa/contrib-counter/internal/config"
	"github.com/naka-gawa/contrib-counter/internal/gateway"
	"github.com/naka-gawa/contrib-counter/internal/retry"
	"github.com/naka-gawa/contrib-counter/internal/usecase"
)

var updateCmd = &cobra.Command{
	Use:   "update",
	Short: "Counts contributions and rewrites the document",
	Long: `Counts the configured user's contributions for every target, then replaces
the value of each target's marker in the document. The document is written
once, after every count succeeded, and only if something changed.`,
	Run: func(cmd *cobra.Command, args []string) {
		// Get the verbose flag from the root command to set up the logger.
		verbose, _ := cmd.Flags().GetBool("verbose")
		logger := newLogger(os.Stderr, verbose)

		cfg, err := loadConfig(cmd)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
			os.Exit(1)
		}
		applyUpdateFlags(cmd, cfg)
		dryRun, _ := cmd.Flags().GetBool("dry-run")

		if err := runUpdate(cmd.Context(), os.Stdout, cfg, dryRun, logger); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to update %s: %v\n", cfg.Document, err)
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(updateCmd)
	updateCmd.Flags().StringP("document", "d", "", "Document to rewrite (overrides config)")
	updateCmd.Flags().StringP("user", "u", "", "GitHub user whose contributions are counted (overrides config)")
	updateCmd.Flags().String("style", "", "Marker style: bracketed, inline or placeholder (overrides config)")
	updateCmd.Flags().String("api", "", "API used for pull-request counts: rest or graphql (overrides config)")
	updateCmd.Flags().Bool("dry-run", false, "Print the patched document instead of writing it")
}

// applyUpdateFlags overrides configuration values with the flags that were set.
func applyUpdateFlags(cmd *cobra.Command, cfg *config.Config) {
	if v, _ := cmd.Flags().GetString("document"); v != "" {
		cfg.Document = v
	}
	if v, _ := cmd.Flags().GetString("user"); v != "" {
		cfg.Username = v
	}
	if v, _ := cmd.Flags().GetString("style"); v != "" {
		cfg.MarkerStyle = v
	}
	if v, _ := cmd.Flags().GetString("api"); v != "" {
		cfg.API = v
	}
}

// runUpdate wires the gateway and the use case and prints one "KEY: count" line per target.
func runUpdate(ctx context.Context, out io.Writer, cfg *config.Config, dryRun bool, logger *log.Logger) error {
	targets, err := cfg.Validate()
	if err != nil {
		return err
	}

	policy := retry.Default()
	policy.Attempts = cfg.Retry.Attempts
	policy.Backoff = cfg.Retry.Backoff
	policy.ResetMargin = cfg.Retry.ResetMargin
	policy.MaxWait = cfg.Retry.MaxWait

	// Inject dependencies and run the main business logic.
	githubGateway, err := gateway.NewGitHubGateway(gateway.Options{
		Token:      cfg.Token,
		BaseURL:    cfg.BaseURL,
		UseGraphQL: cfg.API == config.APIGraphQL,
		Timeout:    cfg.Timeout,
		Retry:      policy,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to create GitHub gateway: %w", err)
	}
	updater := usecase.NewUpdater(githubGateway, logger)

	result, err := updater.Run(ctx, usecase.Request{
		Username: cfg.Username,
		Document: cfg.Document,
		Style:    cfg.Style(),
		Targets:  targets,
		DryRun:   dryRun,
	})
	if err != nil {
		return err
	}

	for _, c := range result.Counts {
		fmt.Fprintf(out, "%s: %d\n", c.Target.Key, c.Value)
	}
	if dryRun {
		fmt.Fprintln(out)
		fmt.Fprint(out, result.Text)
	}
	return nil
}
