package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/chainguard-dev/clog"
	"github.com/spf13/cobra"
)

var (
	daysBack            int
	ignoreProcessed     bool
	stripEmojis         bool
	channelID           string
	draftPR             bool
	dryRun              bool
	debugMode           bool
	settingsPath        string
	writerPromptPath    string
	formatterPromptPath string
	reviewerPromptPath  string
	templatePath        string
	prBodyTemplatePath  string
)

var rootCmd = &cobra.Command{
	Use:   "changelog-writer",
	Short: "Turn release announcements into documentation changelog PRs",
	Long: `Fetches recent release announcements from a Slack channel, drafts a
changelog with AI agents, and opens a pull request against the docs repository.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		level := slog.LevelInfo
		if debugMode {
			level = slog.LevelDebug
		}
		log := clog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
		ctx := clog.WithLogger(context.Background(), log)

		creds, err := LoadCredentials(ctx)
		if err != nil {
			return fmt.Errorf("loading credentials: %w", err)
		}

		overrides := &ConfigOverrides{}
		if settingsPath != "" {
			overrides.SettingsPath = &settingsPath
		}
		if writerPromptPath != "" {
			overrides.WriterPromptPath = &writerPromptPath
		}
		if formatterPromptPath != "" {
			overrides.FormatterPromptPath = &formatterPromptPath
		}
		if reviewerPromptPath != "" {
			overrides.ReviewerPromptPath = &reviewerPromptPath
		}
		if templatePath != "" {
			overrides.TemplatePath = &templatePath
		}
		if prBodyTemplatePath != "" {
			overrides.PRBodyTemplatePath = &prBodyTemplatePath
		}

		config, err := NewConfig(overrides)
		if err != nil {
			return fmt.Errorf("loading configuration: %w", err)
		}

		if daysBack <= 0 {
			daysBack = config.Settings.DaysBack
		}

		processor, err := NewChangelogProcessor(creds, config, RunOptions{
			DaysBack:        daysBack,
			IgnoreProcessed: ignoreProcessed,
			StripEmojis:     stripEmojis,
			Draft:           draftPR,
			DryRun:          dryRun,
			Channel:         channelID,
		})
		if err != nil {
			return fmt.Errorf("creating processor: %w", err)
		}

		result := processor.Run(ctx)
		switch result.Status {
		case StatusError:
			return fmt.Errorf("run failed: %s", result.Error)
		case StatusSkipped:
			log.Infof("nothing to publish for %s", result.Date)
		default:
			if result.PRURL != "" {
				log.Infof("changelog for %s ready for review: %s", result.Date, result.PRURL)
			} else {
				log.Infof("changelog for %s written locally", result.Date)
			}
		}
		return nil
	},
}

func init() {
	rootCmd.Flags().IntVar(&daysBack, "days-back", 0, "How many days of messages to fetch (default from settings)")
	rootCmd.Flags().BoolVar(&ignoreProcessed, "ignore-processed", false, "Include messages already marked processed")
	rootCmd.Flags().BoolVar(&stripEmojis, "strip-emojis", false, "Remove emoji shortcodes from message text")
	rootCmd.Flags().StringVar(&channelID, "channel", "", "Slack channel ID (overrides settings)")
	rootCmd.Flags().BoolVar(&draftPR, "draft", true, "Open the pull request as a draft")
	rootCmd.Flags().BoolVar(&dryRun, "dry-run", false, "Generate the changelog locally without publishing")
	rootCmd.Flags().BoolVar(&debugMode, "debug", false, "Enable debug logging")
	rootCmd.Flags().StringVar(&settingsPath, "settings", "", "Path to custom settings file")
	rootCmd.Flags().StringVar(&writerPromptPath, "writer-prompt", "", "Path to custom writer prompt file")
	rootCmd.Flags().StringVar(&formatterPromptPath, "formatter-prompt", "", "Path to custom formatter prompt file")
	rootCmd.Flags().StringVar(&reviewerPromptPath, "reviewer-prompt", "", "Path to custom reviewer prompt file")
	rootCmd.Flags().StringVar(&templatePath, "template", "", "Path to custom changelog template file")
	rootCmd.Flags().StringVar(&prBodyTemplatePath, "pr-body-template", "", "Path to custom PR body template file")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
