package main

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"dm-outreach-engine/internal/app/server"
	"dm-outreach-engine/internal/campaign"
	"dm-outreach-engine/internal/config"
	"dm-outreach-engine/internal/delivery"
	"dm-outreach-engine/internal/dom/htmlsurface"
)

var (
	logLevel     string
	campaignFile string
	cfg          config.Config
)

var rootCmd = &cobra.Command{
	Use:           "outreach",
	Short:         "Paced, one-at-a-time direct message campaigns",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		cfg = config.Load()
		level := cfg.Server.LogLevel
		if cmd.Flags().Changed("log-level") {
			level = logLevel
		}
		config.SetupLogging(level)
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the orchestrator and the UI API",
	RunE: func(cmd *cobra.Command, args []string) error {
		return server.Run(cfg)
	},
}

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Run the page-automation process that answers EXECUTE_DM and PING",
	RunE: func(cmd *cobra.Command, args []string) error {
		return server.RunAgent(cfg)
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one campaign from a YAML file and exit when it completes",
	RunE: func(cmd *cobra.Command, args []string) error {
		camp, err := campaign.LoadFile(campaignFile)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		return server.RunOnce(cfg, camp, func(line string) { fmt.Fprintln(out, line) })
	},
}

var probeCmd = &cobra.Command{
	Use:   "probe page.html",
	Short: "Report which locator strategy finds each control in a saved page",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()
		doc, err := htmlsurface.Parse(f)
		if err != nil {
			return fmt.Errorf("parse %s: %w", args[0], err)
		}

		out := cmd.OutOrStdout()
		missing := 0
		for _, r := range delivery.DefaultLocators().Probe(context.Background(), doc) {
			switch {
			case r.Found:
				fmt.Fprintf(out, "%-14s found by %s\n", r.Control, r.Strategy)
			case r.Err != nil:
				missing++
				fmt.Fprintf(out, "%-14s error: %v\n", r.Control, r.Err)
			default:
				missing++
				fmt.Fprintf(out, "%-14s NOT FOUND\n", r.Control)
			}
		}
		if missing > 0 {
			return fmt.Errorf("%d control(s) not located", missing)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "debug|info|warn|error (overrides server.log_level)")
	runCmd.Flags().StringVarP(&campaignFile, "file", "f", "campaign.yaml", "campaign YAML file")

	rootCmd.AddCommand(serveCmd, agentCmd, runCmd, probeCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("outreach failed")
		os.Exit(1)
	}
}
