package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"carepipe/internal/broker"
	"carepipe/internal/config"
	"carepipe/internal/logger"
	"carepipe/pkg/bootstrap"
	"carepipe/pkg/codec"
	"carepipe/pkg/logging"
	"carepipe/pkg/models"
)

var (
	configFile  string
	messageFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "pipeline-service",
		Short: "Orchestrator and dashboard for the care-gap pipeline",
		Long:  "Pipeline Service drives clinical messages through extraction, scoring and planning, falling back to direct calls when the broker is down",
		RunE:  serveCmd().RunE,
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Path to config file (required)")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(topologyCmd())
	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(publishCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, logger.Logger, error) {
	earlyLog := logging.NewEarlyLog()

	if configFile == "" {
		configFile = os.Getenv("CONFIG_FILE")
		if configFile == "" {
			earlyLog.Error("Config file is required. Use --config flag or CONFIG_FILE environment variable")
			return nil, nil, fmt.Errorf("config file is required")
		}
	}

	cfg, err := config.Load(configFile)
	if err != nil {
		earlyLog.Error("Failed to load config: %v", err)
		return nil, nil, err
	}

	log, err := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		earlyLog.Error("Failed to init logger: %v", err)
		return nil, nil, err
	}
	return cfg, log, nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the pipeline service",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}
			defer log.Sync()

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			app := NewApp(cfg, log)
			if err := app.Initialize(ctx); err != nil {
				log.Fatalf("Failed to initialize application: %v", err)
			}

			log.InfowCtx(ctx, "Pipeline service running")
			if err := app.Run(ctx); err != nil && err != context.Canceled {
				log.ErrorwCtx(ctx, "Service stopped with error", "error", err)
				return err
			}
			return app.Shutdown(context.Background())
		},
	}
}

func topologyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "topology",
		Short: "Declare the exchanges, queues and bindings and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}
			defer log.Sync()

			base := bootstrap.NewBase(cfg, log)
			if err := base.InitBroker(cmd.Context()); err != nil {
				return err
			}
			defer base.ShutdownBroker()

			t := broker.DefaultTopology()
			for _, b := range t.Bindings {
				fmt.Fprintf(cmd.OutOrStdout(), "%s -> %s (%s)\n", b.Exchange, b.Queue, b.RoutingKey)
			}
			return nil
		},
	}
}

func readMessage() (models.ClinicalMessage, error) {
	var msg models.ClinicalMessage
	in := os.Stdin
	if messageFile != "" && messageFile != "-" {
		f, err := os.Open(messageFile)
		if err != nil {
			return msg, fmt.Errorf("failed to open message file: %w", err)
		}
		defer f.Close()
		in = f
	}
	if err := codec.Decode(in, &msg); err != nil {
		return msg, fmt.Errorf("failed to decode clinical message: %w", err)
	}
	return msg, nil
}

func runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one clinical message through the pipeline and print the result",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}
			defer log.Sync()

			msg, err := readMessage()
			if err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			app := NewApp(cfg, log)
			if err := app.Initialize(ctx); err != nil {
				return err
			}
			defer app.Shutdown(context.Background())

			res := app.orchestrator.Run(ctx, msg)
			if err := codec.Encode(cmd.OutOrStdout(), res); err != nil {
				return err
			}
			if !res.Success {
				return fmt.Errorf("pipeline failed at %s: %s", res.Stage, res.Reason)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&messageFile, "file", "f", "-", "Clinical message JSON file, - for stdin")
	return cmd
}

// publishCmd feeds a message into the chained broker flow, where each stage forwards to the next
// without the orchestrator.
func publishCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Publish one clinical message to clinical.exchange",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}
			defer log.Sync()

			msg, err := readMessage()
			if err != nil {
				return err
			}
			if err := models.ValidateClinicalMessage(&msg); err != nil {
				return err
			}

			base := bootstrap.NewBase(cfg, log)
			if err := base.InitBroker(cmd.Context()); err != nil {
				return err
			}
			defer base.ShutdownBroker()

			env, err := broker.NewPublishers(base.Transport).PublishClinicalMessage(cmd.Context(), msg)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "published %s\n", env.ID)
			return nil
		},
	}
	cmd.Flags().StringVarP(&messageFile, "file", "f", "-", "Clinical message JSON file, - for stdin")
	return cmd
}
