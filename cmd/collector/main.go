package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/good-yellow-bee/agentwatch/internal/collector"
	"github.com/good-yellow-bee/agentwatch/internal/notifier"
	"github.com/good-yellow-bee/agentwatch/pkg/config"
)

var (
	configFile string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "agentwatch-collector",
	Short: "AgentWatch Collector - agent telemetry collection and alerting",
	Long: `AgentWatch Collector ingests agent telemetry from a gateway push
connection and local session transcripts, evaluates alert rules
over the accumulated data, and serves an operations API.`,
	RunE: runCollector,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("agentwatch-collector %s\n", config.Version)
		fmt.Printf("  commit: %s\n", config.Commit)
		fmt.Printf("  built:  %s\n", config.BuildTime)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "collector.yaml", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runCollector(cmd *cobra.Command, args []string) error {
	cfg, err := LoadConfig(configFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	token, err := cfg.ResolveToken()
	if err != nil {
		return fmt.Errorf("resolve token: %w", err)
	}

	dispatcher, err := buildDispatcher(cfg)
	if err != nil {
		return fmt.Errorf("configure notifiers: %w", err)
	}
	if dispatcher != nil {
		defer dispatcher.Close()
	}

	collectorCfg := collector.Config{
		GatewayURL:     cfg.Gateway.URL,
		GatewayWSURL:   cfg.Gateway.WSURL,
		Token:          token,
		ClientVersion:  config.Version,
		TranscriptRoot: cfg.Transcript.Root,
		DatabasePath:   cfg.Database.Path,
		ScanInterval:   cfg.Transcript.ScanInterval,
		EvalInterval:   cfg.Alerting.EvalInterval,
		PollInterval:   cfg.Gateway.PollInterval,
		Lookback:       cfg.Transcript.Lookback,
		InitialBackoff: cfg.Gateway.InitialBackoff,
		MaxBackoff:     cfg.Gateway.MaxBackoff,
		Verbose:        verbose,
	}
	if cfg.Metrics.Enabled {
		collectorCfg.MetricsAddr = cfg.Metrics.Address
	}
	if cfg.API.Enabled {
		collectorCfg.APIAddr = cfg.API.Address
	}

	c, err := collector.New(collectorCfg, dispatcher)
	if err != nil {
		return fmt.Errorf("create collector: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		log.Printf("received signal %v, shutting down...", sig)
		cancel()
	}()

	log.Printf("starting agentwatch-collector %s", config.Version)
	log.Printf("gateway %s, transcripts %s", cfg.Gateway.URL, cfg.Transcript.Root)
	return c.Run(ctx)
}

// buildDispatcher registers every configured notification channel. Returns
// nil when no channel is configured.
func buildDispatcher(cfg *Config) (*notifier.Dispatcher, error) {
	d := notifier.NewDispatcher()
	registered := false

	if cfg.Notify.Slack.WebhookURL != "" {
		n, err := notifier.NewSlackNotifier(notifier.SlackConfig{
			WebhookURL: cfg.Notify.Slack.WebhookURL,
		})
		if err != nil {
			return nil, err
		}
		d.Register(n)
		registered = true
	}
	if cfg.Notify.Discord.WebhookURL != "" {
		n, err := notifier.NewDiscordNotifier(notifier.DiscordConfig{
			WebhookURL: cfg.Notify.Discord.WebhookURL,
			Username:   cfg.Notify.Discord.Username,
		})
		if err != nil {
			return nil, err
		}
		d.Register(n)
		registered = true
	}
	if cfg.Notify.Webhook.URL != "" {
		n, err := notifier.NewWebhookNotifier(notifier.WebhookConfig{
			URL:     cfg.Notify.Webhook.URL,
			Headers: cfg.Notify.Webhook.Headers,
		})
		if err != nil {
			return nil, err
		}
		d.Register(n)
		registered = true
	}

	if !registered {
		return nil, nil
	}
	return d, nil
}
