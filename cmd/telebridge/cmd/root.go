// Package cmd implements the telebridge command line.
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/telepair/telebridge/internal/config"
	"github.com/telepair/telebridge/pkg/logger"
	"github.com/telepair/telebridge/pkg/natsx/embed"
)

const defaultConfigFile = "~/.telebridge.yaml"

// options are the persistent flags. Set flags override the config file.
type options struct {
	configFile    string
	logLevel      string
	natsURL       string
	nodeID        string
	embedNATS     bool
	embedNATSPath string
}

func Execute() error {
	return newRootCommand().Execute()
}

func newRootCommand() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:           "telebridge",
		Short:         "Telemetry bridge for set-top devices",
		Long:          "Collects streaming and app usage telemetry from the device platform and delivers reports to NATS JetStream",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := cmd.PersistentFlags()
	flags.StringVarP(&opts.configFile, "config", "c", defaultConfigFile, "Configuration file path")
	flags.StringVarP(&opts.logLevel, "log-level", "l", "", "Log level (debug, info, warn, error)")
	flags.StringVarP(&opts.natsURL, "nats-url", "n", "", "NATS server URL")
	flags.StringVar(&opts.nodeID, "node-id", "", "Node ID reported in every header")
	flags.BoolVar(&opts.embedNATS, "embed-nats", false, "Run an embedded NATS server")
	flags.StringVar(&opts.embedNATSPath, "embed-nats-storage-path", "", "Embedded NATS server storage path")

	cmd.AddCommand(newStartCommand(opts))
	cmd.AddCommand(newVersionCommand())
	cmd.AddCommand(newConfigCommand(opts))

	return cmd
}

// loadConfig reads the config file and applies flag overrides.
func (o *options) loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.LoadConfig(o.configFile)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if o.logLevel != "" {
		if err := cfg.Logger.SetLevel(logger.Level(o.logLevel)); err != nil {
			return nil, fmt.Errorf("failed to set log level: %w", err)
		}
	}
	if o.natsURL != "" {
		cfg.NATS.URLs = []string{o.natsURL}
	}
	if o.nodeID != "" {
		cfg.Bridge.NodeID = o.nodeID
	}
	if flags.Changed("embed-nats") {
		cfg.EnableEmbedNATS = o.embedNATS
	}
	if o.embedNATSPath != "" {
		if cfg.EmbedNATS == nil {
			cfg.EmbedNATS = embed.DefaultServerConfig()
		}
		path, err := config.ExpandPath(o.embedNATSPath)
		if err != nil {
			return nil, fmt.Errorf("failed to expand storage path: %w", err)
		}
		cfg.EmbedNATS.StorePath = path
	}

	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
