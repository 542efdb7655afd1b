package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/telepair/telebridge/internal/config"
	"github.com/telepair/telebridge/pkg/jsoncodec"
)

func newConfigCommand(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
		Long:  "Manage telebridge configuration files",
	}

	cmd.AddCommand(newConfigShowCommand(opts))
	cmd.AddCommand(newConfigValidateCommand(opts))
	cmd.AddCommand(newConfigInitCommand(opts))

	return cmd
}

func newConfigShowCommand(opts *options) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		Long:  "Display the resolved configuration with credentials redacted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.loadConfig(cmd)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			cfg = cfg.Redacted()
			out := cmd.OutOrStdout()

			switch format {
			case "yaml":
				data, err := cfg.Marshal()
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "# Configuration from: %s\n", opts.configFile)
				fmt.Fprint(out, string(data))
			case "json":
				data, err := jsoncodec.MarshalIndent(cfg, "", "  ")
				if err != nil {
					return fmt.Errorf("failed to marshal config to JSON: %w", err)
				}
				fmt.Fprintln(out, string(data))
			case "summary":
				fmt.Fprintf(out, "Configuration file: %s\n", opts.configFile)
				fmt.Fprintf(out, "Node ID: %s\n", cfg.Bridge.NodeID)
				fmt.Fprintf(out, "Location ID: %s\n", cfg.Bridge.LocationID)
				fmt.Fprintf(out, "Transport subject: %s\n", cfg.Transport.Subject)
				fmt.Fprintf(out, "Event subject: %s\n", cfg.Listener.Subject)
				fmt.Fprintf(out, "Report stream: %s (%s.>)\n", cfg.Storage.ReportStream.Name, cfg.Storage.ReportStream.SubjectPrefix)
				fmt.Fprintf(out, "Embedded NATS: %t\n", cfg.EnableEmbedNATS)
				fmt.Fprintf(out, "NATS URLs: %v\n", cfg.NATS.URLs)
				fmt.Fprintf(out, "Console Log Level: %s\n", cfg.Logger.Console.Level)
				fmt.Fprintf(out, "Health Check Address: %s\n", cfg.Health.Addr)
			default:
				return fmt.Errorf("unsupported format: %s", format)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "yaml", "Output format (yaml, json, summary)")

	return cmd
}

func newConfigValidateCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate configuration file",
		Long:  "Check if the configuration file is valid and properly formatted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if _, err := opts.loadConfig(cmd); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Configuration file %s is valid\n", opts.configFile)
			return nil
		},
	}
}

func newConfigInitCommand(opts *options) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize configuration file",
		Long:  "Create a new configuration file with default values",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.DefaultConfig()
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("failed to resolve defaults: %w", err)
			}

			path, err := config.WriteConfig(cfg, opts.configFile, force)
			if err != nil {
				if !force {
					return fmt.Errorf("%w, use --force to overwrite", err)
				}
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Configuration file created: %s\n", path)
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite existing configuration file")

	return cmd
}
