package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/tmykhalevych/event-tracer/internal/config"
)

func newConfigCommand(opts *options) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the tracer configuration",
		Long: `Show or validate the effective tracer configuration.

Configuration sources (in priority order):
  1. Command line flags
  2. Environment variables (EVTRACE_TRACER_*)
  3. Configuration file (tracer section)
  4. Defaults`,
		Example: `  # Show the effective configuration
  evtrace config show

  # Check a configuration file
  evtrace --config ./evtrace.yaml config validate`,
	}

	var format string
	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective tracer configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.FromViper(opts.v)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			switch format {
			case "json":
				data, err := json.MarshalIndent(struct {
					Tracer *config.TracerConfig `json:"tracer"`
				}{cfg}, "", "  ")
				if err != nil {
					return err
				}
				fmt.Fprintln(out, string(data))
			case "yaml", "":
				data, err := yaml.Marshal(struct {
					Tracer *config.TracerConfig `yaml:"tracer"`
				}{cfg})
				if err != nil {
					return err
				}
				fmt.Fprint(out, string(data))
				fmt.Fprintf(out, "# %d events per registry, %d message slabs\n", cfg.RegistryCapacity(), cfg.MessageSlabs())
			default:
				return fmt.Errorf("invalid output format: %s (must be one of: yaml, json)", format)
			}
			return nil
		},
	}
	showCmd.Flags().StringVarP(&format, "format", "f", "yaml", "output format (yaml, json)")

	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate the effective tracer configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.FromViper(opts.v)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Configuration is valid: %d events per registry, %d message slabs\n",
				cfg.RegistryCapacity(), cfg.MessageSlabs())
			return nil
		},
	}

	configCmd.AddCommand(showCmd, validateCmd)
	return configCmd
}
