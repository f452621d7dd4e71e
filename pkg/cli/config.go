package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newConfigCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect bgp-shortlived configuration",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration with credentials masked",
		RunE: func(*cobra.Command, []string) error {
			if used := a.v.ConfigFileUsed(); used != "" {
				fmt.Fprintf(a.errOut, "Configuration file: %s\n", used)
			} else {
				fmt.Fprintln(a.errOut, "No configuration file found (using defaults and environment)")
			}
			data, err := yaml.Marshal(a.cfg.Redacted())
			if err != nil {
				return fmt.Errorf("marshal config: %w", err)
			}
			_, err = a.out.Write(data)
			return err
		},
	})

	var force bool
	initCmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Write the effective configuration to a file (default ./config.yaml)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			path := "config.yaml"
			if len(args) == 1 {
				path = args[0]
			}
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("config file already exists: %s (use --force to overwrite)", path)
			}

			data, err := yaml.Marshal(a.cfg)
			if err != nil {
				return fmt.Errorf("marshal config: %w", err)
			}
			header := []byte("# bgp-shortlived configuration\n# Environment variables BGP_SHORTLIVED_<SECTION>_<KEY> override these values.\n\n")
			if err := os.WriteFile(path, append(header, data...), 0o600); err != nil {
				return fmt.Errorf("write config: %w", err)
			}
			fmt.Fprintf(a.errOut, "Created configuration: %s\n", path)
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	cmd.AddCommand(initCmd)
	return cmd
}

func newVersionCommand(version string) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		// No config needed.
		PersistentPreRun: func(*cobra.Command, []string) {},
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "bgp-shortlived %s\n", version)
		},
	}
}
