package commands

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/haivivi/voicerelay/cmd/voicerelay/internal/config"
	"github.com/haivivi/voicerelay/pkg/cli"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect and initialize the configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration with secrets masked",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := cli.ParseFormat(formatOutput)
		if err != nil {
			return err
		}
		if format == cli.FormatTable {
			return errors.New("config cannot be shown as a table")
		}
		cfg, err := GetConfig()
		if err != nil {
			return err
		}
		return cli.Output(cfg.Redacted(), cli.OutputOptions{
			Format: format,
			Indent: "  ",
			Writer: cmd.OutOrStdout(),
		})
	},
}

var initForce bool

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a config file with the default settings",
	Long: `Write a config file with the default settings to --config, or to
~/.giztoy/voicerelay/config.yaml. The API key is left out; keep it in the
environment or in .env.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		paths, err := cli.NewPaths(config.AppName)
		if err != nil {
			return err
		}
		path := configFile
		if path == "" {
			path = paths.ConfigFile()
		}
		if _, err := os.Stat(path); err == nil && !initForce {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		}
		if err := cli.SaveYAML(path, config.Default(paths)); err != nil {
			return err
		}
		cli.PrintSuccess("Wrote %s", path)
		return nil
	},
}

func init() {
	configShowCmd.Flags().StringVarP(&formatOutput, "output", "o", "yaml", "output format (yaml, json)")
	configInitCmd.Flags().BoolVar(&initForce, "force", false, "overwrite an existing file")

	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configInitCmd)
	rootCmd.AddCommand(configCmd)
}
