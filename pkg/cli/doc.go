// Package cli provides common helpers for the voicerelay command line.
//
// This package includes:
//   - YAML configuration files under ~/.giztoy/<app>/
//   - Output formatting (YAML, JSON, table)
//   - Secret masking and duration formatting for display
//
// Example usage:
//
//	var cfg MyConfig
//	found, err := cli.LoadYAML(path, &cfg)
//
//	cli.Output(result, cli.OutputOptions{
//	    Format: cli.FormatJSON,
//	    File:   outputPath,
//	})
package cli
