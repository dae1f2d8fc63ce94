package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/muurk/flexgate/internal/config"
	"github.com/muurk/flexgate/internal/ui"
)

var forceInit bool

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the configuration file",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a configuration file with default values",
	Long: `Write a configuration file containing every setting at its default.

An existing file is only replaced after confirmation, or when --force is
given.`,
	Example: `  # Write to the user config directory
  flexgate config init

  # Write to a specific path, replacing any existing file
  flexgate config init --config ./flexgate.yaml --force`,
	Args: cobra.NoArgs,
	RunE: runConfigInit,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Long: `Print the configuration that 'flexgate serve' would use, with
defaults filled in for values the file does not set.`,
	Args: cobra.NoArgs,
	RunE: runConfigShow,
}

func init() {
	configInitCmd.Flags().BoolVar(&forceInit, "force", false, "Replace an existing file without asking")

	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	path, err := resolveConfigPath()
	if err != nil {
		return err
	}

	_, err = os.Stat(path)
	switch {
	case err == nil:
		if !forceInit && !ui.Confirm(cmd.InOrStdin(), cmd.OutOrStdout(),
			"CONFIGURATION EXISTS",
			[]string{path, "The file will be replaced with default values"},
			"overwrite") {
			return errors.New("configuration file not written")
		}
	case !errors.Is(err, fs.ErrNotExist):
		return fmt.Errorf("cannot access %s: %w", path, err)
	}

	if err := config.Default().Save(path); err != nil {
		return err
	}

	ui.NewPrinter(cmd.OutOrStdout()).PrintResult(
		ui.NewSuccessResult("Configuration written", ui.Param{Key: "Path", Value: path}))
	return nil
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	path, err := resolveConfigPath()
	if err != nil {
		return err
	}
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	out := cmd.OutOrStdout()
	_, _ = fmt.Fprintf(out, "# %s\n", path)
	_, err = out.Write(data)
	return err
}
