package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/MeKo-Tech/framescan/internal/config"
)

var errNoConfigFile = errors.New("no config file in use")

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration files",
}

var configInitCmd = &cobra.Command{
	Use:   "init [file]",
	Short: "Write a config file with default values",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := "framescan.yaml"
		if len(args) == 1 {
			path = args[0]
		}
		if err := config.GenerateDefaultConfigFile(path); err != nil {
			return err
		}
		_, err := fmt.Fprintf(cmd.OutOrStdout(), "Wrote default configuration to %s\n", path)
		return err
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration as YAML",
	Long: `Print the effective configuration as YAML.

With --resolved the raw settings viper resolved from defaults, the config
file and FRAMESCAN_* environment variables are printed instead, including
keys framescan does not know about.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		if used := GetConfigLoader().GetConfigFileUsed(); used != "" {
			_, _ = fmt.Fprintf(out, "# loaded from %s\n", used)
		} else {
			_, _ = fmt.Fprintf(out, "# %v\n", errNoConfigFile)
		}

		var doc interface{} = GetConfig()
		if resolved, _ := cmd.Flags().GetBool("resolved"); resolved {
			doc = GetConfigLoader().GetResolvedConfig()
		}
		enc := yaml.NewEncoder(out)
		enc.SetIndent(2)
		if err := enc.Encode(doc); err != nil {
			return fmt.Errorf("encode configuration: %w", err)
		}
		return enc.Close()
	},
}

var configValidateCmd = &cobra.Command{
	Use:   "validate [file]",
	Short: "Check a config file, or the one found on the search paths",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		loader := config.NewLoaderWithViper(viper.New())
		var err error
		if len(args) == 1 {
			_, err = loader.LoadWithFile(args[0])
		} else {
			_, err = loader.Load()
		}
		if err != nil {
			return err
		}
		source := loader.GetConfigFileUsed()
		if source == "" {
			source = "defaults and environment"
		}
		_, err = fmt.Fprintf(cmd.OutOrStdout(), "Configuration is valid (%s)\n", source)
		return err
	},
}

var configPathsCmd = &cobra.Command{
	Use:   "paths",
	Short: "List the directories searched for a config file",
	RunE: func(cmd *cobra.Command, args []string) error {
		for _, p := range config.GetConfigSearchPaths() {
			if _, err := fmt.Fprintln(cmd.OutOrStdout(), p); err != nil {
				return err
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd, configShowCmd, configValidateCmd, configPathsCmd)
	configShowCmd.Flags().Bool("resolved", false, "print raw resolved settings instead of the typed configuration")
}
