package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/MeKo-Tech/framescan/internal/config"
	"github.com/MeKo-Tech/framescan/internal/models"
	"github.com/MeKo-Tech/framescan/internal/version"
)

var (
	// Global configuration loader.
	configLoader *config.Loader
	// Global configuration.
	globalConfig *config.Config
	// Configuration file path.
	cfgFile string
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "framescan",
	Short: "Text detection over video frames",
	Long: `framescan walks through a video frame by frame, skips frames that look
the same as the last analysed one and runs an EAST or TextBoxes++ text
detector on the rest. Every frame with text is kept with its boxes.

This tool provides:
- Video processing through ffmpeg or directories of numbered images
- Single-frame detection for images
- An HTTP server with job progress over WebSocket
- High-performance inference with ONNX Runtime

Examples:
  framescan video lecture.mp4
  framescan video lecture.mp4 --format json --output-dir detections/
  framescan frame slide.png
  framescan serve --port 8080`,
	Version: version.String(),
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// GetRootCommand returns the root command for testing purposes.
func GetRootCommand() *cobra.Command {
	return rootCmd
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default is search in ., $HOME, $HOME/.config/framescan, /etc/framescan)")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "verbose output (equivalent to --log-level=debug)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")

	defaultModelsDir := models.DefaultModelsDir
	if envDir := os.Getenv(models.EnvModelsDir); envDir != "" {
		defaultModelsDir = envDir
	}
	rootCmd.PersistentFlags().String("models-dir", defaultModelsDir,
		"directory containing ONNX models (can also be set via "+models.EnvModelsDir+")")

	_ = viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
	_ = viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("models_dir", rootCmd.PersistentFlags().Lookup("models-dir"))

	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		if globalConfig == nil {
			initConfig()
		}
		setupLogging(globalConfig)
	}
}

// setupLogging installs a JSON slog handler on stderr; stdout carries results.
func setupLogging(cfg *config.Config) {
	level := slog.LevelInfo
	if cfg.Verbose {
		level = slog.LevelDebug
	} else {
		switch cfg.LogLevel {
		case "debug":
			level = slog.LevelDebug
		case "warn":
			level = slog.LevelWarn
		case "error":
			level = slog.LevelError
		}
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

// initConfig reads in config file and ENV variables if set. Validation
// waits until the command has bound its flags, since a flag may fix a value
// the file gets wrong; commands validate GetConfig() themselves.
func initConfig() {
	configLoader = config.NewLoader()

	var err error
	if cfgFile != "" {
		globalConfig, err = configLoader.LoadWithFileWithoutValidation(cfgFile)
	} else {
		globalConfig, err = configLoader.LoadWithoutValidation()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}
}

// GetConfig returns the configuration including flags bound after the
// initial load.
func GetConfig() *config.Config {
	if globalConfig == nil {
		initConfig()
	}

	var cfg config.Config
	if err := GetConfigLoader().GetViper().Unmarshal(&cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error unmarshaling updated configuration: %v\n", err)
		return globalConfig
	}
	return &cfg
}

// GetConfigLoader returns the global configuration loader.
func GetConfigLoader() *config.Loader {
	if configLoader == nil {
		configLoader = config.NewLoader()
	}
	return configLoader
}

// flagBinding maps a config key to a command flag.
type flagBinding struct {
	key  string
	flag string
}

// bindFlags binds the command's flags to viper keys. Commands bind in
// PreRunE so that commands sharing a key do not override each other.
func bindFlags(cmd *cobra.Command, bindings []flagBinding) error {
	for _, b := range bindings {
		f := cmd.Flags().Lookup(b.flag)
		if f == nil {
			return fmt.Errorf("unknown flag %q for key %s", b.flag, b.key)
		}
		if err := viper.BindPFlag(b.key, f); err != nil {
			return fmt.Errorf("bind %s: %w", b.key, err)
		}
	}
	return nil
}
