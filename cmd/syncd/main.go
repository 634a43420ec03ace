package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jubeeworld/synckit/internal/config"
	"github.com/jubeeworld/synckit/internal/daemon"
	"github.com/jubeeworld/synckit/internal/utils"
	"github.com/jubeeworld/synckit/internal/version"
)

var rootCmd = &cobra.Command{
	Use:     "syncd",
	Short:   "SyncKit offline-first sync daemon",
	Version: version.Detailed(),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		cmd.SilenceUsage = true

		d, err := daemon.New(cfg)
		if err != nil {
			return err
		}

		defer slog.Info("bye")
		return d.Start(cmd.Context())
	},
}

func init() {
	rootCmd.Flags().SortFlags = false
	rootCmd.Flags().StringP("config", "c", config.DefaultConfigPath, "config file path")
	rootCmd.Flags().StringP("server", "s", "", "sync server URL")
	rootCmd.Flags().StringP("user", "u", "", "user id records are synced for")
	rootCmd.Flags().StringP("datadir", "d", "", "local data directory")
	rootCmd.Flags().Bool("verbose", false, "debug logging")

	viper.BindPFlag("config", rootCmd.Flags().Lookup("config"))
	viper.BindPFlag("server_url", rootCmd.Flags().Lookup("server"))
	viper.BindPFlag("user_id", rootCmd.Flags().Lookup("user"))
	viper.BindPFlag("data_dir", rootCmd.Flags().Lookup("datadir"))
	viper.BindPFlag("verbose", rootCmd.Flags().Lookup("verbose"))
	viper.SetEnvPrefix("SYNCKIT")
	viper.AutomaticEnv()
}

// loadConfig reads the config file, then lets flags and SYNCKIT_* env vars
// override individual fields.
func loadConfig() (*config.Config, error) {
	path, err := utils.ResolvePath(viper.GetString("config"))
	if err != nil {
		return nil, err
	}
	if !utils.FileExists(path) {
		return nil, fmt.Errorf("config file not found at %s", path)
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}

	if server := viper.GetString("server_url"); server != "" {
		cfg.ServerURL = server
	}
	if user := viper.GetString("user_id"); user != "" {
		cfg.UserID = user
	}
	if dataDir := viper.GetString("data_dir"); dataDir != "" {
		resolved, err := utils.ResolvePath(dataDir)
		if err != nil {
			return nil, err
		}
		cfg.DataDir = resolved
	}

	return cfg, cfg.Validate()
}

func setupLogger() {
	level := slog.LevelInfo
	if viper.GetBool("verbose") {
		level = slog.LevelDebug
	}
	handler := tint.NewHandler(os.Stdout, &tint.Options{
		Level:      level,
		TimeFormat: "2006-01-02T15:04:05.000Z07:00",
		NoColor:    !isatty.IsTerminal(os.Stdout.Fd()),
	})
	slog.SetDefault(slog.New(handler))
}

func main() {
	cobra.OnInitialize(setupLogger)

	ctx, stop := signal.NotifyContext(
		context.Background(),
		os.Interrupt, syscall.SIGTERM,
	)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
