// Package cli implements the sensorlog operator command line.
package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"sensorlog/config"
	"sensorlog/store"
)

func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "sensorlog-cli",
		Short:         "Inspect and maintain a sensorlog ring log",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringP("config", "c", "", "Path to a JSON or YAML config file")
	cmd.PersistentFlags().String("home", ".", "Home directory relative paths resolve against")
	cmd.PersistentFlags().String("data-dir", "", "Override the file backend data directory")
	cmd.PersistentFlags().Bool("debug", false, "Log storage activity to stderr")

	cmd.AddCommand(
		newInfoCmd(),
		newDumpCmd(),
		newGetCmd(),
		newFindCmd(),
		newLatestCmd(),
		newMetaCmd(),
		newAppendCmd(),
		newEraseCmd(),
		newClearRangeCmd(),
		newClearCmd(),
		newRecoverCmd(),
		newExportCmd(),
		newArchiveCmd(),
	)
	return cmd
}

// Execute runs the root command against os.Args.
func Execute() {
	cmd := NewRootCmd()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(cmd.ErrOrStderr(), "Error:", err)
		os.Exit(1)
	}
}

func loadConfig(flags *pflag.FlagSet) (*config.Config, string, error) {
	home, _ := flags.GetString("home")
	path, _ := flags.GetString("config")

	var cfg *config.Config
	if path != "" {
		c, err := config.Load(config.ResolvePath(home, path))
		if err != nil {
			return nil, "", err
		}
		cfg = c
	} else {
		c := config.Default()
		cfg = &c
	}
	if dir, _ := flags.GetString("data-dir"); dir != "" {
		cfg.DataDir = dir
	}
	if err := config.Validate(cfg); err != nil {
		return nil, "", err
	}
	return cfg, home, nil
}

func openStore(flags *pflag.FlagSet) (*store.Store, error) {
	cfg, home, err := loadConfig(flags)
	if err != nil {
		return nil, err
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if debug, _ := flags.GetBool("debug"); debug {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}
	return store.NewStore(cfg, home, logger)
}

// withStore opens the store for the duration of fn.
func withStore(cmd *cobra.Command, fn func(s *store.Store) error) error {
	s, err := openStore(cmd.Flags())
	if err != nil {
		return err
	}
	runErr := fn(s)
	if err := s.Close(); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

func parseTimestamp(arg string) (uint32, error) {
	v, err := strconv.ParseUint(arg, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid timestamp %q: %w", arg, err)
	}
	return uint32(v), nil
}
