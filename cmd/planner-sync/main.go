package main

import (
	"fmt"
	"io"
	"log"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"planner-sync/internal/config"
	"planner-sync/internal/repository"
)

var Version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:           "planner-sync",
		Short:         "Sync server for offline planner clients",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(tokenCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// setupLogging sends the standard logger to stdout and, when LOG_FILE is set, to a
// rotating file as well. The returned writer is what the store's SQL logger uses.
func setupLogging(cfg config.Config) (io.Writer, func()) {
	if cfg.LogFile == "" {
		log.SetOutput(os.Stdout)
		return os.Stdout, func() {}
	}
	file := &lumberjack.Logger{
		Filename:   cfg.LogFile,
		MaxSize:    50, // MB
		MaxBackups: 5,
		MaxAge:     28, // days
		Compress:   true,
	}
	out := io.MultiWriter(os.Stdout, file)
	log.SetOutput(out)
	return out, func() { _ = file.Close() }
}

func openStore(cfg config.Config, out io.Writer) (*repository.Store, error) {
	store, err := repository.Open(repository.Options{
		DSN:          cfg.DatabaseURL,
		MaxOpenConns: cfg.DBMaxOpenConns,
		MaxIdleConns: cfg.DBMaxIdleConns,
		SlowScope:    cfg.SlowTxThreshold,
		Logger:       log.New(out, "", log.LstdFlags),
	})
	if err != nil {
		return nil, fmt.Errorf("db: %w", err)
	}
	return store, nil
}
