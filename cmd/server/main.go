package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/automaxprocs/maxprocs"

	"github.com/blues/tgs/internal/config"
	"github.com/blues/tgs/internal/logger"
)

const programName = "tgs"

var configFile string

// setup 加载配置并初始化日志
func setup() (*config.Config, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, err
	}
	if err := logger.Setup(cfg.Log); err != nil {
		return nil, err
	}
	if _, err := maxprocs.Set(maxprocs.Logger(logger.Info)); err != nil {
		logger.Warn("Failed to set GOMAXPROCS: %v", err)
	}
	return cfg, nil
}

func main() {
	rootCmd := &cobra.Command{
		Use:           programName,
		Short:         "Treasury guard service: proposal lifecycle and milestone escrow ledger",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "path to config file")

	rootCmd.AddCommand(serveCommand(), migrateCommand())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", programName, err)
		os.Exit(1)
	}
}
