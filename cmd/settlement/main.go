package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/egannguyen/go-kafka-ecommerce/settlement/internal/config"
)

var Version = "dev"

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "settlement",
		Short:         "Group-purchase shipping settlement and payment reconciliation",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file")

	load := func() (*config.Config, error) {
		cfg, err := config.Load(configPath)
		if err != nil {
			return nil, err
		}
		slog.SetDefault(cfg.NewLogger())
		return cfg, nil
	}

	root.AddCommand(serveCmd(load))
	root.AddCommand(issueInvoicesCmd(load))
	root.AddCommand(setShippingCostCmd(load))
	root.AddCommand(previewCmd(load))
	root.AddCommand(auditTailCmd(load))
	return root
}

type configLoader func() (*config.Config, error)
