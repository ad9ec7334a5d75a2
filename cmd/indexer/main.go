package main

import (
	"fmt"
	"os"

	"github.com/chainforge/evmindex/internal/logger"
	"github.com/chainforge/evmindex/internal/runtime"
	"github.com/chainforge/evmindex/pkg/config"
	"github.com/spf13/cobra"
)

const (
	version = "1.0.0"
	banner  = `
╔═══════════════════════════════════════════╗
║              evmindex v%s               ║
║   Multi-chain EVM event indexing runtime  ║
╚═══════════════════════════════════════════╝
`
)

var configPath string

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "indexer",
	Short: "evmindex - reorg-tolerant multi-chain EVM event indexer",
	Long: `evmindex follows one or more EVM chains, backfills their history and
their live head concurrently, and writes matched logs through a
write-through cache into storage that survives chain reorganizations.`,
	Version: version,
	RunE:    runIndexer,
}

var listCmd = &cobra.Command{
	Use:   "list-sources",
	Short: "List the sources declared in the configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadFromFile(configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if len(cfg.Sources) == 0 {
			fmt.Println("(no sources configured)")
			return nil
		}
		for _, s := range cfg.Sources {
			fmt.Printf("  - %s (%s) -> %s\n", s.Name, s.Kind, s.Table)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "path to configuration file")
	rootCmd.AddCommand(listCmd)
}

func runIndexer(cmd *cobra.Command, args []string) error {
	fmt.Printf(banner, version)

	cfg, err := config.LoadFromFile(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, err := logger.NewLogger(cfg.Logging.Level, cfg.Logging.Development)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer log.Close() //nolint:errcheck

	rt := runtime.New(log)
	rt.ListenForSignals()

	log.Infof("indexing %d chain(s) across %d source(s)", len(cfg.Chains), len(cfg.Sources))

	sys, err := buildSystem(rt.Context(), cfg, log)
	if err != nil {
		return fmt.Errorf("build system: %w", err)
	}

	return run(rt, sys)
}
