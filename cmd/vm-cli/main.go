package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/govm-net/cvm/core"
	"github.com/govm-net/cvm/lifecycle"
	"github.com/govm-net/cvm/store"
	"github.com/govm-net/cvm/vm"
	"github.com/spf13/cobra"
)

var (
	configFile string
	repoDir    string
	storeType  string
	statePath  string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "vm-cli",
	Short: "VM management command line tool",
	Long: `VM management command line tool for deploying, invoking and querying smart contracts.
Contracts and state are kept on disk, so consecutive commands see each other's effects.`,
	SilenceUsage: true,
}

// fileConfig is the layout of the optional JSON config file.
type fileConfig struct {
	VM        *vm.Config        `json:"vm"`
	Lifecycle *lifecycle.Config `json:"lifecycle"`
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "JSON config file")
	rootCmd.PersistentFlags().StringVarP(&repoDir, "repo", "r", ".cvm/code", "Contract code repository directory")
	rootCmd.PersistentFlags().StringVar(&storeType, "store", string(store.LevelDBBackendType), "State backend: memory, db or leveldb")
	rootCmd.PersistentFlags().StringVar(&statePath, "state", ".cvm/state", "State backend path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Debug logging")

	rootCmd.AddCommand(deployCmd)
	rootCmd.AddCommand(invokeCmd)
	rootCmd.AddCommand(queryCmd)
	rootCmd.AddCommand(eventsCmd)
}

func loadConfig() (*fileConfig, error) {
	cfg := &fileConfig{VM: vm.DefaultConfig(), Lifecycle: lifecycle.DefaultConfig()}
	if configFile != "" {
		data, err := os.ReadFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	cfg.VM.Logger = logger
	cfg.Lifecycle.Logger = logger

	flags := rootCmd.PersistentFlags()
	if flags.Changed("repo") || cfg.VM.CodeManagerDir == "" {
		cfg.VM.CodeManagerDir = repoDir
	}
	if flags.Changed("store") || configFile == "" {
		cfg.VM.StoreType = store.BackendType(storeType)
	}
	if flags.Changed("state") || cfg.VM.StoreParams == nil {
		switch cfg.VM.StoreType {
		case store.DBBackendType:
			cfg.VM.StoreParams = map[string]any{"db_path": statePath}
		case store.LevelDBBackendType:
			cfg.VM.StoreParams = map[string]any{"path": statePath}
		}
	}
	return cfg, nil
}

func openEngine() (*vm.Engine, *fileConfig, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	engine, err := vm.NewEngine(cfg.VM)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create VM engine: %w", err)
	}
	return engine, cfg, nil
}

func parseAddress(flag, s string) (core.Address, error) {
	addr, err := core.ParseAddress(s)
	if err != nil {
		return core.ZeroAddress, fmt.Errorf("invalid --%s: %w", flag, err)
	}
	return addr, nil
}

// parseArgs decodes a JSON array of call arguments.
func parseArgs(argsJSON string) ([]any, error) {
	if argsJSON == "" {
		return nil, nil
	}
	v, err := core.DecodeValue([]byte(argsJSON))
	if err != nil {
		return nil, fmt.Errorf("invalid --args: %w", err)
	}
	args, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("invalid --args: expected a JSON array")
	}
	return args, nil
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}
	fmt.Println(string(data))
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
