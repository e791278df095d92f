package vm

import (
	"fmt"
	"log/slog"

	"github.com/govm-net/cvm/api"
	"github.com/govm-net/cvm/native"
	"github.com/govm-net/cvm/store"
)

// Config represents engine configuration
type Config struct {
	// Contract related configuration
	Contract       api.ContractConfig `json:"contract"`         // Code size and quota limits
	CodeManagerDir string             `json:"code_manager_dir"` // Code manager storage directory, empty keeps code in memory
	CacheSize      int                `json:"cache_size"`       // Loaded contracts kept in memory

	// State backend
	StoreType   store.BackendType `json:"store_type"`   // Empty selects the registry default
	StoreParams map[string]any    `json:"store_params"` // Backend parameters

	// Runtimes
	Native   *native.Runtime              `json:"-"` // Registry of native contracts, created when nil
	Runtimes []api.Runtime                `json:"-"` // Additional or replacement runtimes
	Address  api.ContractAddressGenerator `json:"-"` // Nil uses api.DefaultContractAddressGenerator

	Logger *slog.Logger `json:"-"`
}

// DefaultConfig returns an in-memory configuration.
func DefaultConfig() *Config {
	return &Config{
		Contract:  api.DefaultContractConfig(),
		CacheSize: 1024,
		StoreType: store.MemoryBackendType,
	}
}

// validateConfig validates the configuration
func validateConfig(config *Config) error {
	if config == nil {
		return fmt.Errorf("config is nil")
	}

	if config.Contract.MaxCodeSize == 0 {
		return fmt.Errorf("invalid max contract size: %d", config.Contract.MaxCodeSize)
	}

	if err := config.Contract.Quota().Validate(); err != nil {
		return fmt.Errorf("invalid quota: %w", err)
	}

	if config.CacheSize <= 0 {
		return fmt.Errorf("invalid cache size: %d", config.CacheSize)
	}

	return nil
}
