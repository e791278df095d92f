package store

import (
	"fmt"
	"sort"
	"sync"
)

// BackendType represents the type of state backend
type BackendType string

const (
	// MemoryBackendType represents the in-memory backend
	MemoryBackendType BackendType = "memory"
	// DBBackendType represents the gorm/sqlite backend
	DBBackendType BackendType = "db"
	// LevelDBBackendType represents the goleveldb backend
	LevelDBBackendType BackendType = "leveldb"
)

// BackendConstructor creates a new Backend from free-form parameters
type BackendConstructor func(params map[string]any) (Backend, error)

// Registry defines the interface for managing Backend implementations
type Registry interface {
	// Register adds a new Backend implementation to the registry
	Register(bt BackendType, constructor BackendConstructor) error
	// SetDefault sets the default backend type
	SetDefault(bt BackendType) error
	// Open returns a new instance of the specified backend type
	Open(bt BackendType, params map[string]any) (Backend, error)
	// DefaultBackendType returns the current default backend type
	DefaultBackendType() BackendType
	// ListRegistered returns all registered backend types, sorted
	ListRegistered() []BackendType
}

// registry implements the Registry interface
type registry struct {
	mu        sync.RWMutex
	backends  map[BackendType]BackendConstructor
	defaultBt BackendType
}

var defaultRegistry Registry = NewRegistry()

// NewRegistry returns an empty registry.
func NewRegistry() Registry {
	return &registry{backends: make(map[BackendType]BackendConstructor)}
}

// GetRegistry returns the global Registry instance
func GetRegistry() Registry {
	return defaultRegistry
}

func (r *registry) Register(bt BackendType, constructor BackendConstructor) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.backends[bt]; exists {
		return fmt.Errorf("backend type %s already registered", bt)
	}
	r.backends[bt] = constructor
	return nil
}

func (r *registry) SetDefault(bt BackendType) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.backends[bt]; !exists {
		return fmt.Errorf("backend type %s not registered", bt)
	}
	r.defaultBt = bt
	return nil
}

func (r *registry) Open(bt BackendType, params map[string]any) (Backend, error) {
	if bt == "" {
		bt = r.DefaultBackendType()
	}
	r.mu.RLock()
	constructor, exists := r.backends[bt]
	r.mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("backend type %s not found", bt)
	}
	backend, err := constructor(params)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s backend: %w", bt, err)
	}
	return backend, nil
}

func (r *registry) DefaultBackendType() BackendType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.defaultBt == "" {
		return MemoryBackendType
	}
	return r.defaultBt
}

func (r *registry) ListRegistered() []BackendType {
	r.mu.RLock()
	defer r.mu.RUnlock()

	list := make([]BackendType, 0, len(r.backends))
	for bt := range r.backends {
		list = append(list, bt)
	}
	sort.Slice(list, func(i, j int) bool { return list[i] < list[j] })
	return list
}

// Package level functions that delegate to defaultRegistry

// Register adds a new Backend implementation to the global registry
func Register(bt BackendType, constructor BackendConstructor) error {
	return GetRegistry().Register(bt, constructor)
}

// SetDefault sets the global default backend type
func SetDefault(bt BackendType) error {
	return GetRegistry().SetDefault(bt)
}

// Open returns a new backend of the given type; empty means the default
func Open(bt BackendType, params map[string]any) (Backend, error) {
	return GetRegistry().Open(bt, params)
}

// ListRegistered returns all globally registered backend types
func ListRegistered() []BackendType {
	return GetRegistry().ListRegistered()
}
