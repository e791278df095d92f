package repository

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/govm-net/cvm/core"
)

// ErrContractExists 合约已注册
var ErrContractExists = errors.New("contract already exists")

const (
	codeFile     = "code.bin"
	manifestFile = "manifest.json"
	metadataFile = "metadata.json"
)

// Manager 代码管理器
// rootDir 为空时仅保存在内存中
type Manager struct {
	rootDir string // 代码根目录

	mu     sync.RWMutex
	memory map[core.Address]*ContractCode
}

// ContractCode 合约代码信息
type ContractCode struct {
	Address    core.Address // 合约地址
	Deployer   core.Address // 部署者
	Manifest   []byte       // 合约声明(JSON)
	Code       []byte       // 合约代码
	Height     uint64       // 部署高度
	UpdateTime time.Time    // 最后更新时间
	Hash       core.Hash    // 代码哈希
}

// ContractMetadata 合约元数据
type ContractMetadata struct {
	Hash       string       `json:"hash"`        // 代码哈希
	Deployer   core.Address `json:"deployer"`    // 部署者
	Height     uint64       `json:"height"`      // 部署高度
	UpdateTime time.Time    `json:"update_time"` // 更新时间
}

// NewManager 创建代码管理器
func NewManager(rootDir string) (*Manager, error) {
	m := &Manager{rootDir: rootDir}
	if rootDir == "" {
		m.memory = make(map[core.Address]*ContractCode)
		return m, nil
	}
	// 确保根目录存在
	if err := os.MkdirAll(rootDir, 0755); err != nil {
		slog.Error("failed to create root directory", "dir", rootDir, "error", err)
		return nil, fmt.Errorf("failed to create root directory: %w", err)
	}
	return m, nil
}

// RegisterCode 注册新的合约代码
func (m *Manager) RegisterCode(code *ContractCode) error {
	if len(code.Code) == 0 {
		return fmt.Errorf("%w: contract code cannot be empty", core.ErrInvalidArgument)
	}
	code.Hash = core.CodeHash(code.Code)
	if code.UpdateTime.IsZero() {
		code.UpdateTime = time.Now()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.memory != nil {
		if _, ok := m.memory[code.Address]; ok {
			return fmt.Errorf("%w: %s", ErrContractExists, code.Address)
		}
		cp := *code
		cp.Code = append([]byte(nil), code.Code...)
		cp.Manifest = append([]byte(nil), code.Manifest...)
		m.memory[code.Address] = &cp
		return nil
	}

	// 检查合约是否已存在
	contractDir := m.getContractDir(code.Address)
	if _, err := os.Stat(contractDir); err == nil {
		return fmt.Errorf("%w: %s", ErrContractExists, code.Address)
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("failed to check contract directory: %w", err)
	}

	// 创建合约目录
	if err := os.MkdirAll(contractDir, 0755); err != nil {
		return fmt.Errorf("failed to create contract directory: %w", err)
	}

	// 保存代码文件
	if err := m.saveContractFiles(code); err != nil {
		// 删除已创建的目录
		os.RemoveAll(contractDir)
		return fmt.Errorf("failed to save contract files: %w", err)
	}
	return nil
}

// GetCode 获取合约代码
func (m *Manager) GetCode(address core.Address) (*ContractCode, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.memory != nil {
		code, ok := m.memory[address]
		if !ok {
			return nil, fmt.Errorf("%w: %s", core.ErrContractNotFound, address)
		}
		cp := *code
		return &cp, nil
	}
	return m.loadContractCode(address)
}

// RemoveCode 删除合约代码，用于部署失败后的清理
func (m *Manager) RemoveCode(address core.Address) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.memory != nil {
		delete(m.memory, address)
		return nil
	}
	return os.RemoveAll(m.getContractDir(address))
}

// List 返回所有已注册合约地址，按地址排序
func (m *Manager) List() ([]core.Address, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []core.Address
	if m.memory != nil {
		for addr := range m.memory {
			out = append(out, addr)
		}
	} else {
		entries, err := os.ReadDir(m.rootDir)
		if err != nil {
			return nil, fmt.Errorf("failed to list contracts: %w", err)
		}
		for _, e := range entries {
			if !e.IsDir() {
				continue
			}
			addr, err := core.ParseAddress(e.Name())
			if err != nil {
				continue
			}
			out = append(out, addr)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return string(out[i][:]) < string(out[j][:])
	})
	return out, nil
}

// getContractDir 获取合约目录路径
func (m *Manager) getContractDir(address core.Address) string {
	return filepath.Join(m.rootDir, address.String())
}

// saveContractFiles 保存合约相关文件
func (m *Manager) saveContractFiles(code *ContractCode) error {
	dir := m.getContractDir(code.Address)

	if err := os.WriteFile(filepath.Join(dir, codeFile), code.Code, 0644); err != nil {
		return fmt.Errorf("failed to save code: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, manifestFile), code.Manifest, 0644); err != nil {
		return fmt.Errorf("failed to save manifest: %w", err)
	}

	// 创建元数据
	metadata := ContractMetadata{
		Hash:       hex.EncodeToString(code.Hash[:]),
		Deployer:   code.Deployer,
		Height:     code.Height,
		UpdateTime: code.UpdateTime,
	}
	metadataBytes, err := json.MarshalIndent(metadata, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, metadataFile), metadataBytes, 0644); err != nil {
		return fmt.Errorf("failed to save metadata: %w", err)
	}
	return nil
}

// loadContractCode 从文件系统加载合约代码
func (m *Manager) loadContractCode(address core.Address) (*ContractCode, error) {
	dir := m.getContractDir(address)

	code, err := os.ReadFile(filepath.Join(dir, codeFile))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", core.ErrContractNotFound, address)
	} else if err != nil {
		return nil, fmt.Errorf("failed to read code: %w", err)
	}

	manifest, err := os.ReadFile(filepath.Join(dir, manifestFile))
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	// 读取元数据
	metadataBytes, err := os.ReadFile(filepath.Join(dir, metadataFile))
	if err != nil {
		return nil, fmt.Errorf("failed to read metadata: %w", err)
	}
	var metadata ContractMetadata
	if err := json.Unmarshal(metadataBytes, &metadata); err != nil {
		return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
	}

	// 校验哈希
	hash := core.CodeHash(code)
	if hex.EncodeToString(hash[:]) != metadata.Hash {
		return nil, fmt.Errorf("code hash mismatch for contract %s", address)
	}

	return &ContractCode{
		Address:    address,
		Deployer:   metadata.Deployer,
		Manifest:   manifest,
		Code:       code,
		Height:     metadata.Height,
		UpdateTime: metadata.UpdateTime,
		Hash:       hash,
	}, nil
}
