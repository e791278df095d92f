// Package db is the gorm/sqlite state backend.
package db

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/govm-net/cvm/core"
	"github.com/govm-net/cvm/store"
	"github.com/govm-net/cvm/types"
	"github.com/holiman/uint256"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

const (
	defaultDBPath = "./sqlite.db"
)

// DBField represents a committed contract field
type DBField struct {
	gorm.Model
	Contract string `gorm:"column:contract_address;not null;uniqueIndex:idx_contract_field;size:42"`
	Field    string `gorm:"column:field_name;not null;uniqueIndex:idx_contract_field;size:255"`
	Value    []byte `gorm:"column:field_value;type:blob;not null"`
	Height   uint64 `gorm:"column:block_height;not null"`
}

// TableName specifies the table name for DBField
func (DBField) TableName() string {
	return "contract_fields"
}

// DBBalance represents the balance in database
type DBBalance struct {
	Address string `gorm:"column:address;primaryKey;size:42"`
	Amount  string `gorm:"column:balance;not null;default:'0'"` // decimal, 256 bit
}

// TableName specifies the table name for DBBalance
func (DBBalance) TableName() string {
	return "balances"
}

// DBEvent represents an event in the database
type DBEvent struct {
	gorm.Model
	Sequence    uint64 `gorm:"column:sequence;not null;uniqueIndex"`
	BlockHeight uint64 `gorm:"column:block_height;not null;index"`
	TxHash      string `gorm:"column:tx_hash;not null;index;size:66"`
	Contract    string `gorm:"column:contract_address;not null;index;size:42"`
	EventName   string `gorm:"column:event_name;not null;index;size:255"`
	Payload     []byte `gorm:"column:payload;type:blob;not null"` // canonical JSON record
}

// TableName specifies the table name for DBEvent
func (DBEvent) TableName() string {
	return "events"
}

// DBTransaction stores the receipt of an included transaction
type DBTransaction struct {
	gorm.Model
	Hash        string `gorm:"column:tx_hash;not null;uniqueIndex;size:66"`
	BlockHeight uint64 `gorm:"column:block_height;not null;index"`
	TxIndex     int    `gorm:"column:tx_index;not null"`
	Status      string `gorm:"column:status;not null;size:32"`
	Receipt     []byte `gorm:"column:receipt;type:blob;not null"` // JSON encoded types.Receipt
}

// TableName specifies the table name for DBTransaction
func (DBTransaction) TableName() string {
	return "transactions"
}

// Backend implements store.Backend using SQLite with GORM
type Backend struct {
	db *gorm.DB
}

func init() {
	store.Register(store.DBBackendType, func(params map[string]any) (store.Backend, error) {
		return New(params)
	})
}

// New opens (creating if needed) the database at params["db_path"].
func New(params map[string]any) (*Backend, error) {
	dbPath := defaultDBPath
	if path, ok := params["db_path"].(string); ok && path != "" {
		dbPath = path
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create db directory: %w", err)
	}

	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	b := &Backend{db: db}
	if err := b.initDB(); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *Backend) initDB() error {
	err := b.db.AutoMigrate(
		&DBField{},
		&DBBalance{},
		&DBEvent{},
		&DBTransaction{},
	)
	if err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	return nil
}

func (b *Backend) GetField(contract core.Address, field string) (store.Record, bool, error) {
	var row DBField
	result := b.db.Where("contract_address = ? AND field_name = ?", contract.String(), field).First(&row)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return store.Record{}, false, nil
	}
	if result.Error != nil {
		return store.Record{}, false, fmt.Errorf("failed to get field: %w", result.Error)
	}
	return store.Record{Value: row.Value, Height: row.Height}, true, nil
}

func (b *Backend) Fields(contract core.Address) (map[string]store.Record, error) {
	var rows []DBField
	if err := b.db.Where("contract_address = ?", contract.String()).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list fields: %w", err)
	}
	out := make(map[string]store.Record, len(rows))
	for _, row := range rows {
		out[row.Field] = store.Record{Value: row.Value, Height: row.Height}
	}
	return out, nil
}

func (b *Backend) Balance(addr core.Address) (*uint256.Int, error) {
	var row DBBalance
	result := b.db.Where("address = ?", addr.String()).First(&row)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return new(uint256.Int), nil
	}
	if result.Error != nil {
		return nil, fmt.Errorf("failed to get balance: %w", result.Error)
	}
	v, err := uint256.FromDecimal(row.Amount)
	if err != nil {
		return nil, fmt.Errorf("corrupt balance of %s: %w", addr, err)
	}
	return v, nil
}

func (b *Backend) Apply(batch *store.Batch) error {
	return b.db.Transaction(func(tx *gorm.DB) error {
		for _, w := range batch.Fields {
			if w.Value == nil {
				err := tx.Unscoped().
					Where("contract_address = ? AND field_name = ?", w.Contract.String(), w.Field).
					Delete(&DBField{}).Error
				if err != nil {
					return fmt.Errorf("failed to delete field: %w", err)
				}
				continue
			}
			row := DBField{
				Contract: w.Contract.String(),
				Field:    w.Field,
				Value:    w.Value,
				Height:   batch.Height,
			}
			err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "contract_address"}, {Name: "field_name"}},
				DoUpdates: clause.AssignmentColumns([]string{"field_value", "block_height", "updated_at"}),
			}).Create(&row).Error
			if err != nil {
				return fmt.Errorf("failed to write field: %w", err)
			}
		}

		for _, w := range batch.Balances {
			row := DBBalance{Address: w.Address.String(), Amount: w.Amount.Dec()}
			err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "address"}},
				DoUpdates: clause.AssignmentColumns([]string{"balance"}),
			}).Create(&row).Error
			if err != nil {
				return fmt.Errorf("failed to write balance: %w", err)
			}
		}

		for _, ev := range batch.Events {
			payload, err := core.EncodeValue(ev.Payload)
			if err != nil {
				return fmt.Errorf("failed to encode event payload: %w", err)
			}
			row := DBEvent{
				Sequence:    ev.Sequence,
				BlockHeight: ev.Height,
				TxHash:      ev.TxHash.String(),
				Contract:    ev.Contract.String(),
				EventName:   ev.Name,
				Payload:     payload,
			}
			if err := tx.Create(&row).Error; err != nil {
				return fmt.Errorf("failed to save event: %w", err)
			}
		}
		return nil
	})
}

func (b *Backend) Events(contract core.Address) ([]types.Event, error) {
	var rows []DBEvent
	err := b.db.Where("contract_address = ?", contract.String()).Order("sequence asc").Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	out := make([]types.Event, 0, len(rows))
	for _, row := range rows {
		payload, err := core.DecodeValue(row.Payload)
		if err != nil {
			return nil, fmt.Errorf("corrupt event %d: %w", row.Sequence, err)
		}
		record, _ := payload.(map[string]any)
		out = append(out, types.Event{
			Sequence: row.Sequence,
			Contract: contract,
			Name:     row.EventName,
			Payload:  record,
			Height:   row.BlockHeight,
			TxHash:   core.HashFromString(row.TxHash),
		})
	}
	return out, nil
}

func (b *Backend) LastSequence() (uint64, error) {
	var seq uint64
	if err := b.db.Model(&DBEvent{}).Select("COALESCE(MAX(sequence), 0)").Scan(&seq).Error; err != nil {
		return 0, fmt.Errorf("failed to read last sequence: %w", err)
	}
	return seq, nil
}

func (b *Backend) PutReceipt(r *types.Receipt) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to marshal receipt: %w", err)
	}
	row := DBTransaction{
		Hash:        r.TxHash.String(),
		BlockHeight: r.Height,
		TxIndex:     r.Index,
		Status:      r.Status.String(),
		Receipt:     data,
	}
	err = b.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "tx_hash"}},
		DoUpdates: clause.AssignmentColumns([]string{"block_height", "tx_index", "status", "receipt", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("failed to save receipt: %w", err)
	}
	return nil
}

func (b *Backend) Receipt(hash core.Hash) (*types.Receipt, bool, error) {
	var row DBTransaction
	result := b.db.Where("tx_hash = ?", hash.String()).First(&row)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if result.Error != nil {
		return nil, false, fmt.Errorf("failed to get receipt: %w", result.Error)
	}
	var r types.Receipt
	if err := json.Unmarshal(row.Receipt, &r); err != nil {
		return nil, false, fmt.Errorf("corrupt receipt %s: %w", hash, err)
	}
	return &r, true, nil
}

func (b *Backend) Close() error {
	sqlDB, err := b.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
