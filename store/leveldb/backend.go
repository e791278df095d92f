// Package leveldb is the goleveldb state backend. An empty path opens an
// in-memory database.
package leveldb

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/govm-net/cvm/core"
	"github.com/govm-net/cvm/store"
	"github.com/govm-net/cvm/types"
	"github.com/holiman/uint256"
	"github.com/syndtr/goleveldb/leveldb"
	leveldbstorage "github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// Backend wraps a LevelDB handle. LevelDB handles its own synchronization;
// every Apply is a single write batch.
type Backend struct {
	db *leveldb.DB
}

type storedEvent struct {
	Contract core.Address `json:"contract"`
	Name     string       `json:"name"`
	Payload  []byte       `json:"payload"`
	Height   uint64       `json:"height"`
	TxHash   core.Hash    `json:"tx_hash"`
}

func init() {
	store.Register(store.LevelDBBackendType, func(params map[string]any) (store.Backend, error) {
		path, _ := params["path"].(string)
		return New(path)
	})
}

// New opens or creates a LevelDB database at path.
func New(path string) (*Backend, error) {
	var db *leveldb.DB
	var err error

	if path == "" {
		db, err = leveldb.Open(leveldbstorage.NewMemStorage(), nil)
	} else {
		db, err = leveldb.OpenFile(path, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open database at %s: %w", path, err)
	}
	return &Backend{db: db}, nil
}

func (b *Backend) get(key []byte) ([]byte, bool, error) {
	data, err := b.db.Get(key, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get %x: %w", key, err)
	}
	return data, true, nil
}

func (b *Backend) GetField(contract core.Address, field string) (store.Record, bool, error) {
	data, ok, err := b.get(store.FieldKey(contract, field))
	if err != nil || !ok {
		return store.Record{}, false, err
	}
	return decodeRecord(data)
}

func decodeRecord(data []byte) (store.Record, bool, error) {
	if len(data) < 8 {
		return store.Record{}, false, fmt.Errorf("corrupt field record of %d bytes", len(data))
	}
	return store.Record{
		Height: binary.BigEndian.Uint64(data[:8]),
		Value:  append([]byte(nil), data[8:]...),
	}, true, nil
}

func encodeRecord(height uint64, value []byte) []byte {
	out := binary.BigEndian.AppendUint64(make([]byte, 0, 8+len(value)), height)
	return append(out, value...)
}

func (b *Backend) Fields(contract core.Address) (map[string]store.Record, error) {
	start, limit := store.PrefixRange(store.FieldPrefix(contract))
	iter := b.db.NewIterator(&util.Range{Start: start, Limit: limit}, nil)
	defer iter.Release()

	out := make(map[string]store.Record)
	for iter.Next() {
		rec, _, err := decodeRecord(iter.Value())
		if err != nil {
			return nil, err
		}
		out[store.ExtractFieldName(iter.Key())] = rec
	}
	return out, iter.Error()
}

func (b *Backend) Balance(addr core.Address) (*uint256.Int, error) {
	data, ok, err := b.get(store.BalanceKey(addr))
	if err != nil {
		return nil, err
	}
	if !ok {
		return new(uint256.Int), nil
	}
	return new(uint256.Int).SetBytes(data), nil
}

func (b *Backend) Apply(batch *store.Batch) error {
	wb := new(leveldb.Batch)
	for _, w := range batch.Fields {
		key := store.FieldKey(w.Contract, w.Field)
		if w.Value == nil {
			wb.Delete(key)
			continue
		}
		wb.Put(key, encodeRecord(batch.Height, w.Value))
	}
	for _, w := range batch.Balances {
		wb.Put(store.BalanceKey(w.Address), w.Amount.Bytes())
	}

	var last uint64
	for _, ev := range batch.Events {
		payload, err := core.EncodeValue(ev.Payload)
		if err != nil {
			return fmt.Errorf("failed to encode event payload: %w", err)
		}
		data, err := json.Marshal(storedEvent{
			Contract: ev.Contract,
			Name:     ev.Name,
			Payload:  payload,
			Height:   ev.Height,
			TxHash:   ev.TxHash,
		})
		if err != nil {
			return fmt.Errorf("failed to encode event: %w", err)
		}
		wb.Put(store.EventKey(ev.Sequence), data)
		wb.Put(store.EventIndexKey(ev.Contract, ev.Sequence), nil)
		last = max(last, ev.Sequence)
	}
	if last > 0 {
		wb.Put([]byte(store.KeySequence), binary.BigEndian.AppendUint64(nil, last))
	}

	if err := b.db.Write(wb, nil); err != nil {
		return fmt.Errorf("failed to write batch: %w", err)
	}
	return nil
}

func (b *Backend) Events(contract core.Address) ([]types.Event, error) {
	start, limit := store.PrefixRange(store.EventIndexPrefix(contract))
	iter := b.db.NewIterator(&util.Range{Start: start, Limit: limit}, nil)
	defer iter.Release()

	var out []types.Event
	for iter.Next() {
		seq := store.ExtractSequence(iter.Key())
		data, ok, err := b.get(store.EventKey(seq))
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("event index %d has no event", seq)
		}
		var se storedEvent
		if err := json.Unmarshal(data, &se); err != nil {
			return nil, fmt.Errorf("corrupt event %d: %w", seq, err)
		}
		payload, err := core.DecodeValue(se.Payload)
		if err != nil {
			return nil, fmt.Errorf("corrupt event %d payload: %w", seq, err)
		}
		record, _ := payload.(map[string]any)
		out = append(out, types.Event{
			Sequence: seq,
			Contract: se.Contract,
			Name:     se.Name,
			Payload:  record,
			Height:   se.Height,
			TxHash:   se.TxHash,
		})
	}
	return out, iter.Error()
}

func (b *Backend) LastSequence() (uint64, error) {
	data, ok, err := b.get([]byte(store.KeySequence))
	if err != nil || !ok {
		return 0, err
	}
	return binary.BigEndian.Uint64(data), nil
}

func (b *Backend) PutReceipt(r *types.Receipt) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to marshal receipt: %w", err)
	}
	return b.db.Put(store.ReceiptKey(r.TxHash), data, nil)
}

func (b *Backend) Receipt(hash core.Hash) (*types.Receipt, bool, error) {
	data, ok, err := b.get(store.ReceiptKey(hash))
	if err != nil || !ok {
		return nil, false, err
	}
	var r types.Receipt
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, false, fmt.Errorf("corrupt receipt %s: %w", hash, err)
	}
	return &r, true, nil
}

func (b *Backend) Close() error {
	return b.db.Close()
}
