package store

import (
	"encoding/binary"

	"github.com/govm-net/cvm/core"
)

// Key prefixes used by flat key-value backends.
const (
	PrefixField      = 'f'
	PrefixBalance    = 'b'
	PrefixEvent      = 'e'
	PrefixEventIndex = 'x'
	PrefixReceipt    = 'r'
	KeySequence      = "s"
)

// FieldKey generates a key for storing a field value.
// Format: 'f' + contract_address + field_name
func FieldKey(contract core.Address, field string) []byte {
	key := append([]byte{PrefixField}, contract[:]...)
	return append(key, field...)
}

// FieldPrefix is the prefix of every field of a contract.
func FieldPrefix(contract core.Address) []byte {
	return append([]byte{PrefixField}, contract[:]...)
}

// ExtractFieldName returns the field name of a FieldKey.
func ExtractFieldName(key []byte) string {
	if len(key) < 1+len(core.Address{}) {
		return ""
	}
	return string(key[1+len(core.Address{}):])
}

// BalanceKey format: 'b' + address
func BalanceKey(addr core.Address) []byte {
	return append([]byte{PrefixBalance}, addr[:]...)
}

// EventKey format: 'e' + big endian sequence
func EventKey(seq uint64) []byte {
	key := make([]byte, 9)
	key[0] = PrefixEvent
	binary.BigEndian.PutUint64(key[1:], seq)
	return key
}

// EventIndexKey format: 'x' + contract_address + big endian sequence
func EventIndexKey(contract core.Address, seq uint64) []byte {
	key := append([]byte{PrefixEventIndex}, contract[:]...)
	return binary.BigEndian.AppendUint64(key, seq)
}

// EventIndexPrefix is the prefix of every index entry of a contract.
func EventIndexPrefix(contract core.Address) []byte {
	return append([]byte{PrefixEventIndex}, contract[:]...)
}

// ExtractSequence returns the sequence number at the end of an event key
// or event index key.
func ExtractSequence(key []byte) uint64 {
	if len(key) < 8 {
		return 0
	}
	return binary.BigEndian.Uint64(key[len(key)-8:])
}

// ReceiptKey format: 'r' + tx hash
func ReceiptKey(hash core.Hash) []byte {
	return append([]byte{PrefixReceipt}, hash[:]...)
}

// PrefixRange returns key range that corresponds to the given prefix.
// It returns start (inclusive) and end (exclusive) keys for iteration.
func PrefixRange(prefix []byte) ([]byte, []byte) {
	if len(prefix) == 0 {
		return nil, nil
	}

	end := make([]byte, len(prefix))
	copy(end, prefix)

	for i := len(end) - 1; i >= 0; i-- {
		if end[i] < 0xff {
			end[i]++
			return prefix, end[:i+1]
		}
		// all remaining bytes were 0xff: no upper bound
		if i == 0 {
			return prefix, nil
		}
	}
	return prefix, end
}
