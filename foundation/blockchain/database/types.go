package database

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

// UnitsPerCoin is the number of base units that make up one coin.
const UnitsPerCoin = 100_000_000

// Amount represents a value in base units.
type Amount uint64

// String implements the fmt.Stringer interface.
func (a Amount) String() string {
	return strconv.FormatUint(uint64(a), 10)
}

// Coins returns the amount as a floating point number of coins for display.
func (a Amount) Coins() float64 {
	return float64(a) / UnitsPerCoin
}

// =============================================================================

// HashLength is the number of bytes in a hash.
const HashLength = 32

// Hash represents a 32 byte SHA3-256 digest.
type Hash [HashLength]byte

// ZeroHash represents a hash code of zeros.
var ZeroHash Hash

// ToHash converts a hex string into a hash.
func ToHash(hex string) (Hash, error) {
	b, err := hexutil.Decode(hex)
	if err != nil {
		return Hash{}, NewStructuralError("hash", "invalid hex encoding: %s", err)
	}

	if len(b) != HashLength {
		return Hash{}, NewMismatchError(KindStructural, "hash", "invalid length", HashLength, len(b))
	}

	var h Hash
	copy(h[:], b)
	return h, nil
}

// IsZero reports whether the hash is all zeros.
func (h Hash) IsZero() bool {
	return h == ZeroHash
}

// Hex returns the 0x prefixed hex encoding of the hash.
func (h Hash) Hex() string {
	return hexutil.Encode(h[:])
}

// String implements the fmt.Stringer interface.
func (h Hash) String() string {
	return h.Hex()
}

// MarshalText implements the encoding.TextMarshaler interface.
func (h Hash) MarshalText() ([]byte, error) {
	return []byte(h.Hex()), nil
}

// UnmarshalText implements the encoding.TextUnmarshaler interface.
func (h *Hash) UnmarshalText(data []byte) error {
	v, err := ToHash(string(data))
	if err != nil {
		return err
	}
	*h = v
	return nil
}

// =============================================================================

// Class identifies the payment class of a transaction.
type Class uint8

// Set of payment classes.
const (
	ClassStandard Class = iota + 1
	ClassSmartContract
	ClassInstant
	ClassCoinbase
)

// PoolClasses are the classes that can be admitted into the mempool, in the
// order block space is allocated to them.
var PoolClasses = []Class{ClassInstant, ClassStandard, ClassSmartContract}

var classNames = map[Class]string{
	ClassStandard:      "standard",
	ClassSmartContract: "smart_contract",
	ClassInstant:       "instant",
	ClassCoinbase:      "coinbase",
}

var classPrefixes = map[Class]string{
	ClassStandard:      "std_",
	ClassSmartContract: "sct_",
	ClassInstant:       "ins_",
	ClassCoinbase:      "cb_",
}

// ParseClass converts a class name or display prefix into a class.
func ParseClass(s string) (Class, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for c, name := range classNames {
		if s == name || s == strings.TrimSuffix(classPrefixes[c], "_") {
			return c, nil
		}
	}

	return 0, NewStructuralError("class", "unknown payment class %q", s)
}

// IsValid reports whether the class is one of the known classes.
func (c Class) IsValid() bool {
	_, exists := classNames[c]
	return exists
}

// String implements the fmt.Stringer interface.
func (c Class) String() string {
	if name, exists := classNames[c]; exists {
		return name
	}
	return fmt.Sprintf("class(%d)", uint8(c))
}

// Prefix returns the display prefix used in front of transaction ids.
func (c Class) Prefix() string {
	return classPrefixes[c]
}

// Confirmations returns the number of blocks a wallet should wait before
// treating a transaction of this class as settled.
func (c Class) Confirmations() int {
	switch c {
	case ClassInstant:
		return 1
	case ClassStandard:
		return 3
	case ClassSmartContract:
		return 6
	case ClassCoinbase:
		return 100
	}
	return 0
}

// MarshalText implements the encoding.TextMarshaler interface.
func (c Class) MarshalText() ([]byte, error) {
	if !c.IsValid() {
		return nil, NewStructuralError("class", "unknown payment class %d", uint8(c))
	}
	return []byte(c.String()), nil
}

// UnmarshalText implements the encoding.TextUnmarshaler interface.
func (c *Class) UnmarshalText(data []byte) error {
	v, err := ParseClass(string(data))
	if err != nil {
		return err
	}
	*c = v
	return nil
}

// TxRef renders the display id of a transaction, the class prefix followed
// by the id without the 0x marker.
func TxRef(class Class, id Hash) string {
	return class.Prefix() + strings.TrimPrefix(id.Hex(), "0x")
}

// ParseTxRef derives the class and id back from a display id.
func ParseTxRef(ref string) (Class, Hash, error) {
	for c, prefix := range classPrefixes {
		if !strings.HasPrefix(ref, prefix) {
			continue
		}

		id, err := ToHash("0x" + strings.TrimPrefix(ref, prefix))
		if err != nil {
			return 0, Hash{}, err
		}
		return c, id, nil
	}

	return 0, Hash{}, NewStructuralError("txref", "missing class prefix in %q", ref)
}

// ParseTxID accepts either the hex id or the display id of a transaction.
func ParseTxID(s string) (Hash, error) {
	if strings.HasPrefix(s, "0x") {
		return ToHash(s)
	}

	_, id, err := ParseTxRef(s)
	return id, err
}

// =============================================================================

// OutPoint identifies a single output of a transaction.
type OutPoint struct {
	TxID  Hash   `json:"tx_id"`
	Index uint32 `json:"index"`
}

// ParseOutPoint converts the "{tx_id hex}:{index}" form into an OutPoint.
func ParseOutPoint(s string) (OutPoint, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return OutPoint{}, NewStructuralError("outpoint", "invalid format %q", s)
	}

	id, err := ToHash(parts[0])
	if err != nil {
		return OutPoint{}, err
	}

	idx, err := strconv.ParseUint(parts[1], 10, 32)
	if err != nil {
		return OutPoint{}, NewStructuralError("outpoint", "invalid index %q", parts[1])
	}

	return OutPoint{TxID: id, Index: uint32(idx)}, nil
}

// String implements the fmt.Stringer interface.
func (op OutPoint) String() string {
	return fmt.Sprintf("%s:%d", op.TxID.Hex(), op.Index)
}
