package database

import (
	"bytes"
	"crypto/ecdsa"
	"math"
	"time"

	"github.com/ardanlabs/ledger/foundation/blockchain/signature"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// Input references an unspent output and carries the proof that unlocks it.
type Input struct {
	Prev        OutPoint      `json:"prev"`
	UnlockProof hexutil.Bytes `json:"unlock_proof,omitempty"`
}

// Output assigns an amount to an owner.
type Output struct {
	Owner  common.Address `json:"owner"`
	Amount Amount         `json:"amount"`
}

// zeroProof is the encoded form of an input without an unlock proof.
var zeroProof [crypto.SignatureLength]byte

// =============================================================================

// Transaction moves value from a set of unspent outputs to a set of new
// outputs. The declared fee is the difference between the two.
type Transaction struct {
	ID        Hash     `json:"id"`
	Class     Class    `json:"class"`
	Inputs    []Input  `json:"inputs"`
	Outputs   []Output `json:"outputs"`
	TimeStamp uint64   `json:"timestamp"`
	Fee       Amount   `json:"fee"`
}

// NewTransaction constructs an unsigned transaction for the specified class
// and computes its id.
func NewTransaction(class Class, prevs []OutPoint, outputs []Output, fee Amount) (Transaction, error) {
	inputs := make([]Input, len(prevs))
	for i, prev := range prevs {
		inputs[i] = Input{Prev: prev}
	}

	tx := Transaction{
		Class:     class,
		Inputs:    inputs,
		Outputs:   outputs,
		TimeStamp: uint64(time.Now().UTC().UnixNano()),
		Fee:       fee,
	}
	tx.ID = tx.ComputeID()

	if err := tx.Validate(); err != nil {
		return Transaction{}, err
	}

	return tx, nil
}

// NewCoinbase constructs the transaction that pays the block reward and the
// collected fees to the miner.
func NewCoinbase(miner common.Address, amount Amount, timestamp uint64) Transaction {
	tx := Transaction{
		Class:     ClassCoinbase,
		Outputs:   []Output{{Owner: miner, Amount: amount}},
		TimeStamp: timestamp,
	}
	tx.ID = tx.ComputeID()

	return tx
}

// ComputeID hashes the canonical serialization of the transaction. The id
// and the unlock proofs are not part of the hashed data.
func (tx Transaction) ComputeID() Hash {
	return signature.Hash(canonicalTx(tx))
}

// Sign produces a copy of the transaction with every input unlocked by the
// specified private key.
func (tx Transaction) Sign(privateKey *ecdsa.PrivateKey) (Transaction, error) {
	signed := tx.clone()

	for i := range signed.Inputs {
		sig, err := signature.Sign(signed.ID, privateKey)
		if err != nil {
			return Transaction{}, NewStructuralError("transaction", "unable to sign input %d: %s", i, err)
		}
		signed.Inputs[i].UnlockProof = sig
	}

	return signed, nil
}

// VerifyInput checks the unlock proof of the specified input was produced by
// the owner of the output it spends.
func (tx Transaction) VerifyInput(index int, owner common.Address) error {
	if index < 0 || index >= len(tx.Inputs) {
		return NewStructuralError("transaction", "input index %d out of range", index)
	}

	addr, err := signature.FromAddress(tx.ID, tx.Inputs[index].UnlockProof)
	if err != nil {
		return NewStructuralError("transaction", "input %d: invalid unlock proof: %s", index, err)
	}

	if addr != owner {
		return NewMismatchError(KindStructural, "transaction", "unlock proof not signed by output owner", owner.Hex(), addr.Hex())
	}

	return nil
}

// Validate performs the structural checks that don't require any knowledge
// of the outputs being spent.
func (tx Transaction) Validate() error {
	if !tx.Class.IsValid() {
		return NewStructuralError("transaction", "unknown payment class %d", uint8(tx.Class))
	}

	switch tx.Class {
	case ClassCoinbase:
		if len(tx.Inputs) != 0 || len(tx.Outputs) != 1 {
			return NewStructuralError("transaction", "coinbase must have no inputs and one output, got %d/%d", len(tx.Inputs), len(tx.Outputs))
		}
		if tx.Fee != 0 {
			return NewMismatchError(KindStructural, "transaction", "coinbase must not declare a fee", 0, tx.Fee)
		}

	default:
		if len(tx.Inputs) == 0 || len(tx.Outputs) == 0 {
			return NewStructuralError("transaction", "must have at least one input and one output, got %d/%d", len(tx.Inputs), len(tx.Outputs))
		}
	}

	if tx.Fee > math.MaxUint32 {
		return NewMismatchError(KindStructural, "transaction", "fee exceeds the encodable range", uint64(math.MaxUint32), tx.Fee)
	}

	seen := make(map[OutPoint]struct{}, len(tx.Inputs))
	for i, in := range tx.Inputs {
		if _, exists := seen[in.Prev]; exists {
			return NewStructuralError("transaction", "input %d spends %s twice", i, in.Prev)
		}
		seen[in.Prev] = struct{}{}

		if n := len(in.UnlockProof); n != 0 && n != crypto.SignatureLength {
			return NewMismatchError(KindStructural, "transaction", "invalid unlock proof length", crypto.SignatureLength, n)
		}

		// The codec reserves an all zero proof for an unsigned input.
		if len(in.UnlockProof) != 0 && bytes.Equal(in.UnlockProof, zeroProof[:]) {
			return NewStructuralError("transaction", "input %d carries an all zero unlock proof", i)
		}
	}

	for i, out := range tx.Outputs {
		if out.Amount == 0 {
			return NewStructuralError("transaction", "output %d has a zero amount", i)
		}
	}

	if _, err := tx.OutputTotal(); err != nil {
		return err
	}

	if id := tx.ComputeID(); id != tx.ID {
		return NewMismatchError(KindStructural, "transaction", "id does not match contents", id, tx.ID)
	}

	return nil
}

// OutputTotal sums the output amounts, failing on overflow.
func (tx Transaction) OutputTotal() (Amount, error) {
	var total Amount
	for _, out := range tx.Outputs {
		if total+out.Amount < total {
			return 0, NewStructuralError("transaction", "output total overflows")
		}
		total += out.Amount
	}

	return total, nil
}

// IsCoinbase reports whether this is a coinbase transaction.
func (tx Transaction) IsCoinbase() bool {
	return tx.Class == ClassCoinbase
}

// Size returns the number of bytes in the binary encoding.
func (tx Transaction) Size() int {
	return txFixedSize + len(tx.Inputs)*txInputSize + len(tx.Outputs)*txOutputSize
}

// OutPoint returns the identity of the output at the specified index.
func (tx Transaction) OutPoint(index int) OutPoint {
	return OutPoint{TxID: tx.ID, Index: uint32(index)}
}

// Hash implements the merkle Hashable interface. The leaf commits to the full
// encoding, unlock proofs included.
func (tx Transaction) Hash() ([]byte, error) {
	h := signature.Hash(EncodeTx(tx))
	return h[:], nil
}

// Equals implements the merkle Hashable interface.
func (tx Transaction) Equals(otherTx Transaction) bool {
	return tx.ID == otherTx.ID
}

// Ref returns the display id with the class prefix.
func (tx Transaction) Ref() string {
	return TxRef(tx.Class, tx.ID)
}

// String implements the fmt.Stringer interface for logging.
func (tx Transaction) String() string {
	return tx.Ref()
}

func (tx Transaction) clone() Transaction {
	c := tx
	c.Inputs = make([]Input, len(tx.Inputs))
	copy(c.Inputs, tx.Inputs)
	c.Outputs = make([]Output, len(tx.Outputs))
	copy(c.Outputs, tx.Outputs)

	return c
}
