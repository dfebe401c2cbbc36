package database

import (
	"bytes"
	"encoding/binary"
	"math"
	"math/big"

	"github.com/ardanlabs/ledger/foundation/blockchain/merkle"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// RecordMagic marks the start of every encoded block record.
var RecordMagic = [4]byte{'L', 'D', 'G', 'R'}

// Fixed sizes of the encoded transaction parts.
const (
	txFixedSize  = HashLength + 1 + 8 + 4 + 4 + 4
	txInputSize  = HashLength + crypto.SignatureLength + 4
	txOutputSize = 8 + common.AddressLength
)

// headerSize is the encoded size of the header, magic through tx count.
const headerSize = 4 + 4 + 4 + HashLength + HashLength + 8 + 4 + 32 + common.AddressLength + 4

// =============================================================================

// EncodeTx produces the binary encoding of a transaction.
//
//	id 32 | tag u8 | timestamp u64 | fee u32 | incount u32 | outcount u32 |
//	(prev tx id 32 | unlock proof 65 | output index u32)* | (amount u64 | owner 20)*
func EncodeTx(tx Transaction) []byte {
	var b bytes.Buffer
	b.Grow(tx.Size())

	b.Write(tx.ID[:])
	b.WriteByte(byte(tx.Class))
	binary.Write(&b, binary.BigEndian, tx.TimeStamp)
	binary.Write(&b, binary.BigEndian, uint32(tx.Fee))
	binary.Write(&b, binary.BigEndian, uint32(len(tx.Inputs)))
	binary.Write(&b, binary.BigEndian, uint32(len(tx.Outputs)))

	for _, in := range tx.Inputs {
		var proof [crypto.SignatureLength]byte
		copy(proof[:], in.UnlockProof)

		b.Write(in.Prev.TxID[:])
		b.Write(proof[:])
		binary.Write(&b, binary.BigEndian, in.Prev.Index)
	}

	for _, out := range tx.Outputs {
		binary.Write(&b, binary.BigEndian, uint64(out.Amount))
		b.Write(out.Owner[:])
	}

	return b.Bytes()
}

// DecodeTx parses a transaction encoding. The data must contain exactly one
// transaction.
func DecodeTx(data []byte) (Transaction, error) {
	r := reader{data: data}

	var tx Transaction
	r.read(tx.ID[:])
	tx.Class = Class(r.u8())
	tx.TimeStamp = r.u64()
	tx.Fee = Amount(r.u32())
	inCount := r.u32()
	outCount := r.u32()

	if r.err != nil {
		return Transaction{}, r.err
	}

	exp := txFixedSize + int(inCount)*txInputSize + int(outCount)*txOutputSize
	if exp != len(data) {
		return Transaction{}, NewMismatchError(KindStructural, "codec", "transaction length does not match counts", exp, len(data))
	}

	if inCount > 0 {
		tx.Inputs = make([]Input, inCount)
	}
	for i := range tx.Inputs {
		var proof [crypto.SignatureLength]byte

		r.read(tx.Inputs[i].Prev.TxID[:])
		r.read(proof[:])
		tx.Inputs[i].Prev.Index = r.u32()

		if proof != zeroProof {
			tx.Inputs[i].UnlockProof = proof[:]
		}
	}

	if outCount > 0 {
		tx.Outputs = make([]Output, outCount)
	}
	for i := range tx.Outputs {
		tx.Outputs[i].Amount = Amount(r.u64())
		r.read(tx.Outputs[i].Owner[:])
	}

	if r.err != nil {
		return Transaction{}, r.err
	}

	return tx, nil
}

// canonicalTx produces the bytes the transaction id is computed from. It
// mirrors the encoding without the id and the unlock proofs.
func canonicalTx(tx Transaction) []byte {
	var b bytes.Buffer

	b.WriteByte(byte(tx.Class))
	binary.Write(&b, binary.BigEndian, tx.TimeStamp)
	binary.Write(&b, binary.BigEndian, uint64(tx.Fee))
	binary.Write(&b, binary.BigEndian, uint32(len(tx.Inputs)))
	binary.Write(&b, binary.BigEndian, uint32(len(tx.Outputs)))

	for _, in := range tx.Inputs {
		b.Write(in.Prev.TxID[:])
		binary.Write(&b, binary.BigEndian, in.Prev.Index)
	}

	for _, out := range tx.Outputs {
		binary.Write(&b, binary.BigEndian, uint64(out.Amount))
		b.Write(out.Owner[:])
	}

	return b.Bytes()
}

// =============================================================================

// EncodeBlock produces the binary record for a block.
//
//	len u32 | magic "LDGR" | version u32 | height u32 | prev 32 | merkle 32 |
//	timestamp u64 | nonce u32 | difficulty 32 | miner 20 | txcount u32 |
//	(txlen u32 | tx)*
//
// The leading length counts every byte that follows it.
func EncodeBlock(block Block) ([]byte, error) {
	h := block.Header
	if err := ValidateHeaderFields(h); err != nil {
		return nil, err
	}

	txs := block.Transactions()

	var body bytes.Buffer
	body.Write(RecordMagic[:])
	binary.Write(&body, binary.BigEndian, h.Version)
	binary.Write(&body, binary.BigEndian, uint32(h.Height))
	body.Write(h.PrevBlockHash[:])
	body.Write(h.MerkleRoot[:])
	binary.Write(&body, binary.BigEndian, h.TimeStamp)
	binary.Write(&body, binary.BigEndian, h.Nonce)

	var difficulty [32]byte
	h.Difficulty.FillBytes(difficulty[:])
	body.Write(difficulty[:])
	body.Write(h.MinerAddress[:])
	binary.Write(&body, binary.BigEndian, uint32(len(txs)))

	for _, tx := range txs {
		if tx.Fee > math.MaxUint32 {
			return nil, NewMismatchError(KindStructural, "codec", "fee exceeds the encodable range", uint64(math.MaxUint32), tx.Fee)
		}

		raw := EncodeTx(tx)
		binary.Write(&body, binary.BigEndian, uint32(len(raw)))
		body.Write(raw)
	}

	if uint64(body.Len()) > math.MaxUint32 {
		return nil, NewStructuralError("codec", "record too large: %d bytes", body.Len())
	}

	record := make([]byte, 4, 4+body.Len())
	binary.BigEndian.PutUint32(record, uint32(body.Len()))
	record = append(record, body.Bytes()...)

	return record, nil
}

// DecodeBlock parses a binary block record. The block hash is recomputed
// from the decoded header.
func DecodeBlock(record []byte) (Block, error) {
	r := reader{data: record}

	length := r.u32()
	if r.err != nil {
		return Block{}, r.err
	}
	if int(length) != len(record)-4 {
		return Block{}, NewMismatchError(KindStructural, "codec", "record length mismatch", len(record)-4, length)
	}
	if length < headerSize {
		return Block{}, NewStructuralError("codec", "record too short: %d bytes", length)
	}

	var magic [4]byte
	r.read(magic[:])
	if magic != RecordMagic {
		return Block{}, NewMismatchError(KindStructural, "codec", "bad magic", string(RecordMagic[:]), string(magic[:]))
	}

	var h BlockHeader
	h.Version = r.u32()
	h.Height = uint64(r.u32())
	r.read(h.PrevBlockHash[:])
	r.read(h.MerkleRoot[:])
	h.TimeStamp = r.u64()
	h.Nonce = r.u32()

	var difficulty [32]byte
	r.read(difficulty[:])
	h.Difficulty = new(big.Int).SetBytes(difficulty[:])

	r.read(h.MinerAddress[:])
	txCount := r.u32()

	if r.err != nil {
		return Block{}, r.err
	}

	txs := make([]Transaction, 0, min(int(txCount), len(record)/txFixedSize))
	for i := uint32(0); i < txCount; i++ {
		txLen := r.u32()
		raw := r.next(int(txLen))
		if r.err != nil {
			return Block{}, r.err
		}

		tx, err := DecodeTx(raw)
		if err != nil {
			return Block{}, err
		}
		txs = append(txs, tx)
	}

	if r.pos != len(record) {
		return Block{}, NewStructuralError("codec", "%d trailing bytes in record", len(record)-r.pos)
	}

	tree, err := merkle.NewTree(txs)
	if err != nil {
		return Block{}, NewStructuralError("codec", "unable to build merkle tree: %s", err)
	}

	block := Block{
		Header:     h,
		MerkleTree: tree,
		BlockHash:  CalculateHash(h),
	}

	return block, nil
}

// =============================================================================

// reader walks a byte slice and records the first short read.
type reader struct {
	data []byte
	pos  int
	err  error
}

func (r *reader) next(n int) []byte {
	if r.err != nil {
		return nil
	}

	if n < 0 || r.pos+n > len(r.data) {
		r.err = NewStructuralError("codec", "unexpected end of data at offset %d", r.pos)
		return nil
	}

	b := r.data[r.pos : r.pos+n]
	r.pos += n
	return b
}

func (r *reader) read(dst []byte) {
	copy(dst, r.next(len(dst)))
}

func (r *reader) u8() byte {
	b := r.next(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (r *reader) u32() uint32 {
	b := r.next(4)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint32(b)
}

func (r *reader) u64() uint64 {
	b := r.next(8)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint64(b)
}
