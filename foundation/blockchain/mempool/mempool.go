// Package mempool maintains the pool of unconfirmed transactions waiting to
// be mined. Admission enforces the fee policy and per-class capacity, and
// the pool hands the best paying transactions to the miner.
package mempool

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/ardanlabs/ledger/foundation/blockchain/database"
	"github.com/ardanlabs/ledger/foundation/blockchain/mempool/selector"
	"github.com/ardanlabs/ledger/foundation/blockchain/utxo"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// UTXOReader provides access to the confirmed unspent outputs.
type UTXOReader interface {
	Get(id database.OutPoint) (utxo.UnspentOutput, bool)
}

// FeePolicy computes the minimum fee a transaction must pay.
type FeePolicy interface {
	RequiredFee(blockSizeMB float64, class database.Class, competingVolume int, txSize int) database.Amount
}

// Resolver is the off-chain process that settles disputed and rebroadcast
// transactions.
type Resolver interface {
	RegisterTransaction(id database.Hash, parentID database.Hash, outputID database.OutPoint, sender common.Address, recipient common.Address, amount database.Amount, fee database.Amount) error
	RefundTransaction(id database.Hash) error
	RebroadcastTransaction(id database.Hash, newFee database.Amount) error
}

// Config represents the values needed to construct a mempool.
type Config struct {
	CapacityBytes    int
	ClassShares      map[database.Class]int
	TTL              time.Duration
	EvictionFloor    float64 // Entries paying at least this fee per byte are never evicted. Zero disables the floor.
	BlockSizeMB      float64
	CoinbaseMaturity uint64
	SelectStrategy   string
	VerifyUnlock     bool
	Resolver         Resolver
	EvHandler        func(v string, args ...any)
	Now              func() time.Time
}

// =============================================================================

// Mempool represents a cache of unconfirmed transactions keyed by id with a
// second index on the outputs they spend.
type Mempool struct {
	mu sync.RWMutex

	cfg      Config
	utxos    UTXOReader
	policy   FeePolicy
	selectFn selector.Func
	ev       func(v string, args ...any)
	now      func() time.Time

	pool       map[database.Hash]*Entry
	spends     map[database.OutPoint]database.Hash
	classBytes map[database.Class]int
	classCount map[database.Class]int
	totalBytes int
}

// New constructs a mempool that resolves inputs against the UTXO reader and
// prices transactions with the fee policy.
func New(utxos UTXOReader, policy FeePolicy, cfg Config) (*Mempool, error) {
	if cfg.SelectStrategy == "" {
		cfg.SelectStrategy = selector.StrategyClassAlloc
	}

	selectFn, err := selector.Retrieve(cfg.SelectStrategy)
	if err != nil {
		return nil, err
	}

	ev := cfg.EvHandler
	if ev == nil {
		ev = func(v string, args ...any) {}
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	mp := Mempool{
		cfg:      cfg,
		utxos:    utxos,
		policy:   policy,
		selectFn: selectFn,
		ev:       ev,
		now:      now,
	}
	mp.reset()

	return &mp, nil
}

// Add validates the transaction against the confirmed outputs and the pool
// and admits it, evicting cheaper entries when the class is out of space.
func (mp *Mempool) Add(tx database.Transaction) (Result, error) {
	if err := tx.Validate(); err != nil {
		return Result{}, err
	}

	if tx.IsCoinbase() {
		return Result{}, database.NewStructuralError("mempool", "coinbase transactions are not accepted")
	}

	// Look up the confirmed outputs before taking the pool lock so the UTXO
	// and mempool locks are never held together.
	type lookup struct {
		uo     utxo.UnspentOutput
		exists bool
	}
	confirmed := make([]lookup, len(tx.Inputs))
	for i, in := range tx.Inputs {
		confirmed[i].uo, confirmed[i].exists = mp.utxos.Get(in.Prev)
	}

	mp.mu.Lock()
	defer mp.mu.Unlock()

	if _, exists := mp.pool[tx.ID]; exists {
		return Result{}, database.NewConsistencyError("mempool", "transaction %s already pooled", tx.Ref())
	}

	var inTotal database.Amount
	var parentID database.Hash
	var maturesAt uint64
	senders := make([]common.Address, len(tx.Inputs))

	for i, in := range tx.Inputs {
		if spender, exists := mp.spends[in.Prev]; exists {
			return Result{}, database.NewConsistencyError("mempool", "double spend: output %s already spent by %s", in.Prev, spender)
		}

		var amount database.Amount

		switch parent, pooled := mp.pool[in.Prev.TxID]; {
		case confirmed[i].exists:
			uo := confirmed[i].uo
			if uo.Locked {
				return Result{}, database.NewConsistencyError("mempool", "output %s is locked", in.Prev)
			}
			amount = uo.Amount
			senders[i] = uo.Owner
			maturesAt = max(maturesAt, uo.MaturesAt(mp.cfg.CoinbaseMaturity))

		case pooled && int(in.Prev.Index) < len(parent.Tx.Outputs):
			if len(tx.Inputs) != 1 {
				return Result{}, database.NewConsistencyError("mempool", "output %s is unconfirmed, only single input children are supported", in.Prev)
			}
			out := parent.Tx.Outputs[in.Prev.Index]
			amount = out.Amount
			senders[i] = out.Owner
			parentID = parent.Tx.ID

		default:
			return Result{}, database.NewConsistencyError("mempool", "output %s does not exist", in.Prev)
		}

		if inTotal+amount < inTotal {
			return Result{}, database.NewStructuralError("mempool", "input total overflows")
		}
		inTotal += amount
	}

	outTotal, err := tx.OutputTotal()
	if err != nil {
		return Result{}, err
	}

	if outTotal > inTotal {
		return Result{}, database.NewMismatchError(database.KindStructural, "mempool", "outputs exceed inputs", inTotal, outTotal)
	}

	if actual := inTotal - outTotal; tx.Fee != actual {
		return Result{}, database.NewMismatchError(database.KindStructural, "mempool", "declared fee does not match inputs minus outputs", actual, tx.Fee)
	}

	if mp.cfg.VerifyUnlock {
		for i, owner := range senders {
			if err := tx.VerifyInput(i, owner); err != nil {
				return Result{}, err
			}
		}
	}

	size := tx.Size()
	required := mp.policy.RequiredFee(mp.cfg.BlockSizeMB, tx.Class, mp.classCount[tx.Class], size)
	if tx.Fee < required {
		return Result{}, database.NewMismatchError(database.KindEconomic, "mempool", "fee below required minimum", required, tx.Fee)
	}

	feePerByte := float64(tx.Fee) / float64(size)

	plan, err := mp.evictFor(tx.Class, size, feePerByte, parentID)
	if err != nil {
		return Result{}, err
	}

	var evicted []database.Hash
	for _, id := range plan {
		evicted = append(evicted, mp.remove(id)...)
	}

	e := Entry{
		Tx:         tx,
		AdmittedAt: mp.now(),
		Fee:        tx.Fee,
		FeePerByte: feePerByte,
		Status:     StatusPending,
		ParentID:   parentID,
		Senders:    senders,
		MaturesAt:  maturesAt,
	}
	mp.insert(&e)

	mp.ev("mempool: Add: tx[%s]: fee[%d]: fpb[%.2f]: child[%t]: evicted[%d]", tx.Ref(), tx.Fee, feePerByte, e.IsChild(), len(evicted))

	res := Result{
		ID:      tx.ID,
		Ref:     tx.Ref(),
		Child:   e.IsChild(),
		Evicted: evicted,
	}

	return res, nil
}

// Rebroadcast raises the priority bid of a pooled transaction by the factor
// and tells the resolver about the new fee. The new fee is returned.
func (mp *Mempool) Rebroadcast(id database.Hash, factor float64) (database.Amount, error) {
	if factor <= 1 {
		return 0, database.NewEconomicError("mempool", "rebroadcast factor %.2f must be greater than 1", factor)
	}

	var newFee database.Amount

	err := func() error {
		mp.mu.Lock()
		defer mp.mu.Unlock()

		e, exists := mp.pool[id]
		if !exists {
			return database.NewConsistencyError("mempool", "transaction %s not found", id)
		}
		if e.Status == StatusConfirmed {
			return database.NewConsistencyError("mempool", "transaction %s is already confirmed", id)
		}

		fee := decimal.NewFromUint64(uint64(e.Fee)).Mul(decimal.NewFromFloat(factor)).Ceil()
		if !fee.IsPositive() || fee.GreaterThan(decimal.NewFromUint64(math.MaxUint64)) {
			return database.NewEconomicError("mempool", "rebroadcast fee overflows")
		}

		newFee = database.Amount(fee.BigInt().Uint64())
		e.Fee = newFee
		e.FeePerByte = float64(newFee) / float64(e.Size())

		return nil
	}()
	if err != nil {
		return 0, err
	}

	mp.ev("mempool: Rebroadcast: tx[%s]: fee[%d]", id, newFee)

	if mp.cfg.Resolver != nil {
		if err := mp.cfg.Resolver.RebroadcastTransaction(id, newFee); err != nil {
			return newFee, err
		}
	}

	return newFee, nil
}

// TriggerDispute moves a pending transaction that outlived the TTL into the
// disputed state and registers it with the resolver.
func (mp *Mempool) TriggerDispute(id database.Hash, now time.Time) error {
	var e Entry

	err := func() error {
		mp.mu.Lock()
		defer mp.mu.Unlock()

		pe, exists := mp.pool[id]
		if !exists {
			return database.NewConsistencyError("mempool", "transaction %s not found", id)
		}
		if pe.Status != StatusPending {
			return database.NewConsistencyError("mempool", "transaction %s is %s", id, pe.Status)
		}
		if age := now.Sub(pe.AdmittedAt); age < mp.cfg.TTL {
			return database.NewEconomicError("mempool", "transaction %s can be disputed in %s", id, mp.cfg.TTL-age)
		}

		pe.Status = StatusDisputed
		e = pe.copy()

		return nil
	}()
	if err != nil {
		return err
	}

	mp.ev("mempool: TriggerDispute: tx[%s]", id)

	if mp.cfg.Resolver == nil {
		return nil
	}

	var sender common.Address
	if len(e.Senders) > 0 {
		sender = e.Senders[0]
	}

	err = mp.cfg.Resolver.RegisterTransaction(id, e.ParentID, e.Tx.Inputs[0].Prev, sender, e.Tx.Outputs[0].Owner, e.Tx.Outputs[0].Amount, e.Fee)
	if err != nil {
		mp.setStatus(id, StatusDisputed, StatusPending)
		return err
	}

	return nil
}

// ResolveDispute settles a disputed transaction. A refund removes the entry
// from the pool, otherwise the entry goes back to pending and may be mined.
func (mp *Mempool) ResolveDispute(id database.Hash, refund bool) error {
	mp.mu.RLock()
	e, exists := mp.pool[id]
	var status Status
	if exists {
		status = e.Status
	}
	mp.mu.RUnlock()

	if !exists {
		return database.NewConsistencyError("mempool", "transaction %s not found", id)
	}
	if status != StatusDisputed {
		return database.NewConsistencyError("mempool", "transaction %s is %s, not disputed", id, status)
	}

	if !refund {
		mp.mu.Lock()
		defer mp.mu.Unlock()

		if e, exists := mp.pool[id]; exists && e.Status == StatusDisputed {
			e.Status = StatusPending
			e.AdmittedAt = mp.now()
		}

		mp.ev("mempool: ResolveDispute: tx[%s]: restored", id)
		return nil
	}

	if mp.cfg.Resolver != nil {
		if err := mp.cfg.Resolver.RefundTransaction(id); err != nil {
			return err
		}
	}

	mp.mu.Lock()
	defer mp.mu.Unlock()

	if e, exists := mp.pool[id]; exists {
		e.Status = StatusRefunded
		mp.remove(id)
	}

	mp.ev("mempool: ResolveDispute: tx[%s]: refunded", id)
	return nil
}

// SweepExpired removes pending entries older than the TTL regardless of fee.
// Disputed entries are left for the resolver.
func (mp *Mempool) SweepExpired(now time.Time) []database.Hash {
	if mp.cfg.TTL <= 0 {
		return nil
	}

	mp.mu.Lock()
	defer mp.mu.Unlock()

	var expired []database.Hash
	for id, e := range mp.pool {
		if e.Status == StatusPending && now.Sub(e.AdmittedAt) > mp.cfg.TTL {
			expired = append(expired, id)
		}
	}

	var removed []database.Hash
	for _, id := range expired {
		removed = append(removed, mp.remove(id)...)
	}

	if len(removed) > 0 {
		mp.ev("mempool: SweepExpired: removed[%d]", len(removed))
	}

	return removed
}

// SelectForBlock returns the transactions for the next block at the
// specified height. Children of unconfirmed parents, disputed entries and
// spenders of immature coinbase outputs are held back.
func (mp *Mempool) SelectForBlock(maxBytes int, height uint64) []database.Transaction {
	var candidates []selector.Candidate

	mp.mu.RLock()
	{
		for _, e := range mp.pool {
			if e.Status != StatusPending {
				continue
			}
			if e.IsChild() && !e.ParentConfirmed {
				continue
			}
			if e.MaturesAt > height {
				continue
			}

			candidates = append(candidates, selector.Candidate{
				Tx:         e.Tx,
				Size:       e.Size(),
				FeePerByte: e.FeePerByte,
			})
		}
	}
	mp.mu.RUnlock()

	// Inputs can be locked or consumed after admission. The UTXO lookups
	// happen outside the pool lock.
	usable := candidates[:0]
	for _, c := range candidates {
		if mp.spendable(c.Tx) {
			usable = append(usable, c)
		}
	}

	if held := len(candidates) - len(usable); held > 0 {
		mp.ev("mempool: SelectForBlock: blk[%d]: held back[%d]: inputs locked or spent", height, held)
	}

	return mp.selectFn(usable, mp.cfg.ClassShares, maxBytes)
}

// Confirm updates the pool after a block was applied. Included entries are
// removed, their children become eligible, and entries that spend an output
// consumed by the block are dropped. Transactions in the skip set were not
// applied and leave the pool untouched.
func (mp *Mempool) Confirm(block database.Block, skip map[database.Hash]struct{}) []database.Hash {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	var removed []database.Hash

	for _, tx := range block.Transactions() {
		if tx.IsCoinbase() {
			continue
		}
		if _, skipped := skip[tx.ID]; skipped {
			continue
		}

		if e, exists := mp.pool[tx.ID]; exists {
			e.Status = StatusConfirmed
			for _, childID := range e.ChildIDs {
				if child, exists := mp.pool[childID]; exists {
					child.ParentConfirmed = true
				}
			}
			e.ChildIDs = nil

			mp.drop(e)
			removed = append(removed, tx.ID)
			continue
		}

		for _, in := range tx.Inputs {
			if spender, exists := mp.spends[in.Prev]; exists {
				removed = append(removed, mp.remove(spender)...)
			}
		}
	}

	if len(removed) > 0 {
		mp.ev("mempool: Confirm: blk[%d]: removed[%d]", block.Header.Height, len(removed))
	}

	return removed
}

// Truncate clears all the transactions from the pool.
func (mp *Mempool) Truncate() {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	mp.reset()
}

// =============================================================================

// Count returns the current number of transactions in the pool.
func (mp *Mempool) Count() int {
	mp.mu.RLock()
	defer mp.mu.RUnlock()

	return len(mp.pool)
}

// Bytes returns the encoded size of every pooled transaction.
func (mp *Mempool) Bytes() int {
	mp.mu.RLock()
	defer mp.mu.RUnlock()

	return mp.totalBytes
}

// ClassCount returns the number of pooled transactions of the class.
func (mp *Mempool) ClassCount(class database.Class) int {
	mp.mu.RLock()
	defer mp.mu.RUnlock()

	return mp.classCount[class]
}

// Get returns a copy of the entry for the specified id.
func (mp *Mempool) Get(id database.Hash) (Entry, error) {
	mp.mu.RLock()
	defer mp.mu.RUnlock()

	e, exists := mp.pool[id]
	if !exists {
		return Entry{}, database.NewConsistencyError("mempool", "transaction %s not found", id)
	}
	return e.copy(), nil
}

// Entries returns copies of every entry in descending fee per byte order.
func (mp *Mempool) Entries() []Entry {
	mp.mu.RLock()
	defer mp.mu.RUnlock()

	list := make([]Entry, 0, len(mp.pool))
	for _, e := range mp.pool {
		list = append(list, e.copy())
	}

	sort.Slice(list, func(i, j int) bool {
		if list[i].FeePerByte != list[j].FeePerByte {
			return list[i].FeePerByte > list[j].FeePerByte
		}
		return list[i].AdmittedAt.Before(list[j].AdmittedAt)
	})

	return list
}

// =============================================================================

func (mp *Mempool) reset() {
	mp.pool = make(map[database.Hash]*Entry)
	mp.spends = make(map[database.OutPoint]database.Hash)
	mp.classBytes = make(map[database.Class]int)
	mp.classCount = make(map[database.Class]int)
	mp.totalBytes = 0
}

// insert adds the entry to every index. The caller must hold the lock.
func (mp *Mempool) insert(e *Entry) {
	mp.pool[e.Tx.ID] = e
	for _, in := range e.Tx.Inputs {
		mp.spends[in.Prev] = e.Tx.ID
	}

	size := e.Size()
	mp.classBytes[e.Tx.Class] += size
	mp.classCount[e.Tx.Class]++
	mp.totalBytes += size

	if e.IsChild() {
		if parent, exists := mp.pool[e.ParentID]; exists {
			parent.ChildIDs = append(parent.ChildIDs, e.Tx.ID)
		}
	}
}

// drop removes a single entry from every index without touching its
// children. The caller must hold the lock.
func (mp *Mempool) drop(e *Entry) {
	delete(mp.pool, e.Tx.ID)
	for _, in := range e.Tx.Inputs {
		if mp.spends[in.Prev] == e.Tx.ID {
			delete(mp.spends, in.Prev)
		}
	}

	size := e.Size()
	mp.classBytes[e.Tx.Class] -= size
	mp.classCount[e.Tx.Class]--
	mp.totalBytes -= size

	if e.IsChild() {
		if parent, exists := mp.pool[e.ParentID]; exists {
			parent.removeChild(e.Tx.ID)
		}
	}
}

// remove drops the entry and its descendants, returning every removed id.
// The caller must hold the lock.
func (mp *Mempool) remove(id database.Hash) []database.Hash {
	e, exists := mp.pool[id]
	if !exists {
		return nil
	}

	var removed []database.Hash
	for _, childID := range append([]database.Hash(nil), e.ChildIDs...) {
		removed = append(removed, mp.remove(childID)...)
	}

	mp.drop(e)
	return append(removed, id)
}

// descendants returns the entry and every transaction that depends on it.
// The caller must hold the lock.
func (mp *Mempool) descendants(id database.Hash) []*Entry {
	e, exists := mp.pool[id]
	if !exists {
		return nil
	}

	list := []*Entry{e}
	for _, childID := range e.ChildIDs {
		list = append(list, mp.descendants(childID)...)
	}
	return list
}

func (mp *Mempool) setStatus(id database.Hash, from Status, to Status) {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	if e, exists := mp.pool[id]; exists && e.Status == from {
		e.Status = to
	}
}

// =============================================================================

// ceiling returns the number of bytes reserved for the class.
func (mp *Mempool) ceiling(class database.Class) int {
	return mp.cfg.CapacityBytes * mp.cfg.ClassShares[class] / 100
}

// fits reports whether size more bytes of the class fit given the current
// byte counts. Space another class leaves unused is lent to this class.
func (mp *Mempool) fits(class database.Class, size int, classBytes map[database.Class]int, total int) bool {
	if mp.cfg.CapacityBytes <= 0 {
		return true
	}
	if total+size > mp.cfg.CapacityBytes {
		return false
	}
	if len(mp.cfg.ClassShares) == 0 {
		return true
	}

	room := mp.ceiling(class) - classBytes[class]
	for _, other := range database.PoolClasses {
		if other == class {
			continue
		}
		if unused := mp.ceiling(other) - classBytes[other]; unused > 0 {
			room += unused
		}
	}

	return size <= room
}

// evictFor plans the evictions needed to admit size bytes of the class
// paying feePerByte. Entries are considered cheapest first and the plan is
// only returned when it frees enough room. The protected entry is the
// parent of the incoming transaction. The caller must hold the lock.
func (mp *Mempool) evictFor(class database.Class, size int, feePerByte float64, protected database.Hash) ([]database.Hash, error) {
	if mp.fits(class, size, mp.classBytes, mp.totalBytes) {
		return nil, nil
	}

	candidates := make([]*Entry, 0, len(mp.pool))
	for _, e := range mp.pool {
		if !mp.evictable(e, feePerByte) || e.Tx.ID == protected {
			continue
		}
		candidates = append(candidates, e)
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].FeePerByte != candidates[j].FeePerByte {
			return candidates[i].FeePerByte < candidates[j].FeePerByte
		}
		return candidates[i].AdmittedAt.After(candidates[j].AdmittedAt)
	})

	classBytes := make(map[database.Class]int, len(mp.classBytes))
	for c, n := range mp.classBytes {
		classBytes[c] = n
	}
	total := mp.totalBytes

	var plan []database.Hash
	planned := make(map[database.Hash]bool)

next:
	for _, e := range candidates {
		if planned[e.Tx.ID] {
			continue
		}

		// A family goes as a unit so every member must be evictable.
		family := mp.descendants(e.Tx.ID)
		for _, d := range family {
			if d.Tx.ID == protected || !mp.evictable(d, feePerByte) {
				continue next
			}
		}

		for _, d := range family {
			if planned[d.Tx.ID] {
				continue
			}
			planned[d.Tx.ID] = true
			classBytes[d.Tx.Class] -= d.Size()
			total -= d.Size()
		}
		plan = append(plan, e.Tx.ID)

		if mp.fits(class, size, classBytes, total) {
			return plan, nil
		}
	}

	return nil, database.NewEconomicError("mempool", "capacity exceeded for class %s and nothing cheaper to evict", class)
}

// evictable reports whether the entry may make room for a transaction paying
// feePerByte.
func (mp *Mempool) evictable(e *Entry, feePerByte float64) bool {
	if mp.cfg.EvictionFloor > 0 && e.FeePerByte >= mp.cfg.EvictionFloor {
		return false
	}
	return e.FeePerByte < feePerByte
}

// spendable reports whether every confirmed input of the transaction still
// exists and is unlocked. It must be called without the pool lock.
func (mp *Mempool) spendable(tx database.Transaction) bool {
	for _, in := range tx.Inputs {
		uo, exists := mp.utxos.Get(in.Prev)
		if !exists || uo.Locked {
			return false
		}
	}
	return true
}
