package selector

import (
	"sort"

	"github.com/ardanlabs/ledger/foundation/blockchain/database"
)

// classAllocSelect fills the share of block space reserved for each class
// with that class's best paying transactions, then hands the space left
// over to the best remaining transactions of any class.
var classAllocSelect = func(candidates []Candidate, shares map[database.Class]int, maxBytes int) []database.Transaction {

	// Group the candidates by class and sort each group by fee per byte.
	groups := make(map[database.Class][]Candidate)
	for _, c := range candidates {
		groups[c.Tx.Class] = append(groups[c.Tx.Class], c)
	}
	for class := range groups {
		sort.Sort(byFeePerByte(groups[class]))
	}

	var final []database.Transaction
	taken := make(map[database.Hash]bool)
	used := 0

	// Fill each class's allocation. A transaction that doesn't fit in what
	// is left of the allocation is skipped so smaller ones still get in.
	for _, class := range database.PoolClasses {
		budget := maxBytes * shares[class] / 100
		spent := 0

		for _, c := range groups[class] {
			if spent+c.Size > budget || used+c.Size > maxBytes {
				continue
			}

			final = append(final, c.Tx)
			taken[c.Tx.ID] = true
			spent += c.Size
			used += c.Size
		}
	}

	// Redistribute the unused space across every class.
	var rest []Candidate
	for _, c := range candidates {
		if !taken[c.Tx.ID] {
			rest = append(rest, c)
		}
	}
	sort.Sort(byFeePerByte(rest))

	for _, c := range rest {
		if used+c.Size > maxBytes {
			continue
		}

		final = append(final, c.Tx)
		used += c.Size
	}

	return final
}
