package selector

import (
	"sort"

	"github.com/ardanlabs/ledger/foundation/blockchain/database"
)

// feeRateSelect ignores the class shares and takes the best paying
// transactions that fit.
var feeRateSelect = func(candidates []Candidate, shares map[database.Class]int, maxBytes int) []database.Transaction {
	list := make([]Candidate, len(candidates))
	copy(list, candidates)
	sort.Sort(byFeePerByte(list))

	var final []database.Transaction
	used := 0

	for _, c := range list {
		if used+c.Size > maxBytes {
			continue
		}

		final = append(final, c.Tx)
		used += c.Size
	}

	return final
}
