package spu

import "sync"

// rateTableSize is the number of envelope step entries. Entries below
// rateTableBase are zero so that the slowest rate settings freeze the
// envelope.
const (
	rateTableSize = 160
	rateTableBase = 32
	rateTableMax  = 0x3FFFFFFF
)

var (
	rateTable     [rateTableSize]uint32
	rateTableOnce sync.Once
)

// buildRateTable fills the envelope step table. Steps start at 3 and the
// increment doubles every four entries, saturating at rateTableMax.
func buildRateTable(t *[rateTableSize]uint32) {
	var r, rs, rd uint32 = 3, 1, 0
	for i := rateTableBase; i < rateTableSize; i++ {
		if r < rateTableMax {
			r += rs
			rd++
			if rd == 5 {
				rd = 1
				rs *= 2
			}
		}
		if r > rateTableMax {
			r = rateTableMax
		}
		t[i] = r
	}
}

// RateTable returns the shared envelope step table. It is built on first
// use and never modified afterwards.
func RateTable() *[rateTableSize]uint32 {
	rateTableOnce.Do(func() {
		buildRateTable(&rateTable)
	})
	return &rateTable
}

// rateStep returns the table entry at idx as a signed step.
func rateStep(idx int) int32 {
	return int32(RateTable()[idx])
}
