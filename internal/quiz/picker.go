package quiz

import (
	"math/rand/v2"
	"time"

	"psp.com/species-quiz/backend/internal/species"
)

// PickRecord returns a uniformly random record from records.
func PickRecord(r *rand.Rand, records []species.Record) (species.Record, error) {
	if len(records) == 0 {
		return nil, ErrNoRecords
	}
	return records[r.IntN(len(records))], nil
}

func newRand(seed int64) *rand.Rand {
	return rand.New(rand.NewPCG(uint64(seed), uint64(time.Now().UnixNano())))
}
