package dataset

import (
	"math"
	"math/rand"
)

// splitSeed fixes the shuffle so the same input size and fraction always
// produce the same partition.
const splitSeed = 42

// Split partitions rows into train and eval subsets. Eval gets
// round(fraction * len(rows)) rows, train gets the rest; together they cover
// the input exactly once. The fraction is not validated here; out-of-range
// values yield whatever the arithmetic produces.
func Split[T any](rows []T, fraction float64) (train, eval []T) {
	shuffled := make([]T, len(rows))
	copy(shuffled, rows)

	rng := rand.New(rand.NewSource(splitSeed))
	rng.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})

	evalSize := int(math.Round(fraction * float64(len(shuffled))))
	if evalSize < 0 {
		evalSize = 0
	}
	if evalSize > len(shuffled) {
		evalSize = len(shuffled)
	}

	return shuffled[evalSize:], shuffled[:evalSize]
}
