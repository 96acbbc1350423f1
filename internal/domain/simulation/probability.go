package simulation

import "math/rand"

// Chance reports whether a probabilistic event with the given percentage
// fires. The draw is uniform in [1, 100] for percent <= 20, but narrows to
// [1, 90] above that, so high percentages fire slightly more often than their
// nominal rate. The bias is deliberate demo behavior carried over from the
// first version of the runner; callers must not depend on exact rates.
func Chance(rng *rand.Rand, percent int) bool {
	limit := 100
	if percent > 20 {
		limit = 90
	}
	draw := rng.Intn(limit) + 1
	return draw <= percent
}
