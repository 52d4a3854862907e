package pricing

import "sort"

// The exchange only accepts American odds from a fixed ladder. Steps widen
// as prices move away from even money, mirrored for negative odds.
var ladderTiers = []struct {
	from, to, step int
}{
	{100, 200, 1},
	{200, 250, 5},
	{250, 300, 10},
	{300, 500, 25},
	{500, 1000, 50},
	{1000, 2500, 100},
	{2500, 10000, 500},
}

// Ladder is the discrete set of American odds the exchange accepts,
// sorted ascending. Built once at package init.
type Ladder struct {
	values []int
}

// NewLadder builds the standard exchange odds ladder.
func NewLadder() *Ladder {
	var magnitudes []int
	for _, t := range ladderTiers {
		for v := t.from; v < t.to; v += t.step {
			magnitudes = append(magnitudes, v)
		}
	}
	magnitudes = append(magnitudes, ladderTiers[len(ladderTiers)-1].to)

	values := make([]int, 0, 2*len(magnitudes))
	for i := len(magnitudes) - 1; i >= 0; i-- {
		values = append(values, -magnitudes[i])
	}
	values = append(values, magnitudes...)
	return &Ladder{values: values}
}

// Contains reports whether v is an allowed odds value.
func (l *Ladder) Contains(v int) bool {
	i := sort.SearchInts(l.values, v)
	return i < len(l.values) && l.values[i] == v
}

// Snap returns the ladder value closest to the given (possibly fractional)
// American odds. Ties break toward zero, i.e. the smaller magnitude wins.
func (l *Ladder) Snap(american float64) int {
	i := sort.Search(len(l.values), func(i int) bool {
		return float64(l.values[i]) >= american
	})

	if i == 0 {
		return l.values[0]
	}
	if i == len(l.values) {
		return l.values[len(l.values)-1]
	}

	lo, hi := l.values[i-1], l.values[i]
	dLo := american - float64(lo)
	dHi := float64(hi) - american
	switch {
	case dLo < dHi:
		return lo
	case dHi < dLo:
		return hi
	default:
		// Equidistant: take the value nearer zero.
		if abs(lo) <= abs(hi) {
			return lo
		}
		return hi
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
