package stream

import (
	"cmp"
	"slices"
)

// SelectRecent keeps at most k streams per group, preferring the most
// recent last-event time. Ties are broken by stream name ascending so the
// result is deterministic. A non-positive k keeps everything.
//
// The result is grouped by group (in order of first appearance) and ranked
// within each group.
func SelectRecent(streams []Discovered, k int) []Discovered {
	var order []string
	byGroup := make(map[string][]Discovered)
	for _, d := range streams {
		g := d.ID.Group
		if _, ok := byGroup[g]; !ok {
			order = append(order, g)
		}
		byGroup[g] = append(byGroup[g], d)
	}

	out := make([]Discovered, 0, len(streams))
	for _, g := range order {
		ranked := byGroup[g]
		slices.SortStableFunc(ranked, compareRecent)
		if k > 0 && len(ranked) > k {
			ranked = ranked[:k]
		}
		out = append(out, ranked...)
	}
	return out
}

func compareRecent(a, b Discovered) int {
	if c := b.LastEventTime.Compare(a.LastEventTime); c != 0 {
		return c
	}
	return cmp.Compare(a.ID.Name, b.ID.Name)
}
