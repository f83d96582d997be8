package batch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sizes[T any](groups [][]T) []int {
	out := make([]int, len(groups))
	for i, g := range groups {
		out[i] = len(g)
	}
	return out
}

func TestSplit_RemainderGoesToFirstGroups(t *testing.T) {
	items := []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}
	groups := Split(items, 4)

	assert.Equal(t, []int{3, 3, 2, 2}, sizes(groups))

	var joined []int
	for _, g := range groups {
		joined = append(joined, g...)
	}
	assert.Equal(t, items, joined)
}

func TestSplit_EdgeCases(t *testing.T) {
	tests := []struct {
		name    string
		n       int
		workers int
		want    []int
	}{
		{name: "more workers than items", n: 3, workers: 8, want: []int{1, 1, 1}},
		{name: "even split", n: 8, workers: 4, want: []int{2, 2, 2, 2}},
		{name: "single worker", n: 5, workers: 1, want: []int{5}},
		{name: "zero workers treated as one", n: 5, workers: 0, want: []int{5}},
		{name: "empty input", n: 0, workers: 4, want: []int{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			items := make([]string, tt.n)
			assert.Equal(t, tt.want, sizes(Split(items, tt.workers)))
		})
	}
}

func TestRanges_AreContiguous(t *testing.T) {
	ranges := Ranges(17, 5)
	require.Len(t, ranges, 5)

	next := 0
	for _, r := range ranges {
		assert.Equal(t, next, r.Start)
		next = r.End
	}
	assert.Equal(t, 17, next)
	assert.Equal(t, 4, ranges[0].Len())
	assert.Equal(t, 3, ranges[4].Len())
}

func TestSplit_GroupsDoNotAlias(t *testing.T) {
	groups := Split([]int{1, 2, 3, 4}, 2)
	groups[0] = append(groups[0], 99)
	assert.Equal(t, []int{3, 4}, groups[1])
}
