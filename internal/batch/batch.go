// Package batch partitions work into near-equal groups for parallel workers.
package batch

// Range is a half-open index interval [Start, End).
type Range struct {
	Start int
	End   int
}

// Len returns the number of indices in r.
func (r Range) Len() int { return r.End - r.Start }

// Ranges partitions n indices into min(workers, n) contiguous ranges whose
// lengths differ by at most one. The earliest ranges take the remainder, so
// 10 indices over 4 workers yields lengths 3,3,2,2.
func Ranges(n, workers int) []Range {
	if n <= 0 {
		return nil
	}
	if workers <= 0 {
		workers = 1
	}
	if workers > n {
		workers = n
	}
	size, rem := n/workers, n%workers
	out := make([]Range, 0, workers)
	start := 0
	for i := 0; i < workers; i++ {
		l := size
		if i < rem {
			l++
		}
		out = append(out, Range{Start: start, End: start + l})
		start += l
	}
	return out
}

// Split groups items the same way Ranges does. Concatenating the groups
// reproduces items in order.
func Split[T any](items []T, workers int) [][]T {
	ranges := Ranges(len(items), workers)
	out := make([][]T, len(ranges))
	for i, r := range ranges {
		out[i] = items[r.Start:r.End:r.End]
	}
	return out
}
