package salmon

import (
	"fmt"

	"golang.org/x/sync/errgroup"
)

// MinPartitionSize is the smallest range worth giving its own goroutine.
const MinPartitionSize = 1 << 20

// partition is a byte range [Start, Start+Length) of a file's plaintext.
type partition struct {
	Index  int
	Start  int64
	Length int64
}

// splitPartitions divides size bytes into at most n partitions. Every
// partition boundary is a multiple of align so that no chunk or AES block
// is shared by two goroutines. The last partition takes the remainder.
func splitPartitions(size int64, n int, align int64) []partition {
	if align <= 0 {
		align = BlockSize
	}
	if n < 1 {
		n = 1
	}
	if maxN := size / MinPartitionSize; int64(n) > maxN {
		n = int(maxN)
		if n < 1 {
			n = 1
		}
	}
	part := size / int64(n)
	part -= part % align
	if part == 0 {
		return []partition{{Index: 0, Start: 0, Length: size}}
	}
	parts := make([]partition, 0, n)
	var start int64
	for i := 0; i < n; i++ {
		length := part
		if i == n-1 {
			length = size - start
		}
		parts = append(parts, partition{Index: i, Start: start, Length: length})
		start += length
	}
	return parts
}

// runPartitions calls fn for every partition with at most limit running at
// once. A failing partition does not stop the others; the first error is
// returned after all of them finished. Panics are converted to errors.
func runPartitions(parts []partition, limit int, fn func(p partition) error) error {
	if len(parts) == 1 {
		return safeRun(parts[0], fn)
	}
	var g errgroup.Group
	g.SetLimit(limit)
	for _, p := range parts {
		p := p
		g.Go(func() error { return safeRun(p, fn) })
	}
	return g.Wait()
}

func safeRun(p partition, fn func(p partition) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in partition %d: %v", p.Index, r)
		}
	}()
	return fn(p)
}
