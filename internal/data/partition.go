package data

import (
	"fmt"
	"sync"
)

// Partition is a contiguous half-open range of rows.
type Partition struct {
	Index int
	Start int
	End   int
}

func (d *Dataset) Partitions() []Partition {
	return SplitRows(d.nRows, d.partitions)
}

func SplitRows(nRows, n int) []Partition {
	if n < 1 {
		n = 1
	}
	if n > nRows {
		n = nRows
	}
	if n == 0 {
		return nil
	}

	parts := make([]Partition, n)
	size := nRows / n
	rem := nRows % n
	start := 0
	for i := 0; i < n; i++ {
		end := start + size
		if i < rem {
			end++
		}
		parts[i] = Partition{Index: i, Start: start, End: end}
		start = end
	}
	return parts
}

// ParallelRange runs fn for every partition on at most workers goroutines and
// returns the error of the lowest failing partition.
func ParallelRange(parts []Partition, workers int, fn func(p Partition) error) error {
	if len(parts) == 0 {
		return nil
	}
	if workers < 1 {
		workers = 1
	}
	if workers > len(parts) {
		workers = len(parts)
	}

	errs := make([]error, len(parts))
	jobs := make(chan int, len(parts))
	var wg sync.WaitGroup

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				errs[i] = fn(parts[i])
			}
		}()
	}

	for i := range parts {
		jobs <- i
	}
	close(jobs)

	wg.Wait()

	for i, err := range errs {
		if err != nil {
			return fmt.Errorf("partition %d failed: %w", i, err)
		}
	}
	return nil
}

// ForEachPartition runs fn over the dataset's partitions in parallel.
func (d *Dataset) ForEachPartition(fn func(p Partition) error) error {
	return ParallelRange(d.Partitions(), d.partitions, fn)
}
