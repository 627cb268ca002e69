package pipeline

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPartition(t *testing.T) {
	tests := []struct {
		frames  int
		workers int
		want    []Chunk
	}{
		{10, 3, []Chunk{{0, 4}, {4, 7}, {7, 10}}},
		{2, 5, []Chunk{{0, 1}, {1, 2}, {2, 2}, {2, 2}, {2, 2}}},
		{9, 3, []Chunk{{0, 3}, {3, 6}, {6, 9}}},
		{7, 1, []Chunk{{0, 7}}},
		{0, 2, []Chunk{{0, 0}, {0, 0}}},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d frames %d workers", tt.frames, tt.workers), func(t *testing.T) {
			got, err := Partition(tt.frames, tt.workers)
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestPartitionCoversEveryIndexExactlyOnce(t *testing.T) {
	for n := 0; n <= 40; n++ {
		for workers := 1; workers <= 12; workers++ {
			chunks, err := Partition(n, workers)
			require.NoError(t, err)
			require.Len(t, chunks, workers)

			owners := make([]int, n)
			minLen, maxLen := n+1, -1
			next := 0
			for _, c := range chunks {
				require.Equal(t, next, c.Start, "chunks must be contiguous")
				next = c.End
				for i := c.Start; i < c.End; i++ {
					owners[i]++
				}
				minLen = min(minLen, c.Len())
				maxLen = max(maxLen, c.Len())
			}
			require.Equal(t, n, next)
			for i, count := range owners {
				require.Equal(t, 1, count, "frame %d of %d with %d workers", i, n, workers)
			}
			require.LessOrEqual(t, maxLen-minLen, 1)
		}
	}
}

func TestPartitionRejectsInvalidWorkers(t *testing.T) {
	for _, workers := range []int{0, -1, MaxWorkers + 1, 100000000} {
		_, err := Partition(10, workers)
		require.ErrorIs(t, err, ErrConfiguration)
	}
}

func TestChunk(t *testing.T) {
	c := Chunk{Start: 4, End: 7}
	require.Equal(t, 3, c.Len())
	require.False(t, c.Empty())
	require.True(t, c.Contains(4))
	require.False(t, c.Contains(7))
	require.Equal(t, "[4, 7)", c.String())
	require.True(t, Chunk{Start: 2, End: 2}.Empty())
}
