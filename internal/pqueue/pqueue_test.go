package pqueue

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestQueue_HighestPriorityFirst(t *testing.T) {
	q := New[string]()
	q.Enqueue("low", 1)
	q.Enqueue("high", 100)
	q.Enqueue("mid", 50)

	v, ok := q.Dequeue()
	require.True(t, ok)
	assert.Equal(t, "high", v)

	v, _ = q.Dequeue()
	assert.Equal(t, "mid", v)

	v, _ = q.Dequeue()
	assert.Equal(t, "low", v)

	_, ok = q.Dequeue()
	assert.False(t, ok)
}

func TestQueue_StableForEqualPriorities(t *testing.T) {
	q := New[string]()
	q.Enqueue("first", 5)
	q.Enqueue("second", 5)
	q.Enqueue("third", 5)

	var got []string
	for {
		v, ok := q.Dequeue()
		if !ok {
			break
		}
		got = append(got, v)
	}
	assert.Equal(t, []string{"first", "second", "third"}, got)
}

func TestQueue_Peek(t *testing.T) {
	q := New[int]()
	_, ok := q.Peek()
	assert.False(t, ok)

	q.Enqueue(1, 10)
	q.Enqueue(2, 20)

	v, ok := q.Peek()
	require.True(t, ok)
	assert.Equal(t, 2, v)
	assert.Equal(t, 2, q.Len(), "peek must not remove")
}

// TestQueue_DrainMatchesStableSort checks the queue against a reference
// stable sort for arbitrary inputs.
func TestQueue_DrainMatchesStableSort(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		priorities := rapid.SliceOfN(rapid.IntRange(-5, 5), 0, 50).Draw(t, "priorities")

		type pair struct {
			idx      int
			priority int
		}
		q := New[pair]()
		ref := make([]pair, len(priorities))
		for i, p := range priorities {
			item := pair{idx: i, priority: p}
			q.Enqueue(item, p)
			ref[i] = item
		}
		sort.SliceStable(ref, func(i, j int) bool {
			return ref[i].priority > ref[j].priority
		})

		var got []pair
		for {
			v, ok := q.Dequeue()
			if !ok {
				break
			}
			got = append(got, v)
		}
		if len(ref) == 0 {
			assert.Empty(t, got)
			return
		}
		assert.Equal(t, ref, got)
	})
}
