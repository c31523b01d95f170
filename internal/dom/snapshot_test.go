package dom

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolve(t *testing.T) {
	s := &Snapshot{
		SelectorMap: map[string]string{"7": "xpath=//button[1]"},
		Generation:  3,
	}

	loc, err := s.Resolve("7", 3)
	require.NoError(t, err)
	assert.Equal(t, "xpath=//button[1]", loc)
}

func TestResolveUnknownID(t *testing.T) {
	s := &Snapshot{SelectorMap: map[string]string{}, Generation: 1}

	_, err := s.Resolve("42", 1)
	require.Error(t, err)

	var stale *StaleIDError
	require.ErrorAs(t, err, &stale)
	assert.Equal(t, "42", stale.ElementID)
}

func TestResolveWrongGeneration(t *testing.T) {
	s := &Snapshot{
		SelectorMap: map[string]string{"7": "xpath=//button[1]"},
		Generation:  5,
	}

	_, err := s.Resolve("7", 4)
	require.Error(t, err)

	var stale *StaleIDError
	require.ErrorAs(t, err, &stale)
	assert.Equal(t, uint64(4), stale.Generation)
	assert.Equal(t, uint64(5), stale.Current)
}

func TestRemaining(t *testing.T) {
	s := &Snapshot{Chunks: 4}

	assert.Equal(t, 4, s.Remaining(nil))
	assert.Equal(t, 2, s.Remaining([]int{0, 2}))
	assert.Equal(t, 0, s.Remaining([]int{0, 1, 2, 3}))
	// Out-of-range entries do not count.
	assert.Equal(t, 3, s.Remaining([]int{0, 9}))
}
