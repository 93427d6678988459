package gen

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDeleteFromSliceUnordered(t *testing.T) {
	a := []int{1, 2, 3, 4}
	a = DeleteFromSliceUnordered(a, 1)
	require.ElementsMatch(t, []int{1, 4, 3}, a)

	a = DeleteFromSliceUnordered(a, 2)
	require.ElementsMatch(t, []int{1, 4}, a)

	a = DeleteFromSliceUnordered(a, 0)
	a = DeleteFromSliceUnordered(a, 0)
	require.Empty(t, a)
}

func TestClamp(t *testing.T) {
	require.Equal(t, 5, Clamp(3, 5, 10))
	require.Equal(t, 10, Clamp(30, 5, 10))
	require.Equal(t, 7, Clamp(7, 5, 10))
	require.Equal(t, float32(1.5), Clamp(float32(2.0), 0.0, 1.5))
}
