package env

import (
	"maps"
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func envGen() *rapid.Generator[map[string]string] {
	return rapid.MapOfN(rapid.SampledFrom([]string{"CC", "CXX", "PATH", "MPICC", "LD_LIBRARY_PATH"}),
		rapid.StringMatching(`[a-z/]{0,6}`), 0, 5)
}

func TestMerge_AssociativeInOrder(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		base := envGen().Draw(t, "base")
		a := envGen().Draw(t, "a")
		b := envGen().Draw(t, "b")

		flat := Merge(base, a, b)
		require.Equal(t, flat, Merge(Merge(base, a), b))
		require.Equal(t, flat, Merge(base, Merge(a, b)))
		require.Equal(t, flat, Merge(base, a, b), "merge is deterministic")
	})
}

func TestMerge_NotCommutative(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		base := envGen().Draw(t, "base")
		a := envGen().Draw(t, "a")
		b := envGen().Draw(t, "b")
		a["CC"] = "gcc"
		b["CC"] = "icx"

		ab := Merge(base, a, b)
		ba := Merge(base, b, a)
		require.Equal(t, "icx", ab["CC"])
		require.Equal(t, "gcc", ba["CC"])
		require.False(t, maps.Equal(ab, ba))
	})
}
