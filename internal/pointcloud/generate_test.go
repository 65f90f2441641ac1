package pointcloud

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerate_RejectsNonPositiveCount(t *testing.T) {
	for _, n := range []int{0, -1, -1000} {
		pc, err := Generate(n, DefaultTwoTier())
		assert.ErrorIs(t, err, ErrInvalidArgument, "n=%d", n)
		assert.Nil(t, pc, "n=%d must not return a partial cloud", n)
	}
}

func TestGenerate_NilGenerator(t *testing.T) {
	_, err := Generate(10, nil)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestGenerate_ExactCount(t *testing.T) {
	for _, n := range []int{1, 2, 7, 10000} {
		pc, err := Generate(n, DefaultTwoTier())
		require.NoError(t, err)
		assert.Equal(t, n, pc.Len())
		assert.Len(t, pc.Colors(), n)
	}
}

func TestTwoTier_Layout(t *testing.T) {
	const n = 10000
	pc, err := Generate(n, DefaultTwoTier())
	require.NoError(t, err)

	for i := 0; i < n/2; i++ {
		p := pc.Point(i)
		for axis := 0; axis < 3; axis++ {
			v := p.Axis(axis)
			require.True(t, v >= -5 && v <= 5, "base point %d axis %d = %v", i, axis, v)
		}
	}
	for i := n / 2; i < n; i++ {
		p := pc.Point(i)
		require.True(t, p.X >= -3 && p.X <= 3, "detail point %d x = %v", i, p.X)
		require.True(t, p.Y >= -3 && p.Y <= 3, "detail point %d y = %v", i, p.Y)
		require.True(t, p.Z >= -1 && p.Z <= 5, "detail point %d z = %v", i, p.Z)
	}
}

func TestTwoTier_Deterministic(t *testing.T) {
	a, err := Generate(500, DefaultTwoTier())
	require.NoError(t, err)
	b, err := Generate(500, DefaultTwoTier())
	require.NoError(t, err)
	assert.Equal(t, a.Points(), b.Points())
	assert.Equal(t, a.Colors(), b.Colors())

	g := DefaultTwoTier()
	g.Seed = 7
	c, err := Generate(500, g)
	require.NoError(t, err)
	assert.NotEqual(t, a.Points(), c.Points())
}

func TestTwoTier_InvalidExtents(t *testing.T) {
	g := DefaultTwoTier()
	g.DetailHalfExtent = 0
	_, err := Generate(10, g)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestGenerate_ShortGenerator(t *testing.T) {
	short := GeneratorFunc(func(n int) ([]Point, []Color, error) {
		return make([]Point, n-1), make([]Color, n-1), nil
	})
	pc, err := Generate(5, short)
	assert.ErrorIs(t, err, ErrInvalidArgument)
	assert.Nil(t, pc)
}

func TestGenerate_GeneratorError(t *testing.T) {
	boom := errors.New("boom")
	failing := GeneratorFunc(func(int) ([]Point, []Color, error) { return nil, nil, boom })
	_, err := Generate(5, failing)
	assert.ErrorIs(t, err, boom)
}
