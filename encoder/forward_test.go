package encoder_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/sugarme/gotch"
	"github.com/sugarme/gotch/nn"
	ts "github.com/sugarme/gotch/ts"

	"github.com/sugarme/noduledet/base"
	"github.com/sugarme/noduledet/encoder"
)

func TestMaxPoolWithIndices(t *testing.T) {
	x := ts.MustOfSlice([]float32{
		1, 5, 2, 0,
		3, 4, 8, 1,
	}).MustView([]int64{1, 1, 2, 2, 2}, true)

	out, idx := encoder.MaxPoolWithIndices(x)
	defer out.MustDrop()
	defer idx.MustDrop()
	x.MustDrop()

	assert.Equal(t, []int64{1, 1, 1, 1, 1}, out.MustSize())
	assert.Equal(t, []int64{1, 1, 1, 1, 1}, idx.MustSize())
	assert.Equal(t, 8.0, out.Float64Values()[0])
	assert.Equal(t, int64(6), idx.Int64Values()[0])
}

func TestForwardPath(t *testing.T) {
	vs := nn.NewVarStore(gotch.CPU)
	enc, err := encoder.NewForwardPath(vs.Root(), 1, encoder.DefaultStages)
	require.NoError(t, err)
	assert.Equal(t, 4, enc.NumStages())
	assert.Equal(t, []int64{24, 32, 64, 64, 64}, enc.Channels())

	x := ts.MustRand([]int64{2, 1, 32, 32, 32}, gotch.Float, gotch.CPU)
	features, indices := enc.ForwardAll(x, false)
	x.MustDrop()

	require.Len(t, features, 5)
	require.Len(t, indices, 4)

	// stem keeps resolution, every pool halves it
	spatial := int64(32)
	for i, f := range features {
		size := f.MustSize()
		assert.Equal(t, enc.Channels()[i], size[1], "feature %d", i)
		assert.Equal(t, []int64{spatial, spatial, spatial}, size[2:], "feature %d", i)
		spatial /= 2
		f.MustDrop()
	}
	for _, idx := range indices {
		idx.MustDrop()
	}
}

func TestNewForwardPathInvalid(t *testing.T) {
	vs := nn.NewVarStore(gotch.CPU)

	_, err := encoder.NewForwardPath(vs.Root(), 1, nil)
	assert.Error(t, err)

	// second stage does not consume the first stage width
	_, err = encoder.NewForwardPath(vs.Root(), 1, []base.StageSpec{
		{CIn: 24, COut: 32, Blocks: 2},
		{CIn: 64, COut: 64, Blocks: 2},
	})
	assert.Error(t, err)
}
