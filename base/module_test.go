package base_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/sugarme/gotch"
	"github.com/sugarme/gotch/nn"
	ts "github.com/sugarme/gotch/ts"

	"github.com/sugarme/noduledet/base"
)

func TestConv3dBnRelu(t *testing.T) {
	vs := nn.NewVarStore(gotch.CPU)
	seq := base.Conv3dBnRelu(vs.Root().Sub("stem"), 1, 8, 3, 1, 1)

	x := ts.MustRand([]int64{2, 1, 8, 8, 8}, gotch.Float, gotch.CPU)
	out := seq.ForwardT(x, false)
	defer out.MustDrop()
	x.MustDrop()

	assert.Equal(t, []int64{2, 8, 8, 8, 8}, out.MustSize())
	// ReLU output is never negative
	min := out.MustMin(false)
	assert.GreaterOrEqual(t, min.Float64Values()[0], 0.0)
	min.MustDrop()
}

func TestUpBnRelu(t *testing.T) {
	vs := nn.NewVarStore(gotch.CPU)
	up := base.UpBnRelu(vs.Root().Sub("path1"), 4, 4)

	x := ts.MustRand([]int64{1, 4, 2, 3, 4}, gotch.Float, gotch.CPU)
	out := up.ForwardT(x, false)
	defer out.MustDrop()
	x.MustDrop()

	assert.Equal(t, []int64{1, 4, 4, 6, 8}, out.MustSize())

	vars := vs.Variables()
	for _, name := range []string{"path1.deconv.weight", "path1.deconv.bias", "path1.bn.weight"} {
		_, ok := vars[name]
		assert.True(t, ok, name)
	}
}

func TestPostRes(t *testing.T) {
	vs := nn.NewVarStore(gotch.CPU)

	projected := base.NewPostRes(vs.Root().Sub("a"), 4, 8, 1)
	_, isIdentity := projected.Shortcut.(*base.Identity)
	assert.False(t, isIdentity)

	same := base.NewPostRes(vs.Root().Sub("b"), 8, 8, 1)
	_, isIdentity = same.Shortcut.(*base.Identity)
	assert.True(t, isIdentity)

	x := ts.MustRand([]int64{2, 4, 4, 4, 4}, gotch.Float, gotch.CPU)
	y := projected.ForwardT(x, true)
	z := same.ForwardT(y, true)

	assert.Equal(t, []int64{2, 8, 4, 4, 4}, y.MustSize())
	assert.Equal(t, []int64{2, 8, 4, 4, 4}, z.MustSize())

	x.MustDrop()
	y.MustDrop()
	z.MustDrop()
}

func TestResStage(t *testing.T) {
	vs := nn.NewVarStore(gotch.CPU)
	spec := base.StageSpec{CIn: 4, COut: 6, Blocks: 3, Extra: 3}
	require.NoError(t, spec.Validate())

	stage := base.ResStage(vs.Root().Sub("back2"), spec)

	x := ts.MustRand([]int64{1, 7, 4, 4, 4}, gotch.Float, gotch.CPU)
	out := stage.ForwardT(x, false)
	defer out.MustDrop()
	x.MustDrop()

	assert.Equal(t, []int64{1, 6, 4, 4, 4}, out.MustSize())
	_, ok := vs.Variables()["back2.2.conv2.weight"]
	assert.True(t, ok)
	_, ok = vs.Variables()["back2.3.conv1.weight"]
	assert.False(t, ok)
}

func TestStageSpecValidate(t *testing.T) {
	assert.Error(t, base.StageSpec{CIn: 4, COut: 4, Blocks: 0}.Validate())
	assert.Error(t, base.StageSpec{CIn: 0, COut: 4, Blocks: 1}.Validate())
	assert.Error(t, base.StageSpec{CIn: 4, COut: 4, Blocks: 1, Extra: -1}.Validate())
	assert.NoError(t, base.StageSpec{CIn: 4, COut: 4, Blocks: 1}.Validate())
}

func TestDetectionHead(t *testing.T) {
	vs := nn.NewVarStore(gotch.CPU)
	head := base.NewDetectionHead(vs.Root().Sub("output"), 8, 8, 2)

	x := ts.MustRand([]int64{3, 8, 2, 3, 4}, gotch.Float, gotch.CPU)
	out := head.ForwardT(x, false)
	x.MustDrop()
	assert.Equal(t, []int64{3, 10, 2, 3, 4}, out.MustSize())

	boxes := base.ToAnchorLayout(out, 2)
	defer boxes.MustDrop()
	assert.Equal(t, []int64{3, 2, 3, 4, 2, 5}, boxes.MustSize())

	// channel c = a*5 + k of cell (d,h,w) lands at [n,d,h,w,a,k]
	want := out.MustSelect(0, 1, false).MustSelect(0, 7, true).MustSelect(0, 1, true).MustSelect(0, 2, true).MustSelect(0, 3, true)
	got := boxes.MustSelect(0, 1, false).MustSelect(0, 1, true).MustSelect(0, 2, true).MustSelect(0, 3, true).MustSelect(0, 1, true).MustSelect(0, 2, true)
	assert.InDelta(t, want.Float64Values()[0], got.Float64Values()[0], 1e-6)
	want.MustDrop()
	got.MustDrop()
	out.MustDrop()
}
