package base

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/sugarme/gotch/nn"
	ts "github.com/sugarme/gotch/ts"
)

// PostRes is a 3D residual block:
// relu(bn2(conv2(relu(bn1(conv1(x))))) + shortcut(x)).
type PostRes struct {
	Conv1    *nn.Conv3D
	Bn1      *nn.BatchNorm
	Conv2    *nn.Conv3D
	Bn2      *nn.BatchNorm
	Shortcut ts.ModuleT
}

// NewPostRes creates a PostRes block. The shortcut projects with a 1x1x1
// conv + bn when stride or channel count changes, otherwise it is Identity.
func NewPostRes(p *nn.Path, cIn, cOut, stride int64) *PostRes {
	conv1 := Conv3d(p.Sub("conv1"), cIn, cOut, 3, 1, stride)
	bn1 := nn.BatchNorm3D(p.Sub("bn1"), cOut, nn.DefaultBatchNormConfig())
	conv2 := Conv3d(p.Sub("conv2"), cOut, cOut, 3, 1, 1)
	bn2 := nn.BatchNorm3D(p.Sub("bn2"), cOut, nn.DefaultBatchNormConfig())

	var shortcut ts.ModuleT = NewIdentity()
	if stride != 1 || cIn != cOut {
		seq := nn.SeqT()
		seq.Add(Conv3d(p.Sub("shortcut").Sub("0"), cIn, cOut, 1, 0, stride))
		seq.Add(nn.BatchNorm3D(p.Sub("shortcut").Sub("1"), cOut, nn.DefaultBatchNormConfig()))
		shortcut = seq
	}

	return &PostRes{conv1, bn1, conv2, bn2, shortcut}
}

// ForwardT implements ts.ModuleT for PostRes.
func (b *PostRes) ForwardT(x *ts.Tensor, train bool) *ts.Tensor {
	c1 := b.Conv1.ForwardT(x, train)
	bn1Ts := b.Bn1.ForwardT(c1, train)
	c1.MustDrop()
	relu := bn1Ts.MustRelu(true)
	c2 := b.Conv2.ForwardT(relu, train)
	relu.MustDrop()
	bn2Ts := b.Bn2.ForwardT(c2, train)
	c2.MustDrop()
	residual := b.Shortcut.ForwardT(x, train)
	add := residual.MustAdd(bn2Ts, true)
	bn2Ts.MustDrop()

	return add.MustRelu(true)
}

// StageSpec describes a sequence of residual blocks. The first block maps
// CIn+Extra channels to COut, the remaining Blocks-1 keep COut.
type StageSpec struct {
	CIn    int64
	COut   int64
	Blocks int
	Extra  int64
}

// Validate checks the spec describes at least one block with positive widths.
func (s StageSpec) Validate() error {
	if s.Blocks < 1 {
		return errors.Errorf("stage needs at least 1 block, got %d", s.Blocks)
	}
	if s.CIn <= 0 || s.COut <= 0 || s.Extra < 0 {
		return errors.Errorf("invalid stage widths: in=%d out=%d extra=%d", s.CIn, s.COut, s.Extra)
	}
	return nil
}

// ResStage builds the block sequence described by spec. Blocks live under
// p.Sub("0"), p.Sub("1"), ...
func ResStage(p *nn.Path, spec StageSpec) *nn.SequentialT {
	stage := nn.SeqT()
	stage.Add(NewPostRes(p.Sub("0"), spec.CIn+spec.Extra, spec.COut, 1))
	for blockIndex := 1; blockIndex < spec.Blocks; blockIndex++ {
		stage.Add(NewPostRes(p.Sub(fmt.Sprint(blockIndex)), spec.COut, spec.COut, 1))
	}

	return stage
}
