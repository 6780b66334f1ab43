package encoder

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/sugarme/gotch/nn"
	ts "github.com/sugarme/gotch/ts"

	"github.com/sugarme/noduledet/base"
)

// StemChannels is the width of the preBlock output.
const StemChannels int64 = 24

// DefaultStages are the forward path stages: 24->32->64->64->64 with
// {2, 2, 3, 3} residual blocks.
var DefaultStages = []base.StageSpec{
	{CIn: 24, COut: 32, Blocks: 2},
	{CIn: 32, COut: 64, Blocks: 2},
	{CIn: 64, COut: 64, Blocks: 3},
	{CIn: 64, COut: 64, Blocks: 3},
}

// ForwardPath is the stem followed by (maxpool, residual stage) pairs.
type ForwardPath struct {
	preBlock *nn.SequentialT
	stages   []*nn.SequentialT
	specs    []base.StageSpec
}

// NewPreBlock creates the stem: two resolution preserving
// conv(k3, p1) + bn + relu stages, 1 -> 24 -> 24 channels.
//
// The first layers take the most memory, so plain convolutions are used
// before the residual stages.
func NewPreBlock(p *nn.Path, cIn int64) *nn.SequentialT {
	seq := nn.SeqT()
	seq.Add(base.Conv3dBnRelu(p.Sub("0"), cIn, StemChannels, 3, 1, 1))
	seq.Add(base.Conv3dBnRelu(p.Sub("1"), StemChannels, StemChannels, 3, 1, 1))

	return seq
}

// NewForwardPath creates the forward path with given stage specs.
// Stage i lives under p.Sub("forw<i+1>").
func NewForwardPath(p *nn.Path, cIn int64, specs []base.StageSpec) (*ForwardPath, error) {
	if len(specs) == 0 {
		return nil, errors.New("forward path needs at least one stage")
	}
	prev := StemChannels
	for i, s := range specs {
		if err := s.Validate(); err != nil {
			return nil, errors.Wrapf(err, "forw%d", i+1)
		}
		if s.CIn+s.Extra != prev {
			return nil, errors.Errorf("forw%d expects %d input channels, previous stage gives %d", i+1, s.CIn+s.Extra, prev)
		}
		prev = s.COut
	}

	stages := make([]*nn.SequentialT, len(specs))
	for i, s := range specs {
		stages[i] = base.ResStage(p.Sub(fmt.Sprintf("forw%d", i+1)), s)
	}

	return &ForwardPath{
		preBlock: NewPreBlock(p.Sub("preBlock"), cIn),
		stages:   stages,
		specs:    specs,
	}, nil
}

// NumStages returns number of pooling stages.
func (e *ForwardPath) NumStages() int {
	return len(e.stages)
}

// Channels returns output channels of the stem (index 0) and every stage.
func (e *ForwardPath) Channels() []int64 {
	chans := []int64{StemChannels}
	for _, s := range e.specs {
		chans = append(chans, s.COut)
	}
	return chans
}

// MaxPoolWithIndices halves every spatial dim with a non-overlapping 2x2x2
// max pool and returns the argmax indices alongside.
func MaxPoolWithIndices(x *ts.Tensor) (out, indices *ts.Tensor) {
	return x.MustMaxPool3dWithIndices([]int64{2, 2, 2}, []int64{2, 2, 2}, []int64{0, 0, 0}, []int64{1, 1, 1}, false, false)
}

// ForwardAll implements Encoder interface for ForwardPath.
func (e *ForwardPath) ForwardAll(x *ts.Tensor, train bool) ([]*ts.Tensor, []*ts.Tensor) {
	// E.g. x [N 1 32 32 32]
	out := e.preBlock.ForwardT(x, train) // [N 24 32 32 32]
	features := []*ts.Tensor{out}
	var indices []*ts.Tensor

	// forw1 [N 32 16 16 16]
	// forw2 [N 64  8  8  8]
	// forw3 [N 64  4  4  4]
	// forw4 [N 64  2  2  2]
	prev := out
	for _, stage := range e.stages {
		pooled, idx := MaxPoolWithIndices(prev)
		feat := stage.ForwardT(pooled, train)
		pooled.MustDrop()

		features = append(features, feat)
		indices = append(indices, idx)
		prev = feat
	}

	return features, indices
}
