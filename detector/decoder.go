package detector

import (
	"github.com/sugarme/gotch/nn"
	ts "github.com/sugarme/gotch/ts"

	"github.com/sugarme/noduledet/base"
)

// CoordChannels is the number of channels of the coordinate volume (z, y, x).
const CoordChannels int64 = 3

// DecoderLayer upsamples x2 with a transposed conv, concatenates skip
// tensors and runs a residual stage.
type DecoderLayer struct {
	Path *nn.SequentialT
	Back *nn.SequentialT
}

// NewDecoderLayer creates a DecoderLayer. Upsampling keeps cIn channels; the
// residual stage maps cIn+skip (+extra) to cOut.
func NewDecoderLayer(pathP, backP *nn.Path, spec base.StageSpec, cUp int64) *DecoderLayer {
	return &DecoderLayer{
		Path: base.UpBnRelu(pathP, cUp, cUp),
		Back: base.ResStage(backP, spec),
	}
}

// ForwardSkip upsamples x and forwards it concatenated with skips.
func (d *DecoderLayer) ForwardSkip(x *ts.Tensor, skips []*ts.Tensor, train bool) *ts.Tensor {
	rev := d.Path.ForwardT(x, train)
	parts := append([]*ts.Tensor{rev}, skips...)
	cat := ts.MustCat(parts, 1)
	rev.MustDrop()

	out := d.Back.ForwardT(cat, train)
	cat.MustDrop()

	return out
}

// BackwardPath is the decoder: back3 fuses the deepest feature with forw3,
// back2 fuses the result with forw2 and the coordinate volume.
type BackwardPath struct {
	back3 *DecoderLayer
	back2 *DecoderLayer
}

// NewBackwardPath creates the decoder for forward path channel widths
// chans (stem first), producing 64 channel features.
func NewBackwardPath(p *nn.Path, chans []int64) *BackwardPath {
	// featureNum_back: [128 64 64]
	back3 := base.StageSpec{CIn: chans[4] + chans[3], COut: 64, Blocks: 3}
	back2 := base.StageSpec{CIn: 64 + chans[2], COut: 64, Blocks: 3, Extra: CoordChannels}

	return &BackwardPath{
		back3: NewDecoderLayer(p.Sub("path1"), p.Sub("back3"), back3, chans[4]),
		back2: NewDecoderLayer(p.Sub("path2"), p.Sub("back2"), back2, back3.COut),
	}
}

// ForwardFeatures forwards through encoder features and coordinates.
func (b *BackwardPath) ForwardFeatures(features []*ts.Tensor, coord *ts.Tensor, train bool) *ts.Tensor {
	// E.g. x [N 1 32 32 32]
	// path1 + cat(out3): [N 128 4 4 4] -> back3 [N 64 4 4 4]
	comb3 := b.back3.ForwardSkip(features[4], []*ts.Tensor{features[3]}, train)
	// path2 + cat(out2, coord): [N 131 8 8 8] -> back2 [N 64 8 8 8]
	feat := b.back2.ForwardSkip(comb3, []*ts.Tensor{features[2], coord}, train)
	comb3.MustDrop()

	return feat
}
