package base

import (
	"github.com/sugarme/gotch/nn"
	ts "github.com/sugarme/gotch/ts"
)

// BoxDim is the number of values predicted per anchor:
// objectness logit, dz, dy, dx, dd.
const BoxDim int64 = 5

// NewDetectionHead creates the anchor head (nn.SequentialT):
// 1x1x1 conv cIn->cMid, ReLU, 1x1x1 conv cMid->BoxDim*numAnchors.
func NewDetectionHead(p *nn.Path, cIn, cMid, numAnchors int64) *nn.SequentialT {
	seq := nn.SeqT()
	seq.Add(Conv3d(p.Sub("0"), cIn, cMid, 1, 0, 1))
	seq.AddFn(nn.NewFunc(func(xs *ts.Tensor) *ts.Tensor {
		return xs.MustRelu(false)
	}))
	seq.Add(Conv3d(p.Sub("2"), cMid, BoxDim*numAnchors, 1, 0, 1))

	return seq
}

// ToAnchorLayout reshapes a head output [N, A*5, D, H, W] into
// [N, D, H, W, A, 5].
func ToAnchorLayout(x *ts.Tensor, numAnchors int64) *ts.Tensor {
	size := x.MustSize()
	flat := x.MustView([]int64{size[0], size[1], -1}, false)
	tr := flat.MustTranspose(1, 2, true)
	contig := tr.MustContiguous(true)

	return contig.MustView([]int64{size[0], size[2], size[3], size[4], numAnchors, BoxDim}, true)
}
