package base

import (
	"github.com/sugarme/gotch/nn"
	ts "github.com/sugarme/gotch/ts"
)

// Identity is a nn.Module placeholder.
// It forwards the input tensor as such.
type Identity struct{}

// Forward implement nn.Module for Identity struct
func (i *Identity) Forward(x *ts.Tensor) *ts.Tensor {
	return x.MustShallowClone()
}

// ForwardT implement nn.ModuleT for Identity struct.
func (i *Identity) ForwardT(x *ts.Tensor, train bool) *ts.Tensor {
	return x.MustShallowClone()
}

// NewIdentity creates a new Identity struct.
func NewIdentity() *Identity {
	return &Identity{}
}

// Conv3d creates Conv3D module with cubic kernel, padding and stride.
func Conv3d(p *nn.Path, cIn, cOut, ksize, padding, stride int64) *nn.Conv3D {
	config := &nn.Conv3DConfig{
		Stride:   []int64{stride, stride, stride},
		Padding:  []int64{padding, padding, padding},
		Dilation: []int64{1, 1, 1},
		Groups:   1,
		Bias:     true,
		WsInit:   nn.NewKaimingUniformInit(),
		BsInit:   nn.NewConstInit(0.0),
	}

	return nn.NewConv3D(p, cIn, cOut, ksize, config)
}

// Conv3dBnRelu creates a SequentialT composing of Conv3D, BatchNorm3D and a ReLU activation.
func Conv3dBnRelu(p *nn.Path, cIn, cOut, ksize, padding, stride int64) *nn.SequentialT {
	seq := nn.SeqT()
	seq.Add(Conv3d(p.Sub("conv"), cIn, cOut, ksize, padding, stride))
	seq.Add(nn.BatchNorm3D(p.Sub("bn"), cOut, nn.DefaultBatchNormConfig()))
	seq.AddFn(nn.NewFunc(func(xs *ts.Tensor) *ts.Tensor {
		return xs.MustRelu(false)
	}))

	return seq
}

// ConvTranspose3d creates a ConvTranspose3D module with cubic kernel and stride.
func ConvTranspose3d(p *nn.Path, cIn, cOut, ksize, stride int64) *nn.ConvTranspose3D {
	config := &nn.ConvTranspose3DConfig{
		Stride:        []int64{stride, stride, stride},
		Padding:       []int64{0, 0, 0},
		OutputPadding: []int64{0, 0, 0},
		Dilation:      []int64{1, 1, 1},
		Groups:        1,
		Bias:          true,
		WsInit:        nn.NewKaimingUniformInit(),
		BsInit:        nn.NewConstInit(0.0),
	}

	return nn.NewConvTranspose3D(p, cIn, cOut, []int64{ksize, ksize, ksize}, config)
}

// UpBnRelu creates the decoder upsampling path: a learned x2 transposed
// convolution followed by BatchNorm3D and ReLU.
func UpBnRelu(p *nn.Path, cIn, cOut int64) *nn.SequentialT {
	deconv := ConvTranspose3d(p.Sub("deconv"), cIn, cOut, 2, 2)

	seq := nn.SeqT()
	// ConvTranspose3D has no ForwardT.
	seq.AddFn(nn.NewFunc(deconv.Forward))
	seq.Add(nn.BatchNorm3D(p.Sub("bn"), cOut, nn.DefaultBatchNormConfig()))
	seq.AddFn(nn.NewFunc(func(xs *ts.Tensor) *ts.Tensor {
		return xs.MustRelu(false)
	}))

	return seq
}
