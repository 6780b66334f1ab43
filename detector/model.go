package detector

import (
	"github.com/pkg/errors"
	"github.com/sugarme/gotch/nn"
	ts "github.com/sugarme/gotch/ts"

	"github.com/sugarme/noduledet/base"
	"github.com/sugarme/noduledet/config"
	"github.com/sugarme/noduledet/encoder"
	"github.com/sugarme/noduledet/metric"
	"github.com/sugarme/noduledet/pbb"
)

// DropoutProb is the channel-wise dropout rate before the output head.
const DropoutProb = 0.2

// Net is a 3D U-Net like nodule detector with an anchor head.
type Net struct {
	encoder    *encoder.ForwardPath
	decoder    *BackwardPath
	output     *nn.SequentialT
	numAnchors int64
	stride     int64
}

// NewNet creates Net under path p for given config.
func NewNet(p *nn.Path, cfg config.Config) (*Net, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	enc, err := encoder.NewForwardPath(p, cfg.Channel, encoder.DefaultStages)
	if err != nil {
		return nil, err
	}
	dec := NewBackwardPath(p, enc.Channels())
	head := base.NewDetectionHead(p.Sub("output"), 64, 64, cfg.NumAnchors())

	return &Net{
		encoder:    enc,
		decoder:    dec,
		output:     head,
		numAnchors: cfg.NumAnchors(),
		stride:     cfg.Stride,
	}, nil
}

// NumAnchors returns number of anchors predicted per cell.
func (n *Net) NumAnchors() int64 {
	return n.numAnchors
}

// CheckInput validates x [N 1 D H W] and coord [N 3 D/s H/s W/s] shapes
// before a forward pass, s being the output stride.
func (n *Net) CheckInput(x, coord *ts.Tensor) error {
	xs := x.MustSize()
	cs := coord.MustSize()
	if len(xs) != 5 || len(cs) != 5 {
		return errors.Errorf("expected 5D input and coord, got %v and %v", xs, cs)
	}
	if cs[0] != xs[0] || cs[1] != CoordChannels {
		return errors.Errorf("coord must be [%d %d ...], got %v", xs[0], CoordChannels, cs)
	}
	maxStride := int64(1) << uint(n.encoder.NumStages())
	for i := 2; i < 5; i++ {
		if xs[i]%maxStride != 0 {
			return errors.Errorf("input spatial dims %v must be multiples of %d", xs[2:], maxStride)
		}
		if cs[i] != xs[i]/n.stride {
			return errors.Errorf("coord spatial dims %v must be input dims %v / %d", cs[2:], xs[2:], n.stride)
		}
	}
	return nil
}

// forward runs the whole network and returns stem features [N 24 D H W]
// and detections [N D/4 H/4 W/4 A 5].
func (n *Net) forward(x, coord *ts.Tensor, train bool) (stem, detections *ts.Tensor) {
	features, indices := n.encoder.ForwardAll(x, train)
	// No unpooling is wired, indices are not consumed.
	for _, idx := range indices {
		idx.MustDrop()
	}

	feat := n.decoder.ForwardFeatures(features, coord, train)
	for _, f := range features[1:] {
		f.MustDrop()
	}

	comb2 := ts.MustFeatureDropout(feat, DropoutProb, train)
	feat.MustDrop()
	out := n.output.ForwardT(comb2, train) // [N A*5 D/4 H/4 W/4]
	comb2.MustDrop()
	detections = base.ToAnchorLayout(out, n.numAnchors)
	out.MustDrop()

	return features[0], detections
}

// Forward returns the stem output [N 24 D H W]. The detection tensor is
// computed and discarded. Use ForwardDetect to get detections.
func (n *Net) Forward(x, coord *ts.Tensor, train bool) *ts.Tensor {
	stem, detections := n.forward(x, coord, train)
	detections.MustDrop()

	return stem
}

// ForwardDetect returns detections [N D/4 H/4 W/4 A 5]: per cell and anchor
// (logit, dz, dy, dx, dd).
func (n *Net) ForwardDetect(x, coord *ts.Tensor, train bool) *ts.Tensor {
	stem, detections := n.forward(x, coord, train)
	stem.MustDrop()

	return detections
}

// GetModel creates the detector with the default config. It returns the
// config, the network, the loss and the box extractor, all built from the
// same config.
func GetModel(p *nn.Path) (config.Config, *Net, *metric.Loss, *pbb.GetPBB) {
	cfg := config.Default()
	net, loss, getPBB, err := GetModelWithConfig(p, cfg)
	if err != nil {
		// default config always validates
		panic(err)
	}

	return cfg, net, loss, getPBB
}

// GetModelWithConfig is GetModel for a caller supplied config.
func GetModelWithConfig(p *nn.Path, cfg config.Config) (*Net, *metric.Loss, *pbb.GetPBB, error) {
	net, err := NewNet(p, cfg)
	if err != nil {
		return nil, nil, nil, errors.Wrap(err, "creating detector")
	}

	return net, metric.NewLoss(cfg.NumHard), pbb.NewGetPBB(cfg), nil
}
