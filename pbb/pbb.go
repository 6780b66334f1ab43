package pbb

import (
	"math"

	"github.com/pkg/errors"
	"github.com/sugarme/gotch"
	ts "github.com/sugarme/gotch/ts"

	"github.com/sugarme/noduledet/config"
)

// DefaultThreshold is the objectness logit above which cells are kept.
const DefaultThreshold = -3.0

// GetPBB decodes detector output into predicted bounding boxes.
type GetPBB struct {
	Stride  int64
	Anchors []float64
}

// NewGetPBB creates GetPBB from the detector config.
func NewGetPBB(cfg config.Config) *GetPBB {
	anchors := make([]float64, len(cfg.Anchors))
	copy(anchors, cfg.Anchors)

	return &GetPBB{
		Stride:  cfg.Stride,
		Anchors: anchors,
	}
}

// Decode converts raw values of one sample laid out as [D, H, W, A, 5] into
// boxes in input voxel space and keeps those with logit > thresh, in
// z, y, x, anchor order. It also returns the cell of every kept box.
//
// Centre: offset + stride*idx + delta*anchor, offset = (stride-1)/2.
// Diameter: exp(dd)*anchor.
func (g *GetPBB) Decode(values []float64, shape []int64, thresh float64) ([]Box, []Cell, error) {
	if len(shape) != 5 || shape[4] != 5 {
		return nil, nil, errors.Errorf("expected shape [D H W A 5], got %v", shape)
	}
	if shape[3] != int64(len(g.Anchors)) {
		return nil, nil, errors.Errorf("output has %d anchors, config has %d", shape[3], len(g.Anchors))
	}
	d, h, w, a := int(shape[0]), int(shape[1]), int(shape[2]), int(shape[3])
	if len(values) != d*h*w*a*5 {
		return nil, nil, errors.Errorf("got %d values for shape %v", len(values), shape)
	}

	stride := float64(g.Stride)
	offset := (stride - 1) / 2

	var (
		boxes []Box
		cells []Cell
	)
	i := 0
	for z := 0; z < d; z++ {
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				for k := 0; k < a; k++ {
					v := values[i : i+5]
					i += 5
					if v[0] <= thresh {
						continue
					}
					anchor := g.Anchors[k]
					boxes = append(boxes, Box{
						Score: v[0],
						Z:     offset + stride*float64(z) + v[1]*anchor,
						Y:     offset + stride*float64(y) + v[2]*anchor,
						X:     offset + stride*float64(x) + v[3]*anchor,
						D:     math.Exp(v[4]) * anchor,
					})
					cells = append(cells, Cell{Z: z, Y: y, X: x, Anchor: k})
				}
			}
		}
	}

	return boxes, cells, nil
}

// Extract decodes one sample of detector output, [D, H, W, A, 5] or
// [1, D, H, W, A, 5].
func (g *GetPBB) Extract(output *ts.Tensor, thresh float64) ([]Box, error) {
	shape := output.MustSize()
	if len(shape) == 6 {
		if shape[0] != 1 {
			return nil, errors.Errorf("expected a single sample, got batch of %d", shape[0])
		}
		shape = shape[1:]
	}

	cpu := output.MustTo(gotch.CPU, false)
	values := cpu.Float64Values()
	cpu.MustDrop()

	boxes, _, err := g.Decode(values, shape, thresh)
	return boxes, err
}

// ExtractBatch decodes every sample of a [N, D, H, W, A, 5] output and
// applies NMS with nmsTh to each one.
func (g *GetPBB) ExtractBatch(output *ts.Tensor, thresh, nmsTh float64) ([][]Box, error) {
	n := output.MustSize()[0]
	var res [][]Box
	for i := int64(0); i < n; i++ {
		sample := output.MustSelect(0, i, false)
		boxes, err := g.Extract(sample, thresh)
		sample.MustDrop()
		if err != nil {
			return nil, errors.Wrapf(err, "sample %d", i)
		}
		res = append(res, NMS(boxes, nmsTh))
	}

	return res, nil
}
