package pbb_test

import (
	"bytes"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	ts "github.com/sugarme/gotch/ts"

	"github.com/sugarme/noduledet/config"
	"github.com/sugarme/noduledet/pbb"
)

func TestIoU(t *testing.T) {
	a := pbb.Box{Z: 10, Y: 10, X: 10, D: 4}

	assert.InDelta(t, 1.0, pbb.IoU(a, a), 1e-12)
	assert.Equal(t, 0.0, pbb.IoU(a, pbb.Box{Z: 30, Y: 10, X: 10, D: 4}))

	// shifted by half a side along x: overlap 4*4*2 = 32, union 64+64-32
	b := pbb.Box{Z: 10, Y: 10, X: 12, D: 4}
	assert.InDelta(t, 32.0/96.0, pbb.IoU(a, b), 1e-12)
	assert.InDelta(t, pbb.IoU(a, b), pbb.IoU(b, a), 1e-12)
}

func TestNMS(t *testing.T) {
	boxes := []pbb.Box{
		{Score: 1, Z: 10, Y: 10, X: 10, D: 4},
		{Score: 5, Z: 10, Y: 10, X: 11, D: 4}, // overlaps first, higher score
		{Score: 3, Z: 40, Y: 40, X: 40, D: 6},
		{Score: 2, Z: 40, Y: 40, X: 40, D: 6}, // duplicate of third
	}

	kept := pbb.NMS(boxes, 0.1)
	require.Len(t, kept, 2)
	assert.Equal(t, 5.0, kept[0].Score)
	assert.Equal(t, 3.0, kept[1].Score)

	// input is not reordered
	assert.Equal(t, 1.0, boxes[0].Score)

	assert.Nil(t, pbb.NMS(nil, 0.1))
	assert.Len(t, pbb.NMS(boxes, 1.1), 4)
}

func TestNewGetPBB(t *testing.T) {
	cfg := config.Default()
	g := pbb.NewGetPBB(cfg)
	assert.Equal(t, int64(4), g.Stride)
	assert.Equal(t, []float64{10, 30, 60}, g.Anchors)

	cfg.Anchors[0] = 1
	assert.Equal(t, 10.0, g.Anchors[0])
}

func TestDecode(t *testing.T) {
	g := &pbb.GetPBB{Stride: 4, Anchors: []float64{10, 30}}
	shape := []int64{1, 1, 2, 2, 5}
	values := []float64{
		// x=0
		-5, 0, 0, 0, 0,         // below threshold
		0.5, 0.1, -0.1, 0.2, 0, // anchor 30
		// x=1
		2.0, 0, 0, 0, math.Log(2), // anchor 10
		-3, 0, 0, 0, 0,            // at threshold, dropped
	}

	boxes, cells, err := g.Decode(values, shape, pbb.DefaultThreshold)
	require.NoError(t, err)
	require.Len(t, boxes, 2)
	require.Len(t, cells, 2)

	offset := 1.5
	assert.InDelta(t, offset+0.1*30, boxes[0].Z, 1e-9)
	assert.InDelta(t, offset-0.1*30, boxes[0].Y, 1e-9)
	assert.InDelta(t, offset+0.2*30, boxes[0].X, 1e-9)
	assert.InDelta(t, 30.0, boxes[0].D, 1e-9)
	assert.Equal(t, pbb.Cell{Z: 0, Y: 0, X: 0, Anchor: 1}, cells[0])

	assert.InDelta(t, offset+4, boxes[1].X, 1e-9)
	assert.InDelta(t, 20.0, boxes[1].D, 1e-9)
	assert.Equal(t, 2.0, boxes[1].Score)
	assert.Equal(t, pbb.Cell{Z: 0, Y: 0, X: 1, Anchor: 0}, cells[1])
}

func TestDecodeInvalid(t *testing.T) {
	g := &pbb.GetPBB{Stride: 4, Anchors: []float64{10, 30, 60}}

	_, _, err := g.Decode(make([]float64, 10), []int64{1, 1, 1, 2, 5}, 0)
	assert.Error(t, err)
	_, _, err = g.Decode(make([]float64, 15), []int64{1, 1, 1, 3, 4}, 0)
	assert.Error(t, err)
	_, _, err = g.Decode(make([]float64, 14), []int64{1, 1, 1, 3, 5}, 0)
	assert.Error(t, err)
}

func TestExtract(t *testing.T) {
	g := &pbb.GetPBB{Stride: 4, Anchors: []float64{10}}
	values := []float32{
		1, 0, 0, 0, 0,
		-9, 0, 0, 0, 0,
	}
	output := ts.MustOfSlice(values).MustView([]int64{1, 1, 1, 2, 1, 5}, true)
	defer output.MustDrop()

	boxes, err := g.Extract(output, pbb.DefaultThreshold)
	require.NoError(t, err)
	require.Len(t, boxes, 1)
	assert.InDelta(t, 10.0, boxes[0].D, 1e-6)

	batch, err := g.ExtractBatch(output, pbb.DefaultThreshold, 0.1)
	require.NoError(t, err)
	require.Len(t, batch, 1)
	assert.Len(t, batch[0], 1)
}

func TestCSVRoundTrip(t *testing.T) {
	boxes := []pbb.Box{
		{Score: 2.5, Z: 10, Y: 20.5, X: 30, D: 8},
		{Score: -1, Z: 1, Y: 2, X: 3, D: 4.25},
	}

	var buf bytes.Buffer
	require.NoError(t, pbb.WriteCSV(&buf, boxes))
	header := strings.SplitN(buf.String(), "\n", 2)[0]
	assert.Equal(t, "score,z,y,x,d", header)

	got, err := pbb.ReadCSV(&buf)
	require.NoError(t, err)
	require.Len(t, got, 2)
	for i := range boxes {
		assert.InDelta(t, boxes[i].Score, got[i].Score, 1e-6)
		assert.InDelta(t, boxes[i].Y, got[i].Y, 1e-6)
		assert.InDelta(t, boxes[i].D, got[i].D, 1e-6)
	}
}

func TestFromDataFrameMissingColumn(t *testing.T) {
	_, err := pbb.ReadCSV(strings.NewReader("score,z,y\n1,2,3\n"))
	assert.Error(t, err)
}
