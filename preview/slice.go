package preview

import (
	"image"
	"image/color"
	"math"
	"os"
	"path/filepath"

	"github.com/chai2010/tiff"
	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
	"golang.org/x/image/draw"

	"github.com/sugarme/noduledet/pbb"
)

// BoxColor is the outline color of detections.
var BoxColor = color.NRGBA{R: 255, A: 255}

// Slice renders axial slice z of a [D, H, W] volume as an 8-bit image with
// intensities windowed to the slice min/max, scaled by scale (nearest
// neighbour), and outlines every box whose sphere cuts the slice.
func Slice(volume []float32, shape []int64, z int, boxes []pbb.Box, scale int) (*image.NRGBA, error) {
	if len(shape) != 3 {
		return nil, errors.Errorf("expected volume shape [D H W], got %v", shape)
	}
	d, h, w := int(shape[0]), int(shape[1]), int(shape[2])
	if len(volume) != d*h*w {
		return nil, errors.Errorf("got %d voxels for shape %v", len(volume), shape)
	}
	if z < 0 || z >= d {
		return nil, errors.Errorf("slice %d out of range [0, %d)", z, d)
	}
	if scale < 1 {
		scale = 1
	}

	plane := volume[z*h*w : (z+1)*h*w]
	lo, hi := float32(math.Inf(1)), float32(math.Inf(-1))
	for _, v := range plane {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}

	gray := image.NewGray(image.Rect(0, 0, w, h))
	for i, v := range plane {
		var g uint8
		if hi > lo {
			g = uint8((v - lo) / (hi - lo) * 255)
		}
		gray.Pix[i] = g
	}

	rgba := image.NewNRGBA(gray.Bounds())
	draw.Draw(rgba, rgba.Bounds(), gray, image.Point{}, draw.Src)
	img := rgba
	if scale > 1 {
		img = imaging.Resize(rgba, w*scale, h*scale, imaging.NearestNeighbor)
	}

	for _, b := range boxes {
		dz := b.Z - float64(z)
		r2 := b.D*b.D/4 - dz*dz
		if r2 <= 0 {
			continue
		}
		r := math.Sqrt(r2) * float64(scale)
		cx, cy := b.X*float64(scale), b.Y*float64(scale)
		outline(img, int(cx-r), int(cy-r), int(cx+r), int(cy+r), BoxColor)
	}

	return img, nil
}

// outline draws a 1 pixel rectangle clipped to img bounds.
func outline(img *image.NRGBA, x0, y0, x1, y1 int, c color.NRGBA) {
	bounds := img.Bounds()
	set := func(x, y int) {
		if image.Pt(x, y).In(bounds) {
			img.SetNRGBA(x, y, c)
		}
	}
	for x := x0; x <= x1; x++ {
		set(x, y0)
		set(x, y1)
	}
	for y := y0; y <= y1; y++ {
		set(x0, y)
		set(x1, y)
	}
}

// SavePNG writes img to a png file.
func SavePNG(img image.Image, filename string) error {
	if filepath.Ext(filename) != ".png" {
		return errors.Errorf("expected .png file name, got %q", filename)
	}
	return errors.Wrap(imaging.Save(img, filename), "saving png")
}

// SaveTIFF writes img to a tiff file.
func SaveTIFF(img image.Image, filename string) error {
	f, err := os.Create(filename)
	if err != nil {
		return errors.Wrap(err, "creating tiff")
	}
	defer f.Close()

	if err := tiff.Encode(f, img, nil); err != nil {
		return errors.Wrap(err, "encoding tiff")
	}
	return nil
}
