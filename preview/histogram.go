package preview

import (
	"github.com/pkg/errors"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/sugarme/noduledet/pbb"
)

// ScoreHistogram plots the objectness logits of boxes in bins buckets and
// saves it to filename. The format follows the file extension.
func ScoreHistogram(boxes []pbb.Box, bins int, filename string) error {
	if len(boxes) == 0 {
		return errors.New("no boxes to plot")
	}

	p, err := plot.New()
	if err != nil {
		return errors.Wrap(err, "creating plot")
	}

	v := make(plotter.Values, len(boxes))
	for i, b := range boxes {
		v[i] = b.Score
	}

	h, err := plotter.NewHist(v, bins)
	if err != nil {
		return errors.Wrap(err, "creating histogram")
	}
	p.Title.Text = "Detection score histogram"
	p.X.Label.Text = "logit"
	p.Add(h)

	return errors.Wrap(p.Save(4*vg.Inch, 4*vg.Inch, filename), "saving histogram")
}
