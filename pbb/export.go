package pbb

import (
	"io"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
	"github.com/pkg/errors"
)

// Columns of the box table.
var Columns = []string{"score", "z", "y", "x", "d"}

// ToDataFrame puts boxes into a dataframe with Columns.
func ToDataFrame(boxes []Box) dataframe.DataFrame {
	cols := make([][]float64, len(Columns))
	for _, b := range boxes {
		for i, v := range []float64{b.Score, b.Z, b.Y, b.X, b.D} {
			cols[i] = append(cols[i], v)
		}
	}

	ss := make([]series.Series, len(Columns))
	for i, name := range Columns {
		ss[i] = series.New(cols[i], series.Float, name)
	}

	return dataframe.New(ss...)
}

// FromDataFrame reads boxes back from a dataframe holding Columns.
func FromDataFrame(df dataframe.DataFrame) ([]Box, error) {
	if df.Err != nil {
		return nil, errors.Wrap(df.Err, "reading box table")
	}
	sel := df.Select(Columns)
	if sel.Err != nil {
		return nil, errors.Wrap(sel.Err, "box table columns")
	}

	score := sel.Col("score").Float()
	z := sel.Col("z").Float()
	y := sel.Col("y").Float()
	x := sel.Col("x").Float()
	d := sel.Col("d").Float()

	boxes := make([]Box, sel.Nrow())
	for i := range boxes {
		boxes[i] = Box{Score: score[i], Z: z[i], Y: y[i], X: x[i], D: d[i]}
	}

	return boxes, nil
}

// WriteCSV writes boxes as CSV with a header row.
func WriteCSV(w io.Writer, boxes []Box) error {
	return errors.Wrap(ToDataFrame(boxes).WriteCSV(w), "writing boxes")
}

// ReadCSV reads boxes written by WriteCSV.
func ReadCSV(r io.Reader) ([]Box, error) {
	return FromDataFrame(dataframe.ReadCSV(r, dataframe.HasHeader(true)))
}
