package metric

import (
	"github.com/sugarme/gotch"
	ts "github.com/sugarme/gotch/ts"
)

// NOTE: reduction: none = 0; mean = 1; sum = 2.
const reductionMean int64 = 1

// Loss is the detector loss: balanced BCE on anchor objectness with
// optional hard negative mining, plus SmoothL1 on the 4 box regressions of
// positive anchors.
type Loss struct {
	NumHard int64
}

// NewLoss creates a Loss keeping numHard negatives per sample when training.
// numHard = 0 disables hard mining.
func NewLoss(numHard int64) *Loss {
	return &Loss{NumHard: numHard}
}

// LossResult holds the loss tensor and its scalar breakdown.
type LossResult struct {
	Loss       *ts.Tensor // differentiable total
	Classify   float64
	Regress    [4]float64 // z, y, x, d
	PosCorrect int64
	PosTotal   int64
	NegCorrect int64
	NegTotal   int64
}

// Drop frees the loss tensor.
func (r LossResult) Drop() {
	if r.Loss != nil {
		r.Loss.MustDrop()
	}
}

// Forward computes loss of detector output against anchor labels. Both are
// [N, D, H, W, A, 5] (or anything viewable as [-1, 5]). Label objectness is
// 1 for positives, -1 for negatives and 0 for ignored anchors.
func (l *Loss) Forward(output, labels *ts.Tensor, train bool) LossResult {
	batchSize := labels.MustSize()[0]
	out := output.MustView([]int64{-1, 5}, false)
	lab := labels.MustView([]int64{-1, 5}, false)

	labObj := lab.MustSelect(1, 0, false)
	posIdx := rowsWhere(labObj.MustGt(ts.FloatScalar(0.5), false))
	negIdx := rowsWhere(labObj.MustLt(ts.FloatScalar(-0.5), false))
	labObj.MustDrop()

	posOutput := out.MustIndexSelect(0, posIdx, false)
	posLabels := lab.MustIndexSelect(0, posIdx, false)
	outObj := out.MustSelect(1, 0, false)
	negOutput := outObj.MustIndexSelect(0, negIdx, true)
	negLabels := lab.MustSelect(1, 0, false).MustIndexSelect(0, negIdx, true)
	posIdx.MustDrop()
	negIdx.MustDrop()
	out.MustDrop()
	lab.MustDrop()

	if l.NumHard > 0 && train {
		negOutput, negLabels = HardMining(negOutput, negLabels, l.NumHard*batchSize)
	}
	negProb := negOutput.MustSigmoid(true)

	var res LossResult
	res.NegTotal = numel(negProb)
	if res.NegTotal > 0 {
		res.NegCorrect = countWhere(negProb.MustLt(ts.FloatScalar(0.5), false))
	}

	// negative target = label + 1 = 0
	negTarget := negLabels.MustAddScalar(ts.FloatScalar(1.0), true)
	var negLoss *ts.Tensor
	if res.NegTotal > 0 {
		negLoss = negProb.MustBinaryCrossEntropy(negTarget, ts.NewTensor(), reductionMean, false)
	}
	negProb.MustDrop()
	negTarget.MustDrop()

	res.PosTotal = numel(posOutput) / 5
	var loss *ts.Tensor
	if res.PosTotal > 0 {
		posProb := posOutput.MustSelect(1, 0, false).MustSigmoid(true)
		posTarget := posLabels.MustSelect(1, 0, false)
		posLoss := posProb.MustBinaryCrossEntropy(posTarget, ts.NewTensor(), reductionMean, false)
		res.PosCorrect = countWhere(posProb.MustGe(ts.FloatScalar(0.5), false))
		posProb.MustDrop()
		posTarget.MustDrop()

		loss = posLoss.MustMulScalar(ts.FloatScalar(0.5), true)
		if negLoss != nil {
			halfNeg := negLoss.MustMulScalar(ts.FloatScalar(0.5), true)
			loss = loss.MustAdd(halfNeg, true)
			halfNeg.MustDrop()
		}
		res.Classify = scalar(loss)

		for i := int64(0); i < 4; i++ {
			p := posOutput.MustSelect(1, i+1, false)
			t := posLabels.MustSelect(1, i+1, false)
			reg := p.MustSmoothL1Loss(t, reductionMean, 1.0, true)
			t.MustDrop()
			res.Regress[i] = scalar(reg)
			loss = loss.MustAdd(reg, true)
			reg.MustDrop()
		}
	} else {
		if negLoss != nil {
			loss = negLoss.MustMulScalar(ts.FloatScalar(0.5), true)
		} else {
			loss = ts.MustZeros([]int64{}, gotch.Float, output.MustDevice())
		}
		res.Classify = scalar(loss)
	}
	posOutput.MustDrop()
	posLabels.MustDrop()

	res.Loss = loss
	return res
}

// HardMining keeps the num negatives with the highest logits. Input tensors
// are consumed.
func HardMining(negOutput, negLabels *ts.Tensor, num int64) (*ts.Tensor, *ts.Tensor) {
	n := numel(negOutput)
	if num > n {
		num = n
	}
	vals, idx := negOutput.MustTopk(num, 0, true, true, false)
	vals.MustDrop()
	hardOutput := negOutput.MustIndexSelect(0, idx, true)
	hardLabels := negLabels.MustIndexSelect(0, idx, true)
	idx.MustDrop()

	return hardOutput, hardLabels
}

// rowsWhere returns 1D int64 indices of true elements. mask is consumed.
func rowsWhere(mask *ts.Tensor) *ts.Tensor {
	return mask.MustNonzero(true).MustView([]int64{-1}, true)
}

// countWhere counts true elements. mask is consumed.
func countWhere(mask *ts.Tensor) int64 {
	sum := mask.MustSum(gotch.Double, true)
	n := int64(sum.Float64Values()[0])
	sum.MustDrop()
	return n
}

func numel(x *ts.Tensor) int64 {
	return int64(x.Numel())
}

func scalar(x *ts.Tensor) float64 {
	return x.Float64Values()[0]
}
