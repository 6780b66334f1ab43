package encoder

import (
	ts "github.com/sugarme/gotch/ts"
)

// Encoder is encoder interface for a volumetric detection model.
// ForwardAll returns feature maps from the highest to the lowest resolution
// together with the max-pooling indices recorded on the way down.
type Encoder interface {
	ForwardAll(x *ts.Tensor, train bool) (features []*ts.Tensor, indices []*ts.Tensor)
}
