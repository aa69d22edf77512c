package imagefeaturizer

import (
	"github.com/pkg/errors"

	"mlstages/internal/data"
)

// toInput resizes img with nearest-neighbour sampling to a height, width and
// channels shape and scales pixels to [0,1]. A one-dimensional shape accepts
// images whose flattened size already matches.
func toInput(img *data.ImageValue, shape []int) ([]float64, error) {
	switch len(shape) {
	case 1:
		if len(img.Data) != shape[0] {
			return nil, errors.Errorf("image %s has %d values, network expects %d", img.Origin, len(img.Data), shape[0])
		}
		x := make([]float64, len(img.Data))
		for i, v := range img.Data {
			x[i] = float64(v) / 255
		}
		return x, nil
	case 3:
	default:
		return nil, errors.Errorf("unsupported network input shape %v", shape)
	}

	h, w, c := shape[0], shape[1], shape[2]
	if img.Height == 0 || img.Width == 0 {
		return nil, errors.Errorf("image %s is empty", img.Origin)
	}
	x := make([]float64, h*w*c)
	for row := 0; row < h; row++ {
		srcRow := row * img.Height / h
		for col := 0; col < w; col++ {
			srcCol := col * img.Width / w
			for ch := 0; ch < c; ch++ {
				srcCh := ch
				if srcCh >= img.Channels {
					srcCh = img.Channels - 1
				}
				x[(row*w+col)*c+ch] = float64(img.At(srcRow, srcCol, srcCh)) / 255
			}
		}
	}
	return x, nil
}
