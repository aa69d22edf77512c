package data

import (
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// ImageValue is a decoded image stored row-major with interleaved channels.
type ImageValue struct {
	Origin   string
	Height   int
	Width    int
	Channels int
	Data     []byte
}

func (im *ImageValue) At(row, col, ch int) byte {
	return im.Data[(row*im.Width+col)*im.Channels+ch]
}

// FromGoImage converts a decoded image to three-channel RGB.
func FromGoImage(origin string, img image.Image) *ImageValue {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	out := &ImageValue{
		Origin:   origin,
		Height:   h,
		Width:    w,
		Channels: 3,
		Data:     make([]byte, w*h*3),
	}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, g, bl, _ := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
			i := (y*w + x) * 3
			out.Data[i] = byte(r >> 8)
			out.Data[i+1] = byte(g >> 8)
			out.Data[i+2] = byte(bl >> 8)
		}
	}
	return out
}

var imageExtensions = map[string]bool{".png": true, ".jpg": true, ".jpeg": true, ".gif": true}

// ReadImages loads every image file in dir into a dataset with an "image"
// column. Files that fail to decode become absent values.
func ReadImages(dir string) (*Dataset, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read image directory")
	}

	var paths []string
	for _, e := range entries {
		if e.IsDir() || !imageExtensions[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		paths = append(paths, filepath.Join(dir, e.Name()))
	}
	sort.Strings(paths)

	origins := make([]any, len(paths))
	images := make([]any, len(paths))
	for i, p := range paths {
		origins[i] = p
		img, err := decodeImage(p)
		if err != nil {
			continue
		}
		images[i] = FromGoImage(p, img)
	}

	return New(Schema{
		{Name: "origin", Type: String},
		{Name: "image", Type: Image},
	}, [][]any{origins, images})
}

func decodeImage(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	return img, err
}
