package imagefeaturizer

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"mlstages/internal/data"
	"mlstages/internal/downloader"
	"mlstages/internal/errs"
	"mlstages/internal/neural"
)

func tinyNetwork(t *testing.T) *neural.Network {
	t.Helper()
	n, err := neural.New("tiny", []int{12, 4, 3}, neural.ReLU, neural.Softmax, 7)
	if err != nil {
		t.Fatal(err)
	}
	n.InputShape = []int{2, 2, 3}
	return n
}

func saveNetwork(t *testing.T, n *neural.Network) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tiny.model")
	file, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer file.Close()
	if err := neural.Encode(file, n); err != nil {
		t.Fatal(err)
	}
	return path
}

func checkerboard(size int) *data.ImageValue {
	img := &data.ImageValue{Origin: "board", Height: size, Width: size, Channels: 3, Data: make([]byte, size*size*3)}
	for i := range img.Data {
		if (i/3)%2 == 0 {
			img.Data[i] = 255
		}
	}
	return img
}

func imageDataset(t *testing.T) *data.Dataset {
	t.Helper()
	ds, err := data.New(data.Schema{
		{Name: "origin", Type: data.String},
		{Name: "image", Type: data.Image},
	}, [][]any{
		{"a.png", "broken.png", "c.png"},
		{checkerboard(4), nil, checkerboard(8)},
	})
	if err != nil {
		t.Fatal(err)
	}
	return ds
}

func TestTransformCutDepth(t *testing.T) {
	path := saveNetwork(t, tinyNetwork(t))

	tests := []struct {
		cut   int
		width int
	}{
		{0, 3},
		{1, 4},
	}
	for _, tt := range tests {
		f := New("image", "features")
		if err := f.SetModelLocation(path); err != nil {
			t.Fatal(err)
		}
		f.CutOutputLayers = tt.cut
		out, err := f.Transform(imageDataset(t))
		if err != nil {
			t.Fatalf("cut %d: %v", tt.cut, err)
		}
		if out.NumRows() != 2 {
			t.Errorf("cut %d: expected the undecodable row to be dropped, got %d rows", tt.cut, out.NumRows())
		}
		col, _ := out.Column("features")
		vec := col[0].([]float64)
		if len(vec) != tt.width {
			t.Errorf("cut %d: embedding width %d, want %d", tt.cut, len(vec), tt.width)
		}
		if tt.cut == 0 {
			sum := 0.0
			for _, v := range vec {
				sum += v
			}
			if math.Abs(sum-1) > 1e-9 {
				t.Errorf("full output should be a distribution, got %v", vec)
			}
		}
	}
}

func TestTransformKeepsAbsentRows(t *testing.T) {
	f := New("image", "features")
	if err := f.SetModelLocation(saveNetwork(t, tinyNetwork(t))); err != nil {
		t.Fatal(err)
	}
	f.DropNA = false
	out, err := f.Transform(imageDataset(t))
	if err != nil {
		t.Fatal(err)
	}
	col, _ := out.Column("features")
	if len(col) != 3 || col[1] != nil {
		t.Errorf("expected an absent embedding for the undecodable image, got %v", col)
	}
}

func TestTransformRejectsDeepCut(t *testing.T) {
	f := New("image", "features")
	if err := f.SetModelLocation(saveNetwork(t, tinyNetwork(t))); err != nil {
		t.Fatal(err)
	}
	f.CutOutputLayers = 2
	_, err := f.Transform(imageDataset(t))
	var cfgErr *errs.UnsupportedConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected UnsupportedConfigurationError, got %v", err)
	}
}

func TestTransformRejectsNonImageColumn(t *testing.T) {
	f := New("origin", "features")
	if err := f.SetModelLocation(saveNetwork(t, tinyNetwork(t))); err != nil {
		t.Fatal(err)
	}
	_, err := f.Transform(imageDataset(t))
	var typeErr *errs.UnsupportedTypeError
	if !errors.As(err, &typeErr) || typeErr.Column != "origin" {
		t.Fatalf("expected UnsupportedTypeError, got %v", err)
	}
}

func TestSetModelByName(t *testing.T) {
	var buf bytes.Buffer
	if err := neural.Encode(&buf, tinyNetwork(t)); err != nil {
		t.Fatal(err)
	}
	payload := buf.Bytes()
	sum := sha256.Sum256(payload)
	schema, _ := json.Marshal(downloader.ModelSchema{
		Name:      "Tiny",
		URI:       "tiny.model",
		Hash:      hex.EncodeToString(sum[:]),
		NumLayers: 2,
	})

	mux := http.NewServeMux()
	mux.HandleFunc("/MANIFEST", func(w http.ResponseWriter, r *http.Request) { w.Write([]byte("tiny.json\n")) })
	mux.HandleFunc("/tiny.json", func(w http.ResponseWriter, r *http.Request) { w.Write(schema) })
	mux.HandleFunc("/tiny.model", func(w http.ResponseWriter, r *http.Request) { w.Write(payload) })
	srv := httptest.NewServer(mux)
	defer srv.Close()

	f := New("image", "features")
	if err := f.SetModelByName(context.Background(), downloader.New(t.TempDir(), srv.URL), "Tiny"); err != nil {
		t.Fatal(err)
	}
	if f.Schema.Name != "Tiny" || f.Schema.NumLayers != 2 {
		t.Errorf("unexpected schema %+v", f.Schema)
	}
	if _, err := f.Transform(imageDataset(t)); err != nil {
		t.Fatal(err)
	}
}

func TestToInputNearestNeighbour(t *testing.T) {
	img := &data.ImageValue{Height: 4, Width: 4, Channels: 1, Data: make([]byte, 16)}
	for i := range img.Data {
		img.Data[i] = byte(i * 17)
	}
	x, err := toInput(img, []int{2, 2, 2})
	if err != nil {
		t.Fatal(err)
	}
	// pixels (0,0), (0,2), (2,0), (2,2), single channel repeated
	want := []float64{0, 0, 2 * 17, 2 * 17, 8 * 17, 8 * 17, 10 * 17, 10 * 17}
	for i := range want {
		if math.Abs(x[i]-want[i]/255) > 1e-12 {
			t.Fatalf("got %v", x)
		}
	}

	if _, err := toInput(img, []int{3}); err == nil {
		t.Error("expected error for mismatched flat input")
	}
}
