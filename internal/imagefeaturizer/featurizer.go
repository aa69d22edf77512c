// Package imagefeaturizer turns images into embedding vectors by running them
// through a pretrained network with some of its output layers removed.
package imagefeaturizer

import (
	"context"
	"fmt"
	"os"

	"github.com/pkg/errors"

	"mlstages/internal/data"
	"mlstages/internal/downloader"
	"mlstages/internal/errs"
	"mlstages/internal/logging"
	"mlstages/internal/neural"
	"mlstages/internal/pipeline"
)

type ImageFeaturizer struct {
	UID       string
	InputCol  string
	OutputCol string
	Schema    *downloader.ModelSchema
	// CutOutputLayers is how many trailing layers to discard; 0 reads the
	// full published output.
	CutOutputLayers int
	DropNA          bool

	network *neural.Network
}

func New(inputCol, outputCol string) *ImageFeaturizer {
	return &ImageFeaturizer{
		UID:       pipeline.NewUID("ImageFeaturizer"),
		InputCol:  inputCol,
		OutputCol: outputCol,
		DropNA:    true,
	}
}

// SetModel uses a downloaded model whose URI is a local file.
func (f *ImageFeaturizer) SetModel(schema *downloader.ModelSchema) error {
	network, err := loadNetwork(schema.URI)
	if err != nil {
		return err
	}
	if schema.NumLayers != 0 && schema.NumLayers != len(network.Layers) {
		return errors.Errorf("schema %q declares %d layers but the network has %d",
			schema.Name, schema.NumLayers, len(network.Layers))
	}
	f.Schema = schema
	f.network = network
	return nil
}

// SetModelLocation uses the network stored at path, describing it with a
// schema built from the network itself.
func (f *ImageFeaturizer) SetModelLocation(path string) error {
	network, err := loadNetwork(path)
	if err != nil {
		return err
	}
	f.Schema = &downloader.ModelSchema{
		Name:       network.Name,
		URI:        path,
		ModelType:  "dense",
		NumLayers:  len(network.Layers),
		LayerNames: network.LayerNames(),
	}
	f.network = network
	return nil
}

// SetModelByName downloads the named model if needed and uses it.
func (f *ImageFeaturizer) SetModelByName(ctx context.Context, d *downloader.Downloader, name string) error {
	schema, err := d.DownloadByName(ctx, name)
	if err != nil {
		return err
	}
	return f.SetModel(schema)
}

func (f *ImageFeaturizer) Transform(ds *data.Dataset) (*data.Dataset, error) {
	if f.network == nil {
		return nil, errors.New("no model set on image featurizer")
	}
	numLayers := f.Schema.NumLayers
	if numLayers == 0 {
		numLayers = len(f.network.Layers)
	}
	if f.CutOutputLayers < 0 || f.CutOutputLayers >= numLayers {
		return nil, &errs.UnsupportedConfigurationError{
			Reason: fmt.Sprintf("cannot cut %d output layers from %q with %d layers",
				f.CutOutputLayers, f.Schema.Name, numLayers),
		}
	}

	field, err := ds.Field(f.InputCol)
	if err != nil {
		return nil, err
	}
	if field.Type != data.Image {
		return nil, &errs.UnsupportedTypeError{Column: f.InputCol, Type: field.Type.String(), Stage: "ImageFeaturizer"}
	}
	images, err := ds.Column(f.InputCol)
	if err != nil {
		return nil, err
	}

	network, err := f.network.Truncate(f.CutOutputLayers)
	if err != nil {
		return nil, err
	}
	log := logging.For("ImageFeaturizer").With().Str("uid", f.UID).Logger()
	log.Debug().
		Str("model", f.Schema.Name).
		Int("cut", f.CutOutputLayers).
		Int("embedding", network.OutputSize()).
		Msg("featurizing images")

	out := make([]any, len(images))
	err = ds.ForEachPartition(func(p data.Partition) error {
		for r := p.Start; r < p.End; r++ {
			img, ok := images[r].(*data.ImageValue)
			if !ok || img == nil {
				continue
			}
			x, err := toInput(img, network.InputShape)
			if err != nil {
				return errors.Wrapf(err, "row %d", r)
			}
			y, err := network.Forward(x)
			if err != nil {
				return errors.Wrapf(err, "row %d", r)
			}
			out[r] = y
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	result, err := ds.WithColumn(data.Field{Name: f.OutputCol, Type: data.Vector}, out)
	if err != nil {
		return nil, err
	}
	if f.DropNA {
		return result.DropNulls(f.OutputCol)
	}
	return result, nil
}

func loadNetwork(path string) (*neural.Network, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open model")
	}
	defer file.Close()
	return neural.Decode(file)
}
