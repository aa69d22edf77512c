// Package classifier trains a classification algorithm end to end: label
// indexing, featurization with per-family defaults, algorithm wrapping and
// scoring with standardized output columns.
package classifier

import (
	"github.com/pkg/errors"

	"mlstages/internal/cache"
	"mlstages/internal/data"
	"mlstages/internal/errs"
	"mlstages/internal/logging"
	"mlstages/internal/models"
	"mlstages/internal/pipeline"
	"mlstages/internal/preprocessing"
)

type TrainClassifier struct {
	UID         string
	LabelCol    string
	Model       models.Classifier
	IndexLabel  bool
	NumFeatures int
	Cache       *cache.Manager
}

func NewTrainClassifier(labelCol string, model models.Classifier) *TrainClassifier {
	return &TrainClassifier{
		UID:        pipeline.NewUID("TrainClassifier"),
		LabelCol:   labelCol,
		Model:      model,
		IndexLabel: true,
	}
}

func (tc *TrainClassifier) FeaturesCol() string {
	return tc.UID + "_features"
}

func (tc *TrainClassifier) Fit(ds *data.Dataset) (pipeline.Transformer, error) {
	return tc.FitModel(ds)
}

func (tc *TrainClassifier) FitModel(ds *data.Dataset) (*TrainedClassifierModel, error) {
	log := logging.For("TrainClassifier").With().Str("uid", tc.UID).Logger()

	if tc.Model == nil {
		return nil, errors.New("no classification algorithm set")
	}
	if !ds.HasColumn(tc.LabelCol) {
		return nil, errors.Errorf("label column %q not found", tc.LabelCol)
	}

	labeled, levels, err := tc.indexLabel(ds)
	if err != nil {
		return nil, err
	}
	numLevels, err := countLevels(labeled, tc.LabelCol, levels)
	if err != nil {
		return nil, err
	}

	spec, ok := tc.Model.Family().Spec()
	if !ok {
		return nil, &errs.UnrecognizedAlgorithmError{Algorithm: tc.Model.GetName()}
	}
	numFeatures := spec.NumFeatures
	if tc.NumFeatures != 0 {
		numFeatures = tc.NumFeatures
	}

	algorithm, err := tc.wrap(numLevels)
	if err != nil {
		return nil, err
	}

	featureCols := make([]string, 0, len(labeled.Schema()))
	hashed := 0
	for _, field := range labeled.Schema() {
		if field.Name == tc.LabelCol {
			continue
		}
		featureCols = append(featureCols, field.Name)
		if field.Type == data.String && !preprocessing.IsCategorical(labeled, field.Name) {
			hashed++
		}
	}
	if hashed > 0 && numFeatures >= preprocessing.NumFeaturesDefault {
		log.Warn().
			Int("hashed_columns", hashed).
			Int("width", numFeatures).
			Int("mib_per_row", numFeatures*8>>20).
			Msg("string columns hash into a dense block; set NumFeatures to reduce memory")
	}
	featurize := preprocessing.NewFeaturize(featureCols, tc.FeaturesCol())
	featurize.NumFeatures = numFeatures
	featurize.OneHotEncodeCategoricals = spec.OneHotEncode

	featurizeModel, err := featurize.FitModel(labeled)
	if err != nil {
		return nil, errors.Wrap(err, "failed to fit featurization")
	}
	featurized, err := featurizeModel.Transform(labeled)
	if err != nil {
		return nil, errors.Wrap(err, "failed to featurize training data")
	}

	store := tc.Cache
	if store == nil {
		store = cache.Default()
	}
	featurized = store.Persist(featurized)
	defer store.Unpersist(featurized)

	if spec.AdjustInputLayer {
		if err := adjustInputLayer(algorithm, featurized, tc.FeaturesCol()); err != nil {
			return nil, err
		}
	}

	log.Info().
		Str("algorithm", algorithm.GetName()).
		Str("family", tc.Model.Family().String()).
		Int("levels", numLevels).
		Int("num_features", numFeatures).
		Bool("one_hot", spec.OneHotEncode).
		Int("rows", featurized.NumRows()).
		Msg("fitting classifier")

	fitted, err := algorithm.Fit(featurized)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to fit %s", algorithm.GetName())
	}

	pm, err := pipeline.New(featurizeModel, fitted).Fit(ds)
	if err != nil {
		return nil, err
	}

	return &TrainedClassifierModel{
		UID:         tc.UID,
		LabelCol:    tc.LabelCol,
		FeaturesCol: tc.FeaturesCol(),
		Levels:      levels,
		Pipeline:    pm,
	}, nil
}

// indexLabel drops unlabeled rows and turns the label into Double class
// indices, returning the discovered levels. When IndexLabel is off the data
// is returned unchanged and no levels are recorded.
func (tc *TrainClassifier) indexLabel(ds *data.Dataset) (*data.Dataset, *data.Levels, error) {
	if !tc.IndexLabel {
		return ds, nil, nil
	}

	out, err := ds.DropNulls(tc.LabelCol)
	if err != nil {
		return nil, nil, err
	}
	if out.NumRows() == 0 {
		return nil, nil, errors.Errorf("label column %q has no values", tc.LabelCol)
	}

	levels, categorical := preprocessing.GetLevels(out, tc.LabelCol)
	if !categorical {
		indexer, err := preprocessing.NewValueIndexer(tc.LabelCol, tc.LabelCol).FitModel(out)
		if err != nil {
			return nil, nil, errors.Wrap(err, "failed to index label")
		}
		if out, err = indexer.Transform(out); err != nil {
			return nil, nil, err
		}
		levels = indexer.Levels
	}

	out, err = out.Cast(tc.LabelCol, data.Double)
	if err != nil {
		return nil, nil, err
	}
	return out, levels, nil
}

func countLevels(ds *data.Dataset, labelCol string, levels *data.Levels) (int, error) {
	if levels != nil {
		return levels.Len(), nil
	}
	distinct, err := ds.Distinct(labelCol)
	if err != nil {
		return 0, err
	}
	return len(distinct), nil
}

// wrap applies the family's multiclass rule and binds the label and feature
// columns onto the algorithm.
func (tc *TrainClassifier) wrap(numLevels int) (models.Classifier, error) {
	algorithm := tc.Model

	switch tc.Model.Family() {
	case models.LogisticRegressionFamily:
		if lr, ok := tc.Model.(*models.LogisticRegression); ok && numLevels > 2 {
			algorithm = models.NewOneVsRest(lr)
		}
	case models.GradientBoostedTreesFamily:
		if numLevels > 2 {
			return nil, &errs.UnsupportedConfigurationError{Reason: "multiclass gradient-boosted trees not supported"}
		}
	}

	binder, ok := algorithm.(models.ColumnBinder)
	if !ok {
		if tc.Model.Family() == models.GenericFamily {
			return nil, &errs.UnrecognizedAlgorithmError{Algorithm: tc.Model.GetName()}
		}
		return algorithm, nil
	}
	binder.SetLabelCol(tc.LabelCol)
	binder.SetFeaturesCol(tc.FeaturesCol())
	return algorithm, nil
}

func adjustInputLayer(algorithm models.Classifier, featurized *data.Dataset, featuresCol string) error {
	sizer, ok := algorithm.(models.InputLayerSizer)
	if !ok {
		return &errs.UnsupportedConfigurationError{Reason: algorithm.GetName() + " has no adjustable input layer"}
	}
	first, err := featurized.Head(1).Column(featuresCol)
	if err != nil {
		return err
	}
	if len(first) == 0 {
		return errors.New("no featurized rows to size the input layer")
	}
	vec, ok := first[0].([]float64)
	if !ok {
		return errors.Errorf("column %q does not hold feature vectors", featuresCol)
	}
	sizer.SetInputLayerSize(len(vec))
	return nil
}
