package errs_test

import (
	"errors"
	"testing"

	pkgerrors "github.com/pkg/errors"

	"mlstages/internal/errs"
)

func TestErrorsSurviveWrapping(t *testing.T) {
	var err error = &errs.UnsupportedConfigurationError{Reason: "multiclass gradient-boosted trees not supported"}
	wrapped := pkgerrors.Wrap(err, "fitting TrainClassifier")

	var target *errs.UnsupportedConfigurationError
	if !errors.As(wrapped, &target) {
		t.Fatalf("expected UnsupportedConfigurationError in chain, got %v", wrapped)
	}
	if target.Reason != "multiclass gradient-boosted trees not supported" {
		t.Errorf("unexpected reason %q", target.Reason)
	}
}

func TestMessages(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{&errs.UnsupportedTypeError{Column: "img", Type: "Image"}, `unsupported type Image for column "img"`},
		{&errs.UnsupportedTypeError{Column: "img", Type: "Image", Stage: "Featurize"}, `Featurize: unsupported type Image for column "img"`},
		{&errs.UnrecognizedAlgorithmError{Algorithm: "svm"}, "unrecognized algorithm: svm"},
	}
	for _, tt := range tests {
		if got := tt.err.Error(); got != tt.want {
			t.Errorf("got %q, want %q", got, tt.want)
		}
	}
}
