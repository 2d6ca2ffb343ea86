package linkage

import (
	"context"
	"fmt"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// TrainOptions tune a training run.
type TrainOptions struct {
	// MaxPairs caps the labeled pairs used. Zero means MaxTrainingPairs.
	MaxPairs int
	// MaxComparisons bounds the average block size a learned predicate may produce.
	// Zero derives it from the canonical set size.
	MaxComparisons float64
}

// Trained is the serializable result of a training run.
type Trained struct {
	Classifier Classifier
	Predicates []string
	PairCount  int
	TrainedAt  time.Time
}

// Train learns blocking predicates and a pairwise classifier from labeled pairs.
// The canonical records only inform how selective each predicate is.
func Train(ctx context.Context, logger ectologger.Logger, pairs LabeledPairs, canonical map[string]models.Fields, opts TrainOptions) (*Trained, error) {
	ctx, span := tracing.StartSpan(ctx, "linkage.Train")
	defer span.End()

	if len(canonical) == 0 {
		return nil, ErrNoCanonicalRecords
	}

	maxPairs := opts.MaxPairs
	if maxPairs <= 0 {
		maxPairs = MaxTrainingPairs
	}
	pairs = pairs.Cap(maxPairs).Clean()
	if pairs.Len() == 0 {
		return nil, ErrNoTrainingPairs
	}

	var x [][]float64
	var y []float64
	add := func(list []Pair, label float64) {
		for _, pair := range list {
			if features, ok := Compare(pair.A, pair.B); ok {
				x = append(x, features)
				y = append(y, label)
			}
		}
	}
	add(pairs.Match, 1)
	add(pairs.Distinct, 0)
	if len(x) == 0 {
		return nil, fmt.Errorf("%w: every pair spans two countries", ErrNoTrainingPairs)
	}

	maxComparisons := opts.MaxComparisons
	if maxComparisons <= 0 {
		maxComparisons = max(50, float64(len(canonical))/10)
	}

	trained := &Trained{
		Classifier: *fit(x, y, defaultFit),
		Predicates: learnPredicates(pairs.Match, canonical, maxComparisons),
		PairCount:  len(x),
		TrainedAt:  time.Now().UTC(),
	}

	weights := make(map[string]any, numFeatures+1)
	for i, name := range featureNames {
		weights[name] = trained.Classifier.Coef[i]
	}
	weights["intercept"] = trained.Classifier.Intercept
	logger.WithContext(ctx).WithFields(map[string]any{
		"pairs":      trained.PairCount,
		"canonical":  len(canonical),
		"predicates": trained.Predicates,
		"weights":    weights,
	}).Info("Trained record linkage model")

	return trained, nil
}
