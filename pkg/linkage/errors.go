package linkage

import "errors"

var (
	// ErrNoCanonicalRecords is returned when training or matching has no canonical records to work with.
	ErrNoCanonicalRecords = errors.New("no canonical records")
	// ErrModelOutOfDate is returned when the model in hand is no longer the active artifact.
	ErrModelOutOfDate      = errors.New("model is out of date")
	ErrNoTrainingPairs     = errors.New("no labeled training pairs")
	ErrUnsupportedArtifact = errors.New("unsupported model artifact format")
)
