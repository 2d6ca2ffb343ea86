package linkage

import (
	"bytes"
	"encoding/gob"
	"fmt"
)

const artifactFormat = 1

type artifact struct {
	Format  int
	Trained Trained
}

// Encode serializes a training result into an artifact blob.
func (t *Trained) Encode() ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(artifact{Format: artifactFormat, Trained: *t}); err != nil {
		return nil, fmt.Errorf("failed to encode model artifact: %w", err)
	}
	return buf.Bytes(), nil
}

// Decode reads an artifact blob written by Encode.
func Decode(blob []byte) (*Trained, error) {
	var a artifact
	if err := gob.NewDecoder(bytes.NewReader(blob)).Decode(&a); err != nil {
		return nil, fmt.Errorf("failed to decode model artifact: %w", err)
	}
	if a.Format != artifactFormat {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedArtifact, a.Format)
	}
	return &a.Trained, nil
}
