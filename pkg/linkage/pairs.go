package linkage

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"

	"github.com/Ramsey-B/fern/pkg/models"
)

//go:embed data/training_pairs.json
var bundledPairs []byte

// MaxTrainingPairs bounds the labeled pairs used for one training run.
const MaxTrainingPairs = 15000

// Pair is two records labeled as the same facility or as distinct facilities.
type Pair struct {
	A models.Fields
	B models.Fields
}

// LabeledPairs is the training set: pairs known to match and pairs known to be distinct.
type LabeledPairs struct {
	Match    []Pair
	Distinct []Pair
}

func (p LabeledPairs) Len() int {
	return len(p.Match) + len(p.Distinct)
}

// Clean normalizes every record in the set.
func (p LabeledPairs) Clean() LabeledPairs {
	clean := func(pairs []Pair) []Pair {
		out := make([]Pair, len(pairs))
		for i, pair := range pairs {
			out[i] = Pair{A: pair.A.Clean(), B: pair.B.Clean()}
		}
		return out
	}
	return LabeledPairs{Match: clean(p.Match), Distinct: clean(p.Distinct)}
}

// Cap trims the set to at most max pairs, keeping the match/distinct ratio.
func (p LabeledPairs) Cap(max int) LabeledPairs {
	total := p.Len()
	if max <= 0 || total <= max {
		return p
	}
	matches := len(p.Match) * max / total
	if matches == 0 && len(p.Match) > 0 {
		matches = 1
	}
	distinct := max - matches
	if distinct > len(p.Distinct) {
		distinct = len(p.Distinct)
	}
	return LabeledPairs{Match: p.Match[:matches], Distinct: p.Distinct[:distinct]}
}

type pairsFile struct {
	Match    [][2]models.Fields `json:"match"`
	Distinct [][2]models.Fields `json:"distinct"`
}

// ParsePairs decodes labeled pairs from {"match": [[a, b], ...], "distinct": [[a, b], ...]}.
func ParsePairs(data []byte) (LabeledPairs, error) {
	var file pairsFile
	if err := json.Unmarshal(data, &file); err != nil {
		return LabeledPairs{}, fmt.Errorf("failed to parse training pairs: %w", err)
	}

	var pairs LabeledPairs
	for _, p := range file.Match {
		pairs.Match = append(pairs.Match, Pair{A: p[0], B: p[1]})
	}
	for _, p := range file.Distinct {
		pairs.Distinct = append(pairs.Distinct, Pair{A: p[0], B: p[1]})
	}
	return pairs, nil
}

// LoadPairs reads labeled pairs from path, or the bundled set when path is empty.
func LoadPairs(path string) (LabeledPairs, error) {
	if path == "" {
		return ParsePairs(bundledPairs)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return LabeledPairs{}, fmt.Errorf("failed to read training pairs: %w", err)
	}
	return ParsePairs(data)
}
