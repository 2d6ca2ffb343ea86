package linkage

import (
	"strings"

	"github.com/agnivade/levenshtein"
	"github.com/xrash/smetrics"

	"github.com/Ramsey-B/fern/pkg/models"
)

// Feature positions in a comparison vector.
const (
	featNameJaroWinkler = iota
	featNameTokens
	featAddressJaroWinkler
	featAddressEdit
	featAddressNumbers
	featNameExact
	numFeatures
)

var featureNames = [numFeatures]string{
	"name_jaro_winkler",
	"name_tokens",
	"address_jaro_winkler",
	"address_edit",
	"address_numbers",
	"name_exact",
}

// Compare builds the feature vector for two cleaned records. Records from
// different countries are never compared, so ok is false for them.
func Compare(a, b models.Fields) (features []float64, ok bool) {
	if a.Country == "" || a.Country != b.Country {
		return nil, false
	}

	features = make([]float64, numFeatures)
	features[featNameJaroWinkler] = JaroWinkler(a.Name, b.Name)
	features[featNameTokens] = tokenOverlap(a.Name, b.Name)
	features[featAddressJaroWinkler] = JaroWinkler(a.Address, b.Address)
	features[featAddressEdit] = editSimilarity(a.Address, b.Address)
	features[featAddressNumbers] = numberAgreement(a.Address, b.Address)
	if a.Name != "" && a.Name == b.Name {
		features[featNameExact] = 1
	}
	return features, true
}

// JaroWinkler returns the Jaro-Winkler similarity of a and b in [0, 1]. The
// common-prefix boost applies above 0.7 over at most four characters.
func JaroWinkler(a, b string) float64 {
	return smetrics.JaroWinkler(a, b, 0.7, 4)
}

func editSimilarity(a, b string) float64 {
	longest := max(len(a), len(b))
	if longest == 0 {
		return 1.0
	}
	return 1.0 - float64(levenshtein.ComputeDistance(a, b))/float64(longest)
}

// tokenOverlap is the Jaccard similarity of the word sets of a and b.
func tokenOverlap(a, b string) float64 {
	as := tokenSet(a)
	bs := tokenSet(b)
	if len(as) == 0 && len(bs) == 0 {
		return 1.0
	}

	shared := 0
	for tok := range as {
		if _, ok := bs[tok]; ok {
			shared++
		}
	}
	return float64(shared) / float64(len(as)+len(bs)-shared)
}

// numberAgreement compares the numeric tokens of two addresses. Addresses
// without numbers carry no evidence either way.
func numberAgreement(a, b string) float64 {
	an := numericTokens(a)
	bn := numericTokens(b)
	if len(an) == 0 || len(bn) == 0 {
		return 0.5
	}

	shared := 0
	for tok := range an {
		if _, ok := bn[tok]; ok {
			shared++
		}
	}
	return float64(shared) / float64(len(an)+len(bn)-shared)
}

func tokenSet(s string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, tok := range strings.Fields(s) {
		set[tok] = struct{}{}
	}
	return set
}

func numericTokens(s string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, tok := range strings.Fields(s) {
		if hasDigit(tok) {
			set[tok] = struct{}{}
		}
	}
	return set
}

func hasDigit(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= '0' && s[i] <= '9' {
			return true
		}
	}
	return false
}
