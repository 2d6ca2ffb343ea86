package linkage

import (
	"sort"
	"strings"

	"github.com/Ramsey-B/fern/pkg/models"
)

// predicate derives blocking values from one field of a cleaned record.
type predicate func(models.Fields) []string

var predicates = map[string]predicate{
	"name_first_token": func(f models.Fields) []string {
		return first(strings.Fields(f.Name))
	},
	"name_prefix_4": func(f models.Fields) []string {
		return prefix(strings.ReplaceAll(f.Name, " ", ""), 4)
	},
	"name_tokens": func(f models.Fields) []string {
		return longTokens(f.Name, 4)
	},
	"name_sorted_initials": func(f models.Fields) []string {
		toks := strings.Fields(f.Name)
		if len(toks) < 2 {
			return nil
		}
		initials := make([]string, len(toks))
		for i, tok := range toks {
			initials[i] = tok[:1]
		}
		sort.Strings(initials)
		return []string{strings.Join(initials, "")}
	},
	"address_first_number": func(f models.Fields) []string {
		for _, tok := range strings.Fields(f.Address) {
			if hasDigit(tok) {
				return []string{tok}
			}
		}
		return nil
	},
	"address_first_token": func(f models.Fields) []string {
		return first(strings.Fields(f.Address))
	},
	"address_tokens": func(f models.Fields) []string {
		return longTokens(f.Address, 5)
	},
}

// DefaultPredicates are used when training has no positive pairs to learn from.
var DefaultPredicates = []string{"name_first_token", "address_first_number"}

// PredicateNames lists the known blocking predicates in a stable order.
func PredicateNames() []string {
	names := make([]string, 0, len(predicates))
	for name := range predicates {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// BlockKeys returns the blocking keys of a cleaned record under the given predicates.
// Keys embed the country so records from different countries never share a block.
func BlockKeys(f models.Fields, names []string) []string {
	if f.Country == "" {
		return nil
	}

	seen := make(map[string]struct{})
	var keys []string
	for _, name := range names {
		pred, ok := predicates[name]
		if !ok {
			continue
		}
		for _, value := range pred(f) {
			key := name + ":" + f.Country + ":" + value
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			keys = append(keys, key)
		}
	}
	return keys
}

func sharesBlock(a, b models.Fields, name string) bool {
	left := BlockKeys(a, []string{name})
	if len(left) == 0 {
		return false
	}
	right := make(map[string]struct{})
	for _, key := range BlockKeys(b, []string{name}) {
		right[key] = struct{}{}
	}
	for _, key := range left {
		if _, ok := right[key]; ok {
			return true
		}
	}
	return false
}

// learnPredicates greedily picks predicates until the positive pairs are
// covered. Predicates whose blocks would make a query compare against more
// than maxComparisons canonical records on average are not considered.
func learnPredicates(positives []Pair, canonical map[string]models.Fields, maxComparisons float64) []string {
	if len(positives) == 0 {
		return append([]string{}, DefaultPredicates...)
	}

	type option struct {
		name   string
		covers map[int]struct{}
		cost   float64
	}

	var options []option
	for _, name := range PredicateNames() {
		cost := blockCost(canonical, name)
		if cost > maxComparisons {
			continue
		}
		covers := make(map[int]struct{})
		for i, pair := range positives {
			if sharesBlock(pair.A, pair.B, name) {
				covers[i] = struct{}{}
			}
		}
		if len(covers) > 0 {
			options = append(options, option{name: name, covers: covers, cost: cost})
		}
	}

	covered := make(map[int]struct{})
	var chosen []string
	for len(covered) < len(positives) {
		best := -1
		bestGain := 0
		for i, opt := range options {
			gain := 0
			for idx := range opt.covers {
				if _, ok := covered[idx]; !ok {
					gain++
				}
			}
			if gain > bestGain || (gain == bestGain && gain > 0 && opt.cost < options[best].cost) {
				best, bestGain = i, gain
			}
		}
		if best < 0 {
			break
		}
		chosen = append(chosen, options[best].name)
		for idx := range options[best].covers {
			covered[idx] = struct{}{}
		}
		options = append(options[:best], options[best+1:]...)
	}

	if len(chosen) == 0 {
		return append([]string{}, DefaultPredicates...)
	}
	sort.Strings(chosen)
	return chosen
}

// blockCost is the expected number of canonical records sharing a block with
// a canonical record under the predicate.
func blockCost(canonical map[string]models.Fields, name string) float64 {
	if len(canonical) == 0 {
		return 0
	}
	sizes := make(map[string]int)
	for _, rec := range canonical {
		for _, key := range BlockKeys(rec, []string{name}) {
			sizes[key]++
		}
	}
	total := 0
	for _, n := range sizes {
		total += n * n
	}
	return float64(total) / float64(len(canonical))
}

func first(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	return values[:1]
}

func prefix(s string, n int) []string {
	if len(s) < n {
		if s == "" {
			return nil
		}
		return []string{s}
	}
	return []string{s[:n]}
}

func longTokens(s string, minLen int) []string {
	var out []string
	for _, tok := range strings.Fields(s) {
		if len(tok) >= minLen {
			out = append(out, tok)
		}
	}
	return out
}
