package adapter

import (
	"strings"
	"unicode"

	"github.com/antzucaro/matchr"

	"github.com/sells-group/lobbyharvest/internal/model"
	"github.com/sells-group/lobbyharvest/internal/normalize"
)

// FuzzyThreshold is the minimum Jaro-Winkler similarity of suffix-stripped
// names for a FuzzyMatch.
const FuzzyThreshold = 0.92

var corporateSuffixes = map[string]bool{
	"llc": true, "llp": true, "ltd": true, "limited": true, "inc": true,
	"incorporated": true, "corp": true, "corporation": true, "plc": true,
	"co": true, "company": true, "gmbh": true, "ag": true, "sa": true,
	"sas": true, "sarl": true, "srl": true, "spa": true, "bv": true,
	"nv": true, "consulting": true,
}

// StripSuffixes folds case, drops punctuation and removes trailing corporate
// suffixes: "FTI Consulting, Inc." becomes "fti".
func StripSuffixes(name string) string {
	folded := strings.Map(func(r rune) rune {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			return r
		case r == '.' || r == '\'':
			return -1
		default:
			return ' '
		}
	}, normalize.Key(name))
	words := strings.Fields(folded)
	for len(words) > 1 && corporateSuffixes[words[len(words)-1]] {
		words = words[:len(words)-1]
	}
	return strings.Join(words, " ")
}

// Match grades how well a registry's entity name matches the queried firm.
func Match(query, entity string) model.Confidence {
	if strings.TrimSpace(entity) == "" {
		return model.Unverified
	}
	if normalize.Key(query) == normalize.Key(entity) {
		return model.Exact
	}
	q, e := StripSuffixes(query), StripSuffixes(entity)
	if q == "" || e == "" {
		return model.Unverified
	}
	if q == e || containsWords(e, q) || containsWords(q, e) {
		return model.FuzzyMatch
	}
	if matchr.JaroWinkler(q, e, false) >= FuzzyThreshold {
		return model.FuzzyMatch
	}
	return model.Unverified
}

// containsWords reports whether needle appears in haystack on word
// boundaries. Needles shorter than three characters never match.
func containsWords(haystack, needle string) bool {
	if len(needle) < 3 {
		return false
	}
	return strings.Contains(" "+haystack+" ", " "+needle+" ")
}

// Best returns the index of the candidate matching query with the highest
// confidence, first wins on ties. It returns -1 when nothing matches better
// than Unverified.
func Best(query string, candidates []string) (int, model.Confidence) {
	best, conf := -1, model.Unverified
	for i, c := range candidates {
		if m := Match(query, c); m > conf {
			best, conf = i, m
			if m == model.Exact {
				break
			}
		}
	}
	return best, conf
}
