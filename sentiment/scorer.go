// Package sentiment scores free text with a fixed word lexicon.
package sentiment

import (
	"math"
	"strings"
	"unicode"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const (
	LabelPositive = "POSITIVE"
	LabelNegative = "NEGATIVE"
	LabelNeutral  = "NEUTRAL"

	labelCutoff       = 0.1
	negationFactor    = -0.5
	exclamationFactor = 1.25
)

type Score struct {
	Polarity     float64
	Subjectivity float64
}

// Label maps a polarity onto the three-way label. Both cutoffs are strict, so
// exactly 0.1 and -0.1 are neutral.
func Label(polarity float64) string {
	switch {
	case polarity > labelCutoff:
		return LabelPositive
	case polarity < -labelCutoff:
		return LabelNegative
	default:
		return LabelNeutral
	}
}

// Scorer is safe for concurrent use. The optional cache only memoises results
// and never changes them.
type Scorer struct {
	lexicon *Lexicon
	cache   *lru.Cache[string, Score]
}

func NewScorer(lexicon *Lexicon, cacheSize int) (*Scorer, error) {
	if lexicon == nil {
		var err error
		if lexicon, err = DefaultLexicon(); err != nil {
			return nil, err
		}
	}
	s := &Scorer{lexicon: lexicon}
	if cacheSize > 0 {
		cache, err := lru.New[string, Score](cacheSize)
		if err != nil {
			return nil, err
		}
		s.cache = cache
	}
	return s, nil
}

func (s *Scorer) Score(text string) Score {
	normalized := Normalize(text)
	if s.cache != nil {
		if score, ok := s.cache.Get(normalized); ok {
			return score
		}
	}
	score := s.score(tokenize(normalized))
	if s.cache != nil {
		s.cache.Add(normalized, score)
	}
	return score
}

type assessment struct {
	polarity     float64
	subjectivity float64
}

func (s *Scorer) score(tokens []string) Score {
	assessments := make([]assessment, 0)
	negate := false
	intensity := 1.0
	// boostable is set while the clause holds a scored word not yet boosted
	boostable := false

	for _, tok := range tokens {
		switch {
		case tok == "!":
			if boostable {
				last := &assessments[len(assessments)-1]
				last.polarity = clamp(last.polarity*exclamationFactor, -1, 1)
			}
			negate, intensity, boostable = false, 1.0, false
			continue
		case tok == ".":
			negate, intensity, boostable = false, 1.0, false
			continue
		case s.lexicon.isNegation(tok):
			negate = true
			continue
		}
		if factor, ok := s.lexicon.Intensifiers[tok]; ok {
			intensity *= factor
			continue
		}
		word, ok := s.lexicon.Words[tok]
		if !ok {
			continue
		}
		a := assessment{
			polarity:     word.Polarity * intensity,
			subjectivity: clamp(word.Subjectivity*intensity, 0, 1),
		}
		if negate {
			a.polarity *= negationFactor
		}
		a.polarity = clamp(a.polarity, -1, 1)
		assessments = append(assessments, a)
		boostable = true
		negate, intensity = false, 1.0
	}

	if len(assessments) == 0 {
		return Score{}
	}
	var polarity, subjectivity float64
	for _, a := range assessments {
		polarity += a.polarity
		subjectivity += a.subjectivity
	}
	n := float64(len(assessments))
	return Score{
		Polarity:     clamp(polarity/n, -1, 1),
		Subjectivity: clamp(subjectivity/n, 0, 1),
	}
}

// Normalize lower-cases text and strips combining accents so "Très" and
// "tres" score alike.
func Normalize(text string) string {
	lowered := cases.Lower(language.Und).String(text)
	folded, _, err := transform.String(transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC), lowered)
	if err != nil {
		return lowered
	}
	return folded
}

// tokenize splits normalised text into words, "!" marks and "." clause breaks.
// French elisions such as "j'aime" keep the part after the apostrophe.
func tokenize(text string) []string {
	tokens := make([]string, 0)
	var word strings.Builder
	flush := func() {
		if word.Len() == 0 {
			return
		}
		w := word.String()
		word.Reset()
		if !strings.HasSuffix(w, "n't") {
			if idx := strings.LastIndex(w, "'"); idx >= 0 {
				w = w[idx+1:]
			}
		}
		if w != "" {
			tokens = append(tokens, w)
		}
	}

	prevBang := false
	for _, r := range text {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			word.WriteRune(r)
			prevBang = false
		case r == '\'' || r == '’':
			word.WriteRune('\'')
		case r == '!':
			flush()
			if !prevBang {
				tokens = append(tokens, "!")
			}
			prevBang = true
		case r == '.' || r == ',' || r == ';' || r == ':' || r == '?':
			flush()
			tokens = append(tokens, ".")
			prevBang = false
		default:
			flush()
		}
	}
	flush()
	return tokens
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
