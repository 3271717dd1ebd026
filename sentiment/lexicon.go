package sentiment

import (
	_ "embed"
	"fmt"

	"gopkg.in/yaml.v2"
)

//go:embed lexicon.yaml
var defaultLexiconYAML []byte

type WordScore struct {
	Polarity     float64 `yaml:"p"`
	Subjectivity float64 `yaml:"s"`
}

type Lexicon struct {
	Words        map[string]WordScore `yaml:"words"`
	Intensifiers map[string]float64   `yaml:"intensifiers"`
	Negations    []string             `yaml:"negations"`

	negations map[string]struct{}
}

func ParseLexicon(data []byte) (*Lexicon, error) {
	var lex Lexicon
	if err := yaml.Unmarshal(data, &lex); err != nil {
		return nil, fmt.Errorf("parse lexicon: %w", err)
	}
	if len(lex.Words) == 0 {
		return nil, fmt.Errorf("parse lexicon: no words")
	}
	lex.negations = make(map[string]struct{}, len(lex.Negations))
	for _, w := range lex.Negations {
		lex.negations[w] = struct{}{}
	}
	return &lex, nil
}

func DefaultLexicon() (*Lexicon, error) {
	return ParseLexicon(defaultLexiconYAML)
}

func (l *Lexicon) isNegation(word string) bool {
	if _, ok := l.negations[word]; ok {
		return true
	}
	return len(word) > 3 && word[len(word)-3:] == "n't"
}
