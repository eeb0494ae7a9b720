// Package stem provides word-normalization hooks for indexing and
// querying. A hook maps a token to the form stored in the vocabulary; nil
// means words are stored as they appear.
package stem

import (
	"github.com/kljensen/snowball"
	"github.com/pkg/errors"
)

// Func maps a word to its indexed form.
type Func func(string) string

// Snowball returns a stemmer for the given language ("english", "french",
// "spanish", "russian", "swedish", "norwegian"). The zero-value language
// returns nil, meaning no stemming.
func Snowball(language string) (Func, error) {
	if language == "" {
		return nil, nil
	}
	// probe the language once so misconfiguration fails at open time, not
	// per word
	if _, err := snowball.Stem("probe", language, true); err != nil {
		return nil, errors.Wrapf(err, "unsupported stemmer language %q", language)
	}
	return func(word string) string {
		stemmed, err := snowball.Stem(word, language, true)
		if err != nil {
			return word
		}
		return stemmed
	}, nil
}
