package index

import (
	"bufio"
	"io"

	"github.com/tern-search/tern/queryparse"
	"github.com/tern-search/tern/stem"
)

// tokenizer splits document text into the normalized words the index
// stores. Stop words are dropped and the stemmer applied here, before
// postings accumulation, so queries and documents meet the same forms.
type tokenizer struct {
	stemmer stem.Func
	stop    map[string]struct{}
}

func newTokenizer(stemmer stem.Func, stopWords []string) *tokenizer {
	t := &tokenizer{stemmer: stemmer}
	if len(stopWords) > 0 {
		t.stop = make(map[string]struct{}, len(stopWords))
		for _, w := range stopWords {
			t.stop[queryparse.Normalize(w)] = struct{}{}
		}
	}
	return t
}

// word maps one raw token to its indexed form, or "" if it should be
// skipped.
func (t *tokenizer) word(raw string) string {
	w := queryparse.Normalize(raw)
	if w == "" {
		return ""
	}
	if _, drop := t.stop[w]; drop {
		return ""
	}
	if t.stemmer != nil {
		w = t.stemmer(w)
	}
	return w
}

// scan streams whitespace-separated tokens from r, calling emit with each
// surviving word and its position in the document.
func (t *tokenizer) scan(r io.Reader, emit func(word string, pos uint64) error) error {
	sc := bufio.NewScanner(r)
	sc.Split(bufio.ScanWords)
	var pos uint64
	for sc.Scan() {
		w := t.word(sc.Text())
		if w == "" {
			continue
		}
		if err := emit(w, pos); err != nil {
			return err
		}
		pos++
	}
	return sc.Err()
}
