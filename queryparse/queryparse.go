// Package queryparse turns a query string into terms, phrases, AND groups
// and exclusions. The syntax is deliberately small: bare words are ranked
// terms, "quoted words" form a phrase, [w1 w2] groups words that must all
// occur, and a leading minus excludes a word.
package queryparse

import (
	"strings"
	"unicode"

	"github.com/pkg/errors"
)

var ErrUnterminated = errors.New("unterminated phrase or group")

// Term is one ranked query word with its in-query frequency.
type Term struct {
	Word string
	Fqt  uint64
}

// Query is a parsed query.
type Query struct {
	Terms     []Term
	Phrases   [][]string
	Conjuncts [][]string
	Excludes  []string
}

// Empty reports whether the query matches nothing at all.
func (q *Query) Empty() bool {
	return len(q.Terms) == 0 && len(q.Phrases) == 0 && len(q.Conjuncts) == 0
}

// Normalize maps a raw token to its indexed form: lowercased with
// everything but letters and digits removed. Indexing and parsing share it
// so query words meet the vocabulary on equal terms.
func Normalize(word string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return unicode.ToLower(r)
		}
		return -1
	}, word)
}

type parser struct {
	input string
	pos   int
}

func (p *parser) skipSpace() {
	for p.pos < len(p.input) && unicode.IsSpace(rune(p.input[p.pos])) {
		p.pos++
	}
}

func (p *parser) word() string {
	start := p.pos
	for p.pos < len(p.input) {
		c := p.input[p.pos]
		if unicode.IsSpace(rune(c)) || c == '"' || c == '[' || c == ']' {
			break
		}
		p.pos++
	}
	return Normalize(p.input[start:p.pos])
}

// until collects words up to the closing delimiter.
func (p *parser) until(close byte) ([]string, error) {
	var words []string
	for {
		p.skipSpace()
		if p.pos >= len(p.input) {
			return nil, ErrUnterminated
		}
		if p.input[p.pos] == close {
			p.pos++
			return words, nil
		}
		if w := p.word(); w != "" {
			words = append(words, w)
		} else {
			p.pos++
		}
	}
}

// Parse parses a query string. Stemming or stopping is applied by the
// caller through the index's word hook.
func Parse(input string) (*Query, error) {
	p := &parser{input: input}
	q := &Query{}
	counts := make(map[string]int)
	var order []string

	for {
		p.skipSpace()
		if p.pos >= len(p.input) {
			break
		}
		switch c := p.input[p.pos]; c {
		case '"':
			p.pos++
			words, err := p.until('"')
			if err != nil {
				return nil, err
			}
			switch len(words) {
			case 0:
			case 1:
				// a one-word phrase is just a term
				if counts[words[0]] == 0 {
					order = append(order, words[0])
				}
				counts[words[0]]++
			default:
				q.Phrases = append(q.Phrases, words)
			}
		case '[':
			p.pos++
			words, err := p.until(']')
			if err != nil {
				return nil, err
			}
			if len(words) > 0 {
				q.Conjuncts = append(q.Conjuncts, words)
			}
		case '-':
			p.pos++
			if w := p.word(); w != "" {
				q.Excludes = append(q.Excludes, w)
			}
		case ']':
			p.pos++
		default:
			if w := p.word(); w != "" {
				if counts[w] == 0 {
					order = append(order, w)
				}
				counts[w]++
			} else {
				p.pos++
			}
		}
	}

	for _, w := range order {
		q.Terms = append(q.Terms, Term{Word: w, Fqt: uint64(counts[w])})
	}
	return q, nil
}
