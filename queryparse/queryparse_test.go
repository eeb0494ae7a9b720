package queryparse

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTerms(t *testing.T) {
	q, err := Parse("the quick the Brown FOX")
	require.NoError(t, err)
	assert.Equal(t, []Term{
		{Word: "the", Fqt: 2},
		{Word: "quick", Fqt: 1},
		{Word: "brown", Fqt: 1},
		{Word: "fox", Fqt: 1},
	}, q.Terms)
	assert.Empty(t, q.Phrases)
	assert.Empty(t, q.Excludes)
}

func TestParsePhrase(t *testing.T) {
	q, err := Parse(`cat "white house" dog`)
	require.NoError(t, err)
	assert.Equal(t, []Term{{Word: "cat", Fqt: 1}, {Word: "dog", Fqt: 1}}, q.Terms)
	assert.Equal(t, [][]string{{"white", "house"}}, q.Phrases)
}

func TestParseSingleWordPhrase(t *testing.T) {
	q, err := Parse(`"cat"`)
	require.NoError(t, err)
	assert.Equal(t, []Term{{Word: "cat", Fqt: 1}}, q.Terms)
	assert.Empty(t, q.Phrases)
}

func TestParseConjunct(t *testing.T) {
	q, err := Parse("[red green blue] other")
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"red", "green", "blue"}}, q.Conjuncts)
	assert.Equal(t, []Term{{Word: "other", Fqt: 1}}, q.Terms)
}

func TestParseExclude(t *testing.T) {
	q, err := Parse("apple -rotten -worm")
	require.NoError(t, err)
	assert.Equal(t, []Term{{Word: "apple", Fqt: 1}}, q.Terms)
	assert.Equal(t, []string{"rotten", "worm"}, q.Excludes)
}

func TestParsePunctuationStripped(t *testing.T) {
	q, err := Parse("don't stop, believing!")
	require.NoError(t, err)
	assert.Equal(t, []Term{
		{Word: "dont", Fqt: 1},
		{Word: "stop", Fqt: 1},
		{Word: "believing", Fqt: 1},
	}, q.Terms)
}

func TestParseUnterminated(t *testing.T) {
	_, err := Parse(`"white house`)
	assert.Equal(t, ErrUnterminated, err)
	_, err = Parse("[red green")
	assert.Equal(t, ErrUnterminated, err)
}

func TestParseEmpty(t *testing.T) {
	q, err := Parse("   ")
	require.NoError(t, err)
	assert.True(t, q.Empty())

	q, err = Parse("-excluded")
	require.NoError(t, err)
	assert.True(t, q.Empty())
	assert.Equal(t, []string{"excluded"}, q.Excludes)
}
