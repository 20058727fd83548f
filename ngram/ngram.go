// Package ngram provides a word-level bigram language model trained on a
// text corpus. It implements the llm.Model contract of the steganography
// codecs and stands in for a large language-model backend where one is
// unavailable or unwanted, such as tests and the command line tools.
//
// The vocabulary consists of the corpus words plus two synthetic entries: an
// end-of-generation token and an ASCII NUL token, so that both prompted
// steganography and binary conversion work against this model. Next-token
// logits are smoothed bigram counts with a discounted unigram backoff,
// conditioned on the last token fed to the context.
package ngram

import (
	"math"
	"strings"

	"github.com/pkg/errors"

	"github.com/tobiasvonderheidt/hips/llm"
)

const (
	endOfGeneration = llm.Token(0)
	asciiNul        = llm.Token(1)

	endOfGenerationText = "<eos>"
	asciiNulText        = "\x00"
)

// ErrEmptyCorpus is returned when the training corpus contains no words.
var ErrEmptyCorpus = errors.New("ngram: empty corpus")

// A Model is a bigram language model over the words of a corpus.
//
// Like any llm.Model, a Model carries a running generation context (here
// simply the last fed token) and must not be shared between concurrent codec
// runs.
type Model struct {
	words []string
	ids   map[string]llm.Token

	// counts[previous][next] is the number of times next followed previous
	// in the corpus, with end-of-generation standing in for sentence
	// boundaries. unigrams holds the plain word frequencies used as
	// backoff, so contexts without observations still prefer common words
	// over a flat tie.
	counts   [][]int32
	unigrams []int32
	total    int32

	context llm.Token
}

// backoffWeight discounts the unigram distribution mixed into every
// prediction, in the manner of stupid backoff.
const backoffWeight = 0.4

// NewModel trains a model on corpus. Words are whitespace-separated; word
// ids are assigned in order of first appearance, so training is
// deterministic.
func NewModel(corpus string) (*Model, error) {
	fields := strings.Fields(corpus)
	if len(fields) == 0 {
		return nil, errors.Wrap(ErrEmptyCorpus, "")
	}

	m := &Model{
		words: []string{endOfGenerationText, asciiNulText},
		ids: map[string]llm.Token{
			endOfGenerationText: endOfGeneration,
			asciiNulText:        asciiNul,
		},
	}
	for _, word := range fields {
		if _, ok := m.ids[word]; !ok {
			m.ids[word] = llm.Token(len(m.words))
			m.words = append(m.words, word)
		}
	}

	m.counts = make([][]int32, len(m.words))
	for i := range m.counts {
		m.counts[i] = make([]int32, len(m.words))
	}
	m.unigrams = make([]int32, len(m.words))
	for _, word := range fields {
		m.unigrams[m.ids[word]]++
		m.total++
	}

	// The word chain is counted across sentence boundaries so that every
	// word keeps a continuation. On top of that, sentence-final words hand
	// over to the end-of-generation token and the end-of-generation row
	// collects the sentence-initial words; that row conditions the first
	// prediction of binary conversion, whose prompt is the
	// end-of-generation token alone.
	for i := 1; i < len(fields); i++ {
		m.counts[m.ids[fields[i-1]]][m.ids[fields[i]]]++
	}
	m.counts[endOfGeneration][m.ids[fields[0]]]++
	for i, word := range fields {
		if !endsSentence(word) {
			continue
		}
		m.counts[m.ids[word]][endOfGeneration]++
		if i+1 < len(fields) {
			m.counts[endOfGeneration][m.ids[fields[i+1]]]++
		}
	}

	return m, nil
}

func endsSentence(word string) bool {
	last := word[len(word)-1]
	return last == '.' || last == '?' || last == '!'
}

// Tokenize splits text on whitespace and maps every word to its id. Words
// outside the corpus vocabulary cannot be represented and yield an error.
func (m *Model) Tokenize(text string) ([]llm.Token, error) {
	fields := strings.Fields(text)
	tokens := make([]llm.Token, 0, len(fields))
	for _, word := range fields {
		id, ok := m.ids[word]
		if !ok {
			return nil, errors.Errorf("ngram: word %q not in vocabulary", word)
		}
		tokens = append(tokens, id)
	}
	return tokens, nil
}

// Detokenize joins the words of the given tokens with single spaces.
func (m *Model) Detokenize(tokens []llm.Token) (string, error) {
	words := make([]string, 0, len(tokens))
	for _, token := range tokens {
		if token < 0 || int(token) >= len(m.words) {
			return "", errors.Errorf("ngram: token %d out of range", token)
		}
		words = append(words, m.words[token])
	}
	return strings.Join(words, " "), nil
}

// NextLogits advances the context by the given tokens and returns the logits
// of the next position: log(1 + count + backoff) of the bigram counts
// conditioned on the last token, with a discounted unigram backoff. The
// smoothing keeps every transition possible, including ones never seen in
// the corpus such as the ASCII NUL token.
func (m *Model) NextLogits(feed []llm.Token) ([]float32, error) {
	if len(feed) == 0 {
		return nil, errors.Errorf("ngram: empty feed")
	}
	for _, token := range feed {
		if token < 0 || int(token) >= len(m.words) {
			return nil, errors.Errorf("ngram: token %d out of range", token)
		}
	}
	m.context = feed[len(feed)-1]

	row := m.counts[m.context]
	logits := make([]float32, len(m.words))
	for token, count := range row {
		backoff := backoffWeight * float64(m.unigrams[token]) / float64(m.total)
		logits[token] = float32(math.Log(1 + float64(count) + backoff))
	}
	return logits, nil
}

// VocabSize returns the number of tokens, corpus words plus the two
// synthetic entries.
func (m *Model) VocabSize() int {
	return len(m.words)
}

// IsSpecial reports whether token is the end-of-generation token. The model
// has no control tokens.
func (m *Model) IsSpecial(token llm.Token) bool {
	return token == endOfGeneration
}

// IsEndOfGeneration reports whether token is the end-of-generation token.
func (m *Model) IsEndOfGeneration(token llm.Token) bool {
	return token == endOfGeneration
}
