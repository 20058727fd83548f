package hips

import (
	"strings"

	"github.com/pkg/errors"

	"github.com/tobiasvonderheidt/hips/llm"
)

func isInvalidParameter(err error) bool {
	return errors.Cause(err) == ErrInvalidParameter
}

// stubModel is a deterministic model over a tiny vocabulary of single-rune
// tokens. NextLogits cycles through the configured logit rows, one per call,
// so encoder and decoder runs over the same number of steps see the same
// predictions. A fresh instance is needed per codec run.
type stubModel struct {
	texts   []string
	rows    [][]float32
	special []bool
	eog     []bool
	step    int
}

func (m *stubModel) Tokenize(text string) ([]llm.Token, error) {
	var tokens []llm.Token
	for _, r := range text {
		// Unknown runes map to token 1, so arbitrary prompts tokenize.
		token := llm.Token(1)
		for t, s := range m.texts {
			if s == string(r) {
				token = llm.Token(t)
				break
			}
		}
		tokens = append(tokens, token)
	}
	return tokens, nil
}

func (m *stubModel) Detokenize(tokens []llm.Token) (string, error) {
	var b strings.Builder
	for _, token := range tokens {
		b.WriteString(m.texts[token])
	}
	return b.String(), nil
}

func (m *stubModel) NextLogits(feed []llm.Token) ([]float32, error) {
	row := m.rows[m.step%len(m.rows)]
	m.step++
	return row, nil
}

func (m *stubModel) VocabSize() int { return len(m.texts) }

func (m *stubModel) IsSpecial(token llm.Token) bool {
	return m.special != nil && m.special[token]
}

func (m *stubModel) IsEndOfGeneration(token llm.Token) bool {
	return m.eog != nil && m.eog[token]
}

// uniformStub predicts four tokens with equal probability. Token 0 ends a
// sentence, so greedy tails stop after a single token.
func uniformStub() *stubModel {
	return &stubModel{
		texts: []string{".", "a", "b", "c"},
		rows:  [][]float32{{0, 0, 0, 0}},
	}
}

// skewedStub predicts four tokens with distinct probabilities.
func skewedStub() *stubModel {
	return &stubModel{
		texts: []string{".", "a", "b", "c"},
		rows:  [][]float32{{3, 2, 1, 0}},
	}
}

// alternatingStub is near-certain about every other token and uniform in
// between, so arithmetic steps alternate between carrying almost no bits and
// carrying two.
func alternatingStub() *stubModel {
	return &stubModel{
		texts: []string{".", "a", "b", "c"},
		rows:  [][]float32{{8, 0, 0, 0}, {0, 0, 0, 0}},
	}
}

// binaryStub supports binary conversion: an end-of-generation token, an
// ASCII NUL token, and four uniform letters whose sub-intervals align with
// dyadic boundaries at every step.
func binaryStub() *stubModel {
	return &stubModel{
		texts:   []string{"<eos>", "\x00", "a", "b", "c", "d"},
		rows:    [][]float32{{0, -100, 0, 0, 0, 0}},
		special: []bool{true, false, false, false, false, false},
		eog:     []bool{true, false, false, false, false, false},
	}
}
