package llm

import (
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pkg/errors"
)

// textCacheSize bounds the number of memoized single-token detokenizations.
// Vocabulary scans touch every token once, so the cache mostly serves the
// repeated sentence-end tests during greedy tails.
const textCacheSize = 4096

// A Vocab answers vocabulary queries for a Model. Single-token
// detokenizations are memoized in an LRU cache, since the sentence-end test
// would otherwise call Detokenize for the same tokens over and over.
//
// A Vocab issues Detokenize calls only; it never advances the model context,
// so it is safe to use between NextLogits calls of a codec run.
type Vocab struct {
	model Model
	texts *lru.Cache[Token, string]

	eog     Token
	eogOK   bool
	eogDone bool
	nul     Token
	nulOK   bool
	nulDone bool
}

// NewVocab returns a Vocab for model.
func NewVocab(model Model) *Vocab {
	// lru.New only fails on a non-positive size.
	texts, err := lru.New[Token, string](textCacheSize)
	if err != nil {
		panic(err)
	}
	return &Vocab{model: model, texts: texts}
}

// Text returns the detokenization of a single token.
func (v *Vocab) Text(token Token) (string, error) {
	if text, ok := v.texts.Get(token); ok {
		return text, nil
	}
	text, err := v.model.Detokenize([]Token{token})
	if err != nil {
		return "", errors.Wrap(err, "")
	}
	v.texts.Add(token, text)
	return text, nil
}

// EndsSentence reports whether the detokenization of token ends with one of
// the sentence-final punctuation marks ".", "!" or "?". Checking the last
// character covers tokens like "?" as well as " ?".
func (v *Vocab) EndsSentence(token Token) (bool, error) {
	text, err := v.Text(token)
	if err != nil {
		return false, errors.Wrap(err, "")
	}
	if text == "" {
		return false, nil
	}
	last := text[len(text)-1]
	return last == '.' || last == '?' || last == '!', nil
}

// EndOfGeneration returns the first end-of-generation token of the
// vocabulary. ok is false if the vocabulary has none.
func (v *Vocab) EndOfGeneration() (token Token, ok bool) {
	if v.eogDone {
		return v.eog, v.eogOK
	}
	v.eogDone = true
	for t := Token(0); t < Token(v.model.VocabSize()); t++ {
		if v.model.IsEndOfGeneration(t) {
			v.eog, v.eogOK = t, true
			break
		}
	}
	return v.eog, v.eogOK
}

// AsciiNul returns the token whose detokenization is the single code point
// U+0000. ok is false if the vocabulary has no such token. err reports a
// backend failure during the scan.
func (v *Vocab) AsciiNul() (token Token, ok bool, err error) {
	if v.nulDone {
		return v.nul, v.nulOK, nil
	}
	for t := Token(0); t < Token(v.model.VocabSize()); t++ {
		text, err := v.Text(t)
		if err != nil {
			return 0, false, errors.Wrap(err, "")
		}
		if text == "\x00" {
			v.nul, v.nulOK = t, true
			break
		}
	}
	v.nulDone = true
	return v.nul, v.nulOK, nil
}
