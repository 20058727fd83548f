// Package hips hides arbitrary bit strings in natural-language cover text
// produced by an autoregressive language model, and recovers them from the
// cover text given the same model and prompt.
//
// Two independent codecs are provided. HuffmanEncode/HuffmanDecode draw every
// token from a fixed number of most likely next tokens and carry as many bits
// per token as its depth in a per-step Huffman tree over those candidates.
// ArithmeticEncode/ArithmeticDecode carry a variable
// number of bits per token by narrowing an integer sub-interval of [0, 2^P)
// along the model's cumulative next-token probabilities, which approaches the
// entropy of the model's predictions. Both codecs are exactly symmetric: the
// decoder rebuilds the encoder's per-step tables from the same model state,
// so any drift in rounding, ordering or interval arithmetic between the two
// breaks recoverability.
//
// Calling the arithmetic codec with an empty prompt switches it into binary
// conversion: decompression of a bit string into text and compression of text
// back into bits, using a single end-of-generation token as the prompt and an
// in-band ASCII NUL token as the end-of-message sentinel.
//
// The codecs hold no global state. They are pure given a model, a prompt and
// their settings, but a model context may only be driven by one codec run at
// a time (see package llm).
//
// Reference:
// Ziegler, Deng and Rush, Neural Linguistic Steganography, EMNLP-IJCNLP 2019.
package hips

import (
	"fmt"
)

// ErrMalformedBitstream is returned when a bit sequence cannot be parsed,
// for example when packing a bit sequence whose length is not a multiple of
// eight.
var ErrMalformedBitstream = fmt.Errorf("malformed bitstream")

// ErrInvalidParameter is returned when a codec parameter is out of range.
var ErrInvalidParameter = fmt.Errorf("invalid codec parameter")

// ErrUnsupportedVocabulary is returned when binary conversion is requested
// but the model vocabulary lacks the tokens the sentinel protocol needs,
// an ASCII NUL token and an end-of-generation token.
var ErrUnsupportedVocabulary = fmt.Errorf("vocabulary does not support binary conversion")

// A DecodeMismatchError reports a cover text token that does not appear in
// the codec's candidate set at some step. This means the cover text was not
// produced by the same model, prompt and settings.
type DecodeMismatchError struct {
	// Position is the index of the offending token in the cover text.
	Position int
}

func (e *DecodeMismatchError) Error() string {
	return fmt.Sprintf("cover text cannot be decoded: token mismatch at position %d", e.Position)
}
