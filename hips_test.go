package hips

import (
	"bytes"
	"testing"

	"github.com/tobiasvonderheidt/hips/ngram"
)

// The tests in this file run both codecs end to end against the corpus-
// trained bigram model, hiding messages and recovering them the way the
// command line tools do.

const corpus = "the cat sat. the dog ran. the cat sat. a dog sat. the cat ran."

func bigram(t *testing.T) *ngram.Model {
	model, err := ngram.NewModel(corpus)
	if err != nil {
		t.Fatalf("%v", err)
	}
	return model
}

func TestHuffmanBigramRoundTrip(t *testing.T) {
	messages := [][]byte{
		{0x00},
		{0xFF},
		{0x42, 0x13},
		[]byte("Go"),
	}
	for _, bitsPerToken := range []int{1, 2} {
		for _, message := range messages {
			coverText, err := HuffmanEncode(bigram(t), "the cat", message, bitsPerToken)
			if err != nil {
				t.Fatalf("k=%d %x: %v", bitsPerToken, message, err)
			}
			decoded, err := HuffmanDecode(bigram(t), "the cat", coverText, bitsPerToken)
			if err != nil {
				t.Fatalf("k=%d %x: %v", bitsPerToken, message, err)
			}
			if len(decoded) < len(message) || !bytes.Equal(decoded[:len(message)], message) {
				t.Fatalf("k=%d %x: %x", bitsPerToken, message, decoded)
			}
		}
	}
}

func TestArithmeticBigramRoundTrip(t *testing.T) {
	messages := [][]byte{
		{0x00},
		{0xFF},
		{0x42, 0x13},
		[]byte("Go"),
	}
	settings := []struct {
		temperature float64
		topK        int
		precision   int
	}{
		{1, 4, 8},
		{1, 6, 16},
		{0.8, 6, 16},
		{1.2, 4, 12},
	}
	for _, s := range settings {
		for _, message := range messages {
			coverText, err := ArithmeticEncode(bigram(t), "the cat", message, s.temperature, s.topK, s.precision)
			if err != nil {
				t.Fatalf("%+v %x: %v", s, message, err)
			}
			decoded, err := ArithmeticDecode(bigram(t), "the cat", coverText, s.temperature, s.topK, s.precision)
			if err != nil {
				t.Fatalf("%+v %x: %v", s, message, err)
			}
			if len(decoded) < len(message) || !bytes.Equal(decoded[:len(message)], message) {
				t.Fatalf("%+v %x: %x", s, message, decoded)
			}
		}
	}
}

// TestArithmeticBigramPromptMismatch decodes under a different prompt than
// the encoder used, which diverges the model state and must surface as a
// mismatch rather than silently wrong bits in most cases. Decoding may also
// succeed with garbage, so only the error type is checked when one occurs.
func TestArithmeticBigramPromptMismatch(t *testing.T) {
	message := []byte{0x42, 0x13}
	coverText, err := ArithmeticEncode(bigram(t), "the cat", message, 1, 4, 8)
	if err != nil {
		t.Fatalf("%v", err)
	}

	decoded, err := ArithmeticDecode(bigram(t), "a dog", coverText, 1, 4, 8)
	if err != nil {
		if _, ok := err.(*DecodeMismatchError); !ok {
			t.Fatalf("%v", err)
		}
		return
	}
	if len(decoded) >= len(message) && bytes.Equal(decoded[:len(message)], message) {
		t.Fatalf("prompt mismatch went unnoticed")
	}
}
