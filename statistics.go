package hips

import (
	"math"
	"sort"

	"github.com/tobiasvonderheidt/hips/llm"
)

// Softmax normalizes logits to probabilities. The maximum logit is
// subtracted before exponentiation to avoid overflow; this does not change
// the result.
func Softmax(logits []float32) []float64 {
	max := math.Inf(-1)
	for _, logit := range logits {
		if float64(logit) > max {
			max = float64(logit)
		}
	}

	denominator := 0.0
	for _, logit := range logits {
		denominator += math.Exp(float64(logit) - max)
	}

	probabilities := make([]float64, len(logits))
	for token, logit := range logits {
		probabilities[token] = math.Exp(float64(logit)-max) / denominator
	}
	return probabilities
}

// SuppressSpecial zeroes the probabilities of all end-of-generation and
// control tokens. Suppressing end-of-generation avoids early termination
// before the whole message is embedded; suppressing control tokens avoids
// artefacts in the generated text. No renormalization happens; the zeroed
// entries simply carry no mass in the subsequent steps.
func SuppressSpecial(probabilities []float64, model llm.Model) {
	for token := range probabilities {
		if model.IsSpecial(llm.Token(token)) {
			probabilities[token] = 0
		}
	}
}

// A tokenWeight pairs a token with its working weight for one step. Weights
// are probabilities divided by temperature; they are not renormalized, since
// the codecs rescale them into the current interval anyway.
type tokenWeight struct {
	token  llm.Token
	weight float64
}

// scaleWeights divides every probability by temperature and returns the
// resulting token-weight pairs in descending weight order. Ties are broken
// by ascending token id so that encoder and decoder always agree on the
// order.
func scaleWeights(probabilities []float64, temperature float64) []tokenWeight {
	weights := make([]tokenWeight, len(probabilities))
	for token, probability := range probabilities {
		weights[token] = tokenWeight{token: llm.Token(token), weight: probability / temperature}
	}

	sort.Slice(weights, func(i, j int) bool {
		if weights[i].weight != weights[j].weight {
			return weights[i].weight > weights[j].weight
		}
		return weights[i].token < weights[j].token
	})
	return weights
}

// argmaxToken returns the token with the highest probability. Ties go to the
// lowest token id.
func argmaxToken(probabilities []float64) llm.Token {
	best := llm.Token(0)
	for token := 1; token < len(probabilities); token++ {
		if probabilities[token] > probabilities[best] {
			best = llm.Token(token)
		}
	}
	return best
}
