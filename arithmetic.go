package hips

import (
	"math"

	"github.com/pkg/errors"

	"github.com/tobiasvonderheidt/hips/llm"
)

// The arithmetic codec maintains an integer sub-interval of [0, 2^precision)
// and narrows it step by step along the model's next-token probabilities.
// The encoder picks the sub-interval whose cumulative range contains the next
// precision bits of the message and emits its token; the decoder recovers
// those bits from the rank of each cover text token. Tokens near-certain to
// the model carry close to zero bits, very uncertain tokens carry many, so
// the information rate follows the entropy of the predictions.
//
// With an empty prompt the codec switches into binary conversion: the
// encoder turns a bit string into text and the decoder turns text back into
// bits, using a single end-of-generation token as the prompt. The last entry
// of every cumulative table is rewritten to the ASCII NUL token, reserving
// the top sub-interval as an in-band end-of-message sentinel.

// A cumEntry maps a token to the upper bound (exclusive) of its sub-interval
// within the current interval. The lower bound is the previous entry's upper
// bound, or the interval bottom for the first entry.
type cumEntry struct {
	token llm.Token
	cum   int64
}

// buildCumTable constructs the cumulative table for one step. It returns the
// full list of token-weight pairs in descending weight order, and the table
// over the kept tokens with absolute interval positions: table[last].cum is
// exactly hi. Tokens kept by the threshold at a temperature of 1 or above get
// a sub-interval of width at least 1; a token kept only to reach the minimum
// of two, or kept at a temperature below 1, can get width 0.
//
// Encoder and decoder call this with identical inputs, and every operation
// here is deterministic, so both sides see identical tables.
func buildCumTable(probabilities []float64, temperature float64, topK int, lo, hi int64) (sorted []tokenWeight, table []cumEntry) {
	sorted = scaleWeights(probabilities, temperature)

	// Cut off weights that would be rounded to a sub-interval of width 0.
	// At least the top 2 tokens are always kept so that every step has a
	// choice of sub-intervals, even when the model is near-certain about
	// the next token.
	intervalRange := hi - lo
	threshold := 1.0 / float64(intervalRange)

	count := 0
	for _, pair := range sorted {
		if pair.weight >= threshold {
			count++
		}
	}
	k := count
	if k < 2 {
		k = 2
	}
	if k > topK {
		k = topK
	}

	// Rescale the kept weights so that they sum to the interval range, and
	// round each to an integer. A weight kept by the threshold at a
	// temperature of 1 or above rescales to at least 1; any other kept
	// weight can round to zero and leave an empty sub-interval.
	sum := 0.0
	for _, pair := range sorted[:k] {
		sum += pair.weight
	}

	cumulated := int64(0)
	table = make([]cumEntry, 0, k)
	for _, pair := range sorted[:k] {
		cumulated += int64(math.Round(pair.weight * float64(intervalRange) / sum))
		table = append(table, cumEntry{token: pair.token, cum: cumulated})
	}

	// Rounding can overfill the interval; drop entries from the tail until
	// the cumulative mass fits. The cumulative values are monotonic, so the
	// overfilled entries are exactly the tail.
	overfill := 0
	for _, entry := range table {
		if entry.cum > intervalRange {
			overfill++
		}
	}
	table = table[:len(table)-overfill]

	// Rounding and the trim above can also leave a gap below the interval
	// top. Shift every entry up by the gap, which widens the first
	// sub-interval and leaves the interval exactly filled.
	gap := intervalRange - table[len(table)-1].cum
	for i := range table {
		table[i].cum += gap
	}

	// Convert to absolute positions within [lo, hi).
	for i := range table {
		table[i].cum += lo
	}

	return sorted, table
}

// messageWindow reads width bits starting at cursor, padding with 0s past
// the end of the message, and interprets them as an integer, most
// significant bit first.
func messageWindow(bits []bool, cursor, width int) int64 {
	var x int64
	for j := 0; j < width; j++ {
		x <<= 1
		if cursor+j < len(bits) && bits[cursor+j] {
			x |= 1
		}
	}
	return x
}

// nextInterval re-forms the interval after a step. The consumed leading bits
// are discarded and the freed low bits are set to 0 for the bottom end and
// to 1 for the top end.
func nextInterval(bottom, top []bool, consumed int) (lo, hi int64) {
	width := len(bottom)

	loBits := make([]bool, 0, width)
	loBits = append(loBits, bottom[consumed:]...)
	loBits = append(loBits, make([]bool, consumed)...)

	hiBits := make([]bool, 0, width)
	hiBits = append(hiBits, top[consumed:]...)
	for j := 0; j < consumed; j++ {
		hiBits = append(hiBits, true)
	}

	return BitsToInt(loBits), BitsToInt(hiBits) + 1
}

// ArithmeticEncode hides cipher in cover text generated by model. After the
// whole message is embedded, generation continues greedily until the last
// sentence is finished.
//
// With an empty prompt the call performs binary conversion instead: cipher
// must be in the padded byte format produced by BitsToBytesPadded, the
// sentence-finishing tail is skipped, and generation stops once the ASCII
// NUL sentinel token is emitted.
func ArithmeticEncode(model llm.Model, prompt string, cipher []byte, temperature float64, topK, precision int) (string, error) {
	if err := checkArithmeticParams(temperature, topK, precision); err != nil {
		return "", err
	}

	promptTokens, err := model.Tokenize(prompt)
	if err != nil {
		return "", errors.Wrap(err, "")
	}
	isDecompression := len(promptTokens) == 0

	var bits []bool
	if isDecompression {
		bits, err = BytesToBitsStripped(cipher)
		if err != nil {
			return "", err
		}
	} else {
		bits = BytesToBits(cipher)
	}

	vocab := llm.NewVocab(model)

	// Binary conversion runs with a single end-of-generation token as the
	// prompt, and needs the NUL sentinel token.
	var nul llm.Token
	if isDecompression {
		eog, ok := vocab.EndOfGeneration()
		if !ok {
			return "", errors.Wrap(ErrUnsupportedVocabulary, "no end-of-generation token")
		}
		promptTokens = []llm.Token{eog}

		nul, ok, err = vocab.AsciiNul()
		if err != nil {
			return "", err
		}
		if !ok {
			return "", errors.Wrap(ErrUnsupportedVocabulary, "no ASCII NUL token")
		}
	}

	lo, hi := int64(0), int64(1)<<precision

	var coverTokens []llm.Token
	i := 0
	lastSentenceFinished := false
	firstRun := true
	var sampled llm.Token

	// Sample tokens until the whole message is embedded. The last sentence
	// is only finished for real prompts; during binary conversion the
	// greedy tail could loop forever, the NUL sentinel terminates instead.
	for i < len(bits) || (!isDecompression && !lastSentenceFinished) {
		feed := []llm.Token{sampled}
		if firstRun {
			feed = promptTokens
		}
		logits, err := model.NextLogits(feed)
		if err != nil {
			return "", errors.Wrap(err, "")
		}
		firstRun = false

		probabilities := Softmax(logits)
		SuppressSpecial(probabilities, model)

		if i < len(bits) {
			_, table := buildCumTable(probabilities, temperature, topK, lo, hi)
			if isDecompression {
				table[len(table)-1].token = nul
			}

			// The next precision bits of the message select the
			// sub-interval that contains their value. Shedding only shared
			// leading bits keeps the message value inside [lo, hi); after a
			// forced one-bit advance the value can escape the interval, so
			// the search is bounded: a value above the interval lands in
			// the last sub-interval, which holds the sentinel, and a value
			// below it lands in the first.
			x := messageWindow(bits, i, precision)
			selected := 0
			for selected < len(table)-1 && table[selected].cum <= x {
				selected++
			}

			newBottom := lo
			if selected > 0 {
				newBottom = table[selected-1].cum
			}
			newTop := table[selected].cum

			// The leading bits shared by both interval ends are fixed now;
			// the message cursor moves past them and the interval sheds
			// them.
			bottomBits := IntToBits(newBottom, precision)
			topBits := IntToBits(newTop-1, precision)
			consumed := sharedPrefixLen(bottomBits, topBits)

			// A near-certain token narrows the interval so little that no
			// bit may be fixed. During binary conversion one bit of
			// progress is forced anyway, otherwise the loop could spin on
			// the same message position forever. The decoder applies no
			// such clamp, so after a step where it fires the two sides no
			// longer agree on the interval.
			if isDecompression && consumed == 0 {
				consumed = 1
			}
			i += consumed

			lo, hi = nextInterval(bottomBits, topBits, consumed)
			sampled = table[selected].token
		} else {
			// Greedy sampling to finish the last sentence.
			sampled = argmaxToken(probabilities)
			lastSentenceFinished, err = vocab.EndsSentence(sampled)
			if err != nil {
				return "", errors.Wrap(err, "")
			}
		}

		coverTokens = append(coverTokens, sampled)

		// The sentinel ends binary conversion in-band.
		if isDecompression && sampled == nul {
			break
		}
	}

	coverText, err := model.Detokenize(coverTokens)
	if err != nil {
		return "", errors.Wrap(err, "")
	}
	return coverText, nil
}

// ArithmeticDecode recovers the bits hidden in coverText by ArithmeticEncode
// under the same model, prompt and settings. The returned bytes begin with
// the original message; bits contributed by the sentence-finishing tail
// follow it, and a trailing partial byte is dropped.
//
// With an empty prompt the call performs binary conversion instead
// (compression of coverText into bits), and the returned bytes are in the
// padded format of BitsToBytesPadded.
func ArithmeticDecode(model llm.Model, prompt, coverText string, temperature float64, topK, precision int) ([]byte, error) {
	if err := checkArithmeticParams(temperature, topK, precision); err != nil {
		return nil, err
	}

	promptTokens, err := model.Tokenize(prompt)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	coverTokens, err := model.Tokenize(coverText)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	isCompression := len(promptTokens) == 0

	vocab := llm.NewVocab(model)

	var nul llm.Token
	if isCompression {
		eog, ok := vocab.EndOfGeneration()
		if !ok {
			return nil, errors.Wrap(ErrUnsupportedVocabulary, "no end-of-generation token")
		}
		promptTokens = []llm.Token{eog}

		nul, ok, err = vocab.AsciiNul()
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, errors.Wrap(ErrUnsupportedVocabulary, "no ASCII NUL token")
		}
	}

	lo, hi := int64(0), int64(1)<<precision

	var bits []bool
	firstRun := true
	var previous llm.Token

	for i, coverToken := range coverTokens {
		feed := []llm.Token{previous}
		if firstRun {
			feed = promptTokens
		}
		logits, err := model.NextLogits(feed)
		if err != nil {
			return nil, errors.Wrap(err, "")
		}
		firstRun = false

		probabilities := Softmax(logits)
		SuppressSpecial(probabilities, model)

		sorted, table := buildCumTable(probabilities, temperature, topK, lo, hi)
		if isCompression {
			sorted[len(table)-1].token = nul
			table[len(table)-1].token = nul
		}

		// The cover token's rank in the full descending-weight list is the
		// index of the sub-interval the encoder selected. A rank at or
		// beyond the kept entries means the cover text was produced under
		// different conditions.
		rank := -1
		for r, pair := range sorted {
			if pair.token == coverToken {
				rank = r
				break
			}
		}
		if rank < 0 || rank >= len(table) {
			return nil, &DecodeMismatchError{Position: i}
		}

		newBottom := lo
		if rank > 0 {
			newBottom = table[rank-1].cum
		}
		newTop := table[rank].cum

		bottomBits := IntToBits(newBottom, precision)
		topBits := IntToBits(newTop-1, precision)
		emitted := sharedPrefixLen(bottomBits, topBits)

		// The shared leading bits are the ones the encoder consumed at
		// this step. The last cover token additionally reveals the whole
		// lower bound, recovering trailing message bits the shared-prefix
		// rule alone would truncate.
		if i == len(coverTokens)-1 {
			bits = append(bits, bottomBits...)
		} else {
			bits = append(bits, bottomBits[:emitted]...)
		}

		lo, hi = nextInterval(bottomBits, topBits, emitted)

		previous = coverToken
	}

	if isCompression {
		return BitsToBytesPadded(bits), nil
	}
	data, err := BitsToBytes(bits[:len(bits)/8*8])
	if err != nil {
		return nil, err
	}
	return data, nil
}

func checkArithmeticParams(temperature float64, topK, precision int) error {
	if temperature <= 0 {
		return errors.Wrap(ErrInvalidParameter, "temperature must be positive")
	}
	if topK < 2 {
		return errors.Wrap(ErrInvalidParameter, "top k must be at least 2")
	}
	if precision < 2 || precision > 62 {
		return errors.Wrap(ErrInvalidParameter, "precision out of range")
	}
	return nil
}
