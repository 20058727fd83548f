package hips

import (
	"container/heap"

	"github.com/pkg/errors"

	"github.com/tobiasvonderheidt/hips/llm"
)

// The Huffman codec builds, at each step, a Huffman tree over the
// 2^bitsPerToken most likely next tokens; the encoder walks the tree along
// the message bits and emits the leaf it reaches, the decoder looks up the
// cover token's path in the same tree. A cover text token carries as many
// bits as its leaf is deep: exactly bitsPerToken when the candidates are
// equally likely, more or fewer when their weights are uneven.

// tokenNone marks internal tree nodes, which do not represent a token.
const tokenNone = llm.Token(-1)

// A huffmanNode is a node in a per-step Huffman tree. Leaves carry a token;
// internal nodes combine the weights of their children.
type huffmanNode struct {
	token  llm.Token
	weight float64
	left   *huffmanNode
	right  *huffmanNode
}

// A huffmanHeap is a min-heap of tree nodes keyed by weight. Nodes of equal
// weight are ordered by insertion, so the merge order, and with it the shape
// of the tree, is deterministic and identical for encoder and decoder.
type huffmanHeap struct {
	nodes []*huffmanNode
	seqs  []int
	next  int
}

func (h *huffmanHeap) Len() int { return len(h.nodes) }

func (h *huffmanHeap) Less(i, j int) bool {
	if h.nodes[i].weight != h.nodes[j].weight {
		return h.nodes[i].weight < h.nodes[j].weight
	}
	return h.seqs[i] < h.seqs[j]
}

func (h *huffmanHeap) Swap(i, j int) {
	h.nodes[i], h.nodes[j] = h.nodes[j], h.nodes[i]
	h.seqs[i], h.seqs[j] = h.seqs[j], h.seqs[i]
}

func (h *huffmanHeap) Push(x interface{}) {
	h.nodes = append(h.nodes, x.(*huffmanNode))
	h.seqs = append(h.seqs, h.next)
	h.next++
}

func (h *huffmanHeap) Pop() interface{} {
	last := len(h.nodes) - 1
	node := h.nodes[last]
	h.nodes = h.nodes[:last]
	h.seqs = h.seqs[:last]
	return node
}

// buildHuffmanTree merges the given leaves into a Huffman tree and returns
// its root. Leaves must be passed in descending weight order.
func buildHuffmanTree(leaves []tokenWeight) *huffmanNode {
	h := &huffmanHeap{}
	heap.Init(h)
	for _, leaf := range leaves {
		heap.Push(h, &huffmanNode{token: leaf.token, weight: leaf.weight})
	}

	for h.Len() > 1 {
		left := heap.Pop(h).(*huffmanNode)
		right := heap.Pop(h).(*huffmanNode)
		heap.Push(h, &huffmanNode{
			token:  tokenNone,
			weight: left.weight + right.weight,
			left:   left,
			right:  right,
		})
	}
	return heap.Pop(h).(*huffmanNode)
}

// huffmanCodes collects the path of every leaf, with a left edge encoding 0
// and a right edge encoding 1.
func huffmanCodes(root *huffmanNode) map[llm.Token][]bool {
	codes := make(map[llm.Token][]bool)
	var walk func(node *huffmanNode, code []bool)
	walk = func(node *huffmanNode, code []bool) {
		if node == nil {
			return
		}
		if node.token != tokenNone {
			codes[node.token] = append([]bool(nil), code...)
			return
		}
		walk(node.left, append(code, false))
		walk(node.right, append(code, true))
	}
	walk(root, nil)
	return codes
}

// HuffmanEncode hides cipher in cover text generated by model, drawing every
// token from the 2^bitsPerToken most likely candidates and carrying as many
// bits as the token's depth in that step's tree. After the whole message is embedded,
// generation continues greedily until the last sentence is finished.
func HuffmanEncode(model llm.Model, prompt string, cipher []byte, bitsPerToken int) (string, error) {
	if err := checkHuffmanParams(model, bitsPerToken); err != nil {
		return "", err
	}

	promptTokens, err := model.Tokenize(prompt)
	if err != nil {
		return "", errors.Wrap(err, "")
	}

	vocab := llm.NewVocab(model)
	bits := BytesToBits(cipher)

	var coverTokens []llm.Token
	i := 0
	lastSentenceFinished := false
	firstRun := true
	var sampled llm.Token

	// Sample tokens until the whole message is embedded and the last
	// sentence is finished.
	for i < len(bits) || !lastSentenceFinished {
		// The first run feeds the whole prompt, later runs feed only the
		// last sampled token; the model context carries the rest.
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
			// Walk the tree over the top 2^bitsPerToken tokens along the
			// message bits until a leaf is reached. The walk takes as many
			// edges as the leaf is deep, which for uneven weights can be
			// more than bitsPerToken, and a message that runs out mid-walk
			// is padded with 0s.
			top := scaleWeights(probabilities, 1)[:1<<bitsPerToken]
			node := buildHuffmanTree(top)
			for node.token == tokenNone {
				if i >= len(bits) || !bits[i] {
					node = node.left
				} else {
					node = node.right
				}
				i++
			}
			sampled = node.token
		} else {
			// Greedy sampling to finish the last sentence.
			sampled = argmaxToken(probabilities)
			lastSentenceFinished, err = vocab.EndsSentence(sampled)
			if err != nil {
				return "", errors.Wrap(err, "")
			}
		}

		coverTokens = append(coverTokens, sampled)
	}

	coverText, err := model.Detokenize(coverTokens)
	if err != nil {
		return "", errors.Wrap(err, "")
	}
	return coverText, nil
}

// HuffmanDecode recovers the bits hidden in coverText by HuffmanEncode under
// the same model, prompt and bitsPerToken. The returned bytes begin with the
// original message; trailing bits contributed by the sentence-finishing tail
// follow it, and a trailing partial byte is dropped.
func HuffmanDecode(model llm.Model, prompt, coverText string, bitsPerToken int) ([]byte, error) {
	if err := checkHuffmanParams(model, bitsPerToken); err != nil {
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

		// Rebuild the encoder's tree and read off the cover token's path.
		top := scaleWeights(probabilities, 1)[:1<<bitsPerToken]
		codes := huffmanCodes(buildHuffmanTree(top))

		code, ok := codes[coverToken]
		if !ok {
			return nil, &DecodeMismatchError{Position: i}
		}
		bits = append(bits, code...)

		previous = coverToken
	}

	data, err := BitsToBytes(bits[:len(bits)/8*8])
	if err != nil {
		return nil, err
	}
	return data, nil
}

func checkHuffmanParams(model llm.Model, bitsPerToken int) error {
	if bitsPerToken < 1 || bitsPerToken > 30 {
		return errors.Wrap(ErrInvalidParameter, "bits per token out of range")
	}
	if 1<<bitsPerToken > model.VocabSize() {
		return errors.Wrap(ErrInvalidParameter, "bits per token exceeds vocabulary")
	}
	return nil
}
