// Command encode hides a secret message in cover text generated by a bigram
// model trained on a corpus file. The message bytes are read from stdin and
// the cover text is written to stdout:
//
//	encode -prompt "The weather today" corpus.txt < secret.bin
//
// An empty prompt together with -mode arithmetic performs binary conversion,
// turning a padded bit string into text.
package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/pkg/errors"

	"github.com/tobiasvonderheidt/hips"
	"github.com/tobiasvonderheidt/hips/ngram"
)

var (
	mode        = flag.String("mode", "arithmetic", "codec: huffman or arithmetic")
	prompt      = flag.String("prompt", "", "steganography prompt; empty selects binary conversion")
	bitsPerTok  = flag.Int("k", 2, "huffman bits per token")
	temperature = flag.Float64("temperature", 1.0, "arithmetic temperature")
	topK        = flag.Int("topk", 300, "arithmetic candidate cap per step")
	precision   = flag.Int("precision", 26, "arithmetic interval precision in bits")
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: %s [flags] corpus\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)

	corpus := flag.Arg(0)
	if corpus == "" {
		flag.Usage()
		os.Exit(1)
	}

	if err := run(corpus); err != nil {
		log.Fatalf("%+v", err)
	}
}

func run(corpus string) error {
	text, err := os.ReadFile(corpus)
	if err != nil {
		return errors.Wrap(err, "")
	}
	model, err := ngram.NewModel(string(text))
	if err != nil {
		return errors.Wrap(err, "")
	}

	cipher, err := io.ReadAll(os.Stdin)
	if err != nil {
		return errors.Wrap(err, "")
	}

	var coverText string
	switch *mode {
	case "huffman":
		coverText, err = hips.HuffmanEncode(model, *prompt, cipher, *bitsPerTok)
	case "arithmetic":
		coverText, err = hips.ArithmeticEncode(model, *prompt, cipher, *temperature, *topK, *precision)
	default:
		return errors.Errorf("unknown mode %q", *mode)
	}
	if err != nil {
		return errors.Wrap(err, "")
	}

	if _, err := fmt.Println(coverText); err != nil {
		return errors.Wrap(err, "")
	}
	return nil
}
