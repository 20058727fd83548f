// Command decode recovers the bytes hidden in cover text by the encode
// command, given the same corpus and settings. The cover text is read from
// stdin and the recovered bytes are written to stdout:
//
//	decode -prompt "The weather today" corpus.txt < cover.txt > secret.bin
package main

import (
	"bufio"
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

	cover, err := io.ReadAll(os.Stdin)
	if err != nil {
		return errors.Wrap(err, "")
	}

	var cipher []byte
	switch *mode {
	case "huffman":
		cipher, err = hips.HuffmanDecode(model, *prompt, string(cover), *bitsPerTok)
	case "arithmetic":
		cipher, err = hips.ArithmeticDecode(model, *prompt, string(cover), *temperature, *topK, *precision)
	default:
		return errors.Errorf("unknown mode %q", *mode)
	}
	if err != nil {
		return errors.Wrap(err, "")
	}

	w := bufio.NewWriter(os.Stdout)
	if _, err := w.Write(cipher); err != nil {
		return errors.Wrap(err, "")
	}
	if err := w.Flush(); err != nil {
		return errors.Wrap(err, "")
	}
	return nil
}
