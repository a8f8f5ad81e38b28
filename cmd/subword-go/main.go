package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	subword "github.com/subwordlab/subword-go"
	"github.com/subwordlab/subword-go/bpe"
)

func die(err error) { fmt.Fprintln(os.Stderr, err); os.Exit(1) }

func usage() {
	fmt.Println("subword-go [train|encode|decode] ...")
	fmt.Println("  train  -out DIR [-vocab-size N] [-min-frequency N] FILE...")
	fmt.Println("  encode -vocab FILE -merges FILE TEXT")
	fmt.Println("  decode -vocab FILE -merges FILE ID...")
}

func main() {
	if len(os.Args) < 2 {
		usage()
		return
	}
	switch os.Args[1] {
	case "train":
		fs := flag.NewFlagSet("train", flag.ExitOnError)
		out := fs.String("out", ".", "output directory for vocab/merges")
		vocabSize := fs.Int("vocab-size", 30000, "target vocabulary size")
		minFreq := fs.Int("min-frequency", 2, "minimum pair frequency")
		_ = fs.Parse(os.Args[2:])
		if fs.NArg() == 0 {
			die(fmt.Errorf("train: no corpus files"))
		}
		tok := subword.New(nil, nil)
		trainer := bpe.NewTrainer(&bpe.TrainerOptions{
			VocabSize:    *vocabSize,
			MinFrequency: *minFreq,
			ShowProgress: true,
		})
		if err := tok.Train(context.Background(), fs.Args(), trainer); err != nil {
			die(err)
		}
		model := tok.Model().(*bpe.Model)
		paths, err := model.Save(*out, "subword")
		if err != nil {
			die(err)
		}
		for _, p := range paths {
			fmt.Println(p)
		}
	case "encode":
		fs := flag.NewFlagSet("encode", flag.ExitOnError)
		vocabPath := fs.String("vocab", "", "vocabulary file")
		mergesPath := fs.String("merges", "", "merges file")
		_ = fs.Parse(os.Args[2:])
		tok, err := load(*vocabPath, *mergesPath)
		if err != nil {
			die(err)
		}
		enc, err := tok.Encode(fs.Arg(0))
		if err != nil {
			die(err)
		}
		_ = json.NewEncoder(os.Stdout).Encode(enc)
	case "decode":
		fs := flag.NewFlagSet("decode", flag.ExitOnError)
		vocabPath := fs.String("vocab", "", "vocabulary file")
		mergesPath := fs.String("merges", "", "merges file")
		skipSpecial := fs.Bool("skip-special", false, "drop special tokens from output")
		_ = fs.Parse(os.Args[2:])
		tok, err := load(*vocabPath, *mergesPath)
		if err != nil {
			die(err)
		}
		ids := make([]int, 0, fs.NArg())
		for _, a := range fs.Args() {
			var id int
			if _, err := fmt.Sscanf(a, "%d", &id); err != nil {
				die(fmt.Errorf("bad id %q", a))
			}
			ids = append(ids, id)
		}
		text, err := tok.Decode(ids, *skipSpecial)
		if err != nil {
			die(err)
		}
		fmt.Println(text)
	default:
		usage()
	}
}

func load(vocabPath, mergesPath string) (*subword.Tokenizer, error) {
	if vocabPath == "" || mergesPath == "" {
		return nil, fmt.Errorf("-vocab and -merges are required")
	}
	model, err := bpe.FromFiles(vocabPath, mergesPath, nil)
	if err != nil {
		return nil, err
	}
	return subword.New(model, nil), nil
}
