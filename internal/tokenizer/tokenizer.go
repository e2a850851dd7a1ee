package tokenizer

// Tokenizer defines the minimal interface used by the editor and the CLI.
type Tokenizer interface {
	Encode(text string) ([]int, error)
	Decode(ids []int) (string, error)
}

// Vocabulary is implemented by tokenizers that know their size and end of
// sequence token.
type Vocabulary interface {
	VocabSize() int
	EOSID() int
}
