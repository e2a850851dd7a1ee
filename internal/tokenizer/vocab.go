package tokenizer

import (
	"fmt"
	"os"
	"strings"

	"github.com/goccy/go-json"
)

// VocabConfig is the on-disk form of a vocabulary tokenizer.
type VocabConfig struct {
	Tokens []string `json:"tokens"`
	EOS    string   `json:"eos_token"`
}

// Vocab encodes by greedy longest match over a fixed token list.
type Vocab struct {
	tokens []string
	ids    map[string]int
	maxLen int
	eos    int
}

// NewVocab builds a tokenizer from tokens. eos names the end-of-sequence
// token; it must be in tokens and is never produced by Encode.
func NewVocab(tokens []string, eos string) (*Vocab, error) {
	if len(tokens) == 0 {
		return nil, fmt.Errorf("vocab: empty token list")
	}
	v := &Vocab{
		tokens: append([]string(nil), tokens...),
		ids:    make(map[string]int, len(tokens)),
		eos:    -1,
	}
	for id, tok := range tokens {
		if tok == "" {
			return nil, fmt.Errorf("vocab: empty token at id %d", id)
		}
		if _, dup := v.ids[tok]; dup {
			return nil, fmt.Errorf("vocab: duplicate token %q", tok)
		}
		v.ids[tok] = id
		if tok == eos {
			v.eos = id
			continue
		}
		v.maxLen = max(v.maxLen, len(tok))
	}
	if eos != "" && v.eos < 0 {
		return nil, fmt.Errorf("vocab: eos token %q not in vocabulary", eos)
	}
	return v, nil
}

// LoadVocabFile reads a VocabConfig JSON file.
func LoadVocabFile(path string) (*Vocab, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg VocabConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse vocab json: %w", err)
	}
	return NewVocab(cfg.Tokens, cfg.EOS)
}

func (v *Vocab) VocabSize() int { return len(v.tokens) }

func (v *Vocab) EOSID() int { return v.eos }

// TokenString returns the string for a token id when available.
func (v *Vocab) TokenString(id int) string {
	if id < 0 || id >= len(v.tokens) {
		return ""
	}
	return v.tokens[id]
}

// TokenID returns the id of an exact token string.
func (v *Vocab) TokenID(token string) (int, bool) {
	id, ok := v.ids[token]
	return id, ok
}

func (v *Vocab) Encode(text string) ([]int, error) {
	var ids []int
	for pos := 0; pos < len(text); {
		n := min(v.maxLen, len(text)-pos)
		for ; n > 0; n-- {
			id, ok := v.ids[text[pos:pos+n]]
			if ok && id != v.eos {
				ids = append(ids, id)
				break
			}
		}
		if n == 0 {
			return nil, fmt.Errorf("encode: no token matches %q at offset %d", text[pos:min(pos+8, len(text))], pos)
		}
		pos += n
	}
	return ids, nil
}

func (v *Vocab) Decode(ids []int) (string, error) {
	var b strings.Builder
	for _, id := range ids {
		if id == v.eos {
			continue
		}
		if id < 0 || id >= len(v.tokens) {
			return "", fmt.Errorf("decode: token id %d out of range", id)
		}
		b.WriteString(v.tokens[id])
	}
	return b.String(), nil
}
