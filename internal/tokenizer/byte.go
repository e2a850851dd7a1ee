package tokenizer

import "fmt"

// ByteEOS is the end-of-sequence id of the byte tokenizer.
const ByteEOS = 256

// Byte maps every byte to its own id and reserves id 256 for end of
// sequence. Any text encodes, so it pairs with models trained on raw bytes.
type Byte struct{}

func (Byte) VocabSize() int { return ByteEOS + 1 }

func (Byte) EOSID() int { return ByteEOS }

func (Byte) Encode(text string) ([]int, error) {
	ids := make([]int, len(text))
	for i := 0; i < len(text); i++ {
		ids[i] = int(text[i])
	}
	return ids, nil
}

// Decode drops the end-of-sequence id and rejects anything else outside the
// byte range.
func (Byte) Decode(ids []int) (string, error) {
	buf := make([]byte, 0, len(ids))
	for _, id := range ids {
		switch {
		case id == ByteEOS:
		case id >= 0 && id < ByteEOS:
			buf = append(buf, byte(id))
		default:
			return "", fmt.Errorf("decode: token id %d out of range", id)
		}
	}
	return string(buf), nil
}
