package tokenizer

import "slices"

// sentinels are end-of-text markers that end generation even when the
// vocabulary names a different EOS token.
var sentinels = []string{
	"<|endoftext|>",
	"<|end_of_text|>",
	"<|im_end|>",
	"<|eot_id|>",
	"</s>",
}

// StopTokens returns the ids that end generation for tok: its EOS id, when
// it has one, followed by any sentinel tokens in its vocabulary.
func StopTokens(tok Tokenizer) []int {
	var stop []int
	if v, ok := tok.(Vocabulary); ok && v.EOSID() >= 0 {
		stop = append(stop, v.EOSID())
	}
	lookup, ok := tok.(interface{ TokenID(string) (int, bool) })
	if !ok {
		return stop
	}
	for _, s := range sentinels {
		if id, ok := lookup.TokenID(s); ok && !slices.Contains(stop, id) {
			stop = append(stop, id)
		}
	}
	return stop
}
