// searchpipeline: turns a string Value into the corpus postings a
// write contributes, and turns a search query into the same token
// shape, so indexing and querying stay in lockstep — both paths score
// on the same positional-match metric because both walk the same
// tokenizer.
package triadb

import "strings"

// token is one whitespace-delimited word of a tokenized string, along
// with its absolute position in the original value.
type token struct {
	text string
	pos  int32
}

// tokenize lowercases s and splits it on runs of whitespace, recording
// each surviving token's absolute position.
func tokenize(s string) []token {
	fields := strings.Fields(strings.ToLower(s))
	out := make([]token, len(fields))
	for i, f := range fields {
		out[i] = token{text: f, pos: int32(i)}
	}
	return out
}

// tokenizeQuery is tokenize's query-side counterpart: a search query
// has no record to position against, so only the token texts matter,
// in order.
func tokenizeQuery(query string) []string {
	fields := strings.Fields(strings.ToLower(query))
	return fields
}

// corpusPostingsForValue expands value's string contents into the set
// of (substring, position) postings a write contributes to the corpus
// view. Non-string values contribute nothing.
func corpusPostingsForValue(record Identifier, value Value, cfg EngineConfig) []CorpusPosting {
	if !value.IsString() {
		return nil
	}

	var postings []CorpusPosting

	for _, tok := range tokenize(value.Str()) {
		if cfg.isStopWord(tok.text) {
			continue
		}
		runes := []rune(tok.text)
		max := len(runes)
		if cfg.MaxSubstringLen > 0 && cfg.MaxSubstringLen < max {
			max = cfg.MaxSubstringLen
		}
		// seen is scoped to this token: the same substring must still
		// post once per distinct source token (that's what the offset
		// invariant waiver on corpus records exists for), but within
		// one token's own enumeration a substring only needs to be
		// posted once at that token's position.
		seen := make(map[string]struct{})
		for length := 1; length <= max; length++ {
			for start := 0; start+length <= len(runes); start++ {
				sub := string(runes[start : start+length])
				if cfg.isStopWord(sub) {
					continue
				}
				if _, dup := seen[sub]; dup {
					continue
				}
				seen[sub] = struct{}{}
				postings = append(postings, CorpusPosting{
					Key:   Text(sub),
					Value: NewPosition(record, tok.pos),
				})
			}
		}
	}
	return postings
}
