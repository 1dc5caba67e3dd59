// Tests for the corpus indexing pipeline: tokenization, substring
// expansion, stop-word and length bounds.
package triadb

import "testing"

func TestTokenizeLowercasesAndPositions(t *testing.T) {
	toks := tokenize("  Hello   Brave World ")
	if len(toks) != 3 {
		t.Fatalf("token count = %d, want 3", len(toks))
	}
	want := []struct {
		text string
		pos  int32
	}{{"hello", 0}, {"brave", 1}, {"world", 2}}
	for i, w := range want {
		if toks[i].text != w.text || toks[i].pos != w.pos {
			t.Fatalf("token %d = (%q, %d), want (%q, %d)", i, toks[i].text, toks[i].pos, w.text, w.pos)
		}
	}
}

func TestCorpusPostingsSkipsNonStrings(t *testing.T) {
	cfg := DefaultEngineConfig()
	if got := corpusPostingsForValue(1, NewInt32(42), cfg); got != nil {
		t.Fatalf("non-string value produced %d postings, want none", len(got))
	}
}

func TestCorpusPostingsEnumeratesSubstrings(t *testing.T) {
	cfg := DefaultEngineConfig()
	postings := corpusPostingsForValue(7, NewString("cab"), cfg)

	// All substrings of "cab": c, a, b, ca, ab, cab — minus stop words
	// ("a" is one), so: c, b, ca, ab, cab.
	want := map[Text]struct{}{"c": {}, "b": {}, "ca": {}, "ab": {}, "cab": {}}
	if len(postings) != len(want) {
		t.Fatalf("posting count = %d, want %d: %+v", len(postings), len(want), postings)
	}
	for _, p := range postings {
		if _, ok := want[p.Key]; !ok {
			t.Fatalf("unexpected posting %q", p.Key)
		}
		if p.Value.Record != 7 || p.Value.Token != 0 {
			t.Fatalf("posting %q carries position %+v, want (7, 0)", p.Key, p.Value)
		}
	}
}

func TestCorpusPostingsSkipsStopWordTokens(t *testing.T) {
	cfg := DefaultEngineConfig()
	postings := corpusPostingsForValue(1, NewString("the cat"), cfg)

	for _, p := range postings {
		if p.Value.Token == 0 {
			t.Fatalf("stop-word token 'the' should contribute no postings, got %q", p.Key)
		}
	}
	found := false
	for _, p := range postings {
		if p.Key == "cat" && p.Value.Token == 1 {
			found = true
		}
	}
	if !found {
		t.Fatalf("'cat' should post at its absolute position 1, got %+v", postings)
	}
}

func TestCorpusPostingsHonorsMaxSubstringLen(t *testing.T) {
	cfg := DefaultEngineConfig()
	cfg.MaxSubstringLen = 2
	postings := corpusPostingsForValue(1, NewString("junk"), cfg)

	for _, p := range postings {
		if len(p.Key) > 2 {
			t.Fatalf("substring %q exceeds MaxSubstringLen 2", p.Key)
		}
	}
}

func TestCorpusPostingsDedupWithinToken(t *testing.T) {
	cfg := DefaultEngineConfig()
	// "oo" occurs twice inside "oooo" but posts once per token position.
	postings := corpusPostingsForValue(1, NewString("oooo oooo"), cfg)

	type pk struct {
		key Text
		tok int32
	}
	seen := make(map[pk]int)
	for _, p := range postings {
		seen[pk{p.Key, p.Value.Token}]++
	}
	for k, n := range seen {
		if n != 1 {
			t.Fatalf("substring %q at token %d posted %d times, want 1", k.key, k.tok, n)
		}
	}
	// The second token posts the same substrings at its own position —
	// that's the legitimate n-gram overlap the offset waiver exists for.
	if _, ok := seen[pk{"oo", 1}]; !ok {
		t.Fatalf("second token's postings missing")
	}
}
