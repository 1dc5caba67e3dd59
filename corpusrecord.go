// CorpusRecord: the n-gram substring view over a single field — the
// Record machinery is the same, but the offset invariant is waived:
// two distinct tokens of the same value can legitimately
// contribute the same substring posting, so a second ADD at the same
// (substring, position) is not an error.
package triadb

import (
	"sort"
	"strings"
)

// CorpusRecord is the Corpus view over one field name.
type CorpusRecord struct {
	rec *Record[Text, Text, Position]
}

// NewCorpusRecord returns an empty CorpusRecord for field.
func NewCorpusRecord(field Text) *CorpusRecord {
	return &CorpusRecord{rec: newRecord[Text, Text, Position](field, nil, false)}
}

// AppendRevision feeds one decoded CorpusRevision into the record.
func (c *CorpusRecord) AppendRevision(r CorpusRevision) error { return c.rec.AppendRevision(r) }

// positionsByRecord groups substring's current (or, with timestamp,
// historical) position set by the record it belongs to.
func (c *CorpusRecord) positionsByRecord(substring Text, timestamp *int64) map[Identifier]map[int32]struct{} {
	var positions map[Position]struct{}
	if timestamp != nil {
		positions = c.rec.ReplayAt(substring, *timestamp)
	} else {
		positions = c.rec.Present(substring)
	}
	out := make(map[Identifier]map[int32]struct{})
	for p := range positions {
		toks := out[p.Record]
		if toks == nil {
			toks = make(map[int32]struct{})
			out[p.Record] = toks
		}
		toks[p.Token] = struct{}{}
	}
	return out
}

// Locate returns every record holding infix as a posting, optionally as
// of a historical timestamp. infix is lowercased first, matching the
// lowercased postings the indexing path stores.
func (c *CorpusRecord) Locate(infix string, timestamp *int64) map[Identifier]struct{} {
	byRecord := c.positionsByRecord(Text(strings.ToLower(infix)), timestamp)
	out := make(map[Identifier]struct{}, len(byRecord))
	for id := range byRecord {
		out[id] = struct{}{}
	}
	return out
}

// SearchHit is one record the search scored, with its positional match
// count.
type SearchHit struct {
	Record Identifier
	Score  int
}

// chain tracks one candidate occurrence of the query's token sequence
// within a single record: lastPos is the absolute token position the
// most recently matched token landed on, length the number of tokens
// matched so far.
type chain struct {
	record  Identifier
	lastPos int32
	length  int
}

// Search evaluates query against the corpus view using the positional
// n-gram algorithm: the query is lowercased and tokenized
// on whitespace; stop-words are skipped but counted as an offset that
// the next real token's position must absorb, so "the cat sat" and
// "cat sat" match the same continuation. Every surviving chain's length
// is a positional match count; records are returned ordered by
// descending score, ties broken by ascending record id.
func (c *CorpusRecord) Search(query string, cfg EngineConfig) []SearchHit {
	tokens := tokenizeQuery(query)

	var chains []chain
	offset := 0
	started := false

	for _, tok := range tokens {
		if cfg.isStopWord(tok) {
			offset++
			continue
		}
		byRecord := c.positionsByRecord(Text(tok), nil)

		if !started {
			for id, positions := range byRecord {
				for pos := range positions {
					chains = append(chains, chain{record: id, lastPos: pos, length: 1})
				}
			}
			started = true
			offset = 0
			continue
		}

		next := chains[:0]
		for _, ch := range chains {
			need := ch.lastPos + 1 + int32(offset)
			if positions, ok := byRecord[ch.record]; ok {
				if _, ok := positions[need]; ok {
					next = append(next, chain{record: ch.record, lastPos: need, length: ch.length + 1})
				}
			}
		}
		chains = next
		offset = 0
	}

	best := make(map[Identifier]int)
	for _, ch := range chains {
		if ch.length > best[ch.record] {
			best[ch.record] = ch.length
		}
	}

	hits := make([]SearchHit, 0, len(best))
	for id, score := range best {
		hits = append(hits, SearchHit{Record: id, Score: score})
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Record < hits[j].Record
	})
	return hits
}
