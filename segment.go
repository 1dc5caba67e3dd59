// Segment: one primary block, one secondary block, and one corpus block
// sharing an id and a commit-version range.
//
// Segment.Transfer fans a single write out to all three blocks
// concurrently via errgroup; a segment whose primary and secondary
// blocks do not both hold revisions ("unbalanced") signals a crashed or
// partial transport and is rejected by Sync and at load time.
package triadb

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// Receipt records what a transferred write produced in each block, so
// the caller can fold the result into its in-memory records.
type Receipt struct {
	Primary   PrimaryRevision
	Secondary SecondaryRevision
	Corpus    []CorpusRevision // zero or more n-gram postings, possibly none
}

// Segment is the durable unit a Buffer transports its pages into.
type Segment struct {
	id  string
	dir string

	Primary   *Block[Identifier, Text, Value]
	Secondary *Block[Text, Value, Identifier]
	Corpus    *Block[Text, Text, Position]

	// workers bounds how many corpus postings Transfer inserts
	// concurrently, mirroring the shared worker pool the indexing
	// pipeline dispatches onto.
	workers int

	synced bool
}

// NewSegment creates a fresh, mutable segment rooted at root/segments/<id>/.
func NewSegment(root, id string, cfg EngineConfig, indexCache *ByteBoundedCache[string, *indexEntryMap]) (*Segment, error) {
	dir := filepath.Join(root, "segments", id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("triadb: new segment: %w", err)
	}
	return &Segment{
		id:        id,
		dir:       dir,
		Primary:   NewBlock(dir, "primary", KindPrimary, indexCache, DecodePrimaryRevision),
		Secondary: NewBlock(dir, "secondary", KindSecondary, indexCache, DecodeSecondaryRevision),
		Corpus:    NewBlock(dir, "corpus", KindCorpus, indexCache, DecodeCorpusRevision),
		workers:   cfg.workerCount(runtime.NumCPU()),
	}, nil
}

// ID returns the segment's identifier (its chronological ordering key).
func (s *Segment) ID() string { return s.id }

// CorpusPosting is one (substring, position) pair a write contributes
// to the corpus view, before Transfer inserts it.
type CorpusPosting struct {
	Key   Text
	Value Position
}

// Transfer inserts one record-view write into the primary block and
// mirrors it into the secondary and corpus blocks the caller computed,
// all three in parallel.
//
// corpusPostings may be empty (values that don't tokenize, e.g.
// non-string types, contribute no corpus revisions).
func (s *Segment) Transfer(
	primaryLocator Identifier, primaryKey Text, primaryValue Value,
	secondaryLocator Text, secondaryKey Value, secondaryValue Identifier,
	corpusLocator Text, corpusPostings []CorpusPosting,
	version int64, action Action,
) (Receipt, error) {
	var receipt Receipt
	g := new(errgroup.Group)

	g.Go(func() error {
		r, err := s.Primary.Insert(primaryLocator, primaryKey, primaryValue, version, action)
		if err != nil {
			return err
		}
		receipt.Primary = r
		return nil
	})
	g.Go(func() error {
		r, err := s.Secondary.Insert(secondaryLocator, secondaryKey, secondaryValue, version, action)
		if err != nil {
			return err
		}
		receipt.Secondary = r
		return nil
	})
	g.Go(func() error {
		if len(corpusPostings) == 0 {
			return nil
		}
		revs := make([]CorpusRevision, len(corpusPostings))
		cg := new(errgroup.Group)
		cg.SetLimit(s.workers)
		for i, p := range corpusPostings {
			i, p := i, p
			cg.Go(func() error {
				r, err := s.Corpus.Insert(corpusLocator, p.Key, p.Value, version, action)
				if err != nil {
					return err
				}
				revs[i] = r
				return nil
			})
		}
		if err := cg.Wait(); err != nil {
			return err
		}
		receipt.Corpus = revs
		return nil
	})

	if err := g.Wait(); err != nil {
		return Receipt{}, err
	}
	return receipt, nil
}

// Balanced reports whether the segment's primary and secondary blocks
// both hold at least one revision. A segment missing writes in either
// indicates a sync that was interrupted mid-transfer.
func (s *Segment) Balanced() bool {
	p, sec, c := s.Primary.Empty(), s.Secondary.Empty(), s.Corpus.Empty()
	// Corpus may legitimately be empty even when primary/secondary are
	// not (non-string values never produce postings), so balance is
	// judged only between primary and secondary.
	_ = c
	return !p && !sec
}

// Sync seals all three blocks, then writes the segment manifest last —
// the manifest's presence is what marks the segment as durably present
// on a later load.
func (s *Segment) Sync() error {
	if s.synced {
		return fmt.Errorf("%w: segment already synced", ErrStateViolation)
	}
	if !s.Balanced() {
		return fmt.Errorf("%w: segment %s", ErrUnbalancedSegment, s.id)
	}

	g := new(errgroup.Group)
	g.Go(s.Primary.Sync)
	g.Go(s.Secondary.Sync)
	g.Go(s.Corpus.Sync)
	if err := g.Wait(); err != nil {
		return err
	}

	min, max := s.MinMaxVersion()
	if err := writeManifest(s.dir, min, max); err != nil {
		return err
	}
	s.synced = true
	return nil
}

// MinMaxVersion reports the segment's overall version span, the union
// of its three blocks' stats, used to order segments chronologically
// and to detect overlap.
func (s *Segment) MinMaxVersion() (min, max int64) {
	stats := []BlockStats{s.Primary.Stats(), s.Secondary.Stats(), s.Corpus.Stats()}
	first := true
	for _, st := range stats {
		if st.Count == 0 {
			continue
		}
		if first || st.MinVersion < min {
			min = st.MinVersion
		}
		if first || st.MaxVersion > max {
			max = st.MaxVersion
		}
		first = false
	}
	return min, max
}

// LoadSegment opens a previously synced segment directory. A missing
// manifest, or a missing/malformed block, surfaces as an error so the
// caller can decide whether to drop the segment from the registry or
// fail the whole open.
func LoadSegment(root, id string, cfg EngineConfig, indexCache *ByteBoundedCache[string, *indexEntryMap]) (*Segment, error) {
	dir := filepath.Join(root, "segments", id)
	if !manifestPresent(dir) {
		return nil, fmt.Errorf("%w: segment %s has no manifest", ErrSegmentLoading, id)
	}

	primary, err := LoadBlock(dir, "primary", KindPrimary, indexCache, DecodePrimaryRevision)
	if err != nil {
		return nil, fmt.Errorf("%w: segment %s: %w", ErrSegmentLoading, id, err)
	}
	secondary, err := LoadBlock(dir, "secondary", KindSecondary, indexCache, DecodeSecondaryRevision)
	if err != nil {
		return nil, fmt.Errorf("%w: segment %s: %w", ErrSegmentLoading, id, err)
	}
	corpus, err := LoadBlock(dir, "corpus", KindCorpus, indexCache, DecodeCorpusRevision)
	if err != nil {
		return nil, fmt.Errorf("%w: segment %s: %w", ErrSegmentLoading, id, err)
	}

	s := &Segment{
		id: id, dir: dir,
		Primary: primary, Secondary: secondary, Corpus: corpus,
		workers: cfg.workerCount(runtime.NumCPU()),
		synced:  true,
	}
	if !s.Balanced() {
		return nil, fmt.Errorf("%w: segment %s", ErrUnbalancedSegment, id)
	}

	info, err := readManifest(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: segment %s: %w", ErrSegmentLoading, id, err)
	}
	if min, max := s.MinMaxVersion(); info.MinVersion != min || info.MaxVersion != max {
		return nil, fmt.Errorf("%w: segment %s: manifest version span [%d,%d] disagrees with blocks [%d,%d]",
			ErrSegmentLoading, id, info.MinVersion, info.MaxVersion, min, max)
	}
	return s, nil
}
