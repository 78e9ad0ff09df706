package graph

import (
	"sort"

	"github.com/RoaringBitmap/roaring"
)

// sourceIndex maps a loaded source to the bitmap of arena nodes it created
// or touched. Unload walks only these nodes instead of scanning the graph.
type sourceIndex struct {
	nodes map[string]*roaring.Bitmap
}

func newSourceIndex() *sourceIndex {
	return &sourceIndex{nodes: make(map[string]*roaring.Bitmap)}
}

// record marks every node in ids as touched by source.
func (s *sourceIndex) record(source string, ids ...NodeID) {
	bm, ok := s.nodes[source]
	if !ok {
		bm = roaring.New()
		s.nodes[source] = bm
	}
	for _, id := range ids {
		bm.Add(uint32(id))
	}
}

func (s *sourceIndex) has(source string) bool {
	_, ok := s.nodes[source]
	return ok
}

// take removes source from the index and returns its node ids.
func (s *sourceIndex) take(source string) []NodeID {
	bm, ok := s.nodes[source]
	if !ok {
		return nil
	}
	delete(s.nodes, source)

	ids := make([]NodeID, 0, bm.GetCardinality())
	it := bm.Iterator()
	for it.HasNext() {
		ids = append(ids, NodeID(it.Next()))
	}
	return ids
}

// list returns the loaded sources in sorted order.
func (s *sourceIndex) list() []string {
	out := make([]string, 0, len(s.nodes))
	for src := range s.nodes {
		out = append(out, src)
	}
	sort.Strings(out)
	return out
}

// counts returns, per source, how many of its recorded nodes satisfy live.
func (s *sourceIndex) counts(live func(NodeID) bool) map[string]int {
	out := make(map[string]int, len(s.nodes))
	for src, bm := range s.nodes {
		n := 0
		it := bm.Iterator()
		for it.HasNext() {
			if live(NodeID(it.Next())) {
				n++
			}
		}
		out[src] = n
	}
	return out
}
