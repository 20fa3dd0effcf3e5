// Package search implements the inverted + filter index over record fields
// (spec §4.D): free-text search over name/description/tags, keyword
// filtering over variant/parent_id, and universe-bitmap intersection before
// paging.
//
// No example repo embeds a Go full-text engine; this is the one ecosystem
// dependency DESIGN.md names rather than grounds — github.com/blevesearch/
// bleve/v2, an embedded index with its own on-disk B+tree-backed segments,
// chosen as the closest Go analog to the original's milli (Rust-only, no Go
// port in the pack). Ingest/field shape is grounded on
// original_source/aruna-server/src/storage/milli_helpers.rs's
// prepopulate_fields: a fixed set of indexed fields populated once per
// record, diffed against the persisted field map at startup.
package search

import (
	"encoding/hex"
	"sort"

	roaring "github.com/RoaringBitmap/roaring/v2"
	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/mapping"

	"github.com/cuemby/strata/internal/apierr"
	"github.com/cuemby/strata/internal/types"
)

// fieldNodeIndex is the stored-but-not-analyzed field every document
// carries so a hit can be mapped back to a dense graph index for universe
// intersection, matching milli_helpers.rs's field→id map being populated
// alongside the free-text fields rather than as an afterthought.
const fieldNodeIndex = "node_index"

// Document is one record's searchable projection, populated by
// internal/dispatch post-write per spec §4.D ("Ingest is invoked from the
// dispatcher post-write").
type Document struct {
	NodeIndex   uint32   `json:"node_index"`
	NodeID      string   `json:"node_id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Tags        []string `json:"tags"`
	Variant     string   `json:"variant"`
	ParentID    string   `json:"parent_id"`
	Public      bool     `json:"public"`
}

// Index wraps an embedded bleve index.
type Index struct {
	bleve bleve.Index
}

func buildMapping() mapping.IndexMapping {
	text := bleve.NewTextFieldMapping()
	keyword := bleve.NewTextFieldMapping()
	keyword.Analyzer = "keyword"
	boolField := bleve.NewBooleanFieldMapping()
	numField := bleve.NewNumericFieldMapping()
	numField.Index = false
	numField.Store = true

	doc := bleve.NewDocumentMapping()
	doc.AddFieldMappingsAt("name", text)
	doc.AddFieldMappingsAt("description", text)
	doc.AddFieldMappingsAt("tags", text)
	doc.AddFieldMappingsAt("variant", keyword)
	doc.AddFieldMappingsAt("parent_id", keyword)
	doc.AddFieldMappingsAt("node_id", keyword)
	doc.AddFieldMappingsAt("public", boolField)
	doc.AddFieldMappingsAt(fieldNodeIndex, numField)

	m := bleve.NewIndexMapping()
	m.DefaultMapping = doc
	return m
}

// OpenMemory opens an in-memory index, used by single-process tests and by
// nodes that rebuild their search index from the graph on startup rather
// than persisting it separately (the graph in B is the source of truth;
// the index is a derived artifact, matching milli_helpers.rs's own
// "rebuilt from persisted records" framing).
func OpenMemory() (*Index, error) {
	idx, err := bleve.NewMemOnly(buildMapping())
	if err != nil {
		return nil, apierr.Fatal(err, "open in-memory search index")
	}
	return &Index{bleve: idx}, nil
}

// OpenDir opens (or creates) a disk-backed index rooted at dir.
func OpenDir(dir string) (*Index, error) {
	idx, err := bleve.Open(dir)
	if err == nil {
		return &Index{bleve: idx}, nil
	}
	idx, err = bleve.New(dir, buildMapping())
	if err != nil {
		return nil, apierr.Fatal(err, "open search index at %s", dir)
	}
	return &Index{bleve: idx}, nil
}

// Close releases the underlying bleve index.
func (ix *Index) Close() error {
	return ix.bleve.Close()
}

// Ingest indexes or re-indexes doc, keyed by its stable node ID.
func (ix *Index) Ingest(doc Document) error {
	if err := ix.bleve.Index(doc.NodeID, doc); err != nil {
		return apierr.Fatal(err, "index document %s", doc.NodeID)
	}
	return nil
}

// Delete removes a document from the index by node ID.
func (ix *Index) Delete(nodeID string) error {
	if err := ix.bleve.Delete(nodeID); err != nil {
		return apierr.Fatal(err, "delete document %s", nodeID)
	}
	return nil
}

// Filter is a single attribute equality clause over a keyword field
// (variant, parent_id), per spec §4.D's "filter (boolean expression over
// attribute equality/containment)" — conjunctive AND of every clause given.
type Filter struct {
	Field string
	Value string
}

// maxScan bounds how many raw hits are pulled from bleve before universe
// intersection and paging; spec.md's retention/paging model assumes a
// moderate corpus size (no explicit scale target), so this is a generous
// but finite cutoff rather than scanning the whole corpus on every query.
const maxScan = 10000

// Query runs a free-text + filter query, intersects hits with universe,
// and returns the page [offset, offset+limit) of the intersected result
// plus the total intersected hit count, per spec §4.D / §8 scenario 3.
func (ix *Index) Query(q string, filters []Filter, offset, limit int, universe *roaring.Bitmap) (expectedHits int, ids []types.ID, err error) {
	var bq bleve.Query
	if q == "" {
		bq = bleve.NewMatchAllQuery()
	} else {
		nameQ := bleve.NewMatchQuery(q)
		nameQ.SetField("name")
		descQ := bleve.NewMatchQuery(q)
		descQ.SetField("description")
		tagQ := bleve.NewMatchQuery(q)
		tagQ.SetField("tags")
		bq = bleve.NewDisjunctionQuery(nameQ, descQ, tagQ)
	}

	if len(filters) > 0 {
		conj := bleve.NewConjunctionQuery(bq)
		for _, f := range filters {
			term := bleve.NewTermQuery(f.Value)
			term.SetField(f.Field)
			conj.AddQuery(term)
		}
		bq = conj
	}

	req := bleve.NewSearchRequestOptions(bq, maxScan, 0, false)
	req.Fields = []string{fieldNodeIndex, "node_id"}

	res, err := ix.bleve.Search(req)
	if err != nil {
		return 0, nil, apierr.Wrap(apierr.KindInvalidArgument, err, "search")
	}

	type hit struct {
		id    types.ID
		index uint32
	}
	var matched []hit
	for _, h := range res.Hits {
		rawIdx, ok := h.Fields[fieldNodeIndex].(float64)
		if !ok {
			continue
		}
		idx := uint32(rawIdx)
		if universe != nil && !universe.Contains(idx) {
			continue
		}
		rawID, _ := h.Fields["node_id"].(string)
		id, perr := parseID(rawID)
		if perr != nil {
			continue
		}
		matched = append(matched, hit{id: id, index: idx})
	}

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].index < matched[j].index
	})

	expectedHits = len(matched)
	if offset >= len(matched) {
		return expectedHits, nil, nil
	}
	end := offset + limit
	if limit <= 0 || end > len(matched) {
		end = len(matched)
	}
	ids = make([]types.ID, 0, end-offset)
	for _, m := range matched[offset:end] {
		ids = append(ids, m.id)
	}
	return expectedHits, ids, nil
}

func parseID(s string) (types.ID, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return types.ID{}, err
	}
	return types.IDFromBytes(b)
}

// DocumentFor projects a graph node into its searchable Document, the
// concrete ingest shape the dispatcher calls post-write.
func DocumentFor(n *types.Node, parentID types.ID, hasParent bool) Document {
	doc := Document{
		NodeIndex: uint32(n.Index),
		NodeID:    hex.EncodeToString(n.ID.Bytes()),
		Name:      n.Name,
		Variant:   n.Kind.String(),
		Public:    n.Public,
	}
	if hasParent {
		doc.ParentID = hex.EncodeToString(parentID.Bytes())
	}
	switch n.Kind {
	case types.KindGroup:
		if n.Group != nil {
			doc.Description = n.Group.Description
		}
	case types.KindProject, types.KindCollection, types.KindDataset, types.KindObject:
		if n.Resource != nil {
			doc.Description = n.Resource.Description
			doc.Tags = n.Resource.Tags
		}
	}
	return doc
}
