package database

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/corvusdb/corvus/pkg/aggregation"
	"github.com/corvusdb/corvus/pkg/document"
	"github.com/corvusdb/corvus/pkg/index"
	"github.com/corvusdb/corvus/pkg/keystring"
	"github.com/corvusdb/corvus/pkg/query"
	"github.com/corvusdb/corvus/pkg/storage"
	"github.com/corvusdb/corvus/pkg/text"
)

// Collection stores documents in an ordered record store plus one ordered
// key store per index, and answers finds and aggregations through the
// planner and the pipeline orchestrator.
type Collection struct {
	name string

	mu      sync.RWMutex
	docs    *storage.Store
	catalog *index.Catalog
	// index name -> ordered store of [key bytes + RecordId suffix] -> RecordId
	indexStores map[string]*storage.Store
	// index name -> inverted index, for text indexes only
	textIndexes map[string]*text.Index
	// index name -> planner statistics, for key-store indexes only
	indexStats map[string]*index.IndexStats

	nextID    atomic.Int64
	sizeBytes atomic.Int64

	planner      *query.QueryPlanner
	orchestrator *aggregation.Orchestrator
	log          *slog.Logger
}

func newCollection(name string, opts Options, log *slog.Logger) (*Collection, error) {
	docs, err := storage.NewStore(opts.StoreConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create document store: %w", err)
	}
	planner := query.NewQueryPlanner(opts.Planner, query.NewPlanCache(opts.PlanCacheTTL), log)
	return &Collection{
		name:         name,
		docs:         docs,
		catalog:      index.NewCatalog(),
		indexStores:  make(map[string]*storage.Store),
		textIndexes:  make(map[string]*text.Index),
		indexStats:   make(map[string]*index.IndexStats),
		planner:      planner,
		orchestrator: aggregation.NewOrchestrator(planner, opts.Pushdown, log),
		log:          log,
	}, nil
}

// Name returns the collection name.
func (c *Collection) Name() string { return c.name }

// Planner returns the collection's query planner.
func (c *Collection) Planner() *query.QueryPlanner { return c.planner }

// Indexes returns a snapshot of the collection's index catalog.
func (c *Collection) Indexes() *index.CatalogView {
	return c.catalog.Snapshot()
}

// Count returns the number of stored documents.
func (c *Collection) Count() int64 {
	return int64(c.docs.Len())
}

// Info returns the collection-level facts planning consults.
func (c *Collection) Info() query.CollectionInfo {
	count := c.Count()
	size := c.sizeBytes.Load()
	info := query.CollectionInfo{DocumentCount: count, SizeBytes: size}
	if count > 0 {
		info.AvgDocBytes = size / count
	}
	return info
}

// recordKey encodes a RecordId as big-endian bytes, so record-id order and
// byte order coincide for the ordered store.
func recordKey(rid int64) []byte {
	return ridValue(rid)
}

func ridValue(rid int64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(rid))
	return buf
}

func ridFromValue(value []byte) int64 {
	return int64(binary.BigEndian.Uint64(value))
}

// Insert stores a document, assigning an ObjectID _id when absent, and
// maintains every index.
func (c *Collection) Insert(doc *document.Document) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !doc.Has("_id") {
		doc.Set("_id", document.NewObjectID(document.GenerateObjectID()))
	}
	rid := c.nextID.Add(1)

	entries := c.catalog.Snapshot().Entries()
	keysPerIndex := make([][][]byte, len(entries))
	for i, entry := range entries {
		if entry.Type == index.IndexTypeText {
			continue
		}
		keys, err := indexKeys(entry, doc, rid)
		if err != nil {
			return err
		}
		if entry.Unique {
			for _, values := range indexValueSets(entry, doc) {
				if c.uniqueConflict(entry, values) {
					return fmt.Errorf("%w: index %s", ErrDuplicateKey, entry.Name)
				}
			}
		}
		keysPerIndex[i] = keys
	}

	encoder := document.NewEncoder()
	payload, err := encoder.Encode(doc)
	if err != nil {
		return fmt.Errorf("failed to encode document: %w", err)
	}
	if err := c.docs.Insert(recordKey(rid), payload); err != nil {
		return err
	}
	for i, entry := range entries {
		if entry.Type == index.IndexTypeText {
			c.textIndexes[entry.Name].Add(rid, indexedText(entry, doc))
			continue
		}
		store := c.indexStores[entry.Name]
		for _, key := range keysPerIndex[i] {
			if err := store.Put(key, ridValue(rid)); err != nil {
				return err
			}
		}
		if st := c.indexStats[entry.Name]; st != nil {
			st.MarkStale()
		}
	}
	c.sizeBytes.Add(int64(len(payload)))
	return nil
}

// InsertMany inserts documents one by one, stopping at the first failure.
func (c *Collection) InsertMany(docs []*document.Document) (int, error) {
	for i, doc := range docs {
		if err := c.Insert(doc); err != nil {
			return i, err
		}
	}
	return len(docs), nil
}

// uniqueConflict reports whether a unique index already holds an entry for
// the given key values, regardless of which document owns it.
func (c *Collection) uniqueConflict(entry *index.IndexEntry, values []document.Value) bool {
	ordering := keystring.OrderingFromKeyPattern(entry.KeyPattern)

	start := keystring.NewBuilder(ordering)
	end := keystring.NewBuilder(ordering)
	for _, v := range values {
		start.AppendValue(v)
		end.AppendValue(v)
	}
	start.AppendDiscriminator(keystring.ExclusiveBefore)
	end.AppendDiscriminator(keystring.ExclusiveAfter)

	found := false
	c.indexStores[entry.Name].Scan(start.Bytes(), end.Bytes(), false, func(k, v []byte) bool {
		found = true
		return false
	})
	return found
}

// Delete removes every document matching the filter and returns the count.
// A nil filter removes everything.
func (c *Collection) Delete(filter *query.Predicate) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	type victim struct {
		rid int64
		doc *document.Document
	}
	var victims []victim
	err := c.scanDocs(1, func(rid int64, doc *document.Document) bool {
		if filter == nil || filter.Matches(doc) {
			victims = append(victims, victim{rid, doc})
		}
		return true
	})
	if err != nil {
		return 0, err
	}

	entries := c.catalog.Snapshot().Entries()
	for _, v := range victims {
		if err := c.docs.Delete(recordKey(v.rid)); err != nil {
			return 0, err
		}
		for _, entry := range entries {
			if entry.Type == index.IndexTypeText {
				c.textIndexes[entry.Name].Remove(v.rid)
				continue
			}
			keys, err := indexKeys(entry, v.doc, v.rid)
			if err != nil {
				return 0, err
			}
			store := c.indexStores[entry.Name]
			for _, key := range keys {
				// Ignore missing keys: sparse behavior may have skipped them.
				_ = store.Delete(key)
			}
			if st := c.indexStats[entry.Name]; st != nil {
				st.MarkStale()
			}
		}
	}
	return int64(len(victims)), nil
}

// scanDocs walks the record store in record-id order, decoding each payload.
func (c *Collection) scanDocs(direction int, fn func(rid int64, doc *document.Document) bool) error {
	var decodeErr error
	err := c.docs.Scan(nil, nil, direction < 0, func(key, payload []byte) bool {
		decoder := document.NewDecoder(payload)
		doc, err := decoder.Decode()
		if err != nil {
			decodeErr = fmt.Errorf("failed to decode stored document: %w", err)
			return false
		}
		return fn(ridFromValue(key), doc)
	})
	if decodeErr != nil {
		return decodeErr
	}
	return err
}

func (c *Collection) fetch(rid int64) (*document.Document, error) {
	payload, err := c.docs.Get(recordKey(rid))
	if err != nil {
		return nil, err
	}
	decoder := document.NewDecoder(payload)
	doc, err := decoder.Decode()
	if err != nil {
		return nil, fmt.Errorf("failed to decode stored document: %w", err)
	}
	return doc, nil
}

// Find plans and executes a query, returning the matching documents.
func (c *Collection) Find(q *query.CanonicalQuery) ([]*document.Document, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	solutions, err := c.planner.Plan(q, c.catalog.Snapshot(), c.Info())
	if err != nil {
		return nil, err
	}
	solutions = c.rankSolutions(solutions)
	exec := newExecutor(c)
	pairs, err := exec.run(solutions[0].Root)
	if err != nil {
		return nil, err
	}
	return docsOf(pairs), nil
}

// Aggregate plans and executes a pipeline. The pipeline is consumed.
func (c *Collection) Aggregate(p *aggregation.Pipeline) ([]*document.Document, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	plan, err := c.orchestrator.PlanPipeline(p, c.catalog.Snapshot(), c.Info())
	if err != nil {
		return nil, err
	}

	docs, _, err := c.executePlan(plan)
	if err != nil {
		return nil, err
	}
	if docs, err = plan.Pushed.Execute(docs); err != nil {
		return nil, err
	}
	return plan.Remainder.Execute(docs)
}

// executePlan produces the document stream feeding the pipeline stages:
// either a storage random cursor or the winning access plan.
func (c *Collection) executePlan(plan *aggregation.ExecutionPlan) ([]*document.Document, *ExecStats, error) {
	exec := newExecutor(c)

	if plan.RandomSampleSize > 0 {
		payloads, err := c.docs.Sample(int(plan.RandomSampleSize), rand.New(rand.NewSource(rand.Int63())))
		if err != nil {
			return nil, nil, err
		}
		var docs []*document.Document
		for _, payload := range payloads {
			decoder := document.NewDecoder(payload)
			doc, err := decoder.Decode()
			if err != nil {
				return nil, nil, fmt.Errorf("failed to decode stored document: %w", err)
			}
			exec.stats.DocsExamined++
			if plan.Query.Filter != nil && !plan.Query.Filter.Matches(doc) {
				continue
			}
			docs = append(docs, doc)
		}
		exec.stats.Returned = int64(len(docs))
		return docs, &exec.stats, nil
	}

	pairs, err := exec.run(plan.Winner.Root)
	if err != nil {
		return nil, nil, err
	}
	return docsOf(pairs), &exec.stats, nil
}

func docsOf(pairs []execPair) []*document.Document {
	docs := make([]*document.Document, 0, len(pairs))
	for _, p := range pairs {
		docs = append(docs, p.doc)
	}
	return docs
}

// CreateIndex registers an index and backfills it from the stored documents.
func (c *Collection) CreateIndex(entry *index.IndexEntry) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.catalog.CreateIndex(entry); err != nil {
		return fmt.Errorf("%w: %s", ErrIndexExists, entry.Name)
	}

	// Text indexes live in an inverted index, not an ordered key store.
	if entry.Type == index.IndexTypeText {
		idx := text.NewIndex()
		if err := c.scanDocs(1, func(rid int64, doc *document.Document) bool {
			idx.Add(rid, indexedText(entry, doc))
			return true
		}); err != nil {
			c.catalog.DropIndex(entry.Name)
			return err
		}
		c.textIndexes[entry.Name] = idx
		c.log.Debug("text index created", "collection", c.name, "index", entry.Name)
		return nil
	}

	store, err := storage.NewStore(&storage.Config{Degree: 32})
	if err != nil {
		c.catalog.DropIndex(entry.Name)
		return err
	}
	c.indexStores[entry.Name] = store

	backfillErr := c.scanDocs(1, func(rid int64, doc *document.Document) bool {
		keys, kerr := indexKeys(entry, doc, rid)
		if kerr != nil {
			err = kerr
			return false
		}
		if entry.Unique {
			for _, values := range indexValueSets(entry, doc) {
				if c.uniqueConflict(entry, values) {
					err = fmt.Errorf("%w: index %s", ErrDuplicateKey, entry.Name)
					return false
				}
			}
		}
		for _, key := range keys {
			if perr := store.Put(key, ridValue(rid)); perr != nil {
				err = perr
				return false
			}
		}
		return true
	})
	if err == nil {
		err = backfillErr
	}
	if err != nil {
		c.catalog.DropIndex(entry.Name)
		delete(c.indexStores, entry.Name)
		store.Close()
		return err
	}
	c.indexStats[entry.Name] = index.NewIndexStats()
	c.log.Debug("index created", "collection", c.name, "index", entry.Name)
	return nil
}

// DropIndex removes an index and its key store.
func (c *Collection) DropIndex(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.catalog.DropIndex(name); err != nil {
		return fmt.Errorf("%w: %s", ErrIndexNotFound, name)
	}
	if store, ok := c.indexStores[name]; ok {
		store.Close()
		delete(c.indexStores, name)
	}
	delete(c.textIndexes, name)
	delete(c.indexStats, name)
	return nil
}

func (c *Collection) close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, store := range c.indexStores {
		store.Close()
	}
	return c.docs.Close()
}

// indexedText concatenates the text a document contributes to a text index:
// string values at the indexed paths, including string array elements.
func indexedText(entry *index.IndexEntry, doc *document.Document) string {
	var parts []string
	for _, field := range entry.Fields() {
		v, ok := doc.GetPath(field)
		if !ok {
			continue
		}
		switch v.Kind() {
		case document.KindString:
			parts = append(parts, v.Str())
		case document.KindArray:
			for _, el := range v.Array() {
				if el.Kind() == document.KindString {
					parts = append(parts, el.Str())
				}
			}
		}
	}
	return strings.Join(parts, " ")
}

// indexValueSets expands a document into the value tuples an index holds for
// it: one tuple normally, one per element when a single indexed field holds
// an array. Nil means the document has no entry in this (sparse) index.
func indexValueSets(entry *index.IndexEntry, doc *document.Document) [][]document.Value {
	fields := entry.Fields()
	values := make([]document.Value, len(fields))
	arrayAt := -1
	missing := 0
	for i, field := range fields {
		v, ok := doc.GetPath(field)
		if !ok {
			missing++
			values[i] = document.Null()
			continue
		}
		if v.Kind() == document.KindArray {
			if arrayAt >= 0 {
				return nil // caller detects parallel arrays via indexKeys
			}
			arrayAt = i
		}
		values[i] = v
	}
	if entry.Sparse && missing == len(fields) {
		return nil
	}

	if arrayAt < 0 {
		return [][]document.Value{values}
	}
	elements := values[arrayAt].Array()
	if len(elements) == 0 {
		values[arrayAt] = document.Null()
		return [][]document.Value{values}
	}
	sets := make([][]document.Value, 0, len(elements))
	for _, el := range elements {
		set := append([]document.Value(nil), values...)
		set[arrayAt] = el
		sets = append(sets, set)
	}
	return sets
}

// indexKeys builds the encoded index keys a document contributes to an
// index, RecordId suffix included.
func indexKeys(entry *index.IndexEntry, doc *document.Document, rid int64) ([][]byte, error) {
	fields := entry.Fields()
	arrays := 0
	for _, field := range fields {
		if v, ok := doc.GetPath(field); ok && v.Kind() == document.KindArray {
			arrays++
		}
	}
	if arrays > 1 {
		return nil, fmt.Errorf("%w: index %s", ErrParallelArrays, entry.Name)
	}

	sets := indexValueSets(entry, doc)
	if sets == nil {
		return nil, nil
	}
	if arrays == 1 {
		entry.Multikey = true
	}

	ordering := keystring.OrderingFromKeyPattern(entry.KeyPattern)
	keys := make([][]byte, 0, len(sets))
	for _, values := range sets {
		b := keystring.NewBuilder(ordering)
		for _, v := range values {
			b.AppendValue(v)
		}
		b.AppendRecordIdLong(rid)
		keys = append(keys, b.Build().Bytes())
	}
	return keys, nil
}
