package store

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"
	"time"
)

// Memory is an in-process Store used by tests and offline mode. It implements
// the full contract including watches and atomic batches.
type Memory struct {
	mu       sync.Mutex
	data     map[string]map[string]map[string]any // collection -> id -> doc
	watchers map[int64]*memWatcher
	nextID   int64
	now      func() time.Time
}

type memWatcher struct {
	collection string
	docID      string // single-doc watch when non-empty
	query      Query
	isQuery    bool
	sub        *Subscription
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		data:     make(map[string]map[string]map[string]any),
		watchers: make(map[int64]*memWatcher),
		now:      time.Now,
	}
}

// SetClock overrides the timestamp source; tests use it to control
// ServerTimestamp resolution.
func (m *Memory) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// FailWatchers delivers err to every active subscription on the collection.
// Tests use it to simulate a broken change stream.
func (m *Memory) FailWatchers(collection string, err error) {
	m.mu.Lock()
	var subs []*Subscription
	for _, w := range m.watchers {
		if w.collection == collection {
			subs = append(subs, w.sub)
		}
	}
	m.mu.Unlock()
	for _, sub := range subs {
		sub.fail(err)
	}
}

// Collection implements Store.
func (m *Memory) Collection(name string) Collection {
	return &memCollection{store: m, name: name}
}

// Batch implements Store.
func (m *Memory) Batch() Batch {
	return &memBatch{store: m}
}

// Close implements Store.
func (m *Memory) Close(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, w := range m.watchers {
		w.sub.Unsubscribe()
		delete(m.watchers, id)
	}
	return nil
}

type pendingPublish struct {
	sub  *Subscription
	gen  uint64
	snap Snapshot
}

// collectLocked builds the snapshots owed to watchers of a collection.
// Callers hold m.mu; publishing happens after unlock so a slow consumer
// cannot stall the store.
func (m *Memory) collectLocked(collection string) []pendingPublish {
	var out []pendingPublish
	for _, w := range m.watchers {
		if w.collection != collection {
			continue
		}
		out = append(out, pendingPublish{sub: w.sub, gen: w.sub.generation(), snap: m.snapshotLocked(w)})
	}
	return out
}

func (m *Memory) snapshotLocked(w *memWatcher) Snapshot {
	if !w.isQuery {
		if doc, ok := m.data[w.collection][w.docID]; ok {
			return Snapshot{Docs: []Document{{ID: w.docID, Data: deepCopyMap(doc)}}}
		}
		return Snapshot{}
	}
	return Snapshot{Docs: m.findLocked(w.collection, w.query)}
}

func publishAll(pending []pendingPublish) {
	for _, p := range pending {
		p.sub.publishAt(p.gen, p.snap)
	}
}

func (m *Memory) findLocked(collection string, q Query) []Document {
	var docs []Document
	for id, data := range m.data[collection] {
		if matchesQuery(data, q) {
			docs = append(docs, Document{ID: id, Data: deepCopyMap(data)})
		}
	}
	sortDocs(docs, q.Orders)
	if q.LimitN > 0 && len(docs) > q.LimitN {
		docs = docs[:q.LimitN]
	}
	return docs
}

func (m *Memory) setLocked(collection, id string, data map[string]any) {
	coll := m.data[collection]
	if coll == nil {
		coll = make(map[string]map[string]any)
		m.data[collection] = coll
	}
	doc := deepCopyMap(data)
	// A set replaces the document, so increments resolve from an absent
	// field, matching the mongo adapter.
	resolveSentinels(doc, nil, m.now)
	coll[id] = doc
}

func (m *Memory) updateLocked(collection, id string, fields map[string]any) error {
	doc, ok := m.data[collection][id]
	if !ok {
		return ErrNotFound
	}
	for path, value := range fields {
		setField(doc, path, resolveValue(value, getField(doc, path), m.now))
	}
	return nil
}

func (m *Memory) deleteLocked(collection, id string) {
	delete(m.data[collection], id)
}

type memCollection struct {
	store *Memory
	name  string
}

func (c *memCollection) Get(_ context.Context, id string) (Document, error) {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	doc, ok := c.store.data[c.name][id]
	if !ok {
		return Document{}, ErrNotFound
	}
	return Document{ID: id, Data: deepCopyMap(doc)}, nil
}

func (c *memCollection) Set(_ context.Context, id string, data map[string]any) error {
	c.store.mu.Lock()
	c.store.setLocked(c.name, id, data)
	pending := c.store.collectLocked(c.name)
	c.store.mu.Unlock()
	publishAll(pending)
	return nil
}

func (c *memCollection) Update(_ context.Context, id string, fields map[string]any) error {
	c.store.mu.Lock()
	err := c.store.updateLocked(c.name, id, fields)
	var pending []pendingPublish
	if err == nil {
		pending = c.store.collectLocked(c.name)
	}
	c.store.mu.Unlock()
	publishAll(pending)
	return err
}

func (c *memCollection) Delete(_ context.Context, id string) error {
	c.store.mu.Lock()
	c.store.deleteLocked(c.name, id)
	pending := c.store.collectLocked(c.name)
	c.store.mu.Unlock()
	publishAll(pending)
	return nil
}

func (c *memCollection) Find(_ context.Context, q Query) ([]Document, error) {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	return c.store.findLocked(c.name, q), nil
}

func (c *memCollection) Watch(ctx context.Context, id string) (*Subscription, error) {
	return c.watch(ctx, &memWatcher{collection: c.name, docID: id})
}

func (c *memCollection) WatchFind(ctx context.Context, q Query) (*Subscription, error) {
	return c.watch(ctx, &memWatcher{collection: c.name, query: q, isQuery: true})
}

func (c *memCollection) watch(ctx context.Context, w *memWatcher) (*Subscription, error) {
	c.store.mu.Lock()
	id := c.store.nextID
	c.store.nextID++
	sub := newSubscription(func() {
		c.store.mu.Lock()
		delete(c.store.watchers, id)
		c.store.mu.Unlock()
	})
	w.sub = sub
	c.store.watchers[id] = w
	initial := pendingPublish{sub: sub, gen: sub.generation(), snap: c.store.snapshotLocked(w)}
	c.store.mu.Unlock()

	publishAll([]pendingPublish{initial})
	if ctx.Done() != nil {
		go func() {
			select {
			case <-ctx.Done():
				sub.Unsubscribe()
			case <-sub.Done():
			}
		}()
	}
	return sub, nil
}

type memOp struct {
	kind       string // set, update, delete
	collection string
	id         string
	data       map[string]any
}

type memBatch struct {
	store *Memory
	ops   []memOp
}

func (b *memBatch) Set(collection, id string, data map[string]any) Batch {
	b.ops = append(b.ops, memOp{kind: "set", collection: collection, id: id, data: data})
	return b
}

func (b *memBatch) Update(collection, id string, fields map[string]any) Batch {
	b.ops = append(b.ops, memOp{kind: "update", collection: collection, id: id, data: fields})
	return b
}

func (b *memBatch) Delete(collection, id string) Batch {
	b.ops = append(b.ops, memOp{kind: "delete", collection: collection, id: id})
	return b
}

func (b *memBatch) Len() int {
	return len(b.ops)
}

func (b *memBatch) Commit(context.Context) error {
	if len(b.ops) > BatchLimit {
		return ErrBatchTooLarge
	}
	b.store.mu.Lock()
	// Validate before applying so a failure leaves the store untouched.
	for _, op := range b.ops {
		if op.kind == "update" {
			if _, ok := b.store.data[op.collection][op.id]; !ok {
				b.store.mu.Unlock()
				return fmt.Errorf("batch update %s/%s: %w", op.collection, op.id, ErrNotFound)
			}
		}
	}
	touched := make(map[string]struct{})
	for _, op := range b.ops {
		switch op.kind {
		case "set":
			b.store.setLocked(op.collection, op.id, op.data)
		case "update":
			_ = b.store.updateLocked(op.collection, op.id, op.data)
		case "delete":
			b.store.deleteLocked(op.collection, op.id)
		}
		touched[op.collection] = struct{}{}
	}
	var pending []pendingPublish
	for collection := range touched {
		pending = append(pending, b.store.collectLocked(collection)...)
	}
	b.store.mu.Unlock()
	publishAll(pending)
	return nil
}

// resolveSentinels rewrites sentinel values in place. prev carries the
// document's prior state for increments; nil means a fresh document.
func resolveSentinels(doc, prev map[string]any, now func() time.Time) {
	for k, v := range doc {
		doc[k] = resolveValue(v, prevField(prev, k), now)
	}
}

func prevField(prev map[string]any, key string) any {
	if prev == nil {
		return nil
	}
	return prev[key]
}

func resolveValue(v, prev any, now func() time.Time) any {
	switch tv := v.(type) {
	case TimestampSentinel:
		return now().UTC().Format(time.RFC3339Nano)
	case IncrementValue:
		return toFloat(prev) + float64(tv.By)
	case map[string]any:
		nested, _ := prev.(map[string]any)
		resolveSentinels(tv, nested, now)
		return tv
	default:
		return v
	}
}

func deepCopyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = deepCopyValue(v)
	}
	return out
}

func deepCopyValue(v any) any {
	switch tv := v.(type) {
	case map[string]any:
		return deepCopyMap(tv)
	case []any:
		out := make([]any, len(tv))
		for i, e := range tv {
			out[i] = deepCopyValue(e)
		}
		return out
	default:
		return v
	}
}

// getField resolves a dotted path into nested maps.
func getField(doc map[string]any, path string) any {
	parts := strings.Split(path, ".")
	var cur any = doc
	for _, p := range parts {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur = m[p]
	}
	return cur
}

// setField writes a dotted path, creating intermediate maps as needed.
func setField(doc map[string]any, path string, value any) {
	parts := strings.Split(path, ".")
	cur := doc
	for _, p := range parts[:len(parts)-1] {
		next, ok := cur[p].(map[string]any)
		if !ok {
			next = make(map[string]any)
			cur[p] = next
		}
		cur = next
	}
	cur[parts[len(parts)-1]] = value
}

func matchesQuery(doc map[string]any, q Query) bool {
	for _, cond := range q.Conditions {
		if !matchesCondition(doc, cond) {
			return false
		}
	}
	return true
}

func matchesCondition(doc map[string]any, cond Condition) bool {
	field := getField(doc, cond.Field)
	switch cond.Op {
	case OpEq:
		return valuesEqual(field, cond.Value)
	case OpIn:
		rv := reflect.ValueOf(cond.Value)
		if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
			return false
		}
		for i := 0; i < rv.Len(); i++ {
			if valuesEqual(field, rv.Index(i).Interface()) {
				return true
			}
		}
		return false
	case OpContains:
		items, ok := field.([]any)
		if !ok {
			return false
		}
		for _, item := range items {
			if valuesEqual(item, cond.Value) {
				return true
			}
		}
		return false
	case OpLt, OpLte, OpGt, OpGte:
		c, ok := compareValues(field, cond.Value)
		if !ok {
			return false
		}
		switch cond.Op {
		case OpLt:
			return c < 0
		case OpLte:
			return c <= 0
		case OpGt:
			return c > 0
		default:
			return c >= 0
		}
	default:
		return false
	}
}

func valuesEqual(a, b any) bool {
	if c, ok := compareValues(a, b); ok {
		return c == 0
	}
	return reflect.DeepEqual(normalize(a), normalize(b))
}

// compareValues orders two scalar values. Numbers compare numerically,
// strings lexically (RFC 3339 timestamps are stored as strings, so time
// ordering falls out of this).
func compareValues(a, b any) (int, bool) {
	na, aNum := asFloat(a)
	nb, bNum := asFloat(b)
	if aNum && bNum {
		switch {
		case na < nb:
			return -1, true
		case na > nb:
			return 1, true
		default:
			return 0, true
		}
	}
	sa, aStr := asString(a)
	sb, bStr := asString(b)
	if aStr && bStr {
		return strings.Compare(sa, sb), true
	}
	return 0, false
}

func normalize(v any) any {
	if f, ok := asFloat(v); ok {
		return f
	}
	if s, ok := asString(v); ok {
		return s
	}
	return v
}

func asFloat(v any) (float64, bool) {
	switch tv := v.(type) {
	case float64:
		return tv, true
	case float32:
		return float64(tv), true
	case int:
		return float64(tv), true
	case int32:
		return float64(tv), true
	case int64:
		return float64(tv), true
	default:
		return 0, false
	}
}

func asString(v any) (string, bool) {
	switch tv := v.(type) {
	case string:
		return tv, true
	case time.Time:
		return tv.UTC().Format(time.RFC3339Nano), true
	default:
		return "", false
	}
}

func toFloat(v any) float64 {
	f, _ := asFloat(v)
	return f
}

func sortDocs(docs []Document, orders []Ordering) {
	if len(orders) == 0 {
		sort.SliceStable(docs, func(i, j int) bool { return docs[i].ID < docs[j].ID })
		return
	}
	sort.SliceStable(docs, func(i, j int) bool {
		for _, o := range orders {
			c, ok := compareValues(getField(docs[i].Data, o.Field), getField(docs[j].Data, o.Field))
			if !ok || c == 0 {
				continue
			}
			if o.Desc {
				return c > 0
			}
			return c < 0
		}
		return docs[i].ID < docs[j].ID
	})
}
