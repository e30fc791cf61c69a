// Package cache provides the tiered cache: an in-process memory tier over a
// persistent key/value tier. The cache is advisory: the remote store stays
// the system of record, and the whole cache can be dropped at any time at a
// latency cost only.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"reflect"
	"sync"
	"time"

	"chatsync/internal/kv"
	"chatsync/internal/observability"
)

// Cache is the tiered cache service. Durable-tier failures degrade to
// memory-only operation; they are logged and counted, never returned.
type Cache struct {
	durable kv.Store // nil means memory-only
	logger  *slog.Logger

	mu  sync.RWMutex
	mem map[string]memEntry
	now func() time.Time
}

type memEntry struct {
	value     any
	writtenAt time.Time
	ttl       time.Duration
}

func (e memEntry) expired(now time.Time) bool {
	return now.Sub(e.writtenAt) > e.ttl
}

// envelope is the durable-tier record; entries self-describe expiry so a
// restarted process can judge staleness.
type envelope struct {
	Payload   json.RawMessage `json:"p"`
	WrittenAt time.Time       `json:"w"`
	TTLMillis int64           `json:"t"`
	MemMillis int64           `json:"m,omitempty"`
}

// New returns a cache over the given durable store. durable may be nil for
// memory-only operation.
func New(durable kv.Store, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{
		durable: durable,
		logger:  logger,
		mem:     make(map[string]memEntry),
		now:     time.Now,
	}
}

// SetClock overrides the time source; tests use it to step past TTLs.
func (c *Cache) SetClock(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

// SetFast writes to the memory tier only.
func (c *Cache) SetFast(key string, value any, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mem[key] = memEntry{value: value, writtenAt: c.now(), ttl: ttl}
}

// GetFast reads from the memory tier only, evicting a stale entry.
func (c *Cache) GetFast(key string, dest any) bool {
	c.mu.Lock()
	entry, ok := c.mem[key]
	if ok && entry.expired(c.now()) {
		delete(c.mem, key)
		ok = false
	}
	c.mu.Unlock()
	if !ok {
		return false
	}
	if err := assign(dest, entry.value); err != nil {
		c.logger.Warn("cache: memory entry incompatible with destination", "key", key, "error", err)
		return false
	}
	observability.CacheHits.WithLabelValues("memory").Inc()
	return true
}

// Set writes to both tiers. The only returned error is an encode failure;
// durable-tier failures degrade silently.
func (c *Cache) Set(ctx context.Context, key string, value any, ttl TTL) error {
	c.SetFast(key, value, ttl.Memory)
	if c.durable == nil {
		return nil
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return err
	}
	env := envelope{
		Payload:   payload,
		WrittenAt: c.now(),
		TTLMillis: ttl.Durable.Milliseconds(),
		MemMillis: ttl.Memory.Milliseconds(),
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return err
	}
	if err := c.durable.Set(ctx, key, string(raw)); err != nil {
		c.degrade("set", key, err)
	}
	return nil
}

// Get reads the memory tier first, then the durable tier, rehydrating the
// memory tier on a durable hit. A stale entry is evicted from whichever tier
// it is found in and reported absent.
func (c *Cache) Get(ctx context.Context, key string, dest any) (bool, error) {
	if c.GetFast(key, dest) {
		return true, nil
	}
	if c.durable == nil {
		observability.CacheMisses.Inc()
		return false, nil
	}

	raw, ok, err := c.durable.Get(ctx, key)
	if err != nil {
		c.degrade("get", key, err)
		observability.CacheMisses.Inc()
		return false, nil
	}
	if !ok {
		observability.CacheMisses.Inc()
		return false, nil
	}

	var env envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		c.degrade("decode", key, err)
		c.removeDurable(ctx, key)
		observability.CacheMisses.Inc()
		return false, nil
	}
	remaining := time.Duration(env.TTLMillis)*time.Millisecond - c.now().Sub(env.WrittenAt)
	if remaining <= 0 {
		c.removeDurable(ctx, key)
		observability.CacheMisses.Inc()
		return false, nil
	}
	if err := json.Unmarshal(env.Payload, dest); err != nil {
		return false, err
	}
	observability.CacheHits.WithLabelValues("durable").Inc()

	// Rehydrate the memory tier, capped at the entry's own memory TTL so
	// the memory tier still expires first.
	memTTL := remaining
	if m := time.Duration(env.MemMillis) * time.Millisecond; m > 0 && m < memTTL {
		memTTL = m
	}
	c.mu.Lock()
	c.mem[key] = memEntry{value: json.RawMessage(env.Payload), writtenAt: c.now(), ttl: memTTL}
	c.mu.Unlock()
	return true, nil
}

// OverlayAppend appends item to the cached sequence at key in the memory
// tier only. It backs optimistic writes that the store has not acknowledged
// yet; OverlayRemove reconciles or rolls them back.
func (c *Cache) OverlayAppend(key string, item any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.mem[key]
	if ok && entry.expired(c.now()) {
		delete(c.mem, key)
		ok = false
	}
	if !ok {
		slice := reflect.MakeSlice(reflect.SliceOf(reflect.TypeOf(item)), 0, 1)
		entry = memEntry{value: slice.Interface(), writtenAt: c.now(), ttl: TTLFor(ClassMessages).Memory}
	}
	rv := reflect.ValueOf(entry.value)
	if rv.Kind() != reflect.Slice {
		return errors.New("cache: overlay target is not a sequence")
	}
	iv := reflect.ValueOf(item)
	if !iv.Type().AssignableTo(rv.Type().Elem()) {
		return errors.New("cache: overlay item type mismatch")
	}
	entry.value = reflect.Append(rv, iv).Interface()
	c.mem[key] = entry
	return nil
}

// OverlayRemove removes every item matching the predicate from the cached
// sequence at key, memory tier only.
func (c *Cache) OverlayRemove(key string, match func(item any) bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.mem[key]
	if !ok || entry.expired(c.now()) {
		return nil
	}
	rv := reflect.ValueOf(entry.value)
	if rv.Kind() != reflect.Slice {
		return errors.New("cache: overlay target is not a sequence")
	}
	kept := reflect.MakeSlice(rv.Type(), 0, rv.Len())
	for i := 0; i < rv.Len(); i++ {
		if !match(rv.Index(i).Interface()) {
			kept = reflect.Append(kept, rv.Index(i))
		}
	}
	entry.value = kept.Interface()
	c.mem[key] = entry
	return nil
}

// Invalidate removes the key from both tiers.
func (c *Cache) Invalidate(ctx context.Context, key string) {
	c.mu.Lock()
	delete(c.mem, key)
	c.mu.Unlock()
	c.removeDurable(ctx, key)
}

// InvalidateAll clears both tiers. Durable enumeration and removal are
// best-effort per key.
func (c *Cache) InvalidateAll(ctx context.Context) {
	c.mu.Lock()
	c.mem = make(map[string]memEntry)
	c.mu.Unlock()
	if c.durable == nil {
		return
	}
	keys, err := c.durable.Keys(ctx)
	if err != nil {
		c.degrade("keys", "*", err)
		return
	}
	if err := c.durable.RemoveMany(ctx, keys); err != nil {
		c.degrade("remove_many", "*", err)
	}
}

func (c *Cache) removeDurable(ctx context.Context, key string) {
	if c.durable == nil {
		return
	}
	if err := c.durable.Remove(ctx, key); err != nil {
		c.degrade("remove", key, err)
	}
}

func (c *Cache) degrade(op, key string, err error) {
	observability.CacheDegradations.WithLabelValues(op).Inc()
	c.logger.Warn("cache: durable tier degraded", "operation", op, "key", key, "error", err)
}

// assign copies a cached value into dest, which must be a non-nil pointer.
// Values stored as raw JSON (durable rehydrations) are decoded; everything
// else is assigned directly when types line up.
func assign(dest, value any) error {
	dv := reflect.ValueOf(dest)
	if dv.Kind() != reflect.Pointer || dv.IsNil() {
		return errors.New("cache: destination must be a non-nil pointer")
	}
	if raw, ok := value.(json.RawMessage); ok {
		return json.Unmarshal(raw, dest)
	}
	sv := reflect.ValueOf(value)
	if sv.IsValid() && sv.Type().AssignableTo(dv.Elem().Type()) {
		dv.Elem().Set(sv)
		return nil
	}
	// Fall back to a JSON round-trip for compatible shapes.
	b, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, dest)
}
