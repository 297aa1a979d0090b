package policy

import (
	"container/list"
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"
)

// EngineOptions control OPA engine construction and runtime behaviour.
type EngineOptions struct {
	// Entrypoint is the decision path (e.g. "trust/decision").
	Entrypoint string
	// Modules contains the Rego modules that should be loaded into the engine.
	Modules map[string]string
	// CacheMaxEntries bounds the decision cache size (LRU). Zero selects the
	// default size; negative disables caching entirely.
	CacheMaxEntries int
	// CacheTTL bounds how long a cached decision is reused. Zero selects the
	// default.
	CacheTTL time.Duration
	// Now is the evaluation clock, also visible to policies through
	// time.now_ns. Defaults to time.Now.
	Now func() time.Time
}

// Decision is the verdict a trust policy returns for one chain.
type Decision struct {
	Allow  bool
	Reason string
}

// Engine evaluates trust decisions using an embedded OPA instance. The query
// is prepared once at construction.
type Engine struct {
	entrypoint string
	query      rego.PreparedEvalQuery
	cache      *decisionCache
	cacheTTL   time.Duration
	now        func() time.Time
}

const (
	defaultEntrypoint    = "trust/decision"
	defaultCacheCapacity = 1024
	defaultCacheTTL      = 5 * time.Minute
)

// NewEngine parses and compiles the modules and prepares the entrypoint query.
func NewEngine(ctx context.Context, opts EngineOptions) (*Engine, error) {
	entry := strings.Trim(strings.TrimSpace(opts.Entrypoint), "/")
	if entry == "" {
		entry = defaultEntrypoint
	}

	if len(opts.Modules) == 0 {
		return nil, errors.New("policy engine requires at least one rego module")
	}

	maxEntries := opts.CacheMaxEntries
	switch {
	case maxEntries == 0:
		maxEntries = defaultCacheCapacity
	case maxEntries < 0:
		maxEntries = 0
	}

	var cache *decisionCache
	if maxEntries > 0 {
		cache = newDecisionCache(maxEntries)
	}

	names := make([]string, 0, len(opts.Modules))
	for name := range opts.Modules {
		names = append(names, name)
	}
	sort.Strings(names)

	regoOpts := make([]func(*rego.Rego), 0, len(names)+1)
	regoOpts = append(regoOpts, rego.Query("data."+strings.ReplaceAll(entry, "/", ".")))
	for _, name := range names {
		module, err := ast.ParseModuleWithOpts(name, opts.Modules[name], ast.ParserOptions{RegoVersion: ast.RegoV1})
		if err != nil {
			return nil, fmt.Errorf("parse rego module %q: %w", name, err)
		}
		regoOpts = append(regoOpts, rego.ParsedModule(module))
	}

	prepared, err := rego.New(regoOpts...).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("compile rego modules: %w", err)
	}

	ttl := opts.CacheTTL
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	return &Engine{
		entrypoint: entry,
		query:      prepared,
		cache:      cache,
		cacheTTL:   ttl,
		now:        now,
	}, nil
}

// Entrypoint returns the decision path the engine evaluates.
func (e *Engine) Entrypoint() string { return e.entrypoint }

// Now returns the engine's evaluation time.
func (e *Engine) Now() time.Time { return e.now() }

// Evaluate runs the prepared query against input. When cacheKey is non-empty
// the decision is cached under it until the cache TTL elapses or, when
// validUntil is set, until validUntil, whichever comes first.
func (e *Engine) Evaluate(ctx context.Context, input map[string]any, cacheKey string, validUntil time.Time) (Decision, error) {
	now := e.now()
	useCache := e.cache != nil && cacheKey != ""
	if useCache {
		if cached, ok := e.cache.Get(cacheKey, now); ok {
			return cached, nil
		}
	}

	results, err := e.query.Eval(ctx, rego.EvalInput(input), rego.EvalTime(now))
	if err != nil {
		return Decision{}, fmt.Errorf("opa decision: %w", err)
	}

	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return Decision{}, fmt.Errorf("opa decision: %s is undefined", e.entrypoint)
	}

	decision, err := parseDecision(results[0].Expressions[0].Value)
	if err != nil {
		return Decision{}, err
	}

	if useCache {
		expires := now.Add(e.cacheTTL)
		if !validUntil.IsZero() && validUntil.Before(expires) {
			expires = validUntil
		}
		if expires.After(now) {
			e.cache.Add(cacheKey, decision, expires)
		}
	}
	return decision, nil
}

// FlushCache clears all cached decisions. Safe to call concurrently.
func (e *Engine) FlushCache() {
	if e.cache != nil {
		e.cache.Clear()
	}
}

// CacheLen reports the number of cached decisions.
func (e *Engine) CacheLen() int {
	if e.cache == nil {
		return 0
	}
	return e.cache.Len()
}

func parseDecision(value any) (Decision, error) {
	switch typed := value.(type) {
	case bool:
		return Decision{Allow: typed}, nil
	case map[string]any:
		allow, ok := typed["allow"].(bool)
		if !ok {
			return Decision{}, fmt.Errorf("opa decision: allow must be bool, got %T", typed["allow"])
		}
		reason, _ := typed["reason"].(string)
		return Decision{Allow: allow, Reason: reason}, nil
	default:
		return Decision{}, fmt.Errorf("opa decision: unexpected result type %T", value)
	}
}

type decisionCache struct {
	mu      sync.Mutex
	max     int
	order   *list.List
	entries map[string]*list.Element
}

type cacheItem struct {
	key     string
	value   Decision
	expires time.Time
}

func newDecisionCache(capacity int) *decisionCache {
	return &decisionCache{
		max:     capacity,
		order:   list.New(),
		entries: make(map[string]*list.Element, capacity),
	}
}

func (c *decisionCache) Get(key string, now time.Time) (Decision, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[key]
	if !ok {
		return Decision{}, false
	}
	item := elem.Value.(cacheItem)
	if !now.Before(item.expires) {
		c.order.Remove(elem)
		delete(c.entries, key)
		return Decision{}, false
	}
	c.order.MoveToFront(elem)
	return item.value, true
}

func (c *decisionCache) Add(key string, value Decision, expires time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	item := cacheItem{key: key, value: value, expires: expires}
	if elem, ok := c.entries[key]; ok {
		elem.Value = item
		c.order.MoveToFront(elem)
		return
	}

	elem := c.order.PushFront(item)
	c.entries[key] = elem

	if c.order.Len() <= c.max {
		return
	}

	if tail := c.order.Back(); tail != nil {
		c.order.Remove(tail)
		delete(c.entries, tail.Value.(cacheItem).key)
	}
}

func (c *decisionCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

func (c *decisionCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.order.Init()
	c.entries = make(map[string]*list.Element, c.max)
}
