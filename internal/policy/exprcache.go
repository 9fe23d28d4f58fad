// Package policy implements expr-lang-backed alternatives to the
// scalar/range/callable latency and error-rate policies: an expression
// string evaluated against a small per-chunk or per-exchange
// environment, with compiled programs cached in a bounded LRU keyed by
// expression text.
package policy

import (
	"container/list"
	"sync"

	"github.com/expr-lang/expr/vm"
)

// DefaultCacheSize bounds memory growth for long-running sessions that
// evaluate many distinct expressions.
const DefaultCacheSize = 1000

var exprCache = newExprCache(DefaultCacheSize)

type cacheEntry struct {
	expression string
	program    *vm.Program
}

// exprLRUCache is a thread-safe LRU cache for compiled expr-lang
// programs, keyed by expression source text.
type exprLRUCache struct {
	mu      sync.Mutex
	cache   map[string]*list.Element
	lru     *list.List
	maxSize int
}

func newExprCache(maxSize int) *exprLRUCache {
	if maxSize < 1 {
		maxSize = DefaultCacheSize
	}
	return &exprLRUCache{
		cache:   make(map[string]*list.Element, maxSize),
		lru:     list.New(),
		maxSize: maxSize,
	}
}

func (c *exprLRUCache) Get(expression string) (*vm.Program, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	elem, ok := c.cache[expression]
	if !ok {
		return nil, false
	}
	c.lru.MoveToFront(elem)
	return elem.Value.(*cacheEntry).program, true
}

func (c *exprLRUCache) Put(expression string, program *vm.Program) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, ok := c.cache[expression]; ok {
		c.lru.MoveToFront(elem)
		elem.Value.(*cacheEntry).program = program
		return
	}
	elem := c.lru.PushFront(&cacheEntry{expression: expression, program: program})
	c.cache[expression] = elem
	for c.lru.Len() > c.maxSize {
		back := c.lru.Back()
		if back == nil {
			break
		}
		delete(c.cache, back.Value.(*cacheEntry).expression)
		c.lru.Remove(back)
	}
}
