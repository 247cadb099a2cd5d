package starlark

import (
	"fmt"
	"slices"
	"sync"

	"github.com/zeebo/xxh3"
	"go.starlark.net/starlark"
	"go.starlark.net/syntax"
)

var fileOptions = &syntax.FileOptions{
	While:     true,
	Recursion: true,
}

// Cache holds compiled programs keyed by the xxh3 hash of their source.
// Programs are immutable, so one compiled template serves every engine.
type Cache struct {
	mu     sync.RWMutex
	progs  map[xxh3.Uint128]*starlark.Program
	hits   uint64
	misses uint64
}

// NewCache returns an empty Cache.
func NewCache() *Cache {
	return &Cache{progs: make(map[xxh3.Uint128]*starlark.Program)}
}

// Template returns the compiled program for EJS source src.
func (c *Cache) Template(name, src string) (*starlark.Program, error) {
	return c.program("tpl\x00"+src, name, func() (string, error) { return Transpile(src) })
}

// Expression returns the compiled program for a single expression.
func (c *Cache) Expression(expr string) (*starlark.Program, error) {
	return c.program("expr\x00"+expr, "<expr>", func() (string, error) { return TranspileExpression(expr) })
}

func (c *Cache) program(key, name string, transpile func() (string, error)) (*starlark.Program, error) {
	h := xxh3.HashString128(key)
	c.mu.RLock()
	prog, ok := c.progs[h]
	c.mu.RUnlock()
	if ok {
		c.mu.Lock()
		c.hits++
		c.mu.Unlock()
		return prog, nil
	}

	code, err := transpile()
	if err != nil {
		return nil, err
	}
	predeclared := predeclaredNames()
	_, prog, err = starlark.SourceProgramOptions(fileOptions, name, code, func(n string) bool {
		_, found := slices.BinarySearch(predeclared, n)
		return found
	})
	if err != nil {
		return nil, fmt.Errorf("compiling %s: %w", name, err)
	}

	c.mu.Lock()
	c.progs[h] = prog
	c.misses++
	c.mu.Unlock()
	return prog, nil
}

// Len reports how many programs are cached.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.progs)
}

// Stats returns the hit and miss counts.
func (c *Cache) Stats() (hits, misses uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}
