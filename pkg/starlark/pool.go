package starlark

import (
	"context"
	"runtime"
	"time"

	"github.com/hexgo/hexgo/pkg/ejs"
)

// Pool bounds how many fallback executions run at once. Engines are created
// lazily up to the pool size and share one program cache.
type Pool struct {
	engines  chan *Engine
	tokens   chan struct{}
	renderer *ejs.Renderer
	cache    *Cache

	// OnWait observes how long each Get waited for an engine.
	OnWait func(time.Duration)
}

// NewPool returns a pool of at most size engines. A size below one means
// GOMAXPROCS.
func NewPool(size int, r *ejs.Renderer, cache *Cache) *Pool {
	if size < 1 {
		size = runtime.GOMAXPROCS(0)
	}
	if cache == nil {
		cache = NewCache()
	}
	p := &Pool{
		engines:  make(chan *Engine, size),
		tokens:   make(chan struct{}, size),
		renderer: r,
		cache:    cache,
	}
	for range size {
		p.tokens <- struct{}{}
	}
	return p
}

// Size returns the maximum number of engines.
func (p *Pool) Size() int { return cap(p.tokens) }

// Cache returns the program cache shared by the pool's engines.
func (p *Pool) Cache() *Cache { return p.cache }

// Get checks out an engine, creating one if the pool has not reached its
// size, or waits until one is returned or ctx is done.
func (p *Pool) Get(ctx context.Context) (*Engine, error) {
	start := time.Now()
	defer func() {
		if p.OnWait != nil {
			p.OnWait(time.Since(start))
		}
	}()
	select {
	case e := <-p.engines:
		return e, nil
	default:
	}
	select {
	case e := <-p.engines:
		return e, nil
	case <-p.tokens:
		e := NewEngine(p.renderer, p.cache)
		e.Logger = p.renderer.Logger
		return e, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Put returns an engine to the pool.
func (p *Pool) Put(e *Engine) {
	p.engines <- e
}

// RenderFallback implements ejs.FallbackRenderer.
func (p *Pool) RenderFallback(t *ejs.Template, ctx *ejs.Context, depth int) (string, error) {
	return p.Render(context.Background(), p.renderer, t, ctx, depth)
}

// Render executes t on a pooled engine with helpers and partials resolved
// through r. The engine is released before partials are expanded, so
// nested fallback partials can check out an engine of their own.
func (p *Pool) Render(ctx context.Context, r *ejs.Renderer, t *ejs.Template, data *ejs.Context, depth int) (string, error) {
	e, err := p.Get(ctx)
	if err != nil {
		return "", err
	}
	e.Renderer = r
	if r.Logger != nil {
		e.Logger = r.Logger
	}
	out, err := e.Execute(t, data, depth)
	logger := e.logger()
	e.Renderer, e.Logger = p.renderer, p.renderer.Logger
	p.Put(e)
	if err != nil {
		return "", err
	}
	return expandPartials(r, logger, out, data, depth), nil
}

// Bind returns a FallbackRenderer that runs on the pool's engines but
// resolves helpers and partials through r.
func (p *Pool) Bind(ctx context.Context, r *ejs.Renderer) ejs.FallbackRenderer {
	return &boundPool{pool: p, ctx: ctx, r: r}
}

type boundPool struct {
	pool *Pool
	ctx  context.Context
	r    *ejs.Renderer
}

func (b *boundPool) RenderFallback(t *ejs.Template, ctx *ejs.Context, depth int) (string, error) {
	return b.pool.Render(b.ctx, b.r, t, ctx, depth)
}

var _ ejs.FallbackRenderer = (*Pool)(nil)
var _ ejs.FallbackRenderer = (*Engine)(nil)
var _ ejs.FallbackRenderer = (*boundPool)(nil)
