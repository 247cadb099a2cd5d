package starlark

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/hexgo/hexgo/pkg/ejs"
	"go.starlark.net/starlark"
)

// DefaultMaxSteps bounds the Starlark steps of one template execution.
const DefaultMaxSteps = 50_000_000

// Engine runs templates the native evaluator cannot express by compiling
// them to Starlark. An Engine is not safe for concurrent use; a Pool hands
// engines out to concurrent renders.
type Engine struct {
	Renderer *ejs.Renderer
	Cache    *Cache
	Logger   *slog.Logger
	MaxSteps uint64

	thread *starlark.Thread
}

// NewEngine creates an engine whose helpers and partials resolve through r.
// A nil cache gets a private one.
func NewEngine(r *ejs.Renderer, cache *Cache) *Engine {
	if cache == nil {
		cache = NewCache()
	}
	return &Engine{Renderer: r, Cache: cache, MaxSteps: DefaultMaxSteps}
}

func (e *Engine) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

func (e *Engine) newThread(name string) *starlark.Thread {
	if e.thread == nil {
		e.thread = &starlark.Thread{
			Name: "hexgo",
			Print: func(t *starlark.Thread, msg string) {
				e.logger().Debug("script output", "message", msg)
			},
		}
	}
	e.thread.Name = name
	e.thread.Steps = 0
	e.thread.SetMaxExecutionSteps(e.MaxSteps)
	return e.thread
}

// run executes prog against ctx and returns the module globals.
func (e *Engine) run(prog *starlark.Program, name string, ctx *ejs.Context, depth int) (starlark.StringDict, error) {
	if ctx == nil {
		ctx = ejs.NewContext()
	}
	thread := e.newThread(name)
	thread.SetLocal(stateKey, &renderState{r: e.Renderer, ctx: ctx, depth: depth, name: name, logger: e.logger()})

	predeclared := make(starlark.StringDict, len(runtimeBuiltins)+1)
	for k, v := range runtimeBuiltins {
		predeclared[k] = v
	}
	predeclared["_env"] = ConvertToStarlark(ctx.Flatten())

	globals, err := prog.Init(thread, predeclared)
	thread.SetLocal(stateKey, nil)
	if err != nil {
		// A cancelled thread stays cancelled.
		e.thread = nil
		return nil, err
	}
	return globals, nil
}

// Execute runs t once and returns its output with any partial placeholders
// still in place.
func (e *Engine) Execute(t *ejs.Template, ctx *ejs.Context, depth int) (string, error) {
	prog, err := e.Cache.Template(t.Name, t.Source)
	if err != nil {
		return "", &ejs.RenderError{Template: t.Name, Err: err}
	}
	globals, err := e.run(prog, t.Name, ctx, depth)
	if err != nil {
		return "", &ejs.RenderError{Template: t.Name, Err: scriptError(err)}
	}
	out, _ := globals["_out"].(*starlark.List)
	var b strings.Builder
	for i := 0; out != nil && i < out.Len(); i++ {
		b.WriteString(jsString(out.Index(i)))
	}
	return b.String(), nil
}

// RenderFallback executes t and then expands the partials it referenced.
func (e *Engine) RenderFallback(t *ejs.Template, ctx *ejs.Context, depth int) (string, error) {
	out, err := e.Execute(t, ctx, depth)
	if err != nil {
		return "", err
	}
	return expandPartials(e.Renderer, e.logger(), out, ctx, depth), nil
}

func expandPartials(r *ejs.Renderer, logger *slog.Logger, out string, ctx *ejs.Context, depth int) string {
	return ejs.ExpandPlaceholders(out, logger, func(name string, locals *ejs.ObjectValue) string {
		s, err := r.RenderPartial(ctx, name, locals, depth)
		if err != nil {
			logger.Warn("partial failed", "partial", name, "error", err)
			return ""
		}
		return s
	})
}

// Eval evaluates a single expression against ctx.
func (e *Engine) Eval(expr string, ctx *ejs.Context) (ejs.Value, error) {
	prog, err := e.Cache.Expression(expr)
	if err != nil {
		return nil, err
	}
	globals, err := e.run(prog, "<expr>", ctx, 0)
	if err != nil {
		return nil, scriptError(err)
	}
	return ConvertFromStarlark(globals["_result"]), nil
}

// scriptError drops the Starlark backtrace, which points into generated
// code rather than the template.
func scriptError(err error) error {
	if evalErr, ok := err.(*starlark.EvalError); ok {
		return fmt.Errorf("%s", evalErr.Msg)
	}
	return err
}
