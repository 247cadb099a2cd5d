package theme

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/hexgo/hexgo/pkg/ejs"
)

// Render renders the template name with data and wraps the result in the
// theme layout. The theme configuration is bound as `theme`, the
// translation table as `__`, and site defaults as `config` unless data
// binds one already.
func (t *Theme) Render(ctx context.Context, name string, data *ejs.Context) (string, error) {
	tpl, err := t.registry.Lookup(name)
	if err != nil {
		t.metrics.renders.WithLabelValues("none", "not_found").Inc()
		return "", err
	}
	return t.render(ctx, tpl, data, name != DefaultLayout)
}

// RenderString renders src as an anonymous template with the same
// bindings as Render, without a layout.
func (t *Theme) RenderString(ctx context.Context, src string, data *ejs.Context) (string, error) {
	tpl, err := ejs.Parse("<string>", src)
	if err != nil {
		return "", err
	}
	return t.render(ctx, tpl, data, false)
}

// RenderPage renders a page of type pt with the first template of its
// fallback chain the theme provides.
func (t *Theme) RenderPage(ctx context.Context, pt PageType, data *ejs.Context) (string, error) {
	name, ok := t.FindTemplate(pt.TemplateName(), pt.Fallbacks()...)
	if !ok {
		t.metrics.renders.WithLabelValues("none", "not_found").Inc()
		return "", &ejs.TemplateNotFoundError{Name: pt.TemplateName(), Suggestions: pt.Fallbacks()}
	}
	return t.Render(ctx, name, data)
}

func (t *Theme) render(ctx context.Context, tpl *ejs.Template, data *ejs.Context, wrap bool) (string, error) {
	start := time.Now()
	engine := ejs.Route(tpl.Source)
	logger := t.logger.With("render_id", uuid.NewString(), "template", tpl.Name)

	// A per-render copy carries the correlated logger into partials.
	r := *t.renderer
	r.Logger = logger
	r.Fallback = t.pool.Bind(ctx, &r)

	rc := t.bind(data)
	var body string
	var err error
	if engine == ejs.EngineFallback {
		logger.Debug("rendering with fallback engine")
		body, err = t.pool.Render(ctx, &r, tpl, rc, 0)
	} else {
		body, err = r.Render(tpl, rc)
	}
	if err == nil && wrap {
		body, err = t.wrap(&r, body, rc)
	}
	t.metrics.observeRender(string(engine), err, time.Since(start))
	if err != nil {
		logger.Debug("render failed", "error", err)
		return "", err
	}
	return body, nil
}

// bind returns a copy of data with the theme bindings added.
func (t *Theme) bind(data *ejs.Context) *ejs.Context {
	var rc *ejs.Context
	if data == nil {
		rc = ejs.NewContext()
	} else {
		rc = ejs.NewContextFrom(data.Globals())
	}
	rc.Set("theme", t.Config)
	rc.Set("__", t.translations)
	if _, ok := rc.Get("config"); !ok {
		cfg := DefaultSiteConfig()
		cfg.Language = t.I18n.Language()
		rc.Set("config", cfg.Value())
	}
	return rc
}

// wrap renders the layout natively with body bound. Pages whose front
// matter sets `layout: false` and themes without a layout are returned
// unchanged.
func (t *Theme) wrap(r *ejs.Renderer, body string, rc *ejs.Context) (string, error) {
	if !t.HasTemplate(DefaultLayout) {
		return body, nil
	}
	if page, ok := rc.Get("page"); ok {
		if l, ok := ejs.Property(page, "layout").(ejs.BoolValue); ok && !bool(l) {
			return body, nil
		}
	}
	layout, err := t.registry.Lookup(DefaultLayout)
	if err != nil {
		return "", err
	}
	lc := ejs.NewContextFrom(rc.Globals())
	lc.Set("body", ejs.StringValue(body))
	return r.Render(layout, lc)
}
