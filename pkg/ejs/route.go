package ejs

import "strings"

// Engine names the evaluator a template is routed to.
type Engine string

const (
	EngineNative   Engine = "native"
	EngineFallback Engine = "fallback"
)

// NeedsFallback reports whether a template must go to the script engine:
// it uses arrow functions together with a sort or a subtraction, which the
// native evaluator cannot express.
func NeedsFallback(src string) bool {
	if !strings.Contains(src, "=>") {
		return false
	}
	return strings.Contains(src, ".sort(") || strings.Contains(src, " - ")
}

// Route returns the engine for src.
func Route(src string) Engine {
	if NeedsFallback(src) {
		return EngineFallback
	}
	return EngineNative
}
