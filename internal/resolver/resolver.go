// Package resolver expands `${ENV}`, `${ENV:-default}`, and
// `${service.{ip|port|host}}` references against a Context. Stack config
// validation uses Validate to check service references; the orchestrator
// does not call Resolve or ResolveEnv, so `${...}` references in a
// service's env are passed to its backend unexpanded.
package resolver

import (
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"
)

// Context carries the values references are resolved against: an explicit
// env-var override map (consulted before the process environment) and the
// registry-derived service network info.
type Context struct {
	EnvVars      map[string]string
	ServiceIPs   map[string]string
	ServicePorts map[string]string
	ServiceHosts map[string]string
}

func NewContext() *Context {
	return &Context{
		EnvVars:      map[string]string{},
		ServiceIPs:   map[string]string{},
		ServicePorts: map[string]string{},
		ServiceHosts: map[string]string{},
	}
}

// AddService records the network info for one service reference target.
func (c *Context) AddService(name, ip, port, host string) {
	c.ServiceIPs[name] = ip
	c.ServiceHosts[name] = host
	if port != "" {
		c.ServicePorts[name] = port
	}
}

// UnresolvedRefsError collects every reference that could not be resolved in
// one pass, so a caller sees all problems at once instead of the first.
type UnresolvedRefsError struct {
	Names []string
}

func (e *UnresolvedRefsError) Error() string {
	return fmt.Sprintf("unresolved references: %s", strings.Join(e.Names, ", "))
}

// refPattern finds `${...}` occurrences; the inner expression is classified
// and parsed after being located, not as part of the regex itself, per
// the locate-then-parse rule rule.
var refPattern = regexp.MustCompile(`\$\{([^}]*)\}`)

var (
	envNameRe     = regexp.MustCompile(`^[A-Z][A-Z0-9_]*$`)
	serviceNameRe = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_-]*$`)
)

var serviceProps = map[string]bool{"ip": true, "port": true, "host": true}

// Resolve expands every `${...}` reference in text. If any reference cannot
// be satisfied, it returns the original text and an *UnresolvedRefsError
// naming every unsatisfiable reference (not just the first).
func Resolve(text string, ctx *Context) (string, error) {
	var missing []string
	result := refPattern.ReplaceAllStringFunc(text, func(match string) string {
		expr := match[2 : len(match)-1] // strip ${ and }
		value, ok := resolveExpr(expr, ctx)
		if !ok {
			missing = append(missing, refLabel(expr))
			return match
		}
		return value
	})

	if len(missing) > 0 {
		sort.Strings(missing)
		return text, &UnresolvedRefsError{Names: missing}
	}
	return result, nil
}

// refLabel extracts the identifying name to report for an unresolved
// reference: the env var name, or `service.prop` for a service reference.
func refLabel(expr string) string {
	if name, _, hasDefault := splitEnvDefault(expr); hasDefault || !strings.Contains(expr, ".") {
		if name != "" {
			return name
		}
	}
	return expr
}

func resolveExpr(expr string, ctx *Context) (string, bool) {
	if svc, prop, ok := splitServiceRef(expr); ok {
		return resolveServiceRef(svc, prop, ctx)
	}
	name, def, hasDefault := splitEnvDefault(expr)
	return resolveEnvRef(name, def, hasDefault, ctx)
}

// splitServiceRef recognizes `svc.prop` where prop is one of ip/port/host.
// A dot is the sole signal that an expression is a service reference, per
// grammar (env names never contain a dot).
func splitServiceRef(expr string) (svc, prop string, ok bool) {
	idx := strings.LastIndex(expr, ".")
	if idx < 0 {
		return "", "", false
	}
	svc, prop = expr[:idx], expr[idx+1:]
	if !serviceNameRe.MatchString(svc) || !serviceProps[prop] {
		return "", "", false
	}
	return svc, prop, true
}

// splitEnvDefault splits `NAME:-DEFAULT` into its parts; DEFAULT is a literal
// substring running to the matching closing brace (already stripped by the
// caller), so no nesting is supported.
func splitEnvDefault(expr string) (name, def string, hasDefault bool) {
	if idx := strings.Index(expr, ":-"); idx >= 0 {
		return expr[:idx], expr[idx+2:], true
	}
	return expr, "", false
}

func resolveEnvRef(name, def string, hasDefault bool, ctx *Context) (string, bool) {
	if !envNameRe.MatchString(name) {
		return "", false
	}
	if v, ok := ctx.EnvVars[name]; ok {
		return v, true
	}
	if v, ok := os.LookupEnv(name); ok {
		return v, true
	}
	if hasDefault {
		return def, true
	}
	return "", false
}

func resolveServiceRef(svc, prop string, ctx *Context) (string, bool) {
	switch prop {
	case "ip":
		v, ok := ctx.ServiceIPs[svc]
		return v, ok
	case "port":
		v, ok := ctx.ServicePorts[svc]
		return v, ok
	case "host":
		v, ok := ctx.ServiceHosts[svc]
		return v, ok
	}
	return "", false
}

// ResolveEnv resolves every value in an env map, collecting resolution
// errors for all keys before returning (mirrors Resolve's all-errors
// semantics at the map level).
func ResolveEnv(env map[string]string, ctx *Context) (map[string]string, error) {
	out := make(map[string]string, len(env))
	var allMissing []string
	for k, v := range env {
		resolved, err := Resolve(v, ctx)
		if err != nil {
			var uerr *UnresolvedRefsError
			if asUnresolvedRefsError(err, &uerr) {
				allMissing = append(allMissing, uerr.Names...)
			}
			continue
		}
		out[k] = resolved
	}
	if len(allMissing) > 0 {
		sort.Strings(allMissing)
		return out, &UnresolvedRefsError{Names: allMissing}
	}
	return out, nil
}

func asUnresolvedRefsError(err error, target **UnresolvedRefsError) bool {
	if e, ok := err.(*UnresolvedRefsError); ok {
		*target = e
		return true
	}
	return false
}

// UnknownServiceRefError reports a `${svc.prop}` reference naming a service
// that is not defined anywhere in the stack.
type UnknownServiceRefError struct {
	Ref string
}

func (e *UnknownServiceRefError) Error() string {
	return fmt.Sprintf("unknown service reference: %s", e.Ref)
}

// Validate checks every `${svc.prop}` reference found in text against the
// set of known service names, used by StackConfig validation independently
// of whether the env vars involved are resolvable yet.
func Validate(text string, knownServices map[string]bool) error {
	matches := refPattern.FindAllStringSubmatch(text, -1)
	for _, m := range matches {
		expr := m[1]
		svc, _, ok := splitServiceRef(expr)
		if !ok {
			continue
		}
		if !knownServices[svc] {
			return &UnknownServiceRefError{Ref: expr}
		}
	}
	return nil
}
