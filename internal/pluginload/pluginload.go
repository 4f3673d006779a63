// Package pluginload loads out-of-process critic implementations from Go
// plugin (.so) files, the compiled-language analogue of the reference
// implementation's dynamic Python critic loader. Only .so files rooted under
// a configured allowed directory are ever opened.
package pluginload

import (
	"fmt"
	"path/filepath"
	"plugin"
	"strings"

	"github.com/eje-systems/eje/internal/critics"
	"github.com/eje-systems/eje/internal/ejerr"
)

// symbolNames are tried in order against a loaded plugin's exported symbols,
// mirroring the reference loader's fallback chain across historical critic
// class names.
var symbolNames = []string{"CustomRuleCritic", "CustomCriticSupplier", "Critic"}

// Loader loads critic plugins from disk, restricted to files under
// AllowedRoot. A zero-value Loader refuses every path (AllowedRoot is empty).
type Loader struct {
	AllowedRoot string
}

// NewLoader constructs a Loader rooted at allowedRoot. Plugin paths outside
// this root are rejected by Load with a PluginSecurityError.
func NewLoader(allowedRoot string) *Loader {
	return &Loader{AllowedRoot: allowedRoot}
}

// Load opens the plugin at path and returns the critics.Critic value its
// exported Critic/CustomCriticSupplier/CustomRuleCritic symbol resolves to.
// Returns a *ejerr.PluginSecurityError if path isn't a .so file under
// l.AllowedRoot (including via a symlink escape), or a *ejerr.PluginLoadError
// if no recognized symbol is exported or the symbol isn't a critics.Critic.
func (l *Loader) Load(path string) (critics.Critic, error) {
	if !strings.HasSuffix(path, ".so") {
		return nil, &ejerr.PluginSecurityError{Path: path, Detail: "plugin must be a .so file"}
	}

	resolved, err := l.resolveWithinRoot(path)
	if err != nil {
		return nil, err
	}

	p, err := plugin.Open(resolved)
	if err != nil {
		return nil, &ejerr.PluginLoadError{Path: path, Detail: fmt.Sprintf("open plugin: %v", err)}
	}

	var sym plugin.Symbol
	var foundName string
	for _, name := range symbolNames {
		if s, err := p.Lookup(name); err == nil {
			sym = s
			foundName = name
			break
		}
	}
	if sym == nil {
		return nil, &ejerr.PluginLoadError{
			Path:   path,
			Detail: fmt.Sprintf("no exported symbol among %v", symbolNames),
		}
	}

	c, ok := resolveCritic(sym)
	if !ok {
		return nil, &ejerr.PluginLoadError{
			Path:   path,
			Detail: fmt.Sprintf("symbol %q does not implement critics.Critic", foundName),
		}
	}
	return c, nil
}

// resolveCritic accepts either a critics.Critic value or a *critics.Critic
// pointer, matching the two conventional ways a plugin might export its
// constructed critic.
func resolveCritic(sym plugin.Symbol) (critics.Critic, bool) {
	if c, ok := sym.(critics.Critic); ok {
		return c, true
	}
	if ptr, ok := sym.(*critics.Critic); ok && ptr != nil {
		return *ptr, true
	}
	return nil, false
}

// resolveWithinRoot resolves path (following symlinks) and verifies the
// result is still contained in l.AllowedRoot, rejecting any plugin that
// escapes the allowed directory via a symlink or ".." traversal.
func (l *Loader) resolveWithinRoot(path string) (string, error) {
	if l.AllowedRoot == "" {
		return "", &ejerr.PluginSecurityError{Path: path, Detail: "no allowed plugin root configured"}
	}

	absRoot, err := filepath.Abs(l.AllowedRoot)
	if err != nil {
		return "", &ejerr.PluginSecurityError{Path: path, Detail: fmt.Sprintf("resolve allowed root: %v", err)}
	}
	root, err := filepath.EvalSymlinks(absRoot)
	if err != nil {
		return "", &ejerr.PluginSecurityError{Path: path, Detail: fmt.Sprintf("resolve allowed root: %v", err)}
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", &ejerr.PluginSecurityError{Path: path, Detail: fmt.Sprintf("resolve plugin path: %v", err)}
	}
	resolved, err := filepath.EvalSymlinks(absPath)
	if err != nil {
		return "", &ejerr.PluginSecurityError{Path: path, Detail: fmt.Sprintf("resolve plugin path: %v", err)}
	}

	rel, err := filepath.Rel(root, resolved)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", &ejerr.PluginSecurityError{Path: path, Detail: fmt.Sprintf("plugin outside approved directory (allowed root: %s)", l.AllowedRoot)}
	}

	return resolved, nil
}

// LoadAll loads every plugin in paths, skipping duplicates by resolved path.
// A single plugin failure aborts the whole batch, matching the reference
// loader's fail-fast startup behavior — a misconfigured critic plugin should
// never let the engine start up silently short a critic.
func (l *Loader) LoadAll(paths []string) ([]critics.Critic, error) {
	seen := make(map[string]bool, len(paths))
	var loaded []critics.Critic
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return nil, &ejerr.PluginSecurityError{Path: p, Detail: fmt.Sprintf("resolve path: %v", err)}
		}
		if seen[abs] {
			continue
		}
		seen[abs] = true

		c, err := l.Load(p)
		if err != nil {
			return nil, err
		}
		loaded = append(loaded, c)
	}
	return loaded, nil
}
