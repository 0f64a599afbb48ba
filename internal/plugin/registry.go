package plugin

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/deepmark/deepmark/internal/pipeline"
)

// Registry manages loaded verification-channel plugins.
type Registry struct {
	plugins   map[string]Plugin
	verifiers []VerifierPlugin
	hooks     []HookPlugin
	mu        sync.RWMutex
}

// NewRegistry creates an empty plugin registry.
func NewRegistry() *Registry {
	return &Registry{
		plugins: make(map[string]Plugin),
	}
}

// Register adds a plugin to the registry. The plugin's Init method is
// called with the provided config.
func (r *Registry) Register(p Plugin, config map[string]interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := p.Name()
	if _, exists := r.plugins[name]; exists {
		return fmt.Errorf("plugin %q already registered", name)
	}

	if err := p.Init(config); err != nil {
		return fmt.Errorf("initializing plugin %q: %w", name, err)
	}

	r.plugins[name] = p

	if vp, ok := p.(VerifierPlugin); ok {
		r.verifiers = append(r.verifiers, vp)
	}
	if hp, ok := p.(HookPlugin); ok {
		r.hooks = append(r.hooks, hp)
	}

	log.Info().Str("plugin", name).Str("version", p.Version()).Msg("plugin registered")
	return nil
}

// Unregister removes a plugin from the registry and calls its Close method.
func (r *Registry) Unregister(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, exists := r.plugins[name]
	if !exists {
		return fmt.Errorf("plugin %q not found", name)
	}

	if err := p.Close(); err != nil {
		log.Warn().Err(err).Str("plugin", name).Msg("error closing plugin")
	}

	delete(r.plugins, name)

	r.verifiers = filterVerifiers(r.verifiers, name)
	r.hooks = filterHooks(r.hooks, name)

	log.Info().Str("plugin", name).Msg("plugin unregistered")
	return nil
}

// PluginInfo is a summary of a registered plugin.
type PluginInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// List returns the names and versions of all registered plugins.
func (r *Registry) List() []PluginInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]PluginInfo, 0, len(r.plugins))
	for _, p := range r.plugins {
		infos = append(infos, PluginInfo{
			Name:    p.Name(),
			Version: p.Version(),
		})
	}
	return infos
}

// Verifiers returns all registered verifier plugins.
func (r *Registry) Verifiers() []VerifierPlugin {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]VerifierPlugin{}, r.verifiers...)
}

// Hooks returns all registered hook plugins.
func (r *Registry) Hooks() []HookPlugin {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]HookPlugin{}, r.hooks...)
}

// RunVerifiers runs every registered verifier against in, in registration
// order, stopping at the first rejection. A plugin error is treated as a
// RejectFatal outcome rather than propagated, so one misbehaving plugin
// cannot crash the ingest path.
func (r *Registry) RunVerifiers(ctx context.Context, in *VerificationInput) pipeline.Outcome {
	for _, v := range r.Verifiers() {
		outcome, err := v.Verify(ctx, in)
		if err != nil {
			log.Error().Err(err).Str("plugin", v.Name()).Msg("verifier plugin failed")
			return pipeline.Reject(pipeline.RejectFatal, fmt.Sprintf("verifier plugin %q failed: %v", v.Name(), err))
		}
		if !outcome.Accepted() {
			return outcome
		}
	}
	return pipeline.Accept()
}

// NotifyAccepted calls OnAccepted on every registered hook plugin.
func (r *Registry) NotifyAccepted(ctx context.Context, in *VerificationInput) {
	for _, h := range r.Hooks() {
		h.OnAccepted(ctx, in)
	}
}

// NotifyRejected calls OnRejected on every registered hook plugin.
func (r *Registry) NotifyRejected(ctx context.Context, in *VerificationInput, outcome pipeline.Outcome) {
	for _, h := range r.Hooks() {
		h.OnRejected(ctx, in, outcome)
	}
}

// CloseAll closes all registered plugins.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for name, p := range r.plugins {
		if err := p.Close(); err != nil {
			log.Warn().Err(err).Str("plugin", name).Msg("error closing plugin")
		}
	}
	r.plugins = make(map[string]Plugin)
	r.verifiers = nil
	r.hooks = nil
}

func filterVerifiers(slice []VerifierPlugin, name string) []VerifierPlugin {
	result := make([]VerifierPlugin, 0, len(slice))
	for _, p := range slice {
		if p.Name() != name {
			result = append(result, p)
		}
	}
	return result
}

func filterHooks(slice []HookPlugin, name string) []HookPlugin {
	result := make([]HookPlugin, 0, len(slice))
	for _, p := range slice {
		if p.Name() != name {
			result = append(result, p)
		}
	}
	return result
}
