// Package plugin implements the optional, extensible verification-channel
// registry: a way to run additional, non-core checks against a candidate
// upload (third-party perceptual-hash lookups, allow/deny lists, custom
// heuristics) alongside the built-in Fingerprint/Watermark/MetaStamp
// checks, without those checks themselves being pluggable.
package plugin

import (
	"context"

	"github.com/deepmark/deepmark/internal/pipeline"
)

// VerificationInput is the narrow view of an in-flight ingest a plugin is
// allowed to inspect. It is read-only by convention: plugins report a
// verdict, they do not mutate the upload.
type VerificationInput struct {
	UserID      string
	MediaType   string // "image" or "video"
	ContentHash string
	Caption     string
}

// Plugin defines the interface every verification-channel plugin must
// implement.
type Plugin interface {
	// Name returns the unique name of this plugin.
	Name() string

	// Version returns the plugin version string.
	Version() string

	// Init is called once when the plugin is loaded, with the
	// configuration block named after it in [plugins.configs].
	Init(config map[string]interface{}) error

	// Close is called when the plugin is being unloaded.
	Close() error
}

// VerifierPlugin runs an additional check against a candidate upload and
// may veto it. A veto is the plugin's own Reject outcome, passed through
// unchanged by Registry.RunVerifiers; a plugin that returns an error
// surfaces as pipeline.RejectFatal instead.
type VerifierPlugin interface {
	Plugin
	Verify(ctx context.Context, in *VerificationInput) (pipeline.Outcome, error)
}

// HookPlugin receives notifications about ingest lifecycle events, for
// plugins that only need to observe (audit logging, external alerting)
// rather than veto.
type HookPlugin interface {
	Plugin
	OnAccepted(ctx context.Context, in *VerificationInput)
	OnRejected(ctx context.Context, in *VerificationInput, outcome pipeline.Outcome)
}
