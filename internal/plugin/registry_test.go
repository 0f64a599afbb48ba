package plugin

import (
	"context"
	"testing"

	"github.com/deepmark/deepmark/internal/pipeline"
)

// testPlugin is a minimal Plugin for testing.
type testPlugin struct {
	name    string
	version string
	closed  bool
}

func (p *testPlugin) Name() string                      { return p.name }
func (p *testPlugin) Version() string                   { return p.version }
func (p *testPlugin) Init(map[string]interface{}) error { return nil }
func (p *testPlugin) Close() error                       { p.closed = true; return nil }

// testVerifierPlugin implements Plugin + VerifierPlugin, returning a
// configured outcome or error.
type testVerifierPlugin struct {
	testPlugin
	outcome pipeline.Outcome
	err     error
}

func (p *testVerifierPlugin) Verify(_ context.Context, _ *VerificationInput) (pipeline.Outcome, error) {
	if p.err != nil {
		return pipeline.Outcome{}, p.err
	}
	return p.outcome, nil
}

// testHookPlugin implements Plugin + HookPlugin, recording calls it receives.
type testHookPlugin struct {
	testPlugin
	accepted []VerificationInput
	rejected []VerificationInput
}

func (p *testHookPlugin) OnAccepted(_ context.Context, in *VerificationInput) {
	p.accepted = append(p.accepted, *in)
}

func (p *testHookPlugin) OnRejected(_ context.Context, in *VerificationInput, _ pipeline.Outcome) {
	p.rejected = append(p.rejected, *in)
}

func TestRegistry_Register_List(t *testing.T) {
	r := NewRegistry()

	p1 := &testPlugin{name: "test-a", version: "1.0"}
	p2 := &testPlugin{name: "test-b", version: "2.0"}

	if err := r.Register(p1, nil); err != nil {
		t.Fatalf("Register p1: %v", err)
	}
	if err := r.Register(p2, nil); err != nil {
		t.Fatalf("Register p2: %v", err)
	}

	infos := r.List()
	if len(infos) != 2 {
		t.Fatalf("List: got %d plugins, want 2", len(infos))
	}
}

func TestRegistry_DuplicateRegister(t *testing.T) {
	r := NewRegistry()

	p := &testPlugin{name: "dup", version: "1.0"}
	if err := r.Register(p, nil); err != nil {
		t.Fatalf("first Register: %v", err)
	}

	p2 := &testPlugin{name: "dup", version: "1.0"}
	err := r.Register(p2, nil)
	if err == nil {
		t.Fatal("expected error registering duplicate plugin")
	}
}

func TestRegistry_Unregister(t *testing.T) {
	r := NewRegistry()

	p := &testPlugin{name: "removable", version: "1.0"}
	if err := r.Register(p, nil); err != nil {
		t.Fatalf("Register: %v", err)
	}

	if err := r.Unregister("removable"); err != nil {
		t.Fatalf("Unregister: %v", err)
	}

	if !p.closed {
		t.Error("Close was not called on unregistered plugin")
	}

	infos := r.List()
	if len(infos) != 0 {
		t.Errorf("List after Unregister: got %d, want 0", len(infos))
	}
}

func TestRegistry_UnregisterNotFound(t *testing.T) {
	r := NewRegistry()

	err := r.Unregister("nonexistent")
	if err == nil {
		t.Fatal("expected error unregistering nonexistent plugin")
	}
}

func TestRegistry_VerifierPluginCategorization(t *testing.T) {
	r := NewRegistry()

	vp := &testVerifierPlugin{testPlugin: testPlugin{name: "verifier-plugin", version: "1.0"}, outcome: pipeline.Accept()}
	if err := r.Register(vp, nil); err != nil {
		t.Fatalf("Register: %v", err)
	}

	verifiers := r.Verifiers()
	if len(verifiers) != 1 {
		t.Fatalf("Verifiers: got %d, want 1", len(verifiers))
	}
	if verifiers[0].Name() != "verifier-plugin" {
		t.Errorf("verifier name: got %q, want %q", verifiers[0].Name(), "verifier-plugin")
	}

	// A plugin that is only a verifier should not be categorized as a hook.
	if len(r.Hooks()) != 0 {
		t.Errorf("Hooks: got %d, want 0", len(r.Hooks()))
	}
}

func TestRegistry_HookPluginCategorization(t *testing.T) {
	r := NewRegistry()

	hp := &testHookPlugin{testPlugin: testPlugin{name: "hook-plugin", version: "1.0"}}
	if err := r.Register(hp, nil); err != nil {
		t.Fatalf("Register: %v", err)
	}

	hooks := r.Hooks()
	if len(hooks) != 1 {
		t.Fatalf("Hooks: got %d, want 1", len(hooks))
	}

	if len(r.Verifiers()) != 0 {
		t.Errorf("Verifiers: got %d, want 0", len(r.Verifiers()))
	}
}

func TestRegistry_CloseAll(t *testing.T) {
	r := NewRegistry()

	p1 := &testPlugin{name: "a", version: "1.0"}
	p2 := &testPlugin{name: "b", version: "1.0"}
	_ = r.Register(p1, nil)
	_ = r.Register(p2, nil)

	r.CloseAll()

	if !p1.closed || !p2.closed {
		t.Error("not all plugins were closed")
	}

	if len(r.List()) != 0 {
		t.Error("registry not empty after CloseAll")
	}
}

func TestRegistry_UnregisterRemovesVerifier(t *testing.T) {
	r := NewRegistry()

	vp := &testVerifierPlugin{testPlugin: testPlugin{name: "verifier-rm", version: "1.0"}, outcome: pipeline.Accept()}
	_ = r.Register(vp, nil)

	if len(r.Verifiers()) != 1 {
		t.Fatal("verifier not registered")
	}

	_ = r.Unregister("verifier-rm")

	if len(r.Verifiers()) != 0 {
		t.Error("verifier not removed after Unregister")
	}
}

func TestRegistry_RunVerifiers_AllAccept(t *testing.T) {
	r := NewRegistry()

	_ = r.Register(&testVerifierPlugin{testPlugin: testPlugin{name: "v1"}, outcome: pipeline.Accept()}, nil)
	_ = r.Register(&testVerifierPlugin{testPlugin: testPlugin{name: "v2"}, outcome: pipeline.Accept()}, nil)

	outcome := r.RunVerifiers(context.Background(), &VerificationInput{UserID: "u1"})
	if !outcome.Accepted() {
		t.Errorf("expected Accept, got %+v", outcome)
	}
}

func TestRegistry_RunVerifiers_StopsAtFirstRejection(t *testing.T) {
	r := NewRegistry()

	reject := pipeline.Reject(pipeline.RejectTheftDetected, "matched known content")
	_ = r.Register(&testVerifierPlugin{testPlugin: testPlugin{name: "v1"}, outcome: reject}, nil)
	_ = r.Register(&testVerifierPlugin{testPlugin: testPlugin{name: "v2"}, outcome: pipeline.Accept()}, nil)

	outcome := r.RunVerifiers(context.Background(), &VerificationInput{UserID: "u1"})
	if outcome.Accepted() {
		t.Fatal("expected rejection")
	}
	if outcome.Kind != pipeline.RejectTheftDetected {
		t.Errorf("Kind: got %v, want %v", outcome.Kind, pipeline.RejectTheftDetected)
	}
}

func TestRegistry_RunVerifiers_PluginErrorBecomesRejectFatal(t *testing.T) {
	r := NewRegistry()

	_ = r.Register(&testVerifierPlugin{testPlugin: testPlugin{name: "v1"}, err: context.DeadlineExceeded}, nil)

	outcome := r.RunVerifiers(context.Background(), &VerificationInput{UserID: "u1"})
	if outcome.Accepted() {
		t.Fatal("expected rejection on plugin error")
	}
	if outcome.Kind != pipeline.RejectFatal {
		t.Errorf("Kind: got %v, want %v", outcome.Kind, pipeline.RejectFatal)
	}
}

func TestRegistry_NotifyAcceptedAndRejected(t *testing.T) {
	r := NewRegistry()

	hp := &testHookPlugin{testPlugin: testPlugin{name: "observer", version: "1.0"}}
	_ = r.Register(hp, nil)

	in := &VerificationInput{UserID: "u1", MediaType: "image"}
	r.NotifyAccepted(context.Background(), in)
	if len(hp.accepted) != 1 {
		t.Fatalf("OnAccepted: got %d calls, want 1", len(hp.accepted))
	}

	reject := pipeline.Reject(pipeline.RejectSelfDuplicate, "duplicate upload")
	r.NotifyRejected(context.Background(), in, reject)
	if len(hp.rejected) != 1 {
		t.Fatalf("OnRejected: got %d calls, want 1", len(hp.rejected))
	}
}
