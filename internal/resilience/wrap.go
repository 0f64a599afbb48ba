package resilience

import (
	"context"
	"io"

	"github.com/deepmark/deepmark/internal/fingerprint"
	"github.com/deepmark/deepmark/internal/metastamp"
	"github.com/deepmark/deepmark/internal/watermark"
)

// RetryingFingerprinter retries HashVideo/HashImage failures per Policy.
// It satisfies internal/ingest's unexported fingerprinter interface.
type RetryingFingerprinter struct {
	inner  *fingerprint.Fingerprinter
	policy Policy
}

// NewRetryingFingerprinter wraps inner with policy.
func NewRetryingFingerprinter(inner *fingerprint.Fingerprinter, policy Policy) *RetryingFingerprinter {
	return &RetryingFingerprinter{inner: inner, policy: policy}
}

func (r *RetryingFingerprinter) HashVideo(ctx context.Context, path string) (string, error) {
	var hash string
	err := r.policy.Do(ctx, func() error {
		h, err := r.inner.HashVideo(ctx, path)
		if err != nil {
			return err
		}
		hash = h
		return nil
	})
	return hash, err
}

func (r *RetryingFingerprinter) HashImage(src io.Reader) (string, error) {
	// Decoding is in-memory and the reader is not rewindable, so a failed
	// attempt cannot be retried; this is a straight passthrough.
	return r.inner.HashImage(src)
}

// RetryingEmbedder retries EmbedVideo/ExtractVideo failures per Policy.
// It satisfies internal/ingest's unexported embedder interface.
type RetryingEmbedder struct {
	inner  *watermark.Embedder
	policy Policy
}

// NewRetryingEmbedder wraps inner with policy.
func NewRetryingEmbedder(inner *watermark.Embedder, policy Policy) *RetryingEmbedder {
	return &RetryingEmbedder{inner: inner, policy: policy}
}

func (r *RetryingEmbedder) EmbedVideo(ctx context.Context, inputPath, outputPath, provenanceID string) error {
	return r.policy.Do(ctx, func() error {
		return r.inner.EmbedVideo(ctx, inputPath, outputPath, provenanceID)
	})
}

func (r *RetryingEmbedder) ExtractVideo(ctx context.Context, inputPath string) (string, bool, error) {
	var (
		token string
		found bool
	)
	err := r.policy.Do(ctx, func() error {
		t, f, err := r.inner.ExtractVideo(ctx, inputPath)
		if err != nil {
			return err
		}
		token, found = t, f
		return nil
	})
	return token, found, err
}

// RetryingVideoStamper retries ReadProvenanceCopyright/WriteTags
// failures per Policy. It satisfies internal/ingest's unexported
// videoStamper interface.
type RetryingVideoStamper struct {
	inner  *metastamp.VideoStamper
	policy Policy
}

// NewRetryingVideoStamper wraps inner with policy.
func NewRetryingVideoStamper(inner *metastamp.VideoStamper, policy Policy) *RetryingVideoStamper {
	return &RetryingVideoStamper{inner: inner, policy: policy}
}

func (r *RetryingVideoStamper) ReadProvenanceCopyright(ctx context.Context, path string) (string, bool, error) {
	var (
		token string
		found bool
	)
	err := r.policy.Do(ctx, func() error {
		t, f, err := r.inner.ReadProvenanceCopyright(ctx, path)
		if err != nil {
			return err
		}
		token, found = t, f
		return nil
	})
	return token, found, err
}

func (r *RetryingVideoStamper) WriteTags(ctx context.Context, inputPath, outputPath string, newTags map[string]string) error {
	return r.policy.Do(ctx, func() error {
		return r.inner.WriteTags(ctx, inputPath, outputPath, newTags)
	})
}
