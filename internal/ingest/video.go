package ingest

import (
	"context"
	"fmt"
	"os"

	"github.com/deepmark/deepmark/internal/metastamp"
	"github.com/deepmark/deepmark/internal/pipeline"
	"github.com/deepmark/deepmark/internal/vault"
	"github.com/deepmark/deepmark/internal/watermark"
)

// videoState threads per-attempt data between the video ingest chain's
// stages. finalPath names a scratch file on local disk holding the
// stamped/watermarked output; it and any intermediate scratch files are
// removed on every exit path (§5 resource discipline).
type videoState struct {
	upload      *VideoUpload
	userCipher  *vault.Cipher
	contentHash string
	provenance  string
	finalPath   string
	blobURL     string
	cleanup     []string
}

func (st *videoState) scratch(f string) string {
	st.cleanup = append(st.cleanup, f)
	return f
}

func (st *videoState) removeScratch() {
	for _, f := range st.cleanup {
		_ = os.Remove(f)
	}
}

// IngestVideo runs the video ingest decision procedure (§4.6, video path):
// compute a content hash (the stamp check compares against it), check any
// pre-existing container-level stamp, check the blind watermark channel, then stamp (watermark + metadata),
// publish, and persist a fresh upload.
func (d *Decider) IngestVideo(ctx context.Context, upload *VideoUpload) (Result, error) {
	if outcome, hit, err := d.checkLockout(upload.User.UserID); err != nil {
		return Result{}, err
	} else if hit {
		return Result{Outcome: outcome}, nil
	}

	cipher, err := d.Vault.UserCipher(upload.User.SecurityKey)
	if err != nil {
		return Result{}, fmt.Errorf("ingest: resolving user cipher: %w", err)
	}
	st := &videoState{upload: upload, userCipher: cipher}
	defer st.removeScratch()

	chain := pipeline.NewChain(
		pipeline.Stage[videoState]{Name: "compute-hash", Run: d.videoComputeHash},
		pipeline.Stage[videoState]{Name: "check-stamp", Run: d.videoCheckStamp},
		pipeline.Stage[videoState]{Name: "check-watermark", Run: d.videoCheckWatermark},
		pipeline.Stage[videoState]{Name: "stamp-and-publish", Run: d.videoStampAndPublish},
	)
	outcome, err := chain.Run(ctx, st)
	if err != nil {
		return Result{}, err
	}
	if !outcome.Accepted() {
		return Result{Outcome: outcome}, nil
	}

	post, persistOutcome, err := d.persist(upload.User, MediaVideo, st.blobURL, upload.Caption, st.provenance, st.contentHash)
	if err != nil {
		return Result{}, err
	}
	return Result{Outcome: persistOutcome, Post: post}, nil
}

func (d *Decider) videoCheckStamp(ctx context.Context, st *videoState) (pipeline.StageResult, error) {
	copyright, ok, err := d.VideoStamper.ReadProvenanceCopyright(ctx, st.upload.Path)
	if err != nil {
		return pipeline.StageResult{}, fmt.Errorf("ingest: reading video stamp: %w", err)
	}
	if !ok {
		return pipeline.Continue(), nil
	}
	prefix, tokUser, tokMaster, ok := metastamp.ParsePayload(copyright)
	if !ok || prefix != metastamp.PrefixVideo {
		return pipeline.Continue(), nil
	}
	return d.checkStampTokens(st.upload.User, st.userCipher, tokUser, tokMaster, st.contentHash)
}

func (d *Decider) videoComputeHash(ctx context.Context, st *videoState) (pipeline.StageResult, error) {
	hash, err := d.Fingerprinter.HashVideo(ctx, st.upload.Path)
	if err != nil {
		return pipeline.StageResult{}, fmt.Errorf("ingest: fingerprinting video: %w", err)
	}
	st.contentHash = hash
	return pipeline.Continue(), nil
}

func (d *Decider) videoCheckWatermark(ctx context.Context, st *videoState) (pipeline.StageResult, error) {
	candidate, ok, err := d.Embedder.ExtractVideo(ctx, st.upload.Path)
	if err != nil {
		return pipeline.StageResult{}, fmt.Errorf("ingest: extracting watermark: %w", err)
	}
	if !ok {
		return pipeline.Continue(), nil
	}
	if candidate == watermark.ManipulatedSentinel {
		return pipeline.Stop(pipeline.Reject(pipeline.RejectTheftDetected, "you don't own this media")), nil
	}

	outcome, matched, err := d.recordTheft(st.upload.User, candidate, st.contentHash)
	if err != nil {
		return pipeline.StageResult{}, err
	}
	if matched {
		return pipeline.Stop(outcome), nil
	}
	// A watermark was successfully extracted but does not resolve to any
	// known provenance record or post: the media was stamped by this
	// system yet its lineage cannot be verified, so it is rejected rather
	// than treated as fresh content.
	return pipeline.Stop(pipeline.Reject(pipeline.RejectTheftDetected, "you don't own this media")), nil
}

func (d *Decider) videoStampAndPublish(ctx context.Context, st *videoState) (pipeline.StageResult, error) {
	provenanceID := newProvenanceID()

	watermarked := st.scratch(st.upload.Path + ".watermarked.mp4")
	if err := d.Embedder.EmbedVideo(ctx, st.upload.Path, watermarked, provenanceID); err != nil {
		return pipeline.StageResult{}, fmt.Errorf("ingest: embedding watermark: %w", err)
	}

	tokUser, err := st.userCipher.Encrypt(provenanceID)
	if err != nil {
		return pipeline.StageResult{}, fmt.Errorf("ingest: encrypting user token: %w", err)
	}
	tokMaster, err := d.Vault.MasterCipher().Encrypt(provenanceID)
	if err != nil {
		return pipeline.StageResult{}, fmt.Errorf("ingest: encrypting master token: %w", err)
	}
	payload := metastamp.BuildPayload(metastamp.PrefixVideo, tokUser, tokMaster)

	stamped := st.scratch(st.upload.Path + ".stamped.mp4")
	if err := d.VideoStamper.WriteTags(ctx, watermarked, stamped, map[string]string{"copyright": payload}); err != nil {
		return pipeline.StageResult{}, fmt.Errorf("ingest: writing video stamp: %w", err)
	}

	data, err := os.ReadFile(stamped)
	if err != nil {
		return pipeline.StageResult{}, fmt.Errorf("ingest: reading stamped video: %w", err)
	}
	url, err := d.Blobs.Put("video", fmt.Sprintf("%s.mp4", provenanceID), data)
	if err != nil {
		return pipeline.StageResult{}, fmt.Errorf("ingest: uploading stamped video: %w", err)
	}

	st.provenance = provenanceID
	st.finalPath = stamped
	st.blobURL = url
	return pipeline.Continue(), nil
}
