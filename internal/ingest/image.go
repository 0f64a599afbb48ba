package ingest

import (
	"bytes"
	"context"
	"fmt"

	"github.com/deepmark/deepmark/internal/metastamp"
	"github.com/deepmark/deepmark/internal/pipeline"
	"github.com/deepmark/deepmark/internal/vault"
)

// imageState threads per-attempt data between the image ingest chain's
// stages.
type imageState struct {
	upload      *ImageUpload
	userCipher  *vault.Cipher
	contentHash string
	provenance  string
	stamped     []byte
	blobURL     string
}

// IngestImage runs the image ingest decision procedure (§4.6, image path):
// compute a content hash, check any pre-existing stamp for self-duplicate
// or theft, then stamp, publish, and persist a fresh upload.
func (d *Decider) IngestImage(ctx context.Context, upload *ImageUpload) (Result, error) {
	if outcome, hit, err := d.checkLockout(upload.User.UserID); err != nil {
		return Result{}, err
	} else if hit {
		return Result{Outcome: outcome}, nil
	}

	cipher, err := d.Vault.UserCipher(upload.User.SecurityKey)
	if err != nil {
		return Result{}, fmt.Errorf("ingest: resolving user cipher: %w", err)
	}
	st := &imageState{upload: upload, userCipher: cipher}

	chain := pipeline.NewChain(
		pipeline.Stage[imageState]{Name: "compute-hash", Run: d.imageComputeHash},
		pipeline.Stage[imageState]{Name: "check-stamp", Run: d.imageCheckStamp},
		pipeline.Stage[imageState]{Name: "stamp-and-publish", Run: d.imageStampAndPublish},
	)
	outcome, err := chain.Run(ctx, st)
	if err != nil {
		return Result{}, err
	}
	if !outcome.Accepted() {
		return Result{Outcome: outcome}, nil
	}

	post, persistOutcome, err := d.persist(upload.User, MediaImage, st.blobURL, upload.Caption, st.provenance, st.contentHash)
	if err != nil {
		return Result{}, err
	}
	return Result{Outcome: persistOutcome, Post: post}, nil
}

func (d *Decider) imageComputeHash(ctx context.Context, st *imageState) (pipeline.StageResult, error) {
	hash, err := d.Fingerprinter.HashImage(bytes.NewReader(st.upload.Data))
	if err != nil {
		return pipeline.StageResult{}, fmt.Errorf("ingest: fingerprinting image: %w", err)
	}
	st.contentHash = hash
	return pipeline.Continue(), nil
}

func (d *Decider) imageCheckStamp(ctx context.Context, st *imageState) (pipeline.StageResult, error) {
	tags, ok := metastamp.ReadImageStamp(st.upload.Data)
	if !ok {
		return pipeline.Continue(), nil
	}
	copyright, ok := tags["copyright"]
	if !ok {
		return pipeline.Continue(), nil
	}
	prefix, tokUser, tokMaster, ok := metastamp.ParsePayload(copyright)
	if !ok || prefix != metastamp.PrefixImage {
		return pipeline.Continue(), nil
	}
	return d.checkStampTokens(st.upload.User, st.userCipher, tokUser, tokMaster, st.contentHash)
}

func (d *Decider) imageStampAndPublish(ctx context.Context, st *imageState) (pipeline.StageResult, error) {
	provenanceID := newProvenanceID()
	tokUser, err := st.userCipher.Encrypt(provenanceID)
	if err != nil {
		return pipeline.StageResult{}, fmt.Errorf("ingest: encrypting user token: %w", err)
	}
	tokMaster, err := d.Vault.MasterCipher().Encrypt(provenanceID)
	if err != nil {
		return pipeline.StageResult{}, fmt.Errorf("ingest: encrypting master token: %w", err)
	}
	payload := metastamp.BuildPayload(metastamp.PrefixImage, tokUser, tokMaster)

	stamped, err := metastamp.WriteImageStamp(st.upload.Data, metastamp.Tags{"copyright": payload})
	if err != nil {
		return pipeline.StageResult{}, fmt.Errorf("ingest: writing image stamp: %w", err)
	}

	url, err := d.Blobs.Put("image", fmt.Sprintf("%s.jpg", provenanceID), stamped)
	if err != nil {
		return pipeline.StageResult{}, fmt.Errorf("ingest: uploading stamped image: %w", err)
	}

	st.provenance = provenanceID
	st.stamped = stamped
	st.blobURL = url
	return pipeline.Continue(), nil
}
