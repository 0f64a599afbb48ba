package ingest

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/deepmark/deepmark/internal/cache"
	"github.com/deepmark/deepmark/internal/pipeline"
	"github.com/deepmark/deepmark/internal/security"
	"github.com/deepmark/deepmark/internal/vault"
)

// MediaType classifies an upload by its declared content type.
type MediaType string

const (
	MediaImage MediaType = "image"
	MediaVideo MediaType = "video"
)

// ClassifyContentType maps a declared MIME content type to a MediaType. ok
// is false for anything that is neither image/* nor video/* (§4.6 step 1,
// the Unsupported-media reject).
func ClassifyContentType(contentType string) (MediaType, bool) {
	switch {
	case strings.HasPrefix(contentType, "image/"):
		return MediaImage, true
	case strings.HasPrefix(contentType, "video/"):
		return MediaVideo, true
	default:
		return "", false
	}
}

// ImageUpload is the input to IngestImage.
type ImageUpload struct {
	User        *UserRecord
	ContentType string
	Data        []byte // raw JPEG bytes
	Caption     string
}

// VideoUpload is the input to IngestVideo. Video processing shells out to
// ffmpeg/ffprobe, which need a real file; Path must name the uploaded blob
// already materialized on local disk. The caller owns Path's lifecycle —
// IngestVideo never deletes the original upload, only its own working
// copies (the watermark/metadata re-encode targets).
type VideoUpload struct {
	User        *UserRecord
	ContentType string
	Path        string
	Caption     string
}

// Result is the outcome of one ingest attempt.
type Result struct {
	Outcome pipeline.Outcome
	Post    *PostRecord // non-nil only when Outcome.Accepted()
}

// Decider composes KeyVault, Fingerprint, Watermark, MetaStamp, and the
// provenance store into the ingest decision procedure: classify an upload
// as a fresh accept, a self-duplicate, third-party theft, or a fraudulent
// resubmission.
type Decider struct {
	Vault      *vault.KeyVault
	Users      Users
	Posts      Posts
	Provenance Provenance
	Activities Activities
	Blobs      BlobStore
	Security   *security.Gate

	VideoStamper  videoStamper
	Fingerprinter fingerprinter
	Embedder      embedder

	provenanceCache *cache.ProvenanceLookup[ProvenanceRecord]
}

// fingerprinter, embedder, and videoStamper are narrowed to the exact
// methods Decider calls, so tests can supply lightweight fakes instead of
// driving real ffmpeg subprocesses. *fingerprint.Fingerprinter,
// *watermark.Embedder, and *metastamp.VideoStamper satisfy these
// structurally.
type fingerprinter interface {
	HashImage(r io.Reader) (string, error)
	HashVideo(ctx context.Context, path string) (string, error)
}

type embedder interface {
	EmbedVideo(ctx context.Context, inputPath, outputPath, provenanceID string) error
	ExtractVideo(ctx context.Context, inputPath string) (string, bool, error)
}

type videoStamper interface {
	ReadProvenanceCopyright(ctx context.Context, path string) (string, bool, error)
	WriteTags(ctx context.Context, inputPath, outputPath string, newTags map[string]string) error
}

// NewDecider wires a Decider from its collaborators. provenanceCache may be
// nil to bypass the in-memory lookup tier.
func NewDecider(
	kv *vault.KeyVault,
	users Users,
	posts Posts,
	provenance Provenance,
	activities Activities,
	blobs BlobStore,
	sec *security.Gate,
	vs videoStamper,
	fp fingerprinter,
	emb embedder,
	provenanceCache *cache.ProvenanceLookup[ProvenanceRecord],
) *Decider {
	return &Decider{
		Vault:           kv,
		Users:           users,
		Posts:           posts,
		Provenance:      provenance,
		Activities:      activities,
		Blobs:           blobs,
		Security:        sec,
		VideoStamper:    vs,
		Fingerprinter:   fp,
		Embedder:        emb,
		provenanceCache: provenanceCache,
	}
}

// checkLockout surfaces §7's QuotaExhausted as a RejectQuotaExhausted
// outcome, ahead of any media-specific work.
func (d *Decider) checkLockout(userID string) (pipeline.Outcome, bool, error) {
	lockout, err := d.Security.CheckLockedOut(userID)
	if err != nil {
		return pipeline.Outcome{}, false, err
	}
	if lockout != nil {
		return pipeline.Reject(pipeline.RejectQuotaExhausted, lockout.Error()), true, nil
	}
	return pipeline.Outcome{}, false, nil
}

// lookupProvenanceByContentHash consults the cache tier if configured,
// falling back to the store directly.
func (d *Decider) lookupProvenanceByContentHash(hash string) (*ProvenanceRecord, bool, error) {
	if d.provenanceCache != nil {
		return d.provenanceCache.ByContentHash(hash)
	}
	return d.Provenance.ByContentHash(hash)
}

// recordTheft resolves the owner of recoveredID, appends a theft activity,
// and classifies the reject: a content_hash mismatch against the current
// upload escalates to a warning (and the "chances remaining" detail); a
// match rejects flatly. Returns ok=false if recoveredID does not resolve
// to any provenance record (caller should fall through rather than treat
// this as theft).
func (d *Decider) recordTheft(current *UserRecord, recoveredID, currentContentHash string) (pipeline.Outcome, bool, error) {
	rec, ok, err := d.Provenance.ByID(recoveredID)
	if err != nil {
		return pipeline.Outcome{}, false, err
	}
	if !ok {
		return pipeline.Outcome{}, false, nil
	}
	post, ok, err := d.Posts.Get(rec.PostID)
	if err != nil {
		return pipeline.Outcome{}, false, err
	}
	if !ok {
		return pipeline.Outcome{}, false, nil
	}

	if post.UserID == current.UserID {
		// The stamp resolves back to the current user's own earlier post:
		// a genuine self-duplicate, not theft.
		return pipeline.Reject(pipeline.RejectSelfDuplicate, "post was already uploaded"), true, nil
	}

	owner, ok, err := d.Users.ByID(post.UserID)
	if err != nil {
		return pipeline.Outcome{}, false, err
	}
	if !ok {
		return pipeline.Outcome{}, false, nil
	}

	if err := d.Activities.RecordTheft(owner.UserID, current.UserID, post.MediaType, post.ID, post.MediaURL); err != nil {
		return pipeline.Outcome{}, false, err
	}

	if rec.ContentHash != currentContentHash {
		remaining, err := d.Security.Warn(current.UserID)
		if err != nil {
			return pipeline.Outcome{}, false, err
		}
		detail := fmt.Sprintf("you don't own this media, you have only %d chance remaining", remaining)
		return pipeline.Reject(pipeline.RejectTheftDetected, detail), true, nil
	}
	return pipeline.Reject(pipeline.RejectTheftDetected, "you don't own this media"), true, nil
}

// checkStampTokens implements §4.6 step 2's decrypt-and-classify logic,
// shared between the image and video MetaStamp check: a user-cipher
// decrypt that resolves to an existing provenance record is a
// self-duplicate; failing that, a master-cipher decrypt that resolves is
// handed to recordTheft. Either failure means "no stamp" (Continue).
func (d *Decider) checkStampTokens(user *UserRecord, userCipher *vault.Cipher, tokUser, tokMaster, contentHash string) (pipeline.StageResult, error) {
	if plain, ok := userCipher.Decrypt(tokUser); ok {
		_, exists, err := d.Provenance.ByID(plain)
		if err != nil {
			return pipeline.StageResult{}, err
		}
		if exists {
			return pipeline.Stop(pipeline.Reject(pipeline.RejectSelfDuplicate, "post was already uploaded")), nil
		}
	}

	if plain, ok := d.Vault.MasterCipher().Decrypt(tokMaster); ok {
		outcome, matched, err := d.recordTheft(user, plain, contentHash)
		if err != nil {
			return pipeline.StageResult{}, err
		}
		if matched {
			return pipeline.Stop(outcome), nil
		}
	}

	return pipeline.Continue(), nil
}

// persist inserts the post and its provenance record, compensating on a
// content_hash collision (§4.6 step 6 / §7 propagation policy).
func (d *Decider) persist(current *UserRecord, mediaType MediaType, blobURL, caption, provenanceID, contentHash string) (*PostRecord, pipeline.Outcome, error) {
	post := &PostRecord{
		ID:        newID(),
		UserID:    current.UserID,
		MediaURL:  blobURL,
		MediaType: string(mediaType),
	}
	if err := d.Posts.Create(post); err != nil {
		return nil, pipeline.Outcome{}, fmt.Errorf("ingest: create post: %w", err)
	}

	err := d.Provenance.Create(&ProvenanceRecord{
		ProvenanceID: provenanceID,
		PostID:       post.ID,
		ContentHash:  contentHash,
	})
	if err == nil {
		return post, pipeline.Accept(), nil
	}
	if err != ErrContentHashExists {
		_ = d.Posts.Delete(post.ID)
		_ = d.Blobs.Delete(blobURL)
		return nil, pipeline.Outcome{}, fmt.Errorf("ingest: create provenance record: %w", err)
	}

	// Compensating rollback: the blob and post are not the accepted
	// version of this content; undo both before classifying the reject.
	_ = d.Posts.Delete(post.ID)
	_ = d.Blobs.Delete(blobURL)

	colliding, ok, lookupErr := d.lookupProvenanceByContentHash(contentHash)
	if lookupErr != nil {
		return nil, pipeline.Outcome{}, fmt.Errorf("ingest: resolving collision: %w", lookupErr)
	}
	if !ok {
		return nil, pipeline.Outcome{}, fmt.Errorf("ingest: content_hash collision reported but no record found for %s", contentHash)
	}
	collidingPost, ok, err := d.Posts.Get(colliding.PostID)
	if err != nil {
		return nil, pipeline.Outcome{}, err
	}
	if !ok {
		return nil, pipeline.Outcome{}, fmt.Errorf("ingest: colliding provenance record points at a missing post %s", colliding.PostID)
	}
	if collidingPost.UserID == current.UserID {
		return nil, pipeline.Reject(pipeline.RejectSelfDuplicate, "post was already uploaded"), nil
	}
	owner, ok, err := d.Users.ByID(collidingPost.UserID)
	if err != nil {
		return nil, pipeline.Outcome{}, err
	}
	if ok {
		if err := d.Activities.RecordTheft(owner.UserID, current.UserID, collidingPost.MediaType, collidingPost.ID, collidingPost.MediaURL); err != nil {
			return nil, pipeline.Outcome{}, err
		}
	}
	return nil, pipeline.Reject(pipeline.RejectTheftDetected, "you don't own this media"), nil
}
