package ingest

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"os"
	"testing"

	"github.com/deepmark/deepmark/internal/cache"
	"github.com/deepmark/deepmark/internal/metastamp"
	"github.com/deepmark/deepmark/internal/pipeline"
	"github.com/deepmark/deepmark/internal/security"
	"github.com/deepmark/deepmark/internal/vault"
	"github.com/deepmark/deepmark/internal/watermark"
)

// sampleJPEG returns a minimal valid JPEG, distinguished by seed so distinct
// calls produce distinct fingerprints when fed through a real hasher.
func sampleJPEG(t *testing.T, seed uint8) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			img.Set(x, y, color.RGBA{R: seed, G: uint8(x * 16), B: uint8(y * 16), A: 255})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatalf("encoding sample jpeg: %v", err)
	}
	return buf.Bytes()
}

// --- fakes -----------------------------------------------------------------

type fakeUsers struct {
	byID map[string]*UserRecord
}

func newFakeUsers(users ...*UserRecord) *fakeUsers {
	m := map[string]*UserRecord{}
	for _, u := range users {
		m[u.UserID] = u
	}
	return &fakeUsers{byID: m}
}

func (f *fakeUsers) ByID(userID string) (*UserRecord, bool, error) {
	u, ok := f.byID[userID]
	return u, ok, nil
}

func (f *fakeUsers) IncrementWarning(userID string) (int, error) {
	u := f.byID[userID]
	u.Warning++
	if u.Warning > security.MaxWarning {
		u.Warning = security.MaxWarning
	}
	return u.Warning, nil
}

type fakePosts struct {
	rows map[string]*PostRecord
}

func newFakePosts() *fakePosts { return &fakePosts{rows: map[string]*PostRecord{}} }

func (f *fakePosts) Create(p *PostRecord) error {
	f.rows[p.ID] = p
	return nil
}

func (f *fakePosts) Get(id string) (*PostRecord, bool, error) {
	p, ok := f.rows[id]
	return p, ok, nil
}

func (f *fakePosts) Delete(id string) error {
	delete(f.rows, id)
	return nil
}

type fakeProvenance struct {
	byID   map[string]*ProvenanceRecord
	byHash map[string]*ProvenanceRecord
}

func newFakeProvenance() *fakeProvenance {
	return &fakeProvenance{byID: map[string]*ProvenanceRecord{}, byHash: map[string]*ProvenanceRecord{}}
}

func (f *fakeProvenance) ByID(id string) (*ProvenanceRecord, bool, error) {
	r, ok := f.byID[id]
	return r, ok, nil
}

func (f *fakeProvenance) ByContentHash(hash string) (*ProvenanceRecord, bool, error) {
	r, ok := f.byHash[hash]
	return r, ok, nil
}

func (f *fakeProvenance) Create(r *ProvenanceRecord) error {
	if _, exists := f.byHash[r.ContentHash]; exists {
		return ErrContentHashExists
	}
	f.byID[r.ProvenanceID] = r
	f.byHash[r.ContentHash] = r
	return nil
}

func (f *fakeProvenance) Delete(id string) error {
	r, ok := f.byID[id]
	if !ok {
		return nil
	}
	delete(f.byID, id)
	delete(f.byHash, r.ContentHash)
	return nil
}

type theftRecord struct {
	receiverUserID, senderUserID, mediaType, postID, postURL string
}

type fakeActivities struct {
	recorded []theftRecord
}

func (f *fakeActivities) RecordTheft(receiverUserID, senderUserID, mediaType, postID, postURL string) error {
	f.recorded = append(f.recorded, theftRecord{receiverUserID, senderUserID, mediaType, postID, postURL})
	return nil
}

type fakeBlobs struct {
	put     map[string][]byte
	deleted []string
}

func newFakeBlobs() *fakeBlobs { return &fakeBlobs{put: map[string][]byte{}} }

func (f *fakeBlobs) Put(mediaType, filename string, data []byte) (string, error) {
	url := mediaType + "/" + filename
	f.put[url] = data
	return url, nil
}

func (f *fakeBlobs) Delete(url string) error {
	f.deleted = append(f.deleted, url)
	delete(f.put, url)
	return nil
}

type fakeWarningStore struct {
	locked  map[string]bool
	warning map[string]int
}

func newFakeWarningStore() *fakeWarningStore {
	return &fakeWarningStore{locked: map[string]bool{}, warning: map[string]int{}}
}

func (f *fakeWarningStore) IsLockedOut(userID string) (bool, error) {
	return f.locked[userID], nil
}

func (f *fakeWarningStore) IncrementWarning(userID string) (int, error) {
	f.warning[userID]++
	if f.warning[userID] >= security.MaxWarning {
		f.locked[userID] = true
	}
	return f.warning[userID], nil
}

type fakeFingerprinter struct {
	imageHash string
	videoHash string
}

func (f *fakeFingerprinter) HashImage(r io.Reader) (string, error) {
	_, _ = io.ReadAll(r)
	return f.imageHash, nil
}

func (f *fakeFingerprinter) HashVideo(ctx context.Context, path string) (string, error) {
	return f.videoHash, nil
}

type fakeEmbedder struct {
	extracted   string
	extractedOK bool
	embedCalls  int
	embedTarget string
	embedSource string
}

func (f *fakeEmbedder) EmbedVideo(ctx context.Context, inputPath, outputPath, provenanceID string) error {
	f.embedCalls++
	f.embedSource = inputPath
	f.embedTarget = outputPath
	return nil
}

func (f *fakeEmbedder) ExtractVideo(ctx context.Context, inputPath string) (string, bool, error) {
	return f.extracted, f.extractedOK, nil
}

type fakeVideoStamper struct {
	copyright   string
	copyrightOK bool
	writeCalls  int
}

func (f *fakeVideoStamper) ReadProvenanceCopyright(ctx context.Context, path string) (string, bool, error) {
	return f.copyright, f.copyrightOK, nil
}

func (f *fakeVideoStamper) WriteTags(ctx context.Context, inputPath, outputPath string, newTags map[string]string) error {
	f.writeCalls++
	return os.WriteFile(outputPath, []byte("stamped-video-data"), 0o644)
}

// --- test harness ------------------------------------------------------------

type harness struct {
	kv            *vault.KeyVault
	users         *fakeUsers
	posts         *fakePosts
	provenance    *fakeProvenance
	activities    *fakeActivities
	blobs         *fakeBlobs
	warningStore  *fakeWarningStore
	fingerprinter *fakeFingerprinter
	embedder      *fakeEmbedder
	videoStamper  *fakeVideoStamper
	decider       *Decider
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	kv, err := vault.NewKeyVaultFromBytes(bytes.Repeat([]byte{0x42}, 32))
	if err != nil {
		t.Fatalf("NewKeyVaultFromBytes: %v", err)
	}
	h := &harness{
		kv:            kv,
		users:         newFakeUsers(),
		posts:         newFakePosts(),
		provenance:    newFakeProvenance(),
		activities:    &fakeActivities{},
		blobs:         newFakeBlobs(),
		warningStore:  newFakeWarningStore(),
		fingerprinter: &fakeFingerprinter{},
		embedder:      &fakeEmbedder{},
		videoStamper:  &fakeVideoStamper{},
	}
	gate := security.NewGate(h.warningStore)
	lookup, err := cache.NewProvenanceLookup[ProvenanceRecord](h.provenance, 0)
	if err != nil {
		t.Fatalf("NewProvenanceLookup: %v", err)
	}
	h.decider = NewDecider(kv, h.users, h.posts, h.provenance, h.activities, h.blobs, gate,
		h.videoStamper, h.fingerprinter, h.embedder, lookup)
	return h
}

func (h *harness) addUser(t *testing.T, userID string) *UserRecord {
	t.Helper()
	key, err := h.kv.GenerateUserKey()
	if err != nil {
		t.Fatalf("GenerateUserKey: %v", err)
	}
	u := &UserRecord{UserID: userID, Username: userID, SecurityKey: key}
	h.users.byID[userID] = u
	return u
}

// --- tests -------------------------------------------------------------------

func TestClassifyContentType(t *testing.T) {
	cases := []struct {
		contentType string
		want        MediaType
		ok          bool
	}{
		{"image/jpeg", MediaImage, true},
		{"video/mp4", MediaVideo, true},
		{"application/pdf", "", false},
	}
	for _, c := range cases {
		got, ok := ClassifyContentType(c.contentType)
		if got != c.want || ok != c.ok {
			t.Errorf("ClassifyContentType(%q) = (%q, %v), want (%q, %v)", c.contentType, got, ok, c.want, c.ok)
		}
	}
}

func TestIngestImage_FreshUploadAccepted(t *testing.T) {
	h := newHarness(t)
	user := h.addUser(t, "u1")
	h.fingerprinter.imageHash = "hash-1"

	result, err := h.decider.IngestImage(context.Background(), &ImageUpload{
		User:        user,
		ContentType: "image/jpeg",
		Data:        sampleJPEG(t, 1),
		Caption:     "hello",
	})
	if err != nil {
		t.Fatalf("IngestImage: %v", err)
	}
	if !result.Outcome.Accepted() {
		t.Fatalf("expected accept, got %+v", result.Outcome)
	}
	if result.Post == nil {
		t.Fatal("expected a post")
	}
	if len(h.blobs.put) != 1 {
		t.Fatalf("expected one blob put, got %d", len(h.blobs.put))
	}
	if _, ok, _ := h.provenance.ByContentHash("hash-1"); !ok {
		t.Fatal("expected a provenance record to be stored")
	}
}

func TestIngestImage_SelfDuplicateViaUserCipher(t *testing.T) {
	h := newHarness(t)
	user := h.addUser(t, "u1")
	h.fingerprinter.imageHash = "hash-1"

	cipher, err := h.kv.UserCipher(user.SecurityKey)
	if err != nil {
		t.Fatalf("UserCipher: %v", err)
	}
	provenanceID := "abc123"
	tokUser, _ := cipher.Encrypt(provenanceID)
	tokMaster, _ := h.kv.MasterCipher().Encrypt(provenanceID)
	payload := metastamp.BuildPayload(metastamp.PrefixImage, tokUser, tokMaster)
	stamped, err := metastamp.WriteImageStamp(sampleJPEG(t, 2), metastamp.Tags{"copyright": payload})
	if err != nil {
		t.Fatalf("WriteImageStamp: %v", err)
	}

	h.provenance.byID[provenanceID] = &ProvenanceRecord{ProvenanceID: provenanceID, PostID: "existing-post", ContentHash: "some-hash"}

	result, err := h.decider.IngestImage(context.Background(), &ImageUpload{
		User: user, ContentType: "image/jpeg", Data: stamped,
	})
	if err != nil {
		t.Fatalf("IngestImage: %v", err)
	}
	if result.Outcome.Verdict != pipeline.VerdictReject || result.Outcome.Kind != pipeline.RejectSelfDuplicate {
		t.Fatalf("expected self-duplicate reject, got %+v", result.Outcome)
	}
}

func TestIngestImage_TheftDetectedViaMasterCipher(t *testing.T) {
	h := newHarness(t)
	victim := h.addUser(t, "victim")
	attacker := h.addUser(t, "attacker")
	h.fingerprinter.imageHash = "attacker-hash"

	provenanceID := "victimprov1"
	tokMaster, _ := h.kv.MasterCipher().Encrypt(provenanceID)
	// tokUser is encrypted under the attacker's own key so it never
	// resolves to an existing provenance record via the user-cipher path.
	attackerCipher, err := h.kv.UserCipher(attacker.SecurityKey)
	if err != nil {
		t.Fatalf("UserCipher: %v", err)
	}
	tokUser, _ := attackerCipher.Encrypt("not-a-real-id")
	payload := metastamp.BuildPayload(metastamp.PrefixImage, tokUser, tokMaster)
	stamped, err := metastamp.WriteImageStamp(sampleJPEG(t, 3), metastamp.Tags{"copyright": payload})
	if err != nil {
		t.Fatalf("WriteImageStamp: %v", err)
	}

	h.posts.rows["victim-post"] = &PostRecord{ID: "victim-post", UserID: victim.UserID, MediaURL: "image/victim.jpg", MediaType: "image"}
	h.provenance.byID[provenanceID] = &ProvenanceRecord{ProvenanceID: provenanceID, PostID: "victim-post", ContentHash: "victim-hash"}
	h.provenance.byHash["victim-hash"] = h.provenance.byID[provenanceID]

	result, err := h.decider.IngestImage(context.Background(), &ImageUpload{
		User: attacker, ContentType: "image/jpeg", Data: stamped,
	})
	if err != nil {
		t.Fatalf("IngestImage: %v", err)
	}
	if result.Outcome.Verdict != pipeline.VerdictReject || result.Outcome.Kind != pipeline.RejectTheftDetected {
		t.Fatalf("expected theft reject, got %+v", result.Outcome)
	}
	if len(h.activities.recorded) != 1 {
		t.Fatalf("expected one recorded theft activity, got %d", len(h.activities.recorded))
	}
	if h.activities.recorded[0].receiverUserID != victim.UserID || h.activities.recorded[0].senderUserID != attacker.UserID {
		t.Fatalf("unexpected theft activity: %+v", h.activities.recorded[0])
	}
	// content hash mismatch (attacker-hash vs victim-hash) escalates to a warning.
	if got := h.warningStore.warning[attacker.UserID]; got != 1 {
		t.Fatalf("expected attacker warning to be incremented once, got %d", got)
	}
}

func TestIngestImage_PersistTimeCollisionIsTheft(t *testing.T) {
	h := newHarness(t)
	victim := h.addUser(t, "victim")
	attacker := h.addUser(t, "attacker")
	h.fingerprinter.imageHash = "shared-hash"

	h.posts.rows["victim-post"] = &PostRecord{ID: "victim-post", UserID: victim.UserID, MediaURL: "image/victim.jpg", MediaType: "image"}
	h.provenance.byHash["shared-hash"] = &ProvenanceRecord{ProvenanceID: "victimprov", PostID: "victim-post", ContentHash: "shared-hash"}

	result, err := h.decider.IngestImage(context.Background(), &ImageUpload{
		User: attacker, ContentType: "image/jpeg", Data: sampleJPEG(t, 4),
	})
	if err != nil {
		t.Fatalf("IngestImage: %v", err)
	}
	if result.Outcome.Verdict != pipeline.VerdictReject || result.Outcome.Kind != pipeline.RejectTheftDetected {
		t.Fatalf("expected theft reject, got %+v", result.Outcome)
	}
	if len(h.blobs.put) != 0 {
		t.Fatalf("expected the compensating rollback to delete the blob, got %d remaining", len(h.blobs.put))
	}
	if len(h.posts.rows) != 1 {
		t.Fatalf("expected only the original victim post to remain, got %d", len(h.posts.rows))
	}
}

func TestIngestImage_LockedOutUserRejectedBeforeAnyWork(t *testing.T) {
	h := newHarness(t)
	user := h.addUser(t, "u1")
	h.warningStore.locked[user.UserID] = true

	result, err := h.decider.IngestImage(context.Background(), &ImageUpload{
		User: user, ContentType: "image/jpeg", Data: []byte("irrelevant"),
	})
	if err != nil {
		t.Fatalf("IngestImage: %v", err)
	}
	if result.Outcome.Verdict != pipeline.VerdictReject || result.Outcome.Kind != pipeline.RejectQuotaExhausted {
		t.Fatalf("expected quota-exhausted reject, got %+v", result.Outcome)
	}
	if len(h.blobs.put) != 0 {
		t.Fatal("expected no blob work for a locked-out user")
	}
}

func TestIngestVideo_FreshUploadAccepted(t *testing.T) {
	h := newHarness(t)
	user := h.addUser(t, "u1")
	h.fingerprinter.videoHash = "video-hash-1"

	result, err := h.decider.IngestVideo(context.Background(), &VideoUpload{
		User: user, ContentType: "video/mp4", Path: "/tmp/does-not-need-to-exist.mp4",
	})
	if err != nil {
		t.Fatalf("IngestVideo: %v", err)
	}
	if !result.Outcome.Accepted() {
		t.Fatalf("expected accept, got %+v", result.Outcome)
	}
	if h.embedder.embedCalls != 1 {
		t.Fatalf("expected EmbedVideo to be called once, got %d", h.embedder.embedCalls)
	}
	if h.videoStamper.writeCalls != 1 {
		t.Fatalf("expected WriteTags to be called once, got %d", h.videoStamper.writeCalls)
	}
}

func TestIngestVideo_ManipulatedSentinelRejectsFlat(t *testing.T) {
	h := newHarness(t)
	user := h.addUser(t, "u1")
	h.fingerprinter.videoHash = "video-hash-1"
	h.embedder.extracted = watermark.ManipulatedSentinel
	h.embedder.extractedOK = true

	result, err := h.decider.IngestVideo(context.Background(), &VideoUpload{
		User: user, ContentType: "video/mp4", Path: "/tmp/manipulated.mp4",
	})
	if err != nil {
		t.Fatalf("IngestVideo: %v", err)
	}
	if result.Outcome.Verdict != pipeline.VerdictReject || result.Outcome.Kind != pipeline.RejectTheftDetected {
		t.Fatalf("expected theft reject for manipulated sentinel, got %+v", result.Outcome)
	}
}

func TestIngestVideo_WatermarkWithoutResolvableRecordRejects(t *testing.T) {
	h := newHarness(t)
	user := h.addUser(t, "u1")
	h.fingerprinter.videoHash = "video-hash-1"
	h.embedder.extracted = "unknown-provenance-id"
	h.embedder.extractedOK = true

	result, err := h.decider.IngestVideo(context.Background(), &VideoUpload{
		User: user, ContentType: "video/mp4", Path: "/tmp/unknown.mp4",
	})
	if err != nil {
		t.Fatalf("IngestVideo: %v", err)
	}
	if result.Outcome.Verdict != pipeline.VerdictReject || result.Outcome.Kind != pipeline.RejectTheftDetected {
		t.Fatalf("expected a flat theft reject, got %+v", result.Outcome)
	}
}

func TestIngestVideo_WatermarkSelfDuplicate(t *testing.T) {
	h := newHarness(t)
	user := h.addUser(t, "u1")
	h.fingerprinter.videoHash = "video-hash-1"

	h.posts.rows["own-post"] = &PostRecord{ID: "own-post", UserID: user.UserID, MediaURL: "video/own.mp4", MediaType: "video"}
	h.provenance.byID["ownprov1"] = &ProvenanceRecord{ProvenanceID: "ownprov1", PostID: "own-post", ContentHash: "video-hash-1"}
	h.embedder.extracted = "ownprov1"
	h.embedder.extractedOK = true

	result, err := h.decider.IngestVideo(context.Background(), &VideoUpload{
		User: user, ContentType: "video/mp4", Path: "/tmp/own.mp4",
	})
	if err != nil {
		t.Fatalf("IngestVideo: %v", err)
	}
	if result.Outcome.Verdict != pipeline.VerdictReject || result.Outcome.Kind != pipeline.RejectSelfDuplicate {
		t.Fatalf("expected self-duplicate reject, got %+v", result.Outcome)
	}
}
