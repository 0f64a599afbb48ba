// Package api wires a thin HTTP surface around internal/ingest: health,
// readiness, Prometheus metrics, and one demonstrative ingest endpoint.
// HTTP transport is not the focus of this module (see the Non-goals
// around authentication and object-storage upload) — the decision logic
// itself lives in internal/ingest and is exercised directly by its own
// tests, independent of this handler.
package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/deepmark/deepmark/internal/ingest"
	"github.com/deepmark/deepmark/internal/metrics"
	"github.com/deepmark/deepmark/internal/pipeline"
	"github.com/deepmark/deepmark/internal/plugin"
	"github.com/deepmark/deepmark/internal/store"
)

// maxUploadBytes bounds the demonstrative endpoint's request body. A real
// deployment would enforce this (and authentication) at a reverse proxy
// ahead of the daemon.
const maxUploadBytes = 256 << 20 // 256 MiB

// Handler serves the daemon's HTTP surface.
type Handler struct {
	Decider    *ingest.Decider
	Users      ingest.Users
	Collector  *metrics.Collector
	ScratchDir string // staging directory for video uploads, which IngestVideo reads from disk
	Store      *store.Store
	Plugins    *plugin.Registry // nil disables the verification-channel hooks entirely
}

// HandleHealth always reports 200 once the process is up; it does not
// touch the store, so it stays fast under load.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, `{"status":"ok"}`)
}

// HandleStatus reports the collector's running totals as JSON, for the CLI's
// status command to poll without scraping the Prometheus text format.
func (h *Handler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	stats := h.Collector.Stats()
	body, err := json.Marshal(stats)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "marshalling status: "+err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}

// HandleReady checks that the store is reachable before reporting ready,
// so a load balancer does not route traffic to a daemon whose SQLite
// connection has gone bad.
func (h *Handler) HandleReady(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.Ping(); err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprintf(w, `{"status":"not_ready","error":%q}`, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, `{"status":"ready"}`)
}

// HandleIngest accepts a multipart upload (fields: user_id, caption, file)
// and runs it through the decider. It is deliberately minimal: no
// authentication, no resumable/chunked upload support, no streaming of
// large request bodies — those are external collaborators' responsibility
// per the module's Non-goals.
func (h *Handler) HandleIngest(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "parsing multipart form: "+err.Error())
		return
	}

	userID := r.FormValue("user_id")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}
	caption := r.FormValue("caption")

	user, ok, err := h.Users.ByID(userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "looking up user: "+err.Error())
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "unknown user")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file is required: "+err.Error())
		return
	}
	defer file.Close()

	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	mediaType, ok := ingest.ClassifyContentType(contentType)
	if !ok {
		writeError(w, http.StatusUnsupportedMediaType, "unsupported media type: "+contentType)
		return
	}

	h.Collector.IncrementActive()
	defer h.Collector.DecrementActive()

	verification := &plugin.VerificationInput{
		UserID:    user.UserID,
		MediaType: string(mediaType),
		Caption:   caption,
	}
	if h.Plugins != nil {
		if veto := h.Plugins.RunVerifiers(r.Context(), verification); !veto.Accepted() {
			h.Collector.RecordOutcome(string(mediaType), veto)
			writeResult(w, ingest.Result{Outcome: veto})
			return
		}
	}

	var result ingest.Result
	switch mediaType {
	case ingest.MediaImage:
		data, err := io.ReadAll(file)
		if err != nil {
			writeError(w, http.StatusBadRequest, "reading upload: "+err.Error())
			return
		}
		result, err = h.Decider.IngestImage(r.Context(), &ingest.ImageUpload{
			User:        user,
			ContentType: contentType,
			Data:        data,
			Caption:     caption,
		})
		if err != nil {
			writeError(w, http.StatusInternalServerError, "ingest: "+err.Error())
			return
		}

	case ingest.MediaVideo:
		scratchPath, cleanup, err := h.stageVideo(file, header.Filename)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "staging upload: "+err.Error())
			return
		}
		defer cleanup()

		result, err = h.Decider.IngestVideo(r.Context(), &ingest.VideoUpload{
			User:        user,
			ContentType: contentType,
			Path:        scratchPath,
			Caption:     caption,
		})
		if err != nil {
			writeError(w, http.StatusInternalServerError, "ingest: "+err.Error())
			return
		}
	}

	if h.Plugins != nil {
		if result.Outcome.Accepted() {
			h.Plugins.NotifyAccepted(r.Context(), verification)
		} else {
			h.Plugins.NotifyRejected(r.Context(), verification, result.Outcome)
		}
	}

	h.Collector.RecordOutcome(string(mediaType), result.Outcome)
	writeResult(w, result)
}

// stageVideo copies an uploaded video into ScratchDir, since IngestVideo
// shells out to ffmpeg/ffprobe and needs a real file on disk.
func (h *Handler) stageVideo(src io.Reader, filename string) (path string, cleanup func(), err error) {
	if err := os.MkdirAll(h.ScratchDir, 0o755); err != nil {
		return "", nil, fmt.Errorf("creating scratch dir: %w", err)
	}

	dest := filepath.Join(h.ScratchDir, uuid.NewString()+filepath.Ext(filename))
	f, err := os.Create(dest)
	if err != nil {
		return "", nil, fmt.Errorf("creating scratch file: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(f, src); err != nil {
		os.Remove(dest)
		return "", nil, fmt.Errorf("writing scratch file: %w", err)
	}

	return dest, func() {
		if err := os.Remove(dest); err != nil && !os.IsNotExist(err) {
			log.Warn().Err(err).Str("path", dest).Msg("failed to remove scratch video")
		}
	}, nil
}

func writeResult(w http.ResponseWriter, result ingest.Result) {
	w.Header().Set("Content-Type", "application/json")

	if !result.Outcome.Accepted() {
		status := http.StatusUnprocessableEntity
		switch result.Outcome.Kind {
		case pipeline.RejectUnsupportedMedia:
			status = http.StatusUnsupportedMediaType
		case pipeline.RejectSelfDuplicate:
			status = http.StatusConflict
		case pipeline.RejectTheftDetected:
			status = http.StatusNotAcceptable
		case pipeline.RejectQuotaExhausted:
			status = http.StatusForbidden
		}
		w.WriteHeader(status)
		fmt.Fprintf(w, `{"accepted":false,"reject_kind":%q,"detail":%q}`, result.Outcome.Kind, result.Outcome.Detail)
		return
	}

	w.WriteHeader(http.StatusCreated)
	fmt.Fprintf(w, `{"accepted":true,"post_id":%q,"media_url":%q}`, result.Post.ID, result.Post.MediaURL)
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	fmt.Fprintf(w, `{"error":%q}`, message)
}
