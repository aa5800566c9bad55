// The HTTP surface: enqueue endpoints, progress polling, queue stats,
// tag-based cancellation and the lock-protected upload endpoint.
package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/you/docpipe/internal/config"
	"github.com/you/docpipe/internal/lock"
	"github.com/you/docpipe/internal/progress"
	"github.com/you/docpipe/internal/queue"
	"github.com/you/docpipe/internal/redisconn"
	"github.com/you/docpipe/internal/workers"
)

type server struct {
	reg    *queue.Registry
	locker *lock.Locker
	log    *zap.Logger
}

func main() {
	cfg := config.Load()
	logger, err := zap.NewProduction()
	if cfg.AppEnv == "development" {
		logger, err = zap.NewDevelopment()
	}
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rmgr, err := redisconn.New(ctx, cfg.RedisURL, cfg.RedisPassword, logger)
	if err != nil {
		logger.Fatal("redis setup", zap.Error(err))
	}
	defer rmgr.CloseAll()
	if !rmgr.Configured() {
		logger.Fatal("REDIS_URL is required for the API")
	}

	reg := queue.NewRegistry(rmgr.Shared(), logger)
	reg.StartMovers(ctx)

	var lockClient lock.RedisClient
	if c := rmgr.Shared(); c != nil {
		lockClient = c
	}
	s := &server{
		reg:    reg,
		locker: lock.New(lockClient, cfg.LockTimeout, logger),
		log:    logger,
	}

	rtr := chi.NewRouter()
	rtr.Post("/v1/documents/process", s.processDocument)
	rtr.Post("/v1/webhooks/dispatch", s.dispatchWebhook)
	rtr.Get("/v1/jobs/{queue}/{id}/progress", s.jobProgress)
	rtr.Get("/v1/queues/{queue}/stats", s.queueStats)
	rtr.Delete("/v1/queues/{queue}/jobs", s.cancelByTag)
	rtr.Patch("/v1/uploads/{id}", s.patchUpload)

	srv := &http.Server{Addr: cfg.APIAddr, Handler: rtr}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("api listening", zap.String("addr", cfg.APIAddr))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatal("api server", zap.Error(err))
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

type processRequest struct {
	DocumentID        string               `json:"documentId"`
	DocumentVersionID string               `json:"documentVersionId"`
	TeamID            string               `json:"teamId"`
	ConversionType    queue.ConversionType `json:"conversionType,omitempty"`
}

// processDocument routes an upload into the pipeline: documents needing
// conversion start at file-conversion, native PDFs go straight to
// rasterization. Job ids are derived from the version, so re-submitting
// the same version is a no-op while the first run is retained.
func (s *server) processDocument(w http.ResponseWriter, r *http.Request) {
	var req processRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if req.DocumentID == "" || req.DocumentVersionID == "" || req.TeamID == "" {
		writeError(w, http.StatusBadRequest, "documentId, documentVersionId and teamId are required")
		return
	}

	opts := queue.EnqueueOptions{Tags: []string{
		"team_" + req.TeamID,
		"document_" + req.DocumentID,
		"version:" + req.DocumentVersionID,
	}}

	var (
		id    string
		qname string
		err   error
	)
	if req.ConversionType != "" {
		qname = "file-conversion"
		id, err = s.reg.FileConversion.Enqueue(r.Context(), "convert-"+req.DocumentVersionID, queue.FileConversionPayload{
			DocumentID:        req.DocumentID,
			DocumentVersionID: req.DocumentVersionID,
			TeamID:            req.TeamID,
			ConversionType:    req.ConversionType,
		}, opts)
	} else {
		qname = "pdf-to-image"
		id, err = s.reg.PDFToImage.Enqueue(r.Context(), "pdf-"+req.DocumentVersionID, queue.PDFToImagePayload{
			DocumentID:        req.DocumentID,
			DocumentVersionID: req.DocumentVersionID,
			TeamID:            req.TeamID,
		}, opts)
	}
	if err != nil {
		s.log.Error("enqueue document", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "enqueue failed")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"jobId": id, "queue": qname})
}

type dispatchRequest struct {
	WebhookID     string          `json:"webhookId"`
	WebhookURL    string          `json:"webhookUrl"`
	WebhookSecret string          `json:"webhookSecret"`
	EventID       string          `json:"eventId"`
	Event         string          `json:"event"`
	Payload       json.RawMessage `json:"payload"`
}

func (s *server) dispatchWebhook(w http.ResponseWriter, r *http.Request) {
	var req dispatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if req.WebhookID == "" || req.WebhookURL == "" || req.Event == "" {
		writeError(w, http.StatusBadRequest, "webhookId, webhookUrl and event are required")
		return
	}
	if req.EventID == "" {
		req.EventID = uuid.NewString()
	}

	id, err := s.reg.WebhookDelivery.Enqueue(r.Context(),
		workers.DeliveryJobID(req.EventID, req.WebhookID),
		queue.WebhookDeliveryPayload{
			WebhookID:     req.WebhookID,
			WebhookURL:    req.WebhookURL,
			WebhookSecret: req.WebhookSecret,
			EventID:       req.EventID,
			Event:         req.Event,
			Payload:       req.Payload,
		}, queue.EnqueueOptions{})
	if err != nil {
		s.log.Error("enqueue webhook", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "enqueue failed")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"jobId": id, "eventId": req.EventID})
}

func (s *server) jobProgress(w http.ResponseWriter, r *http.Request) {
	q := s.reg.ByName(chi.URLParam(r, "queue"))
	if q == nil {
		writeError(w, http.StatusNotFound, "unknown queue")
		return
	}
	st, err := progress.ForJob(r.Context(), q, chi.URLParam(r, "id"))
	if err != nil {
		if err == queue.ErrJobNotFound {
			writeError(w, http.StatusNotFound, "unknown job")
			return
		}
		s.log.Error("job progress", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "progress lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *server) queueStats(w http.ResponseWriter, r *http.Request) {
	q := s.reg.ByName(chi.URLParam(r, "queue"))
	if q == nil {
		writeError(w, http.StatusNotFound, "unknown queue")
		return
	}
	stats, err := q.Stats(r.Context())
	if err != nil {
		s.log.Error("queue stats", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "stats failed")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *server) cancelByTag(w http.ResponseWriter, r *http.Request) {
	q := s.reg.ByName(chi.URLParam(r, "queue"))
	if q == nil {
		writeError(w, http.StatusNotFound, "unknown queue")
		return
	}
	tag := r.URL.Query().Get("tag")
	if tag == "" {
		writeError(w, http.StatusBadRequest, "tag is required")
		return
	}
	n, err := q.CancelByTag(r.Context(), tag)
	if err != nil {
		s.log.Error("cancel by tag", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "cancel failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"cancelled": n})
}

// patchUpload serializes concurrent PATCHes to the same upload. A second
// writer arriving while we hold the lock flips the release-requested
// flag; we log it and finish the in-flight write before releasing.
func (s *server) patchUpload(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	l := s.locker.NewLock(id)

	if err := l.Lock(r.Context(), func() {
		s.log.Info("upload lock contended, release requested", zap.String("upload", id))
	}); err != nil {
		if err == lock.ErrLockTimeout {
			writeError(w, http.StatusConflict, "upload is locked by another writer")
			return
		}
		s.log.Error("acquire upload lock", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "lock failed")
		return
	}
	defer func() {
		// Release with a detached context: a client gone mid-request must
		// not leave the lock held until its TTL runs out.
		if err := l.Unlock(context.WithoutCancel(r.Context())); err != nil && err != lock.ErrAlreadyUnlocked {
			s.log.Warn("release upload lock", zap.String("upload", id), zap.Error(err))
		}
	}()

	// The actual byte append lives with the storage service; the API's job
	// is exclusion and offset accounting.
	w.WriteHeader(http.StatusNoContent)
}
