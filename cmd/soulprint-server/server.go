package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/theimaginaryfoundation/soulprint/cadence"
	"github.com/theimaginaryfoundation/soulprint/importer"
	"github.com/theimaginaryfoundation/soulprint/quality"
	"github.com/theimaginaryfoundation/soulprint/research"
	"github.com/theimaginaryfoundation/soulprint/soulprint"
	"github.com/theimaginaryfoundation/soulprint/store"
	"github.com/theimaginaryfoundation/soulprint/transcribe"
)

type server struct {
	store       store.Store
	importer    *importer.Service
	scheduler   *quality.Scheduler
	transcriber transcribe.Transcriber
	research    *research.Client

	uploadDir    string
	staleAfter   time.Duration
	cronSecret   string
	maxJSONBytes int64
	now          func() time.Time
	log          *zap.Logger

	// jobs carries background imports past the request that started them.
	jobs    context.Context
	running sync.WaitGroup
}

func (s *server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "soulprint_version": soulprint.CurrentVersion})
	})
	r.Route("/api", func(r chi.Router) {
		r.Post("/import", s.handleImport)
		r.Get("/import/status", s.handleImportStatus)
		r.Post("/voice/analyze", s.handleVoiceAnalyze)
		r.Post("/research", s.handleResearch)
		r.Post("/cron/quality-refinement", s.handleQualityCron)
	})
	return r
}

// wait blocks until every background import has finished.
func (s *server) wait() {
	s.running.Wait()
}

type importAccepted struct {
	UserID         string             `json:"user_id"`
	JobID          string             `json:"job_id"`
	Status         store.ImportStatus `json:"status"`
	ExtractionPath string             `json:"extraction_path"`
}

// handleImport streams the upload to a temp file and runs the import in the background.
// The body is either multipart (first file part) or the raw archive.
func (s *server) handleImport(w http.ResponseWriter, req *http.Request) {
	userID := userIDFrom(req)
	if userID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}

	path, size, err := s.saveUpload(req)
	if err != nil {
		s.log.Warn("upload failed", zap.String("user_id", userID), zap.Error(err))
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	src := importer.Source{Path: path, Size: size, Name: strings.TrimSpace(req.URL.Query().Get("name"))}

	job, err := s.importer.Begin(req.Context(), userID, src)
	if err != nil {
		_ = os.Remove(path)
		s.log.Error("start import", zap.String("user_id", userID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not start import")
		return
	}

	s.running.Add(1)
	go func() {
		defer s.running.Done()
		defer os.Remove(path)
		if _, err := s.importer.Continue(s.jobs, job, src); err != nil {
			s.log.Warn("background import failed", zap.String("user_id", userID), zap.Error(err))
		}
	}()

	writeJSON(w, http.StatusAccepted, importAccepted{
		UserID:         userID,
		JobID:          job.ID,
		Status:         job.Status,
		ExtractionPath: job.ExtractionPath,
	})
}

func (s *server) saveUpload(req *http.Request) (string, int64, error) {
	var body io.Reader = req.Body
	defer req.Body.Close()

	if mt, _, _ := mime.ParseMediaType(req.Header.Get("Content-Type")); strings.HasPrefix(mt, "multipart/") {
		mr, err := req.MultipartReader()
		if err != nil {
			return "", 0, fmt.Errorf("read multipart: %w", err)
		}
		for {
			part, err := mr.NextPart()
			if errors.Is(err, io.EOF) {
				return "", 0, errors.New("multipart body has no file part")
			}
			if err != nil {
				return "", 0, fmt.Errorf("read multipart: %w", err)
			}
			if part.FileName() != "" {
				body = part
				break
			}
		}
	}

	f, err := os.CreateTemp(s.uploadDir, "soulprint-upload-"+uuid.NewString()+"-*")
	if err != nil {
		return "", 0, fmt.Errorf("create temp file: %w", err)
	}
	n, err := io.Copy(f, body)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(f.Name())
		return "", 0, fmt.Errorf("store upload: %w", err)
	}
	if n == 0 {
		_ = os.Remove(f.Name())
		return "", 0, errors.New("upload is empty")
	}
	return f.Name(), n, nil
}

type importStatus struct {
	JobID           string             `json:"job_id"`
	ProgressPercent int                `json:"progress_percent"`
	Stage           string             `json:"import_stage"`
	Status          store.ImportStatus `json:"import_status"`
	Error           string             `json:"import_error"`
}

func (s *server) handleImportStatus(w http.ResponseWriter, req *http.Request) {
	userID := userIDFrom(req)
	if userID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}
	job, err := s.store.GetImport(req.Context(), userID)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "no import for this user")
		return
	}
	if err != nil {
		s.log.Error("load import status", zap.String("user_id", userID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not load import status")
		return
	}

	job = importer.Effective(job, s.now(), s.staleAfter)
	writeJSON(w, http.StatusOK, importStatus{
		JobID:           job.ID,
		ProgressPercent: job.ProgressPercent,
		Stage:           job.Stage,
		Status:          job.Status,
		Error:           job.Error,
	})
}

// voiceRequest is either one transcript or a set of recordings keyed by pillar.
type voiceRequest struct {
	cadence.Transcript
	Recordings map[string]cadence.Transcript `json:"recordings,omitempty"`
}

type voiceResponse struct {
	Signature  *cadence.Signature           `json:"signature,omitempty"`
	Signatures map[string]cadence.Signature `json:"signatures,omitempty"`
	Curve      *cadence.Curve               `json:"curve,omitempty"`
	Voice      *soulprint.VoiceVectors      `json:"voice_vectors,omitempty"`
	Missing    []string                     `json:"missing,omitempty"`
}

// handleVoiceAnalyze accepts JSON transcripts, or raw audio that is transcribed first.
func (s *server) handleVoiceAnalyze(w http.ResponseWriter, req *http.Request) {
	mt, _, _ := mime.ParseMediaType(req.Header.Get("Content-Type"))
	if strings.HasPrefix(mt, "audio/") || strings.HasPrefix(mt, "video/") {
		s.analyzeAudio(w, req, mt)
		return
	}

	var in voiceRequest
	if err := decodeJSONBody(req, s.maxJSONBytes, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if len(in.Recordings) == 0 {
		if len(in.Words) == 0 {
			writeError(w, http.StatusBadRequest, "words or recordings are required")
			return
		}
		sig := cadence.Extract(in.Transcript)
		writeJSON(w, http.StatusOK, voiceResponse{Signature: &sig})
		return
	}

	set := make(cadence.RecordingSet, len(in.Recordings))
	for key, t := range in.Recordings {
		if !soulprint.PillarKey(key).Valid() {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown pillar %q", key))
			return
		}
		set[key] = cadence.Extract(t)
	}
	keys := make([]string, 0, len(soulprint.PillarKeys()))
	for _, k := range soulprint.PillarKeys() {
		keys = append(keys, string(k))
	}
	curve := set.Curve()
	voice := soulprint.VoiceFromCurve(curve)
	writeJSON(w, http.StatusOK, voiceResponse{
		Signatures: set,
		Curve:      &curve,
		Voice:      &voice,
		Missing:    set.Missing(keys...),
	})
}

func (s *server) analyzeAudio(w http.ResponseWriter, req *http.Request, contentType string) {
	defer req.Body.Close()
	if s.transcriber == nil {
		writeError(w, http.StatusServiceUnavailable, "transcription is not configured")
		return
	}
	t, err := s.transcriber.Transcribe(req.Context(), req.Body, contentType)
	if err != nil {
		s.log.Warn("transcription failed", zap.Error(err))
		writeError(w, http.StatusBadGateway, "transcription failed")
		return
	}
	sig := cadence.Extract(t)
	writeJSON(w, http.StatusOK, voiceResponse{Signature: &sig})
}

type researchRequest struct {
	Query string `json:"query"`
}

// handleResearch always answers 200; vendor failures show up as a degraded answer.
func (s *server) handleResearch(w http.ResponseWriter, req *http.Request) {
	var in researchRequest
	if err := decodeJSONBody(req, s.maxJSONBytes, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.research.Lookup(req.Context(), in.Query))
}

func (s *server) handleQualityCron(w http.ResponseWriter, req *http.Request) {
	if s.cronSecret != "" && req.Header.Get("Authorization") != "Bearer "+s.cronSecret {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	res, err := s.scheduler.Run(req.Context())
	if err != nil {
		s.log.Error("quality refinement run", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func userIDFrom(req *http.Request) string {
	if id := strings.TrimSpace(req.URL.Query().Get("user_id")); id != "" {
		return id
	}
	return strings.TrimSpace(req.Header.Get("X-User-ID"))
}

func decodeJSONBody(req *http.Request, maxBytes int64, out any) error {
	defer req.Body.Close()
	data, err := io.ReadAll(io.LimitReader(req.Body, maxBytes+1))
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}
	if int64(len(data)) > maxBytes {
		return errors.New("request body too large")
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("invalid json: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
