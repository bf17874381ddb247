package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/photobooth/backend/internal/album"
	"github.com/photobooth/backend/internal/session"
)

// maxUploadBytes caps a posted capture; booth cameras top out well below
// this.
const maxUploadBytes = 32 << 20

type startRequest struct {
	Tag             string `json:"tag"`
	CloudStorage    bool   `json:"cloudStorage"`
	CounterDuration int    `json:"counterDuration"` // seconds
	LogoLeftURL     string `json:"logoLeftURL"`
	LogoRightURL    string `json:"logoRightURL"`
}

type postResponse struct {
	Message string   `json:"message"`
	Files   []string `json:"files"`
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")

	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "malformed start request: "+err.Error(), http.StatusBadRequest)
		return
	}

	if req.LogoLeftURL == "" {
		req.LogoLeftURL = s.cfg.Watermark.LogoLeftURL
	}
	if req.LogoRightURL == "" {
		req.LogoRightURL = s.cfg.Watermark.LogoRightURL
	}

	// Required parameters are checked once at this boundary; the state
	// machine can then assume a fully populated session.
	var missing []string
	if req.Tag == "" {
		missing = append(missing, "tag")
	}
	if req.LogoLeftURL == "" {
		missing = append(missing, "logoLeftURL")
	}
	if req.LogoRightURL == "" {
		missing = append(missing, "logoRightURL")
	}
	if len(missing) > 0 {
		http.Error(w, "missing required parameter(s): "+strings.Join(missing, ", "), http.StatusBadRequest)
		return
	}

	counter := s.cfg.Booth.CounterDuration
	if req.CounterDuration > 0 {
		counter = time.Duration(req.CounterDuration) * time.Second
	}
	storage := session.StorageLocal
	if req.CloudStorage {
		storage = session.StorageCloud
	}

	sess, err := s.registry.Open(id, session.Options{
		Tag:             req.Tag,
		Storage:         storage,
		LogoLeftURL:     req.LogoLeftURL,
		LogoRightURL:    req.LogoRightURL,
		CounterDuration: counter,
		Timeout:         s.cfg.Booth.SessionTimeout,
		RecoveryTimeout: s.cfg.Booth.RecoveryTimeout,
		Notifier:        s.broadcaster,
		Pipeline:        s.pipeline,
		Audit:           s.audit,
		Blacklist:       s.albums,
	})
	if err != nil {
		if errors.Is(err, session.ErrDuplicateID) {
			http.Error(w, err.Error(), http.StatusConflict)
		} else {
			http.Error(w, err.Error(), http.StatusBadRequest)
		}
		return
	}

	if err := sess.Start(); err != nil {
		s.writeActionError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCounter(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	if err := sess.Counter(); err != nil {
		s.writeActionError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePost(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}

	raw, err := readCapture(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	handle, err := sess.Post(r.Context(), raw)
	if err != nil {
		s.writeActionError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(postResponse{
		Message: "Upload ok",
		Files:   handle.URLs(),
	})
}

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	if err := sess.Validate(); err != nil {
		s.writeActionError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleUnvalidate(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	if err := sess.Unvalidate(); err != nil {
		s.writeActionError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleKill(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	sess.Kill()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAlbum(w http.ResponseWriter, r *http.Request) {
	tag := chi.URLParam(r, "tag")

	limit := s.cfg.Album.Limit
	if q := r.URL.Query().Get("limit"); q != "" {
		n, err := strconv.Atoi(q)
		if err != nil || n < 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	pics, err := s.albums.LastPictures(tag, limit)
	if err != nil {
		log.Printf("album %s: %v", tag, err)
		http.Error(w, "error reading album", http.StatusInternalServerError)
		return
	}
	if pics == nil {
		pics = []album.Picture{} // never serialize null
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(pics)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	snap, err := s.collector.Collect()
	if err != nil {
		log.Printf("health probe failed: %v", err)
		http.Error(w, "health probe failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(snap)
}

// session resolves the path id to a live session or writes a 404.
func (s *Server) session(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	id := chi.URLParam(r, "sessionID")
	sess, ok := s.registry.Get(id)
	if !ok {
		http.Error(w, "session not found", http.StatusNotFound)
		return nil, false
	}
	return sess, true
}

// writeActionError maps state-machine errors to the HTTP taxonomy:
// sequencing violations are the caller's fault (409), a missing display
// client or a pipeline failure is a server-side condition (5xx).
func (s *Server) writeActionError(w http.ResponseWriter, err error) {
	var illegal *session.IllegalActionError
	switch {
	case errors.As(err, &illegal):
		http.Error(w, illegal.Error(), http.StatusConflict)
	case errors.Is(err, session.ErrCloudUnsupported):
		http.Error(w, err.Error(), http.StatusNotImplemented)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// readCapture extracts the raw image payload from either a multipart
// upload ("image" part) or a JSON body carrying a base64 data URI.
func readCapture(r *http.Request) ([]byte, error) {
	ct := r.Header.Get("Content-Type")

	if strings.HasPrefix(ct, "multipart/form-data") {
		if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
			return nil, fmt.Errorf("parsing multipart upload: %w", err)
		}
		file, _, err := r.FormFile("image")
		if err != nil {
			return nil, fmt.Errorf("missing image part: %w", err)
		}
		defer file.Close()
		return io.ReadAll(io.LimitReader(file, maxUploadBytes))
	}

	var body struct {
		Image string `json:"image"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, maxUploadBytes)).Decode(&body); err != nil {
		return nil, fmt.Errorf("malformed post body: %w", err)
	}
	if body.Image == "" {
		return nil, errors.New("missing image payload")
	}
	return []byte(body.Image), nil
}
