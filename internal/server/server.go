// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

// Package server implements the HTTP surface of the sync protocol:
// request-access-token, healthcheck, snapshot, and the six sync/*
// session endpoints, each mapped onto internal/session and
// internal/snapshot.
package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"os"

	"github.com/ClementNerma/Harmony/internal/apperr"
	"github.com/ClementNerma/Harmony/internal/authtoken"
	"github.com/ClementNerma/Harmony/internal/session"
	"github.com/ClementNerma/Harmony/internal/slot"
	"github.com/ClementNerma/Harmony/internal/snapshot"
)

// Server wires the slot registry, session manager, and token store into
// the HTTP handlers below.
type Server struct {
	registry *slot.Registry
	sessions *session.Manager
	tokens   *authtoken.Store
	secret   string
	log      *slog.Logger
}

// New builds a Server. secret is the shared secret the first-contact
// handshake checks before issuing an access token.
func New(reg *slot.Registry, tokens *authtoken.Store, secret string, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{registry: reg, sessions: session.NewManager(reg), tokens: tokens, secret: secret, log: log}
}

// Handler returns the complete routed HTTP handler, with bearer-token
// auth applied to every route except the first-contact handshake and
// the healthcheck.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /request-access-token", s.handleRequestAccessToken)
	mux.HandleFunc("GET /healthcheck", s.handleHealthcheck)
	mux.Handle("POST /snapshot", s.authenticated(s.handleSnapshot))
	mux.Handle("GET /sync/is-open", s.authenticated(s.handleIsOpen))
	mux.Handle("POST /sync/begin", s.authenticated(s.handleBegin))
	mux.Handle("POST /sync/resume", s.authenticated(s.handleResume))
	mux.Handle("POST /sync/file", s.authenticated(s.handleTransfer))
	mux.Handle("POST /sync/finalize", s.authenticated(s.handleFinalize))
	mux.Handle("DELETE /sync/abort", s.authenticated(s.handleAbort))
	return mux
}

func (s *Server) authenticated(h http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" || !s.tokens.Verify(token) {
			writeError(w, s.log, apperr.Forbidden("missing or invalid access token"))
			return
		}
		h(w, r)
	})
}

func bearerToken(r *http.Request) string {
	const prefix = "Bearer "
	h := r.Header.Get("Authorization")
	if len(h) <= len(prefix) || h[:len(prefix)] != prefix {
		return ""
	}
	return h[len(prefix):]
}

func (s *Server) handleHealthcheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode("OK")
}

func (s *Server) handleRequestAccessToken(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SecretPassword string `json:"secret_password"`
		DeviceName     string `json:"device_name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, s.log, apperr.BadRequest("malformed request body: %v", err))
		return
	}
	if req.SecretPassword != s.secret {
		writeError(w, s.log, apperr.Forbidden("invalid secret"))
		return
	}

	tok, err := s.tokens.Issue(req.DeviceName)
	if err != nil {
		writeError(w, s.log, apperr.Internal(err, "issue access token"))
		return
	}

	writeJSON(w, tok.Value)
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SlotName        string      `json:"slot_name"`
		SnapshotOptions optionsWire `json:"snapshot_options"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, s.log, apperr.BadRequest("malformed request body: %v", err))
		return
	}

	sl, ok := s.registry.Get(req.SlotName)
	if !ok {
		writeError(w, s.log, apperr.NotFound("unknown slot %q", req.SlotName))
		return
	}

	sl.RLock()
	contentDir := sl.ContentDir()
	sl.RUnlock()

	if err := os.MkdirAll(contentDir, 0o755); err != nil {
		writeError(w, s.log, apperr.Internal(err, "create content directory for slot %q", req.SlotName))
		return
	}

	snap, err := snapshot.Capture(contentDir, req.SnapshotOptions.toOptions())
	if err != nil {
		writeError(w, s.log, apperr.Internal(err, "build snapshot for slot %q", req.SlotName))
		return
	}

	writeJSON(w, struct {
		Snapshot snapshotWire `json:"snapshot"`
	}{Snapshot: snapshotToWire(snap)})
}

func (s *Server) handleIsOpen(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SlotName string `json:"slot_name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, s.log, apperr.BadRequest("malformed request body: %v", err))
		return
	}
	open, err := s.sessions.IsOpen(req.SlotName)
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	writeJSON(w, open)
}

func (s *Server) handleBegin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SlotName string   `json:"slot_name"`
		Diff     diffWire `json:"diff"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, s.log, apperr.BadRequest("malformed request body: %v", err))
		return
	}

	d, err := diffFromWire(req.Diff)
	if err != nil {
		writeError(w, s.log, apperr.BadRequest("malformed diff: %v", err))
		return
	}

	info, err := s.sessions.Open(req.SlotName, d)
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	writeJSON(w, syncInfoToWire(info))
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SlotName string `json:"slot_name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, s.log, apperr.BadRequest("malformed request body: %v", err))
		return
	}
	info, err := s.sessions.Resume(req.SlotName)
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	writeJSON(w, syncInfoToWire(info))
}

func (s *Server) handleTransfer(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	slotName, syncID, path := q.Get("slot_name"), q.Get("sync_id"), q.Get("path")

	if err := s.sessions.Transfer(slotName, syncID, path, r.Body); err != nil {
		writeError(w, s.log, err)
		return
	}
	writeJSON(w, nil)
}

func (s *Server) handleFinalize(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SlotName  string `json:"slot_name"`
		SyncToken string `json:"sync_token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, s.log, apperr.BadRequest("malformed request body: %v", err))
		return
	}
	if err := s.sessions.Finalize(req.SlotName, req.SyncToken); err != nil {
		writeError(w, s.log, err)
		return
	}
	writeJSON(w, nil)
}

func (s *Server) handleAbort(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SlotName  string `json:"slot_name"`
		SyncToken string `json:"sync_token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, s.log, apperr.BadRequest("malformed request body: %v", err))
		return
	}
	if err := s.sessions.Abort(req.SlotName, req.SyncToken); err != nil {
		writeError(w, s.log, err)
		return
	}
	writeJSON(w, nil)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, log *slog.Logger, err error) {
	status, envelope := apperr.ToEnvelope(err)
	log.Warn("request failed", "status", status, "message", envelope.Message)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope)
}
