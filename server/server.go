//
// Copyright (C) 2026 Kestrel Authors. All rights reserved.
//
// kestrel is licensed under the Apache License Version 2.0.
//

// Package server exposes the research workflow over HTTP: submit a topic,
// approve or reject a paused thread, and fetch a thread's status.
package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/kestrel-research/kestrel/graph"
	"github.com/kestrel-research/kestrel/hitl"
	"github.com/kestrel-research/kestrel/log"
	"github.com/kestrel-research/kestrel/research"
)

// Server routes HTTP requests to a research.Runner.
type Server struct {
	runner *research.Runner
	router *mux.Router
}

// New creates the server and registers its routes.
func New(runner *research.Runner) *Server {
	s := &Server{
		runner: runner,
		router: mux.NewRouter(),
	}
	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"*"},
	})
	s.router.Use(c.Handler)
	s.registerRoutes()
	return s
}

// Handler returns the http.Handler for the server.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) registerRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/research", s.handleSubmit).Methods(http.MethodPost)
	s.router.HandleFunc("/research/{threadID}/approval", s.handleApproval).Methods(http.MethodPost)
	s.router.HandleFunc("/research/{threadID}/status", s.handleStatus).Methods(http.MethodGet)
	s.router.HandleFunc("/research/{threadID}/report", s.handleReport).Methods(http.MethodGet)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type submitRequest struct {
	Topic string `json:"topic"`
}

type submitResponse struct {
	ThreadID string      `json:"thread_id"`
	Status   *statusBody `json:"status,omitempty"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Topic == "" {
		s.writeError(w, http.StatusBadRequest, "topic is required")
		return
	}

	threadID, status, err := s.runner.Start(r.Context(), req.Topic)
	if err != nil {
		var nodeErr *graph.NodeError
		if errors.As(err, &nodeErr) {
			// The thread exists and is recorded as failed; report it with
			// its id so the caller can inspect it.
			s.writeJSON(w, http.StatusOK, submitResponse{ThreadID: threadID, Status: toStatusBody(status)})
			return
		}
		log.Errorw("submit failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to start research")
		return
	}
	s.writeJSON(w, http.StatusCreated, submitResponse{ThreadID: threadID, Status: toStatusBody(status)})
}

type approvalRequest struct {
	Approved bool   `json:"approved"`
	Feedback string `json:"feedback,omitempty"`
}

func (s *Server) handleApproval(w http.ResponseWriter, r *http.Request) {
	threadID := mux.Vars(r)["threadID"]

	var req approvalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	status, err := s.runner.Approve(r.Context(), threadID, req.Approved, req.Feedback)
	if err != nil {
		switch {
		case errors.Is(err, research.ErrThreadNotFound):
			s.writeError(w, http.StatusNotFound, "thread not found")
		default:
			var nodeErr *graph.NodeError
			if errors.As(err, &nodeErr) {
				s.writeJSON(w, http.StatusOK, toStatusBody(status))
				return
			}
			log.Errorw("approval failed", "thread_id", threadID, "error", err)
			s.writeError(w, http.StatusInternalServerError, "failed to apply decision")
		}
		return
	}
	s.writeJSON(w, http.StatusOK, toStatusBody(status))
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	threadID := mux.Vars(r)["threadID"]

	status, err := s.runner.Status(r.Context(), threadID)
	if err != nil {
		log.Errorw("status lookup failed", "thread_id", threadID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to load status")
		return
	}
	if status == nil {
		s.writeError(w, http.StatusNotFound, "thread not found")
		return
	}
	s.writeJSON(w, http.StatusOK, toStatusBody(status))
}

type reportResponse struct {
	ThreadID string `json:"thread_id"`
	Report   string `json:"report"`
	HTML     string `json:"html,omitempty"`
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	threadID := mux.Vars(r)["threadID"]

	state, err := s.runner.Result(r.Context(), threadID)
	if err != nil {
		if errors.Is(err, research.ErrThreadNotFound) {
			s.writeError(w, http.StatusNotFound, "thread not found")
			return
		}
		log.Errorw("report lookup failed", "thread_id", threadID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to load report")
		return
	}
	if state.FinalReport == "" {
		s.writeError(w, http.StatusConflict, "report not ready")
		return
	}
	s.writeJSON(w, http.StatusOK, reportResponse{
		ThreadID: threadID,
		Report:   state.FinalReport,
		HTML:     state.ReportHTML,
	})
}

// statusBody is the wire form of a thread status.
type statusBody struct {
	ThreadID      string `json:"thread_id"`
	Node          string `json:"node"`
	Awaiting      bool   `json:"awaiting_decision"`
	RevisionCount int    `json:"revision_count"`
	HasPlan       bool   `json:"has_plan"`
	HasResult     bool   `json:"has_result"`
	Error         string `json:"error,omitempty"`
	UpdatedAt     string `json:"updated_at"`
}

func toStatusBody(status *hitl.Status) *statusBody {
	if status == nil {
		return nil
	}
	return &statusBody{
		ThreadID:      status.ThreadID,
		Node:          status.Node,
		Awaiting:      status.Awaiting,
		RevisionCount: status.RevisionCount,
		HasPlan:       status.HasPlan,
		HasResult:     status.HasResult,
		Error:         status.Error,
		UpdatedAt:     status.UpdatedAt.Format(time.RFC3339),
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, code int, msg string) {
	s.writeJSON(w, code, map[string]string{"error": msg})
}
