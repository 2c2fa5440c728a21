// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at AquaOps (https://www.aquaops.io/).
// Copyright 2025-present AquaOps, Inc.

// Package api serves the agent's JSON REST surface.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/jmoiron/sqlx"

	"github.com/aquaops/aquaops-agent/pkg/cep"
	"github.com/aquaops/aquaops-agent/pkg/cepsync"
	"github.com/aquaops/aquaops-agent/pkg/dispatcher"
	"github.com/aquaops/aquaops-agent/pkg/poller"
	"github.com/aquaops/aquaops-agent/pkg/rules"
	"github.com/aquaops/aquaops-agent/pkg/sqlguard"
	"github.com/aquaops/aquaops-agent/pkg/telemetry"
	"github.com/aquaops/aquaops-agent/pkg/util/log"
	"github.com/aquaops/aquaops-agent/pkg/version"
)

// Server wires the REST surface to the agent's components.
type Server struct {
	engine     *cep.Engine
	poll       *poller.Poller
	registry   *rules.Registry
	dispatch   *dispatcher.Dispatcher
	remoteCEP  *cepsync.Client
	db         *sqlx.DB
	httpServer *http.Server

	queryTimeout time.Duration
}

// Option tweaks a Server at construction time.
type Option func(*Server)

// WithRemoteCEP installs the optional external CEP client.
func WithRemoteCEP(c *cepsync.Client) Option {
	return func(s *Server) { s.remoteCEP = c }
}

// WithQueryTimeout overrides the deadline for run-now queries.
func WithQueryTimeout(d time.Duration) Option {
	return func(s *Server) { s.queryTimeout = d }
}

// NewServer builds the server. The db handle may be nil; endpoints that
// need it respond 503.
func NewServer(engine *cep.Engine, poll *poller.Poller, registry *rules.Registry, dispatch *dispatcher.Dispatcher, db *sqlx.DB, opts ...Option) *Server {
	s := &Server{
		engine:       engine,
		poll:         poll,
		registry:     registry,
		dispatch:     dispatch,
		db:           db,
		queryTimeout: 60 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Router builds the full route table.
func (s *Server) Router() http.Handler {
	r := mux.NewRouter()
	r.Use(s.countRequests)
	r.HandleFunc("/health", s.health).Methods(http.MethodGet)
	r.Handle("/metrics", telemetry.Handler()).Methods(http.MethodGet)

	ev := r.PathPrefix("/events").Subrouter()
	ev.HandleFunc("/rules", s.listRules).Methods(http.MethodGet)
	ev.HandleFunc("/rules", s.createRule).Methods(http.MethodPost)
	ev.HandleFunc("/rules/{id}", s.getRule).Methods(http.MethodGet)
	ev.HandleFunc("/rules/{id}", s.updateRule).Methods(http.MethodPut)
	ev.HandleFunc("/rules/{id}", s.deleteRule).Methods(http.MethodDelete)
	ev.HandleFunc("/rules/{id}/toggle", s.toggleRule).Methods(http.MethodPost)
	ev.HandleFunc("/rules/{id}/run", s.runRule).Methods(http.MethodPost)

	ev.HandleFunc("/notifications", s.listNotifications).Methods(http.MethodGet)
	ev.HandleFunc("/notifications/{id}/acknowledge", s.acknowledge).Methods(http.MethodPost)

	ev.HandleFunc("/scheduler/status", s.schedulerStatus).Methods(http.MethodGet)
	ev.HandleFunc("/scheduler/start", s.schedulerStart).Methods(http.MethodPost)
	ev.HandleFunc("/scheduler/stop", s.schedulerStop).Methods(http.MethodPost)

	ev.HandleFunc("/templates", s.listTemplates).Methods(http.MethodGet)
	ev.HandleFunc("/templates/categories", s.templateCategories).Methods(http.MethodGet)
	ev.HandleFunc("/templates/by-category", s.templatesGrouped).Methods(http.MethodGet)
	ev.HandleFunc("/templates/{id}", s.getTemplate).Methods(http.MethodGet)
	ev.HandleFunc("/templates/{id}/create-rule", s.createRuleFromTemplate).Methods(http.MethodPost)

	ev.HandleFunc("/chat", s.chat).Methods(http.MethodPost)
	ev.HandleFunc("/simulate", s.simulate).Methods(http.MethodPost)
	ev.HandleFunc("/cep-alert", s.cepAlert).Methods(http.MethodPost)
	ev.HandleFunc("/cep-process", s.cepProcess).Methods(http.MethodPost)
	ev.HandleFunc("/cep/status", s.cepStatus).Methods(http.MethodGet)

	return handlers.RecoveryHandler(handlers.PrintRecoveryStack(true))(r)
}

// Serve starts the HTTP listener and blocks until the server stops.
func (s *Server) Serve(addr string) error {
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.Router(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 90 * time.Second,
	}
	log.Infof("api server %s listening on %s", version.AgentVersion, addr)
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops the listener gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) countRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		route := r.URL.Path
		if current := mux.CurrentRoute(r); current != nil {
			if tpl, err := current.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		telemetry.APIRequests.WithLabelValues(route, strconv.Itoa(rec.status)).Inc()
	})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Errorf("encoding response: %v", err)
	}
}

type errorBody struct {
	Error   string      `json:"error"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

func writeError(w http.ResponseWriter, status int, kind, message string) {
	writeJSON(w, status, errorBody{Error: kind, Message: message})
}

// writeOpError maps component errors onto the REST error taxonomy.
func writeOpError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, sqlguard.ErrUnsafeSQL):
		writeError(w, http.StatusBadRequest, "unsafe_sql", err.Error())
	case errors.Is(err, rules.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	default:
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, out interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(out); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", fmt.Sprintf("malformed body: %v", err))
		return false
	}
	return true
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": version.AgentVersion,
	})
}
