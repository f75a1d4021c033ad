// Package api exposes the scheduler, the update log and the zone mirror over HTTP
package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/wdullaer/cf-ddns/publicip"
	"github.com/wdullaer/cf-ddns/reconciler"
	"github.com/wdullaer/cf-ddns/scheduler"
	"github.com/wdullaer/cf-ddns/types"
	"github.com/wdullaer/cf-ddns/zonesync"
	"go.uber.org/zap"
)

// Scheduler is the control surface of the update scheduler
type Scheduler interface {
	Start(interval time.Duration) bool
	Stop() bool
	RunNow(ctx context.Context, apiKeyID int64) (*reconciler.Summary, error)
	TriggerNow() bool
	Status() scheduler.Status
}

// ZoneSyncer manages credentials and records and refreshes the local mirror of provider state
type ZoneSyncer interface {
	SyncAll(ctx context.Context) (zonesync.Result, error)
	SetAutoUpdate(ctx context.Context, request zonesync.ToggleRequest) (types.DNSRecord, error)
	ListAPIKeys(ctx context.Context) ([]types.APIKey, error)
	AddAPIKey(ctx context.Context, token string, name string) (types.APIKey, zonesync.Result, error)
	RemoveAPIKey(ctx context.Context, id int64) error
	ListRecords(ctx context.Context, zoneID string) ([]types.DNSRecord, error)
	CreateRecord(ctx context.Context, request zonesync.CreateRequest) (types.DNSRecord, error)
	DeleteRecord(ctx context.Context, zoneID string, recordID string) error
}

// LogReader reads the update log
type LogReader interface {
	ListLogs(ctx context.Context, filter types.LogFilter) ([]types.UpdateLogEntry, error)
}

// Options holds the collaborators of a Server
type Options struct {
	Scheduler Scheduler
	Syncer    ZoneSyncer
	Logs      LogReader
	IP        publicip.Provider
	// Interval is used when the scheduler is started over the API
	Interval time.Duration
	// Token enables bearer authentication when not empty
	Token string
}

// Server routes the control API
type Server struct {
	router    *mux.Router
	scheduler Scheduler
	syncer    ZoneSyncer
	logs      LogReader
	ip        publicip.Provider
	interval  time.Duration
	token     string
	logger    *zap.SugaredLogger
}

func NewServer(options Options, logger *zap.SugaredLogger) *Server {
	server := &Server{
		router:    mux.NewRouter(),
		scheduler: options.Scheduler,
		syncer:    options.Syncer,
		logs:      options.Logs,
		ip:        options.IP,
		interval:  options.Interval,
		token:     options.Token,
		logger:    logger.Named("api"),
	}
	server.routes()
	return server
}

func (server *Server) routes() {
	// Routes live on the root router: a PathPrefix subrouter turns a method mismatch into a 404
	router := server.router
	router.Use(server.logRequests)
	if server.token != "" {
		router.Use(server.requireToken)
	}
	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	router.HandleFunc("/api/scheduler/status", server.schedulerStatus).Methods(http.MethodGet)
	router.HandleFunc("/api/scheduler", server.schedulerAction).Methods(http.MethodPost)
	router.HandleFunc("/api/ddns/update", server.runUpdate).Methods(http.MethodPost)
	router.HandleFunc("/api/ddns/toggle", server.toggleAutoUpdate).Methods(http.MethodPut)
	router.HandleFunc("/api/ddns/logs", server.listLogs).Methods(http.MethodGet)
	router.HandleFunc("/api/ip", server.currentIP).Methods(http.MethodGet)
	router.HandleFunc("/api/zones/sync", server.syncZones).Methods(http.MethodPost)
	router.HandleFunc("/api/config/apikey", server.listAPIKeys).Methods(http.MethodGet)
	router.HandleFunc("/api/config/apikey", server.addAPIKey).Methods(http.MethodPost)
	router.HandleFunc("/api/config/apikey", server.removeAPIKey).Methods(http.MethodDelete)
	router.HandleFunc("/api/records", server.listRecords).Methods(http.MethodGet)
	router.HandleFunc("/api/records", server.createRecord).Methods(http.MethodPost)
	router.HandleFunc("/api/records", server.deleteRecord).Methods(http.MethodDelete)
}

func (server *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	server.router.ServeHTTP(w, r)
}

func (server *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)
		server.logger.Debugw("Handled request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", recorder.status,
			"duration", time.Since(start),
		)
	})
}

func (server *Server) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(server.token)) != 1 {
			writeError(w, http.StatusUnauthorized, "missing or invalid bearer token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (recorder *statusRecorder) WriteHeader(status int) {
	recorder.status = status
	recorder.ResponseWriter.WriteHeader(status)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// decodeBody decodes an optional JSON body into value, an empty body is accepted
func decodeBody(r *http.Request, value any) error {
	if r.Body == nil {
		return nil
	}
	if err := json.NewDecoder(r.Body).Decode(value); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}
