package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/wdullaer/cf-ddns/reconciler"
	"github.com/wdullaer/cf-ddns/scheduler"
	"github.com/wdullaer/cf-ddns/types"
	"github.com/wdullaer/cf-ddns/zonesync"
)

const defaultLogLimit = 100

type schedulerRequest struct {
	Action string `json:"action"`
}

type schedulerResponse struct {
	Success bool             `json:"success"`
	Message string           `json:"message"`
	Status  scheduler.Status `json:"status"`
}

type updateRequest struct {
	APIKeyID int64 `json:"apiKeyId"`
}

type toggleRequest struct {
	RecordID   string `json:"recordId"`
	AutoUpdate *bool  `json:"autoUpdate"`
	ZoneID     string `json:"zoneId"`
	APIKeyID   int64  `json:"apiKeyId"`
}

type toggleResponse struct {
	Success bool            `json:"success"`
	Record  types.DNSRecord `json:"record"`
}

type syncResponse struct {
	Success bool            `json:"success"`
	Result  zonesync.Result `json:"result"`
	Error   string          `json:"error,omitempty"`
}

// apiKeyView is a credential without its token
type apiKeyView struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
}

func newAPIKeyView(key types.APIKey) apiKeyView {
	return apiKeyView{ID: key.ID, Name: key.Name, CreatedAt: key.CreatedAt}
}

type apiKeyRequest struct {
	Token string `json:"token"`
	Name  string `json:"name"`
}

type apiKeyResponse struct {
	Success bool            `json:"success"`
	APIKey  apiKeyView      `json:"apiKey"`
	Result  zonesync.Result `json:"result"`
	Error   string          `json:"error,omitempty"`
}

type recordResponse struct {
	Success bool            `json:"success"`
	Record  types.DNSRecord `json:"record"`
}

func (server *Server) schedulerStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, server.scheduler.Status())
}

func (server *Server) schedulerAction(w http.ResponseWriter, r *http.Request) {
	var request schedulerRequest
	if err := decodeBody(r, &request); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	status := http.StatusOK
	response := schedulerResponse{Success: true}
	switch request.Action {
	case "start":
		if server.scheduler.Start(server.interval) {
			response.Message = "scheduler started"
		} else {
			response.Message = "scheduler already running"
		}
	case "stop":
		if server.scheduler.Stop() {
			response.Message = "scheduler stopped"
		} else {
			response.Message = "scheduler not running"
		}
	case "run":
		if !server.scheduler.TriggerNow() {
			writeError(w, http.StatusConflict, scheduler.ErrUpdateInProgress.Error())
			return
		}
		status = http.StatusAccepted
		response.Message = "update started"
	default:
		writeError(w, http.StatusBadRequest, "action must be one of: start, stop, run")
		return
	}

	server.logger.Infow("Scheduler action", "action", request.Action, "message", response.Message)
	response.Status = server.scheduler.Status()
	writeJSON(w, status, response)
}

func (server *Server) runUpdate(w http.ResponseWriter, r *http.Request) {
	var request updateRequest
	if err := decodeBody(r, &request); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if request.APIKeyID < 0 {
		writeError(w, http.StatusBadRequest, "apiKeyId must not be negative")
		return
	}

	summary, err := server.scheduler.RunNow(r.Context(), request.APIKeyID)
	if errors.Is(err, scheduler.ErrUpdateInProgress) {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		server.logger.Errorw("Manual update failed", "err", err)
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Success bool `json:"success"`
		*reconciler.Summary
	}{Success: true, Summary: summary})
}

func (server *Server) toggleAutoUpdate(w http.ResponseWriter, r *http.Request) {
	var request toggleRequest
	if err := decodeBody(r, &request); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if request.RecordID == "" || request.AutoUpdate == nil {
		writeError(w, http.StatusBadRequest, "recordId and autoUpdate are required")
		return
	}

	record, err := server.syncer.SetAutoUpdate(r.Context(), zonesync.ToggleRequest{
		RecordID: request.RecordID,
		Enabled:  *request.AutoUpdate,
		ZoneID:   request.ZoneID,
		APIKeyID: request.APIKeyID,
	})
	switch {
	case errors.Is(err, zonesync.ErrMissingScope):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, zonesync.ErrZoneNotFound), errors.Is(err, zonesync.ErrRecordNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case err != nil:
		server.logger.Errorw("Failed to toggle auto update", "recordID", request.RecordID, "err", err)
		writeError(w, http.StatusInternalServerError, "failed to change auto update")
	default:
		writeJSON(w, http.StatusOK, toggleResponse{Success: true, Record: record})
	}
}

func (server *Server) listLogs(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := types.LogFilter{
		RecordID: query.Get("recordId"),
		RunID:    query.Get("runId"),
		Limit:    defaultLogLimit,
	}
	if raw := query.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		filter.Limit = limit
	}

	logs, err := server.logs.ListLogs(r.Context(), filter)
	if err != nil {
		server.logger.Errorw("Failed to list update logs", "err", err)
		writeError(w, http.StatusInternalServerError, "failed to list update logs")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"logs": logs})
}

func (server *Server) currentIP(w http.ResponseWriter, r *http.Request) {
	ip, err := server.ip.CurrentIP(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"ip": ip})
}

func (server *Server) syncZones(w http.ResponseWriter, r *http.Request) {
	result, err := server.syncer.SyncAll(r.Context())
	if errors.Is(err, scheduler.ErrUpdateInProgress) {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		server.logger.Errorw("Zone synchronization failed", "err", err)
		writeJSON(w, http.StatusBadGateway, syncResponse{Result: result, Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, syncResponse{Success: true, Result: result})
}

func (server *Server) listAPIKeys(w http.ResponseWriter, r *http.Request) {
	keys, err := server.syncer.ListAPIKeys(r.Context())
	if err != nil {
		server.logger.Errorw("Failed to list api keys", "err", err)
		writeError(w, http.StatusInternalServerError, "failed to list api keys")
		return
	}
	views := make([]apiKeyView, 0, len(keys))
	for _, key := range keys {
		views = append(views, newAPIKeyView(key))
	}
	writeJSON(w, http.StatusOK, map[string]any{"apiKeys": views})
}

func (server *Server) addAPIKey(w http.ResponseWriter, r *http.Request) {
	var request apiKeyRequest
	if err := decodeBody(r, &request); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	request.Token = strings.TrimSpace(request.Token)
	if request.Token == "" {
		writeError(w, http.StatusBadRequest, "token is required")
		return
	}

	key, result, err := server.syncer.AddAPIKey(r.Context(), request.Token, request.Name)
	switch {
	case errors.Is(err, zonesync.ErrInvalidToken):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, scheduler.ErrUpdateInProgress):
		writeError(w, http.StatusConflict, err.Error())
	case err != nil && key.ID == 0:
		server.logger.Errorw("Failed to register api key", "err", err)
		writeError(w, http.StatusInternalServerError, "failed to register api key")
	case err != nil:
		// Stored, the mirror catches up on the next sync
		server.logger.Errorw("Registered api key but zone synchronization failed", "apiKeyID", key.ID, "err", err)
		writeJSON(w, http.StatusCreated, apiKeyResponse{Success: true, APIKey: newAPIKeyView(key), Result: result, Error: err.Error()})
	default:
		writeJSON(w, http.StatusCreated, apiKeyResponse{Success: true, APIKey: newAPIKeyView(key), Result: result})
	}
}

func (server *Server) removeAPIKey(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.URL.Query().Get("id"), 10, 64)
	if err != nil || id < 1 {
		writeError(w, http.StatusBadRequest, "id must be a positive integer")
		return
	}

	err = server.syncer.RemoveAPIKey(r.Context(), id)
	switch {
	case errors.Is(err, zonesync.ErrAPIKeyNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, scheduler.ErrUpdateInProgress):
		writeError(w, http.StatusConflict, err.Error())
	case err != nil:
		server.logger.Errorw("Failed to remove api key", "apiKeyID", id, "err", err)
		writeError(w, http.StatusInternalServerError, "failed to remove api key")
	default:
		writeJSON(w, http.StatusOK, map[string]bool{"success": true})
	}
}

func (server *Server) listRecords(w http.ResponseWriter, r *http.Request) {
	zoneID := r.URL.Query().Get("zoneId")
	if zoneID == "" {
		writeError(w, http.StatusBadRequest, "zoneId is required")
		return
	}
	records, err := server.syncer.ListRecords(r.Context(), zoneID)
	if err != nil {
		server.recordError(w, "Failed to list records", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"records": records})
}

func (server *Server) createRecord(w http.ResponseWriter, r *http.Request) {
	var request zonesync.CreateRequest
	if err := decodeBody(r, &request); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if request.ZoneID == "" || request.Name == "" || request.Type == "" || request.Content == "" {
		writeError(w, http.StatusBadRequest, "zoneId, name, type and content are required")
		return
	}
	record, err := server.syncer.CreateRecord(r.Context(), request)
	if err != nil {
		server.recordError(w, "Failed to create record", err)
		return
	}
	writeJSON(w, http.StatusCreated, recordResponse{Success: true, Record: record})
}

func (server *Server) deleteRecord(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	zoneID, recordID := query.Get("zoneId"), query.Get("recordId")
	if zoneID == "" || recordID == "" {
		writeError(w, http.StatusBadRequest, "zoneId and recordId are required")
		return
	}
	if err := server.syncer.DeleteRecord(r.Context(), zoneID, recordID); err != nil {
		server.recordError(w, "Failed to delete record", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// recordError maps a failed record operation: an unknown zone is a 404, anything else
// comes from the provider
func (server *Server) recordError(w http.ResponseWriter, msg string, err error) {
	if errors.Is(err, zonesync.ErrZoneNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	server.logger.Errorw(msg, "err", err)
	writeError(w, http.StatusBadGateway, err.Error())
}
