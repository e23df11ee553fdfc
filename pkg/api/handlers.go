package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/cuemby/amino/pkg/cache"
	"github.com/cuemby/amino/pkg/lifecycle"
	"github.com/cuemby/amino/pkg/session"
	"github.com/cuemby/amino/pkg/syncer"
	"github.com/cuemby/amino/pkg/types"
	"github.com/go-chi/chi/v5"
)

// StatusResponse is the combined runtime view
type StatusResponse struct {
	Online      bool             `json:"online"`
	Sync        types.SyncStatus `json:"syncStatus"`
	Pending     int              `json:"pending"`
	DeadLetters int              `json:"deadLetters"`
	Session     *session.Stats   `json:"session,omitempty"`
	Cache       *CacheResponse   `json:"cache,omitempty"`
}

// CacheResponse describes the cache tiers
type CacheResponse struct {
	Version string             `json:"version"`
	Active  string             `json:"active,omitempty"`
	Entries map[cache.Tier]int `json:"entries"`
}

// NetworkResponse is the answer of a connectivity check
type NetworkResponse struct {
	Online bool `json:"online"`
}

// BackupsResponse lists the backup slots, newest first
type BackupsResponse struct {
	Slots []string `json:"slots"`
}

// RestoreResponse reports whether a backup was applied
type RestoreResponse struct {
	Restored bool `json:"restored"`
}

// ImportResponse reports whether the imported document was applied
type ImportResponse struct {
	Imported bool `json:"imported"`
}

// ValidateResponse is the result of an integrity check
type ValidateResponse struct {
	Valid bool `json:"valid"`
}

func (s *Server) getStatus(w http.ResponseWriter, r *http.Request) {
	snap := s.deps.Queue.Status()
	resp := StatusResponse{
		Online:      snap.SyncStatus.ConnectionStatus == types.ConnectionOnline,
		Sync:        snap.SyncStatus,
		Pending:     snap.Count,
		DeadLetters: snap.DeadLetterCount,
	}
	if s.deps.Network != nil {
		resp.Online = s.deps.Network.Online()
	}
	if s.deps.Session != nil {
		if stats, ok := s.deps.Session.Stats(); ok {
			resp.Session = &stats
		}
	}
	if s.deps.Cache != nil {
		c := s.cacheResponse()
		resp.Cache = &c
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) checkNetwork(w http.ResponseWriter, r *http.Request) {
	if s.deps.Network == nil {
		writeError(w, http.StatusServiceUnavailable, "network monitor not running")
		return
	}
	writeJSON(w, http.StatusOK, NetworkResponse{Online: s.deps.Network.CheckNow(r.Context())})
}

func (s *Server) getQueue(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Queue.Status())
}

func (s *Server) getQueueStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Queue.Stats())
}

func (s *Server) clearQueue(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Queue.Clear(); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) getDeadLetters(w http.ResponseWriter, r *http.Request) {
	letters, err := s.deps.Queue.DeadLetters()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if letters == nil {
		letters = []types.DeadLetter{}
	}
	writeJSON(w, http.StatusOK, letters)
}

func (s *Server) purgeDeadLetters(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Queue.PurgeDeadLetters(); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) forceSync(w http.ResponseWriter, r *http.Request) {
	res, err := s.deps.Syncer.ForceSync(r.Context())
	switch {
	case errors.Is(err, syncer.ErrOffline):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		writeJSON(w, http.StatusOK, res)
	}
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	stats, ok := s.deps.Session.Stats()
	if !ok {
		writeError(w, http.StatusNotFound, "no active session")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) saveSession(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Session.ForceSave(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Session.Session())
}

func (s *Server) validateData(w http.ResponseWriter, r *http.Request) {
	valid, err := s.deps.Session.ValidateDataIntegrity(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, ValidateResponse{Valid: valid})
}

func (s *Server) listBackups(w http.ResponseWriter, r *http.Request) {
	slots, err := s.deps.Session.ListBackups()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if slots == nil {
		slots = []string{}
	}
	writeJSON(w, http.StatusOK, BackupsResponse{Slots: slots})
}

func (s *Server) createBackup(w http.ResponseWriter, r *http.Request) {
	snap, err := s.deps.Session.CreateBackup(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, snap)
}

func (s *Server) restoreBackup(w http.ResponseWriter, r *http.Request) {
	restored, err := s.deps.Session.RestoreBackup(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !restored {
		writeError(w, http.StatusNotFound, "no backup to restore")
		return
	}
	writeJSON(w, http.StatusOK, RestoreResponse{Restored: true})
}

func (s *Server) getBackup(w http.ResponseWriter, r *http.Request) {
	snap, found, err := s.deps.Session.LoadBackup(chi.URLParam(r, "slot"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "backup not found")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) exportData(w http.ResponseWriter, r *http.Request) {
	data, err := s.deps.Session.ExportData(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	filename := "amino-gym-export-" + time.Now().UTC().Format("2006-01-02") + ".json"
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *Server) importData(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 64<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	imported, err := s.deps.Session.ImportData(r.Context(), raw)
	switch {
	case errors.Is(err, session.ErrInvalidDocument):
		writeError(w, http.StatusBadRequest, err.Error())
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		writeJSON(w, http.StatusOK, ImportResponse{Imported: imported})
	}
}

func (s *Server) listSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := s.deps.Session.AllSettings()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

func (s *Server) getSetting(w http.ResponseWriter, r *http.Request) {
	var value json.RawMessage
	if !s.deps.Session.GetSetting(chi.URLParam(r, "key"), &value) {
		writeError(w, http.StatusNotFound, "setting not found")
		return
	}
	writeJSON(w, http.StatusOK, value)
}

func (s *Server) putSetting(w http.ResponseWriter, r *http.Request) {
	var value json.RawMessage
	if err := decode(w, r, &value); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.deps.Session.SaveSetting(chi.URLParam(r, "key"), value); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) cacheResponse() CacheResponse {
	resp := CacheResponse{
		Version: s.deps.Cache.Version(),
		Entries: s.deps.Cache.Stats(),
	}
	if active, ok := s.deps.Cache.Active(); ok {
		resp.Active = active.Version
	}
	return resp
}

func (s *Server) getCache(w http.ResponseWriter, r *http.Request) {
	if s.deps.Cache == nil {
		writeError(w, http.StatusNotFound, "cache disabled")
		return
	}
	writeJSON(w, http.StatusOK, s.cacheResponse())
}

func (s *Server) installCache(w http.ResponseWriter, r *http.Request) {
	if s.deps.Cache == nil {
		writeError(w, http.StatusNotFound, "cache disabled")
		return
	}
	report := s.deps.Cache.Install(r.Context())
	if err := s.deps.Cache.Activate(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) purgeCache(w http.ResponseWriter, r *http.Request) {
	if s.deps.Cache == nil {
		writeError(w, http.StatusNotFound, "cache disabled")
		return
	}
	if err := s.deps.Cache.PurgeAll(); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) purgeCacheTier(w http.ResponseWriter, r *http.Request) {
	if s.deps.Cache == nil {
		writeError(w, http.StatusNotFound, "cache disabled")
		return
	}
	tier, ok := parseTier(chi.URLParam(r, "tier"))
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown cache tier")
		return
	}
	if err := s.deps.Cache.Purge(tier); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func parseTier(name string) (cache.Tier, bool) {
	for _, t := range cache.AllTiers {
		if string(t) == name {
			return t, true
		}
	}
	return "", false
}

func (s *Server) fireLifecycle(w http.ResponseWriter, r *http.Request) {
	event, err := lifecycle.ParseEvent(chi.URLParam(r, "event"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.deps.Hooks.Fire(r.Context(), event)
	w.WriteHeader(http.StatusAccepted)
}

