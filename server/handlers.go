package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	domaincache "github.com/sitepulse/domain-cache"
	"github.com/sitepulse/domain-cache/domainctx"
	"github.com/sitepulse/domain-cache/invalidate"
	"github.com/sitepulse/domain-cache/telemetry"
)

// headerUserID carries the acting user's identity. Context writes require
// it; reads work without it.
const headerUserID = "X-User-ID"

type domainsResponse struct {
	Tracked   []string              `json:"tracked"`
	UserAdded []string              `json:"userAdded"`
	GSCSites  []domaincache.GSCSite `json:"gscSites"`
	Selected  string                `json:"selected,omitempty"`
	All       []string              `json:"all"`
}

type domainListRequest struct {
	Domains []string `json:"domains"`
}

type gscSitesRequest struct {
	Sites []domaincache.GSCSite `json:"sites"`
}

type domainRequest struct {
	Domain string `json:"domain"`
}

type clearCacheRequest struct {
	Keys []string `json:"keys"`
}

type changedResponse struct {
	Changed bool `json:"changed"`
}

type invalidationResponse struct {
	Domain     string         `json:"domain"`
	Removed    map[string]int `json:"removed"`
	Total      int            `json:"total"`
	Errors     int            `json:"errors"`
	DurationMS int64          `json:"durationMs"`
}

type contextResponse struct {
	Domain          string                     `json:"domain"`
	State           string                     `json:"state"`
	Context         *domaincache.DomainContext `json:"context"`
	FilledCount     int                        `json:"filledCount"`
	ProgressPercent float64                    `json:"progressPercent"`
	AutoFilled      bool                       `json:"autoFilled"`
	LastError       string                     `json:"lastError,omitempty"`
}

func (s *Server) handleGetDomains(w http.ResponseWriter, r *http.Request) {
	telemetry.SetEndpoint(r, "domains.list")
	telemetry.SetNamespace(r, domaincache.ListPrefix)
	if s.domains.IsCacheFresh(domaincache.KeyTrackedDomains) {
		telemetry.SetCacheResult(r, telemetry.CacheHit)
	} else {
		telemetry.SetCacheResult(r, telemetry.CacheMiss)
	}

	writeJSON(w, http.StatusOK, domainsResponse{
		Tracked:   s.domains.TrackedDomains(),
		UserAdded: s.domains.UserAddedDomains(),
		GSCSites:  s.domains.GSCSites(),
		Selected:  s.domains.SelectedDomain(),
		All:       s.domains.AllDomains(),
	})
}

func (s *Server) handleSetTracked(w http.ResponseWriter, r *http.Request) {
	telemetry.SetEndpoint(r, "domains.set_tracked")

	var req domainListRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid request body")
		return
	}

	changed := s.domains.SetTrackedDomains(req.Domains)
	writeJSON(w, http.StatusOK, changedResponse{Changed: changed})
}

func (s *Server) handleSetGSCSites(w http.ResponseWriter, r *http.Request) {
	telemetry.SetEndpoint(r, "domains.set_gsc")

	var req gscSitesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid request body")
		return
	}

	changed := s.domains.SetGscSites(req.Sites)
	writeJSON(w, http.StatusOK, changedResponse{Changed: changed})
}

func (s *Server) handleSetUserDomains(w http.ResponseWriter, r *http.Request) {
	telemetry.SetEndpoint(r, "domains.set_user")

	var req domainListRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid request body")
		return
	}

	changed := s.domains.SetUserAddedDomains(req.Domains)
	writeJSON(w, http.StatusOK, changedResponse{Changed: changed})
}

func (s *Server) handleAddUserDomain(w http.ResponseWriter, r *http.Request) {
	telemetry.SetEndpoint(r, "domains.add_user")

	var req domainRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid request body")
		return
	}
	if domaincache.NormalizeDomain(req.Domain) == "" {
		badRequest(w, "domain is required")
		return
	}

	added := s.domains.AddUserDomain(req.Domain)
	status := http.StatusOK
	if added {
		status = http.StatusCreated
	}
	writeJSON(w, status, changedResponse{Changed: added})
}

// handleRemoveUserDomain drops a user-added domain and cascades the
// removal through every cache namespace referencing it.
func (s *Server) handleRemoveUserDomain(w http.ResponseWriter, r *http.Request) {
	telemetry.SetEndpoint(r, "domains.remove_user")

	domain := r.PathValue("domain")
	if domaincache.NormalizeDomain(domain) == "" {
		badRequest(w, "domain is required")
		return
	}

	report := s.domains.RemoveUserDomain(domain)
	writeJSON(w, http.StatusOK, invalidationReport(report))
}

func (s *Server) handleSelectDomain(w http.ResponseWriter, r *http.Request) {
	telemetry.SetEndpoint(r, "domains.select")

	var req domainRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid request body")
		return
	}

	changed := s.domains.SetSelectedDomain(req.Domain)
	writeJSON(w, http.StatusOK, changedResponse{Changed: changed})
}

func (s *Server) handleInvalidateDomain(w http.ResponseWriter, r *http.Request) {
	telemetry.SetEndpoint(r, "invalidate.domain")

	domain := r.PathValue("domain")
	if domaincache.NormalizeDomain(domain) == "" {
		badRequest(w, "domain is required")
		return
	}

	report := s.engine.Sweep(domain)
	writeJSON(w, http.StatusOK, invalidationReport(report))
}

func (s *Server) handleClearCache(w http.ResponseWriter, r *http.Request) {
	telemetry.SetEndpoint(r, "cache.clear")

	var req clearCacheRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			badRequest(w, "invalid request body")
			return
		}
	}

	s.domains.Invalidate(req.Keys...)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetContext(w http.ResponseWriter, r *http.Request) {
	telemetry.SetEndpoint(r, "context.get")
	telemetry.SetNamespace(r, domaincache.ContextPrefix)

	cache := s.contexts.ForDomain(r.PathValue("domain"))
	if cache == nil {
		badRequest(w, "domain is required")
		return
	}

	if cache.Context() != nil {
		telemetry.SetCacheResult(r, telemetry.CacheHit)
	} else {
		telemetry.SetCacheResult(r, telemetry.CacheMiss)
	}

	if err := cache.Fetch(r.Context(), r.Header.Get(headerUserID)); err != nil {
		// Stale data still serves; only a miss with no fallback is an error.
		if cache.Context() == nil {
			writeError(w, http.StatusBadGateway, err.Error())
			return
		}
	}

	writeJSON(w, http.StatusOK, contextResponseFrom(cache.Snapshot()))
}

func (s *Server) handleUpdateContext(w http.ResponseWriter, r *http.Request) {
	telemetry.SetEndpoint(r, "context.update")
	telemetry.SetNamespace(r, domaincache.ContextPrefix)

	cache := s.contexts.ForDomain(r.PathValue("domain"))
	if cache == nil {
		badRequest(w, "domain is required")
		return
	}

	var partial domaincache.DomainContext
	if err := json.NewDecoder(r.Body).Decode(&partial); err != nil {
		badRequest(w, "invalid request body")
		return
	}

	userID := r.Header.Get(headerUserID)
	cache.Fetch(r.Context(), userID) //nolint:errcheck // update merges over whatever resolved

	if err := cache.Update(r.Context(), userID, &partial); err != nil {
		if errors.Is(err, domainctx.ErrNoActor) {
			writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, contextResponseFrom(cache.Snapshot()))
}

func (s *Server) handleAutoFill(w http.ResponseWriter, r *http.Request) {
	telemetry.SetEndpoint(r, "context.autofill")
	telemetry.SetNamespace(r, domaincache.ContextPrefix)

	cache := s.contexts.ForDomain(r.PathValue("domain"))
	if cache == nil {
		badRequest(w, "domain is required")
		return
	}

	if err := cache.AutoFill(r.Context()); err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, contextResponseFrom(cache.Snapshot()))
}

// handleStats reports per-namespace entry counts from the durable store.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	telemetry.SetEndpoint(r, "stats")

	counts := map[string]int{}
	for _, prefix := range []string{
		domaincache.ListPrefix,
		domaincache.ContextPrefix,
		domaincache.KeywordPrefix,
	} {
		keys, err := s.entries.KV().Keys(prefix)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		counts[prefix] = len(keys)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"namespaces":   counts,
		"generated_at": time.Now().UTC().Format(time.RFC3339),
	})
}

// contextResponseFrom renders one consistent snapshot, so the fields in a
// response always describe the same moment of the same domain's cache.
func contextResponseFrom(snap domainctx.Snapshot) contextResponse {
	return contextResponse{
		Domain:          snap.Domain,
		State:           string(snap.State),
		Context:         snap.Context,
		FilledCount:     snap.FilledCount,
		ProgressPercent: snap.ProgressPercent,
		AutoFilled:      snap.HasAutoFilled,
		LastError:       snap.LastError,
	}
}

func invalidationReport(report *invalidate.Report) invalidationResponse {
	return invalidationResponse{
		Domain:     report.Domain,
		Removed:    report.Removed,
		Total:      report.TotalRemoved(),
		Errors:     report.Errors,
		DurationMS: report.Duration.Milliseconds(),
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func badRequest(w http.ResponseWriter, msg string) {
	writeError(w, http.StatusBadRequest, msg)
}
