// Package papitest runs an in-memory stand-in for the property and identity
// APIs. It keeps just enough state (properties, versions, rule trees, bulk
// jobs, activations) for the bulk engine to be exercised end to end.
package papitest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/edgeops/edgectl/internal/client"
	"github.com/edgeops/edgectl/internal/papi"
	"github.com/rs/zerolog"
)

// Property is a stub property with its versions and per-version rule trees.
type Property struct {
	ID         int64
	Name       string
	ContractID string
	GroupID    int64
	AssetID    int64
	ProductID  string
	RuleFormat string
	Hostnames  []string
	Versions   []papi.Version
	Rules      map[int]map[string]any
}

func (p *Property) latest() int {
	latest := 0
	for _, v := range p.Versions {
		if v.PropertyVersion > latest {
			latest = v.PropertyVersion
		}
	}
	return latest
}

func (p *Property) version(n int) (*papi.Version, bool) {
	for i := range p.Versions {
		if p.Versions[i].PropertyVersion == n {
			return &p.Versions[i], true
		}
	}
	return nil, false
}

// Server is the stub remote.
type Server struct {
	*httptest.Server

	// Fixtures; set before the first request.
	SearchResults []papi.SearchResult
	AccountName   string
	Groups        []papi.Group
	SwitchKeys    map[string]string // switch key -> account name
	NoSwitchCtx   bool
	PatchStatus   string
	PendingPolls  int           // GETs answered IN_PROGRESS before a job completes
	Delay         time.Duration // per-request latency
	FailVersions  map[int64]bool
	RateLimited   bool

	mu          sync.Mutex
	properties  map[int64]*Property
	searches    map[int64]*papi.BulkSearch
	creates     map[int64]*papi.BulkCreate
	patches     map[int64]*papi.BulkPatch
	activations map[int64]*papi.BulkActivation
	single      map[int64]*papi.Activation
	pending     map[int64]int
	nextID      int64

	// Recorded traffic.
	SearchScopes    []map[string]string
	LastPatch       []papi.PatchTarget
	LastActivation  *papi.BulkActivationRequest
	SingleRequests  []papi.ActivationRequest
	PutNotes        []string
	puts            atomic.Int32
	inFlight        atomic.Int32
	maxInFlight     atomic.Int32
	versionGets     atomic.Int32
}

// New starts a stub server that is closed when the test ends.
func New(t testing.TB) *Server {
	s := &Server{
		AccountName: "Example Media",
		PatchStatus: papi.StatusComplete,
		properties:  make(map[int64]*Property),
		searches:    make(map[int64]*papi.BulkSearch),
		creates:     make(map[int64]*papi.BulkCreate),
		patches:     make(map[int64]*papi.BulkPatch),
		activations: make(map[int64]*papi.BulkActivation),
		single:      make(map[int64]*papi.Activation),
		pending:     make(map[int64]int),
		nextID:      1000,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /papi/v1/bulk/rules-search-requests", s.submitSearch)
	mux.HandleFunc("GET /papi/v1/bulk/rules-search-requests/{id}", s.getSearch)
	mux.HandleFunc("POST /papi/v1/bulk/property-version-creations", s.submitCreate)
	mux.HandleFunc("GET /papi/v1/bulk/property-version-creations/{id}", s.getCreate)
	mux.HandleFunc("POST /papi/v1/bulk/rules-patch-requests", s.submitPatch)
	mux.HandleFunc("GET /papi/v1/bulk/rules-patch-requests/{id}", s.getPatch)
	mux.HandleFunc("POST /papi/v1/bulk/activations", s.submitActivation)
	mux.HandleFunc("GET /papi/v1/bulk/activations/{id}", s.getActivation)
	mux.HandleFunc("GET /papi/v1/properties/{pid}/versions", s.listVersions)
	mux.HandleFunc("GET /papi/v1/properties/{pid}/versions/{v}", s.getVersion)
	mux.HandleFunc("GET /papi/v1/properties/{pid}/versions/{v}/hostnames", s.getHostnames)
	mux.HandleFunc("GET /papi/v1/properties/{pid}/versions/{v}/rules", s.getRules)
	mux.HandleFunc("PUT /papi/v1/properties/{pid}/versions/{v}/rules", s.putRules)
	mux.HandleFunc("POST /papi/v1/properties/{pid}/activations", s.activate)
	mux.HandleFunc("GET /papi/v1/properties/{pid}/activations/{aid}", s.getSingleActivation)
	mux.HandleFunc("GET /papi/v1/groups", s.listGroups)
	mux.HandleFunc("GET /identity-management/v3/api-clients/self/account-switch-keys", s.switchKeys)

	s.Server = httptest.NewServer(s.track(mux))
	t.Cleanup(s.Close)
	return s
}

// Client returns an unsigned client pointed at the stub.
func (s *Server) Client() *client.Client {
	return client.New(client.Options{BaseURL: s.URL, Logger: zerolog.Nop()})
}

// AddProperty registers a property. Rules default to a tree whose default
// rule has no behaviors.
func (s *Server) AddProperty(p Property) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.Rules == nil {
		p.Rules = make(map[int]map[string]any)
	}
	for _, v := range p.Versions {
		if _, ok := p.Rules[v.PropertyVersion]; !ok {
			p.Rules[v.PropertyVersion] = map[string]any{"name": "default", "behaviors": []any{}, "children": []any{}}
		}
	}
	cp := p
	s.properties[p.ID] = &cp
}

// Property returns a snapshot of a registered property.
func (s *Server) Property(id int64) Property {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := *s.properties[id]
	p.Versions = append([]papi.Version(nil), p.Versions...)
	p.Rules = make(map[int]map[string]any)
	for v, r := range s.properties[id].Rules {
		p.Rules[v] = deepCopy(r)
	}
	return p
}

// ActivateVersion marks a version active on staging, which locks it against
// rule-tree changes.
func (s *Server) ActivateVersion(id int64, version int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.properties[id].version(version); ok {
		v.StagingStatus = papi.StatusActive
	}
}

// PutCount is the number of rule-tree PUTs received.
func (s *Server) PutCount() int { return int(s.puts.Load()) }

// MaxInFlight is the highest number of concurrently served requests.
func (s *Server) MaxInFlight() int { return int(s.maxInFlight.Load()) }

// VersionGets is the number of property-version GETs served.
func (s *Server) VersionGets() int { return int(s.versionGets.Load()) }

func (s *Server) track(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := s.inFlight.Add(1)
		defer s.inFlight.Add(-1)
		for {
			m := s.maxInFlight.Load()
			if n <= m || s.maxInFlight.CompareAndSwap(m, n) {
				break
			}
		}
		if s.Delay > 0 {
			time.Sleep(s.Delay)
		}
		if s.RateLimited {
			w.WriteHeader(http.StatusForbidden)
			fmt.Fprint(w, "Access Denied. "+client.RateLimitMarker)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) id() int64 {
	s.nextID++
	return s.nextID
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func pathInt(r *http.Request, name string) int64 {
	n, _ := strconv.ParseInt(r.PathValue(name), 10, 64)
	return n
}

func deepCopy(m map[string]any) map[string]any {
	b, _ := json.Marshal(m)
	var out map[string]any
	json.Unmarshal(b, &out)
	return out
}

// doneAfterPolls counts down the pending polls of job id.
func (s *Server) doneAfterPolls(id int64) bool {
	if s.pending[id] > 0 {
		s.pending[id]--
		return false
	}
	return true
}

func (s *Server) submitSearch(w http.ResponseWriter, r *http.Request) {
	var body map[string]any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"title": "bad query"})
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	scope := map[string]string{"contractId": r.URL.Query().Get("contractId"), "groupId": r.URL.Query().Get("groupId")}
	s.SearchScopes = append(s.SearchScopes, scope)

	id := s.id()
	results := append([]papi.SearchResult(nil), s.SearchResults...)
	query, _ := json.Marshal(body["bulkSearchQuery"])
	s.searches[id] = &papi.BulkSearch{BulkSearchID: id, BulkSearchQuery: query, Results: results}
	s.pending[id] = s.PendingPolls
	writeJSON(w, http.StatusAccepted, map[string]string{
		"bulkSearchLink": fmt.Sprintf("/papi/v1/bulk/rules-search-requests/%d", id),
	})
}

func (s *Server) getSearch(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.searches[pathInt(r, "id")]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"title": "not found"})
		return
	}
	out := *job
	if s.doneAfterPolls(job.BulkSearchID) {
		out.SearchTargetStatus = papi.StatusComplete
	} else {
		out.SearchTargetStatus = papi.StatusInProgress
		out.Results = nil
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) submitCreate(w http.ResponseWriter, r *http.Request) {
	var body struct {
		CreatePropertyVersions []papi.VersionPair `json:"createPropertyVersions"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"title": err.Error()})
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.id()
	job := &papi.BulkCreate{BulkCreateVersionsID: id}
	for _, pair := range body.CreatePropertyVersions {
		row := papi.CreatedVersion{PropertyID: pair.PropertyID, CreateFromVersion: pair.CreateFromVersion}
		p, ok := s.properties[pair.PropertyID]
		base, found := (*papi.Version)(nil), false
		if ok {
			base, found = p.version(pair.CreateFromVersion)
		}
		if !found {
			row.CreateVersionStatus = papi.StatusSubmissionError
			job.CreatePropertyVersions = append(job.CreatePropertyVersions, row)
			continue
		}
		next := p.latest() + 1
		p.Versions = append(p.Versions, papi.Version{
			PropertyVersion:  next,
			ProductionStatus: papi.StatusInactive,
			StagingStatus:    papi.StatusInactive,
			ProductID:        base.ProductID,
			RuleFormat:       base.RuleFormat,
			UpdatedDate:      "2024-05-01T10:00:00Z",
		})
		p.Rules[next] = deepCopy(p.Rules[pair.CreateFromVersion])
		row.PropertyVersion = next
		row.CreateVersionStatus = papi.StatusComplete
		job.CreatePropertyVersions = append(job.CreatePropertyVersions, row)
	}
	s.creates[id] = job
	s.pending[id] = s.PendingPolls
	writeJSON(w, http.StatusAccepted, map[string]string{
		"bulkCreateVersionLink": fmt.Sprintf("/papi/v1/bulk/property-version-creations/%d", id),
	})
}

func (s *Server) getCreate(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.creates[pathInt(r, "id")]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"title": "not found"})
		return
	}
	out := *job
	out.BulkCreateVersionsStatus = papi.StatusInProgress
	if s.doneAfterPolls(job.BulkCreateVersionsID) {
		out.BulkCreateVersionsStatus = papi.StatusComplete
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) submitPatch(w http.ResponseWriter, r *http.Request) {
	var body struct {
		PatchPropertyVersions []papi.PatchTarget `json:"patchPropertyVersions"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"title": err.Error()})
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.LastPatch = body.PatchPropertyVersions

	id := s.id()
	job := &papi.BulkPatch{BulkPatchID: id, BulkPatchStatus: papi.StatusInProgress}
	for _, t := range body.PatchPropertyVersions {
		name := ""
		if p, ok := s.properties[t.PropertyID]; ok {
			name = p.Name
		}
		job.PatchPropertyVersions = append(job.PatchPropertyVersions, papi.PatchedVersion{
			PropertyID:                 t.PropertyID,
			PropertyName:               name,
			PatchPropertyID:            t.PropertyID,
			PatchPropertyVersion:       t.PropertyVersion,
			PatchPropertyVersionStatus: s.PatchStatus,
		})
	}
	s.patches[id] = job
	writeJSON(w, http.StatusAccepted, map[string]string{
		"bulkPatchLink": fmt.Sprintf("/papi/v1/bulk/rules-patch-requests/%d", id),
	})
}

func (s *Server) getPatch(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.patches[pathInt(r, "id")]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"title": "not found"})
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) newActivation(pid int64, version int, network string) *papi.Activation {
	act := &papi.Activation{
		ActivationID:    s.id(),
		PropertyID:      pid,
		PropertyVersion: version,
		Network:         network,
		Status:          papi.StatusActive,
	}
	if p, ok := s.properties[pid]; ok {
		act.PropertyName = p.Name
		if v, found := p.version(version); found {
			if network == papi.NetworkProduction {
				v.ProductionStatus = papi.StatusActive
			} else {
				v.StagingStatus = papi.StatusActive
			}
		}
	}
	s.single[act.ActivationID] = act
	return act
}

func (s *Server) submitActivation(w http.ResponseWriter, r *http.Request) {
	var body papi.BulkActivationRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"title": err.Error()})
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.LastActivation = &body

	id := s.id()
	job := &papi.BulkActivation{BulkActivationID: id, BulkActivationStatus: papi.StatusInProgress}
	for _, t := range body.ActivatePropertyVersions {
		act := s.newActivation(t.PropertyID, t.PropertyVersion, t.Network)
		job.ActivatePropertyVersions = append(job.ActivatePropertyVersions, papi.ActivatedVersion{
			PropertyID:              t.PropertyID,
			PropertyName:            act.PropertyName,
			PropertyVersion:         t.PropertyVersion,
			Network:                 t.Network,
			TaskStatus:              "SUBMITTED",
			PropertyActivationsLink: fmt.Sprintf("/papi/v1/properties/%d/activations/%d", t.PropertyID, act.ActivationID),
		})
	}
	s.activations[id] = job
	writeJSON(w, http.StatusAccepted, map[string]string{
		"bulkActivationLink": fmt.Sprintf("/papi/v1/bulk/activations/%d", id),
	})
}

func (s *Server) getActivation(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.activations[pathInt(r, "id")]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"title": "not found"})
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) activate(w http.ResponseWriter, r *http.Request) {
	var body papi.ActivationRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"title": err.Error()})
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.SingleRequests = append(s.SingleRequests, body)
	pid := pathInt(r, "pid")
	act := s.newActivation(pid, body.PropertyVersion, body.Network)
	writeJSON(w, http.StatusCreated, map[string]string{
		"activationLink": fmt.Sprintf("/papi/v1/properties/%d/activations/%d", pid, act.ActivationID),
	})
}

func (s *Server) getSingleActivation(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	act, ok := s.single[pathInt(r, "aid")]
	if !ok || act.PropertyID != pathInt(r, "pid") {
		writeJSON(w, http.StatusNotFound, map[string]string{"title": "not found"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"activations": map[string]any{"items": []papi.Activation{*act}}})
}

func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (*Property, *papi.Version, bool) {
	p, ok := s.properties[pathInt(r, "pid")]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"title": "property not found"})
		return nil, nil, false
	}
	v, ok := p.version(int(pathInt(r, "v")))
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"title": "version not found"})
		return nil, nil, false
	}
	return p, v, true
}

func (s *Server) listVersions(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.properties[pathInt(r, "pid")]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"title": "property not found"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"propertyId":   p.ID,
		"propertyName": p.Name,
		"contractId":   p.ContractID,
		"groupId":      p.GroupID,
		"assetId":      p.AssetID,
		"versions":     map[string]any{"items": p.Versions},
	})
}

func (s *Server) getVersion(w http.ResponseWriter, r *http.Request) {
	s.versionGets.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailVersions[pathInt(r, "pid")] {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"title": "internal error"})
		return
	}
	p, v, ok := s.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"propertyId":   p.ID,
		"propertyName": p.Name,
		"contractId":   p.ContractID,
		"groupId":      p.GroupID,
		"assetId":      p.AssetID,
		"versions":     map[string]any{"items": []papi.Version{*v}},
	})
}

func (s *Server) getHostnames(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, _, ok := s.lookup(w, r)
	if !ok {
		return
	}
	items := make([]map[string]string, 0, len(p.Hostnames))
	for _, h := range p.Hostnames {
		items = append(items, map[string]string{"cnameFrom": h, "cnameTo": h + ".edgekey.net"})
	}
	writeJSON(w, http.StatusOK, map[string]any{"hostnames": map[string]any{"items": items}})
}

func (s *Server) getRules(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, v, ok := s.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, papi.RuleTree{
		PropertyID:      p.ID,
		PropertyVersion: v.PropertyVersion,
		RuleFormat:      v.RuleFormat,
		Rules:           deepCopy(p.Rules[v.PropertyVersion]),
	})
}

func (s *Server) putRules(w http.ResponseWriter, r *http.Request) {
	s.puts.Add(1)
	var body struct {
		Rules    map[string]any `json:"rules"`
		Comments string         `json:"comments"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"title": err.Error()})
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p, v, ok := s.lookup(w, r)
	if !ok {
		return
	}
	if v.Locked() {
		writeJSON(w, http.StatusConflict, map[string]string{"title": "version is locked"})
		return
	}
	s.PutNotes = append(s.PutNotes, body.Comments)
	p.Rules[v.PropertyVersion] = body.Rules
	v.Note = body.Comments
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) listGroups(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{
		"accountId":   "1-ACCT",
		"accountName": s.AccountName,
		"groups":      map[string]any{"items": s.Groups},
	})
}

func (s *Server) switchKeys(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.NoSwitchCtx {
		writeJSON(w, http.StatusForbidden, map[string]string{"type": "ERROR_NO_SWITCH_CONTEXT", "title": "no switch context"})
		return
	}
	out := []map[string]string{}
	for key, name := range s.SwitchKeys {
		out = append(out, map[string]string{"accountSwitchKey": key, "accountName": name})
	}
	writeJSON(w, http.StatusOK, out)
}
