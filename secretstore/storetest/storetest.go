// Package storetest provides an in-process fake secrets store for tests.
//
// The fake speaks the subset of the store HTTP API this system uses over
// a real httptest listener, so client behavior (status handling, error
// classification, retries) is exercised end to end without an external
// store binary. It is deliberately faithful where the orchestration
// protocol depends on server behavior:
//
//   - a real Shamir seal engine: initialization splits a random master
//     key with vault's shamir package, and unsealing recombines submitted
//     shares and verifies the result
//   - KV v2 semantics: versioned entries, check-and-set, 404 on absent
//     paths
//   - ACL enforcement: uploaded HCL policies are compiled and evaluated
//     per request, so least-privilege tests observe real denials
//   - a certificate-issuing PKI fake: root and intermediate CA material
//     is generated and leaf issuance enforces role common-name
//     constraints, serials, TTL capping and revocation
//
// Failure injection hooks (FailNextKVReads, Seal) cover the retry paths.
package storetest

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/hashicorp/vault/shamir"
)

const storeVersion = "1.19.0"

// Store is a fake secrets store backed by an httptest server.
type Store struct {
	srv *httptest.Server

	mu sync.Mutex

	initialized bool
	sealed      bool
	threshold   int
	totalShares int
	masterKey   []byte
	unsealParts map[string][]byte

	mounts   map[string]*mountRecord
	auths    map[string]string
	policies map[string]*policyRecord
	tokens   map[string]*tokenRecord

	kv          map[string][]*kvVersion
	failKVReads int
	kvReadCount int

	pki *pkiState

	approleRoles map[string]*approleRole
	secretIDs    map[string]map[string]bool
	loginCount   int

	clusterID string
}

type mountRecord struct {
	Type        string
	Options     map[string]string
	MaxLeaseTTL time.Duration
}

type kvVersion struct {
	data    map[string]interface{}
	created time.Time
}

type approleRole struct {
	roleID      string
	policies    []string
	tokenTTL    time.Duration
	tokenMaxTTL time.Duration
}

// New starts a fake store and registers its shutdown with the test.
func New(t *testing.T) *Store {
	t.Helper()

	s := &Store{
		sealed:       true,
		unsealParts:  map[string][]byte{},
		mounts:       map[string]*mountRecord{},
		auths:        map[string]string{},
		policies:     map[string]*policyRecord{},
		tokens:       map[string]*tokenRecord{},
		kv:           map[string][]*kvVersion{},
		pki:          newPKIState(),
		approleRoles: map[string]*approleRole{},
		secretIDs:    map[string]map[string]bool{},
		clusterID:    uuid.NewString(),
	}
	s.srv = httptest.NewServer(s.router())
	t.Cleanup(s.Close)
	return s
}

// URL returns the store's base URL.
func (s *Store) URL() string {
	return s.srv.URL
}

// Close shuts the listener down.
func (s *Store) Close() {
	s.srv.Close()
}

// Seal re-seals an unsealed store, e.g. to simulate a restart.
func (s *Store) Seal() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.initialized {
		s.sealed = true
		s.unsealParts = map[string][]byte{}
	}
}

// FailNextKVReads makes the next n KV reads fail with a 500 response.
func (s *Store) FailNextKVReads(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failKVReads = n
}

// KVReadCount returns how many KV read requests the store has received,
// including injected failures.
func (s *Store) KVReadCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.kvReadCount
}

// LoginCount returns how many login requests the store has received.
func (s *Store) LoginCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loginCount
}

func (s *Store) router() http.Handler {
	r := chi.NewRouter()
	r.Route("/v1", func(r chi.Router) {
		// Seal lifecycle, available in every state
		r.Get("/sys/health", s.handleHealth)
		r.Get("/sys/seal-status", s.handleSealStatus)
		putpost(r, "/sys/init", s.handleInit)
		putpost(r, "/sys/unseal", s.handleUnseal)

		// Unauthenticated once unsealed
		r.Group(func(r chi.Router) {
			r.Use(s.requireUnsealed)
			putpost(r, "/auth/approle/login", s.handleLogin)
			r.Get("/pki/cert/ca", s.handleCertCA("pki"))
			r.Get("/pki_int/cert/ca", s.handleCertCA("pki_int"))
			r.Get("/pki_int/cert/ca_chain", s.handleCertChain)
			r.Get("/pki_int/cert/{serial}", s.handleCertBySerial)
		})

		// Token-gated, ACL-checked
		r.Group(func(r chi.Router) {
			r.Use(s.requireUnsealed, s.requireACL)

			r.Get("/sys/mounts", s.handleListMounts)
			r.Post("/sys/mounts/{mount}", s.handleMount)
			r.Get("/sys/auth", s.handleListAuth)
			r.Post("/sys/auth/{mount}", s.handleEnableAuth)
			putpost(r, "/sys/policies/acl/{name}", s.handlePutPolicy)
			r.Get("/sys/policies/acl/{name}", s.handleGetPolicy)

			r.Get("/secret/data/{service}", s.handleKVGet)
			putpost(r, "/secret/data/{service}", s.handleKVPut)

			putpost(r, "/pki/root/generate/internal", s.handleRootGenerate)
			putpost(r, "/pki/root/sign-intermediate", s.handleSignIntermediate)
			putpost(r, "/pki_int/intermediate/generate/internal", s.handleIntermediateGenerate)
			putpost(r, "/pki_int/intermediate/set-signed", s.handleSetSignedIntermediate)
			putpost(r, "/pki_int/roles/{service}", s.handlePKIRole)
			putpost(r, "/pki_int/issue/{service}", s.handleIssue)
			putpost(r, "/pki_int/revoke", s.handleRevoke)

			putpost(r, "/auth/approle/role/{service}", s.handleAppRoleWrite)
			r.Get("/auth/approle/role/{service}/role-id", s.handleRoleID)
			putpost(r, "/auth/approle/role/{service}/secret-id", s.handleSecretID)
		})
	})
	return r
}

func putpost(r chi.Router, pattern string, h http.HandlerFunc) {
	r.Put(pattern, h)
	r.Post(pattern, h)
}

// requireUnsealed rejects requests while the store is sealed or
// uninitialized, the way a real store gates its logical backends.
func (s *Store) requireUnsealed(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		blocked := !s.initialized || s.sealed
		s.mu.Unlock()
		if blocked {
			respondError(w, http.StatusServiceUnavailable, "Vault is sealed")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// --- seal lifecycle handlers ---

func (s *Store) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	code := queryCode(r, "activecode", http.StatusOK)
	switch {
	case !s.initialized:
		code = queryCode(r, "uninitcode", http.StatusNotImplemented)
	case s.sealed:
		code = queryCode(r, "sealedcode", http.StatusServiceUnavailable)
	}

	writeJSON(w, code, map[string]interface{}{
		"initialized":                  s.initialized,
		"sealed":                       s.sealed,
		"standby":                      false,
		"performance_standby":          false,
		"replication_performance_mode": "disabled",
		"replication_dr_mode":          "disabled",
		"server_time_utc":              time.Now().Unix(),
		"version":                      storeVersion,
		"cluster_name":                 "storetest",
		"cluster_id":                   s.clusterID,
	})
}

func (s *Store) handleSealStatus(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	writeJSON(w, http.StatusOK, s.sealStatusBody())
}

// sealStatusBody must be called with the lock held.
func (s *Store) sealStatusBody() map[string]interface{} {
	return map[string]interface{}{
		"type":        "shamir",
		"initialized": s.initialized,
		"sealed":      s.sealed,
		"t":           s.threshold,
		"n":           s.totalShares,
		"progress":    len(s.unsealParts),
		"nonce":       "",
		"version":     storeVersion,
	}
}

func (s *Store) handleInit(w http.ResponseWriter, r *http.Request) {
	body, err := decodeBody(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	shares := intField(body, "secret_shares")
	threshold := intField(body, "secret_threshold")

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.initialized {
		respondError(w, http.StatusBadRequest, "Vault is already initialized")
		return
	}
	if shares < 1 || threshold < 1 || threshold > shares {
		respondError(w, http.StatusBadRequest, fmt.Sprintf("invalid seal configuration: shares %d threshold %d", shares, threshold))
		return
	}

	master := randomBytes(32)

	var parts [][]byte
	if shares == 1 && threshold == 1 {
		// A single share is the master key itself, no splitting involved
		parts = [][]byte{master}
	} else {
		parts, err = shamir.Split(master, shares, threshold)
		if err != nil {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	rootToken := newToken()
	s.initialized = true
	s.sealed = true
	s.masterKey = master
	s.threshold = threshold
	s.totalShares = shares
	s.unsealParts = map[string][]byte{}
	s.tokens[rootToken] = &tokenRecord{root: true}

	keysHex := make([]string, len(parts))
	keysB64 := make([]string, len(parts))
	for i, p := range parts {
		keysHex[i] = fmt.Sprintf("%x", p)
		keysB64[i] = base64.StdEncoding.EncodeToString(p)
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"keys":        keysHex,
		"keys_base64": keysB64,
		"root_token":  rootToken,
	})
}

func (s *Store) handleUnseal(w http.ResponseWriter, r *http.Request) {
	body, err := decodeBody(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		respondError(w, http.StatusBadRequest, "Vault is not initialized")
		return
	}

	if reset, _ := body["reset"].(bool); reset {
		s.unsealParts = map[string][]byte{}
		writeJSON(w, http.StatusOK, s.sealStatusBody())
		return
	}

	if !s.sealed {
		writeJSON(w, http.StatusOK, s.sealStatusBody())
		return
	}

	keyStr, _ := body["key"].(string)
	share, err := base64.StdEncoding.DecodeString(keyStr)
	if err != nil {
		respondError(w, http.StatusBadRequest, "'key' must be a valid base64 string")
		return
	}

	// Resubmitting an already-counted share does not advance progress
	s.unsealParts[string(share)] = share

	if len(s.unsealParts) < s.threshold {
		writeJSON(w, http.StatusOK, s.sealStatusBody())
		return
	}

	candidate, err := s.combineParts()
	s.unsealParts = map[string][]byte{}
	if err != nil || !bytesEqual(candidate, s.masterKey) {
		respondError(w, http.StatusBadRequest, "unseal failed, invalid key")
		return
	}

	s.sealed = false
	writeJSON(w, http.StatusOK, s.sealStatusBody())
}

// combineParts must be called with the lock held.
func (s *Store) combineParts() ([]byte, error) {
	parts := make([][]byte, 0, len(s.unsealParts))
	for _, p := range s.unsealParts {
		parts = append(parts, p)
	}
	if s.threshold == 1 && s.totalShares == 1 {
		return parts[0], nil
	}
	return shamir.Combine(parts)
}

// --- mount and policy handlers ---

func (s *Store) handleListMounts(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data := map[string]interface{}{}
	for path, m := range s.mounts {
		data[path] = map[string]interface{}{
			"type":    m.Type,
			"options": m.Options,
			"config": map[string]interface{}{
				"max_lease_ttl": int(m.MaxLeaseTTL.Seconds()),
			},
		}
	}
	respondData(w, data)
}

func (s *Store) handleMount(w http.ResponseWriter, r *http.Request) {
	mount := chi.URLParam(r, "mount")
	body, err := decodeBody(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.mounts[mount+"/"]; ok {
		respondError(w, http.StatusBadRequest, fmt.Sprintf("path is already in use at %s/", mount))
		return
	}

	rec := &mountRecord{
		Type:    stringIn(body, "type"),
		Options: map[string]string{},
	}
	if opts, ok := body["options"].(map[string]interface{}); ok {
		for k, v := range opts {
			if sv, ok := v.(string); ok {
				rec.Options[k] = sv
			}
		}
	}
	if cfg, ok := body["config"].(map[string]interface{}); ok {
		rec.MaxLeaseTTL = parseTTL(cfg["max_lease_ttl"], 0)
	}

	s.mounts[mount+"/"] = rec
	w.WriteHeader(http.StatusNoContent)
}

func (s *Store) handleListAuth(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data := map[string]interface{}{
		"token/": map[string]interface{}{"type": "token"},
	}
	for path, authType := range s.auths {
		data[path] = map[string]interface{}{"type": authType}
	}
	respondData(w, data)
}

func (s *Store) handleEnableAuth(w http.ResponseWriter, r *http.Request) {
	mount := chi.URLParam(r, "mount")
	body, err := decodeBody(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.auths[mount+"/"]; ok {
		respondError(w, http.StatusBadRequest, fmt.Sprintf("path is already in use at %s/", mount))
		return
	}
	s.auths[mount+"/"] = stringIn(body, "type")
	w.WriteHeader(http.StatusNoContent)
}

func (s *Store) handlePutPolicy(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	body, err := decodeBody(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.policies[name] = compilePolicy(stringIn(body, "policy"))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Store) handleGetPolicy(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	s.mu.Lock()
	defer s.mu.Unlock()

	pol, ok := s.policies[name]
	if !ok {
		respondNotFound(w)
		return
	}
	respondData(w, map[string]interface{}{"name": name, "policy": pol.raw})
}

// --- KV v2 handlers ---

func (s *Store) handleKVGet(w http.ResponseWriter, r *http.Request) {
	service := chi.URLParam(r, "service")

	s.mu.Lock()
	defer s.mu.Unlock()

	s.kvReadCount++
	if s.failKVReads > 0 {
		s.failKVReads--
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}

	if _, ok := s.mounts["secret/"]; !ok {
		respondNotFound(w)
		return
	}

	versions := s.kv[service]
	if len(versions) == 0 {
		respondNotFound(w)
		return
	}

	latest := versions[len(versions)-1]
	respondData(w, map[string]interface{}{
		"data": latest.data,
		"metadata": map[string]interface{}{
			"version":       len(versions),
			"created_time":  latest.created.UTC().Format(time.RFC3339),
			"deletion_time": "",
			"destroyed":     false,
		},
	})
}

func (s *Store) handleKVPut(w http.ResponseWriter, r *http.Request) {
	service := chi.URLParam(r, "service")
	body, err := decodeBody(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.mounts["secret/"]; !ok {
		respondError(w, http.StatusBadRequest, "no secrets engine mounted at secret/")
		return
	}

	data, ok := body["data"].(map[string]interface{})
	if !ok {
		respondError(w, http.StatusBadRequest, "no data provided")
		return
	}

	current := len(s.kv[service])
	if opts, ok := body["options"].(map[string]interface{}); ok {
		if casRaw, present := opts["cas"]; present {
			if cas := intFromValue(casRaw); cas != current {
				respondError(w, http.StatusBadRequest, "check-and-set parameter did not match the current version")
				return
			}
		}
	}

	now := time.Now()
	s.kv[service] = append(s.kv[service], &kvVersion{data: data, created: now})
	respondData(w, map[string]interface{}{
		"version":       current + 1,
		"created_time":  now.UTC().Format(time.RFC3339),
		"deletion_time": "",
		"destroyed":     false,
	})
}

// --- shared helpers ---

func queryCode(r *http.Request, param string, def int) int {
	v := r.URL.Query().Get(param)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func decodeBody(r *http.Request) (map[string]interface{}, error) {
	body := map[string]interface{}{}
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	if err := dec.Decode(&body); err != nil && err != io.EOF {
		return nil, fmt.Errorf("could not decode request body: %v", err)
	}
	return body, nil
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func respondData(w http.ResponseWriter, data map[string]interface{}) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"request_id": uuid.NewString(),
		"data":       data,
	})
}

func respondError(w http.ResponseWriter, code int, messages ...string) {
	if messages == nil {
		messages = []string{}
	}
	writeJSON(w, code, map[string]interface{}{"errors": messages})
}

func respondNotFound(w http.ResponseWriter) {
	respondError(w, http.StatusNotFound)
}

func stringIn(body map[string]interface{}, key string) string {
	s, _ := body[key].(string)
	return s
}

func intField(body map[string]interface{}, key string) int {
	return intFromValue(body[key])
}

func intFromValue(v interface{}) int {
	switch n := v.(type) {
	case json.Number:
		i, _ := n.Int64()
		return int(i)
	case float64:
		return int(n)
	case int:
		return n
	default:
		return 0
	}
}

func parseTTL(v interface{}, def time.Duration) time.Duration {
	switch t := v.(type) {
	case string:
		if t == "" {
			return def
		}
		if d, err := time.ParseDuration(t); err == nil {
			return d
		}
		if n, err := strconv.Atoi(t); err == nil {
			return time.Duration(n) * time.Second
		}
		return def
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return time.Duration(n) * time.Second
		}
		return def
	case float64:
		return time.Duration(int64(t)) * time.Second
	default:
		return def
	}
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	var diff byte
	for i := range a {
		diff |= a[i] ^ b[i]
	}
	return diff == 0
}

func newToken() string {
	return "hvs." + strings.ReplaceAll(uuid.NewString(), "-", "")
}
