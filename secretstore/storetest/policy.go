package storetest

import (
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

type tokenRecord struct {
	root     bool
	policies []string
}

type policyRecord struct {
	raw   string
	rules []policyRule
}

type policyRule struct {
	path string
	caps map[string]bool
}

var (
	policyPathRe = regexp.MustCompile(`(?s)path\s+"([^"]+)"\s*\{(.*?)\}`)
	policyCapsRe = regexp.MustCompile(`capabilities\s*=\s*\[([^\]]*)\]`)
)

// compilePolicy extracts path blocks and their capability lists from an
// HCL policy document. Only the subset of the policy language this
// system emits is understood.
func compilePolicy(raw string) *policyRecord {
	rec := &policyRecord{raw: raw}
	for _, m := range policyPathRe.FindAllStringSubmatch(raw, -1) {
		rule := policyRule{path: m[1], caps: map[string]bool{}}
		if capsMatch := policyCapsRe.FindStringSubmatch(m[2]); capsMatch != nil {
			for _, c := range strings.Split(capsMatch[1], ",") {
				c = strings.Trim(strings.TrimSpace(c), `"`)
				if c != "" {
					rule.caps[c] = true
				}
			}
		}
		rec.rules = append(rec.rules, rule)
	}
	return rec
}

func (p *policyRecord) allows(path, capability string) bool {
	for _, rule := range p.rules {
		if !rule.caps[capability] {
			continue
		}
		if rule.path == path {
			return true
		}
		if strings.HasSuffix(rule.path, "*") && strings.HasPrefix(path, strings.TrimSuffix(rule.path, "*")) {
			return true
		}
	}
	return false
}

// requireACL resolves the request token and evaluates its policies
// against the logical path, mirroring store-side ACL checks. Root
// tokens bypass policy evaluation.
func (s *Store) requireACL(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logical := strings.TrimPrefix(r.URL.Path, "/v1/")
		capability := capabilityFor(r.Method)

		s.mu.Lock()
		allowed := s.tokenAllowed(r.Header.Get("X-Vault-Token"), logical, capability)
		s.mu.Unlock()

		if !allowed {
			respondError(w, http.StatusForbidden, "1 error occurred:\n\t* permission denied\n")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// tokenAllowed must be called with the lock held.
func (s *Store) tokenAllowed(token, path, capability string) bool {
	rec, ok := s.tokens[token]
	if !ok {
		return false
	}
	if rec.root {
		return true
	}
	for _, name := range rec.policies {
		pol, ok := s.policies[name]
		if !ok {
			continue
		}
		if pol.allows(path, capability) {
			return true
		}
	}
	return false
}

func capabilityFor(method string) string {
	switch method {
	case http.MethodGet:
		return "read"
	case http.MethodDelete:
		return "delete"
	default:
		return "update"
	}
}

// --- AppRole handlers ---

func (s *Store) handleAppRoleWrite(w http.ResponseWriter, r *http.Request) {
	service := chi.URLParam(r, "service")
	body, err := decodeBody(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.auths["approle/"]; !ok {
		respondError(w, http.StatusBadRequest, "no auth method mounted at approle/")
		return
	}

	role, ok := s.approleRoles[service]
	if !ok {
		role = &approleRole{roleID: uuid.NewString()}
		s.approleRoles[service] = role
	}
	role.policies = splitPolicies(body["token_policies"])
	role.tokenTTL = parseTTL(body["token_ttl"], 0)
	role.tokenMaxTTL = parseTTL(body["token_max_ttl"], 0)
	w.WriteHeader(http.StatusNoContent)
}

func splitPolicies(v interface{}) []string {
	var out []string
	switch t := v.(type) {
	case string:
		for _, p := range strings.Split(t, ",") {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
	case []interface{}:
		for _, e := range t {
			if sv, ok := e.(string); ok && sv != "" {
				out = append(out, sv)
			}
		}
	}
	return out
}

func (s *Store) handleRoleID(w http.ResponseWriter, r *http.Request) {
	service := chi.URLParam(r, "service")

	s.mu.Lock()
	defer s.mu.Unlock()

	role, ok := s.approleRoles[service]
	if !ok {
		respondNotFound(w)
		return
	}
	respondData(w, map[string]interface{}{"role_id": role.roleID})
}

func (s *Store) handleSecretID(w http.ResponseWriter, r *http.Request) {
	service := chi.URLParam(r, "service")

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.approleRoles[service]; !ok {
		respondError(w, http.StatusBadRequest, fmt.Sprintf("role %q does not exist", service))
		return
	}

	id := uuid.NewString()
	if s.secretIDs[service] == nil {
		s.secretIDs[service] = map[string]bool{}
	}
	s.secretIDs[service][id] = true
	respondData(w, map[string]interface{}{
		"secret_id":          id,
		"secret_id_accessor": uuid.NewString(),
		"secret_id_num_uses": 0,
		"secret_id_ttl":      0,
	})
}

func (s *Store) handleLogin(w http.ResponseWriter, r *http.Request) {
	body, err := decodeBody(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.loginCount++

	roleID := stringIn(body, "role_id")
	secretID := stringIn(body, "secret_id")

	var name string
	var role *approleRole
	for candidate, rec := range s.approleRoles {
		if rec.roleID == roleID {
			name, role = candidate, rec
			break
		}
	}
	if role == nil || !s.secretIDs[name][secretID] {
		respondError(w, http.StatusBadRequest, "invalid role or secret ID")
		return
	}

	token := newToken()
	policies := append([]string{"default"}, role.policies...)
	s.tokens[token] = &tokenRecord{policies: role.policies}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"request_id": uuid.NewString(),
		"auth": map[string]interface{}{
			"client_token":   token,
			"accessor":       uuid.NewString(),
			"policies":       policies,
			"token_policies": policies,
			"lease_duration": int(role.tokenTTL.Seconds()),
			"renewable":      true,
			"metadata":       map[string]interface{}{"role_name": name},
		},
	})
}
