package server

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hiennguyen9874/api-base-project/internal/services/policy"
)

type changeResult struct {
	Changed bool `json:"changed"`
}

type updatePolicyRequest struct {
	Old policy.Policy `json:"old"`
	New policy.Policy `json:"new"`
}

func validPolicy(p policy.Policy) error {
	if p.Sub == "" || p.Path == "" || p.Method == "" {
		return fmt.Errorf("%w: sub, path and method are required", errBadRequest)
	}
	return nil
}

func validGroup(g policy.Group) error {
	if g.Member == "" || g.Role == "" {
		return fmt.Errorf("%w: member and role are required", errBadRequest)
	}
	return nil
}

// decodePolicies reads a single rule (many == false) or a list of rules.
func decodePolicies(r *http.Request, many bool) ([]policy.Policy, error) {
	var ps []policy.Policy
	if many {
		if err := decodeJSON(r, &ps); err != nil {
			return nil, err
		}
	} else {
		var p policy.Policy
		if err := decodeJSON(r, &p); err != nil {
			return nil, err
		}
		ps = []policy.Policy{p}
	}
	if len(ps) == 0 {
		return nil, fmt.Errorf("%w: no rules given", errBadRequest)
	}
	for _, p := range ps {
		if err := validPolicy(p); err != nil {
			return nil, err
		}
	}
	return ps, nil
}

// HandleListPolicies handles GET /v0/author/policy.
func HandleListPolicies(engine policyAdmin, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ps, err := engine.Policies(r.Context())
		if err != nil {
			writeError(w, r, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, ps)
	}
}

// HandleRolePolicies handles GET /v0/author/policy/{role}/all.
func HandleRolePolicies(engine policyAdmin, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ps, err := engine.PoliciesForRole(r.Context(), chi.URLParam(r, "role"))
		if err != nil {
			writeError(w, r, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, ps)
	}
}

// HandleAddPolicies handles POST /v0/author/policy and /v0/author/policies.
func HandleAddPolicies(engine policyAdmin, many bool, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ps, err := decodePolicies(r, many)
		if err != nil {
			writeError(w, r, logger, err)
			return
		}
		added, err := engine.AddPolicies(r.Context(), ps...)
		if err != nil {
			writeError(w, r, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, changeResult{Changed: added})
	}
}

// HandleUpdatePolicy handles PUT /v0/author/policy.
func HandleUpdatePolicy(engine policyAdmin, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req updatePolicyRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, r, logger, err)
			return
		}
		for _, p := range []policy.Policy{req.Old, req.New} {
			if err := validPolicy(p); err != nil {
				writeError(w, r, logger, err)
				return
			}
		}
		if err := engine.UpdatePolicy(r.Context(), req.Old, req.New); err != nil {
			writeError(w, r, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, changeResult{Changed: req.Old != req.New})
	}
}

// HandleRemovePolicies handles DELETE /v0/author/policy and /v0/author/policies.
func HandleRemovePolicies(engine policyAdmin, many bool, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ps, err := decodePolicies(r, many)
		if err != nil {
			writeError(w, r, logger, err)
			return
		}
		removed, err := engine.RemovePolicies(r.Context(), ps...)
		if err != nil {
			writeError(w, r, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, changeResult{Changed: removed})
	}
}

// HandleListGroups handles GET /v0/author/group.
func HandleListGroups(engine policyAdmin, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		gs, err := engine.Groups(r.Context())
		if err != nil {
			writeError(w, r, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, gs)
	}
}

// HandleAddGroup handles POST /v0/author/group.
func HandleAddGroup(engine policyAdmin, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var g policy.Group
		if err := decodeJSON(r, &g); err != nil {
			writeError(w, r, logger, err)
			return
		}
		if err := validGroup(g); err != nil {
			writeError(w, r, logger, err)
			return
		}
		if err := engine.AssignRole(r.Context(), g.Member, g.Role); err != nil {
			writeError(w, r, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, g)
	}
}

// HandleRemoveGroup handles DELETE /v0/author/group.
func HandleRemoveGroup(engine policyAdmin, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var g policy.Group
		if err := decodeJSON(r, &g); err != nil {
			writeError(w, r, logger, err)
			return
		}
		if err := validGroup(g); err != nil {
			writeError(w, r, logger, err)
			return
		}
		removed, err := engine.RevokeRole(r.Context(), g.Member, g.Role)
		if err != nil {
			writeError(w, r, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, changeResult{Changed: removed})
	}
}

// HandleRolesFor handles GET /v0/author/roles/{email}.
func HandleRolesFor(engine policyAdmin, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		roles, err := engine.RolesFor(r.Context(), chi.URLParam(r, "email"))
		if err != nil {
			writeError(w, r, logger, err)
			return
		}
		if roles == nil {
			roles = []string{}
		}
		writeJSON(w, http.StatusOK, roles)
	}
}
