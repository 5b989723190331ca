package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"clientdesk.org/internal/account"
	"clientdesk.org/internal/auth"
	"clientdesk.org/internal/authz"
	"clientdesk.org/internal/obs"
)

type checkRequest struct {
	Operation       string         `json:"operation"`
	OwnerID         string         `json:"owner_id"`
	DeletedAt       *time.Time     `json:"deleted_at"`
	Changes         map[string]any `json:"changes"`
	ProposedOwnerID string         `json:"proposed_owner_id"`
	NewRole         string         `json:"new_role"`
	ClientOwnerID   string         `json:"client_owner_id"`
	Hidden          bool           `json:"hidden"`
}

type checkResponse struct {
	Resource  string                     `json:"resource"`
	Operation string                     `json:"operation"`
	Granted   bool                       `json:"granted"`
	Privilege authz.Privilege            `json:"privilege"`
	Fields    map[string]authz.Privilege `json:"fields"`
}

// handleAuthzCheck answers whether the caller may perform an operation on a record and which
// fields it may edit there.
func (a *API) handleAuthzCheck(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, _ := auth.ActorFromContext(ctx)
	if a.deps.Verifiers == nil {
		writeError(w, r, http.StatusServiceUnavailable, "authorization unavailable")
		return
	}
	resource := mux.Vars(r)["resource"]
	verifier, ok := a.deps.Verifiers.Verifier(resource)
	if !ok {
		writeError(w, r, http.StatusNotFound, "unknown resource")
		return
	}

	var req checkRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	op := strings.ToLower(strings.TrimSpace(req.Operation))
	own := authz.Ownership{OwnerID: req.OwnerID, DeletedAt: req.DeletedAt}

	var (
		record = authz.RecordAuthorizer(verifier)
		target authz.UserTarget
		users  = a.deps.Verifiers.User
	)
	// Account decisions depend on the stored role of the target, never on a client-supplied one.
	if resource == authz.ResourceUser && op != authz.OpCreate {
		var ok bool
		if target, ok = a.resolveTarget(w, r, req.OwnerID); !ok {
			return
		}
		record = users.ForTarget(target)
	}
	newRole, err := parseOptionalRole(req.NewRole)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	var granted bool
	switch op {
	case authz.OpRead:
		if resource == authz.ResourceNote {
			granted = a.deps.Verifiers.Note.IsGrantedToReadNote(ctx, actor, authz.NoteAccess{
				OwnerID: req.OwnerID, ClientOwnerID: req.ClientOwnerID, Hidden: req.Hidden, DeletedAt: req.DeletedAt,
			})
		} else {
			granted = record.IsGrantedToRead(ctx, actor, own)
		}
	case authz.OpUpdate:
		granted = record.IsGrantedToUpdate(ctx, actor, authz.Changes(req.Changes), own)
	case authz.OpDelete:
		granted = record.IsGrantedToDelete(ctx, actor, own)
	case authz.OpCreate:
		if resource == authz.ResourceUser {
			granted = users.IsGrantedToCreateUser(ctx, actor, newRole)
		} else {
			granted = verifier.IsGrantedToCreate(ctx, actor, req.ProposedOwnerID)
		}
	case authz.OpAssign:
		if resource == authz.ResourceUser {
			granted = users.IsGrantedToAssignRole(ctx, actor, target, newRole)
		} else {
			granted = verifier.IsGrantedToAssign(ctx, actor, req.ProposedOwnerID)
		}
	default:
		writeError(w, r, http.StatusBadRequest, fmt.Sprintf("unknown operation %q", req.Operation))
		return
	}

	if !granted {
		writeError(w, r, http.StatusForbidden, fmt.Sprintf("Not allowed to %s %s.", op, resource))
		return
	}
	det := authz.NewPrivilegeDeterminer(record)
	writeJSON(w, http.StatusOK, checkResponse{
		Resource:  resource,
		Operation: op,
		Granted:   true,
		Privilege: det.RecordPrivilege(ctx, actor, own),
		Fields:    det.FieldPrivileges(ctx, actor, own),
	})
}

// resolveTarget loads the account a user decision is about. It writes the error response
// and reports false when the account cannot be resolved.
func (a *API) resolveTarget(w http.ResponseWriter, r *http.Request, ownerID string) (authz.UserTarget, bool) {
	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		writeError(w, r, http.StatusBadRequest, "owner_id is required for user decisions")
		return authz.UserTarget{}, false
	}
	if a.deps.Roles == nil {
		writeError(w, r, http.StatusServiceUnavailable, "authorization unavailable")
		return authz.UserTarget{}, false
	}
	role, err := a.deps.Roles.FindRole(r.Context(), ownerID)
	switch {
	case errors.Is(err, account.ErrUserNotFound):
		writeError(w, r, http.StatusNotFound, "unknown target user")
		return authz.UserTarget{}, false
	case err != nil:
		obs.FromContext(r.Context()).WithError(err).Error("resolve target user")
		writeError(w, r, http.StatusInternalServerError, "authorization error")
		return authz.UserTarget{}, false
	}
	return authz.UserTarget{ID: ownerID, Role: role}, true
}

func parseOptionalRole(raw string) (authz.Role, error) {
	if strings.TrimSpace(raw) == "" {
		return "", nil
	}
	return authz.ParseRole(raw)
}
