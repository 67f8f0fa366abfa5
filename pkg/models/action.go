package models

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/ekaya-inc/ekaya-dataservices/pkg/apperrors"
)

// Action selects which template of a configuration runs.
type Action string

const (
	ActionQuery  Action = "query"
	ActionInsert Action = "insert"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// IsWrite reports whether the action runs as an update statement.
func (a Action) IsWrite() bool {
	return a == ActionInsert || a == ActionUpdate || a == ActionDelete
}

// ParseAction maps a case-insensitive action name to an Action.
func ParseAction(s string) (Action, error) {
	switch Action(strings.ToLower(strings.TrimSpace(s))) {
	case ActionQuery:
		return ActionQuery, nil
	case ActionInsert:
		return ActionInsert, nil
	case ActionUpdate:
		return ActionUpdate, nil
	case ActionDelete:
		return ActionDelete, nil
	}
	return "", fmt.Errorf("%w: [%s]", apperrors.ErrUnknownAction, s)
}

// ActionParam is the request parameter that overrides the method's default action.
const ActionParam = "$action"

// DefaultAction returns the action an HTTP method runs when none is requested.
func DefaultAction(method string) Action {
	switch strings.ToUpper(method) {
	case http.MethodPost:
		return ActionInsert
	case http.MethodPut:
		return ActionUpdate
	case http.MethodDelete:
		return ActionDelete
	default:
		return ActionQuery
	}
}

// ResolveAction picks the action for an HTTP method and an optionally
// requested action. DELETE only ever deletes, PUT only inserts or updates,
// and a requested action that is not recognised falls back to query.
func ResolveAction(method, requested string) Action {
	def := DefaultAction(method)
	if def == ActionDelete {
		return ActionDelete
	}

	name := strings.TrimSpace(requested)
	if name == "" {
		name = string(def)
	}

	action, err := ParseAction(name)
	if err != nil {
		return ActionQuery
	}
	if def == ActionUpdate && (action == ActionDelete || action == ActionQuery) {
		return ActionUpdate
	}
	return action
}
