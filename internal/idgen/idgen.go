// Package idgen mints node IDs for callers that do not bring their own.
package idgen

import (
	"fmt"

	nanoid "github.com/matoous/go-nanoid/v2"

	"github.com/alfredjeanlab/depgraph/internal/model"
)

const (
	TicketPrefix = "tk-"
	TaskPrefix   = "ts-"
)

const (
	alphabet = "0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"
	size     = 10
)

var prefixes = map[model.Scope]string{
	model.ScopeTicket: TicketPrefix,
	model.ScopeTask:   TaskPrefix,
}

// ForScope returns a fresh ID such as "tk-3fKq9XbZ0a". The prefix tells
// tickets and tasks apart at a glance; uniqueness is still checked by the
// store.
func ForScope(scope model.Scope) (string, error) {
	prefix, ok := prefixes[scope]
	if !ok {
		return "", fmt.Errorf("no id prefix for scope %q: %w", scope, model.ErrInvalidArgument)
	}
	suffix, err := nanoid.Generate(alphabet, size)
	if err != nil {
		return "", fmt.Errorf("generating %s id: %w", scope, err)
	}
	return prefix + suffix, nil
}
