package models

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusForError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"not found", NewNotFoundError("Space", "abc"), http.StatusNotFound},
		{"permission", NewPermissionError("nope"), http.StatusForbidden},
		{"blocked", NewBlockedUserError(), http.StatusForbidden},
		{"duplicate", NewDuplicateNameError("Sports"), http.StatusConflict},
		{"validation", NewValidationError("bad"), http.StatusBadRequest},
		{"transient", NewTransientStoreError(errors.New("conflict")), http.StatusServiceUnavailable},
		{"wrapped", fmt.Errorf("join: %w", NewNotFoundError("Space", "x")), http.StatusNotFound},
		{"plain", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, StatusForError(tt.err))
		})
	}
}

func TestHasCodeAndIs(t *testing.T) {
	err := fmt.Errorf("send: %w", NewBlockedUserError())

	assert.True(t, HasCode(err, CodeUserBlocked))
	assert.False(t, HasCode(err, CodeNotFound))
	assert.True(t, errors.Is(err, &AppError{Code: CodeUserBlocked}))
	assert.False(t, errors.Is(err, &AppError{Code: CodeDuplicateName}))
}

func TestBlockedAt(t *testing.T) {
	assert.False(t, BlockedAt(2, 3))
	assert.True(t, BlockedAt(3, 3))
	assert.True(t, BlockedAt(4, 3))
	assert.True(t, BlockedAt(3, 0), "non-positive threshold falls back to the default")
}

func TestDisplayName(t *testing.T) {
	u := &User{Email: "ana@example.com", FirstName: " Ana ", LastName: "Lima"}
	assert.Equal(t, "Ana Lima", u.DisplayName())

	u = &User{Email: "x@example.com"}
	assert.Equal(t, "x@example.com", u.DisplayName())
}
