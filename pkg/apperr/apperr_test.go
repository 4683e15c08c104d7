package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindMatching(t *testing.T) {
	err := fmt.Errorf("loading role: %w", NotFound("Role not found with id of %s", "r1"))

	assert.True(t, errors.Is(err, ErrNotFound))
	assert.False(t, errors.Is(err, ErrConflict))
	assert.Equal(t, KindNotFound, KindOf(err))
	assert.Equal(t, "Role not found with id of r1", PublicMessage(err))
}

func TestHTTPStatus(t *testing.T) {
	cases := map[error]int{
		NotFound("x"):                         http.StatusNotFound,
		Validation("x"):                       http.StatusBadRequest,
		Forbidden("x"):                        http.StatusForbidden,
		Conflict("x"):                         http.StatusConflict,
		Unauthorized("x"):                     http.StatusUnauthorized,
		InsufficientInventory("x"):            http.StatusBadRequest,
		NoAvailableInventory("x"):             http.StatusBadRequest,
		Infrastructure(errors.New("db"), "x"): http.StatusInternalServerError,
		errors.New("plain"):                   http.StatusInternalServerError,
	}
	for err, want := range cases {
		assert.Equal(t, want, HTTPStatus(err), err.Error())
	}
}

func TestInfrastructureHidesCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := Infrastructure(cause, "failed to load assignments")

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "connection refused")
	assert.Equal(t, "Internal server error", PublicMessage(err))
}
