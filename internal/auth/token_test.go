package auth

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueAndParse(t *testing.T) {
	tokens := NewTokens("secret", time.Hour)
	id := uuid.New()

	raw, exp, err := tokens.Issue(id)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), exp, 5*time.Second)

	got, err := tokens.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, id, got)
}

func TestParseRejectsWrongSecret(t *testing.T) {
	raw, _, err := NewTokens("one", time.Hour).Issue(uuid.New())
	require.NoError(t, err)

	_, err = NewTokens("two", time.Hour).Parse(raw)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestParseRejectsExpired(t *testing.T) {
	tokens := NewTokens("secret", time.Minute)
	tokens.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	raw, _, err := tokens.Issue(uuid.New())
	require.NoError(t, err)

	tokens.now = time.Now
	_, err = tokens.Parse(raw)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestParseRejectsGarbage(t *testing.T) {
	_, err := NewTokens("secret", 0).Parse("not-a-token")
	assert.ErrorIs(t, err, ErrInvalidToken)
}
