package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"medsales/internal/auth"
	"medsales/internal/authz"
	"medsales/internal/model"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	gorillaws "github.com/gorilla/websocket"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubAuthorizer struct {
	allowed bool
	got     authz.Request
}

func (s *stubAuthorizer) Authorize(_ context.Context, req authz.Request, _ authz.AttributeCheck) (authz.Decision, error) {
	s.got = req
	return authz.Decision{Allowed: s.allowed}, nil
}

// anyoneActive treats every id as an active user except those listed as disabled.
type anyoneActive struct {
	disabled map[uuid.UUID]bool
}

func (a anyoneActive) GetByID(_ context.Context, id uuid.UUID) (*model.User, error) {
	return &model.User{ID: id, IsActive: !a.disabled[id]}, nil
}

func startHub(t *testing.T, a authz.Authorizer, users auth.UserLookup) (*Hub, *auth.Tokens, string) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log, _ := test.NewNullLogger()
	hub := NewHub(log)
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = hub.Run(ctx) }()
	t.Cleanup(cancel)

	tokens := auth.NewTokens("ws-secret", time.Hour)
	r := gin.New()
	r.GET("/ws", ServeWs(hub, auth.NewVerifier(tokens, users), a))
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return hub, tokens, "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func TestServeWsRejects(t *testing.T) {
	a := &stubAuthorizer{}
	disabled := uuid.New()
	_, tokens, url := startHub(t, a, anyoneActive{disabled: map[uuid.UUID]bool{disabled: true}})
	user := uuid.New()
	token, _, err := tokens.Issue(user)
	require.NoError(t, err)
	disabledToken, _, err := tokens.Issue(disabled)
	require.NoError(t, err)

	_, resp, err := gorillaws.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	_, resp, err = gorillaws.DefaultDialer.Dial(url+"?token=garbage", nil)
	require.Error(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	_, resp, err = gorillaws.DefaultDialer.Dial(url+"?token="+disabledToken, nil)
	require.Error(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, uuid.Nil, a.got.UserID)

	_, resp, err = gorillaws.DefaultDialer.Dial(url+"?token="+token+"&tenant=clinic-a", nil)
	require.Error(t, err)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, user, a.got.UserID)
	assert.Equal(t, "clinic-a", a.got.Tenant)
	assert.Equal(t, "inventory", a.got.Resource)
}

func TestPublishReachesClients(t *testing.T) {
	hub, tokens, url := startHub(t, &stubAuthorizer{allowed: true}, anyoneActive{})
	token, _, err := tokens.Issue(uuid.New())
	require.NoError(t, err)

	conn, _, err := gorillaws.DefaultDialer.Dial(url+"?token="+token, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return hub.Connected() == 1 }, time.Second, 10*time.Millisecond)

	hub.Publish("inventory_updated", map[string]int{"quantity": 7})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)

	var msg struct {
		Event string         `json:"event"`
		Data  map[string]int `json:"data"`
	}
	require.NoError(t, json.Unmarshal(raw, &msg))
	assert.Equal(t, "inventory_updated", msg.Event)
	assert.Equal(t, 7, msg.Data["quantity"])

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return hub.Connected() == 0 }, time.Second, 10*time.Millisecond)
}
