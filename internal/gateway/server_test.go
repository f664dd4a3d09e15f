package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kestrelai/agentcore/internal/model"
	"github.com/kestrelai/agentcore/internal/pairing"
	"github.com/kestrelai/agentcore/internal/session"
)

func newTestServer(t *testing.T) (*Server, *pairing.Manager) {
	t.Helper()
	sessions := session.New(session.Options{})
	pm := pairing.New()
	return New(Config{Sessions: sessions, Pairing: pm}), pm
}

func TestHandleHealthReportsSessionCount(t *testing.T) {
	t.Parallel()
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	srv.handleHealth(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body["status"] != "ok" {
		t.Fatalf("status field = %v, want ok", body["status"])
	}
	if _, ok := body["pairing"]; !ok {
		t.Fatalf("expected pairing stats in health response")
	}
}

func TestHandlePairExchangesCodeForToken(t *testing.T) {
	t.Parallel()
	srv, pm := newTestServer(t)

	code, err := pm.GenerateCode("laptop")
	if err != nil {
		t.Fatalf("GenerateCode: %v", err)
	}

	payload, _ := json.Marshal(map[string]string{"code": code.Code})
	req := httptest.NewRequest(http.MethodPost, "/pair", bytes.NewReader(payload))
	rec := httptest.NewRecorder()
	srv.handlePair(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d, body = %s", rec.Code, http.StatusOK, rec.Body.String())
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body["token"] == "" || body["token"] == nil {
		t.Fatalf("expected a non-empty token in response")
	}
}

func TestHandlePairRejectsUnknownCode(t *testing.T) {
	t.Parallel()
	srv, _ := newTestServer(t)

	payload, _ := json.Marshal(map[string]string{"code": "ZZZZZZ"})
	req := httptest.NewRequest(http.MethodPost, "/pair", bytes.NewReader(payload))
	rec := httptest.NewRecorder()
	srv.handlePair(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestWithAuthRejectsMissingTokenWhenPairingAttached(t *testing.T) {
	t.Parallel()
	srv, _ := newTestServer(t)

	handler := srv.withAuth(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("handler should not run without a valid token")
	})

	req := httptest.NewRequest(http.MethodGet, "/sessions", nil)
	rec := httptest.NewRecorder()
	handler(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestWithAuthIsOpenWhenNoCredentialSourceAttached(t *testing.T) {
	t.Parallel()
	sessions := session.New(session.Options{})
	srv := New(Config{Sessions: sessions})

	called := false
	handler := srv.withAuth(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/sessions", nil)
	rec := httptest.NewRecorder()
	handler(rec, req)

	if !called {
		t.Fatalf("expected handler to run when no pairing or JWT service is attached")
	}
}

func TestHandleSessionsCollectionCreatesAndListsSessions(t *testing.T) {
	t.Parallel()
	srv, _ := newTestServer(t)

	payload, _ := json.Marshal(map[string]string{"channelId": "c1", "userId": "u1"})
	req := httptest.NewRequest(http.MethodPost, "/sessions", bytes.NewReader(payload))
	rec := httptest.NewRecorder()
	srv.handleSessionsCollection(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d, body = %s", rec.Code, http.StatusCreated, rec.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/sessions", nil)
	rec = httptest.NewRecorder()
	srv.handleSessionsCollection(rec, req)

	var body struct {
		Sessions []sessionSummary `json:"sessions"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(body.Sessions) != 1 {
		t.Fatalf("expected 1 session, got %d", len(body.Sessions))
	}
	if body.Sessions[0].ChannelID != "c1" {
		t.Fatalf("channelId = %q, want %q", body.Sessions[0].ChannelID, "c1")
	}
}

func TestHandleSessionsItemEndsASession(t *testing.T) {
	t.Parallel()
	srv, _ := newTestServer(t)

	sess, err := srv.cfg.Sessions.CreateSession(model.SessionConfig{})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	req := httptest.NewRequest(http.MethodDelete, "/sessions/"+sess.ID, nil)
	rec := httptest.NewRecorder()
	srv.handleSessionsItem(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if _, ok := srv.cfg.Sessions.GetSession(sess.ID); ok {
		t.Fatalf("expected session to be removed after DELETE")
	}
}

func TestHandleSessionsItemReturnsNotFoundForUnknownID(t *testing.T) {
	t.Parallel()
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/sessions/does-not-exist", nil)
	rec := httptest.NewRecorder()
	srv.handleSessionsItem(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestHandleSteerInjectsAMessage(t *testing.T) {
	t.Parallel()
	srv, _ := newTestServer(t)

	sess, err := srv.cfg.Sessions.CreateSession(model.SessionConfig{})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	payload, _ := json.Marshal(map[string]string{"message": "hello"})
	req := httptest.NewRequest(http.MethodPost, "/sessions/"+sess.ID+"/steer", bytes.NewReader(payload))
	rec := httptest.NewRecorder()
	srv.handleSessionsItem(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d, body = %s", rec.Code, http.StatusOK, rec.Body.String())
	}
}

func TestHandleWebhookRequiresAHandler(t *testing.T) {
	t.Parallel()
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/custom", bytes.NewReader([]byte(`{}`)))
	rec := httptest.NewRecorder()
	srv.handleWebhook(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestHandleWebhookInvokesRegisteredHandler(t *testing.T) {
	t.Parallel()
	sessions := session.New(session.Options{})
	var gotName string
	srv := New(Config{
		Sessions: sessions,
		WebhookHandler: func(ctx context.Context, name string, body WebhookBody) error {
			gotName = name
			return nil
		},
	})

	req := httptest.NewRequest(http.MethodPost, "/webhooks/custom", bytes.NewReader([]byte(`{"message":"hi"}`)))
	rec := httptest.NewRecorder()
	srv.handleWebhook(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d, body = %s", rec.Code, http.StatusOK, rec.Body.String())
	}
	if gotName != "custom" {
		t.Fatalf("webhook name = %q, want %q", gotName, "custom")
	}
}
