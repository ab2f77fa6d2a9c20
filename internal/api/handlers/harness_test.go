package handlers_test

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/veilchat/relay/internal/api"
	"github.com/veilchat/relay/internal/api/auth"
	"github.com/veilchat/relay/internal/registry"
	"github.com/veilchat/relay/internal/ws"
	"github.com/veilchat/relay/pkg/relay/store"
)

const testSecret = "test-secret-key-that-is-at-least-32-characters-long"

// testAPI bundles everything a handler test needs.
type testAPI struct {
	store    *store.GORMStore
	jwt      *auth.JWTService
	registry *registry.Registry
	router   http.Handler
}

// newTestAPI wires a fresh in-memory store into the real router, with
// the file endpoints disabled.
func newTestAPI(t *testing.T) *testAPI {
	t.Helper()

	s, err := store.New(&store.Config{
		Type:   store.DatabaseTypeSQLite,
		SQLite: store.SQLiteConfig{Path: ":memory:"},
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	jwtService, err := auth.NewJWTService(auth.JWTConfig{Secret: testSecret})
	if err != nil {
		t.Fatalf("failed to create JWT service: %v", err)
	}

	reg := registry.New()
	gateway := ws.NewGateway(jwtService, s, reg)
	router := api.NewRouter(jwtService, s, gateway, nil)

	return &testAPI{store: s, jwt: jwtService, registry: reg, router: router}
}

// do performs one request against the router.
func (a *testAPI) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	return rec
}

// decodeData unmarshals the "data" field of a wrapped response into out.
func decodeData(t *testing.T, rec *httptest.ResponseRecorder, out any) {
	t.Helper()

	var wrapper struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
		Error   string          `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &wrapper); err != nil {
		t.Fatalf("failed to decode response %q: %v", rec.Body.String(), err)
	}
	if !wrapper.Success {
		t.Fatalf("expected success response, got error %q", wrapper.Error)
	}
	if out != nil {
		if err := json.Unmarshal(wrapper.Data, out); err != nil {
			t.Fatalf("failed to decode data: %v", err)
		}
	}
}

// testAccount is a registered user with its private identity key.
type testAccount struct {
	ID       string
	Username string
	priv     ed25519.PrivateKey
}

// register creates a user through the API with a fresh Ed25519 identity.
func (a *testAPI) register(t *testing.T, username string) *testAccount {
	t.Helper()

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("key generation failed: %v", err)
	}

	rec := a.do(t, http.MethodPost, "/api/users/register", "", map[string]any{
		"username":            username,
		"identity_public_key": base64.StdEncoding.EncodeToString(pub),
		"registration_id":     1234,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("register %s: status = %d, body %s", username, rec.Code, rec.Body.String())
	}

	var user struct {
		ID string `json:"id"`
	}
	decodeData(t, rec, &user)

	return &testAccount{ID: user.ID, Username: username, priv: priv}
}

// login runs the full challenge-response flow for the account and
// returns the session token.
func (a *testAPI) login(t *testing.T, account *testAccount, deviceID string) string {
	t.Helper()

	rec := a.do(t, http.MethodPost, "/api/auth/challenge", "", map[string]any{
		"username": account.Username,
		"deviceId": deviceID,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("challenge: status = %d, body %s", rec.Code, rec.Body.String())
	}
	var challenge struct {
		Nonce string `json:"nonce"`
	}
	decodeData(t, rec, &challenge)

	signature := ed25519.Sign(account.priv, []byte(challenge.Nonce))
	rec = a.do(t, http.MethodPost, "/api/auth/verify", "", map[string]any{
		"username":  account.Username,
		"signature": base64.StdEncoding.EncodeToString(signature),
		"deviceId":  deviceID,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("verify: status = %d, body %s", rec.Code, rec.Body.String())
	}
	var verified struct {
		Token string `json:"token"`
	}
	decodeData(t, rec, &verified)

	if verified.Token == "" {
		t.Fatal("verify returned empty token")
	}
	return verified.Token
}

// uploadSignedPreKey uploads a signed pre-key for the account.
func (a *testAPI) uploadSignedPreKey(t *testing.T, token string, keyID uint32) {
	t.Helper()

	rec := a.do(t, http.MethodPost, "/api/keys/signed-pre-key", token, map[string]any{
		"key_id":     keyID,
		"public_key": base64.StdEncoding.EncodeToString([]byte("signed-pre-key-public")),
		"signature":  base64.StdEncoding.EncodeToString([]byte("signed-pre-key-signature")),
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("signed pre-key upload: status = %d, body %s", rec.Code, rec.Body.String())
	}
}

// uploadOneTimeKeys uploads n one-time pre-keys starting at keyID 1.
func (a *testAPI) uploadOneTimeKeys(t *testing.T, token string, n int) {
	t.Helper()

	keys := make([]map[string]any, n)
	for i := 0; i < n; i++ {
		keys[i] = map[string]any{
			"key_id":     i + 1,
			"public_key": base64.StdEncoding.EncodeToString([]byte(fmt.Sprintf("one-time-key-%d", i+1))),
		}
	}

	rec := a.do(t, http.MethodPost, "/api/keys/one-time-pre-keys", token, map[string]any{"keys": keys})
	if rec.Code != http.StatusOK {
		t.Fatalf("one-time key upload: status = %d, body %s", rec.Code, rec.Body.String())
	}
}
