package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestLogin_Success_ReturnsIdentityAndToken(t *testing.T) {
	rl := newRelay(t, nil, nil)
	u := seedUser(t, rl.db, "alice", "secret")

	w := rl.doJSON(http.MethodPost, "/login", "", LoginRequest{Name: "alice", Password: "secret"})
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	var resp LoginResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("json: %v", err)
	}
	if resp.ID != u.ID || resp.Name != "alice" || resp.HasUploaded {
		t.Fatalf("unexpected identity: %+v", resp)
	}
	if resp.Token == "" || !resp.ExpiresAt.After(resp.IssuedAt) {
		t.Fatalf("unexpected session fields: %+v", resp)
	}
}

func TestLogin_Failures(t *testing.T) {
	rl := newRelay(t, nil, nil)
	seedUser(t, rl.db, "alice", "secret")

	cases := []struct {
		name     string
		body     string
		wantCode int
		wantErr  string
	}{
		{"wrong password", `{"name":"alice","password":"wrong"}`, http.StatusUnauthorized, ErrCodeUnauthorized},
		{"unknown user", `{"name":"bob","password":"secret"}`, http.StatusUnauthorized, ErrCodeUnauthorized},
		{"missing password", `{"name":"alice"}`, http.StatusBadRequest, ErrCodeBadRequest},
		{"blank name", `{"name":"  ","password":"secret"}`, http.StatusBadRequest, ErrCodeBadRequest},
		{"invalid json", `{"name":`, http.StatusBadRequest, ErrCodeBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(tc.body))
			req.Header.Set("Content-Type", "application/json")
			w := rl.do(req)
			if w.Code != tc.wantCode {
				t.Fatalf("status=%d want %d body=%s", w.Code, tc.wantCode, w.Body.String())
			}
			if er := decodeError(t, w); er.Code != tc.wantErr {
				t.Fatalf("code=%q want %q", er.Code, tc.wantErr)
			}
		})
	}
}

func TestMe_ReturnsIdentityAndRequiresBearer(t *testing.T) {
	rl := newRelay(t, nil, nil)
	tok, u := rl.login(t, "alice", "secret")

	w := rl.doJSON(http.MethodGet, "/me", tok, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("me status=%d", w.Code)
	}
	var me MeResponse
	if err := json.Unmarshal(w.Body.Bytes(), &me); err != nil {
		t.Fatalf("json: %v", err)
	}
	if me.ID != u.ID || me.Name != "alice" || me.HasUploaded || me.ExpiresAt.IsZero() {
		t.Fatalf("unexpected me: %+v", me)
	}

	w = rl.doJSON(http.MethodGet, "/me", "", nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous me status=%d", w.Code)
	}
	if er := decodeError(t, w); er.Message != "missing bearer token" {
		t.Fatalf("message=%q", er.Message)
	}
}

func TestLogout_RevokesSession(t *testing.T) {
	rl := newRelay(t, nil, nil)
	tok, _ := rl.login(t, "alice", "secret")

	if w := rl.doJSON(http.MethodPost, "/logout", tok, nil); w.Code != http.StatusNoContent {
		t.Fatalf("logout status=%d body=%s", w.Code, w.Body.String())
	}
	w := rl.doJSON(http.MethodGet, "/me", tok, nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("me after logout status=%d", w.Code)
	}
	if er := decodeError(t, w); er.Message != "session invalid or expired" {
		t.Fatalf("message=%q", er.Message)
	}
	if w := rl.doJSON(http.MethodPost, "/logout", tok, nil); w.Code != http.StatusUnauthorized {
		t.Fatalf("second logout status=%d", w.Code)
	}
}
