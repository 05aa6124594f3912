package auth

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ezhao/courtqueue/internal/ratelimit"
	"github.com/ezhao/courtqueue/internal/testutil"
)

func TestHandleIssueToken(t *testing.T) {
	database := testutil.NewTestDB(t)
	tokens, err := NewTokenManager("test-secret", time.Hour)
	if err != nil {
		t.Fatalf("create token manager: %v", err)
	}
	limiter := ratelimit.New(&ratelimit.Config{Cooldown: 0, MaxPerHour: 2})
	InitHandlers(database, tokens, limiter, false)

	issue := func(remoteAddr, body string) *httptest.ResponseRecorder {
		r := httptest.NewRequest(http.MethodPost, "/api/v1/auth/token", strings.NewReader(body))
		r.RemoteAddr = remoteAddr
		w := httptest.NewRecorder()
		HandleIssueToken(w, r)
		return w
	}

	t.Run("issues token and registers user", func(t *testing.T) {
		w := issue("192.0.2.1:1111", `{"name":"Alice","email":"Alice@Example.com"}`)
		if w.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
		}

		var resp struct {
			Token string `json:"token"`
			User  struct {
				ID    int64  `json:"id"`
				Email string `json:"email"`
			} `json:"user"`
		}
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode response: %v", err)
		}
		if resp.Token == "" {
			t.Error("empty token in response")
		}
		if resp.User.Email != "alice@example.com" {
			t.Errorf("email = %q, want lowercased alice@example.com", resp.User.Email)
		}

		claims, err := tokens.Parse(resp.Token)
		if err != nil {
			t.Fatalf("parse issued token: %v", err)
		}
		if claims.UserID != resp.User.ID {
			t.Errorf("token user id = %d, want %d", claims.UserID, resp.User.ID)
		}

		// Same email maps back to the same user.
		w = issue("192.0.2.2:1111", `{"name":"Alice Again","email":"alice@example.com"}`)
		if w.Code != http.StatusOK {
			t.Fatalf("second issue status = %d, want 200", w.Code)
		}
		var second struct {
			User struct {
				ID int64 `json:"id"`
			} `json:"user"`
		}
		if err := json.Unmarshal(w.Body.Bytes(), &second); err != nil {
			t.Fatalf("decode second response: %v", err)
		}
		if second.User.ID != resp.User.ID {
			t.Errorf("second issue user id = %d, want %d", second.User.ID, resp.User.ID)
		}
	})

	t.Run("rejects invalid input", func(t *testing.T) {
		cases := []struct {
			name string
			body string
		}{
			{"missing name", `{"email":"x@example.com"}`},
			{"missing email", `{"name":"Alice"}`},
			{"malformed email", `{"name":"Alice","email":"not-an-email"}`},
			{"unknown field", `{"name":"Alice","email":"x@example.com","admin":true}`},
			{"garbage body", `{{{`},
		}
		// Each case gets its own IP so the rate limiter stays out of the way.
		for i, tc := range cases {
			addr := fmt.Sprintf("192.0.2.%d:1111", 10+i)
			if w := issue(addr, tc.body); w.Code != http.StatusBadRequest {
				t.Errorf("%s: status = %d, want 400", tc.name, w.Code)
			}
		}
	})

	t.Run("rate limits by ip", func(t *testing.T) {
		body := `{"name":"Bob","email":"bob@example.com"}`
		for i := 0; i < 2; i++ {
			if w := issue("192.0.2.4:1111", body); w.Code != http.StatusOK {
				t.Fatalf("request %d status = %d, want 200", i+1, w.Code)
			}
		}
		w := issue("192.0.2.4:1111", body)
		if w.Code != http.StatusTooManyRequests {
			t.Fatalf("status = %d, want 429", w.Code)
		}
		if w.Header().Get("Retry-After") == "" {
			t.Error("missing Retry-After header")
		}
	})
}
