package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"tradehook/internal/errors"
	"tradehook/internal/models"
)

// igServer fakes the broker API: POST /session issues sequential tokens and
// everything else is routed through the mux.
type igServer struct {
	mux          *http.ServeMux
	server       *httptest.Server
	sessionCalls atomic.Int32
}

func newIGServer(t *testing.T) *igServer {
	t.Helper()
	s := &igServer{mux: http.NewServeMux()}
	s.mux.HandleFunc("POST /session", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-IG-API-KEY") == "" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		n := s.sessionCalls.Add(1)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"accountId": "ACC123",
			"oauthToken": map[string]any{
				"access_token": fmt.Sprintf("tok%d", n),
			},
		})
	})
	s.server = httptest.NewServer(s.mux)
	t.Cleanup(s.server.Close)
	return s
}

func testClient(t *testing.T, baseURL string, cacheTTL time.Duration) *Client {
	t.Helper()
	user := &models.User{
		ID: uuid.New(),
		Settings: models.TradingSettings{
			Mode: models.ModeDemo,
			Demo: models.BrokerCredentials{
				APIKey: "api-key", Username: "ident", Password: "pw", AccountID: "ACC123",
			},
		},
	}
	client, err := NewClientForUser(user, Config{
		DemoBaseURL:       baseURL,
		LiveBaseURL:       baseURL,
		RequestsPerMinute: 60000,
		RequestTimeout:    5 * time.Second,
		ReadCacheTTL:      cacheTTL,
	}, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewClientForUser: %v", err)
	}
	// Fast retries for tests.
	client.retry.InitialDelay = time.Millisecond
	client.retry.MaxDelay = time.Millisecond
	client.auth.retry.InitialDelay = time.Millisecond
	client.auth.retry.MaxDelay = time.Millisecond
	return client
}

func TestClientAttachesSessionHeaders(t *testing.T) {
	s := newIGServer(t)
	var gotVersion, gotAccount, gotAuth string
	s.mux.HandleFunc("GET /positions", func(w http.ResponseWriter, r *http.Request) {
		gotVersion = r.Header.Get("Version")
		gotAccount = r.Header.Get("IG-ACCOUNT-ID")
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewEncoder(w).Encode(map[string]any{"positions": []any{}})
	})

	client := testClient(t, s.server.URL, 0)
	if _, err := client.GetPositions(context.Background()); err != nil {
		t.Fatalf("GetPositions: %v", err)
	}
	if gotVersion != "2" {
		t.Errorf("Version header = %q, want 2", gotVersion)
	}
	if gotAccount != "ACC123" {
		t.Errorf("IG-ACCOUNT-ID = %q", gotAccount)
	}
	if gotAuth != "Bearer tok1" {
		t.Errorf("Authorization = %q, want Bearer tok1", gotAuth)
	}
	if s.sessionCalls.Load() != 1 {
		t.Errorf("session calls = %d, want lazy single open", s.sessionCalls.Load())
	}
}

func TestClientRefreshesTokenOnceOn401(t *testing.T) {
	s := newIGServer(t)
	var positionCalls atomic.Int32
	s.mux.HandleFunc("GET /positions", func(w http.ResponseWriter, r *http.Request) {
		positionCalls.Add(1)
		if r.Header.Get("Authorization") == "Bearer tok1" {
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string]string{"errorCode": "oauth-token-invalid"})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"positions": []any{}})
	})

	client := testClient(t, s.server.URL, 0)
	if _, err := client.GetPositions(context.Background()); err != nil {
		t.Fatalf("GetPositions after refresh: %v", err)
	}
	if positionCalls.Load() != 2 {
		t.Errorf("position calls = %d, want original plus one repeat", positionCalls.Load())
	}
	if s.sessionCalls.Load() != 2 {
		t.Errorf("session calls = %d, want refresh to open one new session", s.sessionCalls.Load())
	}
}

func TestClientSecond401IsTerminal(t *testing.T) {
	s := newIGServer(t)
	s.mux.HandleFunc("GET /positions", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(map[string]string{"errorCode": "oauth-token-invalid"})
	})

	client := testClient(t, s.server.URL, 0)
	_, err := client.GetPositions(context.Background())
	if !errors.IsAuth(err) {
		t.Fatalf("expected AuthError after second 401, got %v", err)
	}
	// One refresh only: the original session plus one re-open.
	if s.sessionCalls.Load() != 2 {
		t.Errorf("session calls = %d, want 2", s.sessionCalls.Load())
	}
}

func TestClientDoesNotRetryClientErrors(t *testing.T) {
	s := newIGServer(t)
	var calls atomic.Int32
	s.mux.HandleFunc("GET /positions", func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]string{"errorCode": "invalid-input"})
	})

	client := testClient(t, s.server.URL, 0)
	_, err := client.GetPositions(context.Background())
	var apiErr *errors.APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 APIError, got %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, 4xx must not retry", calls.Load())
	}
}

func TestClientRetriesServerErrors(t *testing.T) {
	s := newIGServer(t)
	var calls atomic.Int32
	s.mux.HandleFunc("GET /positions", func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"positions": []any{}})
	})

	client := testClient(t, s.server.URL, 0)
	if _, err := client.GetPositions(context.Background()); err != nil {
		t.Fatalf("GetPositions: %v", err)
	}
	if calls.Load() != 3 {
		t.Errorf("calls = %d, want 2 retried failures then success", calls.Load())
	}
}

func TestClientRejectsBadCredentialsWithoutRetry(t *testing.T) {
	mux := http.NewServeMux()
	var sessionCalls atomic.Int32
	mux.HandleFunc("POST /session", func(w http.ResponseWriter, r *http.Request) {
		sessionCalls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(map[string]string{"errorCode": "error.security.invalid-details"})
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	client := testClient(t, server.URL, 0)
	_, err := client.GetPositions(context.Background())
	if !errors.IsAuth(err) {
		t.Fatalf("expected AuthError, got %v", err)
	}
	if sessionCalls.Load() != 1 {
		t.Errorf("session calls = %d, credential rejections must not retry", sessionCalls.Load())
	}
}

func TestConfirmDealReturnsNilForUnknownReference(t *testing.T) {
	s := newIGServer(t)
	s.mux.HandleFunc("GET /confirms/{ref}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(map[string]string{"errorCode": "error.confirms.deal-not-found"})
	})

	client := testClient(t, s.server.URL, 0)
	confirmation, err := client.ConfirmDeal(context.Background(), "THDEADBEEF")
	if err != nil {
		t.Fatalf("ConfirmDeal: %v", err)
	}
	if confirmation != nil {
		t.Errorf("confirmation = %+v, want nil for unprocessed reference", confirmation)
	}
}

func TestClientCachesReadsAndInvalidatesOnMutation(t *testing.T) {
	s := newIGServer(t)
	var reads atomic.Int32
	s.mux.HandleFunc("GET /workingorders", func(w http.ResponseWriter, r *http.Request) {
		reads.Add(1)
		_ = json.NewEncoder(w).Encode(map[string]any{"workingOrders": []any{}})
	})
	s.mux.HandleFunc("DELETE /workingorders/otc/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	client := testClient(t, s.server.URL, 5*time.Second)
	ctx := context.Background()

	if _, err := client.GetWorkingOrders(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := client.GetWorkingOrders(ctx); err != nil {
		t.Fatal(err)
	}
	if reads.Load() != 1 {
		t.Errorf("reads = %d, want second listing served from cache", reads.Load())
	}

	if err := client.DeleteWorkingOrder(ctx, "DI1"); err != nil {
		t.Fatal(err)
	}
	if _, err := client.GetWorkingOrders(ctx); err != nil {
		t.Fatal(err)
	}
	if reads.Load() != 2 {
		t.Errorf("reads = %d, mutation must invalidate the cache", reads.Load())
	}
}
