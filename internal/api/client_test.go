package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rickgao/bidup-live/internal/version"
)

// writeEnvelope writes a success envelope around data.
func writeEnvelope(t *testing.T, w http.ResponseWriter, data any) {
	t.Helper()
	raw, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("marshal data: %v", err)
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"success":true,"message":"ok","data":` + string(raw) + `,"errors":[]}`))
}

// TestNewClient tests client construction with various options.
func TestNewClient(t *testing.T) {
	t.Run("default values", func(t *testing.T) {
		c := NewClient("http://localhost:5240/")

		if c.baseURL != "http://localhost:5240" {
			t.Errorf("baseURL = %q, want %q", c.baseURL, "http://localhost:5240")
		}
		if c.httpClient.Timeout != 30*time.Second {
			t.Errorf("Timeout = %v, want %v", c.httpClient.Timeout, 30*time.Second)
		}
		if c.maxRetries != 3 {
			t.Errorf("maxRetries = %d, want %d", c.maxRetries, 3)
		}
		if c.retryBackoff != time.Second {
			t.Errorf("retryBackoff = %v, want %v", c.retryBackoff, time.Second)
		}
		if c.logger == nil {
			t.Error("logger should not be nil")
		}
	})

	t.Run("with options", func(t *testing.T) {
		logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
		c := NewClient("http://localhost:5240",
			WithTimeout(15*time.Second),
			WithRetries(10, 500*time.Millisecond),
			WithLogger(logger),
		)
		if c.httpClient.Timeout != 15*time.Second {
			t.Errorf("Timeout = %v, want %v", c.httpClient.Timeout, 15*time.Second)
		}
		if c.maxRetries != 10 {
			t.Errorf("maxRetries = %d, want %d", c.maxRetries, 10)
		}
		if c.retryBackoff != 500*time.Millisecond {
			t.Errorf("retryBackoff = %v, want %v", c.retryBackoff, 500*time.Millisecond)
		}
		if c.logger != logger {
			t.Error("logger not set correctly")
		}
	})

	t.Run("nil logger keeps default", func(t *testing.T) {
		c := NewClient("http://localhost:5240", WithLogger(nil))
		if c.logger == nil {
			t.Error("logger should not be nil")
		}
	})

	t.Run("with custom HTTP client", func(t *testing.T) {
		customClient := &http.Client{Timeout: 10 * time.Second}
		c := NewClient("http://localhost:5240", WithHTTPClient(customClient))
		if c.httpClient != customClient {
			t.Error("custom HTTP client not set")
		}
	})
}

// TestAPIError tests the APIError type.
func TestAPIError(t *testing.T) {
	t.Run("Error method", func(t *testing.T) {
		err := &APIError{StatusCode: 404, Message: "Not Found"}
		expected := "api error 404: Not Found"
		if err.Error() != expected {
			t.Errorf("Error() = %q, want %q", err.Error(), expected)
		}
	})

	t.Run("Error method with details", func(t *testing.T) {
		err := &APIError{StatusCode: 400, Message: "Validation failed", Errors: []string{"a", "b"}}
		expected := "api error 400: Validation failed (a; b)"
		if err.Error() != expected {
			t.Errorf("Error() = %q, want %q", err.Error(), expected)
		}
	})

	t.Run("IsRetryable", func(t *testing.T) {
		tests := []struct {
			code     int
			expected bool
		}{
			{500, true},
			{503, true},
			{429, true},
			{400, false},
			{401, false},
			{404, false},
			{200, false},
		}

		for _, tt := range tests {
			err := &APIError{StatusCode: tt.code}
			if got := err.IsRetryable(); got != tt.expected {
				t.Errorf("IsRetryable() for status %d = %v, want %v", tt.code, got, tt.expected)
			}
		}
	})
}

// TestDoRequest tests the HTTP request functionality.
func TestDoRequest(t *testing.T) {
	t.Run("sends token and body", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Authorization") != "Bearer tok" {
				t.Errorf("Authorization header = %q, want %q", r.Header.Get("Authorization"), "Bearer tok")
			}
			if r.Header.Get("Content-Type") != "application/json" {
				t.Errorf("Content-Type = %q, want application/json", r.Header.Get("Content-Type"))
			}
			if got := r.Header.Get("User-Agent"); got != version.UserAgent() {
				t.Errorf("User-Agent = %q, want %q", got, version.UserAgent())
			}
			body, _ := io.ReadAll(r.Body)
			if string(body) != `{"x":1}` {
				t.Errorf("body = %q, want %q", body, `{"x":1}`)
			}
			w.Write([]byte(`{}`))
		}))
		defer server.Close()

		c := NewClient(server.URL)
		_, err := c.doRequest(context.Background(), request{
			method: http.MethodPost,
			path:   "/test",
			body:   map[string]int{"x": 1},
			token:  "tok",
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("no token no authorization header", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Authorization") != "" {
				t.Errorf("Authorization header should be empty, got %q", r.Header.Get("Authorization"))
			}
			w.Write([]byte(`{}`))
		}))
		defer server.Close()

		c := NewClient(server.URL)
		if _, err := c.doRequest(context.Background(), request{method: http.MethodGet, path: "/test"}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("error status uses envelope message", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"success":false,"message":"Bid too low","errors":["min 110"]}`))
		}))
		defer server.Close()

		c := NewClient(server.URL)
		_, err := c.doRequest(context.Background(), request{method: http.MethodGet, path: "/test"})

		var apiErr *APIError
		if !errors.As(err, &apiErr) {
			t.Fatalf("expected *APIError, got %T", err)
		}
		if apiErr.StatusCode != http.StatusBadRequest {
			t.Errorf("StatusCode = %d, want %d", apiErr.StatusCode, http.StatusBadRequest)
		}
		if apiErr.Message != "Bid too low" {
			t.Errorf("Message = %q, want %q", apiErr.Message, "Bid too low")
		}
		if len(apiErr.Errors) != 1 || apiErr.Errors[0] != "min 110" {
			t.Errorf("Errors = %v, want [min 110]", apiErr.Errors)
		}
	})

	t.Run("error status without envelope", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
			w.Write([]byte(`<html>bad gateway</html>`))
		}))
		defer server.Close()

		c := NewClient(server.URL)
		_, err := c.doRequest(context.Background(), request{method: http.MethodGet, path: "/test"})

		var apiErr *APIError
		if !errors.As(err, &apiErr) {
			t.Fatalf("expected *APIError, got %T", err)
		}
		if apiErr.Message != "Bad Gateway" {
			t.Errorf("Message = %q, want %q", apiErr.Message, "Bad Gateway")
		}
	})
}

// TestDoWithRetry tests the retry logic.
func TestDoWithRetry(t *testing.T) {
	t.Run("retries 5xx then succeeds", func(t *testing.T) {
		var attempts atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if attempts.Add(1) < 3 {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			w.Write([]byte(`{}`))
		}))
		defer server.Close()

		c := NewClient(server.URL, WithRetries(3, time.Millisecond))
		if _, err := c.doWithRetry(context.Background(), request{method: http.MethodGet, path: "/test"}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got := attempts.Load(); got != 3 {
			t.Errorf("attempts = %d, want 3", got)
		}
	})

	t.Run("does not retry 4xx", func(t *testing.T) {
		var attempts atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			attempts.Add(1)
			w.WriteHeader(http.StatusNotFound)
		}))
		defer server.Close()

		c := NewClient(server.URL, WithRetries(3, time.Millisecond))
		if _, err := c.doWithRetry(context.Background(), request{method: http.MethodGet, path: "/test"}); err == nil {
			t.Fatal("expected error")
		}
		if got := attempts.Load(); got != 1 {
			t.Errorf("attempts = %d, want 1", got)
		}
	})

	t.Run("max retries exceeded", func(t *testing.T) {
		var attempts atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			attempts.Add(1)
			w.WriteHeader(http.StatusTooManyRequests)
		}))
		defer server.Close()

		c := NewClient(server.URL, WithRetries(2, time.Millisecond))
		_, err := c.doWithRetry(context.Background(), request{method: http.MethodGet, path: "/test"})
		if err == nil || !strings.Contains(err.Error(), "max retries exceeded") {
			t.Fatalf("err = %v, want max retries exceeded", err)
		}
		if got := attempts.Load(); got != 3 {
			t.Errorf("attempts = %d, want 3", got)
		}
	})

	t.Run("context cancelled during backoff", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer server.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()

		c := NewClient(server.URL, WithRetries(5, time.Second))
		_, err := c.doWithRetry(ctx, request{method: http.MethodGet, path: "/test"})
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("err = %v, want %v", err, context.DeadlineExceeded)
		}
	})
}

func TestCall_EnvelopeFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success":false,"message":"Auction has ended","data":null,"errors":[]}`))
	}))
	defer server.Close()

	c := NewClient(server.URL)
	_, err := c.GetActiveAuctions(context.Background(), 1, 20)

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %v", err)
	}
	if apiErr.Message != "Auction has ended" {
		t.Errorf("Message = %q, want %q", apiErr.Message, "Auction has ended")
	}
}

func TestGetActiveAuctions(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/Auctions" {
			t.Errorf("path = %q, want /api/Auctions", r.URL.Path)
		}
		if r.URL.Query().Get("page") != "2" || r.URL.Query().Get("pageSize") != "20" {
			t.Errorf("query = %q, want page=2&pageSize=20", r.URL.RawQuery)
		}
		w.Write([]byte(`{"success":true,"data":[
			{"id":"a1","title":"Watch","currentPrice":150.5,"minBidIncrement":5,"status":"Active","totalBids":3,"timeRemaining":"01:02:03"},
			{"id":"a2","title":"Lamp","currentPrice":10,"minBidIncrement":1,"status":"Active","totalBids":0,"timeRemaining":"00:00:30"}
		]}`))
	}))
	defer server.Close()

	c := NewClient(server.URL)
	auctions, err := c.GetActiveAuctions(context.Background(), 2, 20)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(auctions) != 2 {
		t.Fatalf("len = %d, want 2", len(auctions))
	}
	if !auctions[0].CurrentPrice.Equal(decimal.RequireFromString("150.5")) {
		t.Errorf("CurrentPrice = %s, want 150.5", auctions[0].CurrentPrice)
	}
	if auctions[0].TimeRemaining.Duration() != time.Hour+2*time.Minute+3*time.Second {
		t.Errorf("TimeRemaining = %v, want 1h2m3s", auctions[0].TimeRemaining.Duration())
	}
}

func TestGetAuction_NotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success":true,"data":null}`))
	}))
	defer server.Close()

	c := NewClient(server.URL)
	_, err := c.GetAuction(context.Background(), "missing")

	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusNotFound {
		t.Errorf("err = %v, want 404 APIError", err)
	}
}

func TestGetAuctionBidsAndCategories(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/Auctions/a1/bids":
			writeEnvelope(t, w, []map[string]any{
				{"id": "b2", "amount": 120, "auctionId": "a1", "bidderName": "bob"},
				{"id": "b1", "amount": 110, "auctionId": "a1", "bidderName": "al"},
			})
		case "/api/Categories":
			writeEnvelope(t, w, []map[string]any{{"id": "c1", "name": "Watches", "auctionCount": 4}})
		case "/api/Auctions/category/c1":
			writeEnvelope(t, w, []map[string]any{{"id": "a1", "categoryId": "c1"}})
		default:
			t.Errorf("unexpected path %q", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	c := NewClient(server.URL)
	ctx := context.Background()

	bids, err := c.GetAuctionBids(ctx, "a1", 1, 50)
	if err != nil {
		t.Fatalf("GetAuctionBids: %v", err)
	}
	if len(bids) != 2 || bids[0].ID != "b2" {
		t.Errorf("bids = %+v, want b2 first", bids)
	}

	cats, err := c.GetCategories(ctx)
	if err != nil {
		t.Fatalf("GetCategories: %v", err)
	}
	if len(cats) != 1 || cats[0].AuctionCount != 4 {
		t.Errorf("categories = %+v", cats)
	}

	byCat, err := c.GetAuctionsByCategory(ctx, "c1", 0, 0)
	if err != nil {
		t.Fatalf("GetAuctionsByCategory: %v", err)
	}
	if len(byCat) != 1 || byCat[0].CategoryID != "c1" {
		t.Errorf("auctions = %+v", byCat)
	}
}

func TestPlaceBid(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost {
				t.Errorf("method = %s, want POST", r.Method)
			}
			if r.Header.Get("Authorization") != "Bearer tok" {
				t.Errorf("Authorization = %q", r.Header.Get("Authorization"))
			}
			var body struct {
				Amount json.Number `json:"amount"`
			}
			json.NewDecoder(r.Body).Decode(&body)
			if body.Amount.String() != "125.5" {
				t.Errorf("amount = %s, want 125.5", body.Amount)
			}
			writeEnvelope(t, w, map[string]any{"id": "b9", "amount": 125.5, "auctionId": "a1"})
		}))
		defer server.Close()

		c := NewClient(server.URL)
		bid, err := c.PlaceBid(context.Background(), "a1", decimal.RequireFromString("125.5"), "tok")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if bid.ID != "b9" {
			t.Errorf("ID = %q, want b9", bid.ID)
		}
	})

	t.Run("unauthorized is not retried", func(t *testing.T) {
		var attempts atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			attempts.Add(1)
			w.WriteHeader(http.StatusUnauthorized)
		}))
		defer server.Close()

		c := NewClient(server.URL, WithRetries(3, time.Millisecond))
		_, err := c.PlaceBid(context.Background(), "a1", decimal.NewFromInt(1), "stale")

		var apiErr *APIError
		if !errors.As(err, &apiErr) || !apiErr.IsUnauthorized() {
			t.Fatalf("err = %v, want unauthorized APIError", err)
		}
		if got := attempts.Load(); got != 1 {
			t.Errorf("attempts = %d, want 1", got)
		}
	})

	t.Run("server errors are not retried", func(t *testing.T) {
		var attempts atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			attempts.Add(1)
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer server.Close()

		c := NewClient(server.URL, WithRetries(3, time.Millisecond))
		if _, err := c.PlaceBid(context.Background(), "a1", decimal.NewFromInt(1), "tok"); err == nil {
			t.Fatal("expected error")
		}
		if got := attempts.Load(); got != 1 {
			t.Errorf("attempts = %d, want 1", got)
		}
	})
}

func TestAuthEndpoints(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)

		switch r.URL.Path {
		case "/api/Auth/login":
			if body["emailOrUserName"] != "al" || body["password"] != "pw" {
				t.Errorf("login body = %v", body)
			}
			writeEnvelope(t, w, map[string]any{
				"userId":                "u1",
				"userName":              "al",
				"accessToken":           "access-1",
				"refreshToken":          "refresh-1",
				"accessTokenExpiration": "2026-01-01T00:15:00Z",
			})
		case "/api/Auth/register":
			if body["confirmPassword"] != "pw" {
				t.Errorf("register body = %v", body)
			}
			writeEnvelope(t, w, map[string]any{"userId": "u2", "accessToken": "access-2"})
		case "/api/Auth/refresh-token":
			if body["refreshToken"] != "refresh-1" {
				t.Errorf("refresh body = %v", body)
			}
			writeEnvelope(t, w, map[string]any{"accessToken": "access-3", "refreshToken": "refresh-3"})
		case "/api/Auth/logout":
			w.Write([]byte(`{"success":true,"message":"Logged out"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	c := NewClient(server.URL)
	ctx := context.Background()

	resp, err := c.Login(ctx, LoginRequest{EmailOrUserName: "al", Password: "pw"})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if resp.AccessToken != "access-1" || resp.UserID != "u1" {
		t.Errorf("Login response = %+v", resp)
	}
	want := time.Date(2026, 1, 1, 0, 15, 0, 0, time.UTC)
	if !resp.AccessTokenExpiration.Equal(want) {
		t.Errorf("AccessTokenExpiration = %v, want %v", resp.AccessTokenExpiration, want)
	}

	if _, err := c.Register(ctx, RegisterRequest{UserName: "b", Password: "pw", ConfirmPassword: "pw"}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	refreshed, err := c.RefreshToken(ctx, "refresh-1")
	if err != nil {
		t.Fatalf("RefreshToken: %v", err)
	}
	if refreshed.AccessToken != "access-3" {
		t.Errorf("AccessToken = %q, want access-3", refreshed.AccessToken)
	}

	if err := c.Logout(ctx, "refresh-3"); err != nil {
		t.Fatalf("Logout: %v", err)
	}
}

func TestLogin_RejectedCredentials(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"success":false,"message":"Invalid credentials"}`))
	}))
	defer server.Close()

	c := NewClient(server.URL)
	_, err := c.Login(context.Background(), LoginRequest{EmailOrUserName: "x", Password: "y"})

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %v", err)
	}
	if apiErr.Message != "Invalid credentials" {
		t.Errorf("Message = %q, want %q", apiErr.Message, "Invalid credentials")
	}
}
