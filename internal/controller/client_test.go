package controller

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"

	"github.com/stphnsmpsn/unifi-protect-backup/internal/apperr"
)

func newTestServer(t *testing.T, failFirstLogins int32) (*httptest.Server, *int32) {
	t.Helper()
	var loginCount int32
	var unauthorizedCount int32

	mux := http.NewServeMux()
	mux.HandleFunc("/api/auth/login", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&loginCount, 1)
		if atomic.LoadInt32(&loginCount) <= failFirstLogins {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		http.SetCookie(w, &http.Cookie{Name: "TOKEN", Value: "tok-" + strconv.Itoa(int(loginCount))})
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"csrfToken":"csrf-` + strconv.Itoa(int(loginCount)) + `"}`))
	})
	mux.HandleFunc("/proxy/protect/api/bootstrap", func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie("TOKEN")
		if err != nil || cookie.Value == "" || atomic.LoadInt32(&unauthorizedCount) < 1 {
			atomic.AddInt32(&unauthorizedCount, 1)
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"cameras":[{"id":"cam1","name":"Driveway","mac":"aa:bb","type":"G4","isConnected":true}],"nvr":{"id":"nvr1","name":"NVR","version":"2.0","timezone":"UTC"}}`))
	})
	return httptest.NewServer(mux), &loginCount
}

func newTestClient(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	c := New(Config{Address: "127.0.0.1", Port: 1, Username: "u", Password: "p", VerifySSL: false})
	c.baseURL = srv.URL
	return c
}

func TestLoginStoresSessionAtomically(t *testing.T) {
	srv, _ := newTestServer(t, 0)
	defer srv.Close()
	c := newTestClient(t, srv)

	if err := c.Login(context.Background()); err != nil {
		t.Fatalf("login: %v", err)
	}
	s := c.auth.load()
	if s.token != "tok-1" || s.csrfToken != "csrf-1" {
		t.Fatalf("unexpected session: %+v", s)
	}
}

func TestGetBootstrapReauthenticatesOn401(t *testing.T) {
	srv, _ := newTestServer(t, 0)
	defer srv.Close()
	c := newTestClient(t, srv)

	if err := c.Login(context.Background()); err != nil {
		t.Fatalf("login: %v", err)
	}

	// Force the first bootstrap call to see a 401 (server's
	// unauthorizedCount starts at 0), which must trigger exactly one
	// reauth attempt and then succeed.
	bs, err := c.GetBootstrap(context.Background())
	if err != nil {
		t.Fatalf("get_bootstrap: %v", err)
	}
	if bs.Cameras["cam1"].Name != "Driveway" {
		t.Fatalf("unexpected bootstrap: %+v", bs)
	}
}

func TestLoginFailureIsAuthError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()
	c := newTestClient(t, srv)

	err := c.Login(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	var authErr *apperr.AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("expected *apperr.AuthError, got %T", err)
	}
}

func TestDownloadEventVideoReturnsApiErrorOnStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/auth/login":
			http.SetCookie(w, &http.Cookie{Name: "TOKEN", Value: "tok"})
			w.Write([]byte(`{"csrfToken":"csrf"}`))
		default:
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer srv.Close()
	c := newTestClient(t, srv)
	if err := c.Login(context.Background()); err != nil {
		t.Fatalf("login: %v", err)
	}

	_, err := c.DownloadEventVideo(context.Background(), "cam1", 1000, 2000)
	if err == nil {
		t.Fatal("expected error")
	}
	var apiErr *apperr.ApiError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *apperr.ApiError, got %T", err)
	}
}
