package server

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/charmbracelet/log"

	"github.com/desertthunder/pkgsend/internal/shared"
)

type routesHandler struct {
	routes []string
	body   string
}

func (h *routesHandler) Routes() []string { return h.routes }

func (h *routesHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	io.WriteString(w, h.body)
}

func TestBasicRouter(t *testing.T) {
	t.Run("Method Checks", func(t *testing.T) {
		r := NewBasicRouter()
		r.Handle(http.MethodGet, "/thing", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			io.WriteString(w, "ok")
		}))

		tests := []struct {
			method string
			want   int
		}{
			{http.MethodGet, http.StatusOK},
			{http.MethodHead, http.StatusOK},
			{http.MethodPost, http.StatusMethodNotAllowed},
		}

		for _, tt := range tests {
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, httptest.NewRequest(tt.method, "/thing", nil))
			if rec.Code != tt.want {
				t.Errorf("%s: expected %d, got %d", tt.method, tt.want, rec.Code)
			}
			if tt.want == http.StatusMethodNotAllowed && rec.Header().Get("Allow") != http.MethodGet {
				t.Errorf("expected Allow header GET, got %q", rec.Header().Get("Allow"))
			}
		}
	})

	t.Run("Middleware Order", func(t *testing.T) {
		var order []string
		mark := func(name string) Middleware {
			return func(next http.Handler) http.Handler {
				return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					order = append(order, name)
					next.ServeHTTP(w, r)
				})
			}
		}

		r := NewBasicRouter()
		r.Use(mark("first"), mark("second"))
		r.Handler(&routesHandler{routes: []string{"GET /a", "GET /b"}, body: "hi"})

		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/b", nil))

		if rec.Body.String() != "hi" {
			t.Errorf("expected handler body, got %q", rec.Body.String())
		}
		if strings.Join(order, ",") != "first,second" {
			t.Errorf("expected first,second got %v", order)
		}
	})
}

func TestMiddleware(t *testing.T) {
	t.Run("Recovery", func(t *testing.T) {
		var buf bytes.Buffer
		h := Recovery(shared.NewLogger(&buf))(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
			panic("boom")
		}))

		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

		if rec.Code != http.StatusInternalServerError {
			t.Errorf("expected 500, got %d", rec.Code)
		}
		if !strings.Contains(rec.Body.String(), `"status":"fail"`) {
			t.Errorf("expected fail body, got %s", rec.Body.String())
		}
		if !strings.Contains(buf.String(), "boom") {
			t.Errorf("expected panic to be logged, got %q", buf.String())
		}
	})

	t.Run("Logging Captures Status", func(t *testing.T) {
		var buf bytes.Buffer
		logger := shared.NewLogger(&buf)
		shared.SetLogLevel(logger, log.DebugLevel)

		h := Logging(logger)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusTeapot)
		}))
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/pot", nil))

		if !strings.Contains(buf.String(), "418") || !strings.Contains(buf.String(), "/pot") {
			t.Errorf("expected status and path in log, got %q", buf.String())
		}
	})

	t.Run("Logging Allows Hijack", func(t *testing.T) {
		logger := shared.DiscardLogger()

		r := NewBasicRouter()
		r.Use(Recovery(logger), Logging(logger), CORS())
		r.Handle(http.MethodGet, "/upgrade", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			hj, ok := w.(http.Hijacker)
			if !ok {
				t.Error("writer behind Logging should implement http.Hijacker")
				http.Error(w, "no hijack", http.StatusInternalServerError)
				return
			}
			conn, rw, err := hj.Hijack()
			if err != nil {
				t.Errorf("Hijack failed: %v", err)
				return
			}
			defer conn.Close()
			rw.WriteString("HTTP/1.1 204 No Content\r\nConnection: close\r\n\r\n")
			rw.Flush()
		}))

		srv := httptest.NewServer(r)
		defer srv.Close()

		resp, err := http.Get(srv.URL + "/upgrade")
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		resp.Body.Close()

		if resp.StatusCode != http.StatusNoContent {
			t.Errorf("expected 204 from hijacked connection, got %d", resp.StatusCode)
		}
	})

	t.Run("CORS", func(t *testing.T) {
		h := CORS()(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

		if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
			t.Errorf("expected wildcard origin, got %q", rec.Header().Get("Access-Control-Allow-Origin"))
		}
	})
}

func TestServer(t *testing.T) {
	handler := &routesHandler{routes: []string{"GET /"}, body: "served"}
	router := NewBasicRouter()
	router.Handler(handler)

	fetch := func(t *testing.T, port int) (string, error) {
		t.Helper()
		resp, err := http.Get(fmt.Sprintf("http://127.0.0.1:%d/", port))
		if err != nil {
			return "", err
		}
		defer resp.Body.Close()
		data, err := io.ReadAll(resp.Body)
		return string(data), err
	}

	t.Run("Listen And Close", func(t *testing.T) {
		srv := NewServer("127.0.0.1", router, nil)
		if srv.Port() != 0 || srv.Addr() != "" {
			t.Fatal("expected no address before Listen")
		}

		if err := srv.Listen(0); err != nil {
			t.Fatalf("Listen failed: %v", err)
		}
		port := srv.Port()
		if port == 0 {
			t.Fatal("expected a bound port")
		}

		body, err := fetch(t, port)
		if err != nil || body != "served" {
			t.Fatalf("expected served, got %q, %v", body, err)
		}

		if err := srv.Close(); err != nil {
			t.Errorf("Close failed: %v", err)
		}
		if srv.Port() != 0 {
			t.Error("expected port 0 after Close")
		}
		if _, err := fetch(t, port); err == nil {
			t.Error("expected old port to be closed")
		}
		if err := srv.Close(); err != nil {
			t.Errorf("second Close should be a no-op, got %v", err)
		}
	})

	t.Run("Rebind", func(t *testing.T) {
		srv := NewServer("127.0.0.1", router, nil)
		defer srv.Close()

		if err := srv.Listen(0); err != nil {
			t.Fatalf("Listen failed: %v", err)
		}
		first := srv.Port()

		if err := srv.Listen(0); err != nil {
			t.Fatalf("second Listen failed: %v", err)
		}
		second := srv.Port()
		if second == first {
			t.Skip("kernel reused the same ephemeral port")
		}

		if _, err := fetch(t, first); err == nil {
			t.Error("expected first listener to be closed")
		}
		if body, err := fetch(t, second); err != nil || body != "served" {
			t.Errorf("expected served on new port, got %q, %v", body, err)
		}
	})

	t.Run("Listen Error", func(t *testing.T) {
		srv := NewServer("256.0.0.1", router, nil)
		if err := srv.Listen(0); err == nil {
			srv.Close()
			t.Error("expected error for invalid host")
		}
	})
}

func TestLocator(t *testing.T) {
	l := NewLocator("192.168.1.20", 8731)

	t.Run("PackageURL", func(t *testing.T) {
		tests := []struct {
			name string
			want string
		}{
			{"game", "http://192.168.1.20:8731/package/game"},
			{"My Game", "http://192.168.1.20:8731/package/My%20Game"},
			{"a/b", "http://192.168.1.20:8731/package/a%2Fb"},
		}
		for _, tt := range tests {
			if got := l.PackageURL(tt.name); got != tt.want {
				t.Errorf("PackageURL(%q) = %q, want %q", tt.name, got, tt.want)
			}
		}
	})

	t.Run("Updates", func(t *testing.T) {
		l := NewLocator("10.0.0.1", 1)
		l.SetPort(9000)
		l.SetHost("10.0.0.2")

		if l.Host() != "10.0.0.2" {
			t.Errorf("expected host 10.0.0.2, got %s", l.Host())
		}
		if got := l.PackageURL("x"); got != "http://10.0.0.2:9000/package/x" {
			t.Errorf("unexpected url %s", got)
		}
	})

	t.Run("IPv6", func(t *testing.T) {
		l := NewLocator("::1", 80)
		if got := l.PackageURL("x"); got != "http://[::1]:80/package/x" {
			t.Errorf("unexpected url %s", got)
		}
	})

	t.Run("DetectAdvertiseHost", func(t *testing.T) {
		host, err := DetectAdvertiseHost("127.0.0.1", 12800)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if host != "127.0.0.1" {
			t.Errorf("expected loopback source address, got %s", host)
		}
	})
}
