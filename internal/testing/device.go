package testing

import (
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
)

// DeviceCall is one request received by a [FakeDevice].
type DeviceCall struct {
	Endpoint string
	Body     map[string]any
}

// DeviceHandler produces the raw body a [FakeDevice] replies with.
type DeviceHandler func(body map[string]any) string

// FakeDevice is a scripted stand-in for the console's installer API.
//
// Requests to /api/<endpoint> are recorded and answered by the handler registered for the
// endpoint; unscripted endpoints answer with a device-style failure.
type FakeDevice struct {
	*httptest.Server

	mu       sync.Mutex
	calls    []DeviceCall
	handlers map[string]DeviceHandler
}

// NewFakeDevice starts a fake device that is closed when t finishes.
func NewFakeDevice(t *testing.T) *FakeDevice {
	t.Helper()
	f := &FakeDevice{handlers: make(map[string]DeviceHandler)}
	f.Server = httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(f.Close)
	return f
}

func (f *FakeDevice) serve(w http.ResponseWriter, r *http.Request) {
	endpoint := strings.TrimPrefix(r.URL.Path, "/api")

	var body map[string]any
	data, _ := io.ReadAll(r.Body)
	_ = json.Unmarshal(data, &body)

	f.mu.Lock()
	f.calls = append(f.calls, DeviceCall{Endpoint: endpoint, Body: body})
	h := f.handlers[endpoint]
	f.mu.Unlock()

	if h == nil {
		io.WriteString(w, `{"status":"fail","message":"unscripted"}`)
		return
	}
	io.WriteString(w, h(body))
}

// Handle scripts endpoint with h.
func (f *FakeDevice) Handle(endpoint string, h DeviceHandler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[endpoint] = h
}

// Reply scripts endpoint to always answer with body.
func (f *FakeDevice) Reply(endpoint, body string) {
	f.Handle(endpoint, func(map[string]any) string { return body })
}

// Calls returns the recorded requests for endpoint, or every request when endpoint is empty.
func (f *FakeDevice) Calls(endpoint string) []DeviceCall {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []DeviceCall
	for _, c := range f.calls {
		if endpoint == "" || c.Endpoint == endpoint {
			out = append(out, c)
		}
	}
	return out
}

// CallCount returns how many requests endpoint received.
func (f *FakeDevice) CallCount(endpoint string) int {
	return len(f.Calls(endpoint))
}

// HostPort splits the fake device's listen address.
func (f *FakeDevice) HostPort(t *testing.T) (string, int) {
	t.Helper()
	host, portStr, err := net.SplitHostPort(f.Listener.Addr().String())
	if err != nil {
		t.Fatalf("failed to split fake device address: %v", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("invalid fake device port %q: %v", portStr, err)
	}
	return host, port
}

// MustWriteFile writes data to name under dir and returns the full path.
func MustWriteFile(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("Failed to write file %s: %v", path, err)
	}
	return path
}

// PackageBytes builds a size-byte package image with contentID stored NUL-terminated at offset 0x40.
func PackageBytes(contentID string, size int) []byte {
	size = max(size, 0x40+len(contentID)+1)
	data := make([]byte, size)
	for i := range data {
		data[i] = byte('a' + i%26)
	}
	copy(data[0x40:], contentID)
	data[0x40+len(contentID)] = 0
	return data
}

// WritePackage writes a package image built by [PackageBytes] and returns its path.
func WritePackage(t *testing.T, dir, name, contentID string, size int) string {
	t.Helper()
	return MustWriteFile(t, dir, name, PackageBytes(contentID, size))
}
