package server

import (
	"net"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/desertthunder/pkgsend/internal/models"
	"github.com/desertthunder/pkgsend/internal/shared"
	"github.com/desertthunder/pkgsend/internal/tasks"
)

const (
	// DeviceRoundingTolerance is how many bytes short of the full length the device's last
	// range request may end while the transfer is still complete. Calibrated against the
	// console's installer, which never requests the final few bytes.
	DeviceRoundingTolerance = 8

	// DefaultGracePeriod is how long a range observation keeps a task from being finalized.
	DefaultGracePeriod = 40 * time.Second

	// DefaultDeviceUserAgent matches the User-Agent the console's downloader sends.
	DefaultDeviceUserAgent = "PlayStation 4"

	messageContentNotFound = "Content not found in content map."
)

// PackageOptions configures a [PackageHandler].
type PackageOptions struct {
	Registry   *tasks.Registry
	UserAgent  string        // pattern matched against the User-Agent of device requests
	DeviceHost func() string // current device address; "" accepts any remote
	Grace      time.Duration
	Now        func() time.Time
	Logger     *log.Logger
}

// PackageHandler serves package bytes to the device and infers progress from its range requests.
type PackageHandler struct {
	registry   *tasks.Registry
	userAgent  *regexp.Regexp
	deviceHost func() string
	grace      time.Duration
	now        func() time.Time
	logger     *log.Logger
}

// NewPackageHandler creates a package handler. An invalid user agent pattern is matched literally.
func NewPackageHandler(opts PackageOptions) *PackageHandler {
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultDeviceUserAgent
	}
	ua, err := regexp.Compile(opts.UserAgent)
	if err != nil {
		ua = regexp.MustCompile(regexp.QuoteMeta(opts.UserAgent))
	}
	if opts.DeviceHost == nil {
		opts.DeviceHost = func() string { return "" }
	}
	if opts.Grace <= 0 {
		opts.Grace = DefaultGracePeriod
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = shared.DiscardLogger()
	}

	return &PackageHandler{
		registry:   opts.Registry,
		userAgent:  ua,
		deviceHost: opts.DeviceHost,
		grace:      opts.Grace,
		now:        opts.Now,
		logger:     opts.Logger.With("component", "packages"),
	}
}

// Routes returns the HTTP routes this handler serves.
func (h *PackageHandler) Routes() []string {
	return []string{"GET /package/{name}"}
}

// ServeHTTP streams the named package.
//
// A ranged request from the device against a task with a known length records the range end
// as transferred bytes, classifies the task and pushes its pending removal time forward.
func (h *PackageHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	task, ok := h.registry.Find(tasks.ByName(name))
	if !ok || task.Path == "" {
		writeJSON(w, http.StatusNotFound, failure{Status: "fail", Message: messageContentNotFound})
		return
	}

	if rng := r.Header.Get("Range"); r.Method == http.MethodGet && rng != "" && task.LengthTotal != nil && h.fromDevice(r) {
		if end, ok := parseRangeEnd(rng); ok {
			h.observe(name, end)
		}
	}

	f, err := os.Open(task.Path)
	if err != nil {
		h.logger.Error("failed to open package", "name", name, "path", task.Path, "error", err)
		writeJSON(w, http.StatusNotFound, failure{Status: "fail", Message: messageContentNotFound})
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil || info.IsDir() {
		h.logger.Error("package path is not a file", "name", name, "path", task.Path, "error", err)
		writeJSON(w, http.StatusNotFound, failure{Status: "fail", Message: messageContentNotFound})
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	http.ServeContent(w, r, filepath.Base(task.Path), info.ModTime(), f)
}

func (h *PackageHandler) observe(name string, transferred int64) {
	removeAt := h.now().Add(h.grace)
	updated, _ := h.registry.Update(tasks.ByName(name), func(t *models.Task) bool {
		if t.LengthTotal == nil {
			return false
		}
		t.TransferredTotal = models.Ptr(transferred)
		t.Status = Classify(transferred, *t.LengthTotal)
		t.PendingRemovalAt = &removeAt
		return true
	})
	if updated != nil {
		h.logger.Debug("range observed", "name", name, "transferred", transferred, "status", updated.Status)
	}
}

// fromDevice reports whether r carries the device's User-Agent and, when a device address is
// known, comes from it.
func (h *PackageHandler) fromDevice(r *http.Request) bool {
	if !h.userAgent.MatchString(r.UserAgent()) {
		return false
	}
	want := h.deviceHost()
	if want == "" {
		return true
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return host == want
}

// Classify maps a transferred byte count to a task status.
func Classify(transferred, length int64) models.Status {
	if transferred >= length-DeviceRoundingTolerance {
		return models.StatusSuccess
	}
	return models.StatusLoading
}

// parseRangeEnd extracts the end offset of the first range in a Range header, falling back to
// its start for open-ended ranges.
func parseRangeEnd(header string) (int64, bool) {
	spec := strings.TrimSpace(header)
	spec = strings.TrimPrefix(spec, "bytes=")
	spec, _, _ = strings.Cut(spec, ",")

	start, end, found := strings.Cut(strings.TrimSpace(spec), "-")
	value := strings.TrimSpace(start)
	if found && strings.TrimSpace(end) != "" {
		value = strings.TrimSpace(end)
	}

	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// AliveHandler answers liveness probes.
type AliveHandler struct {
	enabled func() bool
}

// NewAliveHandler creates a liveness handler; enabled reports whether a device client is configured.
func NewAliveHandler(enabled func() bool) *AliveHandler {
	if enabled == nil {
		enabled = func() bool { return false }
	}
	return &AliveHandler{enabled: enabled}
}

func (h *AliveHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"alive": true, "psServiceEnabled": h.enabled()})
}

// NewPackageRouter wires the device-facing routes with recovery, logging and CORS.
func NewPackageRouter(packages *PackageHandler, alive *AliveHandler, logger *log.Logger) *BasicRouter {
	if logger == nil {
		logger = shared.DiscardLogger()
	}
	r := NewBasicRouter()
	r.Use(Recovery(logger), Logging(logger), CORS())
	r.Handler(packages)
	r.Handle(http.MethodGet, "/alive", alive)
	return r
}
