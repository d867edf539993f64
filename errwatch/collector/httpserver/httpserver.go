package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"net/http"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"
	"gopkg.in/tomb.v2"

	ewerror "errwatch.dev/errwatch/v1/errwatchlib/error"
	"errwatch.dev/errwatch/v1/errwatchlib/error/errorreport"
	"errwatch.dev/errwatch/v1/errwatchlib/ewhttp"
	"errwatch.dev/errwatch/v1/errwatchlib/i18n"
	"errwatch.dev/errwatch/v1/errwatchlib/logger"
)

const (
	LogErrorEndpoint = errorreport.ErrorEndpoint
	MetricsEndpoint  = "/metrics"

	DefaultRatePerMinute = 60
	DefaultBurst         = 20

	maxRecordSize   = 1 << 20
	shutdownTimeout = 5 * time.Second

	// limiters of clients quiet for this long are forgotten
	limiterIdleTimeout = 10 * time.Minute
	sweepInterval      = time.Minute

	requestIdHeader = "X-Request-Id"

	// label shared by every kind clients make up for manual reports
	manualKindLabel = "manual"
)

type Config struct {
	// Address to listen on, host:port
	Addr string

	// Sustained requests per minute allowed per client, and the burst on top of it
	RatePerMinute float64
	Burst         int

	// Loaded from the embedded catalogs when nil
	Catalog *i18n.Catalog
}

// ErrorResponse is the body of every error the collector answers with
type ErrorResponse struct {
	Error      string `json:"error"`
	Message    string `json:"message"`
	StatusCode int    `json:"status_code"`
	Path       string `json:"path"`
}

type RateLimitResponse struct {
	Error      string `json:"error"`
	Message    string `json:"message"`
	RetryAfter int    `json:"retry_after"`
}

type HTTPServer struct {
	logger  *logger.Logger
	catalog *i18n.Catalog
	addr    string
	tmb     tomb.Tomb

	server   *http.Server
	listener net.Listener

	limiters *limiterSet

	registry *prometheus.Registry
	records  *prometheus.CounterVec
	rejected *prometheus.CounterVec
}

func New(logger *logger.Logger, config Config) (*HTTPServer, error) {
	catalog := config.Catalog
	if catalog == nil {
		loaded, err := i18n.Load()
		if err != nil {
			return nil, fmt.Errorf("failed to load message catalogs: %w", err)
		}
		catalog = loaded
	}

	perMinute := config.RatePerMinute
	if perMinute <= 0 {
		perMinute = DefaultRatePerMinute
	}
	burst := config.Burst
	if burst <= 0 {
		burst = DefaultBurst
	}

	h := &HTTPServer{
		logger:   logger,
		catalog:  catalog,
		addr:     config.Addr,
		limiters: newLimiterSet(rate.Limit(perMinute/60), burst),
		registry: prometheus.NewRegistry(),
		records: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "errwatch_collector_records_total",
			Help: "Error records accepted by the collector, by type, manual kinds counted together",
		}, []string{"type"}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "errwatch_collector_rejected_total",
			Help: "Requests the collector refused, by reason",
		}, []string{"reason"}),
	}

	if err := h.registry.Register(h.records); err != nil {
		return nil, err
	}
	if err := h.registry.Register(h.rejected); err != nil {
		return nil, err
	}

	h.server = &http.Server{
		Handler:           h.Handler(),
		ReadHeaderTimeout: ewhttp.HTTPTimeout,
	}

	return h, nil
}

// Handler serves every collector route with recovery, request ids and rate
// limiting applied
func (h *HTTPServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(LogErrorEndpoint, h.logErrorCallback)
	mux.HandleFunc(ewhttp.PingEndpoint, h.pingCallback)
	mux.Handle(MetricsEndpoint, promhttp.HandlerFor(h.registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		h.writeError(w, r, http.StatusNotFound)
	})

	return h.recoverer(h.withRequestId(h.rateLimit(mux)))
}

// Start listens on the configured address and serves until Close is called or
// serving fails
func (h *HTTPServer) Start() error {
	listener, err := net.Listen("tcp", h.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", h.addr, err)
	}
	h.listener = listener
	h.logger.Infof("Collector listening on %s", listener.Addr())

	h.tmb.Go(func() error {
		h.tmb.Go(h.sweepLimiters)
		h.tmb.Go(func() error {
			if err := h.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})

		<-h.tmb.Dying()
		h.logger.Info("Collector shutting down")

		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return h.server.Shutdown(ctx)
	})

	return nil
}

// Addr is the address actually listened on, once started
func (h *HTTPServer) Addr() string {
	if h.listener == nil {
		return h.addr
	}
	return h.listener.Addr().String()
}

func (h *HTTPServer) Done() <-chan struct{} {
	return h.tmb.Dead()
}

// Close stops the server and waits for in flight requests to finish
func (h *HTTPServer) Close(reason error) error {
	h.tmb.Kill(reason)
	return h.tmb.Wait()
}

func (h *HTTPServer) sweepLimiters() error {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-h.tmb.Dying():
			return nil
		case now := <-ticker.C:
			if n := h.limiters.sweep(now, limiterIdleTimeout); n > 0 {
				h.logger.Debugf("Forgot %d idle rate limiters", n)
			}
		}
	}
}

func (h *HTTPServer) pingCallback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		h.methodNotAllowed(w, r, http.MethodGet, http.MethodHead)
		return
	}
	h.writeJson(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *HTTPServer) logErrorCallback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.methodNotAllowed(w, r, http.MethodPost)
		return
	}

	logger := h.requestLogger(r)

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRecordSize))
	if err != nil {
		logger.Warnf("Failed to read error record: %s", err)
		h.reject(w, r, "bad_record")
		return
	}

	var record map[string]interface{}
	if err := json.Unmarshal(body, &record); err != nil || record == nil {
		logger.Warnf("Error record is not a JSON object: %s", strings.TrimSpace(string(body)))
		h.reject(w, r, "bad_record")
		return
	}

	kind, _ := record[errorreport.TypeKey].(string)
	if kind == "" {
		logger.Warn("Error record has no type")
		h.reject(w, r, "bad_record")
		return
	}

	h.records.WithLabelValues(kindLabel(ewerror.Kind(kind))).Inc()

	message, _ := record[errorreport.MessageKey].(string)
	recordLogger := logger.WithFields(map[string]interface{}{"record": record})
	if severe(ewerror.Kind(kind), record) {
		recordLogger.Errorf("Client Error: %s: %s", kind, message)
	} else {
		recordLogger.Warnf("Client Error: %s: %s", kind, message)
	}

	w.WriteHeader(http.StatusNoContent)
}

func kindLabel(kind ewerror.Kind) string {
	if kind.Known() {
		return kind.String()
	}
	return manualKindLabel
}

// severe records are logged as errors, everything else as warnings
func severe(kind ewerror.Kind, record map[string]interface{}) bool {
	switch kind {
	case ewerror.ScriptError, ewerror.RejectionError:
		return true
	case ewerror.HttpError:
		status, _ := record["status"].(float64)
		return status >= http.StatusInternalServerError
	}
	return false
}

func (h *HTTPServer) reject(w http.ResponseWriter, r *http.Request, reason string) {
	h.rejected.WithLabelValues(reason).Inc()
	h.writeError(w, r, http.StatusBadRequest)
}

func (h *HTTPServer) methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	h.writeError(w, r, http.StatusMethodNotAllowed)
}

func (h *HTTPServer) writeError(w http.ResponseWriter, r *http.Request, status int) {
	locale := h.catalog.ResolveLocale(r)
	prefix := "server." + strconv.Itoa(status)

	h.writeJson(w, status, ErrorResponse{
		Error:      h.catalog.Text(locale, prefix+".title"),
		Message:    h.catalog.Text(locale, prefix+".message"),
		StatusCode: status,
		Path:       r.URL.Path,
	})
}

func (h *HTTPServer) writeJson(w http.ResponseWriter, status int, body interface{}) {
	data, err := json.Marshal(body)
	if err != nil {
		h.logger.Error(fmt.Errorf("error marshalling response: %w", err))
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(data)
}

func (h *HTTPServer) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				h.requestLogger(r).Errorf("Handler panicked serving %s %s: %v\n%s", r.Method, r.URL.Path, rec, debug.Stack())
				h.writeError(w, r, http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

type requestIdKey struct{}

func (h *HTTPServer) withRequestId(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestId := uuid.New().String()
		w.Header().Set(requestIdHeader, requestId)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIdKey{}, requestId)))
	})
}

func (h *HTTPServer) requestLogger(r *http.Request) *logger.Logger {
	if requestId, ok := r.Context().Value(requestIdKey{}).(string); ok {
		return h.logger.GetRequestLogger(requestId)
	}
	return h.logger
}

func (h *HTTPServer) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == MetricsEndpoint {
			next.ServeHTTP(w, r)
			return
		}

		client := ClientIP(r)
		if wait, ok := h.limiters.allow(client, time.Now()); !ok {
			h.rejected.WithLabelValues("rate_limited").Inc()
			h.requestLogger(r).Warnf("Rate limit exceeded for %s on %s", client, r.URL.Path)

			locale := h.catalog.ResolveLocale(r)
			retryAfter := int(math.Ceil(wait.Seconds()))
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			h.writeJson(w, http.StatusTooManyRequests, RateLimitResponse{
				Error:      h.catalog.Text(locale, "server.429.title"),
				Message:    h.catalog.Text(locale, "server.429.message"),
				RetryAfter: retryAfter,
			})
			return
		}

		next.ServeHTTP(w, r)
	})
}

// ClientIP identifies the client behind any proxies: the first X-Forwarded-For
// entry, then X-Real-IP, then the remote address
func ClientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		if first := strings.TrimSpace(strings.Split(forwarded, ",")[0]); first != "" {
			return first
		}
	}
	if realIp := strings.TrimSpace(r.Header.Get("X-Real-IP")); realIp != "" {
		return realIp
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// limiterSet keeps one token bucket per client
type limiterSet struct {
	limit rate.Limit
	burst int

	mu      sync.Mutex
	clients map[string]*clientLimiter
}

func newLimiterSet(limit rate.Limit, burst int) *limiterSet {
	return &limiterSet{
		limit:   limit,
		burst:   burst,
		clients: map[string]*clientLimiter{},
	}
}

// allow takes a token for client. When none is left it reports how long until
// one will be.
func (s *limiterSet) allow(client string, now time.Time) (time.Duration, bool) {
	s.mu.Lock()
	entry, ok := s.clients[client]
	if !ok {
		entry = &clientLimiter{limiter: rate.NewLimiter(s.limit, s.burst)}
		s.clients[client] = entry
	}
	entry.lastSeen = now
	s.mu.Unlock()

	reservation := entry.limiter.ReserveN(now, 1)
	if !reservation.OK() {
		return time.Minute, false
	}
	if delay := reservation.DelayFrom(now); delay > 0 {
		reservation.CancelAt(now)
		return delay, false
	}
	return 0, true
}

func (s *limiterSet) sweep(now time.Time, idle time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	forgotten := 0
	for client, entry := range s.clients {
		if now.Sub(entry.lastSeen) > idle {
			delete(s.clients, client)
			forgotten++
		}
	}
	return forgotten
}

func (s *limiterSet) size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}
