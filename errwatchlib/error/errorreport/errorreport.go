package errorreport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	ewerror "errwatch.dev/errwatch/v1/errwatchlib/error"
	"errwatch.dev/errwatch/v1/errwatchlib/ewhttp"
	"errwatch.dev/errwatch/v1/errwatchlib/logger"
)

const (
	// Collector endpoint
	ErrorEndpoint = "/api/log-error"

	// Used whenever a failure carries no usable description
	UnknownMessage = "Unknown error"

	// JavaScript's Date.toISOString layout
	TimestampFormat = "2006-01-02T15:04:05.000Z07:00"
)

// Keys the record owns in the wire form, detail entries never override them
const (
	TypeKey      = "type"
	MessageKey   = "message"
	UserAgentKey = "userAgent"
	TimestampKey = "timestamp"
	PageKey      = "page"
)

type Detail map[string]interface{}

// ErrorRecord is immutable once built by NewRecord
type ErrorRecord struct {
	kind          ewerror.Kind
	message       string
	detail        Detail
	pageUrl       string
	clientContext string
	timestamp     time.Time
}

func NewRecord(kind ewerror.Kind, message string, detail Detail, pageUrl string, clientContext string) ErrorRecord {
	if message == "" {
		message = UnknownMessage
	}

	copied := make(Detail, len(detail))
	for key, value := range detail {
		copied[key] = value
	}

	return ErrorRecord{
		kind:          kind,
		message:       message,
		detail:        copied,
		pageUrl:       pageUrl,
		clientContext: clientContext,
		timestamp:     time.Now().UTC(),
	}
}

func (r ErrorRecord) Kind() ewerror.Kind { return r.kind }
func (r ErrorRecord) Message() string { return r.message }
func (r ErrorRecord) PageUrl() string { return r.pageUrl }
func (r ErrorRecord) ClientContext() string { return r.clientContext }
func (r ErrorRecord) Timestamp() time.Time { return r.timestamp }

// Detail returns a copy, the record itself never changes
func (r ErrorRecord) Detail() Detail {
	copied := make(Detail, len(r.detail))
	for key, value := range r.detail {
		copied[key] = value
	}
	return copied
}

func (r ErrorRecord) MarshalJSON() ([]byte, error) {
	flat := r.Detail()
	flat[TypeKey] = string(r.kind)
	flat[MessageKey] = r.message
	flat[UserAgentKey] = r.clientContext
	flat[TimestampKey] = r.timestamp.UTC().Format(TimestampFormat)
	flat[PageKey] = r.pageUrl
	return json.Marshal(flat)
}

type reportRequestKey struct{}

// MarkReportRequest tags a context so interception layers let the request through
func MarkReportRequest(ctx context.Context) context.Context {
	return context.WithValue(ctx, reportRequestKey{}, true)
}

func IsReportRequest(ctx context.Context) bool {
	marked, _ := ctx.Value(reportRequestKey{}).(bool)
	return marked
}

// Sender delivers records to the collector, once, without retrying
type Sender struct {
	logger   *logger.Logger
	endpoint string
	client   *http.Client
}

func NewSender(logger *logger.Logger, serviceUrl string, transport http.RoundTripper) (*Sender, error) {
	endpoint, err := ewhttp.BuildEndpoint(serviceUrl, ErrorEndpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to build collector endpoint: %w", err)
	}

	if transport == nil {
		transport = http.DefaultTransport
	}

	return &Sender{
		logger:   logger,
		endpoint: endpoint,
		client: &http.Client{
			Timeout:   ewhttp.HTTPTimeout,
			Transport: transport,
		},
	}, nil
}

func (s *Sender) Endpoint() string {
	return s.endpoint
}

// Send posts the record. Any failure is logged here once and returned; callers
// on an observation path are expected to drop it.
func (s *Sender) Send(ctx context.Context, record ErrorRecord) error {
	err := s.send(ctx, record)
	if err != nil {
		s.logger.Errorf("failed to report error: %s, Endpoint: %s, Type: %s", err, s.endpoint, record.Kind())
	}
	return err
}

func (s *Sender) send(ctx context.Context, record ErrorRecord) error {
	body, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("error marshalling error report: %w", err)
	}

	request, err := http.NewRequestWithContext(MarkReportRequest(ctx), http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("error building report request: %w", err)
	}
	request.Header.Set("Content-Type", "application/json")

	response, err := s.client.Do(request)
	if err != nil {
		return fmt.Errorf("POST request failed: %w", err)
	}
	defer response.Body.Close()
	io.Copy(io.Discard, response.Body)

	if !ewhttp.IsSuccess(response.StatusCode) {
		return fmt.Errorf("POST request failed with status code: %d", response.StatusCode)
	}
	return nil
}
