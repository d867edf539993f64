package pipeline

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"unicode/utf8"

	ewerror "errwatch.dev/errwatch/v1/errwatchlib/error"
	"errwatch.dev/errwatch/v1/errwatchlib/error/errorreport"
	"errwatch.dev/errwatch/v1/errwatchlib/ewhttp"
)

const (
	// Used when an error response body can be neither decoded nor read as text
	UnreadableBody = "Unable to read error response"

	// Only this much of an error body makes it into a record, the caller still
	// gets all of it
	maxRecordedBody = 64 << 10
)

var (
	installMu sync.Mutex
	installed bool
)

// Install wraps http.DefaultTransport once per process. Only the first call
// has any effect and reports true.
func Install(p *Pipeline) bool {
	installMu.Lock()
	defer installMu.Unlock()

	if installed {
		p.logger.Debug("network interception already installed, skipping")
		return false
	}

	http.DefaultTransport = p.WrapTransport(http.DefaultTransport)
	installed = true
	p.logger.Debug("network interception installed on http.DefaultTransport")
	return true
}

// Transport observes every round trip. It never changes what the caller sees.
type Transport struct {
	base     http.RoundTripper
	pipeline *Pipeline
}

// WrapTransport puts base behind interception. A transport this pipeline
// already wraps is returned untouched so no request is reported twice.
func (p *Pipeline) WrapTransport(base http.RoundTripper) http.RoundTripper {
	if base == nil {
		base = unwrap(http.DefaultTransport)
	}
	if t, ok := base.(*Transport); ok && t.pipeline == p {
		return base
	}
	return &Transport{base: base, pipeline: p}
}

// Client returns a client whose transport is intercepted
func (p *Pipeline) Client(base *http.Client) *http.Client {
	client := &http.Client{}
	if base != nil {
		*client = *base
	}
	client.Transport = p.WrapTransport(client.Transport)
	return client
}

func unwrap(rt http.RoundTripper) http.RoundTripper {
	for {
		t, ok := rt.(*Transport)
		if !ok {
			return rt
		}
		rt = t.base
	}
}

func (t *Transport) RoundTrip(request *http.Request) (*http.Response, error) {
	if errorreport.IsReportRequest(request.Context()) {
		return t.base.RoundTrip(request)
	}

	response, err := t.base.RoundTrip(request)
	if err != nil {
		t.pipeline.handleNetworkError(request, err)
		return response, err
	}

	if !ewhttp.IsSuccess(response.StatusCode) {
		t.pipeline.handleHttpError(request, response)
	}
	return response, nil
}

type BodyOutcome int

const (
	BodyDecoded BodyOutcome = iota
	BodyText
	BodyUnreadable
)

// ResponseBody is what could be made of an error response body
type ResponseBody struct {
	Outcome   BodyOutcome
	Data      interface{}
	Text      string
	Truncated bool
}

// ParseResponseBody tries structured data, then raw text, then gives up with
// the placeholder
func ParseResponseBody(raw []byte, readErr error) ResponseBody {
	if readErr != nil {
		return ResponseBody{Outcome: BodyUnreadable, Text: UnreadableBody}
	}

	var data interface{}
	if len(bytes.TrimSpace(raw)) > 0 && json.Unmarshal(raw, &data) == nil {
		return ResponseBody{Outcome: BodyDecoded, Data: data}
	}

	if utf8.Valid(raw) {
		return ResponseBody{Outcome: BodyText, Text: string(raw)}
	}
	return ResponseBody{Outcome: BodyUnreadable, Text: UnreadableBody}
}

// ParseRecordedBody is ParseResponseBody for a body that may run past limit.
// A longer body is cut on a rune boundary and kept as text, since a prefix of
// structured data cannot be decoded.
func ParseRecordedBody(raw []byte, readErr error, limit int) ResponseBody {
	if len(raw) <= limit {
		return ParseResponseBody(raw, readErr)
	}

	cut := raw[:limit]
	start := len(cut) - 1
	for start > 0 && len(cut)-start < utf8.UTFMax && !utf8.RuneStart(cut[start]) {
		start--
	}
	if start >= 0 && !utf8.FullRune(cut[start:]) {
		cut = cut[:start]
	}

	if readErr == nil && utf8.Valid(cut) {
		return ResponseBody{Outcome: BodyText, Text: string(cut), Truncated: true}
	}
	return ResponseBody{Outcome: BodyUnreadable, Text: UnreadableBody, Truncated: true}
}

func (b ResponseBody) addTo(detail errorreport.Detail) {
	if b.Outcome == BodyDecoded {
		detail["errorData"] = b.Data
	} else {
		detail["errorText"] = b.Text
	}
	if b.Truncated {
		detail["truncated"] = true
	}
}

// replayBody hands the caller the bytes interception already read, then the
// rest of the original body
type replayBody struct {
	io.Reader
	original io.Closer
}

func (r *replayBody) Close() error {
	if r.original == nil {
		return nil
	}
	return r.original.Close()
}

type failedRead struct {
	err error
}

func (f failedRead) Read([]byte) (int, error) {
	return 0, f.err
}

func (p *Pipeline) handleHttpError(request *http.Request, response *http.Response) {
	var raw []byte
	var readErr error

	if response.Body != nil {
		// one byte past the limit tells a full body from a cut one
		raw, readErr = io.ReadAll(io.LimitReader(response.Body, maxRecordedBody+1))

		rest := io.Reader(response.Body)
		if readErr != nil {
			rest = failedRead{err: readErr}
		}
		response.Body = &replayBody{
			Reader:   io.MultiReader(bytes.NewReader(raw), rest),
			original: response.Body,
		}
	}

	statusText := statusText(response)
	detail := errorreport.Detail{
		"url":        requestUrl(request),
		"method":     request.Method,
		"status":     response.StatusCode,
		"statusText": statusText,
	}
	ParseRecordedBody(raw, readErr, maxRecordedBody).addTo(detail)

	message := strings.TrimSpace(fmt.Sprintf("HTTP %d %s", response.StatusCode, statusText))
	p.logger.Errorf("HTTP Error: %s %s: %s", request.Method, requestUrl(request), message)

	record := p.newRecord(ewerror.HttpError, message, detail)
	p.observe(record, p.text(StatusMessageKey(response.StatusCode)))
}

func (p *Pipeline) handleNetworkError(request *http.Request, err error) {
	p.logger.Errorf("Network Error: %s %s: %s", request.Method, requestUrl(request), err)

	record := p.newRecord(ewerror.NetworkError, describe(err), errorreport.Detail{
		"url":    requestUrl(request),
		"method": request.Method,
	})
	p.observe(record, p.text(NetworkMessageKey))
}

func requestUrl(request *http.Request) string {
	if request.URL == nil {
		return "unknown"
	}
	return request.URL.Redacted()
}

func statusText(response *http.Response) string {
	text := strings.TrimSpace(strings.TrimPrefix(response.Status, strconv.Itoa(response.StatusCode)))
	if text == "" {
		text = http.StatusText(response.StatusCode)
	}
	return text
}
