package ewhttp

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	backoff "github.com/cenkalti/backoff/v4"

	"errwatch.dev/errwatch/v1/errwatchlib/logger"
)

const (
	HTTPTimeout = time.Second * 10

	// Readiness probe endpoint exposed by the collector
	PingEndpoint = "/ping"
)

func BuildEndpoint(base string, toAdd string) (string, error) {
	urlObject, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	if urlObject.Scheme == "" || urlObject.Host == "" {
		return "", fmt.Errorf("service url %q must be absolute", base)
	}
	urlObject.Path = path.Join(urlObject.Path, toAdd)

	// path.Join calls Clean(..) which drops trailing slashes, put it back
	// when the caller asked for one
	toReturn := urlObject.String()
	if strings.HasSuffix(toAdd, "/") {
		toReturn += "/"
	}

	return toReturn, nil
}

// Helper function to extract the body of a http request
func GetBodyBytes(body io.ReadCloser) ([]byte, error) {
	bodyInBytes, err := io.ReadAll(body)
	if err != nil {
		return bodyInBytes, fmt.Errorf("error reading body: %w", err)
	}
	return bodyInBytes, nil
}

// IsSuccess reports whether the status code falls in the 2xx range
func IsSuccess(statusCode int) bool {
	return statusCode >= 200 && statusCode < 300
}

// WaitForReady polls the service's ping endpoint with exponential backoff until
// it answers 2xx, the context is done, or maxElapsed passes
func WaitForReady(ctx context.Context, logger *logger.Logger, client *http.Client, serviceUrl string, maxElapsed time.Duration) error {
	endpoint, err := BuildEndpoint(serviceUrl, PingEndpoint)
	if err != nil {
		return err
	}

	if client == nil {
		client = &http.Client{Timeout: HTTPTimeout}
	}

	// Ref: https://github.com/cenkalti/backoff/blob/a78d3804c2c84f0a3178648138442c9b07665bda/exponential.go#L76
	// DefaultInitialInterval     = 500 * time.Millisecond
	// DefaultMultiplier          = 1.5
	backoffParams := backoff.NewExponentialBackOff()
	backoffParams.MaxElapsedTime = maxElapsed
	backoffParams.MaxInterval = 5 * time.Second

	ping := func() error {
		request, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return backoff.Permanent(err)
		}

		response, err := client.Do(request)
		if err != nil {
			return err
		}
		defer response.Body.Close()
		io.Copy(io.Discard, response.Body)

		if !IsSuccess(response.StatusCode) {
			return fmt.Errorf("ping returned status code: %d", response.StatusCode)
		}
		return nil
	}

	notify := func(err error, next time.Duration) {
		logger.Infof("collector at %s not ready (%s), retrying in %s", endpoint, err, next.Round(time.Millisecond))
	}

	if err := backoff.RetryNotify(ping, backoff.WithContext(backoffParams, ctx), notify); err != nil {
		return &NotReadyError{Endpoint: endpoint, Err: err}
	}
	return nil
}

// NotReadyError is returned by WaitForReady when the service never answered
type NotReadyError struct {
	Endpoint string
	Err      error
}

func (e *NotReadyError) Error() string {
	return fmt.Sprintf("service at %s never became ready: %s", e.Endpoint, e.Err)
}

func (e *NotReadyError) Unwrap() error {
	return e.Err
}
