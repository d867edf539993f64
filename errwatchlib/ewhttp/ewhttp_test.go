package ewhttp

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"errwatch.dev/errwatch/v1/errwatchlib/logger"
)

func TestBuildEndpoint(t *testing.T) {
	endpoint, err := BuildEndpoint("https://collector.example.com/base", "/api/log-error")
	assert.Nil(t, err)
	assert.Equal(t, "https://collector.example.com/base/api/log-error", endpoint)

	endpoint, err = BuildEndpoint("http://localhost:8080", "/hub/")
	assert.Nil(t, err)
	assert.Equal(t, "http://localhost:8080/hub/", endpoint)

	_, err = BuildEndpoint("/relative/only", "/api/log-error")
	assert.NotNil(t, err)
}

func TestIsSuccess(t *testing.T) {
	assert.True(t, IsSuccess(http.StatusOK))
	assert.True(t, IsSuccess(http.StatusNoContent))
	assert.False(t, IsSuccess(http.StatusMultipleChoices))
	assert.False(t, IsSuccess(http.StatusNotFound))
}

func TestWaitForReadyRetriesUntilPingSucceeds(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != PingEndpoint {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"status":"ok"}`))
	}))
	defer server.Close()

	err := WaitForReady(context.Background(), logger.MockLogger(), server.Client(), server.URL, 30*time.Second)
	assert.Nil(t, err)
	assert.EqualValues(t, 3, atomic.LoadInt32(&calls))
}

func TestWaitForReadyHonoursContext(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	err := WaitForReady(ctx, logger.MockLogger(), server.Client(), server.URL, time.Minute)
	var notReady *NotReadyError
	assert.ErrorAs(t, err, &notReady)
	assert.Equal(t, server.URL+PingEndpoint, notReady.Endpoint)
}
