package exitcodes

import (
	"errors"
	"os"

	"errwatch.dev/errwatch/v1/errwatchlib/ewhttp"
	"errwatch.dev/errwatch/v1/errwatchlib/logger"
)

// Exit Codes shared by the collector and the probe
const (
	SUCCESS               = 0
	UNSPECIFIED_ERROR     = 1
	CONFIG_ERROR          = 2
	COLLECTOR_UNREACHABLE = 3
	REQUESTS_FAILED       = 4
)

// ConfigError marks a failure caused by flags, environment or config file
type ConfigError struct {
	Err error
}

func (e *ConfigError) Error() string {
	return "invalid configuration: " + e.Err.Error()
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// Code picks the exit code a process should end with after err
func Code(err error) int {
	var configError *ConfigError
	var notReadyError *ewhttp.NotReadyError

	switch {
	case err == nil:
		return SUCCESS
	case errors.As(err, &configError):
		return CONFIG_ERROR
	case errors.As(err, &notReadyError):
		return COLLECTOR_UNREACHABLE
	default:
		return UNSPECIFIED_ERROR
	}
}

// HandleError logs err, when there is one, and exits with the matching code
func HandleError(err error, logger *logger.Logger) {
	code := Code(err)
	if err != nil && logger != nil {
		logger.Error(err)
		if code == COLLECTOR_UNREACHABLE {
			logger.Errorf("The collector did not answer. Check that it is running and that the service url is right.")
		}
	}
	os.Exit(code)
}
