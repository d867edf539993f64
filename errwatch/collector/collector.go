package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"golang.org/x/term"

	"errwatch.dev/errwatch/v1/errwatch/collector/httpserver"
	"errwatch.dev/errwatch/v1/errwatch/exitcodes"
	"errwatch.dev/errwatch/v1/errwatchlib/ewos"
	ewlogger "errwatch.dev/errwatch/v1/errwatchlib/logger"
)

const collectorVersion = "$COLLECTOR_VERSION"

func main() {
	settings, flagErr := loadSettings(os.Args[1:], os.LookupEnv, os.Stderr)
	if errors.Is(flagErr, flag.ErrHelp) {
		os.Exit(exitcodes.SUCCESS)
	}

	logger, err := createLogger(settings)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %s\n", err)
		os.Exit(exitcodes.UNSPECIFIED_ERROR)
	}

	// print out the config error now that we can log it
	if flagErr != nil {
		exitcodes.HandleError(flagErr, logger)
	}

	exitcodes.HandleError(run(logger, settings), logger)
}

func createLogger(settings *Settings) (*ewlogger.Logger, error) {
	options := ewlogger.Config{}
	if settings != nil {
		options = settings.Logger
	}

	// Without a log file the console is the only place logs go. With one we
	// only echo to a terminal, never into whatever stdout was redirected to.
	if options.FilePath == "" || term.IsTerminal(int(os.Stdout.Fd())) {
		options.ConsoleWriters = []io.Writer{os.Stdout}
	}

	logger, err := ewlogger.New(&options)
	if err != nil {
		return nil, err
	}
	logger.AddVersion("collector", collectorVersion)
	return logger, nil
}

func run(logger *ewlogger.Logger, settings *Settings) error {
	server, err := httpserver.New(logger.GetComponentLogger("httpserver"), settings.Server)
	if err != nil {
		return err
	}

	if err := server.Start(); err != nil {
		return err
	}

	signals, stop := ewos.ShutdownChan()
	defer stop()

	select {
	case sig := <-signals:
		logger.Infof("Received %s, stopping the collector", sig)
	case <-server.Done():
	}

	return server.Close(nil)
}
