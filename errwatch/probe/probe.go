package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/term"

	"errwatch.dev/errwatch/v1/errwatch/exitcodes"
	"errwatch.dev/errwatch/v1/errwatch/pipeline"
	"errwatch.dev/errwatch/v1/errwatchlib/ewhttp"
	ewlogger "errwatch.dev/errwatch/v1/errwatchlib/logger"
	"errwatch.dev/errwatch/v1/errwatchlib/notify"
)

const bannerPath = "/banners"

// Declaring flags as package-accessible variables
var (
	serviceUrl, locale, logPath, logLevel, wsAddr string
	waitTimeout, linger                           time.Duration
	urls                                          []string
)

func main() {
	flagErr := parseFlags()

	logger, err := createLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %s\n", err)
		os.Exit(exitcodes.UNSPECIFIED_ERROR)
	}

	if flagErr != nil {
		exitcodes.HandleError(flagErr, logger)
	}

	failed, err := run(logger)
	if err == nil && failed > 0 {
		logger.Warnf("%d of %d requests failed", failed, len(urls))
		os.Exit(exitcodes.REQUESTS_FAILED)
	}
	exitcodes.HandleError(err, logger)
}

func parseFlags() error {
	defaults, err := loadEnv(nil)
	if err != nil {
		return &exitcodes.ConfigError{Err: err}
	}

	flag.StringVar(&serviceUrl, "serviceUrl", defaults.ServiceUrl, "URL of the collector")
	flag.StringVar(&locale, "locale", defaults.Locale, "Locale of the banners, ru or en")
	flag.StringVar(&logPath, "logPath", defaults.LogPath, "Path to log file for the probe")
	flag.StringVar(&logLevel, "logLevel", defaults.LogLevel, "The log level to use")
	flag.StringVar(&wsAddr, "wsAddr", defaults.WsAddr, "Address to mirror banners over websocket on, e.g. :8090")
	flag.DurationVar(&waitTimeout, "waitTimeout", defaults.WaitTimeout, "How long to wait for the collector")
	flag.DurationVar(&linger, "linger", 0, "How long to keep banners up before exiting")

	flag.Parse()
	urls = flag.Args()

	// Make sure our service url is correctly formatted
	if !strings.HasPrefix(serviceUrl, "http") {
		serviceUrl = "http://" + serviceUrl
	}
	if _, err := ewhttp.BuildEndpoint(serviceUrl, ewhttp.PingEndpoint); err != nil {
		return &exitcodes.ConfigError{Err: fmt.Errorf("bad service url %s: %w", serviceUrl, err)}
	}

	if len(urls) == 0 {
		return &exitcodes.ConfigError{Err: fmt.Errorf("no urls to probe, usage: probe [flags] url...")}
	}
	return nil
}

func createLogger() (*ewlogger.Logger, error) {
	options := &ewlogger.Config{
		FilePath: logPath,
		LogLevel: logLevel,
	}

	// banners are drawn on the terminal, logs only join them there when they
	// have nowhere else to go
	if logPath == "" || !term.IsTerminal(int(os.Stderr.Fd())) {
		options.ConsoleWriters = []io.Writer{os.Stdout}
	}

	logger, err := ewlogger.New(options)
	if err != nil {
		return nil, err
	}
	logger.AddVersion("probe", pipeline.Version)
	return logger, nil
}

func run(logger *ewlogger.Logger) (int, error) {
	ctx := context.Background()

	if err := ewhttp.WaitForReady(ctx, logger, nil, serviceUrl, waitTimeout); err != nil {
		return 0, err
	}

	renderer, stop, err := createRenderer(logger)
	if err != nil {
		return 0, err
	}
	defer stop()

	p, err := pipeline.New(logger, pipeline.Config{
		ServiceUrl: serviceUrl,
		Locale:     locale,
		Renderer:   renderer,
	})
	if err != nil {
		return 0, err
	}
	defer p.Recover()

	pipeline.Install(p)
	logger.Infof("Probing %d urls, banners in %s", len(urls), p.Locale())

	var failed int32
	tasks := make([]*pipeline.Task, 0, len(urls))
	for _, target := range urls {
		tasks = append(tasks, p.Go(ctx, func(ctx context.Context) error {
			ok, err := probe(ctx, logger, target)
			if !ok {
				atomic.AddInt32(&failed, 1)
			}
			return err
		}))
	}

	for _, task := range tasks {
		task.Wait()
	}

	if linger > 0 {
		logger.Infof("Keeping banners up for %s", linger)
		time.Sleep(linger)
	}

	flushCtx, cancel := context.WithTimeout(ctx, ewhttp.HTTPTimeout)
	defer cancel()
	if err := p.Flush(flushCtx); err != nil {
		logger.Error(err)
	}

	return int(atomic.LoadInt32(&failed)), nil
}

// probe fetches target through http.DefaultClient. Failed responses and
// transport errors are observed by the installed interception; only failures
// it cannot see are returned.
func probe(ctx context.Context, logger *ewlogger.Logger, target string) (bool, error) {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return false, fmt.Errorf("cannot probe %s: %w", target, err)
	}

	response, err := http.DefaultClient.Do(request)
	if err != nil {
		logger.Debugf("%s unreachable", target)
		return false, nil
	}
	defer response.Body.Close()

	body, err := ewhttp.GetBodyBytes(response.Body)
	if err != nil {
		return false, err
	}

	logger.Infof("%s answered %s (%d bytes)", target, response.Status, len(body))
	return ewhttp.IsSuccess(response.StatusCode), nil
}

// createRenderer draws banners on stderr and, with -wsAddr, mirrors them to
// every page connected to the websocket
func createRenderer(logger *ewlogger.Logger) (notify.Renderer, func(), error) {
	console := notify.NewConsoleRenderer(os.Stderr)
	if wsAddr == "" {
		return console, func() {}, nil
	}

	websocketRenderer := notify.NewWebsocketRenderer(logger.GetComponentLogger("websocket"))
	mux := http.NewServeMux()
	mux.Handle(bannerPath, websocketRenderer)
	server := &http.Server{Addr: wsAddr, Handler: mux, ReadHeaderTimeout: ewhttp.HTTPTimeout}

	errs := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs <- err
		}
	}()

	// surface an address that is already taken before anything gets rendered
	select {
	case err := <-errs:
		return nil, nil, fmt.Errorf("failed to serve banners on %s: %w", wsAddr, err)
	case <-time.After(100 * time.Millisecond):
	}
	logger.Infof("Mirroring banners on ws://%s%s", wsAddr, bannerPath)

	stop := func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		server.Shutdown(ctx)
	}
	return notify.NewMultiRenderer(logger.GetComponentLogger("banner"), console, websocketRenderer), stop, nil
}
