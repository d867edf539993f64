package pipeline

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	ewerror "errwatch.dev/errwatch/v1/errwatchlib/error"
	"errwatch.dev/errwatch/v1/errwatchlib/error/errorreport"
	"errwatch.dev/errwatch/v1/errwatchlib/i18n"
	"errwatch.dev/errwatch/v1/errwatchlib/logger"
	"errwatch.dev/errwatch/v1/errwatchlib/notify"
)

// replaced at build time
var Version = "$ERRWATCH_VERSION"

const (
	defaultReportTimeout = 10 * time.Second
	defaultFlushTimeout  = 3 * time.Second
)

type Config struct {
	// Base url of the collector, records go to <ServiceUrl>/api/log-error
	ServiceUrl string

	// Locale of the banners, anything Accept-Language understands
	Locale string

	// Evaluated every time a record is created
	Page func() string

	// Identifies this client to the collector, the userAgent of the record
	ClientContext string

	// Display surface for banners, a console renderer on stderr when nil
	Renderer notify.Renderer
	Banner   notify.Config

	// Loaded from the embedded catalogs when nil
	Catalog *i18n.Catalog

	// Transport used to reach the collector. It must not be an interception
	// transport; the unwrapped http.DefaultTransport is used when nil.
	Transport http.RoundTripper

	ReportTimeout time.Duration
	FlushTimeout  time.Duration
}

// Pipeline turns every observed failure into a record for the collector and a
// banner for the user
type Pipeline struct {
	logger  *logger.Logger
	sender  *errorreport.Sender
	board   *notify.Board
	catalog *i18n.Catalog
	locale  string

	page          func() string
	clientContext string

	reportTimeout time.Duration
	flushTimeout  time.Duration

	// records still on their way to the collector; drained is closed while
	// inflight is zero and re-armed when it leaves zero
	inflightMu sync.Mutex
	inflight   int
	drained    chan struct{}
}

func New(logger *logger.Logger, config Config) (*Pipeline, error) {
	catalog := config.Catalog
	if catalog == nil {
		loaded, err := i18n.Load()
		if err != nil {
			return nil, fmt.Errorf("failed to load message catalogs: %w", err)
		}
		catalog = loaded
	}

	transport := config.Transport
	if transport == nil {
		transport = unwrap(http.DefaultTransport)
	}

	sender, err := errorreport.NewSender(logger.GetComponentLogger("reporter"), config.ServiceUrl, transport)
	if err != nil {
		return nil, err
	}

	renderer := config.Renderer
	if renderer == nil {
		renderer = notify.NewConsoleRenderer(os.Stderr)
	}

	page := config.Page
	if page == nil {
		program := "app://" + filepath.Base(os.Args[0])
		page = func() string { return program }
	}

	clientContext := config.ClientContext
	if clientContext == "" {
		clientContext = fmt.Sprintf("errwatch/%s (%s; %s) %s", Version, runtime.GOOS, runtime.GOARCH, runtime.Version())
	}

	p := &Pipeline{
		logger:        logger.GetComponentLogger("pipeline"),
		sender:        sender,
		board:         notify.NewBoard(logger.GetComponentLogger("banner"), renderer, config.Banner),
		catalog:       catalog,
		locale:        catalog.Match(config.Locale),
		page:          page,
		clientContext: clientContext,
		reportTimeout: config.ReportTimeout,
		flushTimeout:  config.FlushTimeout,
		drained:       make(chan struct{}),
	}
	close(p.drained)

	if p.reportTimeout <= 0 {
		p.reportTimeout = defaultReportTimeout
	}
	if p.flushTimeout <= 0 {
		p.flushTimeout = defaultFlushTimeout
	}

	return p, nil
}

func (p *Pipeline) Locale() string {
	return p.locale
}

func (p *Pipeline) Board() *notify.Board {
	return p.board
}

// LogError reports a failure the automatic observation points cannot see. The
// banner shows message as is.
func (p *Pipeline) LogError(kind ewerror.Kind, message string, detail errorreport.Detail) *notify.Entry {
	record := p.newRecord(kind, message, detail)
	p.logger.Infof("Manual Error: %s: %s", record.Kind(), record.Message())
	return p.observe(record, record.Message())
}

// Flush waits until every record handed to the collector has been delivered or
// dropped, or until ctx is done
func (p *Pipeline) Flush(ctx context.Context) error {
	p.inflightMu.Lock()
	drained := p.drained
	p.inflightMu.Unlock()

	select {
	case <-drained:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("gave up waiting for error reports: %w", ctx.Err())
	}
}

func (p *Pipeline) reportStarted() {
	p.inflightMu.Lock()
	defer p.inflightMu.Unlock()

	if p.inflight == 0 {
		p.drained = make(chan struct{})
	}
	p.inflight++
}

func (p *Pipeline) reportDone() {
	p.inflightMu.Lock()
	defer p.inflightMu.Unlock()

	p.inflight--
	if p.inflight == 0 {
		close(p.drained)
	}
}

func (p *Pipeline) newRecord(kind ewerror.Kind, message string, detail errorreport.Detail) errorreport.ErrorRecord {
	return errorreport.NewRecord(kind, message, detail, p.page(), p.clientContext)
}

func (p *Pipeline) text(key string) string {
	return p.catalog.Text(p.locale, key)
}

func (p *Pipeline) observe(record errorreport.ErrorRecord, banner string) *notify.Entry {
	p.report(record)
	return p.board.Show(banner)
}

// report is fire and forget. A failed delivery is logged by the sender and
// goes nowhere else.
func (p *Pipeline) report(record errorreport.ErrorRecord) {
	p.reportStarted()
	go func() {
		defer p.reportDone()
		defer func() {
			if r := recover(); r != nil {
				p.logger.Errorf("error reporter panicked: %v", r)
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), p.reportTimeout)
		defer cancel()
		p.sender.Send(ctx, record)
	}()
}

// describe turns any failure value into a message
func describe(value interface{}) string {
	switch v := value.(type) {
	case nil:
		return ""
	case error:
		return v.Error()
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprint(v)
	}
}
