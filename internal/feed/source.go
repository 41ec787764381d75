// Package feed fetches vehicle monitoring snapshots from the upstream
// provider and normalises them into vehicle observations keyed by vehicle
// reference.
package feed

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/juju/errors"
	"github.com/juju/loggo"

	"pysakki/internal/vehicle"
)

var logger = loggo.GetLogger("pysakki.feed")

// Supported upstream formats.
const (
	FormatFoli     = "foli"
	FormatSiriJSON = "siri-json"
	FormatSiriXML  = "siri-xml"
	FormatGTFSRT   = "gtfsrt"
)

// Source yields one complete vehicle snapshot per call. Each vehicle
// reference appears at most once; later duplicates in a payload win.
type Source interface {
	Fetch(ctx context.Context) (map[string]vehicle.Observation, error)
}

// Params configures an HTTP backed source.
type Params struct {
	URL     string
	Timeout time.Duration
	// Header is sent with every request. Empty means unauthenticated.
	Header http.Header
}

// New returns the source for format.
func New(format string, p Params) (Source, error) {
	if p.URL == "" {
		return nil, errors.NotValidf("empty feed URL")
	}
	f := newHTTPFeed(p)
	switch format {
	case FormatFoli, "":
		return &FoliSource{feed: f}, nil
	case FormatSiriJSON:
		return &SiriJSONSource{feed: f}, nil
	case FormatSiriXML:
		return &SiriXMLSource{feed: f}, nil
	case FormatGTFSRT:
		return &GTFSRTSource{feed: f}, nil
	}
	return nil, errors.NotValidf("feed format %q", format)
}

type httpFeed struct {
	url        string
	header     http.Header
	httpClient *http.Client
}

func newHTTPFeed(p Params) *httpFeed {
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &httpFeed{
		url:        p.URL,
		header:     p.Header.Clone(),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// get performs the request and returns the body of a 200 response. The
// caller must close it.
func (f *httpFeed) get(ctx context.Context) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
	if err != nil {
		return nil, errors.Trace(err)
	}
	for k, vs := range f.header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, errors.Annotatef(err, "fetching %s", f.url)
	}
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		return nil, errors.Errorf("fetching %s: http status %d", f.url, resp.StatusCode)
	}
	return resp.Body, nil
}

// readAll fetches the whole body.
func (f *httpFeed) readAll(ctx context.Context) ([]byte, error) {
	body, err := f.get(ctx)
	if err != nil {
		return nil, errors.Trace(err)
	}
	defer body.Close()
	b, err := io.ReadAll(body)
	if err != nil {
		return nil, errors.Annotatef(err, "reading %s", f.url)
	}
	return b, nil
}
