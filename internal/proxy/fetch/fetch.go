// Package fetch performs the single outbound request of the pipeline under
// strict resource bounds: one wall-clock deadline covering DNS, connect,
// and read; a content-type gate before the body is touched; and a byte cap
// enforced while streaming so a hostile response cannot balloon memory.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-resty/resty/v2"

	"github.com/daedalos/fetchproxy/internal/proxy/errs"
	"github.com/daedalos/fetchproxy/internal/proxy/validate"
)

const (
	defaultTimeout      = 12 * time.Second
	defaultMaxBodyBytes = 2_000_000
	readChunkSize       = 32 * 1024
	maxRedirects        = 10

	defaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	acceptHeader     = "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8"
)

// Config controls fetch behavior.
type Config struct {
	Timeout      time.Duration
	MaxBodyBytes int64
	UserAgent    string

	// SniffContentType enables byte-level detection when the upstream omits
	// the Content-Type header entirely.
	SniffContentType bool
}

// DefaultConfig returns the reference fetch limits.
func DefaultConfig() Config {
	return Config{
		Timeout:          defaultTimeout,
		MaxBodyBytes:     defaultMaxBodyBytes,
		UserAgent:        defaultUserAgent,
		SniffContentType: true,
	}
}

// Result is the decoded upstream response handed to the rewrite stage.
type Result struct {
	HTML        string
	FinalURL    string
	Status      int
	ContentType string
	Bytes       int64
}

// Fetcher issues bounded GET requests to validated targets.
type Fetcher struct {
	cfg       Config
	validator *validate.Validator
	client    *resty.Client
	dialer    *net.Dialer
}

// targetKey carries the validated target through the request context so the
// dialer can pin the connection to the already-resolved addresses.
type targetKey struct{}

// New creates a fetcher whose transport dials only addresses authorized by
// the validator. The original target's addresses come from validation time;
// any other host encountered mid-chain (redirects) is validated at connect
// time, so the checked address and the connected address are the same.
func New(cfg Config, v *validate.Validator) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBodyBytes
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}

	f := &Fetcher{
		cfg:       cfg,
		validator: v,
		dialer:    &net.Dialer{Timeout: 10 * time.Second},
	}

	transport := &http.Transport{
		DialContext:           f.dialValidated,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		ForceAttemptHTTP2:     true,
	}

	f.client = resty.New().
		SetTimeout(cfg.Timeout).
		SetTransport(transport).
		SetRedirectPolicy(resty.FlexibleRedirectPolicy(maxRedirects)).
		SetDoNotParseResponse(true)

	return f
}

// Fetch issues a single GET to the target and returns the decoded body.
// Failure kinds: UpstreamTimeout, UnsupportedContentType, PayloadTooLarge,
// EmptyBody, UpstreamError, and BlockedHost when a redirect lands on a
// blocked address.
func (f *Fetcher) Fetch(ctx context.Context, target *validate.Target) (*Result, error) {
	ctx = context.WithValue(ctx, targetKey{}, target)

	resp, err := f.client.R().
		SetContext(ctx).
		SetHeader("User-Agent", f.cfg.UserAgent).
		SetHeader("Accept", acceptHeader).
		SetHeader("Accept-Language", "en-US,en;q=0.9").
		Get(target.URL.String())
	if err != nil {
		return nil, classifyTransportError(err, target.URL.String())
	}
	body := resp.RawBody()
	defer body.Close()

	finalURL := target.URL.String()
	if raw := resp.RawResponse; raw != nil && raw.Request != nil && raw.Request.URL != nil {
		finalURL = raw.Request.URL.String()
	}

	status := resp.StatusCode()
	if status < 200 || status >= 400 {
		return nil, errs.New(errs.UpstreamError, "upstream returned HTTP %d", status).WithFinalURL(finalURL)
	}

	contentType := resp.Header().Get("Content-Type")

	// Gate 1: only HTML proceeds; the body is not read for anything else.
	// When the header is missing, sniff the first bytes instead of trusting
	// the absence.
	var prefix []byte
	if contentType == "" && f.cfg.SniffContentType {
		prefix = make([]byte, 512)
		n, rerr := io.ReadFull(body, prefix)
		if rerr != nil && rerr != io.ErrUnexpectedEOF && rerr != io.EOF {
			return nil, classifyTransportError(rerr, finalURL)
		}
		prefix = prefix[:n]
		contentType = mimetype.Detect(prefix).String()
	}
	if !strings.Contains(strings.ToLower(contentType), "text/html") {
		return nil, errs.New(errs.UnsupportedContentType, "unsupported content type %q", contentType).WithFinalURL(finalURL)
	}

	raw, count, err := f.readBounded(body, prefix)
	if err != nil {
		var perr *errs.Error
		if errors.As(err, &perr) {
			return nil, perr.WithFinalURL(finalURL)
		}
		return nil, classifyTransportError(err, finalURL)
	}
	if count == 0 {
		return nil, errs.New(errs.EmptyBody, "upstream returned an empty body").WithFinalURL(finalURL)
	}

	return &Result{
		HTML:        decodeHTML(raw, contentType),
		FinalURL:    finalURL,
		Status:      status,
		ContentType: contentType,
		Bytes:       count,
	}, nil
}

// readBounded streams the body in chunks, aborting as soon as the running
// count exceeds the cap. The oversized remainder is never buffered.
func (f *Fetcher) readBounded(body io.Reader, prefix []byte) ([]byte, int64, error) {
	buf := make([]byte, 0, readChunkSize)
	buf = append(buf, prefix...)
	count := int64(len(prefix))
	if count > f.cfg.MaxBodyBytes {
		return nil, count, errs.New(errs.PayloadTooLarge, "response body exceeds %d bytes", f.cfg.MaxBodyBytes)
	}

	chunk := make([]byte, readChunkSize)
	for {
		n, err := body.Read(chunk)
		if n > 0 {
			count += int64(n)
			if count > f.cfg.MaxBodyBytes {
				return nil, count, errs.New(errs.PayloadTooLarge, "response body exceeds %d bytes", f.cfg.MaxBodyBytes)
			}
			buf = append(buf, chunk[:n]...)
		}
		if err == io.EOF {
			return buf, count, nil
		}
		if err != nil {
			return nil, count, err
		}
	}
}

// dialValidated is the transport's DialContext. The original target is
// dialed using the addresses resolved during validation; any other host is
// re-validated here, which both blocks redirects into private ranges and
// removes the second, unchecked resolution a default client would perform.
func (f *Fetcher) dialValidated(ctx context.Context, network, addr string) (net.Conn, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, err
	}

	var ips []net.IP
	if t, ok := ctx.Value(targetKey{}).(*validate.Target); ok && strings.EqualFold(host, t.Hostname) {
		ips = t.IPs
	} else if ips, err = f.validator.CheckHost(ctx, host); err != nil {
		return nil, err
	}

	var lastErr error
	for _, ip := range ips {
		conn, derr := f.dialer.DialContext(ctx, network, net.JoinHostPort(ip.String(), port))
		if derr == nil {
			return conn, nil
		}
		lastErr = derr
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no dialable addresses for %s", host)
	}
	return nil, lastErr
}

// classifyTransportError separates deadline expiry from everything else and
// surfaces validator rejections raised inside the dialer unchanged.
func classifyTransportError(err error, finalURL string) error {
	var perr *errs.Error
	if errors.As(err, &perr) {
		if perr.FinalURL == "" {
			perr.FinalURL = finalURL
		}
		return perr
	}

	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return errs.Wrap(errs.UpstreamTimeout, err, "upstream request timed out").WithFinalURL(finalURL)
	}
	return errs.Wrap(errs.UpstreamError, err, "upstream request failed").WithFinalURL(finalURL)
}
