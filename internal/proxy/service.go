// Package proxy wires the fetch-and-rewrite pipeline: validate the target,
// fetch under resource bounds, rewrite for sandboxed embedding. The stages
// run strictly in sequence and the first failure short-circuits; no partial
// document is ever produced.
package proxy

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/daedalos/fetchproxy/internal/infrastructure/config"
	"github.com/daedalos/fetchproxy/internal/infrastructure/logging"
	"github.com/daedalos/fetchproxy/internal/infrastructure/monitoring"
	"github.com/daedalos/fetchproxy/internal/proxy/errs"
	"github.com/daedalos/fetchproxy/internal/proxy/fetch"
	"github.com/daedalos/fetchproxy/internal/proxy/rewrite"
	"github.com/daedalos/fetchproxy/internal/proxy/validate"
)

// Page is the success envelope returned to the embedding client.
type Page struct {
	Title    string `json:"title"`
	HTML     string `json:"html"`
	FinalURL string `json:"finalUrl"`
}

// Service runs the pipeline. It holds no per-request state; concurrent
// requests are fully independent.
type Service struct {
	validator *validate.Validator
	fetcher   *fetch.Fetcher
	rewriter  *rewrite.Rewriter
	logger    *logging.Logger
	metrics   *monitoring.Metrics
}

// New assembles the pipeline from configuration. metrics may be nil.
func New(cfg *config.Config, logger *logging.Logger, metrics *monitoring.Metrics) *Service {
	validator := validate.New(validate.Config{AllowLoopback: cfg.Fetch.AllowLoopback})
	return &Service{
		validator: validator,
		fetcher: fetch.New(fetch.Config{
			Timeout:          cfg.Fetch.Timeout(),
			MaxBodyBytes:     cfg.Fetch.MaxBodyBytes,
			UserAgent:        cfg.Fetch.UserAgent,
			SniffContentType: cfg.Fetch.SniffContentType,
		}, validator),
		rewriter: rewrite.New(rewrite.Config{
			KeepCSP:        cfg.Rewrite.KeepCSP,
			StripScripts:   cfg.Rewrite.StripScripts,
			MaxTitleLength: cfg.Rewrite.MaxTitleLength,
		}),
		logger:  logger,
		metrics: metrics,
	}
}

// NewWithStages assembles a service from pre-built stages. Used by tests
// that need custom validators or fetch limits.
func NewWithStages(v *validate.Validator, f *fetch.Fetcher, r *rewrite.Rewriter, logger *logging.Logger) *Service {
	return &Service{validator: v, fetcher: f, rewriter: r, logger: logger}
}

// Fetch runs the full pipeline for one client-supplied URL.
func (s *Service) Fetch(ctx context.Context, rawURL string) (*Page, error) {
	target, err := s.validator.Validate(ctx, rawURL)
	if err != nil {
		s.recordFailure(rawURL, err, 0, 0)
		return nil, err
	}

	start := time.Now()
	result, err := s.fetcher.Fetch(ctx, target)
	upstream := time.Since(start)
	if err != nil {
		s.recordFailure(rawURL, err, upstream, 0)
		return nil, err
	}

	doc, err := s.rewriter.Rewrite(result.HTML, result.FinalURL)
	if err != nil {
		s.recordFailure(rawURL, err, upstream, result.Bytes)
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.RecordFetch("ok", upstream, result.Bytes)
	}
	s.logger.Info("page fetched",
		zap.String("url", rawURL),
		zap.String("final_url", result.FinalURL),
		zap.Int64("bytes", result.Bytes),
		zap.Duration("upstream", upstream),
	)

	return &Page{Title: doc.Title, HTML: doc.HTML, FinalURL: doc.FinalURL}, nil
}

func (s *Service) recordFailure(rawURL string, err error, upstream time.Duration, bytes int64) {
	kind := errs.KindOf(err)
	if s.metrics != nil {
		s.metrics.RecordFetch(string(kind), upstream, bytes)
	}
	s.logger.Warn("fetch rejected",
		zap.String("url", rawURL),
		zap.String("kind", string(kind)),
		zap.Error(err),
	)
}
