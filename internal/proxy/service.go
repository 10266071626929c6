package proxy

import (
	"context"
	"errors"
	"fmt"
	"runtime"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/imagerelay/imagerelay/internal/config"
	"github.com/imagerelay/imagerelay/internal/fetch"
	"github.com/imagerelay/imagerelay/internal/imageproc"
	"github.com/imagerelay/imagerelay/internal/urlclean"
)

// Service runs the pipeline: sanitize, fetch, probe, plan, transform.
// One logical pipeline instance per request over shared read-only config;
// codec work is bounded by a process-wide semaphore.
type Service struct {
	cfg     *config.Config
	engine  imageproc.Engine
	fetcher *fetch.Fetcher
	codec   *semaphore.Weighted
	logger  zerolog.Logger
}

// Result is what the emitter needs to answer a successful request.
type Result struct {
	Data         []byte
	Format       imageproc.Format
	Original     imageproc.Metadata
	OriginalSize int
	Width        int
	Height       int
	Resized      bool
}

func NewService(cfg *config.Config, engine imageproc.Engine, fetcher *fetch.Fetcher, logger zerolog.Logger) *Service {
	return &Service{
		cfg:     cfg,
		engine:  engine,
		fetcher: fetcher,
		codec:   semaphore.NewWeighted(int64(codecLimit())),
		logger:  logger,
	}
}

// codecLimit bounds concurrent encode/decode work: cores minus one, at
// least 1 and at most 4.
func codecLimit() int {
	n := runtime.NumCPU() - 1
	if n < 1 {
		n = 1
	}
	if n > 4 {
		n = 4
	}
	return n
}

// Process executes the stages strictly in order; any failure
// short-circuits with a typed error and later stages never run.
func (s *Service) Process(ctx context.Context, req *TransformRequest) (*Result, error) {
	cleanURL, err := urlclean.Clean(req.SourceURL)
	if err != nil {
		return nil, newError(KindInvalidURL, err.Error())
	}

	fetched, err := s.fetcher.Fetch(ctx, cleanURL)
	if err != nil {
		return nil, classifyFetchError(err)
	}

	meta, err := s.engine.Metadata(fetched.Data)
	if err != nil {
		return nil, newError(KindInvalidImage, fmt.Sprintf("could not read image: %v", err))
	}

	format, err := s.resolveFormat(req, meta)
	if err != nil {
		return nil, err
	}

	plan := imageproc.BuildPlan(imageproc.PlanInput{
		Width:     req.Width,
		Height:    req.Height,
		Quality:   req.Quality,
		Grayscale: req.Grayscale,
		Format:    format,
	}, meta, s.cfg.MaxWidth, s.cfg.MaxHeight)

	if err := s.codec.Acquire(ctx, 1); err != nil {
		return nil, newError(KindInternal, "request canceled while waiting for codec slot")
	}
	out, err := s.engine.Transform(fetched.Data, plan)
	s.codec.Release(1)
	if err != nil {
		if errors.Is(err, imageproc.ErrInvalidImage) {
			return nil, newError(KindInvalidImage, fmt.Sprintf("could not decode image: %v", err))
		}
		return nil, newError(KindInternal, fmt.Sprintf("transform failed: %v", err))
	}

	result := &Result{
		Data:         out,
		Format:       plan.Format,
		Original:     meta,
		OriginalSize: len(fetched.Data),
		Width:        meta.Width,
		Height:       meta.Height,
		Resized:      plan.Resize != nil,
	}
	if plan.Resize != nil {
		result.Width = plan.Resize.Width
		result.Height = plan.Resize.Height
	}

	s.logger.Info().
		Str("url", cleanURL).
		Str("source_format", meta.Format).
		Str("output_format", string(plan.Format)).
		Int("original_size", result.OriginalSize).
		Int("output_size", len(out)).
		Bool("resized", result.Resized).
		Msg("processed image")

	return result, nil
}

// resolveFormat applies the priority order: explicit parameter, Accept
// negotiation, configured default. Explicit formats the engine cannot
// encode are rejected; negotiated or default ones fall back to a format
// every engine supports.
func (s *Service) resolveFormat(req *TransformRequest, meta imageproc.Metadata) (imageproc.Format, error) {
	if req.Format != "" {
		if !s.engine.Supports(req.Format) {
			return "", newError(KindUnsupportedFormat,
				fmt.Sprintf("format %q is not available on this server", req.Format))
		}
		return req.Format, nil
	}

	def, _ := imageproc.ParseFormat(s.cfg.DefaultFormat)
	if def == "" {
		def = imageproc.FormatWebP
	}
	format := imageproc.NegotiateFormat(req.Accept, def)
	if !s.engine.Supports(format) {
		format = imageproc.FallbackFormat(meta)
	}
	return format, nil
}

func classifyFetchError(err error) *Error {
	var statusErr *fetch.StatusError
	switch {
	case errors.Is(err, fetch.ErrBlocked):
		return newError(KindDomainBlocked, err.Error())
	case errors.Is(err, fetch.ErrNotAnImage):
		return newError(KindNotAnImage, err.Error())
	case errors.Is(err, fetch.ErrTooLarge):
		return newError(KindPayloadTooLarge, err.Error())
	case errors.Is(err, fetch.ErrTimeout):
		return newError(KindTimeout, err.Error())
	case errors.As(err, &statusErr):
		return &Error{Kind: KindUpstream, Message: err.Error(), Upstream: statusErr.Code}
	case errors.Is(err, fetch.ErrConnection):
		return newError(KindConnectionFailed, err.Error())
	default:
		return newError(KindInternal, err.Error())
	}
}
