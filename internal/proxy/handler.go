package proxy

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/imagerelay/imagerelay/internal/config"
)

// Handler is the HTTP face of the pipeline: it validates parameters,
// invokes the service and emits the response. Headers are the commit
// point; once an error response starts, no image bytes follow.
type Handler struct {
	service *Service
	cfg     *config.Config
	logger  zerolog.Logger
}

func NewHandler(service *Service, cfg *config.Config, logger zerolog.Logger) *Handler {
	return &Handler{
		service: service,
		cfg:     cfg,
		logger:  logger,
	}
}

// HandleTransform serves GET requests for transformed images.
func (h *Handler) HandleTransform(w http.ResponseWriter, r *http.Request) {
	req, err := ParseRequest(r.URL.Query(), r.Header.Get("Accept"), h.cfg)
	if err != nil {
		h.writeError(w, err)
		return
	}

	result, err := h.service.Process(r.Context(), req)
	if err != nil {
		h.writeError(w, err)
		return
	}

	header := w.Header()
	header.Set("Content-Type", result.Format.MIME())
	header.Set("Content-Length", strconv.Itoa(len(result.Data)))
	header.Set("Cache-Control", "public, max-age=31536000, immutable")
	header.Set("X-Original-Size", strconv.Itoa(result.OriginalSize))
	header.Set("X-Original-Width", strconv.Itoa(result.Original.Width))
	header.Set("X-Original-Height", strconv.Itoa(result.Original.Height))
	header.Set("X-Processed-Width", strconv.Itoa(result.Width))
	header.Set("X-Processed-Height", strconv.Itoa(result.Height))
	header.Set("X-Processed-Format", string(result.Format))
	header.Set("X-Resize-Applied", strconv.FormatBool(result.Resized))

	if _, err := w.Write(result.Data); err != nil {
		// Headers are committed; the stream is simply terminated.
		h.logger.Debug().Err(err).Msg("client disconnected mid-response")
	}
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	var perr *Error
	if !errors.As(err, &perr) {
		perr = newError(KindInternal, err.Error())
	}

	message := perr.Message
	if perr.Kind == KindInternal && !h.cfg.DevMode {
		message = "internal server error"
	}

	status := perr.HTTPStatus()
	if status >= 500 {
		h.logger.Error().Err(err).Int("status", status).Msg("request failed")
	} else {
		h.logger.Debug().Err(err).Int("status", status).Msg("request rejected")
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
