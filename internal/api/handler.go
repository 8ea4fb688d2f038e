package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/StreetsDigital/prebidjs-light-sub004/internal/delivery"
)

// Resolver is the slice of delivery.Service the handlers need.
type Resolver interface {
	ServeScript(ctx context.Context, publisherID int64, country, userAgent string) ([]byte, error)
	ResolveConfig(ctx context.Context, slug, country, userAgent, explicitVariant string) (delivery.ConfigResult, error)
}

type Handler struct {
	Svc       Resolver
	GeoHeader string
}

func NewHandler(svc Resolver, geoHeader string) *Handler {
	if geoHeader == "" {
		geoHeader = "CF-IPCountry"
	}
	return &Handler{Svc: svc, GeoHeader: geoHeader}
}

// Script serves GET /pb/{publisherID}.js.
func (h *Handler) Script(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "publisherID"), 10, 64)
	if err != nil {
		http.NotFound(w, r)
		return
	}

	payload, err := h.Svc.ServeScript(r.Context(), id, r.Header.Get(h.GeoHeader), r.UserAgent())
	if err != nil {
		h.writeResolveError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/javascript")
	w.Header().Set("Cache-Control", "public, max-age=300")
	w.Header().Set("Vary", h.GeoHeader+", User-Agent")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(payload)
}

// configResponse is the body of GET /c/{publisherSlug}.
type configResponse struct {
	Publisher string          `json:"publisher"`
	Config    json.RawMessage `json:"config"`
	ABTest    *abMeta         `json:"abTest,omitempty"`
}

type abMeta struct {
	TestID      int64  `json:"testId"`
	VariantID   int64  `json:"variantId"`
	VariantName string `json:"variantName"`
	IsControl   bool   `json:"isControl"`
}

// Config serves GET /c/{publisherSlug}?variant=<id>.
func (h *Handler) Config(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "publisherSlug")

	res, err := h.Svc.ResolveConfig(r.Context(), slug, r.Header.Get(h.GeoHeader), r.UserAgent(), r.URL.Query().Get("variant"))
	if err != nil {
		h.writeResolveError(w, r, err)
		return
	}

	cfgJSON, err := json.Marshal(res.Config)
	if err != nil {
		log.Error().Err(err).Str("slug", slug).Msg("config marshal failed")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	body := configResponse{Publisher: res.Publisher.Slug, Config: cfgJSON}
	if res.ExperimentActive() {
		body.ABTest = &abMeta{
			TestID:      *res.ABTestID,
			VariantID:   res.Variant.ID,
			VariantName: res.Variant.Name,
			IsControl:   res.Variant.IsControl,
		}
	}

	// Experiments need faster variant-switch visibility downstream.
	maxAge := "public, max-age=300"
	if res.ExperimentActive() {
		maxAge = "public, max-age=60"
	}
	w.Header().Set("Cache-Control", maxAge)
	w.Header().Set("Access-Control-Allow-Origin", "*")
	writeJSON(w, http.StatusOK, body)
}

func (h *Handler) writeResolveError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, delivery.ErrPublisherNotFound):
		http.Error(w, "publisher not found", http.StatusNotFound)
	case errors.Is(err, delivery.ErrPublisherInactive):
		http.Error(w, "publisher not active", http.StatusForbidden)
	case errors.Is(err, delivery.ErrNoConfig):
		http.Error(w, "no config found", http.StatusNotFound)
	default:
		log.Error().Err(err).Str("path", r.URL.Path).Msg("resolve failed")
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
