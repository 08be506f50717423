package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/hlog"

	"pastelock/pkg/domain"
	"pastelock/svc/svc"
	"pastelock/svc/util"
	"pastelock/svc/views"
)

type AnalyticsHdl struct {
	agg   *views.Aggregator
	paste *svc.Paste
}

func (h *AnalyticsHdl) GetAnalytics(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)
	requestID := util.GetRequestID(r.Context())
	id := chi.URLParam(r, "id")
	report, err := h.agg.Summarize(r.Context(), id)
	if err != nil {
		cause := errors.Cause(err)
		if errors.Is(cause, domain.ErrPasteNotFound) {
			writeErr(w, cause, requestID)
			return
		}
		log.Error().Err(err).Str("paste_id", id).Msg("failed to build analytics")
		writeErr(w, domain.ErrInternalServer, requestID)
		return
	}
	json.NewEncoder(w).Encode(report)
}

// ResetViews zeroes the counter; the ledger survives.
func (h *AnalyticsHdl) ResetViews(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)
	requestID := util.GetRequestID(r.Context())
	id := chi.URLParam(r, "id")
	if err := h.paste.ResetViews(r.Context(), id); err != nil {
		cause := errors.Cause(err)
		if errors.Is(cause, domain.ErrPasteNotFound) {
			writeErr(w, cause, requestID)
			return
		}
		log.Error().Err(err).Str("paste_id", id).Msg("failed to reset views")
		writeErr(w, domain.ErrInternalServer, requestID)
		return
	}
	log.Info().Str("paste_id", id).Msg("view counter reset")
	json.NewEncoder(w).Encode(map[string]string{"status": "reset"})
}

// ClearViews drops the ledger; the counter survives.
func (h *AnalyticsHdl) ClearViews(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)
	requestID := util.GetRequestID(r.Context())
	id := chi.URLParam(r, "id")
	removed, err := h.paste.ClearViews(r.Context(), id)
	if err != nil {
		cause := errors.Cause(err)
		if errors.Is(cause, domain.ErrPasteNotFound) {
			writeErr(w, cause, requestID)
			return
		}
		log.Error().Err(err).Str("paste_id", id).Msg("failed to clear views")
		writeErr(w, domain.ErrInternalServer, requestID)
		return
	}
	log.Info().Str("paste_id", id).Int64("removed", removed).Msg("view ledger cleared")
	json.NewEncoder(w).Encode(map[string]int64{"removed": removed})
}

func (h *AnalyticsHdl) ClearAllViews(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)
	requestID := util.GetRequestID(r.Context())
	removed, err := h.paste.ClearAllViews(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("failed to clear all views")
		writeErr(w, domain.ErrInternalServer, requestID)
		return
	}
	log.Info().Int64("removed", removed).Msg("all view ledgers cleared")
	json.NewEncoder(w).Encode(map[string]int64{"removed": removed})
}
