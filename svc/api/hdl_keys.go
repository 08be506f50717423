package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/hlog"

	"pastelock/cfg"
	"pastelock/pkg/domain"
	"pastelock/svc/keys"
	"pastelock/svc/lim"
	"pastelock/svc/util"
)

type KeyHdl struct {
	keys *keys.Service
	cfg  *cfg.Cfg
}

type GenerateKeyReq struct {
	Identity string `json:"identity,omitempty"`
}

func (h *KeyHdl) GenerateKey(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)
	requestID := util.GetRequestID(r.Context())
	var req GenerateKeyReq
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeErr(w, domain.ErrInvalidRequest, requestID)
			return
		}
	}
	key, err := h.keys.Generate(r.Context(), req.Identity)
	if err != nil {
		log.Error().Err(err).Msg("failed to generate key")
		writeErr(w, domain.ErrInternalServer, requestID)
		return
	}
	log.Info().Str("key", util.RedactKey(key.Key)).Str("identity", key.BoundIdentity).Msg("access key generated")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(key)
}

func (h *KeyHdl) ListKeys(w http.ResponseWriter, r *http.Request) {
	requestID := util.GetRequestID(r.Context())
	list, err := h.keys.List(r.Context())
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("failed to list keys")
		writeErr(w, domain.ErrInternalServer, requestID)
		return
	}
	json.NewEncoder(w).Encode(list)
}

func (h *KeyHdl) RevokeKey(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)
	requestID := util.GetRequestID(r.Context())
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeErr(w, domain.ErrInvalidRequest, requestID)
		return
	}
	if err := h.keys.Revoke(r.Context(), id); err != nil {
		cause := errors.Cause(err)
		if errors.Is(cause, domain.ErrKeyInvalid) {
			writeErr(w, cause, requestID)
			return
		}
		log.Error().Err(err).Int64("key_id", id).Msg("failed to revoke key")
		writeErr(w, domain.ErrInternalServer, requestID)
		return
	}
	log.Info().Int64("key_id", id).Msg("access key revoked")
	json.NewEncoder(w).Encode(map[string]string{"status": "revoked"})
}

type VerifyKeyReq struct {
	Key string `json:"key"`
}

// VerifyKey lets a client check a key without fetching a paste. It is
// a real redemption: an unclaimed key binds to the caller's origin.
func (h *KeyHdl) VerifyKey(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)
	requestID := util.GetRequestID(r.Context())
	var req VerifyKeyReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Key == "" {
		writeErr(w, domain.ErrInvalidRequest, requestID)
		return
	}
	origin := lim.GetRealIP(r, h.cfg.TrustedProxies)
	result, err := h.keys.Verify(r.Context(), req.Key, origin)
	if err != nil {
		log.Error().Err(err).Str("key", util.RedactKey(req.Key)).Msg("key verification failed")
		writeErr(w, domain.ErrInternalServer, requestID)
		return
	}
	json.NewEncoder(w).Encode(map[string]interface{}{
		"result": result.String(),
		"valid":  result == domain.KeyValid,
	})
}

type AccessRequestReq struct {
	Identity string `json:"identity,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

// SubmitRequest is the one unauthenticated key endpoint: anyone may ask
// for access; only an admin can turn the request into a key.
func (h *KeyHdl) SubmitRequest(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)
	requestID := util.GetRequestID(r.Context())
	var req AccessRequestReq
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeErr(w, domain.ErrInvalidRequest, requestID)
			return
		}
	}
	ar, err := h.keys.SubmitRequest(r.Context(), req.Identity, req.Reason)
	if err != nil {
		log.Error().Err(err).Msg("failed to submit access request")
		writeErr(w, domain.ErrInternalServer, requestID)
		return
	}
	log.Info().Int64("request_id_num", ar.ID).Str("identity", ar.Identity).Msg("access request submitted")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(ar)
}

func (h *KeyHdl) ListRequests(w http.ResponseWriter, r *http.Request) {
	requestID := util.GetRequestID(r.Context())
	list, err := h.keys.ListRequests(r.Context())
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("failed to list access requests")
		writeErr(w, domain.ErrInternalServer, requestID)
		return
	}
	json.NewEncoder(w).Encode(list)
}

func (h *KeyHdl) ApproveRequest(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)
	requestID := util.GetRequestID(r.Context())
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeErr(w, domain.ErrInvalidRequest, requestID)
		return
	}
	key, err := h.keys.Approve(r.Context(), id)
	if err != nil {
		cause := errors.Cause(err)
		if errors.Is(cause, domain.ErrRequestNotFound) || errors.Is(cause, domain.ErrInvalidRequest) {
			writeErr(w, cause, requestID)
			return
		}
		log.Error().Err(err).Int64("request_id_num", id).Msg("failed to approve access request")
		writeErr(w, domain.ErrInternalServer, requestID)
		return
	}
	log.Info().Int64("request_id_num", id).Str("key", util.RedactKey(key.Key)).Msg("access request approved")
	json.NewEncoder(w).Encode(key)
}

func (h *KeyHdl) DenyRequest(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)
	requestID := util.GetRequestID(r.Context())
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeErr(w, domain.ErrInvalidRequest, requestID)
		return
	}
	if err := h.keys.Deny(r.Context(), id); err != nil {
		cause := errors.Cause(err)
		if errors.Is(cause, domain.ErrRequestNotFound) || errors.Is(cause, domain.ErrInvalidRequest) {
			writeErr(w, cause, requestID)
			return
		}
		log.Error().Err(err).Int64("request_id_num", id).Msg("failed to deny access request")
		writeErr(w, domain.ErrInternalServer, requestID)
		return
	}
	log.Info().Int64("request_id_num", id).Msg("access request denied")
	json.NewEncoder(w).Encode(map[string]string{"status": "denied"})
}
