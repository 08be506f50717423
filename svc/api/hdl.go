package api

import (
	"encoding/json"
	"io"
	"mime"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/hlog"

	"pastelock/cfg"
	"pastelock/pkg/domain"
	"pastelock/svc/lim"
	"pastelock/svc/svc"
	"pastelock/svc/util"
)

const (
	maxTTL = 365 * 24 * time.Hour
	minTTL = 60 * time.Second
)

type Hdl struct {
	paste *svc.Paste
	cfg   *cfg.Cfg
}

type CreateReq struct {
	Title         string `json:"title,omitempty"`
	Content       string `json:"content"`
	Language      string `json:"language,omitempty"`
	Password      string `json:"password,omitempty"`
	IsPublic      *bool  `json:"is_public,omitempty"`
	BurnAfterRead bool   `json:"burn_after_read,omitempty"`
	ExpiresIn     string `json:"expires_in,omitempty"`
	FolderID      string `json:"folder_id,omitempty"`
}

func (h *Hdl) decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	log := hlog.FromRequest(r)
	requestID := util.GetRequestID(r.Context())
	contentType := r.Header.Get("Content-Type")
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil || mediaType != "application/json" {
		log.Warn().
			Str("content_type", contentType).
			Str("request_id", requestID).
			Msg("invalid Content-Type header")
		w.WriteHeader(http.StatusUnsupportedMediaType)
		json.NewEncoder(w).Encode(map[string]string{
			"error":      "expected Content-Type: application/json",
			"request_id": requestID,
		})
		return false
	}
	limit := h.cfg.MaxPasteSize * 2
	if clHeader := r.Header.Get("Content-Length"); clHeader != "" {
		cl, err := strconv.ParseInt(clHeader, 10, 64)
		if err != nil || cl < 0 {
			log.Warn().Str("content_length", clHeader).Msg("invalid Content-Length")
			writeErr(w, domain.ErrInvalidRequest, requestID)
			return false
		}
		if cl > limit {
			log.Warn().Int64("content_length", cl).Msg("Content-Length exceeds maximum")
			writeErr(w, domain.ErrPasteTooLarge, requestID)
			return false
		}
	}
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if err == io.EOF {
			log.Warn().Msg("empty request body")
		} else {
			log.Warn().Err(err).Msg("invalid request")
		}
		writeErr(w, domain.ErrInvalidRequest, requestID)
		return false
	}
	return true
}

func (h *Hdl) CreatePaste(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)
	requestID := util.GetRequestID(r.Context())
	var req CreateReq
	if !h.decodeJSON(w, r, &req) {
		return
	}
	if req.Content == "" {
		log.Warn().Msg("empty content")
		writeErr(w, domain.ErrContentRequired, requestID)
		return
	}

	var expiresAt *time.Time
	if req.ExpiresIn != "" {
		d, err := time.ParseDuration(req.ExpiresIn)
		if err != nil || d < minTTL {
			log.Warn().Str("expires_in", req.ExpiresIn).Msg("invalid expiry")
			writeErr(w, domain.ErrInvalidRequest, requestID)
			return
		}
		if d > maxTTL {
			log.Warn().Dur("requested", d).Msg("expiry exceeds max, capping")
			d = maxTTL
		}
		t := time.Now().Add(d)
		expiresAt = &t
	}

	// Pastes default to public; visibility gates only apply when the
	// creator opts out.
	isPublic := true
	if req.IsPublic != nil {
		isPublic = *req.IsPublic
	}

	params := domain.CreateParams{
		Title:         req.Title,
		Content:       req.Content,
		Language:      req.Language,
		Password:      req.Password,
		IsPublic:      isPublic,
		BurnAfterRead: req.BurnAfterRead,
		ExpiresAt:     expiresAt,
		FolderID:      req.FolderID,
	}
	paste, err := h.paste.Create(r.Context(), params)
	if err != nil {
		cause := errors.Cause(err)
		if errors.Is(cause, domain.ErrPasteTooLarge) || errors.Is(cause, domain.ErrContentRequired) || errors.Is(cause, domain.ErrInvalidRequest) {
			writeErr(w, cause, requestID)
			return
		}
		log.Error().Err(err).Msg("failed to create paste")
		writeErr(w, domain.ErrInternalServer, requestID)
		return
	}
	log.Info().
		Str("paste_id", paste.ID).
		Bool("public", paste.IsPublic).
		Bool("password_protected", req.Password != "").
		Bool("burn_after_read", paste.BurnAfterRead).
		Msg("paste created")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(paste)
}

func (h *Hdl) GetPaste(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)
	requestID := util.GetRequestID(r.Context())
	id := chi.URLParam(r, "id")

	password := r.URL.Query().Get("password")
	if password == "" {
		password = r.Header.Get("X-Paste-Password")
	}
	accessKey := r.URL.Query().Get("key")
	if accessKey == "" {
		accessKey = r.Header.Get("X-Access-Key")
	}
	creds := domain.Credentials{
		IsAdmin:    isAdmin(r),
		AccessKey:  accessKey,
		Password:   password,
		Origin:     lim.GetRealIP(r, h.cfg.TrustedProxies),
		EditIntent: r.URL.Query().Get("edit") == "true",
	}
	track := r.URL.Query().Get("track") != "false"

	ctx := svc.WithUserAgent(r.Context(), r.UserAgent())
	paste, err := h.paste.Get(ctx, id, creds, track)
	if err != nil {
		cause := errors.Cause(err)
		status := domain.Status(cause)
		if status >= 500 {
			log.Error().Err(err).Str("paste_id", id).Msg("get failed")
			writeErr(w, domain.ErrInternalServer, requestID)
			return
		}
		log.Warn().
			Err(cause).
			Str("paste_id", id).
			Str("client_ip", util.RedactIP(r.RemoteAddr)).
			Msg("access denied")
		writeErr(w, cause, requestID)
		return
	}
	log.Info().
		Str("paste_id", id).
		Str("client_ip", util.RedactIP(r.RemoteAddr)).
		Int64("views", paste.Views).
		Msg("paste retrieved")
	json.NewEncoder(w).Encode(paste)
}

type UpdateReq struct {
	Title         *string    `json:"title,omitempty"`
	Content       *string    `json:"content,omitempty"`
	Language      *string    `json:"language,omitempty"`
	Password      *string    `json:"password,omitempty"`
	IsPublic      *bool      `json:"is_public,omitempty"`
	BurnAfterRead *bool      `json:"burn_after_read,omitempty"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
}

func (h *Hdl) UpdatePaste(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)
	requestID := util.GetRequestID(r.Context())
	id := chi.URLParam(r, "id")
	var req UpdateReq
	if !h.decodeJSON(w, r, &req) {
		return
	}
	paste, err := h.paste.Update(r.Context(), id, domain.UpdateParams{
		Title:         req.Title,
		Content:       req.Content,
		Language:      req.Language,
		Password:      req.Password,
		IsPublic:      req.IsPublic,
		BurnAfterRead: req.BurnAfterRead,
		ExpiresAt:     req.ExpiresAt,
	})
	if err != nil {
		cause := errors.Cause(err)
		if domain.Status(cause) >= 500 {
			log.Error().Err(err).Str("paste_id", id).Msg("update failed")
			writeErr(w, domain.ErrInternalServer, requestID)
			return
		}
		writeErr(w, cause, requestID)
		return
	}
	log.Info().Str("paste_id", id).Msg("paste updated")
	json.NewEncoder(w).Encode(paste)
}

func (h *Hdl) DeletePaste(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)
	requestID := util.GetRequestID(r.Context())
	id := chi.URLParam(r, "id")
	if err := h.paste.Delete(r.Context(), id); err != nil {
		cause := errors.Cause(err)
		if errors.Is(cause, domain.ErrPasteNotFound) {
			writeErr(w, cause, requestID)
			return
		}
		log.Error().Err(err).Str("paste_id", id).Msg("failed to delete paste")
		writeErr(w, domain.ErrInternalServer, requestID)
		return
	}
	json.NewEncoder(w).Encode(map[string]string{"status": "deleted"})
}

func (h *Hdl) ListPastes(w http.ResponseWriter, r *http.Request) {
	requestID := util.GetRequestID(r.Context())
	summaries, err := h.paste.List(r.Context())
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("failed to list pastes")
		writeErr(w, domain.ErrInternalServer, requestID)
		return
	}
	json.NewEncoder(w).Encode(summaries)
}

func (h *Hdl) Stats(w http.ResponseWriter, r *http.Request) {
	requestID := util.GetRequestID(r.Context())
	stats, err := h.paste.Stats(r.Context())
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("failed to build stats")
		writeErr(w, domain.ErrInternalServer, requestID)
		return
	}
	json.NewEncoder(w).Encode(stats)
}

func writeErr(w http.ResponseWriter, err error, requestID string) {
	statusCode := domain.Status(err)
	w.WriteHeader(statusCode)
	errorMsg := domain.ToResp(err).Error.Msg
	if statusCode >= 500 {
		errorMsg = "internal server error"
		util.Error().
			Err(err).
			Str("request_id", requestID).
			Msg("internal error with detailed info")
	}
	json.NewEncoder(w).Encode(map[string]string{
		"error":      errorMsg,
		"request_id": requestID,
	})
}
