// Package httpapi exposes the REST surface of the server.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/plantree-xyz/plantree-server/internal/app/domain/post"
	"github.com/plantree-xyz/plantree-server/internal/app/domain/user"
	"github.com/plantree-xyz/plantree-server/internal/app/metrics"
	"github.com/plantree-xyz/plantree-server/internal/app/services/content"
	"github.com/plantree-xyz/plantree-server/internal/app/services/identity"
	"github.com/plantree-xyz/plantree-server/internal/app/services/session"
	"github.com/plantree-xyz/plantree-server/internal/app/services/uploads"
	"github.com/plantree-xyz/plantree-server/internal/app/storage"
	"github.com/plantree-xyz/plantree-server/pkg/logger"
)

// Config holds the handler's routing-time settings.
type Config struct {
	AllowedOrigins []string
	RateLimitRPS   float64
	RateLimitBurst int
	ErrorRedirect  string
	BackupRedirect string
}

// Liveness reports whether the chain node behind the server answers.
type Liveness interface {
	GetBlockCount(ctx context.Context) (uint64, error)
}

// Handler bundles the HTTP endpoints over the application services.
type Handler struct {
	identity *identity.Service
	sessions *session.Service
	content  *content.Service
	uploads  *uploads.Service
	users    storage.UserStore
	chain    Liveness
	cfg      Config
	log      *logger.Logger
}

// New constructs the handler. chain may be nil; the health endpoint then
// skips the node check.
func New(identitySvc *identity.Service, sessions *session.Service, contentSvc *content.Service, uploadsSvc *uploads.Service, users storage.UserStore, chain Liveness, cfg Config, log *logger.Logger) *Handler {
	if log == nil {
		log = logger.NewDefault("httpapi")
	}
	if cfg.ErrorRedirect == "" {
		cfg.ErrorRedirect = "/error"
	}
	if cfg.BackupRedirect == "" {
		cfg.BackupRedirect = "/~/backup"
	}
	return &Handler{
		identity: identitySvc,
		sessions: sessions,
		content:  contentSvc,
		uploads:  uploadsSvc,
		users:    users,
		chain:    chain,
		cfg:      cfg,
		log:      log,
	}
}

// Router builds the mux with all routes and middleware attached.
func (h *Handler) Router() http.Handler {
	r := mux.NewRouter()
	r.Use(recoveryMiddleware(h.log))
	r.Use(metricsMiddleware)
	r.Use(corsMiddleware(h.cfg.AllowedOrigins))
	if h.cfg.RateLimitRPS > 0 {
		r.Use(rateLimitMiddleware(h.cfg.RateLimitRPS, h.cfg.RateLimitBurst))
	}

	r.HandleFunc("/healthz", h.health).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	r.HandleFunc("/api/auth/login", h.login).Methods(http.MethodPost)
	r.HandleFunc("/api/google-drive-oauth", h.googleDriveOAuth).Methods(http.MethodGet)
	r.HandleFunc("/api/posts/published", h.publishedPosts).Methods(http.MethodGet)

	authed := r.NewRoute().Subrouter()
	authed.Use(authMiddleware(h.sessions))
	authed.HandleFunc("/api/auth/refresh", h.refresh).Methods(http.MethodPost)
	authed.HandleFunc("/api/auth/session", h.sessionInfo).Methods(http.MethodGet)
	authed.HandleFunc("/api/upload", h.upload).Methods(http.MethodPost)
	authed.HandleFunc("/api/posts", h.listPosts).Methods(http.MethodGet)
	authed.HandleFunc("/api/posts", h.createPost).Methods(http.MethodPost)
	authed.HandleFunc("/api/posts/{id}", h.postByID).Methods(http.MethodGet)
	authed.HandleFunc("/api/posts/{id}", h.updatePost).Methods(http.MethodPatch)
	authed.HandleFunc("/api/posts/{id}", h.deletePost).Methods(http.MethodDelete)
	authed.HandleFunc("/api/posts/{id}/cover", h.updateCover).Methods(http.MethodPut)
	authed.HandleFunc("/api/posts/{id}/publish", h.publishPost).Methods(http.MethodPost)
	authed.HandleFunc("/api/posts/{id}/tags", h.tagPost).Methods(http.MethodPost)

	return r
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	body := map[string]interface{}{
		"status":    "healthy",
		"service":   "plantree-server",
		"timestamp": time.Now().Format(time.RFC3339),
	}
	if h.chain != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if height, err := h.chain.GetBlockCount(ctx); err != nil {
			body["status"] = "degraded"
			body["chain"] = map[string]interface{}{"status": "unreachable"}
		} else {
			body["chain"] = map[string]interface{}{"status": "ok", "blockHeight": height}
		}
	}
	writeJSON(w, http.StatusOK, body)
}

// --- Auth --------------------------------------------------------------------

type loginRequest struct {
	Kind      string `json:"kind"`
	Message   string `json:"message,omitempty"`
	Signature string `json:"signature,omitempty"`
	PublicKey string `json:"publicKey,omitempty"`
	Token     string `json:"token,omitempty"`
	Address   string `json:"address,omitempty"`
	Email     string `json:"email,omitempty"`
	OpenID    string `json:"openid,omitempty"`
	Name      string `json:"name,omitempty"`
	Picture   string `json:"picture,omitempty"`
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		jsonError(w, "invalid request", http.StatusBadRequest)
		return
	}

	var cred identity.Credential
	switch req.Kind {
	case "wallet":
		cred = identity.WalletCredential{Message: req.Message, Signature: req.Signature, PublicKey: req.PublicKey}
	case "provider":
		cred = identity.ProviderTokenCredential{Token: req.Token, Address: req.Address}
	case "google":
		cred = identity.GoogleCredential{Email: req.Email, OpenID: req.OpenID, Name: req.Name, Picture: req.Picture}
	default:
		jsonError(w, "unknown credential kind", http.StatusBadRequest)
		return
	}

	u, chainID, err := h.identity.Authenticate(r.Context(), cred)
	if err != nil {
		metrics.RecordLogin(req.Kind, false)
		if errors.Is(err, identity.ErrAuthenticationFailed) {
			jsonError(w, "authentication failed", http.StatusUnauthorized)
			return
		}
		h.log.WithError(err).Warn("login failed")
		jsonError(w, "internal error", http.StatusInternalServerError)
		return
	}

	if u.Address != "" && u.EnsName == "" {
		u.EnsName = h.sessions.LookupEnsName(r.Context(), u.Address)
	}

	token, err := h.sessions.Issue(u, chainID)
	if err != nil {
		h.log.WithError(err).Warn("token issue failed")
		jsonError(w, "internal error", http.StatusInternalServerError)
		return
	}

	metrics.RecordLogin(req.Kind, true)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"token": token,
		"user":  u,
	})
}

func (h *Handler) refresh(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())

	token, err := h.sessions.Refresh(r.Context(), claims)
	if err != nil {
		h.log.WithError(err).Warn("session refresh failed")
		jsonError(w, "internal error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

func (h *Handler) sessionInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, ClaimsFromContext(r.Context()))
}

// --- Google Drive OAuth callback ---------------------------------------------

func (h *Handler) googleDriveOAuth(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	accessToken := query.Get("access_token")
	refreshToken := query.Get("refresh_token")
	expiryDate := query.Get("expiry_date")
	address := query.Get("address")

	if accessToken == "" || refreshToken == "" || expiryDate == "" || address == "" {
		http.Redirect(w, r, h.cfg.ErrorRedirect, http.StatusFound)
		return
	}

	expiry, err := strconv.ParseInt(expiryDate, 10, 64)
	if err != nil {
		http.Redirect(w, r, h.cfg.ErrorRedirect, http.StatusFound)
		return
	}

	err = h.users.UpdateGoogleTokens(r.Context(), address, user.GoogleTokens{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiryDate:   expiry,
	})
	if err != nil {
		h.log.WithError(err).WithField("address", address).Warn("storing drive tokens failed")
		http.Redirect(w, r, h.cfg.ErrorRedirect, http.StatusFound)
		return
	}

	http.Redirect(w, r, h.cfg.BackupRedirect, http.StatusFound)
}

// --- Upload ------------------------------------------------------------------

func (h *Handler) upload(w http.ResponseWriter, r *http.Request) {
	hash := r.URL.Query().Get("fileHash")
	contentType := r.Header.Get("Content-Type")

	result, err := h.uploads.Store(r.Context(), hash, contentType, r.Body)
	if err != nil {
		switch {
		case errors.Is(err, uploads.ErrNotConfigured):
			jsonError(w, "missing storage credentials", http.StatusUnauthorized)
		case errors.Is(err, uploads.ErrBadRequest):
			jsonError(w, err.Error(), http.StatusBadRequest)
		default:
			h.log.WithError(err).Warn("upload failed")
			jsonError(w, "upload failed", http.StatusInternalServerError)
		}
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// --- Posts -------------------------------------------------------------------

func (h *Handler) listPosts(w http.ResponseWriter, r *http.Request) {
	posts, err := h.content.List(r.Context())
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, posts)
}

func (h *Handler) publishedPosts(w http.ResponseWriter, r *http.Request) {
	posts, err := h.content.Published(r.Context())
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, posts)
}

func (h *Handler) postByID(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	p, err := h.content.ByID(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *Handler) createPost(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Type  string `json:"type"`
		Title string `json:"title"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		jsonError(w, "invalid request", http.StatusBadRequest)
		return
	}

	claims := ClaimsFromContext(r.Context())
	p, err := h.content.Create(r.Context(), claims.UID, post.Type(payload.Type), payload.Title)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (h *Handler) updatePost(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Title       *string `json:"title"`
		Content     *string `json:"content"`
		Description *string `json:"description"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		jsonError(w, "invalid request", http.StatusBadRequest)
		return
	}

	p, err := h.content.Update(r.Context(), mux.Vars(r)["id"], content.UpdateInput{
		Title:       payload.Title,
		Content:     payload.Content,
		Description: payload.Description,
	})
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *Handler) updateCover(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Image string `json:"image"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		jsonError(w, "invalid request", http.StatusBadRequest)
		return
	}

	p, err := h.content.UpdateCover(r.Context(), mux.Vars(r)["id"], payload.Image)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *Handler) publishPost(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		GateType string `json:"gateType"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		jsonError(w, "invalid request", http.StatusBadRequest)
		return
	}

	p, err := h.content.Publish(r.Context(), mux.Vars(r)["id"], post.GateType(payload.GateType))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *Handler) tagPost(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Name string `json:"name"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		jsonError(w, "invalid request", http.StatusBadRequest)
		return
	}

	tag, err := h.content.Tag(r.Context(), mux.Vars(r)["id"], payload.Name)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tag)
}

func (h *Handler) deletePost(w http.ResponseWriter, r *http.Request) {
	if err := h.content.Delete(r.Context(), mux.Vars(r)["id"]); err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// --- Helpers -----------------------------------------------------------------

func (h *Handler) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, content.ErrValidation):
		jsonError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, storage.ErrNotFound):
		jsonError(w, "not found", http.StatusNotFound)
	default:
		h.log.WithError(err).Warn("request failed")
		jsonError(w, "internal error", http.StatusInternalServerError)
	}
}

func decodeJSON(r io.Reader, v interface{}) error {
	dec := json.NewDecoder(io.LimitReader(r, 1<<20))
	return dec.Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func jsonError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
