package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"skilllink/internal/domain"
	"skilllink/internal/media"
	"skilllink/internal/service"
)

// MediaBridge uploads temp files to the asset store and removes assets.
type MediaBridge interface {
	Upload(ctx context.Context, localPath string) media.UploadResult
	Remove(ctx context.Context, publicID string)
}

// Options carries the HTTP layer settings.
type Options struct {
	CORSOrigins    []string
	TempDir        string
	MaxUploadBytes int64
	CookieSecure   bool
}

// Handler wires HTTP routes to domain services.
type Handler struct {
	users  service.UserService
	tokens *service.TokenManager
	media  MediaBridge
	opts   Options
	logger *logrus.Logger
}

func NewHandler(users service.UserService, tokens *service.TokenManager, bridge MediaBridge, opts Options, logger *logrus.Logger) *Handler {
	if opts.TempDir == "" {
		opts.TempDir = os.TempDir()
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = 10 << 20
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Handler{
		users:  users,
		tokens: tokens,
		media:  bridge,
		opts:   opts,
		logger: logger,
	}
}

func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.Use(corsMiddleware(h.opts.CORSOrigins))
	authRequired := requireAuth(h.tokens)

	api := router.Group("/api")
	{
		api.GET("/health", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"success": true, "status": "ok"})
		})

		auth := api.Group("/auth")
		auth.POST("/signup", h.signup)
		auth.POST("/login", h.login)
		auth.POST("/logout", h.logout)
		auth.POST("/forgot-password", h.forgotPassword)
		auth.POST("/reset-password", h.resetPassword)
		auth.GET("/me", authRequired, h.me)

		users := api.Group("/users", authRequired)
		users.PATCH("/me", h.updateProfile)
		users.POST("/me/avatar", h.uploadAvatar)

		assets := api.Group("/media", authRequired)
		assets.POST("", h.uploadMedia)
		assets.DELETE("/*publicId", requireRole(domain.RoleAdmin), h.deleteMedia)
	}
}

type signupRequest struct {
	Name     string `json:"name" binding:"required"`
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
	Role     string `json:"role" binding:"required"`
}

type loginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type forgotPasswordRequest struct {
	Email string `json:"email" binding:"required"`
}

type resetPasswordRequest struct {
	Token    string `json:"token" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type updateProfileRequest struct {
	Name string `json:"name" binding:"required"`
}

// AssetResponse is the JSON form of an uploaded asset.
type AssetResponse struct {
	PublicID     string              `json:"publicId"`
	URL          string              `json:"url"`
	ResourceType domain.ResourceType `json:"resourceType"`
	Bytes        int64               `json:"bytes"`
}

func (h *Handler) signup(c *gin.Context) {
	var req signupRequest
	if !bindJSON(c, &req) {
		return
	}

	user, err := h.users.Register(c.Request.Context(), service.RegisterInput{
		Name:     req.Name,
		Email:    req.Email,
		Password: req.Password,
		Role:     req.Role,
	})
	if err != nil {
		h.serviceError(c, err)
		return
	}
	h.issue(c, http.StatusCreated, user)
}

func (h *Handler) login(c *gin.Context) {
	var req loginRequest
	if !bindJSON(c, &req) {
		return
	}

	user, err := h.users.Authenticate(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		h.serviceError(c, err)
		return
	}
	h.issue(c, http.StatusOK, user)
}

func (h *Handler) issue(c *gin.Context, status int, user *domain.User) {
	token, expiresAt, err := h.tokens.Issue(user)
	if err != nil {
		respondInternal(c, err)
		return
	}
	h.setTokenCookie(c, token, int(time.Until(expiresAt).Seconds()))
	respondOK(c, status, gin.H{"user": user, "token": token})
}

func (h *Handler) logout(c *gin.Context) {
	h.setTokenCookie(c, "", -1)
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Logged out"})
}

func (h *Handler) me(c *gin.Context) {
	user, err := h.users.GetByID(c.Request.Context(), userIDFromContext(c))
	if err != nil {
		if errors.Is(err, service.ErrUserNotFound) {
			respondUnauthorized(c, "Account no longer exists")
			return
		}
		h.serviceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "user": user})
}

func (h *Handler) forgotPassword(c *gin.Context) {
	var req forgotPasswordRequest
	if !bindJSON(c, &req) {
		return
	}
	if err := h.users.RequestPasswordReset(c.Request.Context(), req.Email); err != nil {
		h.serviceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "If the account exists, a reset link has been sent",
	})
}

func (h *Handler) resetPassword(c *gin.Context) {
	var req resetPasswordRequest
	if !bindJSON(c, &req) {
		return
	}
	if err := h.users.ResetPassword(c.Request.Context(), req.Token, req.Password); err != nil {
		h.serviceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Password updated"})
}

func (h *Handler) updateProfile(c *gin.Context) {
	var req updateProfileRequest
	if !bindJSON(c, &req) {
		return
	}
	user, err := h.users.UpdateProfile(c.Request.Context(), userIDFromContext(c), req.Name)
	if err != nil {
		h.serviceError(c, err)
		return
	}
	respondOK(c, http.StatusOK, gin.H{"user": user})
}

func (h *Handler) uploadAvatar(c *gin.Context) {
	res, ok := h.receiveUpload(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	user, previous, err := h.users.SetAvatar(ctx, userIDFromContext(c), res.Asset)
	if err != nil {
		// the new asset is orphaned now
		h.media.Remove(context.WithoutCancel(ctx), res.Asset.PublicID)
		h.serviceError(c, err)
		return
	}
	if previous != "" {
		h.media.Remove(context.WithoutCancel(ctx), previous)
	}
	respondOK(c, http.StatusOK, gin.H{"user": user})
}

func (h *Handler) uploadMedia(c *gin.Context) {
	res, ok := h.receiveUpload(c)
	if !ok {
		return
	}
	respondOK(c, http.StatusCreated, assetToResponse(res.Asset))
}

func (h *Handler) deleteMedia(c *gin.Context) {
	publicID := strings.TrimPrefix(c.Param("publicId"), "/")
	if publicID == "" {
		respondError(c, http.StatusBadRequest, "invalid_request", "public id is required", nil)
		return
	}
	h.media.Remove(c.Request.Context(), publicID)
	c.Status(http.StatusNoContent)
}

// receiveUpload stores the multipart "file" field in the temp dir and hands
// it to the bridge, which owns the temp file from then on.
func (h *Handler) receiveUpload(c *gin.Context) (media.UploadResult, bool) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.opts.MaxUploadBytes+(1<<20))

	file, err := c.FormFile("file")
	if err != nil {
		respondError(c, http.StatusBadRequest, "invalid_request", "file is required", nil)
		return media.UploadResult{}, false
	}
	if file.Size > h.opts.MaxUploadBytes {
		respondError(c, http.StatusRequestEntityTooLarge, "file_too_large",
			fmt.Sprintf("file exceeds %d bytes", h.opts.MaxUploadBytes), nil)
		return media.UploadResult{}, false
	}

	if err := os.MkdirAll(h.opts.TempDir, 0o755); err != nil {
		respondInternal(c, fmt.Errorf("create temp dir: %w", err))
		return media.UploadResult{}, false
	}
	dst := filepath.Join(h.opts.TempDir, uuid.NewString()+strings.ToLower(filepath.Ext(file.Filename)))
	if err := c.SaveUploadedFile(file, dst); err != nil {
		_ = os.Remove(dst)
		respondInternal(c, fmt.Errorf("save upload: %w", err))
		return media.UploadResult{}, false
	}

	res := h.media.Upload(c.Request.Context(), dst)
	switch res.Status {
	case media.StatusUploaded:
		return res, true
	case media.StatusFailed:
		respondError(c, http.StatusBadGateway, "remote_store_failure", "Upload to the media store failed", nil)
	default:
		respondError(c, http.StatusBadRequest, "invalid_request", res.Reason, nil)
	}
	return res, false
}

func (h *Handler) setTokenCookie(c *gin.Context, token string, maxAge int) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(TokenCookie, token, maxAge, "/", "", h.opts.CookieSecure, true)
}

func (h *Handler) serviceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidInput):
		respondError(c, http.StatusBadRequest, "invalid_request", strings.TrimPrefix(err.Error(), service.ErrInvalidInput.Error()+": "), nil)
	case errors.Is(err, service.ErrUserNotFound):
		respondError(c, http.StatusNotFound, "user_not_found", "User does not exist", nil)
	case errors.Is(err, service.ErrWrongPassword):
		respondError(c, http.StatusUnauthorized, "wrong_password", "Wrong password", nil)
	case errors.Is(err, service.ErrUserAlreadyExists):
		respondError(c, http.StatusConflict, "user_exists", "An account with this email already exists", nil)
	case errors.Is(err, service.ErrInvalidResetToken):
		respondError(c, http.StatusBadRequest, "invalid_reset_token", "Reset link is invalid or has expired", nil)
	default:
		h.logger.WithField("path", c.Request.URL.Path).Errorf("request failed: %v", err)
		respondInternal(c, err)
	}
}

func assetToResponse(a domain.Asset) AssetResponse {
	return AssetResponse{
		PublicID:     a.PublicID,
		URL:          a.URL,
		ResourceType: a.ResourceType,
		Bytes:        a.Bytes,
	}
}
