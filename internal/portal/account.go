package portal

import (
	"bytes"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"attendanceportal/internal/apiclient"
	"attendanceportal/internal/auth"
	"attendanceportal/internal/calendar"
	"attendanceportal/internal/model"
	"attendanceportal/internal/session"
)

// biometricPhotos is the number of face photos an enrollment upload carries.
const biometricPhotos = 3

type loginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

func (h *Handler) login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s, err := h.Sessions.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		h.fail(c, err)
		return
	}
	h.issue(c, http.StatusOK, s)
}

func (h *Handler) register(c *gin.Context) {
	var req apiclient.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.Sessions.Register(c.Request.Context(), req); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"email": req.Email, "role": req.Role})
}

func (h *Handler) refresh(c *gin.Context) {
	var req struct {
		RefreshToken string `json:"refresh_token" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	claims, err := auth.Parse(req.RefreshToken, h.Config.JWTSigningKey, h.Config.JWTIssuer, auth.KindRefresh)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}
	s, err := h.Sessions.Refresh(c.Request.Context(), claims.Subject)
	if err != nil {
		h.fail(c, err)
		return
	}
	h.issue(c, http.StatusOK, s)
}

func (h *Handler) issue(c *gin.Context, status int, s *session.Session) {
	tokens, err := auth.Issue(s.ID, s.Profile.Role, h.Config.JWTIssuer, h.Config.JWTSigningKey,
		h.Config.AccessTTL, h.Config.RefreshTTL, s.ExpiresAt)
	if err != nil {
		h.Log.Error("token issue failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
		return
	}
	c.JSON(status, gin.H{
		"access_token":       tokens.AccessToken,
		"refresh_token":      tokens.RefreshToken,
		"expires_at":         tokens.AccessExp.Unix(),
		"refresh_expires_at": tokens.RefreshExp.Unix(),
		"profile":            s.Profile,
	})
}

func (h *Handler) logout(c *gin.Context) {
	s := auth.CurrentSession(c)
	if err := h.Sessions.Logout(c.Request.Context(), s.ID); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// me re-fetches the profile so a token revoked upstream ends the session.
func (h *Handler) me(c *gin.Context) {
	s, err := h.Sessions.Refresh(c.Request.Context(), auth.CurrentSession(c).ID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, s.Profile)
}

type courseSummary struct {
	model.Course
	ActiveSchedule *model.Schedule `json:"active_schedule"`
}

func (h *Handler) myCourses(c *gin.Context) {
	courses, err := auth.CurrentSession(c).Client().ProfileCourses(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	now := h.now()
	out := make([]courseSummary, len(courses))
	for i, course := range courses {
		out[i] = courseSummary{Course: course}
		if s, ok := calendar.ActiveSchedule(course, now); ok {
			out[i].ActiveSchedule = &s
		}
	}
	c.JSON(http.StatusOK, gin.H{"courses": out})
}

func (h *Handler) biometricsStatus(c *gin.Context) {
	s := auth.CurrentSession(c)
	ok, err := s.Client().HasEmbeddings(c.Request.Context(), s.Profile.ID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"has_embeddings": ok})
}

func (h *Handler) uploadBiometrics(c *gin.Context) {
	form, err := c.MultipartForm()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "multipart form required"})
		return
	}
	headers := form.File["images"]
	if len(headers) != biometricPhotos {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("exactly %d images required", biometricPhotos)})
		return
	}
	photos := make([]apiclient.FormFile, 0, len(headers))
	for _, fh := range headers {
		photo, err := readPart(fh)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		photos = append(photos, photo)
	}

	s := auth.CurrentSession(c)
	if err := s.Client().UploadEmbeddings(c.Request.Context(), s.Profile.ID, photos); err != nil {
		h.fail(c, err)
		return
	}
	h.Log.Info("biometrics uploaded", zap.String("user_id", s.Profile.ID))
	c.JSON(http.StatusCreated, gin.H{"uploaded": len(photos)})
}

func readPart(fh *multipart.FileHeader) (apiclient.FormFile, error) {
	f, err := fh.Open()
	if err != nil {
		return apiclient.FormFile{}, fmt.Errorf("open %s: %w", fh.Filename, err)
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return apiclient.FormFile{}, fmt.Errorf("read %s: %w", fh.Filename, err)
	}
	if len(data) == 0 {
		return apiclient.FormFile{}, fmt.Errorf("%s is empty", fh.Filename)
	}
	return apiclient.FormFile{Filename: fh.Filename, Data: bytes.NewReader(data)}, nil
}
