package apiclient

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strconv"

	"attendanceportal/internal/model"
)

// StudentIDForUser maps a user account id to its student record id.
func (c *Client) StudentIDForUser(ctx context.Context, userID string) (string, error) {
	var out struct {
		StudentID string `json:"student_id"`
	}
	path := "/students/get-id/" + url.PathEscape(userID)
	if err := c.doJSON(ctx, http.MethodGet, path, "students.get_id", nil, &out); err != nil {
		return "", err
	}
	if out.StudentID == "" {
		return "", errors.New("attendance api students.get_id: empty student_id")
	}
	return out.StudentID, nil
}

// HasEmbeddings reports whether the user's student profile has face embeddings.
func (c *Client) HasEmbeddings(ctx context.Context, userID string) (bool, error) {
	var out struct {
		HasEmbeddings bool `json:"has_embeddings"`
	}
	path := "/students/check-embeddings/" + url.PathEscape(userID)
	if err := c.doJSON(ctx, http.MethodGet, path, "students.check_embeddings", nil, &out); err != nil {
		return false, err
	}
	return out.HasEmbeddings, nil
}

// UploadEmbeddings sends face photos for the user's biometric enrollment.
// Every photo goes under the repeated "images" field.
func (c *Client) UploadEmbeddings(ctx context.Context, userID string, photos []FormFile) error {
	files := make([]FormFile, len(photos))
	for i, p := range photos {
		p.Field = "images"
		files[i] = p
	}
	fields := map[string]string{"user_id": userID}
	return c.doMultipart(ctx, "/students/upload-embeddings", "students.upload_embeddings", fields, files, nil)
}

// ResolveUnknownFaces returns courses and candidate face matches for a student.
func (c *Client) ResolveUnknownFaces(ctx context.Context, studentID string, threshold float64) (model.RecoveryData, error) {
	var out model.RecoveryData
	in := map[string]any{"student_id": studentID, "threshold": threshold}
	if err := c.doJSON(ctx, http.MethodPost, "/unknown-faces/resolve", "unknown_faces.resolve", in, &out); err != nil {
		return model.RecoveryData{}, err
	}
	return out, model.Validate(out)
}

// MatchFace returns candidate matches for a freshly captured photo.
func (c *Client) MatchFace(ctx context.Context, photo FormFile) ([]model.FaceMatch, error) {
	var out struct {
		Matches []model.FaceMatch `json:"matches"`
	}
	photo.Field = "image"
	if err := c.doMultipart(ctx, "/unknown-faces/match", "unknown_faces.match", nil, []FormFile{photo}, &out); err != nil {
		return nil, err
	}
	return out.Matches, model.ValidateAll(out.Matches)
}

// FinishResolve marks one detection consumed so it leaves future recovery lists.
func (c *Client) FinishResolve(ctx context.Context, matchID int64) error {
	path := "/unknown-faces/" + strconv.FormatInt(matchID, 10) + "/resolve-finish"
	return c.doJSON(ctx, http.MethodPost, path, "unknown_faces.resolve_finish", nil, nil)
}
