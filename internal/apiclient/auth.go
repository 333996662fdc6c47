package apiclient

import (
	"context"
	"errors"
	"net/http"

	"attendanceportal/internal/model"
)

// RegisterRequest creates a new portal account.
type RegisterRequest struct {
	Email     string `json:"email" binding:"required,email"`
	Password  string `json:"password" binding:"required"`
	FirstName string `json:"first_name" binding:"required"`
	LastName  string `json:"last_name" binding:"required"`
	Role      string `json:"role" binding:"required,oneof=student teacher"`
	CUI       string `json:"cui,omitempty" binding:"required_if=Role student"`
}

// Login exchanges credentials for a bearer token.
func (c *Client) Login(ctx context.Context, email, password string) (string, error) {
	var out struct {
		Token string `json:"token"`
	}
	in := map[string]string{"email": email, "password": password}
	if err := c.doJSON(ctx, http.MethodPost, "/auth/login", "auth.login", in, &out); err != nil {
		return "", err
	}
	if out.Token == "" {
		return "", errors.New("attendance api auth.login: response carried no token")
	}
	return out.Token, nil
}

// Register creates an account. CUI is dropped for non-students.
func (c *Client) Register(ctx context.Context, req RegisterRequest) error {
	if req.Role != model.RoleStudent {
		req.CUI = ""
	}
	return c.doJSON(ctx, http.MethodPost, "/auth/register", "auth.register", req, nil)
}

// Profile returns the identity behind the client's token.
func (c *Client) Profile(ctx context.Context) (model.Profile, error) {
	var p model.Profile
	if err := c.doJSON(ctx, http.MethodGet, "/auth/profile", "auth.profile", nil, &p); err != nil {
		return model.Profile{}, err
	}
	return p, model.Validate(p)
}

// ProfileCourses returns the courses of the logged-in user.
func (c *Client) ProfileCourses(ctx context.Context) ([]model.Course, error) {
	var courses []model.Course
	if err := c.doJSON(ctx, http.MethodGet, "/auth/profile/courses", "auth.profile_courses", nil, &courses); err != nil {
		return nil, err
	}
	return courses, model.ValidateAll(courses)
}
