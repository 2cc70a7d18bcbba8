// Package authclient talks to the SkillLink auth API and converts its
// responses and failures into domain values and apperr kinds.
package authclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"skilllink/internal/apperr"
	"skilllink/internal/domain"
)

const maxBodyBytes = 1 << 20

// Credentials are the login form fields.
type Credentials struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// SignupInput are the signup form fields.
type SignupInput struct {
	Name     string `json:"name" validate:"required"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
	Role     string `json:"role" validate:"required,oneof=client freelancer"`
}

// AuthResult is a normalized successful login or signup.
type AuthResult struct {
	User  *domain.User
	Token string
}

// Client calls the auth endpoints under a base URL.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *logrus.Logger
}

// Option customizes a Client.
type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func WithLogger(logger *logrus.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = logrus.New()
	}
	return c
}

// Me returns the user that owns token.
func (c *Client) Me(ctx context.Context, token string) (*domain.User, error) {
	root, err := c.do(ctx, http.MethodGet, "/api/auth/me", token, nil)
	if err != nil {
		return nil, err
	}
	user, _ := Normalize(root)
	if user == nil {
		return nil, apperr.New(apperr.KindNetwork, "malformed response: no user record")
	}
	return user, nil
}

func (c *Client) Login(ctx context.Context, creds Credentials) (AuthResult, error) {
	return c.authenticate(ctx, "/api/auth/login", creds)
}

func (c *Client) Signup(ctx context.Context, in SignupInput) (AuthResult, error) {
	return c.authenticate(ctx, "/api/auth/signup", in)
}

func (c *Client) Logout(ctx context.Context, token string) error {
	_, err := c.do(ctx, http.MethodPost, "/api/auth/logout", token, struct{}{})
	return err
}

func (c *Client) ForgotPassword(ctx context.Context, email string) error {
	_, err := c.do(ctx, http.MethodPost, "/api/auth/forgot-password", "", map[string]string{"email": email})
	return err
}

func (c *Client) ResetPassword(ctx context.Context, token, password string) error {
	_, err := c.do(ctx, http.MethodPost, "/api/auth/reset-password", "", map[string]string{
		"token":    token,
		"password": password,
	})
	return err
}

func (c *Client) authenticate(ctx context.Context, path string, body any) (AuthResult, error) {
	root, err := c.do(ctx, http.MethodPost, path, "", body)
	if err != nil {
		return AuthResult{}, err
	}
	user, token := Normalize(root)
	if user == nil {
		return AuthResult{}, apperr.New(apperr.KindNetwork, "malformed response: no user record")
	}
	if token == "" {
		return AuthResult{}, apperr.New(apperr.KindNetwork, "malformed response: no token")
	}
	return AuthResult{User: user, Token: token}, nil
}

func (c *Client) do(ctx context.Context, method, path, token string, body any) (map[string]any, error) {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindValidation, "encode request", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindNetwork, "build request", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	logger := c.logger.WithFields(logrus.Fields{"method": method, "path": path})
	resp, err := c.http.Do(req)
	if err != nil {
		logger.Debugf("auth request failed: %v", err)
		return nil, apperr.Wrap(apperr.KindNetwork, "auth service unreachable", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, apperr.Wrap(apperr.KindNetwork, "read response", err)
	}
	root, decodeErr := decode(raw)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		logger.WithField("status", resp.StatusCode).Debug("auth request rejected")
		return nil, classify(resp.StatusCode, errorMessage(root))
	}
	if decodeErr != nil {
		return nil, apperr.Wrap(apperr.KindNetwork, "malformed response", decodeErr)
	}
	return root, nil
}

func decode(raw []byte) (map[string]any, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return map[string]any{}, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var root map[string]any
	if err := dec.Decode(&root); err != nil {
		return nil, err
	}
	if root == nil {
		return nil, errors.New("response body is not an object")
	}
	return root, nil
}

// errorMessage digs the human readable reason out of an error body. Both
// {"message": "..."} and {"error": "..."} / {"error": {"message": "..."}}
// are in use.
func errorMessage(root map[string]any) string {
	if root == nil {
		return ""
	}
	if s := firstString(root, "message"); s != "" {
		return s
	}
	switch e := root["error"].(type) {
	case string:
		return e
	case map[string]any:
		return firstString(e, "message")
	}
	return ""
}

func classify(status int, message string) error {
	if message == "" {
		message = http.StatusText(status)
	}
	kind := apperr.KindRejected
	lower := strings.ToLower(message)
	switch {
	case status >= http.StatusInternalServerError:
		kind = apperr.KindNetwork
	case strings.Contains(lower, "wrong password"):
		kind = apperr.KindWrongPass
	case strings.Contains(lower, "does not exist"), strings.Contains(lower, "not found"):
		kind = apperr.KindUnknownUser
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		kind = apperr.KindValidation
	}
	return &apperr.Error{Kind: kind, Status: status, Message: message, Err: fmt.Errorf("status %d", status)}
}
