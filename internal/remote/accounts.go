package remote

import (
	"context"
	"net/http"

	"github.com/pavelchamgl/reli.one-sub000/internal/domain"
	apperrors "github.com/pavelchamgl/reli.one-sub000/pkg/errors"
)

// Credentials are the login form fields. The password is only checked for
// presence; the shop decides whether it is right.
type Credentials struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// Login exchanges credentials for a token blob.
func (c *Client) Login(ctx context.Context, creds Credentials) (*domain.TokenBlob, error) {
	var blob domain.TokenBlob
	err := c.do(ctx, call{
		method: http.MethodPost,
		path:   "/accounts/login/",
		body:   creds,
	}, &blob)
	if err != nil {
		return nil, err
	}
	if blob.Access == "" {
		return nil, apperrors.ServiceUnavailable("login response carried no access token, please try again")
	}
	if blob.Email == "" {
		blob.Email = creds.Email
	}
	return &blob, nil
}

// Logout revokes the refresh token.
func (c *Client) Logout(ctx context.Context, access, refresh string) error {
	return c.do(ctx, call{
		method: http.MethodPost,
		path:   "/accounts/logout/",
		token:  access,
		body:   map[string]string{"refresh": refresh},
	}, nil)
}

// DeleteAccount removes the authenticated user's account.
func (c *Client) DeleteAccount(ctx context.Context, access string) error {
	return c.do(ctx, call{
		method: http.MethodDelete,
		path:   "/accounts/delete/",
		token:  access,
	}, nil)
}
