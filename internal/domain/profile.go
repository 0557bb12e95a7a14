package domain

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/golang-jwt/jwt/v5"
)

// Profile is the account information shown by the SPA.
type Profile struct {
	UserID    string `json:"userId,omitempty"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email"`
}

// TokenBlob is the JSON stored under the client's token key. The remote API
// returns it on login.
type TokenBlob struct {
	Access    string `json:"access"`
	Refresh   string `json:"refresh"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email,omitempty"`
	UserID    string `json:"user_id,omitempty"`
}

// ParseTokenBlob decodes a stored token blob. An empty or non-object blob is
// an error.
func ParseTokenBlob(raw string) (TokenBlob, error) {
	var blob TokenBlob
	if raw == "" {
		return blob, fmt.Errorf("token blob is empty")
	}
	if err := json.Unmarshal([]byte(raw), &blob); err != nil {
		return TokenBlob{}, fmt.Errorf("decode token blob: %w", err)
	}
	if blob.Access == "" && blob.Refresh == "" {
		return TokenBlob{}, fmt.Errorf("token blob carries no tokens")
	}
	if blob.UserID == "" && blob.Access != "" {
		blob.UserID = accessTokenUserID(blob.Access)
	}
	return blob, nil
}

// accessClaims are the claims the remote API puts in its access tokens.
type accessClaims struct {
	UserID any `json:"user_id"`
	jwt.RegisteredClaims
}

// accessTokenUserID reads the user id out of an access token without
// verifying it. The remote API owns the signing key; the id is only used to
// group clients of one account.
func accessTokenUserID(access string) string {
	var claims accessClaims
	if _, _, err := jwt.NewParser().ParseUnverified(access, &claims); err != nil {
		return ""
	}
	switch id := claims.UserID.(type) {
	case string:
		if id != "" {
			return id
		}
	case float64:
		return strconv.FormatFloat(id, 'f', -1, 64)
	}
	return claims.Subject
}

// Profile projects the blob onto a Profile. The e-mail stored next to the
// token wins over the one inside it.
func (t TokenBlob) Profile(email string) Profile {
	if email == "" {
		email = t.Email
	}
	return Profile{
		UserID:    t.UserID,
		FirstName: t.FirstName,
		LastName:  t.LastName,
		Email:     email,
	}
}
