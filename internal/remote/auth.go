package remote

import (
	"context"
	"net/http"
	"time"

	"golang.org/x/oauth2"
)

// AuthResult is returned by a successful login.
type AuthResult struct {
	AccessToken  string
	RefreshToken string
	UserID       string
	FullName     string
	ExpiresAt    time.Time
}

// Login exchanges credentials for tokens.
func (c *Client) Login(ctx context.Context, email, password string) (*AuthResult, error) {
	body, err := jsonBody(credentialsDTO{Email: email, Password: password})
	if err != nil {
		return nil, err
	}

	var dto authInfoDTO
	err = c.do(ctx, request{
		op:        "login",
		method:    http.MethodPost,
		path:      "login",
		body:      body,
		anonymous: true,
	}, &dto)
	if err != nil {
		return nil, err
	}

	return &AuthResult{
		AccessToken:  dto.AccessToken,
		RefreshToken: dto.RefreshToken,
		UserID:       dto.UserID,
		FullName:     dto.FullName,
		ExpiresAt:    fromMillis(dto.AccessTokenExpiresAt),
	}, nil
}

// Register creates an account. The user still has to log in.
func (c *Client) Register(ctx context.Context, fullName, email, password string) error {
	body, err := jsonBody(credentialsDTO{FullName: fullName, Email: email, Password: password})
	if err != nil {
		return err
	}
	return c.do(ctx, request{
		op:        "register",
		method:    http.MethodPost,
		path:      "register",
		body:      body,
		anonymous: true,
	}, nil)
}

// Authenticate checks that the current access token is accepted.
func (c *Client) Authenticate(ctx context.Context) error {
	return c.do(ctx, request{op: "authenticate", method: http.MethodGet, path: "authenticate"}, nil)
}

// Logout invalidates the current session on the server.
func (c *Client) Logout(ctx context.Context) error {
	return c.do(ctx, request{op: "logout", method: http.MethodGet, path: "logout"}, nil)
}

// RefreshAccessToken obtains a new access token with the refresh token.
func (c *Client) RefreshAccessToken(ctx context.Context, refreshToken, userID string) (*oauth2.Token, error) {
	body, err := jsonBody(refreshRequestDTO{RefreshToken: refreshToken, UserID: userID})
	if err != nil {
		return nil, err
	}

	var dto refreshResponseDTO
	err = c.do(ctx, request{
		op:        "refresh token",
		method:    http.MethodPost,
		path:      "accessToken",
		body:      body,
		anonymous: true,
	}, &dto)
	if err != nil {
		return nil, err
	}

	return &oauth2.Token{
		AccessToken:  dto.AccessToken,
		TokenType:    "Bearer",
		RefreshToken: refreshToken,
		Expiry:       fromMillis(dto.ExpirationTimestamp),
	}, nil
}
