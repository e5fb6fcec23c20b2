package v1

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/gosuda/costtrail/internal/auth"
)

// --- Request / Response types ---

type RefreshInput struct {
	Body struct {
		RefreshToken string `json:"refresh_token" minLength:"1" doc:"Refresh token issued alongside the access token"`
	}
}

type RefreshOutput struct {
	Body struct {
		AccessToken string `json:"access_token"`
		TokenType   string `json:"token_type"`
		ExpiresIn   int64  `json:"expires_in" doc:"Access token lifetime in seconds"`
	}
}

// RegisterAuthRoutes registers the unauthenticated token endpoints. Tokens
// are minted out of band; only refresh is exposed over HTTP.
func RegisterAuthRoutes(api huma.API, secret string, accessTTL time.Duration) {
	huma.Register(api, huma.Operation{
		OperationID: "refresh-token",
		Method:      http.MethodPost,
		Path:        "/auth/refresh",
		Summary:     "Exchange a refresh token for a new access token",
		Tags:        []string{"Auth"},
	}, func(_ context.Context, input *RefreshInput) (*RefreshOutput, error) {
		token, err := auth.Refresh(secret, input.Body.RefreshToken, accessTTL)
		if err != nil {
			if errors.Is(err, auth.ErrInvalidToken) {
				return nil, huma.Error401Unauthorized("invalid refresh token")
			}
			return nil, huma.Error500InternalServerError("failed to issue token")
		}

		out := &RefreshOutput{}
		out.Body.AccessToken = token
		out.Body.TokenType = "Bearer"
		out.Body.ExpiresIn = int64(accessTTL / time.Second)
		return out, nil
	})
}
