package trakt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/amaumene/mediasync/internal/credentials"
	"github.com/amaumene/mediasync/internal/sources"
)

// DeviceCodeResponse represents the response from device code request
type DeviceCodeResponse struct {
	DeviceCode      string `json:"device_code"`
	UserCode        string `json:"user_code"`
	VerificationURL string `json:"verification_url"`
	ExpiresIn       int    `json:"expires_in"`
	Interval        int    `json:"interval"`
}

// TokenResponse represents the response from token request
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
	TokenType    string `json:"token_type"`
}

func (r TokenResponse) token() *credentials.Token {
	return &credentials.Token{
		AccessToken:  r.AccessToken,
		RefreshToken: r.RefreshToken,
		ExpiresAt:    time.Now().Add(time.Duration(r.ExpiresIn) * time.Second),
	}
}

// GetToken retrieves the current token from the token store
func (c *Client) GetToken() (*credentials.Token, error) {
	return c.tokenStore.GetToken()
}

// DeviceLogin performs the device authentication flow, printing the user code to out
func (c *Client) DeviceLogin(ctx context.Context, out io.Writer) error {
	deviceCodeReq := map[string]string{
		"client_id": c.clientID,
	}

	var deviceResp DeviceCodeResponse
	if _, err := c.send(ctx, http.MethodPost, "/oauth/device/code", deviceCodeReq, &deviceResp, false); err != nil {
		return fmt.Errorf("failed to get device code: %w", err)
	}

	c.logger.Infof("Please visit %s and enter code: %s", deviceResp.VerificationURL, deviceResp.UserCode)
	fmt.Fprintf(out, "\nPlease visit %s and enter code: %s\n\n", deviceResp.VerificationURL, deviceResp.UserCode)

	interval := time.Duration(deviceResp.Interval) * time.Second
	if interval <= 0 {
		interval = 5 * time.Second
	}
	deadline := time.Now().Add(time.Duration(deviceResp.ExpiresIn) * time.Second)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if time.Now().After(deadline) {
				return fmt.Errorf("%w: device code expired", sources.ErrAuthFailed)
			}

			tokenReq := map[string]string{
				"code":          deviceResp.DeviceCode,
				"client_id":     c.clientID,
				"client_secret": c.clientSecret,
			}

			var tokenResp TokenResponse
			_, err := c.send(ctx, http.MethodPost, "/oauth/device/token", tokenReq, &tokenResp, false)
			if err != nil {
				var statusErr *sources.StatusError
				if errors.As(err, &statusErr) && deviceCodeFinal(statusErr.StatusCode) {
					return fmt.Errorf("%w: device authorization ended with status %d", sources.ErrAuthFailed, statusErr.StatusCode)
				}
				c.logger.Debug("Waiting for user authorization...")
				continue
			}

			if err := c.tokenStore.SaveToken(tokenResp.token()); err != nil {
				return fmt.Errorf("failed to save token: %w", err)
			}

			c.logger.Info("Trakt authentication successful")
			return nil
		}
	}
}

// deviceCodeFinal reports whether polling can stop: invalid, already used, expired or denied code
func deviceCodeFinal(status int) bool {
	switch status {
	case http.StatusNotFound, http.StatusConflict, http.StatusGone, http.StatusTeapot:
		return true
	}
	return false
}

// RefreshToken refreshes the access token using the refresh token
func (c *Client) RefreshToken(ctx context.Context) error {
	token, err := c.tokenStore.GetToken()
	if err != nil {
		return fmt.Errorf("no token to refresh: %w", err)
	}

	refreshReq := map[string]string{
		"refresh_token": token.RefreshToken,
		"client_id":     c.clientID,
		"client_secret": c.clientSecret,
		"redirect_uri":  "urn:ietf:wg:oauth:2.0:oob",
		"grant_type":    "refresh_token",
	}

	var tokenResp TokenResponse
	if _, err := c.send(ctx, http.MethodPost, "/oauth/token", refreshReq, &tokenResp, false); err != nil {
		return fmt.Errorf("failed to refresh token: %w", err)
	}

	if err := c.tokenStore.SaveToken(tokenResp.token()); err != nil {
		return fmt.Errorf("failed to save refreshed token: %w", err)
	}

	c.logger.Info("Token refreshed successfully")
	return nil
}
