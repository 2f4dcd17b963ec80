package simkl

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/amaumene/mediasync/internal/credentials"
	"github.com/amaumene/mediasync/internal/sources"
)

// PinResponse is the answer of the PIN request
type PinResponse struct {
	Result          string `json:"result"`
	DeviceCode      string `json:"device_code"`
	UserCode        string `json:"user_code"`
	VerificationURL string `json:"verification_url"`
	ExpiresIn       int    `json:"expires_in"`
	Interval        int    `json:"interval"`
}

// PinStatus is the answer of a PIN poll
type PinStatus struct {
	Result      string `json:"result"`
	Message     string `json:"message"`
	AccessToken string `json:"access_token"`
}

// PinLogin performs the PIN authentication flow, printing the user code to out.
// Simkl tokens do not expire.
func (c *Client) PinLogin(ctx context.Context, out io.Writer) error {
	query := url.Values{"client_id": {c.clientID}}

	var pin PinResponse
	if err := c.doRequest(ctx, http.MethodGet, "/oauth/pin?"+query.Encode(), nil, &pin); err != nil {
		return fmt.Errorf("failed to get PIN: %w", err)
	}

	c.logger.Infof("Please visit %s and enter code: %s", pin.VerificationURL, pin.UserCode)
	fmt.Fprintf(out, "\nPlease visit %s and enter code: %s\n\n", pin.VerificationURL, pin.UserCode)

	interval := c.pollInterval
	if interval <= 0 {
		interval = time.Duration(pin.Interval) * time.Second
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}
	expiresIn := time.Duration(pin.ExpiresIn) * time.Second
	if expiresIn <= 0 {
		expiresIn = 15 * time.Minute
	}
	deadline := time.Now().Add(expiresIn)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	statusPath := "/oauth/pin/" + url.PathEscape(pin.UserCode) + "?" + query.Encode()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if time.Now().After(deadline) {
				return fmt.Errorf("%w: PIN expired", sources.ErrAuthFailed)
			}

			var status PinStatus
			if err := c.doRequest(ctx, http.MethodGet, statusPath, nil, &status); err != nil {
				c.logger.WithError(err).Debug("PIN poll failed")
				continue
			}
			if status.Result != "OK" || status.AccessToken == "" {
				c.logger.Debug("Waiting for user authorization...")
				continue
			}

			if err := c.tokenStore.SaveToken(&credentials.Token{AccessToken: status.AccessToken}); err != nil {
				return fmt.Errorf("failed to save token: %w", err)
			}
			c.logger.Info("Simkl authentication successful")
			return nil
		}
	}
}
