package bluesky

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"

	"bskygrab/pkg/cache"
	"bskygrab/pkg/errors"
	"bskygrab/pkg/logger"
)

// ensureAuthenticated attaches a bearer header before an API call. In
// public mode it is a no-op. Otherwise a live cached credential is
// reused without touching the network; an absent or expired one is
// re-derived via refresh or login.
func (c *Client) ensureAuthenticated(ctx context.Context) error {
	if c.username == "" {
		return nil
	}

	if header, ok := c.store.Get(cache.KeyAccessToken + c.username); ok {
		c.SetHeader("Authorization", header)
		return nil
	}

	header, err := c.authenticate(ctx)
	if err != nil {
		return err
	}

	if err := c.store.Set(cache.KeyAccessToken+c.username, header, AccessTokenMaxAge); err != nil {
		c.logger.WithError(err).Warn("failed to cache access token")
	}
	c.SetHeader("Authorization", header)
	return nil
}

// authenticate derives a fresh bearer header. A cached refresh token
// selects the refreshSession path (token as bearer credential, no body);
// otherwise a full createSession login is performed with the password.
func (c *Client) authenticate(ctx context.Context) (string, error) {
	var endpoint string
	var authHeader string
	var body []byte

	refreshToken, haveRefresh := c.store.Get(cache.KeyRefreshToken + c.username)
	if haveRefresh {
		c.logger.WithField("username", c.username).Info("refreshing access token")
		endpoint = EndpointRefreshSession
		authHeader = "Bearer " + refreshToken
	} else {
		c.logger.WithField("username", c.username).Info("logging in")
		endpoint = EndpointCreateSession
		var err error
		body, err = json.Marshal(map[string]string{
			"identifier": c.username,
			"password":   c.password,
		})
		if err != nil {
			return "", err
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, xrpcURL(c.root, endpoint), bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var session sessionResponse
	if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
		return "", &errors.Error{
			Type:    errors.ErrorTypeParsing,
			Message: "failed to parse session response",
			Code:    resp.StatusCode,
		}
	}

	if resp.StatusCode != http.StatusOK {
		c.logger.DebugWithFields("session request rejected", map[string]interface{}{
			"endpoint": endpoint,
			"status":   resp.StatusCode,
			"error":    session.Error,
		})
		return "", &errors.AuthenticationError{
			Code:    session.Error,
			Message: session.Message,
		}
	}

	if err := c.store.Set(cache.KeyRefreshToken+c.username, session.RefreshJwt, RefreshTokenMaxAge); err != nil {
		c.logger.WithError(err).Warn("failed to cache refresh token")
	}

	logger.LogAuthenticated(c.logger, c.username, haveRefresh)
	return "Bearer " + session.AccessJwt, nil
}
