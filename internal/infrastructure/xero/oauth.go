package xero

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/oauth2"
)

// Access tokens are issued for 30 minutes; used when a response omits
// expires_in.
const defaultTokenLifetime = 30 * time.Minute

// AuthorizeURL builds the consent URL. state is an opaque CSRF value the
// caller stores and verifies on callback.
func (c *Client) AuthorizeURL(state string) string {
	return c.oauth.AuthCodeURL(state)
}

// ExchangeCode trades an authorization code for a token set.
func (c *Client) ExchangeCode(ctx context.Context, code string) (*TokenSet, error) {
	tok, err := c.oauth.Exchange(c.oauthContext(ctx), code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange code: %w", tokenError(err))
	}
	return c.toTokenSet(tok, "")
}

// RefreshToken obtains a new token set from a refresh token. The service
// rotates refresh tokens, so callers must persist the returned pair.
func (c *Client) RefreshToken(ctx context.Context, refreshToken string) (*TokenSet, error) {
	if refreshToken == "" {
		return nil, errors.New("refresh token is required")
	}

	src := c.oauth.TokenSource(c.oauthContext(ctx), &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		return nil, fmt.Errorf("failed to refresh token: %w", tokenError(err))
	}
	return c.toTokenSet(tok, refreshToken)
}

// oauthContext makes the oauth2 package use our instrumented client.
func (c *Client) oauthContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
}

func (c *Client) toTokenSet(tok *oauth2.Token, previousRefresh string) (*TokenSet, error) {
	if tok == nil || tok.AccessToken == "" {
		return nil, errors.New("token response did not include an access token")
	}

	set := &TokenSet{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		Expiry:       tok.Expiry,
	}
	if set.RefreshToken == "" {
		set.RefreshToken = previousRefresh
	}
	if set.Expiry.IsZero() {
		set.Expiry = c.now().Add(defaultTokenLifetime)
	}
	return set, nil
}

// tokenError converts oauth2 retrieve failures into *APIError so callers
// see one error type for every rejected remote call.
func tokenError(err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) && re.Response != nil {
		return newAPIError(re.Response.StatusCode, re.Body)
	}
	return err
}
