package attendance

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/kozaktomas/facetrack/internal/config"
	"github.com/kozaktomas/facetrack/internal/database"
	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"
)

const (
	// tokenRefreshMargin is how long before expiry a token is refreshed.
	tokenRefreshMargin = 5 * time.Minute
	defaultExpiresIn   = 3600
	// remoteDateFormat is announced to the API, timeLayout is the same format in Go.
	remoteDateFormat = "dd-MM-yyyy HH:mm:ss"
	timeLayout       = "02-01-2006 15:04:05"
)

// Sender delivers one event to the external attendance system.
type Sender interface {
	Send(ctx context.Context, ev Event) error
	RefreshToken(ctx context.Context) error
}

// Client talks to the external attendance API with an OAuth refresh-token
// flow. It is safe for concurrent use.
type Client struct {
	apiURL       *url.URL
	tokenURL     string
	clientID     string
	clientSecret string
	refreshToken string
	http         *http.Client

	tokenMu     sync.Mutex
	accessToken string
	expiresAt   time.Time
	now         func() time.Time
}

var _ Sender = (*Client)(nil)

// NewClient creates a client from configuration. A configured access token
// is used until it is rejected or its refresh is due.
func NewClient(cfg config.AttendanceConfig) (*Client, error) {
	apiURL, err := url.Parse(cfg.APIURL)
	if err != nil {
		return nil, fmt.Errorf("invalid attendance API URL: %w", err)
	}
	return &Client{
		apiURL:       apiURL,
		tokenURL:     cfg.TokenURL,
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		refreshToken: cfg.RefreshToken,
		accessToken:  cfg.AccessToken,
		http:         &http.Client{Timeout: 10 * time.Second},
		now:          time.Now,
	}, nil
}

// tokenResponse is the token endpoint payload.
type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
	Error       string `json:"error"`
}

// token returns a valid access token, refreshing it when it is within the
// refresh margin of its expiry.
func (c *Client) token(ctx context.Context) (string, error) {
	c.tokenMu.Lock()
	defer c.tokenMu.Unlock()

	if c.accessToken != "" && (c.expiresAt.IsZero() || c.now().Before(c.expiresAt.Add(-tokenRefreshMargin))) {
		return c.accessToken, nil
	}
	if err := c.refreshLocked(ctx); err != nil {
		return "", err
	}
	return c.accessToken, nil
}

// RefreshToken forces a token refresh.
func (c *Client) RefreshToken(ctx context.Context) error {
	c.tokenMu.Lock()
	defer c.tokenMu.Unlock()
	return c.refreshLocked(ctx)
}

func (c *Client) refreshLocked(ctx context.Context) error {
	if c.refreshToken == "" || c.tokenURL == "" {
		if c.accessToken != "" {
			return nil
		}
		return ErrNoToken
	}

	form := url.Values{
		"refresh_token": {c.refreshToken},
		"client_id":     {c.clientID},
		"client_secret": {c.clientSecret},
		"grant_type":    {"refresh_token"},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("could not create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req) //nolint:gosec // token URL comes from configuration
	if err != nil {
		c.accessToken, c.expiresAt = "", time.Time{}
		return fmt.Errorf("could not refresh token: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.accessToken, c.expiresAt = "", time.Time{}
		return fmt.Errorf("token refresh failed with status %d: %s", resp.StatusCode, readErrorBody(resp.Body))
	}

	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return fmt.Errorf("could not decode token response: %w", err)
	}
	if tr.AccessToken == "" {
		c.accessToken, c.expiresAt = "", time.Time{}
		return fmt.Errorf("%w: %s", ErrNoToken, tr.Error)
	}
	if tr.ExpiresIn <= 0 {
		tr.ExpiresIn = defaultExpiresIn
	}
	c.accessToken = tr.AccessToken
	c.expiresAt = c.now().Add(time.Duration(tr.ExpiresIn) * time.Second)
	log.Info().Int("expires_in", tr.ExpiresIn).Msg("refreshed attendance access token")
	return nil
}

// Send performs a single delivery attempt. Errors are *DeliveryError except
// for token and request construction failures.
func (c *Client) Send(ctx context.Context, ev Event) error {
	token, err := c.token(ctx)
	if err != nil {
		return &DeliveryError{Retryable: true, Err: err}
	}

	target := *c.apiURL
	params := target.Query()
	params.Set("empId", ev.EmployeeID)
	params.Set("dateFormat", remoteDateFormat)
	stamp := ev.Timestamp.Format(timeLayout)
	if ev.Type == database.EventCheckIn {
		params.Set("checkIn", stamp)
	} else {
		params.Set("checkOut", stamp)
	}
	target.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.String(), nil)
	if err != nil {
		return fmt.Errorf("could not create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.http.Do(req) //nolint:gosec // API URL comes from configuration
	if err != nil {
		return &DeliveryError{Retryable: true, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return statusError(resp.StatusCode, readErrorBody(resp.Body))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &DeliveryError{Status: resp.StatusCode, Retryable: true, Err: err}
	}
	if !isSuccess(body) {
		return &DeliveryError{Status: resp.StatusCode, Body: string(body), Err: ErrRejected}
	}
	return nil
}

// isSuccess accepts a single object or a list of objects where at least one
// carries response == "success".
func isSuccess(body []byte) bool {
	if !gjson.ValidBytes(body) {
		return false
	}
	res := gjson.ParseBytes(body)
	if res.IsArray() {
		for _, item := range res.Array() {
			if item.IsObject() && item.Get("response").String() == "success" {
				return true
			}
		}
		return false
	}
	return res.IsObject() && res.Get("response").String() == "success"
}

// readErrorBody reads a bounded prefix of an error response body.
func readErrorBody(r io.Reader) string {
	body, err := io.ReadAll(io.LimitReader(r, 4096))
	if err != nil {
		return "(could not read error body)"
	}
	return strconv.Quote(string(body))
}
