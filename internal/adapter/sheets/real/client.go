// Package real implements domain.SheetClient against the Google Sheets v4
// REST API, authenticating as a service account via a self-signed JWT
// bearer assertion (RFC 7523) — no google.golang.org/api/oauth2 dependency,
// just crypto/rsa and net/http.
package real

import (
	"bytes"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/sheetsight/analytics-backend/internal/domain"
)

const (
	sheetsScope     = "https://www.googleapis.com/auth/spreadsheets.readonly"
	defaultTokenURL = "https://oauth2.googleapis.com/token"
	tokenTTL        = 1 * time.Hour
	tokenRefresh    = 5 * time.Minute // refresh this long before actual expiry
)

// BackoffConfig supplies the retry schedule for transient API failures.
type BackoffConfig func() (maxElapsedTime, initialInterval, maxInterval time.Duration, multiplier float64)

// Client calls the Google Sheets v4 REST API as a service account.
type Client struct {
	httpClient *http.Client
	baseURL    string
	tokenURL   string
	email      string
	key        *rsa.PrivateKey
	backoffCfg BackoffConfig

	mu          sync.Mutex
	accessToken string
	expiresAt   time.Time
}

// New builds a real client. privateKeyPEM is the PKCS#8/PKCS#1 PEM-encoded
// service-account private key as delivered in a Google credentials JSON file.
func New(baseURL, email, privateKeyPEM string, backoffCfg BackoffConfig) (*Client, error) {
	key, err := parsePrivateKey(privateKeyPEM)
	if err != nil {
		return nil, fmt.Errorf("op=sheets.real.New: %w", err)
	}
	transport := otelhttp.NewTransport(http.DefaultTransport,
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return "sheets." + r.Method + " " + r.URL.Path
		}),
	)
	return &Client{
		httpClient: &http.Client{Transport: transport},
		baseURL:    strings.TrimRight(baseURL, "/"),
		tokenURL:   defaultTokenURL,
		email:      email,
		key:        key,
		backoffCfg: backoffCfg,
	}, nil
}

func parsePrivateKey(pemStr string) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(pemStr))
	if block == nil {
		return nil, errors.New("invalid PEM block for service account private key")
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse service account private key: %w", err)
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, errors.New("service account private key is not RSA")
	}
	return key, nil
}

func (c *Client) GetMetadata(ctx domain.Context, sheetID string) (domain.SheetMetadata, error) {
	var meta struct {
		Properties struct {
			Title string `json:"title"`
		} `json:"properties"`
		Sheets []struct {
			Properties struct {
				Title string `json:"title"`
			} `json:"properties"`
		} `json:"sheets"`
	}

	path := fmt.Sprintf("/spreadsheets/%s?fields=properties.title,sheets.properties.title", url.PathEscape(sheetID))
	if err := c.getJSON(ctx, path, &meta); err != nil {
		return domain.SheetMetadata{}, fmt.Errorf("op=sheets.real.GetMetadata: %w", err)
	}

	tabs := make([]string, 0, len(meta.Sheets))
	for _, s := range meta.Sheets {
		tabs = append(tabs, s.Properties.Title)
	}
	return domain.SheetMetadata{Title: meta.Properties.Title, Tabs: tabs}, nil
}

func (c *Client) GetValues(ctx domain.Context, sheetID, tab string, startRow int) ([][]string, error) {
	if startRow < 1 {
		startRow = 1
	}
	rangeExpr := fmt.Sprintf("%s!A%d:ZZ", tab, startRow)
	path := fmt.Sprintf("/spreadsheets/%s/values/%s", url.PathEscape(sheetID), url.PathEscape(rangeExpr))

	var resp struct {
		Values [][]string `json:"values"`
	}
	if err := c.getJSON(ctx, path, &resp); err != nil {
		return nil, fmt.Errorf("op=sheets.real.GetValues: %w", err)
	}
	return resp.Values, nil
}

func (c *Client) CheckAccess(ctx domain.Context, sheetID string) (bool, error) {
	path := fmt.Sprintf("/spreadsheets/%s?fields=properties.title", url.PathEscape(sheetID))
	var meta struct{}
	err := c.getJSON(ctx, path, &meta)
	if err == nil {
		return true, nil
	}
	var statusErr *apiStatusError
	if errors.As(err, &statusErr) && (statusErr.Status == http.StatusNotFound || statusErr.Status == http.StatusForbidden) {
		return false, nil
	}
	return false, fmt.Errorf("op=sheets.real.CheckAccess: %w", err)
}

func (c *Client) getJSON(ctx domain.Context, path string, out any) error {
	token, err := c.accessTokenFor(ctx)
	if err != nil {
		return err
	}

	var body []byte
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Authorization", "Bearer "+token)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		b, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return fmt.Errorf("sheets status %d: %s", resp.StatusCode, string(b))
		}
		if resp.StatusCode >= 400 {
			return backoff.Permanent(&apiStatusError{Status: resp.StatusCode, Body: string(b)})
		}
		body = b
		return nil
	}

	bo := backoff.WithContext(c.newBackoff(), ctx)
	if err := backoff.Retry(op, bo); err != nil {
		var statusErr *apiStatusError
		if errors.As(err, &statusErr) {
			return statusErr
		}
		return err
	}
	return json.Unmarshal(body, out)
}

func (c *Client) newBackoff() *backoff.ExponentialBackOff {
	expo := backoff.NewExponentialBackOff()
	maxElapsed, initial, maxInterval, multiplier := c.backoffCfg()
	expo.MaxElapsedTime = maxElapsed
	expo.InitialInterval = initial
	expo.MaxInterval = maxInterval
	expo.Multiplier = multiplier
	return expo
}

// accessTokenFor returns a cached access token, refreshing it shortly before
// expiry via the JWT bearer grant (RFC 7523).
func (c *Client) accessTokenFor(ctx domain.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.accessToken != "" && time.Now().Before(c.expiresAt.Add(-tokenRefresh)) {
		return c.accessToken, nil
	}

	assertion, err := c.signedJWT()
	if err != nil {
		return "", fmt.Errorf("op=sheets.real.accessToken: %w", err)
	}

	form := url.Values{
		"grant_type": {"urn:ietf:params:oauth:grant-type:jwt-bearer"},
		"assertion":  {assertion},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tokenURL, bytes.NewBufferString(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("op=sheets.real.accessToken: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("op=sheets.real.accessToken: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("op=sheets.real.accessToken: %w", err)
	}
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("op=sheets.real.accessToken: %w: token endpoint status %d: %s",
			domain.ErrExternalUnavailable, resp.StatusCode, string(body))
	}

	var tokenResp struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &tokenResp); err != nil {
		return "", fmt.Errorf("op=sheets.real.accessToken: %w", err)
	}

	c.accessToken = tokenResp.AccessToken
	c.expiresAt = time.Now().Add(time.Duration(tokenResp.ExpiresIn) * time.Second)
	return c.accessToken, nil
}

// signedJWT builds and RS256-signs the self-issued JWT assertion Google
// exchanges for an access token.
func (c *Client) signedJWT() (string, error) {
	now := time.Now()
	header := map[string]string{"alg": "RS256", "typ": "JWT"}
	claims := map[string]any{
		"iss":   c.email,
		"scope": sheetsScope,
		"aud":   c.tokenURL,
		"iat":   now.Unix(),
		"exp":   now.Add(tokenTTL).Unix(),
	}

	headerJSON, err := json.Marshal(header)
	if err != nil {
		return "", err
	}
	claimsJSON, err := json.Marshal(claims)
	if err != nil {
		return "", err
	}

	signingInput := base64URLEncode(headerJSON) + "." + base64URLEncode(claimsJSON)
	digest := sha256.Sum256([]byte(signingInput))
	sig, err := rsa.SignPKCS1v15(rand.Reader, c.key, crypto.SHA256, digest[:])
	if err != nil {
		return "", err
	}
	return signingInput + "." + base64URLEncode(sig), nil
}

func base64URLEncode(b []byte) string {
	return base64.RawURLEncoding.EncodeToString(b)
}

// apiStatusError carries the HTTP status code of a non-retryable Sheets API
// response so CheckAccess can distinguish "not shared" from other failures.
type apiStatusError struct {
	Status int
	Body   string
}

func (e *apiStatusError) Error() string {
	return fmt.Sprintf("sheets status %d: %s", e.Status, e.Body)
}
