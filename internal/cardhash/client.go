// Package cardhash fetches the payment gateway's card hash key and encrypts
// card data with it.
package cardhash

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
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
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"
)

const DefaultEndpoint = "https://api.pagar.me/1"

var (
	ErrInvalidPublicKey = errors.New("invalid card hash public key")
	ErrUnexpectedStatus = errors.New("unexpected response status")
)

// Key is the gateway's current card hash key.
type Key struct {
	ID        string
	PublicKey *rsa.PublicKey
}

type cardHashKeyResponse struct {
	ID        json.RawMessage `json:"id"`
	PublicKey string          `json:"public_key"`
}

// Client talks to the gateway API.
type Client struct {
	endpoint   string
	httpClient *http.Client
	maxTries   uint
	random     io.Reader
}

// Option customises a Client.
type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithMaxTries bounds attempts for each request, including the first.
func WithMaxTries(n uint) Option {
	return func(c *Client) {
		c.maxTries = n
	}
}

func NewClient(endpoint string, opts ...Option) *Client {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}

	c := &Client{
		endpoint:   strings.TrimSuffix(endpoint, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		maxTries:   3,
		random:     rand.Reader,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CardHash encrypts data with a freshly fetched key and returns "<id>_<base64>".
func (c *Client) CardHash(ctx context.Context, encryptionKey, data string) (string, error) {
	key, err := c.GetCardHashKey(ctx, encryptionKey)
	if err != nil {
		return "", err
	}
	return c.Encrypt(key, data)
}

// GetCardHashKey fetches the current key using encryptionKey as the basic auth
// user.
func (c *Client) GetCardHashKey(ctx context.Context, encryptionKey string) (*Key, error) {
	var resp cardHashKeyResponse
	if err := c.getJSON(ctx, "/transactions/card_hash_key", encryptionKey, &resp); err != nil {
		return nil, fmt.Errorf("failed to get card hash key: %w", err)
	}

	pub, err := ParsePublicKey([]byte(resp.PublicKey))
	if err != nil {
		return nil, err
	}

	return &Key{ID: strings.Trim(string(resp.ID), `"`), PublicKey: pub}, nil
}

// GetTerminalTable decodes the JSON array served for tableType into out.
func (c *Client) GetTerminalTable(ctx context.Context, tableType string, out any) error {
	if err := c.getJSON(ctx, "/terminal/"+url.PathEscape(tableType), "", out); err != nil {
		return fmt.Errorf("failed to get terminal table %s: %w", tableType, err)
	}
	return nil
}

// Encrypt encrypts data with PKCS#1 v1.5 in blocks of the key size less
// padding and joins the ciphertexts.
func (c *Client) Encrypt(key *Key, data string) (string, error) {
	plaintext := []byte(data)
	blockSize := key.PublicKey.Size() - 11

	var out bytes.Buffer
	for start := 0; start < len(plaintext); start += blockSize {
		end := min(start+blockSize, len(plaintext))

		block, err := rsa.EncryptPKCS1v15(c.random, key.PublicKey, plaintext[start:end])
		if err != nil {
			return "", fmt.Errorf("failed to encrypt card data: %w", err)
		}
		out.Write(block)
	}

	return key.ID + "_" + base64.StdEncoding.EncodeToString(out.Bytes()), nil
}

// ParsePublicKey accepts a PKIX or PKCS#1 PEM encoded RSA public key.
func ParsePublicKey(data []byte) (*rsa.PublicKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("%w: no PEM block", ErrInvalidPublicKey)
	}

	switch block.Type {
	case "RSA PUBLIC KEY":
		pub, err := x509.ParsePKCS1PublicKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPublicKey, err)
		}
		return pub, nil
	case "PUBLIC KEY":
		parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPublicKey, err)
		}
		pub, ok := parsed.(*rsa.PublicKey)
		if !ok {
			return nil, fmt.Errorf("%w: %T is not an RSA key", ErrInvalidPublicKey, parsed)
		}
		return pub, nil
	default:
		return nil, fmt.Errorf("%w: unexpected PEM type %q", ErrInvalidPublicKey, block.Type)
	}
}

func (c *Client) getJSON(ctx context.Context, path, user string, out any) error {
	body, err := backoff.Retry(ctx, func() ([]byte, error) {
		return c.get(ctx, path, user)
	},
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(c.maxTries),
		backoff.WithNotify(func(err error, d time.Duration) {
			zerolog.Ctx(ctx).Warn().Err(err).Str("path", path).Dur("retry_in", d).Msg("gateway request failed, retrying")
		}),
	)
	if err != nil {
		return err
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func (c *Client) get(ctx context.Context, path, user string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+path, nil)
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	req.Header.Set("Accept", "application/json")
	if user != "" {
		req.SetBasicAuth(user, "x")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("%w: %s", ErrUnexpectedStatus, resp.Status)
		if resp.StatusCode < http.StatusInternalServerError && resp.StatusCode != http.StatusTooManyRequests {
			return nil, backoff.Permanent(err)
		}
		return nil, err
	}

	return body, nil
}
