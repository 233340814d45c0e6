// Package outline talks to the management API of an Outline VPN server.
package outline

import (
	"bytes"
	"context"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

var ErrKeyNotFound = errors.New("access key not found")

// Key is an access key as the server reports it.
type Key struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Password  string `json:"password,omitempty"`
	Port      int    `json:"port,omitempty"`
	Method    string `json:"method,omitempty"`
	AccessURL string `json:"accessUrl"`
}

type ServerInfo struct {
	Name      string `json:"name"`
	ServerID  string `json:"serverId"`
	Version   string `json:"version"`
	CreatedAt int64  `json:"createdTimestampMs"`
}

// APIError is any non-2xx answer other than 404.
type APIError struct {
	Method string
	Path   string
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("outline %s %s: status %d: %s", e.Method, e.Path, e.Status, e.Body)
}

type Client struct {
	apiURL string
	http   *http.Client
}

type Option func(*Client)

// WithHTTPClient replaces the transport; the pinned-certificate setup is skipped.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// New builds a client for apiURL (the secret management URL printed by the installer).
// certSHA256 pins the server's self-signed certificate; empty means normal CA verification.
func New(apiURL, certSHA256 string, timeout time.Duration, opts ...Option) (*Client, error) {
	if _, err := url.Parse(apiURL); err != nil {
		return nil, fmt.Errorf("parse outline api url: %w", err)
	}
	c := &Client{apiURL: strings.TrimRight(apiURL, "/")}
	for _, opt := range opts {
		opt(c)
	}
	if c.http == nil {
		tr := http.DefaultTransport.(*http.Transport).Clone()
		if certSHA256 != "" {
			fp, err := hex.DecodeString(strings.ReplaceAll(certSHA256, ":", ""))
			if err != nil {
				return nil, fmt.Errorf("decode cert fingerprint: %w", err)
			}
			tr.TLSClientConfig = &tls.Config{
				// chain verification is replaced by the fingerprint check below
				InsecureSkipVerify: true,
				VerifyPeerCertificate: func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
					if len(rawCerts) == 0 {
						return errors.New("no server certificate")
					}
					sum := sha256.Sum256(rawCerts[0])
					if !bytes.Equal(sum[:], fp) {
						return errors.New("server certificate fingerprint mismatch")
					}
					return nil
				},
			}
		}
		c.http = &http.Client{Transport: tr, Timeout: timeout}
	}
	return c, nil
}

func (c *Client) CreateKey(ctx context.Context) (Key, error) {
	var key Key
	err := c.do(ctx, http.MethodPost, "/access-keys", nil, http.StatusCreated, &key)
	return key, err
}

func (c *Client) RenameKey(ctx context.Context, id, name string) error {
	form := url.Values{"name": {name}}
	return c.do(ctx, http.MethodPut, "/access-keys/"+url.PathEscape(id)+"/name", form, http.StatusNoContent, nil)
}

func (c *Client) GetKey(ctx context.Context, id string) (Key, error) {
	var key Key
	err := c.do(ctx, http.MethodGet, "/access-keys/"+url.PathEscape(id), nil, http.StatusOK, &key)
	return key, err
}

func (c *Client) DeleteKey(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/access-keys/"+url.PathEscape(id), nil, http.StatusNoContent, nil)
}

func (c *Client) ListKeys(ctx context.Context) ([]Key, error) {
	var resp struct {
		AccessKeys []Key `json:"accessKeys"`
	}
	if err := c.do(ctx, http.MethodGet, "/access-keys", nil, http.StatusOK, &resp); err != nil {
		return nil, err
	}
	return resp.AccessKeys, nil
}

func (c *Client) ServerInfo(ctx context.Context) (ServerInfo, error) {
	var info ServerInfo
	err := c.do(ctx, http.MethodGet, "/server", nil, http.StatusOK, &info)
	return info, err
}

func (c *Client) do(ctx context.Context, method, path string, form url.Values, want int, out interface{}) error {
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, c.apiURL+path, body)
	if err != nil {
		return fmt.Errorf("build outline request: %w", err)
	}
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("outline %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("outline %s %s: %w", method, path, ErrKeyNotFound)
	}
	// some server versions answer 200 where 201/204 is documented
	if resp.StatusCode != want && (resp.StatusCode < 200 || resp.StatusCode > 299) {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return &APIError{Method: method, Path: path, Status: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode outline %s %s: %w", method, path, err)
	}
	return nil
}
