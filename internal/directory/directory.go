// Package directory is the HTTP client for a remote key directory. It
// implements keyring.RemoteProvider. Key metadata in responses is never
// trusted: descriptors are re-derived from the armored material the
// directory returns, and anything secret or unparseable is dropped.
package directory

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/None-later/end-to-end/internal/keyring"
	"github.com/None-later/end-to-end/internal/models"
	"github.com/None-later/end-to-end/internal/pgp"
)

// Client talks to one key directory. It is safe for concurrent use.
type Client struct {
	baseURL string
	http    *http.Client
	log     *zap.Logger
}

// New builds a directory client for the given base URL. client may be
// nil, in which case a default client with a 10 second timeout is used;
// log may be nil.
func New(baseURL string, client *http.Client, log *zap.Logger) *Client {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    client,
		log:     log,
	}
}

// NewTLSClient builds an HTTP client that trusts the given CA bundle, for
// directories serving behind a private CA.
func NewTLSClient(caFile string) (*http.Client, error) {
	caCert, err := os.ReadFile(caFile)
	if err != nil {
		return nil, fmt.Errorf("read CA cert: %w", err)
	}
	caPool := x509.NewCertPool()
	if !caPool.AppendCertsFromPEM(caCert) {
		return nil, errors.New("parse CA cert")
	}
	transport := &http.Transport{TLSClientConfig: &tls.Config{RootCAs: caPool}}
	return &http.Client{Transport: transport, Timeout: 10 * time.Second}, nil
}

// TrustedKeysByEmail returns descriptors for the directory's verified
// public keys bound to an email address.
func (c *Client) TrustedKeysByEmail(ctx context.Context, email string) ([]models.Key, error) {
	var payload struct {
		Keys []models.Key `json:"keys"`
	}
	if err := c.getJSON(ctx, "/api/v1/keys/email/"+url.PathEscape(email), &payload); err != nil {
		return nil, err
	}

	keys := make([]models.Key, 0, len(payload.Keys))
	for _, k := range payload.Keys {
		block, ok := c.parseReturned(k.Armored)
		if !ok {
			continue
		}
		desc, err := block.DescriptorWithArmor()
		if err != nil {
			return nil, err
		}
		keys = append(keys, desc)
	}
	return keys, nil
}

// VerificationKeysByID returns the parsed public keys the directory knows
// under a 64-bit key ID.
func (c *Client) VerificationKeysByID(ctx context.Context, id uint64) ([]*pgp.KeyBlock, error) {
	var payload struct {
		Keys []models.Key `json:"keys"`
	}
	if err := c.getJSON(ctx, "/api/v1/keys/id/"+pgp.FormatKeyID(id), &payload); err != nil {
		return nil, err
	}

	blocks := make([]*pgp.KeyBlock, 0, len(payload.Keys))
	for _, k := range payload.Keys {
		block, ok := c.parseReturned(k.Armored)
		if !ok {
			continue
		}
		blocks = append(blocks, block)
	}
	return blocks, nil
}

// ImportKeys submits armored public keys to the directory on behalf of an
// identity. Secret material and keys without serialized form are never
// sent; with nothing sendable the submission is skipped and reported as
// not accepted.
func (c *Client) ImportKeys(ctx context.Context, keys []models.Key, identity string) (bool, error) {
	submission := struct {
		Identity string   `json:"identity"`
		Keys     []string `json:"keys"`
	}{Identity: identity}
	for _, k := range keys {
		if k.Secret || len(k.Armored) == 0 {
			continue
		}
		submission.Keys = append(submission.Keys, string(k.Armored))
	}
	if len(submission.Keys) == 0 {
		return false, nil
	}

	body, err := json.Marshal(submission)
	if err != nil {
		return false, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/keys", bytes.NewReader(body))
	if err != nil {
		return false, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return false, fmt.Errorf("%w: %v", keyring.ErrRemoteUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		return false, fmt.Errorf("%w: submit returned %s", keyring.ErrRemoteUnavailable, resp.Status)
	}

	var result struct {
		SubmissionID string `json:"submission_id"`
		Accepted     bool   `json:"accepted"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return false, fmt.Errorf("%w: decode response: %v", keyring.ErrRemoteUnavailable, err)
	}
	c.log.Info("submitted keys to directory",
		zap.String("submission_id", result.SubmissionID),
		zap.String("identity", identity),
		zap.Int("keys", len(submission.Keys)))
	return result.Accepted, nil
}

// parseReturned parses one armored key from a directory response,
// dropping secret and unparseable material with a warning.
func (c *Client) parseReturned(armored []byte) (*pgp.KeyBlock, bool) {
	if len(armored) == 0 {
		c.log.Warn("directory returned a key without serialized form")
		return nil, false
	}
	block, err := pgp.ParseKey(armored)
	if err != nil {
		c.log.Warn("directory returned an unparseable key", zap.Error(err))
		return nil, false
	}
	if block.IsSecret() {
		c.log.Warn("directory returned secret material, dropping it",
			zap.String("fingerprint", block.Fingerprint().String()))
		return nil, false
	}
	return block, true
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", keyring.ErrRemoteUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: %s returned %s", keyring.ErrRemoteUnavailable, path, resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode response: %v", keyring.ErrRemoteUnavailable, err)
	}
	return nil
}
