// Package platform talks to the experiment server: agent registration,
// information and transmissions, and the HIT data endpoints.
package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

// ErrNotFound is returned when the server answers with an empty list where
// one entry was expected.
var ErrNotFound = errors.New("not found")

// StatusError is a non-2xx answer from the server.
type StatusError struct {
	Method string
	Path   string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.Code, strings.TrimSpace(e.Body))
}

// Agent is the participant's node in the transmission network.
type Agent struct {
	UUID string `json:"uuid"`
}

// Info is a piece of information held or created by a node.
type Info struct {
	UUID       string `json:"uuid"`
	OriginUUID string `json:"origin_uuid"`
	Type       string `json:"type"`
	Contents   string `json:"contents"`
}

// Transmission is information sent from one node to another.
type Transmission struct {
	UUID            string `json:"uuid"`
	InfoUUID        string `json:"info_uuid"`
	OriginUUID      string `json:"origin_uuid"`
	DestinationUUID string `json:"destination_uuid"`
}

// Client is an experiment server client bound to one participant.
type Client struct {
	base     *url.URL
	uniqueID string
	http     *http.Client
	log      *zap.Logger
}

// NewClient returns a client for the server at baseURL.
func NewClient(baseURL, uniqueID string, timeout time.Duration, log *zap.Logger) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid server url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid server url %q", baseURL)
	}
	if uniqueID == "" {
		return nil, errors.New("unique id required")
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		base:     u,
		uniqueID: uniqueID,
		http:     &http.Client{Timeout: timeout},
		log:      log,
	}, nil
}

// UniqueID returns the participant id the client was created with.
func (c *Client) UniqueID() string { return c.uniqueID }

// CreateAgent registers a new agent for this participant.
func (c *Client) CreateAgent(ctx context.Context) (Agent, error) {
	var resp struct {
		Agents Agent `json:"agents"`
	}
	form := url.Values{"unique_id": {c.uniqueID}}
	if err := c.do(ctx, http.MethodPost, "/agents", nil, form, &resp); err != nil {
		return Agent{}, err
	}
	if resp.Agents.UUID == "" {
		return Agent{}, fmt.Errorf("create agent: %w: empty uuid", ErrNotFound)
	}
	return resp.Agents, nil
}

// Information lists the infos created by originUUID.
func (c *Client) Information(ctx context.Context, originUUID string) ([]Info, error) {
	var resp struct {
		Information []Info `json:"information"`
	}
	q := url.Values{"origin_uuid": {originUUID}}
	if err := c.do(ctx, http.MethodGet, "/information", q, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Information, nil
}

// PendingTransmissions lists transmissions waiting for destinationUUID.
func (c *Client) PendingTransmissions(ctx context.Context, destinationUUID string) ([]Transmission, error) {
	var resp struct {
		Transmissions []Transmission `json:"transmissions"`
	}
	q := url.Values{"destination_uuid": {destinationUUID}}
	if err := c.do(ctx, http.MethodGet, "/transmissions", q, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Transmissions, nil
}

// Info fetches one info by uuid.
func (c *Client) Info(ctx context.Context, uuid string) (Info, error) {
	var info Info
	if err := c.do(ctx, http.MethodGet, "/information/"+url.PathEscape(uuid), nil, nil, &info); err != nil {
		return Info{}, err
	}
	return info, nil
}

// CreateInfo creates an info of infoType originating from originUUID.
func (c *Client) CreateInfo(ctx context.Context, originUUID, contents, infoType string) error {
	form := url.Values{
		"origin_uuid": {originUUID},
		"contents":    {contents},
		"info_type":   {infoType},
	}
	return c.do(ctx, http.MethodPost, "/information", nil, form, nil)
}

// SaveData uploads the participant's recorded data.
func (c *Client) SaveData(ctx context.Context, d Data) error {
	d.UniqueID = c.uniqueID
	body, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("failed to marshal data: %w", err)
	}
	return c.send(ctx, http.MethodPut, "/sync/"+url.PathEscape(c.uniqueID), nil,
		"application/json", bytes.NewReader(body), nil)
}

// ComputeBonus asks the server to compute the participant's bonus.
func (c *Client) ComputeBonus(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/compute_bonus", url.Values{"uniqueId": {c.uniqueID}}, nil, nil)
}

// CompleteHIT marks the HIT as completed.
func (c *Client) CompleteHIT(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/complete", url.Values{"uniqueId": {c.uniqueID}}, nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, query, form url.Values, out any) error {
	if form == nil {
		return c.send(ctx, method, path, query, "", nil, out)
	}
	return c.send(ctx, method, path, query,
		"application/x-www-form-urlencoded", strings.NewReader(form.Encode()), out)
}

func (c *Client) send(ctx context.Context, method, path string, query url.Values, contentType string, body io.Reader, out any) error {
	u := c.base.JoinPath(path)
	u.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Warn("request failed", zap.String("method", method), zap.String("path", path), zap.Error(err))
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	c.log.Debug("request",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("took", time.Since(start)))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &StatusError{Method: method, Path: path, Code: resp.StatusCode, Body: string(b)}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s %s: failed to decode response: %w", method, path, err)
	}
	return nil
}
