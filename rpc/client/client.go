// Package client is a minimal HTTP client for the Admin RPC, used by
// integration tests that drive the EC the way an administrator would.
//
// Grounded on the teacher's api/client.HTTPclient: a raw Request
// method plumbing method/body/query through net/http, with typed
// wrappers built on top.
package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"time"
)

// DefaultTimeout bounds every request made by the client.
const DefaultTimeout = 10 * time.Second

// Client is a thin HTTP wrapper around the Admin RPC.
type Client struct {
	c    *http.Client
	host *url.URL
}

// New returns a client pointed at host (e.g. "http://127.0.0.1:50001").
func New(host string) (*Client, error) {
	u, err := url.Parse(host)
	if err != nil {
		return nil, fmt.Errorf("parse host: %w", err)
	}
	return &Client{c: &http.Client{Timeout: DefaultTimeout}, host: u}, nil
}

// Request issues method against urlPath, optionally with a JSON body
// and query parameters (key, value, key, value, ...), and returns the
// raw response body and status code.
func (c *Client) Request(method string, jsonBody any, params []string, urlPath ...string) ([]byte, int, error) {
	var body []byte
	var err error
	if jsonBody != nil {
		body, err = json.Marshal(jsonBody)
		if err != nil {
			return nil, 0, fmt.Errorf("marshal body: %w", err)
		}
	}

	u := *c.host
	u.Path = path.Join(append([]string{u.Path}, urlPath...)...)
	if len(params) > 0 {
		q := u.Query()
		for i := 0; i+1 < len(params); i += 2 {
			q.Set(params[i], params[i+1])
		}
		u.RawQuery = q.Encode()
	}

	req, err := http.NewRequest(method, u.String(), bytes.NewReader(body))
	if err != nil {
		return nil, 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.c.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("read body: %w", err)
	}
	return data, resp.StatusCode, nil
}

// Candidate mirrors types.Candidate without importing the server's
// internal types package.
type Candidate struct {
	ID   uint8  `json:"id"`
	Name string `json:"name"`
}

// AddElection creates an election and returns its id.
func (c *Client) AddElection(name string, startTime, duration int64, candidates []Candidate) (string, error) {
	req := struct {
		Name       string      `json:"name"`
		StartTime  int64       `json:"startTime"`
		Duration   int64       `json:"duration"`
		Candidates []Candidate `json:"candidates"`
	}{name, startTime, duration, candidates}

	data, status, err := c.Request(http.MethodPost, req, nil, "elections")
	if err != nil {
		return "", err
	}
	var resp struct {
		Success    bool   `json:"success"`
		ElectionID string `json:"electionId"`
		Message    string `json:"message"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return "", fmt.Errorf("decode response (status %d): %w", status, err)
	}
	if !resp.Success {
		return "", fmt.Errorf("add election failed: %s", resp.Message)
	}
	return resp.ElectionID, nil
}

// AddVoter registers a voter's pubkey as authorized for electionID.
func (c *Client) AddVoter(electionID, name, pubkey string) error {
	req := struct {
		Name   string `json:"name"`
		Pubkey string `json:"pubkey"`
	}{name, pubkey}
	data, status, err := c.Request(http.MethodPost, req, nil, "elections", electionID, "voters")
	if err != nil {
		return err
	}
	return okOrError(data, status)
}

// CancelElection cancels electionID.
func (c *Client) CancelElection(electionID string) error {
	data, status, err := c.Request(http.MethodPost, nil, nil, "elections", electionID, "cancel")
	if err != nil {
		return err
	}
	return okOrError(data, status)
}

// GetElection fetches raw election JSON.
func (c *Client) GetElection(electionID string) ([]byte, error) {
	data, status, err := c.Request(http.MethodGet, nil, nil, "elections", electionID)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("get election: status %d: %s", status, data)
	}
	return data, nil
}

// ListElections pages through elections, returning raw JSON.
func (c *Client) ListElections(limit, offset int) ([]byte, error) {
	data, status, err := c.Request(http.MethodGet, nil,
		[]string{"limit", strconv.Itoa(limit), "offset", strconv.Itoa(offset)}, "elections")
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("list elections: status %d: %s", status, data)
	}
	return data, nil
}

func okOrError(data []byte, status int) error {
	var resp struct {
		Success bool   `json:"success"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return fmt.Errorf("decode response (status %d): %w", status, err)
	}
	if !resp.Success {
		return fmt.Errorf("%s (status %d)", resp.Message, status)
	}
	return nil
}
