// Package client provides a Go client for the bountyd API.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Client is a bountyd API client
type Client struct {
	baseURL    string
	userAgent  string
	httpClient *http.Client
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client
func WithHTTPClient(c *http.Client) Option {
	return func(client *Client) {
		client.httpClient = c
	}
}

// WithUserAgent sets the User-Agent header sent with every request
func WithUserAgent(ua string) Option {
	return func(client *Client) {
		client.userAgent = ua
	}
}

// New creates a new bountyd client
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// BaseURL returns the server URL the client talks to
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Issue is an on-chain bounty as served by the issue API
type Issue struct {
	ID                          uint64 `json:"id"`
	Creator                     string `json:"creator"`
	TrackerURL                  string `json:"trackerUrl"`
	Repo                        string `json:"repo,omitempty"`
	Description                 string `json:"description"`
	Bounty                      string `json:"bounty"`
	BountyEther                 string `json:"bountyEther"`
	AssignedTo                  string `json:"assignedTo"`
	Status                      string `json:"status"`
	Difficulty                  string `json:"difficulty"`
	PercentCompleted            uint8  `json:"percentCompleted"`
	ClaimedPercent              uint8  `json:"claimedPercent"`
	CreatedAt                   int64  `json:"createdAt"`
	Age                         string `json:"age"`
	Deadline                    int64  `json:"deadline,omitempty"`
	MinCompletionForStakeReturn uint8  `json:"minCompletionForStakeReturn"`
	ConfidenceScore             uint64 `json:"confidenceScore"`
}

// ListIssuesResponse is the response for listing issues
type ListIssuesResponse struct {
	Data  []Issue `json:"data"`
	Total int     `json:"total"`
}

// IssueFilter narrows the issue list
type IssueFilter struct {
	Search     string
	Status     string
	Difficulty string
}

// Verification is the on-chain verification flag of an address
type Verification struct {
	Address  string `json:"address"`
	Verified bool   `json:"verified"`
}

// Proof is the latest identity proof relayed by the verification backend
type Proof struct {
	Nullifier      string `json:"nullifier"`
	UserIdentifier string `json:"userIdentifier"`
}

// VersionInfo describes the server build
type VersionInfo struct {
	Version          string `json:"version"`
	MinClientVersion string `json:"minClientVersion,omitempty"`
	ChainID          int64  `json:"chainId,omitempty"`
	Contract         string `json:"contract,omitempty"`
}

// APIError represents an API error response
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// ListIssues lists on-chain issues matching filter
func (c *Client) ListIssues(ctx context.Context, filter IssueFilter) (*ListIssuesResponse, error) {
	q := url.Values{}
	if filter.Search != "" {
		q.Set("search", filter.Search)
	}
	if filter.Status != "" {
		q.Set("status", filter.Status)
	}
	if filter.Difficulty != "" {
		q.Set("difficulty", filter.Difficulty)
	}
	path := "/api/v1/issues"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var resp ListIssuesResponse
	if err := c.get(ctx, path, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetIssue gets an issue by id
func (c *Client) GetIssue(ctx context.Context, id uint64) (*Issue, error) {
	var resp Issue
	if err := c.get(ctx, "/api/v1/issues/"+strconv.FormatUint(id, 10), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// IsVerified reads the verification flag of address
func (c *Client) IsVerified(ctx context.Context, address string) (*Verification, error) {
	var resp Verification
	path := fmt.Sprintf("/api/v1/addresses/%s/verified", url.PathEscape(address))
	if err := c.get(ctx, path, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// LatestProof gets the most recent proof, optionally for one user identifier
func (c *Client) LatestProof(ctx context.Context, user string) (*Proof, error) {
	path := "/api/verify"
	if user != "" {
		path += "?user=" + url.QueryEscape(user)
	}
	var resp Proof
	if err := c.get(ctx, path, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Version gets the server version
func (c *Client) Version(ctx context.Context) (*VersionInfo, error) {
	var resp VersionInfo
	if err := c.get(ctx, "/api/v1/version", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) get(ctx context.Context, path string, result any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}

	return c.do(req, result)
}

func (c *Client) do(req *http.Request, result any) error {
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return c.parseError(resp)
	}

	if result != nil {
		return json.NewDecoder(resp.Body).Decode(result)
	}

	return nil
}

func (c *Client) setHeaders(req *http.Request) {
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	req.Header.Set("Accept", "application/json")
}

func (c *Client) parseError(resp *http.Response) error {
	var errResp struct {
		Error APIError `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&errResp); err != nil || errResp.Error.Code == "" {
		return &APIError{Status: resp.StatusCode, Code: "HTTP_ERROR", Message: resp.Status}
	}
	errResp.Error.Status = resp.StatusCode
	return &errResp.Error
}
