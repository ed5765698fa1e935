package atproto

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/failsafe-go/failsafe-go/retrypolicy"

	"github.com/agile-enigma/bsky-multitool/pkg/logging"
)

// DefaultBaseURL is the public Bluesky PDS entrypoint.
const DefaultBaseURL = "https://bsky.social"

// graphPageSize is the per-request limit for social-graph endpoints.
const graphPageSize = 100

// Client is an authenticated XRPC client for the Bluesky app-view. All
// remote calls run through the retry executor; fatal account-level errors
// abort retries and propagate immediately.
type Client struct {
	baseURL   string
	http      *http.Client
	logger    logging.Logger
	policy    retrypolicy.RetryPolicy[[]byte]
	accessJwt string
	did       string
	handle    string
}

// Config represents configuration for the XRPC client.
type Config struct {
	BaseURL    string
	Logger     logging.Logger
	Retry      RetryConfig
	HTTPClient *http.Client
}

// defaultHTTPClient caps connections per host so a slow app-view cannot
// pile up sockets during enrichment bursts.
func defaultHTTPClient() *http.Client {
	return &http.Client{
		Timeout: 30 * time.Second,
		Transport: &http.Transport{
			MaxConnsPerHost:     100,
			MaxIdleConnsPerHost: 10,
			MaxIdleConns:        100,
			IdleConnTimeout:     90 * time.Second,
			DialContext: (&net.Dialer{
				Timeout:   10 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			TLSHandshakeTimeout: 10 * time.Second,
		},
	}
}

// NewClient creates a new XRPC client.
func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = defaultHTTPClient()
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.NewLogger()
	}
	if cfg.Retry.Logger == nil {
		cfg.Retry.Logger = cfg.Logger
	}

	return &Client{
		baseURL: cfg.BaseURL,
		http:    cfg.HTTPClient,
		logger:  cfg.Logger,
		policy:  NewRetryPolicy[[]byte](cfg.Retry),
	}
}

// DID returns the authenticated account's DID, empty before login.
func (c *Client) DID() string { return c.did }

// Handle returns the authenticated account's handle, empty before login.
func (c *Client) Handle() string { return c.handle }

// CreateSession authenticates with a handle and app password. A rejected
// credential pair maps to ErrUnauthorized and is never retried.
func (c *Client) CreateSession(ctx context.Context, identifier, password string) error {
	payload, err := json.Marshal(map[string]string{
		"identifier": identifier,
		"password":   password,
	})
	if err != nil {
		return err
	}

	body, err := c.call(ctx, http.MethodPost, "com.atproto.server.createSession", nil, payload)
	if err != nil {
		if apiErr, ok := asAPIError(err); ok && apiErr.StatusCode == http.StatusUnauthorized {
			return ErrUnauthorized
		}
		return fmt.Errorf("create session: %w", err)
	}

	var session sessionResponse
	if err := json.Unmarshal(body, &session); err != nil {
		return fmt.Errorf("decode session: %w", err)
	}
	c.accessJwt = session.AccessJwt
	c.did = session.DID
	c.handle = session.Handle

	c.logger.WithFields(logging.Fields{
		"handle": session.Handle,
		"did":    session.DID,
	}).Info("Session created")
	return nil
}

// Ping verifies the current session is still accepted by the server.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.call(ctx, http.MethodGet, "com.atproto.server.getSession", nil, nil)
	return err
}

// GetProfile fetches a detailed profile by DID or handle.
func (c *Client) GetProfile(ctx context.Context, actor string) (*Profile, error) {
	params := url.Values{"actor": []string{actor}}
	body, err := c.call(ctx, http.MethodGet, "app.bsky.actor.getProfile", params, nil)
	if err != nil {
		return nil, fmt.Errorf("get profile %s: %w", actor, err)
	}
	var profile Profile
	if err := json.Unmarshal(body, &profile); err != nil {
		return nil, fmt.Errorf("decode profile %s: %w", actor, err)
	}
	return &profile, nil
}

// GetPost fetches a single post view by AT-URI. A deleted or blocked
// target yields ErrPostNotFound.
func (c *Client) GetPost(ctx context.Context, uri string) (*Post, error) {
	params := url.Values{"uris": []string{uri}}
	body, err := c.call(ctx, http.MethodGet, "app.bsky.feed.getPosts", params, nil)
	if err != nil {
		return nil, fmt.Errorf("get post %s: %w", uri, err)
	}
	var resp postsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode post %s: %w", uri, err)
	}
	if len(resp.Posts) == 0 {
		return nil, ErrPostNotFound
	}
	return resp.Posts[0], nil
}

// SearchPosts fetches one page of search results. The query string may
// carry since:/until: qualifiers; cursor is the opaque token from the
// previous page, empty for the first.
func (c *Client) SearchPosts(ctx context.Context, query, cursor string, limit int) (*SearchPage, error) {
	params := url.Values{
		"q":     []string{query},
		"limit": []string{strconv.Itoa(limit)},
	}
	if cursor != "" {
		params.Set("cursor", cursor)
	}
	body, err := c.call(ctx, http.MethodGet, "app.bsky.feed.searchPosts", params, nil)
	if err != nil {
		return nil, fmt.Errorf("search posts: %w", err)
	}
	var page SearchPage
	if err := json.Unmarshal(body, &page); err != nil {
		return nil, fmt.Errorf("decode search page: %w", err)
	}
	return &page, nil
}

// GetFollowers fetches the complete follower list for an actor, walking
// the cursor until exhaustion.
func (c *Client) GetFollowers(ctx context.Context, actor string) ([]ActorBasic, error) {
	var out []ActorBasic
	cursor := ""
	for {
		params := url.Values{
			"actor": []string{actor},
			"limit": []string{strconv.Itoa(graphPageSize)},
		}
		if cursor != "" {
			params.Set("cursor", cursor)
		}
		body, err := c.call(ctx, http.MethodGet, "app.bsky.graph.getFollowers", params, nil)
		if err != nil {
			return nil, fmt.Errorf("get followers %s: %w", actor, err)
		}
		var resp followersResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			return nil, fmt.Errorf("decode followers %s: %w", actor, err)
		}
		out = append(out, resp.Followers...)
		if resp.Cursor == nil || *resp.Cursor == "" {
			return out, nil
		}
		cursor = *resp.Cursor
	}
}

// GetFollows fetches the complete following list for an actor.
func (c *Client) GetFollows(ctx context.Context, actor string) ([]ActorBasic, error) {
	var out []ActorBasic
	cursor := ""
	for {
		params := url.Values{
			"actor": []string{actor},
			"limit": []string{strconv.Itoa(graphPageSize)},
		}
		if cursor != "" {
			params.Set("cursor", cursor)
		}
		body, err := c.call(ctx, http.MethodGet, "app.bsky.graph.getFollows", params, nil)
		if err != nil {
			return nil, fmt.Errorf("get follows %s: %w", actor, err)
		}
		var resp followsResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			return nil, fmt.Errorf("decode follows %s: %w", actor, err)
		}
		out = append(out, resp.Follows...)
		if resp.Cursor == nil || *resp.Cursor == "" {
			return out, nil
		}
		cursor = *resp.Cursor
	}
}

// GetRepostedBy fetches up to max actors who reposted the given post.
func (c *Client) GetRepostedBy(ctx context.Context, uri string, max int) ([]ActorBasic, error) {
	var out []ActorBasic
	cursor := ""
	for max <= 0 || len(out) < max {
		params := url.Values{
			"uri":   []string{uri},
			"limit": []string{strconv.Itoa(graphPageSize)},
		}
		if cursor != "" {
			params.Set("cursor", cursor)
		}
		body, err := c.call(ctx, http.MethodGet, "app.bsky.feed.getRepostedBy", params, nil)
		if err != nil {
			return nil, fmt.Errorf("get reposted by %s: %w", uri, err)
		}
		var resp repostedByResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			return nil, fmt.Errorf("decode reposted by %s: %w", uri, err)
		}
		out = append(out, resp.RepostedBy...)
		if resp.Cursor == nil || *resp.Cursor == "" {
			break
		}
		cursor = *resp.Cursor
	}
	if max > 0 && len(out) > max {
		out = out[:max]
	}
	return out, nil
}

// call runs one XRPC method through the retry executor.
func (c *Client) call(ctx context.Context, method, nsid string, params url.Values, payload []byte) ([]byte, error) {
	return Retry(ctx, c.policy, func() ([]byte, error) {
		return c.doOnce(ctx, method, nsid, params, payload)
	})
}

// doOnce performs a single HTTP attempt, mapping non-2xx responses to
// *APIError so the retry policy can classify them.
func (c *Client) doOnce(ctx context.Context, method, nsid string, params url.Values, payload []byte) ([]byte, error) {
	endpoint := c.baseURL + "/xrpc/" + nsid
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}

	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reqBody)
	if err != nil {
		return nil, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.accessJwt != "" {
		req.Header.Set("Authorization", "Bearer "+c.accessJwt)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: string(body)}
		var parsed struct {
			Error   string `json:"error"`
			Message string `json:"message"`
		}
		if json.Unmarshal(body, &parsed) == nil && parsed.Error != "" {
			apiErr.Code = parsed.Error
			apiErr.Message = parsed.Message
		}
		return nil, apiErr
	}

	return body, nil
}

func asAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	ok := errors.As(err, &apiErr)
	return apiErr, ok
}
