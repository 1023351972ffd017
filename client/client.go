// Package client is the outbound federation surface: discovery, post
// retrieval, and relationship handoff against other servers.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/tentsuite/tent"
	"github.com/tentsuite/tent/hawk"
)

const (
	defaultTimeout = 10 * time.Second

	wellKnownPath = "/.well-known/tent"
)

// Credential is a MAC key pair for signing outbound requests.
type Credential struct {
	ID  string
	Key string
}

type Client struct {
	client    *http.Client
	cache     *cache.Cache
	userAgent string
}

func New(userAgent string) *Client {
	httpClient := &http.Client{
		Timeout: defaultTimeout,
	}

	c := &Client{
		client:    httpClient,
		cache:     cache.New(10*time.Minute, 15*time.Minute),
		userAgent: userAgent,
	}
	httpClient.Transport = c
	return c
}

func (c *Client) RoundTrip(req *http.Request) (*http.Response, error) {
	req.Header.Set("User-Agent", c.userAgent)
	return http.DefaultTransport.RoundTrip(req)
}

// Discover fetches the meta post an entity advertises at its well-known
// endpoint. Results are cached; a federated 404 is (nil, nil).
func (c *Client) Discover(ctx context.Context, entity string) (*tent.Post[any], error) {
	entity = tent.NormalizeEntity(entity)
	if cached, ok := c.cache.Get("meta:" + entity); ok {
		return cached.(*tent.Post[any]), nil
	}

	env, err := c.getEnvelope(ctx, entity+wellKnownPath, nil)
	if err != nil {
		return nil, err
	}
	if env == nil || env.Post == nil {
		return nil, nil
	}

	c.cache.Set("meta:"+entity, env.Post, cache.DefaultExpiration)
	return env.Post, nil
}

// apiRoot resolves an entity's preferred API endpoint via its meta post.
func (c *Client) apiRoot(ctx context.Context, entity string) (string, error) {
	meta, err := c.Discover(ctx, entity)
	if err != nil {
		return "", err
	}
	if meta == nil {
		return "", fmt.Errorf("no meta post for %s", entity)
	}
	content, err := tent.DecodeContent[tent.MetaContent](meta)
	if err != nil {
		return "", err
	}
	server := content.PreferredServer()
	if server == nil {
		return "", fmt.Errorf("meta post of %s advertises no servers", entity)
	}
	root, ok := server.URLs["api_root"]
	if !ok {
		return "", fmt.Errorf("meta post of %s advertises no api root", entity)
	}
	return root, nil
}

// GetPost fetches one post, the latest version when versionID is empty.
func (c *Client) GetPost(ctx context.Context, entity, postID, versionID string, cred *Credential) (*tent.PostEnvelope, error) {
	root, err := c.apiRoot(ctx, entity)
	if err != nil {
		return nil, err
	}
	target := root + "/posts/" + url.PathEscape(entity) + "/" + url.PathEscape(postID)
	if versionID != "" {
		target += "?version=" + url.QueryEscape(versionID)
	}
	return c.getEnvelope(ctx, target, cred)
}

// GetURL fetches an envelope from a fully formed URL, typically one
// carrying a bewit token.
func (c *Client) GetURL(ctx context.Context, target string) (*tent.PostEnvelope, error) {
	return c.getEnvelope(ctx, target, nil)
}

// CountPosts issues a HEAD request and reads the count header.
func (c *Client) CountPosts(ctx context.Context, entity string, cred *Credential) (int64, error) {
	root, err := c.apiRoot(ctx, entity)
	if err != nil {
		return 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, root+"/posts", nil)
	if err != nil {
		return 0, err
	}
	c.prepare(req, cred)

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return 0, fmt.Errorf("unexpected status %d from %s", resp.StatusCode, req.URL)
	}
	return strconv.ParseInt(resp.Header.Get("Count"), 10, 64)
}

// PutRelationship delivers a relationship post, linking the credentials
// post granting the receiver read access to it.
func (c *Client) PutRelationship(ctx context.Context, entity string, rel *tent.Post[any], credsURL string) (*tent.PostEnvelope, error) {
	root, err := c.apiRoot(ctx, entity)
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(tent.PostEnvelope{Post: rel})
	if err != nil {
		return nil, err
	}

	target := root + "/posts/" + url.PathEscape(rel.Entity) + "/" + url.PathEscape(rel.ID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, target, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", tent.MediaTypePost)
	req.Header.Set("Link", fmt.Sprintf(`<%s>; rel="credentials"`, credsURL))
	c.prepare(req, nil)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return readEnvelope(resp)
}

func (c *Client) getEnvelope(ctx context.Context, target string, cred *Credential) (*tent.PostEnvelope, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	c.prepare(req, cred)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return readEnvelope(resp)
}

// prepare stamps the accept header and, when credentials are given, a
// fresh hawk signature.
func (c *Client) prepare(req *http.Request, cred *Credential) {
	req.Header.Set("Accept", tent.MediaTypePost)
	if cred != nil {
		sig := hawk.New(cred.ID)
		req.Header.Set("Authorization", sig.ToHeader(req.Method, req.URL, cred.Key))
	}
}

// readEnvelope decodes a response body; 404-class responses are a valid
// miss, not an error.
func readEnvelope(resp *http.Response) (*tent.PostEnvelope, error) {
	if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone {
		return nil, nil
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("unexpected status %d from %s", resp.StatusCode, resp.Request.URL)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	var env tent.PostEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, err
	}
	return &env, nil
}
