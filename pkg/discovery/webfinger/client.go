/*
Copyright Kestrel Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package webfinger

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bluele/gcache"

	"github.com/kestrelsoc/kestrel/internal/pkg/log"
	kestrelerrors "github.com/kestrelsoc/kestrel/pkg/errors"
)

const (
	defaultCacheLifetime = 5 * time.Minute
	defaultCacheSize     = 100
)

type httpClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client resolves Fediverse handles (user@domain) to actor IRIs using
// WebFinger lookups. Resolved resources are cached.
type Client struct {
	httpClient httpClient

	cacheLifetime time.Duration
	cacheSize     int

	resourceCache gcache.Cache
}

// ClientOption sets an option on the client.
type ClientOption func(*Client)

// WithHTTPClient sets the HTTP client to use for WebFinger lookups.
func WithHTTPClient(client httpClient) ClientOption {
	return func(c *Client) {
		c.httpClient = client
	}
}

// WithCacheLifetime sets the expiration of cached resources.
func WithCacheLifetime(lifetime time.Duration) ClientOption {
	return func(c *Client) {
		c.cacheLifetime = lifetime
	}
}

// WithCacheSize sets the maximum number of cached resources.
func WithCacheSize(size int) ClientOption {
	return func(c *Client) {
		c.cacheSize = size
	}
}

// NewClient returns a new WebFinger client.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		httpClient:    &http.Client{},
		cacheLifetime: defaultCacheLifetime,
		cacheSize:     defaultCacheSize,
	}

	for _, opt := range opts {
		opt(c)
	}

	c.resourceCache = gcache.New(c.cacheSize).
		Expiration(c.cacheLifetime).
		LoaderFunc(func(key interface{}) (interface{}, error) {
			return c.resolveResource(key.(string))
		}).Build()

	return c
}

// ResolveActorIRI resolves the given handle ('user@domain' or
// 'acct:user@domain') to the IRI of the actor that it identifies.
func (c *Client) ResolveActorIRI(handle string) (*url.URL, error) {
	jrd, err := c.ResolveResource(handle)
	if err != nil {
		return nil, err
	}

	actorIRI := jrd.ActorIRI()
	if actorIRI == "" {
		return nil, fmt.Errorf("no ActivityStreams self link in WebFinger resource for [%s]", handle)
	}

	iri, err := url.Parse(actorIRI)
	if err != nil {
		return nil, fmt.Errorf("invalid actor IRI in WebFinger resource for [%s]: %w", handle, err)
	}

	return iri, nil
}

// ResolveResource resolves the WebFinger resource for the given handle.
func (c *Client) ResolveResource(handle string) (*JRD, error) {
	resource, err := c.resourceCache.Get(strings.TrimPrefix(handle, acctScheme))
	if err != nil {
		return nil, err
	}

	return resource.(*JRD), nil
}

func (c *Client) resolveResource(handle string) (*JRD, error) {
	parts := strings.SplitN(handle, "@", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return nil, kestrelerrors.NewBadRequestf("invalid handle [%s]: expected user@domain", handle)
	}

	webFingerURL := fmt.Sprintf("https://%s%s?%s=%s", parts[1], WebFingerEndpoint,
		ResourceParam, url.QueryEscape(acctScheme+handle))

	req, err := http.NewRequest(http.MethodGet, webFingerURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request for WebFinger URL [%s]: %w", webFingerURL, err)
	}

	req.Header.Set("Accept", JRDContentType+", application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, kestrelerrors.NewTransientf("get response from [%s]: %s", webFingerURL, err)
	}

	defer func() {
		if err := resp.Body.Close(); err != nil {
			logger.Warn("Error closing response body", log.WithError(err))
		}
	}()

	respBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, kestrelerrors.NewTransientf("read response body from [%s]: %s", webFingerURL, err)
	}

	if resp.StatusCode != http.StatusOK {
		if resp.StatusCode == http.StatusNotFound {
			return nil, ErrResourceNotFound
		}

		e := fmt.Errorf("unexpected status code %d from [%s], response body [%s]",
			resp.StatusCode, webFingerURL, respBytes)

		if resp.StatusCode >= http.StatusInternalServerError {
			return nil, kestrelerrors.NewTransient(e)
		}

		return nil, e
	}

	jrd := &JRD{}

	if err := json.Unmarshal(respBytes, jrd); err != nil {
		return nil, fmt.Errorf("unmarshal WebFinger response from [%s]: %w", webFingerURL, err)
	}

	return jrd, nil
}
