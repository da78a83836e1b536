/*
Copyright Kestrel Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/bluele/gcache"

	"github.com/kestrelsoc/kestrel/internal/pkg/log"
	"github.com/kestrelsoc/kestrel/pkg/client/transport"
	"github.com/kestrelsoc/kestrel/pkg/errors"
	"github.com/kestrelsoc/kestrel/pkg/vocab"
)

var logger = log.New("client")

const (
	defaultCacheSize       = 100
	defaultCacheExpiration = time.Minute
)

// ErrNotFound is returned when the object is not found or the iterator has reached the end.
var ErrNotFound = fmt.Errorf("not found")

// ReferenceIterator iterates over the references in a result set, following
// collection pages as required.
type ReferenceIterator interface {
	Next() (*url.URL, error)
	TotalItems() int
}

type httpTransport interface {
	Get(ctx context.Context, req *transport.Request) (*http.Response, error)
}

// HandleResolver resolves a Fediverse handle (user@domain) to an actor IRI.
type HandleResolver interface {
	ResolveActorIRI(handle string) (*url.URL, error)
}

// Config contains configuration parameters for the client.
type Config struct {
	CacheSize       int
	CacheExpiration time.Duration
}

// Option sets an option on the client.
type Option func(*Client)

// WithHandleResolver sets the resolver used to look up actors by handle.
func WithHandleResolver(r HandleResolver) Option {
	return func(c *Client) {
		c.handleResolver = r
	}
}

// Client retrieves ActivityPub objects (actors, public keys, and collections)
// from remote servers. Actors and public keys are cached since they are resolved
// on every signed request from a given origin.
type Client struct {
	httpTransport

	actorCache     gcache.Cache
	publicKeyCache gcache.Cache
	handleResolver HandleResolver
}

// New returns a new ActivityPub client.
func New(cfg Config, t httpTransport, opts ...Option) *Client {
	c := &Client{
		httpTransport: t,
	}

	for _, opt := range opts {
		opt(c)
	}

	cacheSize := cfg.CacheSize

	if cacheSize == 0 {
		cacheSize = defaultCacheSize
	}

	cacheExpiration := cfg.CacheExpiration

	if cacheExpiration == 0 {
		cacheExpiration = defaultCacheExpiration
	}

	logger.Debug("Creating actor and public key caches",
		log.WithSize(cacheSize), log.WithCacheExpiration(cacheExpiration))

	// The caches are keyed by the string form of the IRI. The loader function
	// ensures that concurrent requests for the same IRI result in a single
	// remote fetch.
	c.actorCache = gcache.New(cacheSize).ARC().
		Expiration(cacheExpiration).
		LoaderFunc(func(i interface{}) (interface{}, error) {
			return c.fetchActor(i.(string))
		}).Build()

	c.publicKeyCache = gcache.New(cacheSize).ARC().
		Expiration(cacheExpiration).
		LoaderFunc(func(i interface{}) (interface{}, error) {
			return c.fetchPublicKey(i.(string))
		}).Build()

	return c
}

// GetActor retrieves the actor at the given IRI.
func (c *Client) GetActor(actorIRI *url.URL) (*vocab.ActorType, error) {
	result, err := c.actorCache.Get(actorIRI.String())
	if err != nil {
		return nil, err
	}

	return result.(*vocab.ActorType), nil
}

// GetPublicKey retrieves the public key at the given IRI.
func (c *Client) GetPublicKey(keyIRI *url.URL) (*vocab.PublicKeyType, error) {
	result, err := c.publicKeyCache.Get(keyIRI.String())
	if err != nil {
		return nil, err
	}

	return result.(*vocab.PublicKeyType), nil
}

// ResolveActor resolves a Fediverse handle (user@domain) to its actor document
// using a WebFinger lookup followed by a retrieval of the resolved IRI.
func (c *Client) ResolveActor(handle string) (*vocab.ActorType, error) {
	if c.handleResolver == nil {
		return nil, fmt.Errorf("no handle resolver configured")
	}

	actorIRI, err := c.handleResolver.ResolveActorIRI(handle)
	if err != nil {
		return nil, fmt.Errorf("resolve handle [%s]: %w", handle, err)
	}

	return c.GetActor(actorIRI)
}

func (c *Client) fetchActor(actorIRI string) (*vocab.ActorType, error) {
	respBytes, err := c.get(actorIRI)
	if err != nil {
		return nil, fmt.Errorf("retrieve actor from %s: %w", actorIRI, err)
	}

	actor := &vocab.ActorType{}

	if err := json.Unmarshal(respBytes, actor); err != nil {
		return nil, fmt.Errorf("invalid actor in response from %s: %w", actorIRI, err)
	}

	return actor, nil
}

func (c *Client) fetchPublicKey(keyIRI string) (*vocab.PublicKeyType, error) {
	respBytes, err := c.get(keyIRI)
	if err != nil {
		return nil, fmt.Errorf("retrieve public key from %s: %w", keyIRI, err)
	}

	pubKey := &vocab.PublicKeyType{}

	if err := json.Unmarshal(respBytes, pubKey); err != nil {
		return nil, fmt.Errorf("invalid public key in response from %s: %w", keyIRI, err)
	}

	// A key IRI often resolves to the owning actor document rather than a bare
	// key object. In that case extract the key from the actor.
	if pubKey.ID.URL() == nil {
		actor := &vocab.ActorType{}

		if err := json.Unmarshal(respBytes, actor); err == nil && actor.PublicKey() != nil {
			return actor.PublicKey(), nil
		}

		return nil, fmt.Errorf("no public key in response from %s", keyIRI)
	}

	return pubKey, nil
}

// GetReferences returns an iterator over the references at the given IRI. The IRI
// may resolve to an actor, a Collection or an OrderedCollection.
func (c *Client) GetReferences(iri *url.URL) (ReferenceIterator, error) {
	respBytes, err := c.get(iri.String())
	if err != nil {
		return nil, fmt.Errorf("retrieve references from %s: %w", iri, err)
	}

	items, firstPage, totalItems, err := unmarshalCollection(respBytes)
	if err != nil {
		return nil, fmt.Errorf("invalid collection in response from %s: %w", iri, err)
	}

	return newReferenceIterator(items, firstPage, totalItems, c.get), nil
}

func (c *Client) get(iri string) ([]byte, error) {
	u, err := url.Parse(iri)
	if err != nil {
		return nil, fmt.Errorf("parse IRI [%s]: %w", iri, err)
	}

	resp, err := c.Get(context.Background(), transport.NewRequest(u,
		transport.WithHeader(transport.AcceptHeader, transport.ActivityStreamsContentType)))
	if err != nil {
		return nil, errors.NewTransientf("request to %s failed: %w", iri, err)
	}

	defer func() {
		if e := resp.Body.Close(); e != nil {
			logger.Warn("Error closing response body", log.WithURIString(iri), log.WithError(e))
		}
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, errorFromStatus(iri, resp.StatusCode)
	}

	respBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.NewTransientf("read response body from %s: %w", iri, err)
	}

	return respBytes, nil
}

func errorFromStatus(iri string, status int) error {
	switch {
	case status >= http.StatusInternalServerError,
		status == http.StatusTooManyRequests,
		status == http.StatusRequestTimeout:
		return errors.NewTransientf("status code %d from %s", status, iri)

	case status == http.StatusNotFound, status == http.StatusGone:
		return errors.NewNotFoundf("status code %d from %s", status, iri)

	default:
		return fmt.Errorf("request to %s returned status code %d", iri, status)
	}
}

type getFunc func(iri string) ([]byte, error)

type referenceIterator struct {
	totalItems   int
	currentItems []*url.URL
	currentIndex int
	nextPage     *url.URL
	get          getFunc
}

func newReferenceIterator(items []*url.URL, nextPage *url.URL, totalItems int, retrieve getFunc) *referenceIterator {
	return &referenceIterator{
		currentItems: items,
		totalItems:   totalItems,
		nextPage:     nextPage,
		get:          retrieve,
	}
}

func (it *referenceIterator) Next() (*url.URL, error) {
	if it.currentIndex >= len(it.currentItems) {
		if err := it.getNextPage(); err != nil {
			return nil, err
		}
	}

	item := it.currentItems[it.currentIndex]

	it.currentIndex++

	return item, nil
}

func (it *referenceIterator) TotalItems() int {
	return it.totalItems
}

func (it *referenceIterator) getNextPage() error {
	if it.nextPage == nil {
		return ErrNotFound
	}

	respBytes, err := it.get(it.nextPage.String())
	if err != nil {
		return fmt.Errorf("get references from %s: %w", it.nextPage, err)
	}

	page, err := unmarshalCollectionPage(respBytes)
	if err != nil {
		return err
	}

	var refs []*url.URL

	for _, item := range page.items {
		if item.IRI() != nil {
			refs = append(refs, item.IRI())
		} else {
			logger.Warn("Expecting IRI item in collection page", log.WithURIString(it.nextPage.String()))
		}
	}

	it.currentItems = refs
	it.currentIndex = 0
	it.nextPage = page.next

	if len(it.currentItems) == 0 {
		return ErrNotFound
	}

	return nil
}

func unmarshalCollection(respBytes []byte) (items []*url.URL, firstPage *url.URL, totalItems int, err error) {
	obj := &vocab.ObjectType{}

	if err := json.Unmarshal(respBytes, &obj); err != nil {
		return nil, nil, 0, err
	}

	switch {
	case obj.Type().IsAny(vocab.ActorTypes()...):
		// An actor IRI resolves to a single reference.
		return []*url.URL{obj.ID().URL()}, nil, 1, nil

	case obj.Type().Is(vocab.TypeCollection):
		coll := &vocab.CollectionType{}
		if err := json.Unmarshal(respBytes, coll); err != nil {
			return nil, nil, 0, fmt.Errorf("invalid collection: %w", err)
		}

		return irisFromItems(coll.Items()), coll.First(), coll.TotalItems(), nil

	case obj.Type().Is(vocab.TypeOrderedCollection):
		coll := &vocab.OrderedCollectionType{}
		if err := json.Unmarshal(respBytes, coll); err != nil {
			return nil, nil, 0, fmt.Errorf("invalid ordered collection: %w", err)
		}

		return irisFromItems(coll.Items()), coll.First(), coll.TotalItems(), nil

	default:
		return nil, nil, 0, fmt.Errorf("expecting actor, Collection, or OrderedCollection in response payload")
	}
}

type page struct {
	items []*vocab.ObjectProperty
	next  *url.URL
}

func unmarshalCollectionPage(respBytes []byte) (*page, error) {
	obj := &vocab.ObjectType{}

	if err := json.Unmarshal(respBytes, &obj); err != nil {
		return nil, err
	}

	switch {
	case obj.Type().Is(vocab.TypeCollectionPage):
		coll := &vocab.CollectionPageType{}

		if err := json.Unmarshal(respBytes, coll); err != nil {
			return nil, fmt.Errorf("invalid collection page: %w", err)
		}

		return &page{items: coll.Items(), next: coll.Next()}, nil

	case obj.Type().Is(vocab.TypeOrderedCollectionPage):
		coll := &vocab.OrderedCollectionPageType{}

		if err := json.Unmarshal(respBytes, coll); err != nil {
			return nil, fmt.Errorf("invalid ordered collection page: %w", err)
		}

		return &page{items: coll.Items(), next: coll.Next()}, nil

	default:
		return nil, fmt.Errorf("expecting CollectionPage or OrderedCollectionPage in response payload")
	}
}

func irisFromItems(items []*vocab.ObjectProperty) []*url.URL {
	var iris []*url.URL

	for _, item := range items {
		if item.IRI() != nil {
			iris = append(iris, item.IRI())
		}
	}

	return iris
}
