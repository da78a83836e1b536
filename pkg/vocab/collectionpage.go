/*
Copyright Kestrel Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package vocab

import (
	"net/url"
)

type collectionPageType struct {
	PartOf *URLProperty `json:"partOf,omitempty"`
	Next   *URLProperty `json:"next,omitempty"`
	Prev   *URLProperty `json:"prev,omitempty"`
}

// CollectionPageType defines a 'CollectionPage' type.
type CollectionPageType struct {
	*CollectionType

	page *collectionPageType
}

// NewCollectionPage returns a new collection page.
func NewCollectionPage(items []*ObjectProperty, opts ...Opt) *CollectionPageType {
	options := NewOptions(opts...)

	t := &CollectionPageType{
		CollectionType: NewCollection(items, opts...),
		page: &collectionPageType{
			PartOf: NewURLProperty(options.PartOf),
			Next:   NewURLProperty(options.Next),
			Prev:   NewURLProperty(options.Prev),
		},
	}

	t.object.Type = NewTypeProperty(TypeCollectionPage)

	return t
}

// PartOf returns the URL of the collection of which this is a page.
func (t *CollectionPageType) PartOf() *url.URL {
	return t.page.PartOf.URL()
}

// Next returns the URL of the next page or nil if this is the last page.
func (t *CollectionPageType) Next() *url.URL {
	return t.page.Next.URL()
}

// Prev returns the URL of the previous page or nil if this is the first page.
func (t *CollectionPageType) Prev() *url.URL {
	return t.page.Prev.URL()
}

// MarshalJSON marshals the collection page.
func (t *CollectionPageType) MarshalJSON() ([]byte, error) {
	return MarshalJSON(t.CollectionType, t.page)
}

// UnmarshalJSON unmarshals the collection page.
func (t *CollectionPageType) UnmarshalJSON(bytes []byte) error {
	t.CollectionType = &CollectionType{}
	t.page = &collectionPageType{}

	return UnmarshalJSON(bytes, t.CollectionType, t.page)
}

// OrderedCollectionPageType defines an 'OrderedCollectionPage' type.
type OrderedCollectionPageType struct {
	*OrderedCollectionType

	page *collectionPageType
}

// NewOrderedCollectionPage returns a new ordered collection page.
func NewOrderedCollectionPage(items []*ObjectProperty, opts ...Opt) *OrderedCollectionPageType {
	options := NewOptions(opts...)

	t := &OrderedCollectionPageType{
		OrderedCollectionType: NewOrderedCollection(items, opts...),
		page: &collectionPageType{
			PartOf: NewURLProperty(options.PartOf),
			Next:   NewURLProperty(options.Next),
			Prev:   NewURLProperty(options.Prev),
		},
	}

	t.object.Type = NewTypeProperty(TypeOrderedCollectionPage)

	return t
}

// PartOf returns the URL of the collection of which this is a page.
func (t *OrderedCollectionPageType) PartOf() *url.URL {
	return t.page.PartOf.URL()
}

// Next returns the URL of the next page or nil if this is the last page.
func (t *OrderedCollectionPageType) Next() *url.URL {
	return t.page.Next.URL()
}

// Prev returns the URL of the previous page or nil if this is the first page.
func (t *OrderedCollectionPageType) Prev() *url.URL {
	return t.page.Prev.URL()
}

// MarshalJSON marshals the ordered collection page.
func (t *OrderedCollectionPageType) MarshalJSON() ([]byte, error) {
	return MarshalJSON(t.OrderedCollectionType, t.page)
}

// UnmarshalJSON unmarshals the ordered collection page.
func (t *OrderedCollectionPageType) UnmarshalJSON(bytes []byte) error {
	t.OrderedCollectionType = &OrderedCollectionType{}
	t.page = &collectionPageType{}

	return UnmarshalJSON(bytes, t.OrderedCollectionType, t.page)
}
