/*
Copyright Kestrel Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package vocab

import (
	"net/url"
)

// CollectionType defines a 'Collection' type.
type CollectionType struct {
	*ObjectType

	coll *collectionType
}

type collectionType struct {
	Current    *URLProperty      `json:"current,omitempty"`
	First      *URLProperty      `json:"first,omitempty"`
	Last       *URLProperty      `json:"last,omitempty"`
	TotalItems int               `json:"totalItems"`
	Items      []*ObjectProperty `json:"items,omitempty"`
}

// NewCollection returns a new collection.
func NewCollection(items []*ObjectProperty, opts ...Opt) *CollectionType {
	options := NewOptions(opts...)

	totalItems := options.TotalItems
	if totalItems == 0 {
		totalItems = len(items)
	}

	return &CollectionType{
		ObjectType: NewObject(
			WithContext(getContexts(options, ContextActivityStreams)...),
			WithID(options.ID),
			WithType(TypeCollection),
		),
		coll: &collectionType{
			Current:    NewURLProperty(options.Current),
			First:      NewURLProperty(options.First),
			Last:       NewURLProperty(options.Last),
			TotalItems: totalItems,
			Items:      items,
		},
	}
}

// TotalItems returns the total number of items in the collection.
func (t *CollectionType) TotalItems() int {
	return t.coll.TotalItems
}

// Items returns the items in the collection.
func (t *CollectionType) Items() []*ObjectProperty {
	return t.coll.Items
}

// Current returns a URL that may be used to retrieve the current page of the collection.
func (t *CollectionType) Current() *url.URL {
	return t.coll.Current.URL()
}

// First returns a URL that may be used to retrieve the first page of the collection.
func (t *CollectionType) First() *url.URL {
	return t.coll.First.URL()
}

// Last returns a URL that may be used to retrieve the last page of the collection.
func (t *CollectionType) Last() *url.URL {
	return t.coll.Last.URL()
}

// MarshalJSON marshals the collection.
func (t *CollectionType) MarshalJSON() ([]byte, error) {
	return MarshalJSON(t.ObjectType, t.coll)
}

// UnmarshalJSON unmarshals the collection.
func (t *CollectionType) UnmarshalJSON(bytes []byte) error {
	t.ObjectType = NewObject()
	t.coll = &collectionType{}

	return UnmarshalJSON(bytes, t.ObjectType, t.coll)
}

// OrderedCollectionType defines an 'OrderedCollection' type.
type OrderedCollectionType struct {
	*CollectionType

	orderedColl *orderedCollectionType
}

type orderedCollectionType struct {
	OrderedItems []*ObjectProperty `json:"orderedItems,omitempty"`
}

// NewOrderedCollection returns a new ordered collection.
func NewOrderedCollection(items []*ObjectProperty, opts ...Opt) *OrderedCollectionType {
	t := &OrderedCollectionType{
		CollectionType: NewCollection(nil, opts...),
		orderedColl:    &orderedCollectionType{OrderedItems: items},
	}

	t.object.Type = NewTypeProperty(TypeOrderedCollection)

	options := NewOptions(opts...)

	totalItems := options.TotalItems
	if totalItems == 0 {
		totalItems = len(items)
	}

	t.coll.TotalItems = totalItems

	return t
}

// Items returns the items in the ordered collection.
func (t *OrderedCollectionType) Items() []*ObjectProperty {
	return t.orderedColl.OrderedItems
}

// MarshalJSON marshals the ordered collection.
func (t *OrderedCollectionType) MarshalJSON() ([]byte, error) {
	return MarshalJSON(t.CollectionType, t.orderedColl)
}

// UnmarshalJSON unmarshals the ordered collection.
func (t *OrderedCollectionType) UnmarshalJSON(bytes []byte) error {
	t.CollectionType = &CollectionType{}
	t.orderedColl = &orderedCollectionType{}

	return UnmarshalJSON(bytes, t.CollectionType, t.orderedColl)
}
