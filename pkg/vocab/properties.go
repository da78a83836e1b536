/*
Copyright Kestrel Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package vocab

import (
	"encoding/json"
	"fmt"
	"net/url"
)

// URLProperty holds a URL.
type URLProperty struct {
	u *url.URL
}

// NewURLProperty returns a new URL property with the given URL. Nil is returned if the provided URL is nil.
func NewURLProperty(u *url.URL) *URLProperty {
	if u == nil {
		return nil
	}

	return &URLProperty{u: u}
}

// String returns the string representation of the URL.
func (p *URLProperty) String() string {
	if p == nil || p.u == nil {
		return ""
	}

	return p.u.String()
}

// URL returns the contained URL.
func (p *URLProperty) URL() *url.URL {
	if p == nil {
		return nil
	}

	return p.u
}

// MarshalJSON marshals the URL property.
func (p *URLProperty) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.u.String())
}

// UnmarshalJSON unmarshals the URL property.
func (p *URLProperty) UnmarshalJSON(bytes []byte) error {
	var iri string

	err := json.Unmarshal(bytes, &iri)
	if err != nil {
		return err
	}

	u, err := url.Parse(iri)
	if err != nil {
		return err
	}

	p.u = u

	return nil
}

// URLCollectionProperty contains a collection of URLs.
type URLCollectionProperty struct {
	urls []*URLProperty
}

// NewURLCollectionProperty returns a new URL collection property. Nil is returned if no URLs were provided.
func NewURLCollectionProperty(urls ...*url.URL) *URLCollectionProperty {
	if len(urls) == 0 {
		return nil
	}

	p := &URLCollectionProperty{}

	for _, u := range urls {
		p.urls = append(p.urls, &URLProperty{u: u})
	}

	return p
}

// URLs returns the URLs.
func (p *URLCollectionProperty) URLs() []*url.URL {
	if p == nil {
		return nil
	}

	urls := make([]*url.URL, len(p.urls))

	for i, u := range p.urls {
		urls[i] = u.URL()
	}

	return urls
}

// Contains returns true if the collection contains the given URL.
func (p *URLCollectionProperty) Contains(u *url.URL) bool {
	if p == nil || u == nil {
		return false
	}

	for _, pu := range p.urls {
		if pu.String() == u.String() {
			return true
		}
	}

	return false
}

// MarshalJSON marshals the URL collection.
func (p *URLCollectionProperty) MarshalJSON() ([]byte, error) {
	if len(p.urls) == 1 {
		return json.Marshal(p.urls[0])
	}

	return json.Marshal(p.urls)
}

// UnmarshalJSON unmarshals the URL collection.
func (p *URLCollectionProperty) UnmarshalJSON(bytes []byte) error {
	iri := &URLProperty{}

	err := json.Unmarshal(bytes, &iri)
	if err == nil {
		p.urls = []*URLProperty{iri}

		return nil
	}

	var iris []*URLProperty

	err = json.Unmarshal(bytes, &iris)
	if err != nil {
		return err
	}

	p.urls = iris

	return nil
}

// TypeProperty defines a 'type' property on an object which can hold one or more types.
type TypeProperty struct {
	types []Type
}

// NewTypeProperty returns a new 'type' property. Nil is returned if no types were provided.
func NewTypeProperty(t ...Type) *TypeProperty {
	if len(t) == 0 {
		return nil
	}

	return &TypeProperty{types: t}
}

// String returns the string representation of the type property.
func (p *TypeProperty) String() string {
	if p == nil || len(p.types) == 0 {
		return ""
	}

	if len(p.types) == 1 {
		return string(p.types[0])
	}

	return fmt.Sprintf("%s", p.types)
}

// Types returns all types.
func (p *TypeProperty) Types() []Type {
	if p == nil {
		return nil
	}

	return p.types
}

// Is returns true if the property has all of the given types.
func (p *TypeProperty) Is(types ...Type) bool {
	if p == nil || len(types) == 0 {
		return false
	}

	for _, t := range types {
		if !containsType(p.types, t) {
			return false
		}
	}

	return true
}

// IsAny returns true if the property has any of the given types.
func (p *TypeProperty) IsAny(types ...Type) bool {
	if p == nil {
		return false
	}

	for _, t := range types {
		if containsType(p.types, t) {
			return true
		}
	}

	return false
}

// MarshalJSON marshals the type property.
func (p *TypeProperty) MarshalJSON() ([]byte, error) {
	if len(p.types) == 1 {
		return json.Marshal(p.types[0])
	}

	return json.Marshal(p.types)
}

// UnmarshalJSON unmarshals the type property.
func (p *TypeProperty) UnmarshalJSON(bytes []byte) error {
	var t Type

	err := json.Unmarshal(bytes, &t)
	if err == nil {
		p.types = []Type{t}

		return nil
	}

	var types []Type

	err = json.Unmarshal(bytes, &types)
	if err != nil {
		return err
	}

	p.types = types

	return nil
}

// ContextProperty holds one or more contexts.
type ContextProperty struct {
	contexts []Context
}

// NewContextProperty returns a new '@context' property. Nil is returned if no context was provided.
func NewContextProperty(context ...Context) *ContextProperty {
	if len(context) == 0 {
		return nil
	}

	return &ContextProperty{contexts: context}
}

// Contexts returns all of the contexts defined in the property.
func (p *ContextProperty) Contexts() []Context {
	if p == nil {
		return nil
	}

	return p.contexts
}

// Contains returns true if the property contains all of the given contexts.
func (p *ContextProperty) Contains(contexts ...Context) bool {
	if p == nil || len(contexts) == 0 {
		return false
	}

	for _, c := range contexts {
		if !p.contains(c) {
			return false
		}
	}

	return true
}

// MarshalJSON marshals the context property.
func (p *ContextProperty) MarshalJSON() ([]byte, error) {
	if len(p.contexts) == 1 {
		return json.Marshal(p.contexts[0])
	}

	return json.Marshal(p.contexts)
}

// UnmarshalJSON unmarshals the context property.
func (p *ContextProperty) UnmarshalJSON(bytes []byte) error {
	var ctx Context

	err := json.Unmarshal(bytes, &ctx)
	if err == nil {
		p.contexts = []Context{ctx}

		return nil
	}

	var contexts []Context

	err = json.Unmarshal(bytes, &contexts)
	if err != nil {
		return err
	}

	p.contexts = contexts

	return nil
}

func (p *ContextProperty) contains(c Context) bool {
	for _, pc := range p.contexts {
		if pc == c {
			return true
		}
	}

	return false
}
