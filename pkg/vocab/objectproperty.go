/*
Copyright Kestrel Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package vocab

import (
	"encoding/json"
	"net/url"
)

// ObjectProperty defines an 'object' property. The property may be a simple IRI,
// an embedded object such as a 'Note', or an embedded activity (e.g. the Follow
// activity within an Accept).
type ObjectProperty struct {
	iri      *URLProperty
	obj      *ObjectType
	activity *ActivityType
}

// NewObjectProperty returns a new 'object' property with the given options.
func NewObjectProperty(opts ...Opt) *ObjectProperty {
	options := NewOptions(opts...)

	return &ObjectProperty{
		iri:      NewURLProperty(options.Iri),
		obj:      options.Object,
		activity: options.Activity,
	}
}

// Type returns the type of the object property. If the property
// is an IRI then nil is returned.
func (p *ObjectProperty) Type() *TypeProperty {
	if p == nil {
		return nil
	}

	if p.obj != nil {
		return p.obj.Type()
	}

	if p.activity != nil {
		return p.activity.Type()
	}

	return nil
}

// IRI returns the IRI or nil if the IRI is not set.
func (p *ObjectProperty) IRI() *url.URL {
	if p == nil {
		return nil
	}

	return p.iri.URL()
}

// Object returns the embedded object or nil if the property is an IRI or an activity.
func (p *ObjectProperty) Object() *ObjectType {
	if p == nil {
		return nil
	}

	return p.obj
}

// Activity returns the embedded activity or nil if the property is an IRI or a plain object.
func (p *ObjectProperty) Activity() *ActivityType {
	if p == nil {
		return nil
	}

	return p.activity
}

// ID returns the ID of the property, regardless of whether it holds an IRI,
// an object, or an activity.
func (p *ObjectProperty) ID() *url.URL {
	if p == nil {
		return nil
	}

	if p.iri != nil {
		return p.iri.URL()
	}

	if p.obj != nil {
		return p.obj.ID().URL()
	}

	if p.activity != nil {
		return p.activity.ID().URL()
	}

	return nil
}

// MarshalJSON marshals the 'object' property.
func (p *ObjectProperty) MarshalJSON() ([]byte, error) {
	if p.iri != nil {
		return json.Marshal(p.iri)
	}

	if p.activity != nil {
		return json.Marshal(p.activity)
	}

	if p.obj != nil {
		return json.Marshal(p.obj)
	}

	return nil, nil
}

// UnmarshalJSON unmarshals the 'object' property.
func (p *ObjectProperty) UnmarshalJSON(bytes []byte) error {
	if len(bytes) == 0 {
		return nil
	}

	iri := &URLProperty{}

	err := json.Unmarshal(bytes, &iri)
	if err == nil {
		p.iri = iri

		return nil
	}

	obj := &ObjectType{}

	err = json.Unmarshal(bytes, &obj)
	if err != nil {
		return err
	}

	if obj.Type().IsAny(ActivityTypes()...) {
		activity := &ActivityType{}

		err = json.Unmarshal(bytes, &activity)
		if err != nil {
			return err
		}

		p.activity = activity

		return nil
	}

	p.obj = obj

	return nil
}
