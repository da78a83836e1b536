/*
Copyright Kestrel Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package vocab

import (
	"encoding/json"
	"fmt"
	"net/url"
	"time"
)

// ObjectType defines an 'object'.
type ObjectType struct {
	object     *objectType
	additional Document
}

// NewObject returns a new 'object'.
func NewObject(opts ...Opt) *ObjectType {
	options := NewOptions(opts...)

	return &ObjectType{
		object: &objectType{
			Context:      NewContextProperty(options.Context...),
			ID:           NewURLProperty(options.ID),
			Type:         NewTypeProperty(options.Types...),
			To:           NewURLCollectionProperty(options.To...),
			CC:           NewURLCollectionProperty(options.CC...),
			BCC:          NewURLCollectionProperty(options.BCC...),
			Published:    options.Published,
			Updated:      options.Updated,
			Name:         options.Name,
			Summary:      options.Summary,
			Content:      options.Content,
			AttributedTo: NewURLProperty(options.AttributedTo),
			InReplyTo:    NewURLProperty(options.InReplyTo),
			URL:          NewURLProperty(options.URL),
			FormerType:   NewTypeProperty(options.FormerType...),
			Deleted:      options.Deleted,
		},
	}
}

// NewObjectWithDocument returns a new object initialized with the given document.
func NewObjectWithDocument(doc Document, opts ...Opt) (*ObjectType, error) {
	if doc == nil {
		return nil, fmt.Errorf("nil document")
	}

	bytes, err := MarshalJSON(NewObject(opts...), doc)
	if err != nil {
		return nil, fmt.Errorf("marshal: %w", err)
	}

	obj := &ObjectType{}

	err = json.Unmarshal(bytes, &obj)
	if err != nil {
		return nil, fmt.Errorf("unmarshal: %w", err)
	}

	return obj, nil
}

type objectType struct {
	Context      *ContextProperty       `json:"@context,omitempty"`
	ID           *URLProperty           `json:"id,omitempty"`
	Type         *TypeProperty          `json:"type,omitempty"`
	To           *URLCollectionProperty `json:"to,omitempty"`
	CC           *URLCollectionProperty `json:"cc,omitempty"`
	BCC          *URLCollectionProperty `json:"bcc,omitempty"`
	Published    *time.Time             `json:"published,omitempty"`
	Updated      *time.Time             `json:"updated,omitempty"`
	Name         string                 `json:"name,omitempty"`
	Summary      string                 `json:"summary,omitempty"`
	Content      string                 `json:"content,omitempty"`
	AttributedTo *URLProperty           `json:"attributedTo,omitempty"`
	InReplyTo    *URLProperty           `json:"inReplyTo,omitempty"`
	URL          *URLProperty           `json:"url,omitempty"`
	FormerType   *TypeProperty          `json:"formerType,omitempty"`
	Deleted      *time.Time             `json:"deleted,omitempty"`
}

// Context returns the context property.
func (t *ObjectType) Context() *ContextProperty {
	return t.object.Context
}

// ID returns the object's ID.
func (t *ObjectType) ID() *URLProperty {
	return t.object.ID
}

// SetID sets the object's ID.
func (t *ObjectType) SetID(id *url.URL) {
	t.object.ID = NewURLProperty(id)
}

// Type returns the type of the object.
func (t *ObjectType) Type() *TypeProperty {
	return t.object.Type
}

// To returns a set of URLs to which the object should be sent.
func (t *ObjectType) To() []*url.URL {
	return t.object.To.URLs()
}

// SetTo sets the 'to' property on the object.
func (t *ObjectType) SetTo(to ...*url.URL) {
	t.object.To = NewURLCollectionProperty(to...)
}

// CC returns a set of URLs to which the object should be copied.
func (t *ObjectType) CC() []*url.URL {
	return t.object.CC.URLs()
}

// BCC returns a set of URLs to which the object should be blind-copied. The
// property is stripped before the object is served or delivered.
func (t *ObjectType) BCC() []*url.URL {
	return t.object.BCC.URLs()
}

// RemoveBCC removes the 'bcc' property from the object.
func (t *ObjectType) RemoveBCC() {
	t.object.BCC = nil
}

// Recipients returns the union of the 'to', 'cc', and 'bcc' properties,
// with duplicates removed.
func (t *ObjectType) Recipients() []*url.URL {
	var recipients []*url.URL

	seen := make(map[string]struct{})

	for _, u := range append(append(t.To(), t.CC()...), t.BCC()...) {
		if _, ok := seen[u.String()]; ok {
			continue
		}

		seen[u.String()] = struct{}{}

		recipients = append(recipients, u)
	}

	return recipients
}

// IsPublic returns true if the object is addressed to the special 'Public' IRI.
func (t *ObjectType) IsPublic() bool {
	return t.object.To.Contains(PublicIRI) ||
		t.object.CC.Contains(PublicIRI) ||
		t.object.BCC.Contains(PublicIRI)
}

// Published returns the time when the object was published.
func (t *ObjectType) Published() *time.Time {
	return t.object.Published
}

// SetPublished sets the 'published' property on the object.
func (t *ObjectType) SetPublished(published *time.Time) {
	t.object.Published = published
}

// Updated returns the time when the object was last updated.
func (t *ObjectType) Updated() *time.Time {
	return t.object.Updated
}

// SetUpdated sets the 'updated' property on the object.
func (t *ObjectType) SetUpdated(updated *time.Time) {
	t.object.Updated = updated
}

// Name returns the object's name.
func (t *ObjectType) Name() string {
	return t.object.Name
}

// Summary returns the object's summary.
func (t *ObjectType) Summary() string {
	return t.object.Summary
}

// Content returns the object's content.
func (t *ObjectType) Content() string {
	return t.object.Content
}

// AttributedTo returns the IRI of the actor to which the object is attributed.
func (t *ObjectType) AttributedTo() *URLProperty {
	return t.object.AttributedTo
}

// SetAttributedTo sets the 'attributedTo' property on the object.
func (t *ObjectType) SetAttributedTo(iri *url.URL) {
	t.object.AttributedTo = NewURLProperty(iri)
}

// InReplyTo returns the IRI of the object that this object is a reply to.
func (t *ObjectType) InReplyTo() *URLProperty {
	return t.object.InReplyTo
}

// URL returns the object's URL.
func (t *ObjectType) URL() *URLProperty {
	return t.object.URL
}

// FormerType returns the former type of a Tombstone object.
func (t *ObjectType) FormerType() *TypeProperty {
	return t.object.FormerType
}

// Deleted returns the time at which a Tombstone object was deleted.
func (t *ObjectType) Deleted() *time.Time {
	return t.object.Deleted
}

// Value returns the value of a property.
func (t *ObjectType) Value(key string) (interface{}, bool) {
	v, ok := t.additional[key]

	return v, ok
}

// MarshalJSON marshals the object.
func (t *ObjectType) MarshalJSON() ([]byte, error) {
	return MarshalJSON(t.object, t.additional)
}

// UnmarshalJSON unmarshals the object.
func (t *ObjectType) UnmarshalJSON(bytes []byte) error {
	header := &objectType{}

	err := json.Unmarshal(bytes, header)
	if err != nil {
		return err
	}

	doc := make(Document)

	err = json.Unmarshal(bytes, &doc)
	if err != nil {
		return err
	}

	// Delete all of the reserved ActivityStreams fields
	for _, prop := range reservedProperties() {
		delete(doc, prop)
	}

	t.object = header
	t.additional = doc

	return nil
}
