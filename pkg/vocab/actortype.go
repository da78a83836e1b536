/*
Copyright Kestrel Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package vocab

import (
	"net/url"
)

// PublicKeyType defines a public key object.
type PublicKeyType struct {
	ID           *URLProperty `json:"id"`
	Owner        *URLProperty `json:"owner"`
	PublicKeyPem string       `json:"publicKeyPem"`
}

// NewPublicKey returns a new public key object.
func NewPublicKey(opts ...Opt) *PublicKeyType {
	options := NewOptions(opts...)

	return &PublicKeyType{
		ID:           NewURLProperty(options.ID),
		Owner:        NewURLProperty(options.Owner),
		PublicKeyPem: options.PublicKeyPem,
	}
}

// EndpointsType defines the 'endpoints' property on an actor.
type EndpointsType struct {
	SharedInbox *URLProperty `json:"sharedInbox,omitempty"`
}

// ActorType defines an 'actor'.
type ActorType struct {
	*ObjectType

	actor *actorType
}

type actorType struct {
	PreferredUsername string         `json:"preferredUsername,omitempty"`
	PublicKey         *PublicKeyType `json:"publicKey,omitempty"`
	Inbox             *URLProperty   `json:"inbox,omitempty"`
	Outbox            *URLProperty   `json:"outbox,omitempty"`
	Followers         *URLProperty   `json:"followers,omitempty"`
	Following         *URLProperty   `json:"following,omitempty"`
	Liked             *URLProperty   `json:"liked,omitempty"`
	Endpoints         *EndpointsType `json:"endpoints,omitempty"`
	ManuallyApproves  bool           `json:"manuallyApprovesFollowers,omitempty"`
}

// PreferredUsername returns the actor's preferred username.
func (t *ActorType) PreferredUsername() string {
	return t.actor.PreferredUsername
}

// PublicKey returns the actor's public key.
func (t *ActorType) PublicKey() *PublicKeyType {
	return t.actor.PublicKey
}

// Inbox returns the URL of the actor's inbox.
func (t *ActorType) Inbox() *url.URL {
	return t.actor.Inbox.URL()
}

// Outbox returns the URL of the actor's outbox.
func (t *ActorType) Outbox() *url.URL {
	return t.actor.Outbox.URL()
}

// Followers returns the URL of the actor's followers collection.
func (t *ActorType) Followers() *url.URL {
	return t.actor.Followers.URL()
}

// Following returns the URL of the actor's following collection.
func (t *ActorType) Following() *url.URL {
	return t.actor.Following.URL()
}

// Liked returns the URL of the actor's liked collection.
func (t *ActorType) Liked() *url.URL {
	return t.actor.Liked.URL()
}

// SharedInbox returns the URL of the actor's shared inbox endpoint or nil if
// the actor does not advertise one.
func (t *ActorType) SharedInbox() *url.URL {
	if t.actor.Endpoints == nil {
		return nil
	}

	return t.actor.Endpoints.SharedInbox.URL()
}

// ManuallyApprovesFollowers returns true if Follow requests to this actor must
// be approved manually rather than auto-accepted.
func (t *ActorType) ManuallyApprovesFollowers() bool {
	return t.actor.ManuallyApproves
}

// MarshalJSON marshals the actor.
func (t *ActorType) MarshalJSON() ([]byte, error) {
	return MarshalJSON(t.ObjectType, t.actor)
}

// UnmarshalJSON unmarshals the actor.
func (t *ActorType) UnmarshalJSON(bytes []byte) error {
	t.ObjectType = NewObject()
	t.actor = &actorType{}

	return UnmarshalJSON(bytes, t.ObjectType, t.actor)
}

// NewActor returns a new actor of the given kind (e.g. 'Person', 'Service').
func NewActor(kind Type, id *url.URL, opts ...Opt) *ActorType {
	options := NewOptions(opts...)

	var endpoints *EndpointsType
	if options.SharedInbox != nil {
		endpoints = &EndpointsType{SharedInbox: NewURLProperty(options.SharedInbox)}
	}

	return &ActorType{
		ObjectType: NewObject(
			WithContext(getContexts(options, ContextActivityStreams, ContextSecurity)...),
			WithID(id),
			WithType(kind),
			WithName(options.Name),
			WithSummary(options.Summary),
			WithPublishedTime(options.Published),
		),
		actor: &actorType{
			PreferredUsername: options.PreferredUsername,
			PublicKey:         options.PublicKey,
			Inbox:             NewURLProperty(options.Inbox),
			Outbox:            NewURLProperty(options.Outbox),
			Followers:         NewURLProperty(options.Followers),
			Following:         NewURLProperty(options.Following),
			Liked:             NewURLProperty(options.Liked),
			Endpoints:         endpoints,
			ManuallyApproves:  options.ManuallyApproves,
		},
	}
}

// NewPerson returns a new 'Person' actor type.
func NewPerson(id *url.URL, opts ...Opt) *ActorType {
	return NewActor(TypePerson, id, opts...)
}

// NewService returns a new 'Service' actor type.
func NewService(id *url.URL, opts ...Opt) *ActorType {
	return NewActor(TypeService, id, opts...)
}
