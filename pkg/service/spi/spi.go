/*
Copyright Kestrel Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package spi

import (
	"context"
	"crypto/rsa"
	"net/url"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/kestrelsoc/kestrel/pkg/lifecycle"
	pubsubspi "github.com/kestrelsoc/kestrel/pkg/pubsub/spi"
	"github.com/kestrelsoc/kestrel/pkg/vocab"
)

// ServiceLifecycle defines the functions of a service lifecycle.
type ServiceLifecycle interface {
	// Start starts the service.
	Start()
	// Stop stops the service.
	Stop()
	// State returns the state of the service.
	State() lifecycle.State
}

// ActivityHandler applies the side effects of an activity that has already been
// authenticated and persisted.
type ActivityHandler interface {
	ServiceLifecycle

	// HandleActivity handles the ActivityPub activity.
	HandleActivity(activity *vocab.ActivityType) error

	// Subscribe allows a client to receive published activities.
	Subscribe() <-chan *vocab.ActivityType
}

// Outbox posts activities on behalf of local actors.
type Outbox interface {
	ServiceLifecycle

	// Post posts an activity to the outbox and returns the ID of the activity
	// that was posted. The 'actor' of the activity must resolve to a local actor.
	Post(activity *vocab.ActivityType) (*url.URL, error)
}

// PubSub defines the publisher/subscriber used to decouple the HTTP layer from
// the inbox and outbox processors.
type PubSub interface {
	Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error)
	SubscribeWithOpts(ctx context.Context, topic string, opts ...pubsubspi.Option) (<-chan *message.Message, error)
	Publish(topic string, messages ...*message.Message) error
	IsConnected() bool
	Close() error
}

// LocalActor is a local actor together with its signing key.
type LocalActor struct {
	Actor       *vocab.ActorType
	PrivateKey  *rsa.PrivateKey
	PublicKeyID *url.URL
}

// IdentityProvider resolves the actors owned by this server along with their
// private keys.
type IdentityProvider interface {
	// ResolveLocalActor returns the local actor with the given username or an
	// errors.NotFound error if the username is not known to this server.
	ResolveLocalActor(username string) (*LocalActor, error)

	// System returns the server-owned actor that signs server-level requests.
	System() (*LocalActor, error)
}

// FollowerAuth authorizes an actor requesting to follow a local actor.
type FollowerAuth interface {
	// AuthorizeFollower returns true if the given actor is authorized to follow.
	AuthorizeFollower(follower *vocab.ActorType) (bool, error)
}

// Handlers contains handlers for various activity events.
type Handlers struct {
	FollowerAuth FollowerAuth
}

// HandlerOpt sets a handler option.
type HandlerOpt func(options *Handlers)

// WithFollowerAuth sets the handler that authorizes follow requests.
func WithFollowerAuth(auth FollowerAuth) HandlerOpt {
	return func(options *Handlers) {
		options.FollowerAuth = auth
	}
}

// AcceptAllFollowers authorizes every follow request.
type AcceptAllFollowers struct{}

// AuthorizeFollower returns true for all actors.
func (a *AcceptAllFollowers) AuthorizeFollower(*vocab.ActorType) (bool, error) {
	return true, nil
}
