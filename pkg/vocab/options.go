/*
Copyright Kestrel Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package vocab

import (
	"net/url"
	"time"
)

// Options holds all of the options for building an ActivityPub object.
type Options struct {
	Context      []Context
	ID           *url.URL
	To           []*url.URL
	CC           []*url.URL
	BCC          []*url.URL
	Published    *time.Time
	Updated      *time.Time
	Types        []Type
	Name         string
	Summary      string
	Content      string
	AttributedTo *url.URL
	InReplyTo    *url.URL
	URL          *url.URL
	FormerType   []Type
	Deleted      *time.Time

	Actor  *url.URL
	Target *ObjectProperty

	PreferredUsername string
	PublicKey         *PublicKeyType
	Owner             *url.URL
	PublicKeyPem      string
	Inbox             *url.URL
	Outbox            *url.URL
	Followers         *url.URL
	Following         *url.URL
	Liked             *url.URL
	SharedInbox       *url.URL
	ManuallyApproves  bool

	First      *url.URL
	Last       *url.URL
	Current    *url.URL
	PartOf     *url.URL
	Next       *url.URL
	Prev       *url.URL
	TotalItems int

	ObjectPropertyOptions
}

// Opt is an option for an object, activity, etc.
type Opt func(opts *Options)

// NewOptions returns an Options struct which is populated with the provided options.
func NewOptions(opts ...Opt) *Options {
	options := &Options{}

	for _, opt := range opts {
		opt(options)
	}

	return options
}

// WithContext sets the '@context' property on the object.
func WithContext(context ...Context) Opt {
	return func(opts *Options) {
		opts.Context = context
	}
}

// WithID sets the 'id' property on the object.
func WithID(id *url.URL) Opt {
	return func(opts *Options) {
		opts.ID = id
	}
}

// WithTo sets the 'to' property on the object.
func WithTo(to ...*url.URL) Opt {
	return func(opts *Options) {
		opts.To = append(opts.To, to...)
	}
}

// WithCC sets the 'cc' property on the object.
func WithCC(cc ...*url.URL) Opt {
	return func(opts *Options) {
		opts.CC = append(opts.CC, cc...)
	}
}

// WithBCC sets the 'bcc' property on the object.
func WithBCC(bcc ...*url.URL) Opt {
	return func(opts *Options) {
		opts.BCC = append(opts.BCC, bcc...)
	}
}

// WithType sets the 'type' property on the object.
func WithType(t ...Type) Opt {
	return func(opts *Options) {
		opts.Types = t
	}
}

// WithPublishedTime sets the 'published' property on the object.
func WithPublishedTime(t *time.Time) Opt {
	return func(opts *Options) {
		opts.Published = t
	}
}

// WithUpdatedTime sets the 'updated' property on the object.
func WithUpdatedTime(t *time.Time) Opt {
	return func(opts *Options) {
		opts.Updated = t
	}
}

// WithName sets the 'name' property on the object.
func WithName(name string) Opt {
	return func(opts *Options) {
		opts.Name = name
	}
}

// WithSummary sets the 'summary' property on the object.
func WithSummary(summary string) Opt {
	return func(opts *Options) {
		opts.Summary = summary
	}
}

// WithContent sets the 'content' property on the object.
func WithContent(content string) Opt {
	return func(opts *Options) {
		opts.Content = content
	}
}

// WithAttributedTo sets the 'attributedTo' property on the object.
func WithAttributedTo(iri *url.URL) Opt {
	return func(opts *Options) {
		opts.AttributedTo = iri
	}
}

// WithInReplyTo sets the 'inReplyTo' property on the object.
func WithInReplyTo(iri *url.URL) Opt {
	return func(opts *Options) {
		opts.InReplyTo = iri
	}
}

// WithURL sets the 'url' property on the object.
func WithURL(u *url.URL) Opt {
	return func(opts *Options) {
		opts.URL = u
	}
}

// WithFormerType sets the 'formerType' property on a Tombstone object.
func WithFormerType(t ...Type) Opt {
	return func(opts *Options) {
		opts.FormerType = t
	}
}

// WithDeletedTime sets the 'deleted' property on a Tombstone object.
func WithDeletedTime(t *time.Time) Opt {
	return func(opts *Options) {
		opts.Deleted = t
	}
}

// WithActor sets the 'actor' property on the activity.
func WithActor(iri *url.URL) Opt {
	return func(opts *Options) {
		opts.Actor = iri
	}
}

// WithTarget sets the 'target' property on the activity.
func WithTarget(target *ObjectProperty) Opt {
	return func(opts *Options) {
		opts.Target = target
	}
}

// WithPreferredUsername sets the 'preferredUsername' property on the actor.
func WithPreferredUsername(name string) Opt {
	return func(opts *Options) {
		opts.PreferredUsername = name
	}
}

// WithPublicKey sets the 'publicKey' property on the actor.
func WithPublicKey(key *PublicKeyType) Opt {
	return func(opts *Options) {
		opts.PublicKey = key
	}
}

// WithOwner sets the 'owner' property on a public key.
func WithOwner(iri *url.URL) Opt {
	return func(opts *Options) {
		opts.Owner = iri
	}
}

// WithPublicKeyPem sets the 'publicKeyPem' property on a public key.
func WithPublicKeyPem(pem string) Opt {
	return func(opts *Options) {
		opts.PublicKeyPem = pem
	}
}

// WithInbox sets the 'inbox' property on the actor.
func WithInbox(iri *url.URL) Opt {
	return func(opts *Options) {
		opts.Inbox = iri
	}
}

// WithOutbox sets the 'outbox' property on the actor.
func WithOutbox(iri *url.URL) Opt {
	return func(opts *Options) {
		opts.Outbox = iri
	}
}

// WithFollowers sets the 'followers' property on the actor.
func WithFollowers(iri *url.URL) Opt {
	return func(opts *Options) {
		opts.Followers = iri
	}
}

// WithFollowing sets the 'following' property on the actor.
func WithFollowing(iri *url.URL) Opt {
	return func(opts *Options) {
		opts.Following = iri
	}
}

// WithLiked sets the 'liked' property on the actor.
func WithLiked(iri *url.URL) Opt {
	return func(opts *Options) {
		opts.Liked = iri
	}
}

// WithSharedInbox sets the shared inbox endpoint on the actor.
func WithSharedInbox(iri *url.URL) Opt {
	return func(opts *Options) {
		opts.SharedInbox = iri
	}
}

// WithManuallyApprovesFollowers sets the 'manuallyApprovesFollowers' property on the actor.
func WithManuallyApprovesFollowers(approves bool) Opt {
	return func(opts *Options) {
		opts.ManuallyApproves = approves
	}
}

// WithFirst sets the 'first' property on the collection.
func WithFirst(iri *url.URL) Opt {
	return func(opts *Options) {
		opts.First = iri
	}
}

// WithLast sets the 'last' property on the collection.
func WithLast(iri *url.URL) Opt {
	return func(opts *Options) {
		opts.Last = iri
	}
}

// WithCurrent sets the 'current' property on the collection.
func WithCurrent(iri *url.URL) Opt {
	return func(opts *Options) {
		opts.Current = iri
	}
}

// WithPartOf sets the 'partOf' property on the collection page.
func WithPartOf(iri *url.URL) Opt {
	return func(opts *Options) {
		opts.PartOf = iri
	}
}

// WithNext sets the 'next' property on the collection page.
func WithNext(iri *url.URL) Opt {
	return func(opts *Options) {
		opts.Next = iri
	}
}

// WithPrev sets the 'prev' property on the collection page.
func WithPrev(iri *url.URL) Opt {
	return func(opts *Options) {
		opts.Prev = iri
	}
}

// WithTotalItems sets the 'totalItems' property on the collection.
func WithTotalItems(totalItems int) Opt {
	return func(opts *Options) {
		opts.TotalItems = totalItems
	}
}

// ObjectPropertyOptions holds options for an 'object' property.
type ObjectPropertyOptions struct {
	Iri      *url.URL
	Object   *ObjectType
	Activity *ActivityType
}

// WithIRI sets the 'object' property to an IRI.
func WithIRI(iri *url.URL) Opt {
	return func(opts *Options) {
		opts.Iri = iri
	}
}

// WithObject sets the 'object' property to an embedded object.
func WithObject(obj *ObjectType) Opt {
	return func(opts *Options) {
		opts.Object = obj
	}
}

// WithActivity sets the 'object' property to an embedded activity.
func WithActivity(activity *ActivityType) Opt {
	return func(opts *Options) {
		opts.Activity = activity
	}
}

func getContexts(options *Options, contexts ...Context) []Context {
	if len(options.Context) > 0 {
		return options.Context
	}

	return contexts
}
