/*
Copyright Kestrel Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package spi

import (
	"errors"
	"net/url"
	"time"

	"github.com/kestrelsoc/kestrel/pkg/vocab"
)

// ErrNotFound is returned from various store functions when a requested
// object is not found in the store.
var ErrNotFound = errors.New("not found in store")

// ReferenceType defines the type of reference, e.g. follower, inbox entry, etc.
type ReferenceType string

const (
	// Inbox indicates that the reference is an activity in an actor's inbox.
	Inbox ReferenceType = "INBOX"
	// Outbox indicates that the reference is an activity in an actor's outbox.
	Outbox ReferenceType = "OUTBOX"
	// PublicOutbox indicates that the reference is a public activity in an actor's outbox.
	// Only these are served to unauthenticated callers.
	PublicOutbox ReferenceType = "PUBLIC_OUTBOX"
	// Follower indicates that the reference is an actor that follows the local actor.
	Follower ReferenceType = "FOLLOWER"
	// Following indicates that the reference is an actor that the local actor is following.
	Following ReferenceType = "FOLLOWING"
	// Liked indicates that the reference is an object that the local actor has liked.
	Liked ReferenceType = "LIKED"
	// Shared indicates that the reference is an object that the local actor has announced.
	Shared ReferenceType = "SHARED"
	// Reply indicates that the reference is an object posted in reply to the target object.
	Reply ReferenceType = "REPLY"
	// Like indicates that the reference is a Like activity on the target object.
	Like ReferenceType = "LIKE"
	// Share indicates that the reference is an Announce activity on the target object.
	Share ReferenceType = "SHARE"
)

// ActorRepo stores local and cached remote actors.
type ActorRepo interface {
	// PutActor stores the given actor, replacing any previous version.
	PutActor(actor *vocab.ActorType) error
	// GetActor returns the actor for the given IRI. Returns ErrNotFound if the actor is not in the store.
	GetActor(actorIRI *url.URL) (*vocab.ActorType, error)
	// GetActorByUsername returns the local actor with the given preferred username.
	// Returns ErrNotFound if no such actor exists.
	GetActorByUsername(username string) (*vocab.ActorType, error)
	// DeleteActor removes the actor with the given IRI.
	DeleteActor(actorIRI *url.URL) error
}

// ActivityRepo stores activities and the references that make up the
// derived collections (inbox, outbox, followers, replies, etc.).
type ActivityRepo interface {
	// AddActivity stores the given activity.
	AddActivity(activity *vocab.ActivityType) error
	// GetActivity returns the activity for the given IRI or ErrNotFound if it wasn't found.
	GetActivity(activityIRI *url.URL) (*vocab.ActivityType, error)
	// Exists returns true if an activity with the given IRI has been stored.
	// This is the deduplication primitive used by inbox ingestion.
	Exists(activityIRI *url.URL) (bool, error)
	// DeleteActivity removes the activity with the given IRI.
	DeleteActivity(activityIRI *url.URL) error
	// QueryActivities queries the activities referenced by the criteria's object IRI
	// and reference type (e.g. all activities in an actor's inbox), and returns a
	// results iterator. If no reference type is given then all stored activities
	// matching the criteria are returned.
	QueryActivities(query *Criteria, opts ...QueryOpt) (ActivityIterator, error)
	// AddReference adds a reference of the given type to the given object.
	AddReference(refType ReferenceType, objectIRI, referenceIRI *url.URL) error
	// DeleteReference deletes a reference of the given type from the given object.
	// Returns ErrNotFound if the reference does not exist.
	DeleteReference(refType ReferenceType, objectIRI, referenceIRI *url.URL) error
	// QueryReferences returns an iterator over the references of the given type.
	QueryReferences(refType ReferenceType, query *Criteria, opts ...QueryOpt) (ReferenceIterator, error)
}

// DeliveryStatus is the status of an outbound delivery record.
type DeliveryStatus string

const (
	// DeliveryPending indicates that the delivery is ready to be attempted
	// once its next-attempt time has passed.
	DeliveryPending DeliveryStatus = "PENDING"
	// DeliveryProcessing indicates that a worker holds a lease on the delivery.
	DeliveryProcessing DeliveryStatus = "PROCESSING"
	// DeliveryFailed indicates that the last attempt failed and the delivery will be
	// retried once its next-attempt time has passed.
	DeliveryFailed DeliveryStatus = "FAILED"
	// DeliveryDelivered indicates that the target inbox accepted the delivery.
	DeliveryDelivered DeliveryStatus = "DELIVERED"
	// DeliveryDead indicates that the delivery permanently failed and will not be retried.
	DeliveryDead DeliveryStatus = "DEAD"
)

// DeliveryRecord is a durable record of one activity payload addressed to one inbox.
// The record carries the full serialized activity and the sender's actor IRI so
// that a redelivery may be re-signed after an application restart.
type DeliveryRecord struct {
	ID            string
	ActivityIRI   string
	ActorIRI      string
	TargetInbox   string
	Payload       []byte
	Status        DeliveryStatus
	Attempts      int
	MaxRetries    int
	NotBefore     time.Time
	LastAttemptAt time.Time
	CompletedAt   time.Time
	LastError     string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// DeliveryRepo is the durable outbound delivery queue.
type DeliveryRepo interface {
	// Enqueue adds the given records in the Pending state.
	Enqueue(records ...*DeliveryRecord) error
	// LeasePending atomically transitions up to batchSize records that are ready
	// (Pending or Failed, with NotBefore <= now) to Processing, stamping the
	// last-attempt time, and returns them. Two concurrent callers never receive
	// the same record. The attempt count is not incremented by the lease; it is
	// incremented by MarkFailed/MarkDead so that a released lease does not
	// consume retry budget.
	LeasePending(batchSize int, now time.Time) ([]*DeliveryRecord, error)
	// MarkDelivered transitions the record to Delivered and stamps the completion time.
	MarkDelivered(id string) error
	// MarkFailed increments the attempt count and transitions the record to
	// Failed with the given next-attempt time.
	MarkFailed(id, reason string, nextAttempt time.Time) error
	// MarkDead increments the attempt count and transitions the record to Dead.
	// Dead is terminal.
	MarkDead(id, reason string) error
	// Release transitions a Processing record back to Pending without counting
	// an attempt. Used when shutting down with leases outstanding.
	Release(id string) error
	// CountPending returns the number of records that are pending or awaiting retry.
	CountPending() (int, error)
	// GetDelivery returns the record with the given ID or ErrNotFound.
	GetDelivery(id string) (*DeliveryRecord, error)
	// Reap removes Delivered records completed before deliveredBefore and Dead
	// records last updated before deadBefore, returning the number removed.
	Reap(deliveredBefore, deadBefore time.Time) (int, error)
}

// ObjectRepo stores the content objects carried by Create and Update activities.
// A deleted object is replaced with a Tombstone rather than removed, so that
// its IRI continues to resolve.
type ObjectRepo interface {
	// PutObject stores the given object, replacing any previous version.
	PutObject(obj *vocab.ObjectType) error
	// GetObject returns the object for the given IRI or ErrNotFound if it wasn't found.
	GetObject(objectIRI *url.URL) (*vocab.ObjectType, error)
	// DeleteObject removes the object with the given IRI.
	DeleteObject(objectIRI *url.URL) error
}

// KeyRepo stores the PEM-encoded private keys of local actors. Remote actors
// never have an entry here.
type KeyRepo interface {
	// PutPrivateKey stores the private key for the given local username.
	PutPrivateKey(username string, keyPem []byte) error
	// GetPrivateKey returns the private key for the given local username or ErrNotFound.
	GetPrivateKey(username string) ([]byte, error)
	// CountPrivateKeys returns the number of stored keys. Since exactly the local
	// actors hold signing keys, this is also the number of local actors.
	CountPrivateKeys() (int, error)
}

// Store combines all of the repositories.
type Store interface {
	ActorRepo
	ActivityRepo
	ObjectRepo
	DeliveryRepo
	KeyRepo
}

// Criteria holds the search criteria for a query.
type Criteria struct {
	Types         []vocab.Type
	ObjectIRI     *url.URL
	ReferenceIRI  *url.URL
	ReferenceType ReferenceType
}

// CriteriaOpt sets a Criteria option.
type CriteriaOpt func(q *Criteria)

// NewCriteria returns new Criteria which may be used to perform a query.
func NewCriteria(opts ...CriteriaOpt) *Criteria {
	q := &Criteria{}

	for _, opt := range opts {
		opt(q)
	}

	return q
}

// WithType sets the object Type on the criteria.
func WithType(t ...vocab.Type) CriteriaOpt {
	return func(query *Criteria) {
		query.Types = append(query.Types, t...)
	}
}

// WithObjectIRI sets the object IRI on the criteria. For reference queries this
// is the object that owns the references, e.g. the actor for an inbox query.
func WithObjectIRI(iri *url.URL) CriteriaOpt {
	return func(query *Criteria) {
		query.ObjectIRI = iri
	}
}

// WithReferenceIRI restricts the query to the given reference IRI.
func WithReferenceIRI(iri *url.URL) CriteriaOpt {
	return func(query *Criteria) {
		query.ReferenceIRI = iri
	}
}

// WithReferenceType sets the reference type on the criteria.
func WithReferenceType(refType ReferenceType) CriteriaOpt {
	return func(query *Criteria) {
		query.ReferenceType = refType
	}
}

// SortOrder specifies the sort order of query results.
type SortOrder int

const (
	// SortAscending indicates that the results must be sorted in ascending order.
	SortAscending SortOrder = iota
	// SortDescending indicates that the results must be sorted in descending order.
	SortDescending
)

// QueryOptions holds the options for a query.
type QueryOptions struct {
	PageNumber int
	PageSize   int
	SortOrder  SortOrder
}

// QueryOpt sets a query option.
type QueryOpt func(options *QueryOptions)

// GetQueryOptions returns a QueryOptions struct populated with the given options.
func GetQueryOptions(opts ...QueryOpt) *QueryOptions {
	options := &QueryOptions{
		PageNumber: -1,
	}

	for _, opt := range opts {
		opt(options)
	}

	return options
}

// WithPageSize sets the page size.
func WithPageSize(pageSize int) QueryOpt {
	return func(options *QueryOptions) {
		options.PageSize = pageSize
	}
}

// WithPageNum sets the page number.
func WithPageNum(pageNum int) QueryOpt {
	return func(options *QueryOptions) {
		options.PageNumber = pageNum
	}
}

// WithSortOrder sets the sort order. The default is ascending.
func WithSortOrder(sortOrder SortOrder) QueryOpt {
	return func(options *QueryOptions) {
		options.SortOrder = sortOrder
	}
}

// ActivityIterator defines the query results iterator for activity queries.
type ActivityIterator interface {
	// TotalItems returns the total number of items matching the query,
	// regardless of the page size.
	TotalItems() (int, error)
	// Next returns the next activity or an ErrNotFound error if there are no more items.
	Next() (*vocab.ActivityType, error)
	// Close closes the iterator.
	Close() error
}

// ReferenceIterator defines the query results iterator for reference queries.
type ReferenceIterator interface {
	// TotalItems returns the total number of items matching the query,
	// regardless of the page size.
	TotalItems() (int, error)
	// Next returns the next reference or an ErrNotFound error if there are no more items.
	Next() (*url.URL, error)
	// Close closes the iterator.
	Close() error
}
