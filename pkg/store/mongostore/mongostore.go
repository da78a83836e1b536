/*
Copyright Kestrel Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package mongostore

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	mongoopts "go.mongodb.org/mongo-driver/mongo/options"

	"github.com/kestrelsoc/kestrel/internal/pkg/log"
	"github.com/kestrelsoc/kestrel/pkg/store/spi"
	"github.com/kestrelsoc/kestrel/pkg/vocab"
)

var logger = log.New("mongostore")

const (
	actorsCollection     = "actors"
	activitiesCollection = "activities"
	objectsCollection    = "objects"
	referencesCollection = "references"
	deliveriesCollection = "deliveries"
	keysCollection       = "keys"

	defaultOpTimeout = 10 * time.Second
)

// Store implements a MongoDB-backed store.
type Store struct {
	serviceName string
	actors      *mongo.Collection
	activities  *mongo.Collection
	objects     *mongo.Collection
	references  *mongo.Collection
	deliveries  *mongo.Collection
	keys        *mongo.Collection
	opTimeout   time.Duration
}

// Option sets a store option.
type Option func(s *Store)

// WithOpTimeout sets the timeout applied to each database operation.
func WithOpTimeout(timeout time.Duration) Option {
	return func(s *Store) {
		s.opTimeout = timeout
	}
}

// New returns a new MongoDB-backed store using the given database and
// creates the necessary indexes.
func New(serviceName string, db *mongo.Database, opts ...Option) (*Store, error) {
	s := &Store{
		serviceName: serviceName,
		actors:      db.Collection(actorsCollection),
		activities:  db.Collection(activitiesCollection),
		objects:     db.Collection(objectsCollection),
		references:  db.Collection(referencesCollection),
		deliveries:  db.Collection(deliveriesCollection),
		keys:        db.Collection(keysCollection),
		opTimeout:   defaultOpTimeout,
	}

	for _, opt := range opts {
		opt(s)
	}

	if err := s.createIndexes(); err != nil {
		return nil, fmt.Errorf("create indexes: %w", err)
	}

	return s, nil
}

func (s *Store) createIndexes() error {
	ctx, cancel := s.newCtx()
	defer cancel()

	_, err := s.actors.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "username", Value: 1}},
	})
	if err != nil {
		return fmt.Errorf("actors index: %w", err)
	}

	_, err = s.references.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "refType", Value: 1}, {Key: "objectIRI", Value: 1}, {Key: "created", Value: 1}},
	})
	if err != nil {
		return fmt.Errorf("references index: %w", err)
	}

	_, err = s.deliveries.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "status", Value: 1}, {Key: "notBefore", Value: 1}},
	})
	if err != nil {
		return fmt.Errorf("deliveries index: %w", err)
	}

	return nil
}

func (s *Store) newCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), s.opTimeout)
}

type actorDoc struct {
	ID       string `bson:"_id"`
	Username string `bson:"username,omitempty"`
	Doc      []byte `bson:"doc"`
}

// PutActor stores the given actor, replacing any previous version.
func (s *Store) PutActor(actor *vocab.ActorType) error {
	docBytes, err := vocab.Marshal(actor)
	if err != nil {
		return fmt.Errorf("marshal actor: %w", err)
	}

	ctx, cancel := s.newCtx()
	defer cancel()

	logger.Debug("Storing actor", log.WithServiceName(s.serviceName), log.WithActorIRI(actor.ID()))

	_, err = s.actors.ReplaceOne(ctx,
		bson.M{"_id": actor.ID().String()},
		&actorDoc{
			ID:       actor.ID().String(),
			Username: actor.PreferredUsername(),
			Doc:      docBytes,
		},
		mongoopts.Replace().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("replace actor [%s]: %w", actor.ID(), err)
	}

	return nil
}

// GetActor returns the actor for the given IRI. Returns ErrNotFound if the actor is not in the store.
func (s *Store) GetActor(actorIRI *url.URL) (*vocab.ActorType, error) {
	return s.findActor(bson.M{"_id": actorIRI.String()})
}

// GetActorByUsername returns the actor with the given preferred username.
func (s *Store) GetActorByUsername(username string) (*vocab.ActorType, error) {
	return s.findActor(bson.M{"username": username})
}

func (s *Store) findActor(filter bson.M) (*vocab.ActorType, error) {
	ctx, cancel := s.newCtx()
	defer cancel()

	doc := &actorDoc{}

	err := s.actors.FindOne(ctx, filter).Decode(doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, spi.ErrNotFound
		}

		return nil, fmt.Errorf("find actor: %w", err)
	}

	actor := &vocab.ActorType{}

	if err := actor.UnmarshalJSON(doc.Doc); err != nil {
		return nil, fmt.Errorf("unmarshal actor [%s]: %w", doc.ID, err)
	}

	return actor, nil
}

// DeleteActor removes the actor with the given IRI.
func (s *Store) DeleteActor(actorIRI *url.URL) error {
	ctx, cancel := s.newCtx()
	defer cancel()

	result, err := s.actors.DeleteOne(ctx, bson.M{"_id": actorIRI.String()})
	if err != nil {
		return fmt.Errorf("delete actor [%s]: %w", actorIRI, err)
	}

	if result.DeletedCount == 0 {
		return spi.ErrNotFound
	}

	return nil
}

type objectDoc struct {
	ID  string `bson:"_id"`
	Doc []byte `bson:"doc"`
}

// PutObject stores the given object, replacing any previous version.
func (s *Store) PutObject(obj *vocab.ObjectType) error {
	docBytes, err := vocab.Marshal(obj)
	if err != nil {
		return fmt.Errorf("marshal object: %w", err)
	}

	ctx, cancel := s.newCtx()
	defer cancel()

	logger.Debug("Storing object", log.WithServiceName(s.serviceName), log.WithObjectIRI(obj.ID()))

	_, err = s.objects.ReplaceOne(ctx,
		bson.M{"_id": obj.ID().String()},
		&objectDoc{
			ID:  obj.ID().String(),
			Doc: docBytes,
		},
		mongoopts.Replace().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("replace object [%s]: %w", obj.ID(), err)
	}

	return nil
}

// GetObject returns the object for the given IRI or ErrNotFound if it wasn't found.
func (s *Store) GetObject(objectIRI *url.URL) (*vocab.ObjectType, error) {
	ctx, cancel := s.newCtx()
	defer cancel()

	doc := &objectDoc{}

	err := s.objects.FindOne(ctx, bson.M{"_id": objectIRI.String()}).Decode(doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, spi.ErrNotFound
		}

		return nil, fmt.Errorf("find object [%s]: %w", objectIRI, err)
	}

	obj := &vocab.ObjectType{}

	if err := obj.UnmarshalJSON(doc.Doc); err != nil {
		return nil, fmt.Errorf("unmarshal object [%s]: %w", doc.ID, err)
	}

	return obj, nil
}

// DeleteObject removes the object with the given IRI.
func (s *Store) DeleteObject(objectIRI *url.URL) error {
	ctx, cancel := s.newCtx()
	defer cancel()

	result, err := s.objects.DeleteOne(ctx, bson.M{"_id": objectIRI.String()})
	if err != nil {
		return fmt.Errorf("delete object [%s]: %w", objectIRI, err)
	}

	if result.DeletedCount == 0 {
		return spi.ErrNotFound
	}

	return nil
}

type activityDoc struct {
	ID   string `bson:"_id"`
	Type string `bson:"type"`
	Doc  []byte `bson:"doc"`
}

// AddActivity stores the given activity.
func (s *Store) AddActivity(activity *vocab.ActivityType) error {
	docBytes, err := vocab.Marshal(activity)
	if err != nil {
		return fmt.Errorf("marshal activity: %w", err)
	}

	ctx, cancel := s.newCtx()
	defer cancel()

	logger.Debug("Storing activity", log.WithServiceName(s.serviceName),
		log.WithActivityType(activity.Type().String()), log.WithActivityID(activity.ID()))

	_, err = s.activities.ReplaceOne(ctx,
		bson.M{"_id": activity.ID().String()},
		&activityDoc{
			ID:   activity.ID().String(),
			Type: activity.Type().String(),
			Doc:  docBytes,
		},
		mongoopts.Replace().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("replace activity [%s]: %w", activity.ID(), err)
	}

	return nil
}

// GetActivity returns the activity for the given IRI or ErrNotFound if it wasn't found.
func (s *Store) GetActivity(activityIRI *url.URL) (*vocab.ActivityType, error) {
	ctx, cancel := s.newCtx()
	defer cancel()

	doc := &activityDoc{}

	err := s.activities.FindOne(ctx, bson.M{"_id": activityIRI.String()}).Decode(doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, spi.ErrNotFound
		}

		return nil, fmt.Errorf("find activity [%s]: %w", activityIRI, err)
	}

	activity := &vocab.ActivityType{}

	if err := activity.UnmarshalJSON(doc.Doc); err != nil {
		return nil, fmt.Errorf("unmarshal activity [%s]: %w", doc.ID, err)
	}

	return activity, nil
}

// Exists returns true if an activity with the given IRI has been stored.
func (s *Store) Exists(activityIRI *url.URL) (bool, error) {
	ctx, cancel := s.newCtx()
	defer cancel()

	count, err := s.activities.CountDocuments(ctx, bson.M{"_id": activityIRI.String()})
	if err != nil {
		return false, fmt.Errorf("count activity [%s]: %w", activityIRI, err)
	}

	return count > 0, nil
}

// DeleteActivity removes the activity with the given IRI.
func (s *Store) DeleteActivity(activityIRI *url.URL) error {
	ctx, cancel := s.newCtx()
	defer cancel()

	result, err := s.activities.DeleteOne(ctx, bson.M{"_id": activityIRI.String()})
	if err != nil {
		return fmt.Errorf("delete activity [%s]: %w", activityIRI, err)
	}

	if result.DeletedCount == 0 {
		return spi.ErrNotFound
	}

	return nil
}

type referenceDoc struct {
	ID        string    `bson:"_id"`
	RefType   string    `bson:"refType"`
	ObjectIRI string    `bson:"objectIRI"`
	RefIRI    string    `bson:"refIRI"`
	Created   time.Time `bson:"created"`
}

func referenceID(refType spi.ReferenceType, objectIRI, referenceIRI *url.URL) string {
	return fmt.Sprintf("%s|%s|%s", refType, objectIRI, referenceIRI)
}

// AddReference adds a reference of the given type to the given object.
func (s *Store) AddReference(refType spi.ReferenceType, objectIRI, referenceIRI *url.URL) error {
	ctx, cancel := s.newCtx()
	defer cancel()

	// An upsert keyed by (refType, objectIRI, refIRI) makes duplicate adds no-ops
	// while preserving the original insertion time.
	_, err := s.references.UpdateOne(ctx,
		bson.M{"_id": referenceID(refType, objectIRI, referenceIRI)},
		bson.M{
			"$setOnInsert": &referenceDoc{
				ID:        referenceID(refType, objectIRI, referenceIRI),
				RefType:   string(refType),
				ObjectIRI: objectIRI.String(),
				RefIRI:    referenceIRI.String(),
				Created:   time.Now(),
			},
		},
		mongoopts.Update().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("add reference [%s] to [%s]: %w", referenceIRI, objectIRI, err)
	}

	return nil
}

// DeleteReference deletes a reference of the given type from the given object.
func (s *Store) DeleteReference(refType spi.ReferenceType, objectIRI, referenceIRI *url.URL) error {
	ctx, cancel := s.newCtx()
	defer cancel()

	result, err := s.references.DeleteOne(ctx, bson.M{"_id": referenceID(refType, objectIRI, referenceIRI)})
	if err != nil {
		return fmt.Errorf("delete reference [%s] from [%s]: %w", referenceIRI, objectIRI, err)
	}

	if result.DeletedCount == 0 {
		return spi.ErrNotFound
	}

	return nil
}

// QueryReferences returns an iterator over the references of the given type.
func (s *Store) QueryReferences(refType spi.ReferenceType, query *spi.Criteria,
	opts ...spi.QueryOpt) (spi.ReferenceIterator, error) {
	if query.ObjectIRI == nil {
		return nil, fmt.Errorf("object IRI is required for reference queries")
	}

	filter := bson.M{
		"refType":   string(refType),
		"objectIRI": query.ObjectIRI.String(),
	}

	if query.ReferenceIRI != nil {
		filter["refIRI"] = query.ReferenceIRI.String()
	}

	ctx, cancel := s.newCtx()
	defer cancel()

	totalItems, err := s.references.CountDocuments(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("count references: %w", err)
	}

	cursor, err := s.references.Find(ctx, filter, findOptions(spi.GetQueryOptions(opts...)))
	if err != nil {
		return nil, fmt.Errorf("find references: %w", err)
	}

	defer func() {
		if err := cursor.Close(ctx); err != nil {
			logger.Warn("Error closing cursor", log.WithError(err))
		}
	}()

	var refs []*url.URL

	for cursor.Next(ctx) {
		doc := &referenceDoc{}

		if err := cursor.Decode(doc); err != nil {
			return nil, fmt.Errorf("decode reference: %w", err)
		}

		refIRI, err := url.Parse(doc.RefIRI)
		if err != nil {
			return nil, fmt.Errorf("parse reference IRI [%s]: %w", doc.RefIRI, err)
		}

		refs = append(refs, refIRI)
	}

	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("iterate references: %w", err)
	}

	return newReferenceIterator(refs, int(totalItems)), nil
}

// QueryActivities queries the stored activities and returns a results iterator.
func (s *Store) QueryActivities(query *spi.Criteria, opts ...spi.QueryOpt) (spi.ActivityIterator, error) {
	if query.ReferenceType == "" || query.ObjectIRI == nil {
		return nil, fmt.Errorf("reference type and object IRI are required for activity queries")
	}

	refIterator, err := s.QueryReferences(query.ReferenceType, query, opts...)
	if err != nil {
		return nil, err
	}

	totalItems, err := refIterator.TotalItems()
	if err != nil {
		return nil, err
	}

	var activities []*vocab.ActivityType

	for {
		ref, err := refIterator.Next()
		if err != nil {
			if errors.Is(err, spi.ErrNotFound) {
				break
			}

			return nil, err
		}

		a, err := s.GetActivity(ref)
		if err != nil {
			if errors.Is(err, spi.ErrNotFound) {
				continue
			}

			return nil, err
		}

		activities = append(activities, a)
	}

	return newActivityIterator(activities, totalItems), nil
}

func findOptions(options *spi.QueryOptions) *mongoopts.FindOptions {
	findOpts := mongoopts.Find()

	sortValue := 1
	if options.SortOrder == spi.SortDescending {
		sortValue = -1
	}

	findOpts.SetSort(bson.D{{Key: "created", Value: sortValue}})

	if options.PageSize > 0 {
		findOpts.SetLimit(int64(options.PageSize))

		if options.PageNumber > 0 {
			findOpts.SetSkip(int64(options.PageNumber * options.PageSize))
		}
	}

	return findOpts
}

type referenceIterator struct {
	refs       []*url.URL
	totalItems int
	current    int
}

func newReferenceIterator(refs []*url.URL, totalItems int) *referenceIterator {
	return &referenceIterator{refs: refs, totalItems: totalItems}
}

func (it *referenceIterator) TotalItems() (int, error) {
	return it.totalItems, nil
}

func (it *referenceIterator) Next() (*url.URL, error) {
	if it.current >= len(it.refs) {
		return nil, spi.ErrNotFound
	}

	ref := it.refs[it.current]

	it.current++

	return ref, nil
}

func (it *referenceIterator) Close() error {
	return nil
}

type activityIterator struct {
	activities []*vocab.ActivityType
	totalItems int
	current    int
}

func newActivityIterator(activities []*vocab.ActivityType, totalItems int) *activityIterator {
	return &activityIterator{activities: activities, totalItems: totalItems}
}

func (it *activityIterator) TotalItems() (int, error) {
	return it.totalItems, nil
}

func (it *activityIterator) Next() (*vocab.ActivityType, error) {
	if it.current >= len(it.activities) {
		return nil, spi.ErrNotFound
	}

	a := it.activities[it.current]

	it.current++

	return a, nil
}

func (it *activityIterator) Close() error {
	return nil
}

type keyDoc struct {
	Username string `bson:"_id"`
	KeyPem   []byte `bson:"keyPem"`
}

// PutPrivateKey stores the private key for the given local username.
func (s *Store) PutPrivateKey(username string, keyPem []byte) error {
	ctx, cancel := s.newCtx()
	defer cancel()

	_, err := s.keys.ReplaceOne(ctx,
		bson.M{"_id": username},
		&keyDoc{Username: username, KeyPem: keyPem},
		mongoopts.Replace().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("store private key for [%s]: %w", username, err)
	}

	return nil
}

// GetPrivateKey returns the private key for the given local username or ErrNotFound.
func (s *Store) GetPrivateKey(username string) ([]byte, error) {
	ctx, cancel := s.newCtx()
	defer cancel()

	doc := &keyDoc{}

	err := s.keys.FindOne(ctx, bson.M{"_id": username}).Decode(doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, spi.ErrNotFound
		}

		return nil, fmt.Errorf("find private key for [%s]: %w", username, err)
	}

	return doc.KeyPem, nil
}

// CountPrivateKeys returns the number of stored keys.
func (s *Store) CountPrivateKeys() (int, error) {
	ctx, cancel := s.newCtx()
	defer cancel()

	count, err := s.keys.CountDocuments(ctx, bson.M{})
	if err != nil {
		return 0, fmt.Errorf("count private keys: %w", err)
	}

	return int(count), nil
}

// Ping verifies connectivity to the database.
func (s *Store) Ping() error {
	ctx, cancel := s.newCtx()
	defer cancel()

	if err := s.keys.Database().Client().Ping(ctx, nil); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}

	return nil
}
