/*
Copyright Kestrel Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package memstore

import (
	"net/url"
	"sync"

	"github.com/kestrelsoc/kestrel/internal/pkg/log"
	"github.com/kestrelsoc/kestrel/pkg/store/spi"
	"github.com/kestrelsoc/kestrel/pkg/vocab"
)

var logger = log.New("memstore")

// Store implements an in-memory store. It is suitable for tests and
// single-node deployments.
type Store struct {
	serviceName     string
	activityStore   *activityStore
	referenceStores map[spi.ReferenceType]*referenceStore
	actorStore      map[string]*vocab.ActorType
	usernameIndex   map[string]string
	objectStore     map[string]*vocab.ObjectType
	deliveryStore   *deliveryStore
	keyStore        map[string][]byte
	mutex           sync.RWMutex
}

// New returns a new in-memory store.
func New(serviceName string) *Store {
	return &Store{
		serviceName:   serviceName,
		activityStore: newActivityStore(),
		referenceStores: map[spi.ReferenceType]*referenceStore{
			spi.Inbox:        newReferenceStore(),
			spi.Outbox:       newReferenceStore(),
			spi.PublicOutbox: newReferenceStore(),
			spi.Follower:     newReferenceStore(),
			spi.Following:    newReferenceStore(),
			spi.Liked:        newReferenceStore(),
			spi.Shared:       newReferenceStore(),
			spi.Reply:        newReferenceStore(),
			spi.Like:         newReferenceStore(),
			spi.Share:        newReferenceStore(),
		},
		actorStore:    make(map[string]*vocab.ActorType),
		usernameIndex: make(map[string]string),
		objectStore:   make(map[string]*vocab.ObjectType),
		deliveryStore: newDeliveryStore(),
		keyStore:      make(map[string][]byte),
	}
}

// PutPrivateKey stores the private key for the given local username.
func (s *Store) PutPrivateKey(username string, keyPem []byte) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.keyStore[username] = append([]byte(nil), keyPem...)

	return nil
}

// GetPrivateKey returns the private key for the given local username or ErrNotFound.
func (s *Store) GetPrivateKey(username string) ([]byte, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	keyPem, ok := s.keyStore[username]
	if !ok {
		return nil, spi.ErrNotFound
	}

	return append([]byte(nil), keyPem...), nil
}

// CountPrivateKeys returns the number of stored keys.
func (s *Store) CountPrivateKeys() (int, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	return len(s.keyStore), nil
}

// PutActor stores the given actor.
func (s *Store) PutActor(actor *vocab.ActorType) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	logger.Debug("Storing actor", log.WithServiceName(s.serviceName), log.WithActorIRI(actor.ID()))

	s.actorStore[actor.ID().String()] = actor

	if actor.PreferredUsername() != "" {
		s.usernameIndex[actor.PreferredUsername()] = actor.ID().String()
	}

	return nil
}

// GetActor returns the actor for the given IRI. Returns ErrNotFound if the actor is not in the store.
func (s *Store) GetActor(iri *url.URL) (*vocab.ActorType, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	a, ok := s.actorStore[iri.String()]
	if !ok {
		return nil, spi.ErrNotFound
	}

	return a, nil
}

// GetActorByUsername returns the actor with the given preferred username.
func (s *Store) GetActorByUsername(username string) (*vocab.ActorType, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	iri, ok := s.usernameIndex[username]
	if !ok {
		return nil, spi.ErrNotFound
	}

	a, ok := s.actorStore[iri]
	if !ok {
		return nil, spi.ErrNotFound
	}

	return a, nil
}

// DeleteActor removes the actor with the given IRI.
func (s *Store) DeleteActor(iri *url.URL) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	a, ok := s.actorStore[iri.String()]
	if !ok {
		return spi.ErrNotFound
	}

	if a.PreferredUsername() != "" {
		delete(s.usernameIndex, a.PreferredUsername())
	}

	delete(s.actorStore, iri.String())

	return nil
}

// PutObject stores the given object, replacing any previous version.
func (s *Store) PutObject(obj *vocab.ObjectType) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	logger.Debug("Storing object", log.WithServiceName(s.serviceName), log.WithObjectIRI(obj.ID()))

	s.objectStore[obj.ID().String()] = obj

	return nil
}

// GetObject returns the object for the given IRI or ErrNotFound if it wasn't found.
func (s *Store) GetObject(objectIRI *url.URL) (*vocab.ObjectType, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	obj, ok := s.objectStore[objectIRI.String()]
	if !ok {
		return nil, spi.ErrNotFound
	}

	return obj, nil
}

// DeleteObject removes the object with the given IRI.
func (s *Store) DeleteObject(objectIRI *url.URL) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if _, ok := s.objectStore[objectIRI.String()]; !ok {
		return spi.ErrNotFound
	}

	delete(s.objectStore, objectIRI.String())

	return nil
}

// AddActivity stores the given activity.
func (s *Store) AddActivity(activity *vocab.ActivityType) error {
	logger.Debug("Storing activity", log.WithServiceName(s.serviceName),
		log.WithActivityType(activity.Type().String()), log.WithActivityID(activity.ID()))

	return s.activityStore.add(activity)
}

// GetActivity returns the activity for the given IRI or ErrNotFound if it wasn't found.
func (s *Store) GetActivity(activityIRI *url.URL) (*vocab.ActivityType, error) {
	return s.activityStore.get(activityIRI)
}

// Exists returns true if an activity with the given IRI has been stored.
func (s *Store) Exists(activityIRI *url.URL) (bool, error) {
	_, err := s.activityStore.get(activityIRI)
	if err != nil {
		if err == spi.ErrNotFound {
			return false, nil
		}

		return false, err
	}

	return true, nil
}

// DeleteActivity removes the activity with the given IRI.
func (s *Store) DeleteActivity(activityIRI *url.URL) error {
	return s.activityStore.delete(activityIRI)
}

// QueryActivities queries the stored activities and returns a results iterator.
func (s *Store) QueryActivities(query *spi.Criteria, opts ...spi.QueryOpt) (spi.ActivityIterator, error) {
	if query.ReferenceType != "" && query.ObjectIRI != nil {
		refIterator, err := s.QueryReferences(query.ReferenceType, query, opts...)
		if err != nil {
			return nil, err
		}

		return s.activityStore.resolve(refIterator)
	}

	return s.activityStore.query(query, opts...)
}

// AddReference adds a reference of the given type to the given object.
func (s *Store) AddReference(refType spi.ReferenceType, objectIRI, referenceIRI *url.URL) error {
	logger.Debug("Adding reference", log.WithServiceName(s.serviceName),
		log.WithReferenceType(string(refType)), log.WithObjectIRI(objectIRI), log.WithReferenceIRI(referenceIRI))

	store, ok := s.referenceStores[refType]
	if !ok {
		return spi.ErrNotFound
	}

	return store.add(objectIRI, referenceIRI)
}

// DeleteReference deletes a reference of the given type from the given object.
func (s *Store) DeleteReference(refType spi.ReferenceType, objectIRI, referenceIRI *url.URL) error {
	logger.Debug("Deleting reference", log.WithServiceName(s.serviceName),
		log.WithReferenceType(string(refType)), log.WithObjectIRI(objectIRI), log.WithReferenceIRI(referenceIRI))

	store, ok := s.referenceStores[refType]
	if !ok {
		return spi.ErrNotFound
	}

	return store.delete(objectIRI, referenceIRI)
}

// QueryReferences returns an iterator over the references of the given type.
func (s *Store) QueryReferences(refType spi.ReferenceType, query *spi.Criteria,
	opts ...spi.QueryOpt) (spi.ReferenceIterator, error) {
	store, ok := s.referenceStores[refType]
	if !ok {
		return nil, spi.ErrNotFound
	}

	return store.query(query, opts...)
}
