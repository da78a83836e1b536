/*
Copyright Kestrel Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package memstore

import (
	"net/url"
	"sync"

	"github.com/kestrelsoc/kestrel/pkg/store/spi"
	"github.com/kestrelsoc/kestrel/pkg/vocab"
)

type activityStore struct {
	mutex        sync.RWMutex
	activities   []*vocab.ActivityType
	activityByID map[string]*vocab.ActivityType
}

func newActivityStore() *activityStore {
	return &activityStore{
		activityByID: make(map[string]*vocab.ActivityType),
	}
}

func (s *activityStore) add(activity *vocab.ActivityType) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.activities = append(s.activities, activity)
	s.activityByID[activity.ID().String()] = activity

	return nil
}

func (s *activityStore) get(activityIRI *url.URL) (*vocab.ActivityType, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	a, ok := s.activityByID[activityIRI.String()]
	if !ok {
		return nil, spi.ErrNotFound
	}

	return a, nil
}

func (s *activityStore) delete(activityIRI *url.URL) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	id := activityIRI.String()

	if _, ok := s.activityByID[id]; !ok {
		return spi.ErrNotFound
	}

	delete(s.activityByID, id)

	for i, a := range s.activities {
		if a.ID().String() == id {
			s.activities = append(s.activities[0:i], s.activities[i+1:]...)

			break
		}
	}

	return nil
}

func (s *activityStore) query(query *spi.Criteria, opts ...spi.QueryOpt) (spi.ActivityIterator, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	var results []*vocab.ActivityType

	for _, a := range s.activities {
		if len(query.Types) == 0 || a.Type().IsAny(query.Types...) {
			results = append(results, a)
		}
	}

	results, totalItems := page(results, spi.GetQueryOptions(opts...))

	return newActivityIterator(results, totalItems), nil
}

// resolve returns an iterator over the activities referenced by the given
// reference iterator, preserving its order and total count. References to
// activities that are no longer stored are skipped.
func (s *activityStore) resolve(refIterator spi.ReferenceIterator) (spi.ActivityIterator, error) {
	defer func() {
		_ = refIterator.Close()
	}()

	totalItems, err := refIterator.TotalItems()
	if err != nil {
		return nil, err
	}

	var results []*vocab.ActivityType

	for {
		ref, err := refIterator.Next()
		if err != nil {
			if err == spi.ErrNotFound {
				break
			}

			return nil, err
		}

		a, err := s.get(ref)
		if err != nil {
			continue
		}

		results = append(results, a)
	}

	return newActivityIterator(results, totalItems), nil
}

type activityIterator struct {
	results    []*vocab.ActivityType
	totalItems int
	current    int
}

func newActivityIterator(results []*vocab.ActivityType, totalItems int) *activityIterator {
	return &activityIterator{
		results:    results,
		totalItems: totalItems,
	}
}

func (it *activityIterator) TotalItems() (int, error) {
	return it.totalItems, nil
}

func (it *activityIterator) Next() (*vocab.ActivityType, error) {
	if it.current >= len(it.results) {
		return nil, spi.ErrNotFound
	}

	a := it.results[it.current]

	it.current++

	return a, nil
}

func (it *activityIterator) Close() error {
	return nil
}
