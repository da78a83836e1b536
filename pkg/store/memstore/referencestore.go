/*
Copyright Kestrel Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package memstore

import (
	"net/url"
	"sync"

	"github.com/kestrelsoc/kestrel/pkg/store/spi"
)

type referenceStore struct {
	irisByObject map[string][]*url.URL
	mutex        sync.RWMutex
}

func newReferenceStore() *referenceStore {
	return &referenceStore{
		irisByObject: make(map[string][]*url.URL),
	}
}

func (s *referenceStore) add(objectIRI, referenceIRI *url.URL) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	objectID := objectIRI.String()

	// Adding the same reference twice is a no-op.
	for _, iri := range s.irisByObject[objectID] {
		if iri.String() == referenceIRI.String() {
			return nil
		}
	}

	s.irisByObject[objectID] = append(s.irisByObject[objectID], referenceIRI)

	return nil
}

func (s *referenceStore) delete(objectIRI, referenceIRI *url.URL) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	irisForObject := s.irisByObject[objectIRI.String()]

	for i, iri := range irisForObject {
		if iri.String() == referenceIRI.String() {
			s.irisByObject[objectIRI.String()] = append(irisForObject[0:i], irisForObject[i+1:]...)

			return nil
		}
	}

	return spi.ErrNotFound
}

func (s *referenceStore) query(query *spi.Criteria, opts ...spi.QueryOpt) (spi.ReferenceIterator, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	var results []*url.URL

	for _, iri := range s.irisByObject[query.ObjectIRI.String()] {
		if query.ReferenceIRI != nil && iri.String() != query.ReferenceIRI.String() {
			continue
		}

		results = append(results, iri)
	}

	results, totalItems := page(results, spi.GetQueryOptions(opts...))

	return newReferenceIterator(results, totalItems), nil
}

type referenceIterator struct {
	results    []*url.URL
	totalItems int
	current    int
}

func newReferenceIterator(results []*url.URL, totalItems int) *referenceIterator {
	return &referenceIterator{
		results:    results,
		totalItems: totalItems,
	}
}

func (it *referenceIterator) TotalItems() (int, error) {
	return it.totalItems, nil
}

func (it *referenceIterator) Next() (*url.URL, error) {
	if it.current >= len(it.results) {
		return nil, spi.ErrNotFound
	}

	iri := it.results[it.current]

	it.current++

	return iri, nil
}

func (it *referenceIterator) Close() error {
	return nil
}

// page applies the sort order and paging options to the results and returns
// the selected page along with the total number of matching items.
func page[T any](results []T, options *spi.QueryOptions) ([]T, int) {
	totalItems := len(results)

	if options.SortOrder == spi.SortDescending {
		reversed := make([]T, totalItems)

		for i, r := range results {
			reversed[totalItems-1-i] = r
		}

		results = reversed
	}

	if options.PageSize <= 0 {
		return results, totalItems
	}

	startIdx := 0
	if options.PageNumber > 0 {
		startIdx = options.PageNumber * options.PageSize
	}

	if startIdx >= totalItems {
		return nil, totalItems
	}

	endIdx := startIdx + options.PageSize
	if endIdx > totalItems {
		endIdx = totalItems
	}

	return results[startIdx:endIdx], totalItems
}
