/*
Copyright Kestrel Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package memstore

import (
	"sort"
	"sync"
	"time"

	"github.com/kestrelsoc/kestrel/internal/pkg/log"
	"github.com/kestrelsoc/kestrel/pkg/store/spi"
)

type deliveryStore struct {
	mutex   sync.Mutex
	records map[string]*spi.DeliveryRecord
}

func newDeliveryStore() *deliveryStore {
	return &deliveryStore{
		records: make(map[string]*spi.DeliveryRecord),
	}
}

// Enqueue adds the given records in the Pending state.
func (s *Store) Enqueue(records ...*spi.DeliveryRecord) error {
	s.deliveryStore.mutex.Lock()
	defer s.deliveryStore.mutex.Unlock()

	now := time.Now()

	for _, record := range records {
		r := *record
		r.Status = spi.DeliveryPending

		if r.CreatedAt.IsZero() {
			r.CreatedAt = now
		}

		r.UpdatedAt = now

		s.deliveryStore.records[r.ID] = &r

		logger.Debug("Enqueued delivery", log.WithDeliveryID(r.ID), log.WithTargetInbox(r.TargetInbox))
	}

	return nil
}

// LeasePending atomically transitions up to batchSize ready records (Pending or
// Failed, and due) to Processing and returns them, ordered by next-attempt time.
func (s *Store) LeasePending(batchSize int, now time.Time) ([]*spi.DeliveryRecord, error) {
	s.deliveryStore.mutex.Lock()
	defer s.deliveryStore.mutex.Unlock()

	var due []*spi.DeliveryRecord

	for _, r := range s.deliveryStore.records {
		if (r.Status == spi.DeliveryPending || r.Status == spi.DeliveryFailed) && !r.NotBefore.After(now) {
			due = append(due, r)
		}
	}

	sort.Slice(due, func(i, j int) bool {
		if due[i].NotBefore.Equal(due[j].NotBefore) {
			return due[i].ID < due[j].ID
		}

		return due[i].NotBefore.Before(due[j].NotBefore)
	})

	if batchSize > 0 && len(due) > batchSize {
		due = due[:batchSize]
	}

	leased := make([]*spi.DeliveryRecord, len(due))

	for i, r := range due {
		r.Status = spi.DeliveryProcessing
		r.LastAttemptAt = now
		r.UpdatedAt = now

		rCopy := *r
		leased[i] = &rCopy
	}

	return leased, nil
}

// MarkDelivered transitions the record to Delivered.
func (s *Store) MarkDelivered(id string) error {
	return s.updateDelivery(id, func(r *spi.DeliveryRecord) {
		r.Status = spi.DeliveryDelivered
		r.LastError = ""
		r.CompletedAt = time.Now()
	})
}

// MarkFailed increments the attempt count and transitions the record to Failed
// with the given next-attempt time.
func (s *Store) MarkFailed(id, reason string, nextAttempt time.Time) error {
	return s.updateDelivery(id, func(r *spi.DeliveryRecord) {
		r.Status = spi.DeliveryFailed
		r.Attempts++
		r.LastError = reason
		r.NotBefore = nextAttempt
	})
}

// MarkDead increments the attempt count and transitions the record to Dead.
func (s *Store) MarkDead(id, reason string) error {
	return s.updateDelivery(id, func(r *spi.DeliveryRecord) {
		r.Status = spi.DeliveryDead
		r.Attempts++
		r.LastError = reason
	})
}

// Release transitions a Processing record back to Pending without counting an attempt.
func (s *Store) Release(id string) error {
	return s.updateDelivery(id, func(r *spi.DeliveryRecord) {
		if r.Status == spi.DeliveryProcessing {
			r.Status = spi.DeliveryPending
		}
	})
}

// CountPending returns the number of records that are pending or awaiting retry.
func (s *Store) CountPending() (int, error) {
	s.deliveryStore.mutex.Lock()
	defer s.deliveryStore.mutex.Unlock()

	count := 0

	for _, r := range s.deliveryStore.records {
		if r.Status == spi.DeliveryPending || r.Status == spi.DeliveryFailed {
			count++
		}
	}

	return count, nil
}

// GetDelivery returns the record with the given ID or ErrNotFound.
func (s *Store) GetDelivery(id string) (*spi.DeliveryRecord, error) {
	s.deliveryStore.mutex.Lock()
	defer s.deliveryStore.mutex.Unlock()

	r, ok := s.deliveryStore.records[id]
	if !ok {
		return nil, spi.ErrNotFound
	}

	rCopy := *r

	return &rCopy, nil
}

// Reap removes Delivered records completed before deliveredBefore and Dead
// records last updated before deadBefore.
func (s *Store) Reap(deliveredBefore, deadBefore time.Time) (int, error) {
	s.deliveryStore.mutex.Lock()
	defer s.deliveryStore.mutex.Unlock()

	removed := 0

	for id, r := range s.deliveryStore.records {
		if (r.Status == spi.DeliveryDelivered && r.CompletedAt.Before(deliveredBefore)) ||
			(r.Status == spi.DeliveryDead && r.UpdatedAt.Before(deadBefore)) {
			delete(s.deliveryStore.records, id)

			removed++
		}
	}

	return removed, nil
}

func (s *Store) updateDelivery(id string, update func(r *spi.DeliveryRecord)) error {
	s.deliveryStore.mutex.Lock()
	defer s.deliveryStore.mutex.Unlock()

	r, ok := s.deliveryStore.records[id]
	if !ok {
		return spi.ErrNotFound
	}

	update(r)

	r.UpdatedAt = time.Now()

	return nil
}
