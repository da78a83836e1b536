/*
Copyright Kestrel Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package mongostore

import (
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	mongoopts "go.mongodb.org/mongo-driver/mongo/options"

	"github.com/kestrelsoc/kestrel/internal/pkg/log"
	"github.com/kestrelsoc/kestrel/pkg/store/spi"
)

type deliveryDoc struct {
	ID            string    `bson:"_id"`
	ActivityIRI   string    `bson:"activityIRI"`
	ActorIRI      string    `bson:"actorIRI"`
	TargetInbox   string    `bson:"targetInbox"`
	Payload       []byte    `bson:"payload"`
	Status        string    `bson:"status"`
	Attempts      int       `bson:"attempts"`
	MaxRetries    int       `bson:"maxRetries"`
	NotBefore     time.Time `bson:"notBefore"`
	LastAttemptAt time.Time `bson:"lastAttemptAt,omitempty"`
	CompletedAt   time.Time `bson:"completedAt,omitempty"`
	LastError     string    `bson:"lastError,omitempty"`
	CreatedAt     time.Time `bson:"createdAt"`
	UpdatedAt     time.Time `bson:"updatedAt"`
}

func (d *deliveryDoc) toRecord() *spi.DeliveryRecord {
	return &spi.DeliveryRecord{
		ID:            d.ID,
		ActivityIRI:   d.ActivityIRI,
		ActorIRI:      d.ActorIRI,
		TargetInbox:   d.TargetInbox,
		Payload:       d.Payload,
		Status:        spi.DeliveryStatus(d.Status),
		Attempts:      d.Attempts,
		MaxRetries:    d.MaxRetries,
		NotBefore:     d.NotBefore,
		LastAttemptAt: d.LastAttemptAt,
		CompletedAt:   d.CompletedAt,
		LastError:     d.LastError,
		CreatedAt:     d.CreatedAt,
		UpdatedAt:     d.UpdatedAt,
	}
}

// Enqueue adds the given records in the Pending state.
func (s *Store) Enqueue(records ...*spi.DeliveryRecord) error {
	if len(records) == 0 {
		return nil
	}

	now := time.Now()

	docs := make([]interface{}, len(records))

	for i, record := range records {
		createdAt := record.CreatedAt
		if createdAt.IsZero() {
			createdAt = now
		}

		docs[i] = &deliveryDoc{
			ID:          record.ID,
			ActivityIRI: record.ActivityIRI,
			ActorIRI:    record.ActorIRI,
			TargetInbox: record.TargetInbox,
			Payload:     record.Payload,
			Status:      string(spi.DeliveryPending),
			MaxRetries:  record.MaxRetries,
			NotBefore:   record.NotBefore,
			CreatedAt:   createdAt,
			UpdatedAt:   now,
		}
	}

	ctx, cancel := s.newCtx()
	defer cancel()

	_, err := s.deliveries.InsertMany(ctx, docs)
	if err != nil {
		return fmt.Errorf("insert deliveries: %w", err)
	}

	logger.Debug("Enqueued deliveries", log.WithServiceName(s.serviceName), log.WithSize(len(records)))

	return nil
}

// LeasePending atomically transitions up to batchSize ready records (Pending or
// Failed, and due) to Processing and returns them. FindOneAndUpdate guarantees
// that two concurrent callers never receive the same record.
func (s *Store) LeasePending(batchSize int, now time.Time) ([]*spi.DeliveryRecord, error) {
	var leased []*spi.DeliveryRecord

	filter := bson.M{
		"status":    bson.M{"$in": bson.A{string(spi.DeliveryPending), string(spi.DeliveryFailed)}},
		"notBefore": bson.M{"$lte": now},
	}

	update := bson.M{
		"$set": bson.M{
			"status":        string(spi.DeliveryProcessing),
			"lastAttemptAt": now,
			"updatedAt":     now,
		},
	}

	opts := mongoopts.FindOneAndUpdate().
		SetSort(bson.D{{Key: "notBefore", Value: 1}}).
		SetReturnDocument(mongoopts.After)

	for batchSize <= 0 || len(leased) < batchSize {
		ctx, cancel := s.newCtx()

		doc := &deliveryDoc{}

		err := s.deliveries.FindOneAndUpdate(ctx, filter, update, opts).Decode(doc)

		cancel()

		if err != nil {
			if errors.Is(err, mongo.ErrNoDocuments) {
				break
			}

			return nil, fmt.Errorf("lease delivery: %w", err)
		}

		leased = append(leased, doc.toRecord())
	}

	return leased, nil
}

// MarkDelivered transitions the record to Delivered.
func (s *Store) MarkDelivered(id string) error {
	now := time.Now()

	return s.updateDelivery(id, bson.M{
		"$set": bson.M{
			"status":      string(spi.DeliveryDelivered),
			"lastError":   "",
			"completedAt": now,
			"updatedAt":   now,
		},
	})
}

// MarkFailed increments the attempt count and transitions the record to Failed
// with the given next-attempt time.
func (s *Store) MarkFailed(id, reason string, nextAttempt time.Time) error {
	return s.updateDelivery(id, bson.M{
		"$set": bson.M{
			"status":    string(spi.DeliveryFailed),
			"lastError": reason,
			"notBefore": nextAttempt,
			"updatedAt": time.Now(),
		},
		"$inc": bson.M{"attempts": 1},
	})
}

// MarkDead increments the attempt count and transitions the record to Dead.
func (s *Store) MarkDead(id, reason string) error {
	return s.updateDelivery(id, bson.M{
		"$set": bson.M{
			"status":    string(spi.DeliveryDead),
			"lastError": reason,
			"updatedAt": time.Now(),
		},
		"$inc": bson.M{"attempts": 1},
	})
}

// Release transitions a Processing record back to Pending without counting an attempt.
func (s *Store) Release(id string) error {
	ctx, cancel := s.newCtx()
	defer cancel()

	result, err := s.deliveries.UpdateOne(ctx,
		bson.M{"_id": id, "status": string(spi.DeliveryProcessing)},
		bson.M{
			"$set": bson.M{
				"status":    string(spi.DeliveryPending),
				"updatedAt": time.Now(),
			},
		},
	)
	if err != nil {
		return fmt.Errorf("release delivery [%s]: %w", id, err)
	}

	if result.MatchedCount == 0 {
		return spi.ErrNotFound
	}

	return nil
}

// CountPending returns the number of records that are pending or awaiting retry.
func (s *Store) CountPending() (int, error) {
	ctx, cancel := s.newCtx()
	defer cancel()

	count, err := s.deliveries.CountDocuments(ctx, bson.M{
		"status": bson.M{"$in": bson.A{string(spi.DeliveryPending), string(spi.DeliveryFailed)}},
	})
	if err != nil {
		return 0, fmt.Errorf("count pending deliveries: %w", err)
	}

	return int(count), nil
}

// GetDelivery returns the record with the given ID or ErrNotFound.
func (s *Store) GetDelivery(id string) (*spi.DeliveryRecord, error) {
	ctx, cancel := s.newCtx()
	defer cancel()

	doc := &deliveryDoc{}

	err := s.deliveries.FindOne(ctx, bson.M{"_id": id}).Decode(doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, spi.ErrNotFound
		}

		return nil, fmt.Errorf("find delivery [%s]: %w", id, err)
	}

	return doc.toRecord(), nil
}

// Reap removes Delivered records completed before deliveredBefore and Dead
// records last updated before deadBefore.
func (s *Store) Reap(deliveredBefore, deadBefore time.Time) (int, error) {
	ctx, cancel := s.newCtx()
	defer cancel()

	result, err := s.deliveries.DeleteMany(ctx, bson.M{
		"$or": bson.A{
			bson.M{"status": string(spi.DeliveryDelivered), "completedAt": bson.M{"$lt": deliveredBefore}},
			bson.M{"status": string(spi.DeliveryDead), "updatedAt": bson.M{"$lt": deadBefore}},
		},
	})
	if err != nil {
		return 0, fmt.Errorf("reap deliveries: %w", err)
	}

	return int(result.DeletedCount), nil
}

func (s *Store) updateDelivery(id string, update bson.M) error {
	ctx, cancel := s.newCtx()
	defer cancel()

	result, err := s.deliveries.UpdateOne(ctx, bson.M{"_id": id}, update)
	if err != nil {
		return fmt.Errorf("update delivery [%s]: %w", id, err)
	}

	if result.MatchedCount == 0 {
		return spi.ErrNotFound
	}

	return nil
}
