/*
Copyright Kestrel Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package httpsubscriber

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/gorilla/mux"

	"github.com/kestrelsoc/kestrel/internal/pkg/log"
	kestrelerrors "github.com/kestrelsoc/kestrel/pkg/errors"
	"github.com/kestrelsoc/kestrel/pkg/lifecycle"
	"github.com/kestrelsoc/kestrel/pkg/metrics"
	store "github.com/kestrelsoc/kestrel/pkg/store/spi"
	"github.com/kestrelsoc/kestrel/pkg/vocab"
)

var logger = log.New("httpsubscriber")

const (
	// ActorIRIKey is the metadata key for the IRI of the actor that signed the request.
	ActorIRIKey = "actor-iri"

	// InboxOwnerKey is the metadata key for the username of the local actor whose
	// personal inbox received the request. It is absent for the shared inbox.
	InboxOwnerKey = "inbox-owner"

	defaultBufferSize     = 100
	defaultMaxPayloadSize = 1 << 20 // 1 MiB
)

// Config holds the HTTP subscriber configuration parameters.
type Config struct {
	ServiceEndpoint string
	BufferSize      int
	MaxPayloadSize  int64
}

type signatureVerifier interface {
	VerifyRequest(req *http.Request) (*url.URL, error)
}

// Subscriber implements a Watermill subscriber whose messages originate from
// HTTP requests posted to an inbox endpoint. A request is validated,
// authenticated, and checked for duplicates synchronously; the HTTP response is
// not written until the resulting message has been acked or nacked downstream.
type Subscriber struct {
	*lifecycle.Lifecycle
	*Config

	verifier      signatureVerifier
	activityStore store.ActivityRepo
	pubChan       chan *message.Message
	msgChan       chan *message.Message
	stopped       chan struct{}
	done          chan struct{}
}

// New returns a new HTTP subscriber.
func New(cfg *Config, verifier signatureVerifier, activityStore store.ActivityRepo) *Subscriber {
	if cfg.BufferSize == 0 {
		cfg.BufferSize = defaultBufferSize
	}

	if cfg.MaxPayloadSize == 0 {
		cfg.MaxPayloadSize = defaultMaxPayloadSize
	}

	s := &Subscriber{
		Config:        cfg,
		verifier:      verifier,
		activityStore: activityStore,
		pubChan:       make(chan *message.Message, cfg.BufferSize),
		msgChan:       make(chan *message.Message, cfg.BufferSize),
		stopped:       make(chan struct{}),
		done:          make(chan struct{}),
	}

	s.Lifecycle = lifecycle.New("httpsubscriber-"+cfg.ServiceEndpoint,
		lifecycle.WithStop(s.stop),
		lifecycle.WithStart(func() {
			go s.publisher()
		}),
	)

	// Start the service immediately.
	s.Start()

	return s
}

// Subscribe returns the channel over which incoming messages are sent.
func (s *Subscriber) Subscribe(_ context.Context, _ string) (<-chan *message.Message, error) {
	return s.msgChan, nil
}

// Close stops the subscriber.
func (s *Subscriber) Close() error {
	s.Stop()

	return nil
}

// HandleRequest is the HTTP handler that accepts an activity posted to an inbox
// endpoint. It must be registered with an HTTP server.
func (s *Subscriber) HandleRequest(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.MaxPayloadSize)

	actorIRI, err := s.verifier.VerifyRequest(r)
	if err != nil {
		if kestrelerrors.IsTransient(err) {
			logger.Error("Error verifying HTTP signature", log.WithError(err), log.WithRequestURL(r.URL))

			w.WriteHeader(http.StatusInternalServerError)

			return
		}

		logger.Info("Invalid HTTP signature", log.WithError(err), log.WithRequestURL(r.URL))

		metrics.Get().InboxRejected()

		w.WriteHeader(http.StatusUnauthorized)

		return
	}

	activity, payload, status, err := s.validateActivity(r, actorIRI)
	if err != nil {
		logger.Info("Rejecting activity", log.WithError(err), log.WithHTTPStatus(status),
			log.WithActorIRI(vocab.NewURLProperty(actorIRI)), log.WithRequestURL(r.URL))

		metrics.Get().InboxRejected()

		w.WriteHeader(status)

		return
	}

	if activity == nil {
		// Accepted but not processed, e.g. an activity type outside the
		// supported set or a duplicate delivery.
		w.WriteHeader(status)

		return
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.Metadata[ActorIRIKey] = actorIRI.String()

	if owner := mux.Vars(r)["username"]; owner != "" {
		msg.Metadata[InboxOwnerKey] = owner
	}

	logger.Debug("Handling message", log.WithMessageID(msg.UUID),
		log.WithActivityID(activity.ID()), log.WithActorIRI(vocab.NewURLProperty(actorIRI)))

	if err := s.publish(msg); err != nil {
		logger.Info("Message wasn't sent", log.WithMessageID(msg.UUID), log.WithError(err))

		w.WriteHeader(http.StatusServiceUnavailable)

		return
	}

	s.respond(msg, w, r)
}

// validateActivity parses and validates the posted activity. A nil activity
// with a nil error indicates that the request should be accepted without
// further processing.
func (s *Subscriber) validateActivity(r *http.Request,
	actorIRI *url.URL) (*vocab.ActivityType, []byte, int, error) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, nil, http.StatusBadRequest, err
	}

	activity := &vocab.ActivityType{}

	if err := vocab.UnmarshalJSON(body, activity); err != nil {
		return nil, nil, http.StatusBadRequest, err
	}

	if activity.ID().URL() == nil {
		return nil, nil, http.StatusBadRequest, kestrelerrors.NewBadRequestf("activity has no ID")
	}

	if activity.Actor() == nil {
		return nil, nil, http.StatusBadRequest, kestrelerrors.NewBadRequestf("activity has no actor")
	}

	if !isSupportedType(activity.Type()) {
		logger.Info("Ignoring activity of unsupported type",
			log.WithActivityID(activity.ID()), log.WithActivityType(activity.Type().String()))

		return nil, nil, http.StatusAccepted, nil
	}

	if activity.Actor().String() != actorIRI.String() {
		return nil, nil, http.StatusUnauthorized, kestrelerrors.NewAuthf(
			"request is signed by [%s] but the activity actor is [%s]", actorIRI, activity.Actor())
	}

	payload, err := vocab.Marshal(activity)
	if err != nil {
		return nil, nil, http.StatusBadRequest, err
	}

	status, err := s.checkDuplicate(activity, payload)
	if err != nil || status != 0 {
		return nil, nil, status, err
	}

	return activity, payload, 0, nil
}

// checkDuplicate returns 202 for a redelivery of an activity that was already
// accepted with the same content, and 409 if the ID was seen with different
// content.
func (s *Subscriber) checkDuplicate(activity *vocab.ActivityType, payload []byte) (int, error) {
	existing, err := s.activityStore.GetActivity(activity.ID().URL())
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return 0, nil
		}

		return http.StatusInternalServerError, kestrelerrors.NewTransient(err)
	}

	existingPayload, err := vocab.Marshal(existing)
	if err != nil {
		return http.StatusInternalServerError, err
	}

	if !bytes.Equal(existingPayload, payload) {
		return http.StatusConflict, kestrelerrors.NewConflictf(
			"activity [%s] was already received with different content", activity.ID())
	}

	logger.Info("Ignoring duplicate activity", log.WithActivityID(activity.ID()))

	return http.StatusAccepted, nil
}

func (s *Subscriber) publish(msg *message.Message) error {
	if s.State() != lifecycle.StateStarted {
		return lifecycle.ErrNotStarted
	}

	s.pubChan <- msg

	return nil
}

func (s *Subscriber) publisher() {
	for {
		select {
		case msg := <-s.pubChan:
			s.msgChan <- msg

			logger.Debug("Message was delivered to subscriber", log.WithMessageID(msg.UUID))

		case <-s.stopped:
			logger.Debug("Stopping publisher", log.WithServiceName(s.ServiceEndpoint))

			close(s.done)

			return
		}
	}
}

func (s *Subscriber) respond(msg *message.Message, w http.ResponseWriter, r *http.Request) {
	select {
	case <-msg.Acked():
		logger.Debug("Ack received for message", log.WithMessageID(msg.UUID))

		w.WriteHeader(http.StatusOK)

	case <-msg.Nacked():
		logger.Warn("Nack received for message", log.WithMessageID(msg.UUID))

		w.WriteHeader(http.StatusInternalServerError)

	case <-r.Context().Done():
		logger.Info("Timed out waiting for ack or nack for message",
			log.WithMessageID(msg.UUID), log.WithError(r.Context().Err()))

		w.WriteHeader(http.StatusInternalServerError)

	case <-s.stopped:
		logger.Info("Message was not handled since the service was stopped", log.WithMessageID(msg.UUID))

		w.WriteHeader(http.StatusServiceUnavailable)
	}
}

func isSupportedType(typeProp *vocab.TypeProperty) bool {
	for _, t := range typeProp.Types() {
		if vocab.IsActivityType(t) {
			return true
		}
	}

	return false
}

func (s *Subscriber) stop() {
	logger.Info("Stopping HTTP subscriber", log.WithServiceName(s.ServiceEndpoint))

	close(s.stopped)

	// Wait for the publisher to stop so that the message channel is not closed
	// while a message is being published to it.
	<-s.done

	close(s.msgChan)
}
