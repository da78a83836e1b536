/*
Copyright Kestrel Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package resthandler

import (
	"encoding/json"
	"io"
	"net/http"
	"net/url"

	"github.com/kestrelsoc/kestrel/internal/pkg/log"
	kestrelerrors "github.com/kestrelsoc/kestrel/pkg/errors"
	store "github.com/kestrelsoc/kestrel/pkg/store/spi"
	"github.com/kestrelsoc/kestrel/pkg/vocab"
)

// maxActivityPayloadSize is the maximum size of an activity that may be posted
// to the outbox.
const maxActivityPayloadSize = 1 << 20

type outboxService interface {
	Post(activity *vocab.ActivityType) (*url.URL, error)
}

// Outbox implements a REST handler for posts to a local actor's outbox. The
// caller must be the owner of the outbox.
type Outbox struct {
	*handler

	ob outboxService
}

// NewPostOutbox returns a new REST handler to post activities to the outbox.
func NewPostOutbox(cfg *Config, activityStore store.Store, verifier signatureVerifier, ob outboxService) *Outbox {
	h := &Outbox{
		ob: ob,
	}

	h.handler = newHandler(OutboxPath, http.MethodPost, cfg, activityStore, verifier, h.handlePost)

	return h
}

func (h *Outbox) handlePost(w http.ResponseWriter, req *http.Request) {
	authorized, actorIRI, err := h.authorize(req)
	if err != nil {
		h.writeError(w, err)

		return
	}

	username, err := getUsername(req)
	if err != nil {
		h.writeError(w, err)

		return
	}

	ownerIRI := h.actorIRI(username)

	if !authorized || actorIRI.String() != ownerIRI.String() {
		logger.Debug("Caller is not authorized to post to the outbox", log.WithUsername(username))

		h.writeResponse(w, http.StatusUnauthorized, nil)

		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, req.Body, maxActivityPayloadSize))
	if err != nil {
		h.writeError(w, kestrelerrors.NewBadRequestf("read request body: %s", err))

		return
	}

	activity, err := h.unmarshalActivity(ownerIRI, body)
	if err != nil {
		h.writeError(w, err)

		return
	}

	activityIRI, err := h.ob.Post(activity)
	if err != nil {
		h.writeError(w, err)

		return
	}

	activityIDBytes, err := h.marshal(activityIRI.String())
	if err != nil {
		h.writeError(w, err)

		return
	}

	w.Header().Set("Location", activityIRI.String())

	h.writeResponse(w, http.StatusCreated, activityIDBytes)
}

// unmarshalActivity parses the posted document. A bare object is wrapped in a
// 'Create' activity that is attributed to the outbox owner and addressed to
// the object's recipients.
func (h *Outbox) unmarshalActivity(ownerIRI *url.URL, body []byte) (*vocab.ActivityType, error) {
	obj := &vocab.ObjectType{}

	if err := json.Unmarshal(body, obj); err != nil {
		return nil, kestrelerrors.NewBadRequestf("unmarshal activity: %s", err)
	}

	if !obj.Type().IsAny(vocab.ActivityTypes()...) {
		return vocab.NewCreateActivity(
			vocab.NewObjectProperty(vocab.WithObject(obj)),
			vocab.WithContext(vocab.ContextActivityStreams),
			vocab.WithActor(ownerIRI),
			vocab.WithTo(obj.To()...),
			vocab.WithCC(obj.CC()...),
			vocab.WithBCC(obj.BCC()...),
		), nil
	}

	activity := &vocab.ActivityType{}

	if err := json.Unmarshal(body, activity); err != nil {
		return nil, kestrelerrors.NewBadRequestf("unmarshal activity: %s", err)
	}

	if activity.Actor() == nil {
		activity.SetActor(ownerIRI)
	} else if activity.Actor().String() != ownerIRI.String() {
		return nil, kestrelerrors.NewBadRequestf(
			"actor in activity [%s] does not match the outbox owner [%s]", activity.ID(), ownerIRI)
	}

	return activity, nil
}
