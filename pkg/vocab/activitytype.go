/*
Copyright Kestrel Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package vocab

import (
	"net/url"
)

// ActivityType defines an 'activity'.
type ActivityType struct {
	*ObjectType

	activity *activityType
}

type activityType struct {
	Actor  *URLProperty    `json:"actor,omitempty"`
	Object *ObjectProperty `json:"object,omitempty"`
	Target *ObjectProperty `json:"target,omitempty"`
}

// Actor returns the actor for the activity.
func (t *ActivityType) Actor() *url.URL {
	return t.activity.Actor.URL()
}

// SetActor sets the actor for the activity.
func (t *ActivityType) SetActor(iri *url.URL) {
	t.activity.Actor = NewURLProperty(iri)
}

// Object returns the object of the activity.
func (t *ActivityType) Object() *ObjectProperty {
	return t.activity.Object
}

// Target returns the target of the activity.
func (t *ActivityType) Target() *ObjectProperty {
	return t.activity.Target
}

// MarshalJSON marshals the activity.
func (t *ActivityType) MarshalJSON() ([]byte, error) {
	return MarshalJSON(t.ObjectType, t.activity)
}

// UnmarshalJSON unmarshals the activity.
func (t *ActivityType) UnmarshalJSON(bytes []byte) error {
	t.ObjectType = NewObject()
	t.activity = &activityType{}

	return UnmarshalJSON(bytes, t.ObjectType, t.activity)
}

func newActivity(typ Type, obj *ObjectProperty, opts ...Opt) *ActivityType {
	options := NewOptions(opts...)

	return &ActivityType{
		ObjectType: NewObject(
			WithContext(getContexts(options, ContextActivityStreams)...),
			WithID(options.ID),
			WithType(typ),
			WithTo(options.To...),
			WithCC(options.CC...),
			WithBCC(options.BCC...),
			WithPublishedTime(options.Published),
		),
		activity: &activityType{
			Actor:  NewURLProperty(options.Actor),
			Object: obj,
			Target: options.Target,
		},
	}
}

// NewCreateActivity returns a new 'Create' activity.
func NewCreateActivity(obj *ObjectProperty, opts ...Opt) *ActivityType {
	return newActivity(TypeCreate, obj, opts...)
}

// NewUpdateActivity returns a new 'Update' activity.
func NewUpdateActivity(obj *ObjectProperty, opts ...Opt) *ActivityType {
	return newActivity(TypeUpdate, obj, opts...)
}

// NewDeleteActivity returns a new 'Delete' activity.
func NewDeleteActivity(obj *ObjectProperty, opts ...Opt) *ActivityType {
	return newActivity(TypeDelete, obj, opts...)
}

// NewFollowActivity returns a new 'Follow' activity.
func NewFollowActivity(obj *ObjectProperty, opts ...Opt) *ActivityType {
	return newActivity(TypeFollow, obj, opts...)
}

// NewAcceptActivity returns a new 'Accept' activity.
func NewAcceptActivity(obj *ObjectProperty, opts ...Opt) *ActivityType {
	return newActivity(TypeAccept, obj, opts...)
}

// NewRejectActivity returns a new 'Reject' activity.
func NewRejectActivity(obj *ObjectProperty, opts ...Opt) *ActivityType {
	return newActivity(TypeReject, obj, opts...)
}

// NewUndoActivity returns a new 'Undo' activity.
func NewUndoActivity(obj *ObjectProperty, opts ...Opt) *ActivityType {
	return newActivity(TypeUndo, obj, opts...)
}

// NewLikeActivity returns a new 'Like' activity.
func NewLikeActivity(obj *ObjectProperty, opts ...Opt) *ActivityType {
	return newActivity(TypeLike, obj, opts...)
}

// NewAnnounceActivity returns a new 'Announce' activity.
func NewAnnounceActivity(obj *ObjectProperty, opts ...Opt) *ActivityType {
	return newActivity(TypeAnnounce, obj, opts...)
}

// NewAddActivity returns a new 'Add' activity.
func NewAddActivity(obj *ObjectProperty, opts ...Opt) *ActivityType {
	return newActivity(TypeAdd, obj, opts...)
}

// NewRemoveActivity returns a new 'Remove' activity.
func NewRemoveActivity(obj *ObjectProperty, opts ...Opt) *ActivityType {
	return newActivity(TypeRemove, obj, opts...)
}

// NewBlockActivity returns a new 'Block' activity.
func NewBlockActivity(obj *ObjectProperty, opts ...Opt) *ActivityType {
	return newActivity(TypeBlock, obj, opts...)
}

// NewFlagActivity returns a new 'Flag' activity.
func NewFlagActivity(obj *ObjectProperty, opts ...Opt) *ActivityType {
	return newActivity(TypeFlag, obj, opts...)
}
