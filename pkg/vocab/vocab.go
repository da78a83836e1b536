/*
Copyright Kestrel Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package vocab

// Context defines the object context.
type Context string

const (
	// ContextActivityStreams is the ActivityStreams context.
	ContextActivityStreams Context = "https://www.w3.org/ns/activitystreams"
	// ContextSecurity is the security context.
	ContextSecurity Context = "https://w3id.org/security/v1"
)

// PublicIRI indicates that the object is public, i.e. it may be viewed by anyone.
//nolint:gochecknoglobals
var PublicIRI = MustParseURL("https://www.w3.org/ns/activitystreams#Public")

// Type indicates the type of the object.
type Type string

const (
	// TypeCollection specifies the 'Collection' object type.
	TypeCollection Type = "Collection"
	// TypeOrderedCollection specifies the 'OrderedCollection' object type.
	TypeOrderedCollection Type = "OrderedCollection"
	// TypeCollectionPage specifies the 'CollectionPage' object type.
	TypeCollectionPage Type = "CollectionPage"
	// TypeOrderedCollectionPage specifies the 'OrderedCollectionPage' object type.
	TypeOrderedCollectionPage Type = "OrderedCollectionPage"

	// TypePerson specifies the 'Person' actor type.
	TypePerson Type = "Person"
	// TypeService specifies the 'Service' actor type.
	TypeService Type = "Service"
	// TypeGroup specifies the 'Group' actor type.
	TypeGroup Type = "Group"
	// TypeOrganization specifies the 'Organization' actor type.
	TypeOrganization Type = "Organization"
	// TypeApplication specifies the 'Application' actor type.
	TypeApplication Type = "Application"

	// TypeCreate specifies the 'Create' activity type.
	TypeCreate Type = "Create"
	// TypeUpdate specifies the 'Update' activity type.
	TypeUpdate Type = "Update"
	// TypeDelete specifies the 'Delete' activity type.
	TypeDelete Type = "Delete"
	// TypeFollow specifies the 'Follow' activity type.
	TypeFollow Type = "Follow"
	// TypeAccept specifies the 'Accept' activity type.
	TypeAccept Type = "Accept"
	// TypeReject specifies the 'Reject' activity type.
	TypeReject Type = "Reject"
	// TypeUndo specifies the 'Undo' activity type.
	TypeUndo Type = "Undo"
	// TypeLike specifies the 'Like' activity type.
	TypeLike Type = "Like"
	// TypeAnnounce specifies the 'Announce' activity type.
	TypeAnnounce Type = "Announce"
	// TypeAdd specifies the 'Add' activity type.
	TypeAdd Type = "Add"
	// TypeRemove specifies the 'Remove' activity type.
	TypeRemove Type = "Remove"
	// TypeBlock specifies the 'Block' activity type.
	TypeBlock Type = "Block"
	// TypeFlag specifies the 'Flag' activity type.
	TypeFlag Type = "Flag"

	// TypeNote specifies the 'Note' object type.
	TypeNote Type = "Note"
	// TypeArticle specifies the 'Article' object type.
	TypeArticle Type = "Article"
	// TypeImage specifies the 'Image' object type.
	TypeImage Type = "Image"
	// TypeVideo specifies the 'Video' object type.
	TypeVideo Type = "Video"
	// TypeDocument specifies the 'Document' object type.
	TypeDocument Type = "Document"
	// TypeQuestion specifies the 'Question' object type.
	TypeQuestion Type = "Question"
	// TypeTombstone specifies the 'Tombstone' object type.
	TypeTombstone Type = "Tombstone"
)

//nolint:gochecknoglobals
var activityTypes = []Type{
	TypeCreate, TypeUpdate, TypeDelete, TypeFollow, TypeAccept, TypeReject,
	TypeUndo, TypeLike, TypeAnnounce, TypeAdd, TypeRemove, TypeBlock, TypeFlag,
}

//nolint:gochecknoglobals
var actorTypes = []Type{
	TypePerson, TypeService, TypeGroup, TypeOrganization, TypeApplication,
}

// ActivityTypes returns the set of supported activity types.
func ActivityTypes() []Type {
	return activityTypes
}

// ActorTypes returns the set of supported actor types.
func ActorTypes() []Type {
	return actorTypes
}

// IsActivityType returns true if the given type is a supported activity type.
func IsActivityType(t Type) bool {
	return containsType(activityTypes, t)
}

// IsActorType returns true if the given type is a supported actor type.
func IsActorType(t Type) bool {
	return containsType(actorTypes, t)
}

func containsType(types []Type, t Type) bool {
	for _, st := range types {
		if st == t {
			return true
		}
	}

	return false
}

const (
	propertyContext           = "@context"
	propertyID                = "id"
	propertyType              = "type"
	propertyTo                = "to"
	propertyCc                = "cc"
	propertyBcc               = "bcc"
	propertyPublished         = "published"
	propertyUpdated           = "updated"
	propertyName              = "name"
	propertySummary           = "summary"
	propertyContent           = "content"
	propertyAttributedTo      = "attributedTo"
	propertyInReplyTo         = "inReplyTo"
	propertyURL               = "url"
	propertyFormerType        = "formerType"
	propertyDeleted           = "deleted"
	propertyActor             = "actor"
	propertyObject            = "object"
	propertyTarget            = "target"
	propertyCurrent           = "current"
	propertyFirst             = "first"
	propertyLast              = "last"
	propertyPartOf            = "partOf"
	propertyNext              = "next"
	propertyPrev              = "prev"
	propertyItems             = "items"
	propertyOrderedItems      = "orderedItems"
	propertyTotalItems        = "totalItems"
	propertyPreferredUsername = "preferredUsername"
	propertyPublicKey         = "publicKey"
	propertyInbox             = "inbox"
	propertyOutbox            = "outbox"
	propertyFollowers         = "followers"
	propertyFollowing         = "following"
	propertyLiked             = "liked"
	propertyEndpoints         = "endpoints"
	propertyApproves          = "manuallyApprovesFollowers"
)

func reservedProperties() []string {
	return []string{
		propertyContext,
		propertyID,
		propertyType,
		propertyTo,
		propertyCc,
		propertyBcc,
		propertyPublished,
		propertyUpdated,
		propertyName,
		propertySummary,
		propertyContent,
		propertyAttributedTo,
		propertyInReplyTo,
		propertyURL,
		propertyFormerType,
		propertyDeleted,
		propertyActor,
		propertyObject,
		propertyTarget,
		propertyCurrent,
		propertyFirst,
		propertyLast,
		propertyPartOf,
		propertyNext,
		propertyPrev,
		propertyItems,
		propertyOrderedItems,
		propertyTotalItems,
		propertyPreferredUsername,
		propertyPublicKey,
		propertyInbox,
		propertyOutbox,
		propertyFollowers,
		propertyFollowing,
		propertyLiked,
		propertyEndpoints,
		propertyApproves,
	}
}

// Document defines a JSON document as a map.
type Document map[string]interface{}

// MergeWith merges the document with the given document. Any duplicate fields
// in the given document are ignored.
func (doc Document) MergeWith(other Document) {
	for k, v := range other {
		if _, ok := doc[k]; !ok {
			doc[k] = v
		}
	}
}
