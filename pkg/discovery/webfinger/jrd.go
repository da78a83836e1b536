/*
Copyright Kestrel Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package webfinger

import "errors"

// ErrResourceNotFound indicates that the requested resource is not known to
// the server.
var ErrResourceNotFound = errors.New("resource not found")

// JRD is a JSON Resource Descriptor as defined in
// https://datatracker.ietf.org/doc/html/rfc7033#section-4.4.
type JRD struct {
	Subject    string                 `json:"subject,omitempty"`
	Aliases    []string               `json:"aliases,omitempty"`
	Properties map[string]interface{} `json:"properties,omitempty"`
	Links      []Link                 `json:"links,omitempty"`
}

// Link is a link in a JRD.
type Link struct {
	Rel  string `json:"rel,omitempty"`
	Type string `json:"type,omitempty"`
	Href string `json:"href,omitempty"`
}

// ActorIRI returns the IRI of the actor described by the JRD, i.e. the target
// of the 'self' link with an ActivityStreams media type. An empty string is
// returned if the JRD has no such link.
func (d *JRD) ActorIRI() string {
	for _, link := range d.Links {
		if link.Rel != selfRel {
			continue
		}

		if link.Type == ActivityJSONType || link.Type == activityStreamsLDType {
			return link.Href
		}
	}

	return ""
}
