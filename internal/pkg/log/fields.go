/*
Copyright Kestrel Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package log

import (
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Log fields.
const (
	FieldURI             = "uri"
	FieldServiceName     = "service"
	FieldServiceEndpoint = "service-endpoint"
	FieldDomain          = "domain"
	FieldUsername        = "username"
	FieldActorID         = "actor-id"
	FieldActorIRI        = "actor-iri"
	FieldActivityType    = "activity-type"
	FieldActivityID      = "activity-id"
	FieldObjectIRI       = "object-iri"
	FieldReferenceIRI    = "reference"
	FieldReferenceType   = "reference-type"
	FieldMessageID       = "message-id"
	FieldPayload         = "payload"
	FieldRequestURL      = "request-url"
	FieldRequestHeaders  = "request-headers"
	FieldTargetIRI       = "target"
	FieldTargetInbox     = "target-inbox"
	FieldKeyID           = "key-id"
	FieldKeyOwner        = "key-owner"
	FieldHTTPStatus      = "http-status"
	FieldHTTPMethod      = "http-method"
	FieldTopic           = "topic"
	FieldDeliveryID      = "delivery-id"
	FieldDeliveryStatus  = "delivery-status"
	FieldAttempts        = "attempts"
	FieldNextAttempt     = "next-attempt"
	FieldBackoff         = "backoff"
	FieldTotalItems      = "total"
	FieldPage            = "page"
	FieldSize            = "size"
	FieldCacheExpiration = "cache-expiration"
	FieldAddress         = "address"
	FieldQueue           = "queue"
	FieldHost            = "host"
	FieldParameter       = "parameter"
)

// WithError sets the error field.
func WithError(err error) zap.Field {
	return zap.Error(err)
}

// WithURIString sets the uri field.
func WithURIString(value string) zap.Field {
	return zap.String(FieldURI, value)
}

// WithServiceName sets the service field.
func WithServiceName(value string) zap.Field {
	return zap.String(FieldServiceName, value)
}

// WithServiceEndpoint sets the service-endpoint field.
func WithServiceEndpoint(value string) zap.Field {
	return zap.String(FieldServiceEndpoint, value)
}

// WithDomain sets the domain field.
func WithDomain(value string) zap.Field {
	return zap.String(FieldDomain, value)
}

// WithUsername sets the username field.
func WithUsername(value string) zap.Field {
	return zap.String(FieldUsername, value)
}

// WithActorIRI sets the actor-iri field.
func WithActorIRI(value fmt.Stringer) zap.Field {
	return zap.Stringer(FieldActorIRI, value)
}

// WithActorID sets the actor-id field.
func WithActorID(value string) zap.Field {
	return zap.String(FieldActorID, value)
}

// WithActivityID sets the activity-id field.
func WithActivityID(value fmt.Stringer) zap.Field {
	return zap.Stringer(FieldActivityID, value)
}

// WithActivityType sets the activity-type field.
func WithActivityType(value string) zap.Field {
	return zap.String(FieldActivityType, value)
}

// WithObjectIRI sets the object-iri field.
func WithObjectIRI(value fmt.Stringer) zap.Field {
	return zap.Stringer(FieldObjectIRI, value)
}

// WithReferenceIRI sets the reference field.
func WithReferenceIRI(value fmt.Stringer) zap.Field {
	return zap.Stringer(FieldReferenceIRI, value)
}

// WithReferenceType sets the reference-type field.
func WithReferenceType(value string) zap.Field {
	return zap.String(FieldReferenceType, value)
}

// WithMessageID sets the message-id field.
func WithMessageID(value string) zap.Field {
	return zap.String(FieldMessageID, value)
}

// WithPayload sets the payload field.
func WithPayload(value []byte) zap.Field {
	return zap.String(FieldPayload, string(value))
}

// WithRequestURL sets the request-url field.
func WithRequestURL(value fmt.Stringer) zap.Field {
	return zap.Stringer(FieldRequestURL, value)
}

// WithRequestHeaders sets the request-headers field.
func WithRequestHeaders(value http.Header) zap.Field {
	return zap.Object(FieldRequestHeaders, httpHeaderMarshaller(value))
}

// WithTargetIRI sets the target field.
func WithTargetIRI(value fmt.Stringer) zap.Field {
	return zap.Stringer(FieldTargetIRI, value)
}

// WithTargetInbox sets the target-inbox field.
func WithTargetInbox(value string) zap.Field {
	return zap.String(FieldTargetInbox, value)
}

// WithKeyID sets the key-id field.
func WithKeyID(value string) zap.Field {
	return zap.String(FieldKeyID, value)
}

// WithKeyOwnerIRI sets the key-owner field.
func WithKeyOwnerIRI(value fmt.Stringer) zap.Field {
	return zap.Stringer(FieldKeyOwner, value)
}

// WithHTTPStatus sets the http-status field.
func WithHTTPStatus(value int) zap.Field {
	return zap.Int(FieldHTTPStatus, value)
}

// WithHTTPMethod sets the http-method field.
func WithHTTPMethod(value string) zap.Field {
	return zap.String(FieldHTTPMethod, value)
}

// WithTopic sets the topic field.
func WithTopic(value string) zap.Field {
	return zap.String(FieldTopic, value)
}

// WithDeliveryID sets the delivery-id field.
func WithDeliveryID(value string) zap.Field {
	return zap.String(FieldDeliveryID, value)
}

// WithDeliveryStatus sets the delivery-status field.
func WithDeliveryStatus(value string) zap.Field {
	return zap.String(FieldDeliveryStatus, value)
}

// WithAttempts sets the attempts field.
func WithAttempts(value int) zap.Field {
	return zap.Int(FieldAttempts, value)
}

// WithNextAttempt sets the next-attempt field.
func WithNextAttempt(value time.Time) zap.Field {
	return zap.Time(FieldNextAttempt, value)
}

// WithBackoff sets the backoff field.
func WithBackoff(value time.Duration) zap.Field {
	return zap.Duration(FieldBackoff, value)
}

// WithTotalItems sets the total field.
func WithTotalItems(value int) zap.Field {
	return zap.Int(FieldTotalItems, value)
}

// WithPage sets the page field.
func WithPage(value int) zap.Field {
	return zap.Int(FieldPage, value)
}

// WithSize sets the size field.
func WithSize(value int) zap.Field {
	return zap.Int(FieldSize, value)
}

// WithCacheExpiration sets the cache-expiration field.
func WithCacheExpiration(value time.Duration) zap.Field {
	return zap.Duration(FieldCacheExpiration, value)
}

// WithAddress sets the address field.
func WithAddress(value string) zap.Field {
	return zap.String(FieldAddress, value)
}

// WithQueue sets the queue field.
func WithQueue(value string) zap.Field {
	return zap.String(FieldQueue, value)
}

// WithHost sets the host field.
func WithHost(value string) zap.Field {
	return zap.String(FieldHost, value)
}

// WithParameter sets the parameter field.
func WithParameter(value string) zap.Field {
	return zap.String(FieldParameter, value)
}

type httpHeaderMarshaller http.Header

func (m httpHeaderMarshaller) MarshalLogObject(e zapcore.ObjectEncoder) error {
	for k, values := range m {
		if err := e.AddArray(k, stringArrayMarshaller(values)); err != nil {
			return fmt.Errorf("marshal values for header %s: %w", k, err)
		}
	}

	return nil
}

type stringArrayMarshaller []string

func (m stringArrayMarshaller) MarshalLogArray(e zapcore.ArrayEncoder) error {
	for _, v := range m {
		e.AppendString(v)
	}

	return nil
}
