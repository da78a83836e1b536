/*
Copyright Kestrel Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package spi

// UndeliverableTopic is the topic to which undeliverable messages are posted.
const UndeliverableTopic = "kestrel.undeliverable.activities"

// Options contains publisher/subscriber options.
type Options struct {
	PoolSize int
}

// Option specifies a publisher/subscriber option.
type Option func(option *Options)

// WithPool sets the subscriber pool size, i.e. the number of concurrent
// consumers on the subscription.
func WithPool(size int) Option {
	return func(option *Options) {
		option.PoolSize = size
	}
}
