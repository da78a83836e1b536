/*
Copyright Kestrel Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package amqp

import (
	"context"
	"fmt"
	"sync"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/kestrelsoc/kestrel/internal/pkg/log"
)

type subscriber interface {
	Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error)
}

// pooledSubscriber manages a pool of subscriptions on the same topic. Each
// subscription consumes from the broker concurrently and forwards messages to a
// single Go channel consumed by the caller.
type pooledSubscriber struct {
	topic    string
	msgChan  chan *message.Message
	srcChans []<-chan *message.Message
	wg       sync.WaitGroup
}

func newPooledSubscriber(ctx context.Context, size int, s subscriber, topic string) (*pooledSubscriber, error) {
	p := &pooledSubscriber{
		topic:    topic,
		msgChan:  make(chan *message.Message, size),
		srcChans: make([]<-chan *message.Message, size),
	}

	for i := 0; i < size; i++ {
		msgChan, err := s.Subscribe(ctx, topic)
		if err != nil {
			return nil, fmt.Errorf("subscribe to topic [%s]: %w", topic, err)
		}

		p.srcChans[i] = msgChan
	}

	return p, nil
}

func (s *pooledSubscriber) start() {
	logger.Info("Starting pooled subscriber", log.WithTopic(s.topic), log.WithSize(len(s.srcChans)))

	for _, srcChan := range s.srcChans {
		s.wg.Add(1)

		go func(srcChan <-chan *message.Message) {
			defer s.wg.Done()

			for msg := range srcChan {
				logger.Debug("Pooled subscriber got message",
					log.WithTopic(s.topic), log.WithMessageID(msg.UUID))

				s.msgChan <- msg
			}
		}(srcChan)
	}
}

func (s *pooledSubscriber) stop() {
	logger.Info("Closing pooled subscriber", log.WithTopic(s.topic))

	go func() {
		s.wg.Wait()
		close(s.msgChan)
	}()
}
