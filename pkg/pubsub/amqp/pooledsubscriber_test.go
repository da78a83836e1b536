/*
Copyright Kestrel Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package amqp

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/require"
)

type mockSubscriber struct {
	srcChans []chan *message.Message
	err      error
}

func (m *mockSubscriber) Subscribe(_ context.Context, _ string) (<-chan *message.Message, error) {
	if m.err != nil {
		return nil, m.err
	}

	ch := make(chan *message.Message)
	m.srcChans = append(m.srcChans, ch)

	return ch, nil
}

func TestPooledSubscriber(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		const size = 3

		sub := &mockSubscriber{}

		p, err := newPooledSubscriber(context.Background(), size, sub, "some-topic")
		require.NoError(t, err)
		require.Len(t, sub.srcChans, size)

		p.start()

		for _, srcChan := range sub.srcChans {
			srcChan <- message.NewMessage(watermill.NewUUID(), []byte("some payload"))
		}

		received := 0

		for received < size {
			select {
			case <-p.msgChan:
				received++
			case <-time.After(time.Second):
				t.Fatal("timed out waiting for message")
			}
		}

		p.stop()

		for _, srcChan := range sub.srcChans {
			close(srcChan)
		}

		select {
		case _, ok := <-p.msgChan:
			require.False(t, ok)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for the message channel to close")
		}
	})

	t.Run("Subscribe error", func(t *testing.T) {
		errExpected := errors.New("injected subscribe error")

		p, err := newPooledSubscriber(context.Background(), 2, &mockSubscriber{err: errExpected}, "some-topic")
		require.Error(t, err)
		require.Contains(t, err.Error(), errExpected.Error())
		require.Nil(t, p)
	})
}
