package events

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockChannel struct {
	mock.Mock
}

func (m *mockChannel) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	args := m.Called(exchange, key, msg)
	return args.Error(0)
}

func (m *mockChannel) Close() error {
	return m.Called().Error(0)
}

func TestNew(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.FixedZone("CET", 3600))

	first := New(LoginSucceeded, at)
	second := New(LoginSucceeded, at.Add(time.Millisecond))

	assert.Len(t, first.ID, 26)
	assert.Less(t, first.ID, second.ID, "ids sort by time")
	assert.Equal(t, time.UTC, first.OccurredAt.Location())
	assert.False(t, New(LoggedOut, time.Time{}).OccurredAt.IsZero())
}

func TestAMQPSink_Publish(t *testing.T) {
	ch := new(mockChannel)
	sink := NewAMQPSink(ch, "auth.events")

	evt := New(LoginSuspicious, time.Now())
	evt.UserID = "u1"
	evt.Reason = "new device detected"

	ch.On("PublishWithContext", "auth.events", "auth.login.suspicious", mock.MatchedBy(func(msg amqp.Publishing) bool {
		var decoded Event
		if err := json.Unmarshal(msg.Body, &decoded); err != nil {
			return false
		}
		return msg.ContentType == "application/json" &&
			msg.DeliveryMode == amqp.Persistent &&
			msg.MessageId == evt.ID &&
			decoded.UserID == "u1" &&
			decoded.Reason == "new device detected"
	})).Return(nil).Once()

	require.NoError(t, sink.Publish(context.Background(), evt))
	ch.AssertExpectations(t)
}

func TestAMQPSink_PublishError(t *testing.T) {
	ch := new(mockChannel)
	sink := NewAMQPSink(ch, "auth.events")

	ch.On("PublishWithContext", "auth.events", "auth.logout", mock.Anything).Return(amqp.ErrClosed)
	err := sink.Publish(context.Background(), New(LoggedOut, time.Now()))
	assert.ErrorIs(t, err, amqp.ErrClosed)

	ch.On("Close").Return(nil)
	assert.NoError(t, sink.Close())
}

func TestAMQPSink_ConcurrentPublish(t *testing.T) {
	ch := new(mockChannel)
	ch.On("PublishWithContext", "x", "auth.login", mock.Anything).Return(nil)
	sink := NewAMQPSink(ch, "x")

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = sink.Publish(context.Background(), New(LoginSucceeded, time.Now()))
		}()
	}
	wg.Wait()
	ch.AssertNumberOfCalls(t, "PublishWithContext", 20)
}

type failingSink struct{ err error }

func (f failingSink) Publish(context.Context, Event) error { return f.err }

func TestMulti(t *testing.T) {
	var buf bytes.Buffer
	logSink := LogSink{Logger: slog.New(slog.NewTextHandler(&buf, nil))}
	boom := errors.New("boom")

	err := Multi{logSink, failingSink{boom}, Nop{}}.Publish(context.Background(), New(AccountLocked, time.Now()))
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, buf.String(), "type=auth.lockout")

	assert.NoError(t, Multi{Nop{}, logSink}.Publish(context.Background(), New(LoggedOutAll, time.Now())))
}
