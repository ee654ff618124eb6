package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	topic  string
	msgs   []kafka.Message
	err    error
	closed bool
}

func (f *fakeWriter) WriteMessages(_ context.Context, topic string, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.topic = topic
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

func TestKafkaPublisherEncodesEvent(t *testing.T) {
	writer := &fakeWriter{}
	publisher := newKafkaPublisher(writer, nil)
	publisher.now = func() time.Time { return time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC) }

	event := NewStreakUpdated(StreakUpdated{UserID: "u1", CurrentStreak: 4, LongestStreak: 9, Source: "activity"})
	require.NoError(t, publisher.Publish(context.Background(), event))

	require.Equal(t, TopicStreakUpdated, writer.topic)
	require.Len(t, writer.msgs, 1)
	msg := writer.msgs[0]
	require.Equal(t, []byte("u1"), msg.Key)
	require.Equal(t, "event_type", msg.Headers[0].Key)
	require.Equal(t, []byte(TypeStreakUpdated), msg.Headers[0].Value)

	var decoded StreakUpdated
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	require.Equal(t, 4, decoded.CurrentStreak)
	require.Equal(t, PayloadVersion, decoded.Version)

	require.NoError(t, publisher.Close())
	require.True(t, writer.closed)
}

func TestKafkaPublisherTopicOverride(t *testing.T) {
	writer := &fakeWriter{}
	publisher := newKafkaPublisher(writer, map[string]string{TypeSyncCompleted: "device.sync"})

	require.NoError(t, publisher.Publish(context.Background(), NewSyncCompleted(SyncCompleted{UserID: "u1", Success: true})))
	require.Equal(t, "device.sync", writer.topic)
}

func TestKafkaPublisherErrors(t *testing.T) {
	writer := &fakeWriter{err: errors.New("broker down")}
	publisher := newKafkaPublisher(writer, nil)

	err := publisher.Publish(context.Background(), NewSyncCompleted(SyncCompleted{UserID: "u1"}))
	require.ErrorContains(t, err, "broker down")

	err = publisher.Publish(context.Background(), Event{Type: "unknown"})
	require.ErrorContains(t, err, "no topic configured")
}

func TestRecorder(t *testing.T) {
	var recorder Recorder
	ctx := context.Background()
	require.NoError(t, recorder.Publish(ctx, NewSyncCompleted(SyncCompleted{UserID: "a"})))
	require.NoError(t, recorder.Publish(ctx, NewStreakUpdated(StreakUpdated{UserID: "a"})))

	require.Len(t, recorder.Events(), 2)
	streaks := recorder.OfType(TypeStreakUpdated)
	require.Len(t, streaks, 1)
	require.Equal(t, PayloadVersion, streaks[0].Payload.(StreakUpdated).Version)
}
