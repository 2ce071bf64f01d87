package kafka

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cprunner/park-events-etl/internal/config"
	"github.com/cprunner/park-events-etl/internal/domain"
)

func TestSerializeToMessage(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	event := domain.CanonicalEvent{
		Name:     "Fall 5K",
		Date:     "2024-10-12",
		Location: "Central Park",
		URL:      "https://example.com/fall",
	}

	msg, err := serializeToMessage(domain.Change{Kind: domain.ChangeInserted, Event: event}, now)
	require.NoError(t, err)

	assert.Equal(t, []byte(domain.EventID(event)), msg.Key)
	require.Len(t, msg.Headers, 3)
	assert.Equal(t, "change_kind", msg.Headers[0].Key)
	assert.Equal(t, []byte("inserted"), msg.Headers[0].Value)
	assert.Equal(t, []byte("2024-10-12"), msg.Headers[1].Value)
	assert.Equal(t, []byte(now.Format(time.RFC3339)), msg.Headers[2].Value)

	var got ChangeMessage
	require.NoError(t, json.Unmarshal(msg.Value, &got))
	assert.Equal(t, domain.EventID(event), got.ID)
	assert.Equal(t, domain.ChangeInserted, got.Kind)
	assert.Equal(t, event, got.Event)
	assert.True(t, now.Equal(got.PublishedAt))
}

func TestSerializeToMessage_KeyStableAcrossReplacement(t *testing.T) {
	now := time.Now()
	a, err := serializeToMessage(domain.Change{Kind: domain.ChangeInserted, Event: domain.CanonicalEvent{Name: "Fall 5K", Date: "2024-10-12"}}, now)
	require.NoError(t, err)
	b, err := serializeToMessage(domain.Change{Kind: domain.ChangeReplaced, Event: domain.CanonicalEvent{Name: " fall 5k ", Date: "2024-10-12", Description: "longer"}}, now)
	require.NoError(t, err)

	assert.Equal(t, a.Key, b.Key)
}

func TestPublisher_PublishEmpty(t *testing.T) {
	p := NewPublisher(&config.Config{KafkaBrokers: []string{"127.0.0.1:1"}, KafkaTopic: "park-events"}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	t.Cleanup(func() { _ = p.Close() })

	assert.NoError(t, p.Publish(context.Background(), nil))
}
