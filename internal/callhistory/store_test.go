package callhistory

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleRecord(endedAt time.Time) Record {
	return Record{
		SessionID: uuid.NewString(),
		AgentID:   "support-bot",
		AgentName: "Support Bot",
		Transcript: []Line{
			{Speaker: "ai", Text: "Hello! How can I help you today?", At: endedAt.Add(-time.Minute)},
			{Speaker: "user", Text: "I need help with my account", At: endedAt.Add(-30 * time.Second)},
		},
		DurationSec: 60,
		StartedAt:   endedAt.Add(-time.Minute),
		EndedAt:     endedAt,
	}
}

// exerciseStore runs the behaviour every backend must share.
func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Millisecond)

	var ids []string
	for i := 0; i < 3; i++ {
		r := sampleRecord(base.Add(time.Duration(i) * time.Second))
		r.ID = fmt.Sprintf("call-%s-%d", uuid.NewString()[:8], i)
		require.NoError(t, s.Save(ctx, r))
		ids = append(ids, r.ID)
	}

	got, err := s.Get(ctx, ids[1])
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
	assert.Equal(t, "support-bot", got.AgentID)
	require.Len(t, got.Transcript, 2)
	assert.Equal(t, "user", got.Transcript[1].Speaker)

	list, err := s.List(ctx, 2)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, ids[2], list[0].ID, "newest first")
	assert.Equal(t, ids[1], list[1].ID)

	_, err = s.Get(ctx, "missing-"+uuid.NewString())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestInMemoryStore(t *testing.T) {
	s := NewInMemoryStore()
	exerciseStore(t, s)
	require.NoError(t, s.Close())
}

func TestInMemoryStoreFillsDefaultsAndCopies(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()

	r := Record{AgentID: "a", Transcript: []Line{{Speaker: "user", Text: "hi"}}}
	require.NoError(t, s.Save(ctx, r))

	list, err := s.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.NotEmpty(t, list[0].ID)
	assert.False(t, list[0].EndedAt.IsZero())
	assert.Equal(t, StatusCompleted, list[0].Status)

	list[0].Transcript[0].Text = "mutated"
	again, err := s.Get(ctx, list[0].ID)
	require.NoError(t, err)
	assert.Equal(t, "hi", again.Transcript[0].Text)
}

func TestClampLimit(t *testing.T) {
	assert.Equal(t, defaultListLimit, clampLimit(0))
	assert.Equal(t, 7, clampLimit(7))
	assert.Equal(t, maxListLimit, clampLimit(10_000))
}

func TestNewStoreDefaultsToMemory(t *testing.T) {
	s, err := NewStore(context.Background(), "", "", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, "in-memory", Mode(s))
}

func TestRedisStore(t *testing.T) {
	url := os.Getenv("VOXLINE_TEST_REDIS_URL")
	if url == "" {
		t.Skip("VOXLINE_TEST_REDIS_URL not set")
	}
	s, err := NewRedisStoreFromURL(context.Background(), url, time.Hour)
	require.NoError(t, err)
	defer s.Close()
	exerciseStore(t, s)
}

func TestPostgresStore(t *testing.T) {
	url := os.Getenv("VOXLINE_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("VOXLINE_TEST_DATABASE_URL not set")
	}
	s, err := NewPostgresStore(context.Background(), url)
	require.NoError(t, err)
	defer s.Close()
	exerciseStore(t, s)
}
