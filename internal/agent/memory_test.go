package agent

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryDirectoryCRUD(t *testing.T) {
	ctx := context.Background()
	dir := NewMemoryDirectory()

	created, err := dir.Create(ctx, Config{ID: "support-bot", Name: "Support Bot"})
	require.NoError(t, err)
	assert.Equal(t, DefaultVoice, created.Voice)
	assert.Equal(t, DefaultWelcomeMessage, created.WelcomeMessage)
	assert.Equal(t, "openai", created.Providers.LLM)
	assert.False(t, created.CreatedAt.IsZero())

	_, err = dir.Create(ctx, Config{ID: "support-bot", Name: "Again"})
	require.ErrorIs(t, err, ErrExists)

	got, err := dir.Lookup(ctx, "support-bot")
	require.NoError(t, err)
	assert.Equal(t, "Support Bot", got.Name)

	created.Name = "Renamed"
	updated, err := dir.Update(ctx, created)
	require.NoError(t, err)
	assert.Equal(t, "Renamed", updated.Name)
	assert.Equal(t, created.CreatedAt, updated.CreatedAt)

	list, err := dir.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)

	require.NoError(t, dir.Delete(ctx, "support-bot"))
	_, err = dir.Lookup(ctx, "support-bot")
	require.ErrorIs(t, err, ErrNotFound)
	require.ErrorIs(t, dir.Delete(ctx, "support-bot"), ErrNotFound)
}

func TestMemoryDirectoryGeneratesIDAndValidates(t *testing.T) {
	ctx := context.Background()
	dir := NewMemoryDirectory()

	created, err := dir.Create(ctx, Config{Name: "Anon"})
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)

	_, err = dir.Create(ctx, Config{ID: "x"})
	require.ErrorIs(t, err, ErrInvalid)

	_, err = dir.Update(ctx, Config{ID: "missing", Name: "n"})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryDirectorySnapshotIsolation(t *testing.T) {
	ctx := context.Background()
	dir := NewMemoryDirectory()
	_, err := dir.Create(ctx, Config{ID: "a", Name: "Before", Language: "en"})
	require.NoError(t, err)

	snapshot, err := dir.Lookup(ctx, "a")
	require.NoError(t, err)

	_, err = dir.Update(ctx, Config{ID: "a", Name: "After", Language: "hi"})
	require.NoError(t, err)

	assert.Equal(t, "Before", snapshot.Name)
	assert.Equal(t, "en", snapshot.Language)

	fresh, err := dir.Lookup(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "After", fresh.Name)
}

func TestMemoryDirectoryConcurrentReadersAndWriters(t *testing.T) {
	ctx := context.Background()
	dir := NewMemoryDirectory()
	_, err := dir.Create(ctx, Config{ID: "shared", Name: "Shared"})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				_, _ = dir.Update(ctx, Config{ID: "shared", Name: fmt.Sprintf("w%d-%d", w, i)})
				_, _ = dir.Create(ctx, Config{ID: fmt.Sprintf("w%d-%d", w, i), Name: "extra"})
			}
		}(w)
	}
	for r := 0; r < 8; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				cfg, err := dir.Lookup(ctx, "shared")
				if err != nil || cfg.Name == "" {
					t.Errorf("Lookup() = %+v, %v", cfg, err)
					return
				}
			}
		}()
	}
	wg.Wait()

	list, err := dir.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1+4*50)
}

func TestResolveFallsBackToDefaultPersona(t *testing.T) {
	ctx := context.Background()
	dir := NewMemoryDirectory()

	cfg, err := Resolve(ctx, dir, "ghost")
	require.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, "ghost", cfg.ID)
	assert.Equal(t, "Test Agent", cfg.Name)
	assert.Equal(t, "alloy", cfg.Voice)
	assert.Equal(t, "You are a helpful AI assistant.", cfg.Prompt)

	cfg, err = Resolve(ctx, nil, "")
	require.Error(t, err)
	assert.Equal(t, "Test Agent", cfg.Name)
}

func TestNormalizeFillsDefaults(t *testing.T) {
	cfg := Normalize(Config{
		Name:      "  Bot ",
		Providers: Providers{LLM: "Groq"},
		Settings:  Settings{SpeechSpeed: -1, MaxCallDurationSec: -5},
	})
	assert.Equal(t, "Bot", cfg.Name)
	assert.Equal(t, "groq", cfg.Providers.LLM)
	assert.Equal(t, "deepgram", cfg.Providers.ASR)
	assert.Equal(t, 1.0, cfg.Settings.SpeechSpeed)
	assert.Equal(t, 0, cfg.Settings.MaxCallDurationSec)
	assert.Equal(t, "balanced", cfg.Settings.LatencyMode)
	assert.Zero(t, cfg.Settings.MaxCallDuration())
}
