package main

import (
	"bytes"
	"context"
	"fmt"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ent0n29/voxline/internal/app"
	"github.com/ent0n29/voxline/internal/config"
)

func TestCallURL(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		agent   string
		want    string
		wantErr bool
	}{
		{name: "ws with path", raw: "ws://localhost:8080/webrtc", agent: "support", want: "ws://localhost:8080/webrtc?agentId=support"},
		{name: "http converted", raw: "http://localhost:8080", agent: "a1", want: "ws://localhost:8080/webrtc?agentId=a1"},
		{name: "https converted", raw: "https://voice.example.com/", want: "wss://voice.example.com/webrtc"},
		{name: "bad scheme", raw: "ftp://example.com", wantErr: true},
		{name: "missing host", raw: "ws:///webrtc", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := callURL(tt.raw, tt.agent)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func startServer(t *testing.T) *httptest.Server {
	t.Helper()
	cfg := config.Config{
		MetricsNamespace:   fmt.Sprintf("test_cli_%d", time.Now().UnixNano()),
		DefaultLLMProvider: "openai",
		HistoryWindow:      6,
		RearmPolicy:        config.RearmOnSpeechEnded,
		PlaybackAckTimeout: 5 * time.Second,
		AllowAnyOrigin:     true,
	}
	built, err := app.Build(context.Background(), cfg, zerolog.Nop())
	require.NoError(t, err)
	srv := httptest.NewServer(built.API.Router())
	t.Cleanup(func() {
		srv.Close()
		_ = built.Cleanup()
	})
	return srv
}

func TestRunCallScriptedConversation(t *testing.T) {
	srv := startServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var out, errOut bytes.Buffer
	err := runCall(ctx, callOptions{
		url:         srv.URL,
		agentID:     "nobody",
		texts:       []string{"hello there", "", "what are your hours"},
		turnTimeout: 5 * time.Second,
	}, strings.NewReader(""), &out, &errOut)
	require.NoError(t, err, errOut.String())

	transcript := out.String()
	assert.Contains(t, transcript, "user: hello there\n")
	assert.Contains(t, transcript, "user: what are your hours\n")
	assert.Equal(t, 3, strings.Count(transcript, "ai: "), transcript)
	assert.Less(t, strings.Index(transcript, "user: hello there"), strings.Index(transcript, "user: what are your hours"))
	assert.Equal(t, 2, strings.Count(errOut.String(), "answered in"))
}

func TestRunCallReadsStdin(t *testing.T) {
	srv := startServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var out bytes.Buffer
	err := runCall(ctx, callOptions{url: srv.URL, turnTimeout: 5 * time.Second},
		strings.NewReader("first line\nsecond line\n"), &out, &bytes.Buffer{})
	require.NoError(t, err)
	assert.Contains(t, out.String(), "user: first line\n")
	assert.Contains(t, out.String(), "user: second line\n")
}

func TestDialCallGivesUp(t *testing.T) {
	srv := httptest.NewServer(nil)
	target := strings.Replace(srv.URL, "http://", "ws://", 1) + "/webrtc"
	srv.Close()

	var errOut bytes.Buffer
	_, err := dialCall(context.Background(), target, 1, &errOut)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dial ")
	assert.Contains(t, errOut.String(), "retrying in 250ms")
}

func TestAgentsValidate(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.yaml")
	require.NoError(t, os.WriteFile(good, []byte(`
agents:
  - id: front-desk
    name: Front Desk
    language: hi-IN
`), 0o600))

	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"agents", "validate", good})
	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), "front-desk")
	assert.Contains(t, out.String(), "1 agent(s) valid")

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("agents:\n  - id: x\n    unknown_field: 1\n"), 0o600))
	root = newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"agents", "validate", bad})
	require.Error(t, root.Execute())
}
