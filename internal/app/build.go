package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/ent0n29/voxline/internal/agent"
	"github.com/ent0n29/voxline/internal/callhistory"
	"github.com/ent0n29/voxline/internal/config"
	"github.com/ent0n29/voxline/internal/httpapi"
	"github.com/ent0n29/voxline/internal/llm"
	"github.com/ent0n29/voxline/internal/observability"
	"github.com/ent0n29/voxline/internal/session"
	"github.com/ent0n29/voxline/internal/voice"
)

type BuildResult struct {
	Config       config.Config
	API          *httpapi.Server
	Sessions     *session.Manager
	Orchestrator *voice.Orchestrator
	Metrics      *observability.Metrics
	Inventory    httpapi.Inventory

	// Cleanup should be called on shutdown to release the stores.
	Cleanup func() error
}

func Build(ctx context.Context, cfg config.Config, logger zerolog.Logger) (*BuildResult, error) {
	metrics := observability.NewMetrics(cfg.MetricsNamespace)
	providers := resolveProviders(ctx, cfg, logger)

	router := llm.NewRouter(llm.RouterConfig{
		DefaultProvider: cfg.DefaultLLMProvider,
		DefaultModel:    cfg.DefaultLLMModel,
		FallbackModel:   cfg.FallbackModel,
		MaxTokens:       cfg.GenerationMaxTokens,
		Temperature:     cfg.GenerationTemperature,
		Timeout:         cfg.GenerationTimeout,
	}, providers.llm, metrics, logger)

	transcription := voice.NewTranscription(voice.TranscriptionConfig{
		DefaultProvider: cfg.DefaultASRProvider,
		MinAudioBytes:   cfg.MinAudioBytes,
		Timeout:         cfg.TranscriptionTimeout,
	}, providers.transcribers, metrics, logger)

	synthesis := voice.NewSynthesis(cfg.SynthesisTimeout, providers.synthesizers, metrics, logger)

	agents, err := agent.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("agent store init failed: %w", err)
	}
	if strings.TrimSpace(cfg.AgentsFile) != "" {
		seed, err := agent.LoadSeedFile(cfg.AgentsFile)
		if err == nil {
			err = agent.Seed(ctx, agents, seed)
		}
		if err != nil {
			_ = agents.Close()
			return nil, fmt.Errorf("agent seed failed: %w", err)
		}
		logger.Info().Int("agents", len(seed)).Str("file", cfg.AgentsFile).Msg("agents seeded")
	}

	calls, err := callhistory.NewStore(ctx, cfg.DatabaseURL, cfg.RedisURL, cfg.CallHistoryTTL)
	if err != nil {
		_ = agents.Close()
		return nil, fmt.Errorf("call history store init failed: %w", err)
	}

	sessions := session.NewManager(cfg.SessionInactivityTimeout, cfg.SessionRetention)

	orchestrator := voice.NewOrchestrator(voice.OrchestratorConfig{
		WelcomeDelay:       cfg.WelcomeDelay,
		HistoryWindow:      cfg.HistoryWindow,
		HistoryRetention:   cfg.HistoryRetention,
		RearmPolicy:        cfg.RearmPolicy,
		PlaybackAckTimeout: cfg.PlaybackAckTimeout,
		RedactTranscripts:  cfg.RedactTranscripts,
	}, sessions, agents, transcription, router, calls, metrics, logger)

	sessions.SetExpireHook(func(s *session.Session) {
		orchestrator.Terminate(s.ID)
		metrics.IncSessionEvent("expired")
		metrics.ActiveSessions.Set(float64(sessions.ActiveCount()))
	})

	inventory := httpapi.Inventory{
		LLMProviders:   router.Providers(),
		ASRProviders:   transcription.Providers(),
		AgentStoreMode: agent.Mode(agents),
		CallStoreMode:  callhistory.Mode(calls),
		Aggregator:     router.HasAggregator(),
	}

	api := httpapi.New(cfg, httpapi.Deps{
		Sessions:     sessions,
		Orchestrator: orchestrator,
		Agents:       agents,
		Calls:        calls,
		Synthesis:    synthesis,
		Generator:    router,
		Transcriber:  transcription,
		Inventory:    inventory,
		Metrics:      metrics,
		Logger:       logger,
	})

	logger.Info().
		Strs("llm", inventory.LLMProviders).
		Strs("asr", inventory.ASRProviders).
		Strs("tts", synthesis.Providers()).
		Strs("llm_configured", providerNames(providers.llm)).
		Str("agent_store", inventory.AgentStoreMode).
		Str("call_store", inventory.CallStoreMode).
		Msg("providers resolved")

	cleanup := func() error {
		var errs []string
		if err := calls.Close(); err != nil {
			errs = append(errs, err.Error())
		}
		if err := agents.Close(); err != nil {
			errs = append(errs, err.Error())
		}
		if len(errs) > 0 {
			return fmt.Errorf("%s", strings.Join(errs, "; "))
		}
		return nil
	}

	return &BuildResult{
		Config:       cfg,
		API:          api,
		Sessions:     sessions,
		Orchestrator: orchestrator,
		Metrics:      metrics,
		Inventory:    inventory,
		Cleanup:      cleanup,
	}, nil
}
