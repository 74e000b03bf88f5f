package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lexiqai/callagent/internal/config"
	"github.com/lexiqai/callagent/internal/dialog"
	"github.com/lexiqai/callagent/internal/llm"
	"github.com/lexiqai/callagent/internal/observability"
	"github.com/lexiqai/callagent/internal/phonebook"
	"github.com/lexiqai/callagent/internal/session"
	"github.com/lexiqai/callagent/internal/stt"
	"github.com/lexiqai/callagent/internal/telephony"
	"github.com/lexiqai/callagent/internal/tts"
	"github.com/lexiqai/callagent/internal/turn"
	"github.com/lexiqai/callagent/internal/workflow"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	observability.InitLogger(cfg.LogLevel, cfg.LogPretty)
	logger := observability.GetLogger()

	logger.Info().
		Str("port", cfg.Port).
		Str("log_level", cfg.LogLevel).
		Bool("metrics_enabled", cfg.MetricsEnabled).
		Msg("call agent starting")

	registry := session.NewRegistry(cfg.SessionIdleTimeout, cfg.SessionEndingGrace, cfg.SessionSweepPeriod)
	admission := stt.NewAdmission(cfg.STTMaxConcurrent)
	dialogGraph := dialog.NewGraph()
	llmClient := llm.NewClient(cfg)
	events := observability.NewEventBus()

	pb, err := phonebook.Load(cfg.PhonebookPath, logger)
	if err != nil {
		logger.Warn().Err(err).Msg("phonebook: failed to load, all callers will be treated as unidentified")
		pb = phonebook.NewEmpty(logger)
	}

	ttsClient := tts.NewClient(cfg)
	if err := ttsClient.Connect(); err != nil {
		logger.Error().Err(err).Msg("tts: initial connect failed, will retry on reconnect policy")
	}
	ttsPool := tts.NewPool(ttsClient)

	ctx := context.Background()
	calendarStore, err := workflow.NewGoogleCalendar(ctx, cfg.CalendarCredentialsFile, cfg.CalendarID)
	if err != nil {
		logger.Fatal().Err(err).Msg("calendar: failed to build client")
	}

	auditLog, err := workflow.OpenSQLiteAuditLog(cfg.AuditDBPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("audit: failed to open database")
	}

	var smsSender workflow.SMSSender = workflow.NoopSMS{}
	if cfg.CarrierAccountSID != "" {
		smsSender = workflow.NewTwilioSMS(cfg.CarrierAccountSID, cfg.CarrierAuthToken, cfg.CarrierFromNumber)
	}

	twimlURL := cfg.PublicBaseURL + "/twiml"
	var dialer workflow.OutboundDialer = workflow.NoopDialer{}
	if cfg.CarrierAccountSID != "" {
		dialer = workflow.NewTwilioDialer(cfg.CarrierAccountSID, cfg.CarrierAuthToken, cfg.CarrierFromNumber, twimlURL)
	}
	scheduler := workflow.NewOutboundScheduler(dialer, 20*time.Second, logger)

	adjudicator := workflow.NewLLMAdjudicator(llmClient)
	teammateFlow := workflow.NewTeammateFlow(calendarStore, auditLog, adjudicator, logger)
	customerFlow := workflow.NewCustomerFlow(llmClient, calendarStore, smsSender, auditLog, logger)

	driver := turn.NewDriver(turn.Config{
		Cfg:       cfg,
		Registry:  registry,
		Admission: admission,
		NewSTT: func() stt.STTClient {
			return stt.NewDeepgramClient(cfg)
		},
		TTSPool:      ttsPool,
		DialogGraph:  dialogGraph,
		LLMClient:    llmClient,
		Phonebook:    pb,
		Events:       events,
		TeammateFlow: teammateFlow,
		CustomerFlow: customerFlow,
		Scheduler:    scheduler,
		Logger:       logger,
	})
	go driver.PumpTTSAudio()

	mux := http.NewServeMux()
	mux.HandleFunc(cfg.StreamWSPath, telephony.NewServeHTTP(cfg, registry, driver))
	mux.HandleFunc("/voice-token", telephony.VoiceTokenHandler(cfg))
	mux.HandleFunc("/twiml", telephony.TwiMLHandler(cfg))
	mux.HandleFunc("/events", events.Handler(25*time.Second))
	mux.HandleFunc("/health", observability.HealthHandler(func() observability.HealthStatus {
		status := "ok"
		if driver.TTSState() != tts.StateOpen {
			status = "degraded"
		}
		return observability.HealthStatus{
			Status:             status,
			TTSConnectionState: string(driver.TTSState()),
			VoiceID:            driver.VoiceID(),
			Model:              cfg.LLMModel,
			Language:           cfg.PreferredLanguage,
			STTConnections:     driver.ActiveSTTConnections(),
		}
	}))

	if cfg.MetricsEnabled {
		mux.Handle("/metrics", promhttp.Handler())
		logger.Info().Msg("prometheus metrics enabled at /metrics")
	}

	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info().Str("port", cfg.Port).Msg("server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server failed to start")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	registry.Shutdown()
	auditLog.Close()
	pb.Close()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server forced to shutdown")
	}

	logger.Info().Msg("server exited gracefully")
}
