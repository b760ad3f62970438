package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"hubwatch/internal/driver/telegram"
	"hubwatch/internal/kernel"
	"hubwatch/internal/state"
	"hubwatch/modules/assistant"
	"hubwatch/modules/duel"
	"hubwatch/modules/help"
	"hubwatch/modules/hubinfo"
	"hubwatch/modules/monitor"
	"hubwatch/modules/roster"
	"hubwatch/pkg/hub"
	"hubwatch/pkg/hubwatch"
	"hubwatch/pkg/llm"
	"hubwatch/pkg/llm/providers/gemini"
	"hubwatch/pkg/llm/providers/openai"
	"hubwatch/pkg/search"
	"hubwatch/pkg/webreader"
)

const (
	envConfigFile = "HUBWATCH_CONFIG_FILE"
	envAppID      = "HUBWATCH_TELEGRAM_APP_ID"
	envAppHash    = "HUBWATCH_TELEGRAM_APP_HASH"
	envBotToken   = "HUBWATCH_TELEGRAM_BOT_TOKEN"
	envOpenAIKey  = "HUBWATCH_OPENAI_API_KEY"
	envGeminiKey  = "HUBWATCH_GEMINI_API_KEY"
	envSearchKey  = "HUBWATCH_SEARCH_API_KEY"

	defaultConfigFilePath   = "config/bot.json"
	alternateConfigFilePath = "bin/config/bot.json"
	defaultStatePath        = "data/state.json"
	defaultSessionDir       = "data/session"
	drainTimeout            = 10 * time.Second
)

type appConfig struct {
	logLevel   slog.Level
	statePath  string
	sessionDir string

	hubBaseURL    string
	searchBaseURL string
	arxivBaseURL  string

	openai *openaiProfile
	gemini *geminiProfile

	monitor   monitor.Config
	assistant assistant.Config
	duel      duel.Config
	roster    roster.Config
}

type openaiProfile struct {
	baseURL string
}

type geminiProfile struct {
	baseURL string
}

type fileConfig struct {
	LogLevel   string `json:"log_level"`
	StatePath  string `json:"state_path"`
	SessionDir string `json:"session_dir"`

	Hub    fileEndpoint  `json:"hub"`
	Search fileEndpoint  `json:"search"`
	Arxiv  fileEndpoint  `json:"arxiv"`
	LLM    fileLLMConfig `json:"llm"`

	Monitor   fileMonitorConfig   `json:"monitor"`
	Assistant fileAssistantConfig `json:"assistant"`
	Duel      fileDuelConfig      `json:"duel"`
	Roster    fileAssistantConfig `json:"roster"`
}

type fileEndpoint struct {
	BaseURL string `json:"base_url"`
}

type fileLLMConfig struct {
	OpenAI *fileEndpoint `json:"openai"`
	Gemini *fileEndpoint `json:"gemini"`
}

type fileMonitorConfig struct {
	Publishers           []string `json:"publishers"`
	NotifyConversationID string   `json:"notify_conversation_id"`
	PollInterval         string   `json:"poll_interval"`
	SummaryProfile       string   `json:"summary_profile"`
	SummaryModel         string   `json:"summary_model"`
}

type fileAssistantConfig struct {
	Profile string `json:"profile"`
	Model   string `json:"model"`
}

type fileDuelConfig struct {
	Profile       string `json:"profile"`
	Model         string `json:"model"`
	BankModel     string `json:"bank_model"`
	RivalName     string `json:"rival_name"`
	ReminderDelay string `json:"reminder_delay"`
	ExpiryDelay   string `json:"expiry_delay"`
}

func run() error {
	// Secrets come from the environment; .env is a development convenience.
	_ = godotenv.Load()

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.logLevel}))
	slog.SetDefault(logger)

	kernelRuntime := kernel.New(kernel.WithLogger(logger))
	scheduler := kernel.NewScheduler(kernel.WithLogger(logger))
	supervisor := kernel.NewSupervisor(kernel.WithLogger(logger))

	store, err := state.Open(cfg.statePath, logger)
	if err != nil {
		return fmt.Errorf("open state store: %w", err)
	}

	registry, err := buildLLMRegistry(cfg)
	if err != nil {
		return fmt.Errorf("build llm registry: %w", err)
	}

	telegramDriver, err := buildTelegramDriver(cfg, logger)
	if err != nil {
		return fmt.Errorf("build telegram driver: %w", err)
	}
	if err := kernelRuntime.RegisterDriver(telegramDriver); err != nil {
		return fmt.Errorf("register telegram driver: %w", err)
	}

	services := map[string]any{
		hubwatch.ServiceLogger:              logger,
		hubwatch.ServiceStateStore:          store,
		hubwatch.ServiceScheduler:           scheduler,
		hubwatch.ServiceSupervisor:          supervisor,
		hubwatch.ServiceLLMProviderRegistry: registry,
		hubwatch.ServiceOutboundDispatcher:  telegramDriver.Outbound(),
		hubwatch.ServiceBotIdentity:         telegramDriver.Identity(),
	}
	for name, service := range services {
		if err := kernelRuntime.RegisterService(name, service); err != nil {
			return fmt.Errorf("register service %s: %w", name, err)
		}
	}

	if err := registerRuntimeModules(context.Background(), kernelRuntime, cfg); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runErr := kernelRuntime.Run(ctx)

	drainCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	if err := supervisor.Drain(drainCtx); err != nil {
		logger.Warn("supervisor drain incomplete", "error", err)
	}
	if err := scheduler.Close(drainCtx); err != nil {
		logger.Warn("scheduler close incomplete", "error", err)
	}

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return fmt.Errorf("run kernel: %w", runErr)
	}

	return nil
}

// registerRuntimeModules builds and registers all modules.
//
// Order matters: the roster observer must see messages before responders, and
// the assistant must check the duel gate before the duel module consumes an
// active session from the same event.
func registerRuntimeModules(ctx context.Context, kernelRuntime *kernel.Kernel, cfg appConfig) error {
	hubClient := hub.NewClient(cfg.hubBaseURL)
	webReader := webreader.NewClient(cfg.arxivBaseURL)
	searcher := search.NewClient(os.Getenv(envSearchKey), cfg.searchBaseURL)

	duelModule, err := duel.New(cfg.duel)
	if err != nil {
		return fmt.Errorf("build duel module: %w", err)
	}

	monitorModule, err := monitor.New(cfg.monitor, hubClient)
	if err != nil {
		return fmt.Errorf("build monitor module: %w", err)
	}
	rosterModule, err := roster.New(cfg.roster, hubClient)
	if err != nil {
		return fmt.Errorf("build roster module: %w", err)
	}
	assistantModule, err := assistant.New(cfg.assistant, hubClient, webReader, searcher, duelModule.Sessions())
	if err != nil {
		return fmt.Errorf("build assistant module: %w", err)
	}
	hubinfoModule, err := hubinfo.New(hubinfo.Config{Publishers: cfg.monitor.Publishers}, hubClient)
	if err != nil {
		return fmt.Errorf("build hubinfo module: %w", err)
	}

	modules := []hubwatch.Module{
		monitorModule,
		rosterModule,
		assistantModule,
		duelModule,
		hubinfoModule,
		help.New(),
	}
	for _, module := range modules {
		if err := kernelRuntime.RegisterModule(ctx, module); err != nil {
			return fmt.Errorf("register %s module: %w", module.Name(), err)
		}
	}

	return nil
}

func buildTelegramDriver(cfg appConfig, logger *slog.Logger) (*telegram.Driver, error) {
	appID, err := strconv.Atoi(strings.TrimSpace(os.Getenv(envAppID)))
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", envAppID, err)
	}

	return telegram.New(telegram.Config{
		AppID:      appID,
		AppHash:    os.Getenv(envAppHash),
		BotToken:   os.Getenv(envBotToken),
		SessionDir: cfg.sessionDir,
		Logger:     logger,
	})
}

func buildLLMRegistry(cfg appConfig) (*llm.Registry, error) {
	providers := make(map[string]hubwatch.LLMProvider)

	if cfg.openai != nil {
		provider, err := openai.New(openai.ProviderConfig{
			APIKey:  os.Getenv(envOpenAIKey),
			BaseURL: cfg.openai.baseURL,
		})
		if err != nil {
			return nil, fmt.Errorf("build openai provider: %w", err)
		}
		providers["openai"] = provider
	}
	if cfg.gemini != nil {
		provider, err := gemini.New(gemini.ProviderConfig{
			APIKey:  os.Getenv(envGeminiKey),
			BaseURL: cfg.gemini.baseURL,
		})
		if err != nil {
			return nil, fmt.Errorf("build gemini provider: %w", err)
		}
		providers["gemini"] = provider
	}

	return llm.NewRegistry(providers)
}

func loadConfig() (appConfig, error) {
	configFile, err := resolveConfigFilePath()
	if err != nil {
		return appConfig{}, err
	}

	data, err := os.ReadFile(configFile)
	if err != nil {
		return appConfig{}, fmt.Errorf("read config file %s: %w", configFile, err)
	}

	cfg, err := parseConfig(data)
	if err != nil {
		return appConfig{}, fmt.Errorf("parse config file %s: %w", configFile, err)
	}

	return cfg, nil
}

func resolveConfigFilePath() (string, error) {
	if configFile := strings.TrimSpace(os.Getenv(envConfigFile)); configFile != "" {
		return configFile, nil
	}

	candidates := []string{defaultConfigFilePath, alternateConfigFilePath}
	for _, candidate := range candidates {
		info, err := os.Stat(candidate)
		if err == nil {
			if info.IsDir() {
				return "", fmt.Errorf("config file %s is a directory", candidate)
			}
			return candidate, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("stat config file %s: %w", candidate, err)
		}
	}

	return "", fmt.Errorf(
		"config file not found; create %s or %s, or set %s",
		defaultConfigFilePath, alternateConfigFilePath, envConfigFile,
	)
}

func parseConfig(data []byte) (appConfig, error) {
	var parsed fileConfig
	if err := json.Unmarshal(data, &parsed); err != nil {
		return appConfig{}, err
	}

	cfg := appConfig{
		logLevel:   slog.LevelInfo,
		statePath:  defaultStatePath,
		sessionDir: defaultSessionDir,
	}

	if rawLevel := strings.TrimSpace(parsed.LogLevel); rawLevel != "" {
		level, err := parseLogLevel(rawLevel)
		if err != nil {
			return appConfig{}, fmt.Errorf("parse log_level: %w", err)
		}
		cfg.logLevel = level
	}
	if path := strings.TrimSpace(parsed.StatePath); path != "" {
		cfg.statePath = path
	}
	if dir := strings.TrimSpace(parsed.SessionDir); dir != "" {
		cfg.sessionDir = dir
	}

	cfg.hubBaseURL = strings.TrimSpace(parsed.Hub.BaseURL)
	cfg.searchBaseURL = strings.TrimSpace(parsed.Search.BaseURL)
	cfg.arxivBaseURL = strings.TrimSpace(parsed.Arxiv.BaseURL)

	if parsed.LLM.OpenAI != nil {
		cfg.openai = &openaiProfile{baseURL: strings.TrimSpace(parsed.LLM.OpenAI.BaseURL)}
	}
	if parsed.LLM.Gemini != nil {
		cfg.gemini = &geminiProfile{baseURL: strings.TrimSpace(parsed.LLM.Gemini.BaseURL)}
	}
	if cfg.openai == nil && cfg.gemini == nil {
		return appConfig{}, fmt.Errorf("llm: at least one provider is required")
	}

	cfg.monitor = monitor.Config{
		Publishers:           parsed.Monitor.Publishers,
		NotifyConversationID: strings.TrimSpace(parsed.Monitor.NotifyConversationID),
		SummaryProfile:       strings.TrimSpace(parsed.Monitor.SummaryProfile),
		SummaryModel:         strings.TrimSpace(parsed.Monitor.SummaryModel),
	}
	if raw := strings.TrimSpace(parsed.Monitor.PollInterval); raw != "" {
		interval, err := parsePositiveDuration(raw)
		if err != nil {
			return appConfig{}, fmt.Errorf("parse monitor.poll_interval: %w", err)
		}
		cfg.monitor.PollInterval = interval
	}

	cfg.assistant = assistant.Config{
		Profile: strings.TrimSpace(parsed.Assistant.Profile),
		Model:   strings.TrimSpace(parsed.Assistant.Model),
	}
	cfg.roster = roster.Config{
		Profile:    strings.TrimSpace(parsed.Roster.Profile),
		Model:      strings.TrimSpace(parsed.Roster.Model),
		Publishers: parsed.Monitor.Publishers,
	}

	cfg.duel = duel.Config{
		Profile:   strings.TrimSpace(parsed.Duel.Profile),
		Model:     strings.TrimSpace(parsed.Duel.Model),
		BankModel: strings.TrimSpace(parsed.Duel.BankModel),
		RivalName: strings.TrimSpace(parsed.Duel.RivalName),
	}
	if raw := strings.TrimSpace(parsed.Duel.ReminderDelay); raw != "" {
		delay, err := parsePositiveDuration(raw)
		if err != nil {
			return appConfig{}, fmt.Errorf("parse duel.reminder_delay: %w", err)
		}
		cfg.duel.ReminderDelay = delay
	}
	if raw := strings.TrimSpace(parsed.Duel.ExpiryDelay); raw != "" {
		delay, err := parsePositiveDuration(raw)
		if err != nil {
			return appConfig{}, fmt.Errorf("parse duel.expiry_delay: %w", err)
		}
		cfg.duel.ExpiryDelay = delay
	}

	if err := validateProfiles(cfg); err != nil {
		return appConfig{}, err
	}

	return cfg, nil
}

// validateProfiles rejects module profiles that name an unconfigured
// provider, so misconfiguration fails at startup instead of mid-chat.
func validateProfiles(cfg appConfig) error {
	known := make(map[string]struct{}, 2)
	if cfg.openai != nil {
		known["openai"] = struct{}{}
	}
	if cfg.gemini != nil {
		known["gemini"] = struct{}{}
	}

	profiles := map[string]string{
		"monitor.summary_profile": cfg.monitor.SummaryProfile,
		"assistant.profile":       cfg.assistant.Profile,
		"duel.profile":            cfg.duel.Profile,
		"roster.profile":          cfg.roster.Profile,
	}
	for scope, profile := range profiles {
		if profile == "" {
			continue
		}
		if _, exists := known[profile]; !exists {
			return fmt.Errorf("%s: unknown llm provider %q", scope, profile)
		}
	}

	return nil
}

func parsePositiveDuration(raw string) (time.Duration, error) {
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return 0, err
	}
	if parsed <= 0 {
		return 0, fmt.Errorf("must be > 0")
	}

	return parsed, nil
}

func parseLogLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unsupported level %q", raw)
	}
}
