package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel     string `yaml:"log_level"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	OTLPInsecure bool   `yaml:"otlp_insecure"`
	StdoutTraces bool   `yaml:"stdout_traces"`
}

type HTTPConfig struct {
	Bind       string `yaml:"bind"`
	Port       int    `yaml:"port"`
	AdminToken string `yaml:"admin_token"` // guards /api/v1 when set
}

type Config struct {
	RuntimeName string           `yaml:"runtime_name"`
	Environment string           `yaml:"environment"`
	HTTP        HTTPConfig       `yaml:"http"`
	Telemetry   TelemetryConfig  `yaml:"telemetry"`
	Bus         BusConfig        `yaml:"bus"`
	Node        NodeConfig       `yaml:"node"`
	EventStore  EventStoreConfig `yaml:"event_store"`
	Telephony   TelephonyConfig  `yaml:"telephony"`
	Audio       AudioConfig      `yaml:"audio"`
	VAD         VADConfig        `yaml:"vad"`
	Session     SessionConfig    `yaml:"session"`
	STT         STTConfig        `yaml:"stt"`
	Dialogue    DialogueConfig   `yaml:"dialogue"`
	TTS         TTSConfig        `yaml:"tts"`
	Identity    IdentityConfig   `yaml:"identity"`
	Escalation  EscalationConfig `yaml:"escalation"`
	Normalizer  NormalizerConfig `yaml:"normalizer"`
}

type BusConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	StoreDir       string   `yaml:"store_dir"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
	SubjectPrefix  string   `yaml:"subject_prefix"`
}

type NodeConfig struct {
	ID                string `yaml:"id"`
	Role              string `yaml:"role"`
	HeartbeatInterval int    `yaml:"heartbeat_interval_ms"`
	HeartbeatTimeout  int    `yaml:"heartbeat_timeout_ms"`
	MaxCalls          int    `yaml:"max_calls"`
}

type EventStoreConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxSessions   int    `yaml:"max_sessions"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

type TelephonyConfig struct {
	Provider         string `yaml:"provider"`
	AccountSID       string `yaml:"account_sid"`
	AuthToken        string `yaml:"auth_token"`
	FromNumber       string `yaml:"from_number"`
	PublicURL        string `yaml:"public_url"`
	StreamPath       string `yaml:"stream_path"`
	VoicePath        string `yaml:"voice_path"`
	VerifySignatures bool   `yaml:"verify_signatures"`
	APIBaseURL       string `yaml:"api_base_url"`
	CountryCode      string `yaml:"country_code"`
}

type AudioConfig struct {
	TelephonyRate  int     `yaml:"telephony_sample_rate"`
	RecognizerRate int     `yaml:"recognizer_sample_rate"`
	FrameMS        int     `yaml:"frame_ms"`
	BandLowHz      float64 `yaml:"band_low_hz"`
	BandHighHz     float64 `yaml:"band_high_hz"`
	NoiseSuppress  bool    `yaml:"noise_suppression"`
	TrimSilenceDB  float64 `yaml:"trim_silence_db"` // 0 disables trimming
	FilterTaps     int     `yaml:"resampler_taps"`
}

type VADConfig struct {
	OnsetDB         float64 `yaml:"onset_db"`
	SilenceDB       float64 `yaml:"silence_db"`
	MinSpeechMS     int     `yaml:"min_speech_ms"`
	TrailingSilence int     `yaml:"trailing_silence_ms"`
	MaxSpeechMS     int     `yaml:"max_speech_ms"`
	NoiseWindow     int     `yaml:"noise_window_frames"`
	NoisePercentile float64 `yaml:"noise_percentile"`
	NoiseMarginDB   float64 `yaml:"noise_margin_db"`
	AdaptiveFloor   bool    `yaml:"adaptive_floor"`
}

type SessionConfig struct {
	MinBufferMS         int      `yaml:"min_buffer_ms"`
	MaxBufferMS         int      `yaml:"max_buffer_ms"`
	MinConfidence       float64  `yaml:"min_confidence"`
	DefaultLanguage     string   `yaml:"default_language"`
	STTTimeoutMS        int      `yaml:"stt_timeout_ms"`
	DialogueTimeoutMS   int      `yaml:"dialogue_timeout_ms"`
	TTSTimeoutMS        int      `yaml:"tts_timeout_ms"`
	IdentityTimeoutMS   int      `yaml:"identity_timeout_ms"`
	NotifyTimeoutMS     int      `yaml:"notify_timeout_ms"`
	MaxFailures         int      `yaml:"max_consecutive_failures"`
	IdleTimeoutMS       int      `yaml:"idle_timeout_ms"`
	Greeting            bool     `yaml:"greeting"`
	GreetingText        string   `yaml:"greeting_text"`
	FarewellText        string   `yaml:"farewell_text"`
	HandoffPhrases      []string `yaml:"handoff_phrases"`
	InboundFramesPerSec int      `yaml:"inbound_frames_per_sec"`
	InboundBurst        int      `yaml:"inbound_burst"`
	WriteTimeoutMS      int      `yaml:"write_timeout_ms"`
	PingIntervalMS      int      `yaml:"ping_interval_ms"`
	MaxMessageBytes     int64    `yaml:"max_message_bytes"`
}

type STTConfig struct {
	Mode      string   `yaml:"mode"` // mock, exec, deepgram
	Command   string   `yaml:"command"`
	ModelPath string   `yaml:"model_path"`
	Endpoint  string   `yaml:"endpoint"`
	APIKey    string   `yaml:"api_key"`
	Model     string   `yaml:"model"`
	Keywords  []string `yaml:"keywords"`
	MockText  string   `yaml:"mock_text"`
	MockConf  float64  `yaml:"mock_confidence"`
}

type DialogueConfig struct {
	Mode        string  `yaml:"mode"` // mock, rasa, ollama, exec
	Endpoint    string  `yaml:"endpoint"`
	Command     string  `yaml:"command"`
	Model       string  `yaml:"model"`
	System      string  `yaml:"system_prompt"`
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float64 `yaml:"temperature"`
	Channel     string  `yaml:"channel"`
}

type TTSConfig struct {
	Mode       string `yaml:"mode"` // mock, exec, deepgram
	Command    string `yaml:"command"`
	Endpoint   string `yaml:"endpoint"`
	APIKey     string `yaml:"api_key"`
	VoiceHindi string `yaml:"voice_hi"`
	VoiceEn    string `yaml:"voice_en"`
	SampleRate int    `yaml:"sample_rate"`
	Channels   int    `yaml:"channels"`
}

type IdentityConfig struct {
	Mode     string `yaml:"mode"` // none, http
	Endpoint string `yaml:"endpoint"`
	APIKey   string `yaml:"api_key"`
}

type EscalationConfig struct {
	Mode        string `yaml:"mode"` // log, bus, twilio
	AgentNumber string `yaml:"agent_number"`
	Subject     string `yaml:"subject"`
}

type NormalizerConfig struct {
	CorrectionsPath string `yaml:"corrections_path"`
	DomainRewrite   bool   `yaml:"domain_rewrite"`
}

func Default() Config {
	return Config{
		RuntimeName: "loqa-callbot",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 8080,
		},
		Telemetry: TelemetryConfig{
			LogLevel:     "info",
			OTLPEndpoint: "",
			OTLPInsecure: true,
		},
		Bus: BusConfig{
			Enabled:        true,
			Embedded:       true,
			Port:           4222,
			StoreDir:       "./data/nats",
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
			SubjectPrefix:  "callbot",
		},
		Node: NodeConfig{
			ID:                "callbot-node-1",
			Role:              "callbot",
			HeartbeatInterval: 2000,
			HeartbeatTimeout:  6000,
			MaxCalls:          50,
		},
		EventStore: EventStoreConfig{
			Path:          "./data/callbot-events.db",
			RetentionMode: "session",
			RetentionDays: 30,
			MaxSessions:   10000,
		},
		Telephony: TelephonyConfig{
			Provider:    "twilio",
			StreamPath:  "/twilio/stream",
			VoicePath:   "/twilio/voice",
			APIBaseURL:  "https://api.twilio.com/2010-04-01",
			CountryCode: "91",
		},
		Audio: AudioConfig{
			TelephonyRate:  8000,
			RecognizerRate: 16000,
			FrameMS:        20,
			BandLowHz:      100,
			BandHighHz:     3400,
			NoiseSuppress:  false,
			TrimSilenceDB:  -50,
			FilterTaps:     31,
		},
		VAD: VADConfig{
			OnsetDB:         -35,
			SilenceDB:       -45,
			MinSpeechMS:     250,
			TrailingSilence: 500,
			MaxSpeechMS:     15000,
			NoiseWindow:     50,
			NoisePercentile: 0.2,
			NoiseMarginDB:   10,
			AdaptiveFloor:   true,
		},
		Session: SessionConfig{
			MinBufferMS:         3000,
			MaxBufferMS:         15000,
			MinConfidence:       0.4,
			DefaultLanguage:     "hi-en",
			STTTimeoutMS:        8000,
			DialogueTimeoutMS:   8000,
			TTSTimeoutMS:        8000,
			IdentityTimeoutMS:   2000,
			NotifyTimeoutMS:     2000,
			MaxFailures:         3,
			IdleTimeoutMS:       120000,
			Greeting:            true,
			GreetingText:        "Namaste{name}! Battery Smart mein aapka swagat hai. Main aapki kaise madad kar sakti hoon?",
			FarewellText:        "Dhanyavaad! Battery Smart ko choose karne ke liye shukriya.",
			HandoffPhrases:      []string{"agent se connect", "transfer"},
			InboundFramesPerSec: 100,
			InboundBurst:        200,
			WriteTimeoutMS:      5000,
			PingIntervalMS:      20000,
			MaxMessageBytes:     64 << 10,
		},
		STT: STTConfig{
			Mode:     "mock",
			Endpoint: "https://api.deepgram.com",
			Model:    "nova-2",
			Keywords: []string{
				"Battery Smart", "battery swap", "swap station", "charging station",
				"subscription", "monthly plan", "nearest station",
				"kahan hai", "batao", "dikhao", "chahiye", "kitna", "kitni",
				"namaste", "dhanyawad",
			},
			MockText: "battery swap station kahan hai",
			MockConf: 0.9,
		},
		Dialogue: DialogueConfig{
			Mode:        "mock",
			Endpoint:    "http://localhost:5005",
			Model:       "llama3.2:latest",
			MaxTokens:   128,
			Temperature: 0.3,
			Channel:     "voice",
		},
		TTS: TTSConfig{
			Mode:       "mock",
			Endpoint:   "https://api.deepgram.com",
			VoiceHindi: "hi-IN-Wavenet-A",
			VoiceEn:    "aura-asteria-en",
			SampleRate: 16000,
			Channels:   1,
		},
		Identity: IdentityConfig{
			Mode: "none",
		},
		Escalation: EscalationConfig{
			Mode:    "log",
			Subject: "call.handoff",
		},
		Normalizer: NormalizerConfig{
			DomainRewrite: true,
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.RuntimeName, "LOQA_RUNTIME_NAME")
	overrideString(&cfg.Environment, "LOQA_RUNTIME_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "LOQA_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "LOQA_HTTP_PORT")
	overrideString(&cfg.HTTP.AdminToken, "LOQA_HTTP_ADMIN_TOKEN")
	overrideString(&cfg.Telemetry.LogLevel, "LOQA_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "LOQA_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "LOQA_TELEMETRY_OTLP_INSECURE")
	overrideBool(&cfg.Telemetry.StdoutTraces, "LOQA_TELEMETRY_STDOUT_TRACES")
	overrideBool(&cfg.Bus.Enabled, "LOQA_BUS_ENABLED")
	overrideBool(&cfg.Bus.Embedded, "LOQA_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "LOQA_BUS_PORT")
	overrideString(&cfg.Bus.StoreDir, "LOQA_BUS_STORE_DIR")
	overrideStringSlice(&cfg.Bus.Servers, "LOQA_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "LOQA_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "LOQA_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "LOQA_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "LOQA_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "LOQA_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.Bus.SubjectPrefix, "LOQA_BUS_SUBJECT_PREFIX")
	overrideString(&cfg.Node.ID, "LOQA_NODE_ID")
	overrideString(&cfg.Node.Role, "LOQA_NODE_ROLE")
	overrideInt(&cfg.Node.HeartbeatInterval, "LOQA_NODE_HEARTBEAT_INTERVAL_MS")
	overrideInt(&cfg.Node.HeartbeatTimeout, "LOQA_NODE_HEARTBEAT_TIMEOUT_MS")
	overrideInt(&cfg.Node.MaxCalls, "LOQA_NODE_MAX_CALLS")
	overrideString(&cfg.EventStore.Path, "LOQA_EVENT_STORE_PATH")
	overrideString(&cfg.EventStore.RetentionMode, "LOQA_EVENT_STORE_RETENTION_MODE")
	overrideInt(&cfg.EventStore.RetentionDays, "LOQA_EVENT_STORE_RETENTION_DAYS")
	overrideInt(&cfg.EventStore.MaxSessions, "LOQA_EVENT_STORE_MAX_SESSIONS")
	overrideBool(&cfg.EventStore.VacuumOnStart, "LOQA_EVENT_STORE_VACUUM_ON_START")
	overrideString(&cfg.Telephony.Provider, "LOQA_TELEPHONY_PROVIDER")
	overrideString(&cfg.Telephony.AccountSID, "LOQA_TELEPHONY_ACCOUNT_SID")
	overrideString(&cfg.Telephony.AuthToken, "LOQA_TELEPHONY_AUTH_TOKEN")
	overrideString(&cfg.Telephony.FromNumber, "LOQA_TELEPHONY_FROM_NUMBER")
	overrideString(&cfg.Telephony.PublicURL, "LOQA_TELEPHONY_PUBLIC_URL")
	overrideString(&cfg.Telephony.StreamPath, "LOQA_TELEPHONY_STREAM_PATH")
	overrideString(&cfg.Telephony.VoicePath, "LOQA_TELEPHONY_VOICE_PATH")
	overrideBool(&cfg.Telephony.VerifySignatures, "LOQA_TELEPHONY_VERIFY_SIGNATURES")
	overrideString(&cfg.Telephony.APIBaseURL, "LOQA_TELEPHONY_API_BASE_URL")
	overrideString(&cfg.Telephony.CountryCode, "LOQA_TELEPHONY_COUNTRY_CODE")
	overrideBool(&cfg.Audio.NoiseSuppress, "LOQA_AUDIO_NOISE_SUPPRESSION")
	overrideFloat(&cfg.Audio.BandLowHz, "LOQA_AUDIO_BAND_LOW_HZ")
	overrideFloat(&cfg.Audio.BandHighHz, "LOQA_AUDIO_BAND_HIGH_HZ")
	overrideFloat(&cfg.Audio.TrimSilenceDB, "LOQA_AUDIO_TRIM_SILENCE_DB")
	overrideFloat(&cfg.VAD.OnsetDB, "LOQA_VAD_ONSET_DB")
	overrideFloat(&cfg.VAD.SilenceDB, "LOQA_VAD_SILENCE_DB")
	overrideInt(&cfg.VAD.MinSpeechMS, "LOQA_VAD_MIN_SPEECH_MS")
	overrideInt(&cfg.VAD.TrailingSilence, "LOQA_VAD_TRAILING_SILENCE_MS")
	overrideInt(&cfg.VAD.MaxSpeechMS, "LOQA_VAD_MAX_SPEECH_MS")
	overrideBool(&cfg.VAD.AdaptiveFloor, "LOQA_VAD_ADAPTIVE_FLOOR")
	overrideInt(&cfg.Session.MinBufferMS, "LOQA_SESSION_MIN_BUFFER_MS")
	overrideInt(&cfg.Session.MaxBufferMS, "LOQA_SESSION_MAX_BUFFER_MS")
	overrideFloat(&cfg.Session.MinConfidence, "LOQA_SESSION_MIN_CONFIDENCE")
	overrideString(&cfg.Session.DefaultLanguage, "LOQA_SESSION_DEFAULT_LANGUAGE")
	overrideInt(&cfg.Session.STTTimeoutMS, "LOQA_SESSION_STT_TIMEOUT_MS")
	overrideInt(&cfg.Session.DialogueTimeoutMS, "LOQA_SESSION_DIALOGUE_TIMEOUT_MS")
	overrideInt(&cfg.Session.TTSTimeoutMS, "LOQA_SESSION_TTS_TIMEOUT_MS")
	overrideInt(&cfg.Session.MaxFailures, "LOQA_SESSION_MAX_CONSECUTIVE_FAILURES")
	overrideInt(&cfg.Session.IdleTimeoutMS, "LOQA_SESSION_IDLE_TIMEOUT_MS")
	overrideBool(&cfg.Session.Greeting, "LOQA_SESSION_GREETING")
	overrideStringSlice(&cfg.Session.HandoffPhrases, "LOQA_SESSION_HANDOFF_PHRASES")
	overrideInt(&cfg.Session.InboundFramesPerSec, "LOQA_SESSION_INBOUND_FRAMES_PER_SEC")
	overrideString(&cfg.STT.Mode, "LOQA_STT_MODE")
	overrideString(&cfg.STT.Command, "LOQA_STT_COMMAND")
	overrideString(&cfg.STT.ModelPath, "LOQA_STT_MODEL_PATH")
	overrideString(&cfg.STT.Endpoint, "LOQA_STT_ENDPOINT")
	overrideString(&cfg.STT.APIKey, "LOQA_STT_API_KEY")
	overrideString(&cfg.STT.Model, "LOQA_STT_MODEL")
	overrideStringSlice(&cfg.STT.Keywords, "LOQA_STT_KEYWORDS")
	overrideString(&cfg.Dialogue.Mode, "LOQA_DIALOGUE_MODE")
	overrideString(&cfg.Dialogue.Endpoint, "LOQA_DIALOGUE_ENDPOINT")
	overrideString(&cfg.Dialogue.Command, "LOQA_DIALOGUE_COMMAND")
	overrideString(&cfg.Dialogue.Model, "LOQA_DIALOGUE_MODEL")
	overrideInt(&cfg.Dialogue.MaxTokens, "LOQA_DIALOGUE_MAX_TOKENS")
	overrideFloat(&cfg.Dialogue.Temperature, "LOQA_DIALOGUE_TEMPERATURE")
	overrideString(&cfg.TTS.Mode, "LOQA_TTS_MODE")
	overrideString(&cfg.TTS.Command, "LOQA_TTS_COMMAND")
	overrideString(&cfg.TTS.Endpoint, "LOQA_TTS_ENDPOINT")
	overrideString(&cfg.TTS.APIKey, "LOQA_TTS_API_KEY")
	overrideString(&cfg.TTS.VoiceHindi, "LOQA_TTS_VOICE_HI")
	overrideString(&cfg.TTS.VoiceEn, "LOQA_TTS_VOICE_EN")
	overrideInt(&cfg.TTS.SampleRate, "LOQA_TTS_SAMPLE_RATE")
	overrideString(&cfg.Identity.Mode, "LOQA_IDENTITY_MODE")
	overrideString(&cfg.Identity.Endpoint, "LOQA_IDENTITY_ENDPOINT")
	overrideString(&cfg.Identity.APIKey, "LOQA_IDENTITY_API_KEY")
	overrideString(&cfg.Escalation.Mode, "LOQA_ESCALATION_MODE")
	overrideString(&cfg.Escalation.AgentNumber, "LOQA_ESCALATION_AGENT_NUMBER")
	overrideString(&cfg.Escalation.Subject, "LOQA_ESCALATION_SUBJECT")
	overrideString(&cfg.Normalizer.CorrectionsPath, "LOQA_NORMALIZER_CORRECTIONS_PATH")
	overrideBool(&cfg.Normalizer.DomainRewrite, "LOQA_NORMALIZER_DOMAIN_REWRITE")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func overrideFloat(target *float64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			*target = parsed
		}
	}
}

func validate(cfg Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.Bus.Enabled {
		if cfg.Bus.Embedded {
			if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
				return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
			}
		} else if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	if cfg.Node.ID == "" {
		return errors.New("node.id must not be empty")
	}
	if cfg.Node.HeartbeatInterval <= 0 {
		return errors.New("node.heartbeat_interval_ms must be positive")
	}
	if cfg.Node.HeartbeatTimeout <= cfg.Node.HeartbeatInterval {
		return errors.New("node.heartbeat_timeout_ms must be greater than heartbeat interval")
	}
	if cfg.EventStore.Path == "" && cfg.EventStore.RetentionMode != "ephemeral" {
		return errors.New("event_store.path must not be empty")
	}
	switch cfg.EventStore.RetentionMode {
	case "ephemeral", "session", "persistent":
	default:
		return errors.New("event_store.retention_mode must be one of ephemeral|session|persistent")
	}
	if cfg.EventStore.RetentionDays < 0 {
		return errors.New("event_store.retention_days must be >= 0")
	}
	if err := validateTelephony(cfg); err != nil {
		return err
	}
	if err := validateAudio(cfg); err != nil {
		return err
	}
	if err := validateSession(cfg.Session); err != nil {
		return err
	}
	switch cfg.STT.Mode {
	case "mock":
	case "exec":
		if cfg.STT.Command == "" {
			return errors.New("stt.command must be set when mode=exec")
		}
	case "deepgram":
		if cfg.STT.APIKey == "" {
			return errors.New("stt.api_key must be set when mode=deepgram")
		}
		if cfg.STT.Endpoint == "" {
			return errors.New("stt.endpoint must be set when mode=deepgram")
		}
	default:
		return errors.New("stt.mode must be one of mock|exec|deepgram")
	}
	switch cfg.Dialogue.Mode {
	case "mock":
	case "rasa", "ollama":
		if cfg.Dialogue.Endpoint == "" {
			return fmt.Errorf("dialogue.endpoint must be set when mode=%s", cfg.Dialogue.Mode)
		}
	case "exec":
		if cfg.Dialogue.Command == "" {
			return errors.New("dialogue.command must be set when mode=exec")
		}
	default:
		return errors.New("dialogue.mode must be one of mock|rasa|ollama|exec")
	}
	if cfg.Dialogue.MaxTokens < 0 {
		return errors.New("dialogue.max_tokens must be >= 0")
	}
	switch cfg.TTS.Mode {
	case "mock":
	case "exec":
		if cfg.TTS.Command == "" {
			return errors.New("tts.command must be set when mode=exec")
		}
	case "deepgram":
		if cfg.TTS.APIKey == "" || cfg.TTS.Endpoint == "" {
			return errors.New("tts.api_key and tts.endpoint must be set when mode=deepgram")
		}
	default:
		return errors.New("tts.mode must be one of mock|exec|deepgram")
	}
	if cfg.TTS.SampleRate <= 0 {
		return errors.New("tts.sample_rate must be positive")
	}
	if cfg.TTS.Channels != 1 {
		return errors.New("tts.channels must be 1")
	}
	switch cfg.Identity.Mode {
	case "none":
	case "http":
		if cfg.Identity.Endpoint == "" {
			return errors.New("identity.endpoint must be set when mode=http")
		}
	default:
		return errors.New("identity.mode must be one of none|http")
	}
	switch cfg.Escalation.Mode {
	case "log":
	case "bus":
		if !cfg.Bus.Enabled {
			return errors.New("escalation.mode=bus requires bus.enabled")
		}
		if cfg.Escalation.Subject == "" {
			return errors.New("escalation.subject must be set when mode=bus")
		}
	case "twilio":
		if cfg.Escalation.AgentNumber == "" {
			return errors.New("escalation.agent_number must be set when mode=twilio")
		}
		if cfg.Telephony.AccountSID == "" || cfg.Telephony.AuthToken == "" {
			return errors.New("escalation.mode=twilio requires telephony credentials")
		}
	default:
		return errors.New("escalation.mode must be one of log|bus|twilio")
	}
	return nil
}

func validateTelephony(cfg Config) error {
	t := cfg.Telephony
	if t.Provider != "twilio" {
		return errors.New("telephony.provider must be twilio")
	}
	if !strings.HasPrefix(t.StreamPath, "/") || !strings.HasPrefix(t.VoicePath, "/") {
		return errors.New("telephony.stream_path and telephony.voice_path must start with /")
	}
	if t.VerifySignatures && t.AuthToken == "" {
		return errors.New("telephony.auth_token must be set when verify_signatures is enabled")
	}
	if (t.AccountSID == "") != (t.AuthToken == "") {
		return errors.New("telephony.account_sid and telephony.auth_token must be set together")
	}
	return nil
}

func validateAudio(cfg Config) error {
	a := cfg.Audio
	if a.TelephonyRate != 8000 {
		return errors.New("audio.telephony_sample_rate must be 8000")
	}
	if a.RecognizerRate != 2*a.TelephonyRate {
		return errors.New("audio.recognizer_sample_rate must be twice the telephony rate")
	}
	if a.FrameMS <= 0 {
		return errors.New("audio.frame_ms must be positive")
	}
	if a.BandLowHz <= 0 || a.BandHighHz <= a.BandLowHz || a.BandHighHz >= float64(a.TelephonyRate)/2 {
		return errors.New("audio band must satisfy 0 < band_low_hz < band_high_hz < nyquist")
	}
	if a.TrimSilenceDB > 0 {
		return errors.New("audio.trim_silence_db must be a dBFS level at or below 0")
	}
	if a.FilterTaps < 3 || a.FilterTaps%2 == 0 {
		return errors.New("audio.resampler_taps must be an odd number >= 3")
	}
	v := cfg.VAD
	if v.SilenceDB >= v.OnsetDB {
		return errors.New("vad.silence_db must be lower than vad.onset_db")
	}
	if v.MinSpeechMS <= 0 || v.TrailingSilence <= 0 || v.MaxSpeechMS <= v.MinSpeechMS {
		return errors.New("vad timings must be positive and max_speech_ms > min_speech_ms")
	}
	if v.NoisePercentile < 0 || v.NoisePercentile > 1 {
		return errors.New("vad.noise_percentile must be within [0,1]")
	}
	return nil
}

func validateSession(s SessionConfig) error {
	if s.MinBufferMS <= 0 || s.MaxBufferMS < s.MinBufferMS {
		return errors.New("session buffer bounds must satisfy 0 < min_buffer_ms <= max_buffer_ms")
	}
	if s.MinConfidence < 0 || s.MinConfidence > 1 {
		return errors.New("session.min_confidence must be within [0,1]")
	}
	switch s.DefaultLanguage {
	case "hi", "en", "hi-en":
	default:
		return errors.New("session.default_language must be one of hi|en|hi-en")
	}
	if s.STTTimeoutMS <= 0 || s.DialogueTimeoutMS <= 0 || s.TTSTimeoutMS <= 0 {
		return errors.New("session collaborator timeouts must be positive")
	}
	if s.MaxFailures <= 0 {
		return errors.New("session.max_consecutive_failures must be >= 1")
	}
	return nil
}
