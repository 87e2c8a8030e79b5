// Package config loads service configuration from defaults, an optional YAML
// file (CONFIG_FILE) and environment variables, in increasing precedence.
// Values that fail to parse fall back to their defaults.
package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Service       ServiceConfig
	STT           STTConfig
	Audio         AudioConfig
	Dispatch      DispatchConfig
	Poll          PollConfig
	Evaluator     EvaluatorConfig
	Kafka         KafkaConfig
	Competencies  CompetencyConfig
	Observability ObservabilityConfig
}

type ServiceConfig struct {
	Name      string
	Principal string
	HTTPPort  string
	GRPCPort  string
}

type STTConfig struct {
	Provider       string // mock, google, soniox
	LanguageCode   string
	SampleRateHz   int32
	AudioEncoding  string
	InterimResults bool
	MinSpeakers    int
	MaxSpeakers    int

	SonioxURL     string
	SonioxAPIKey  string
	SonioxModel   string
	LanguageHints []string
	Terms         []string
}

type AudioConfig struct {
	MaxAudioBytes int64
	MaxDuration   time.Duration
	MaxFrameBytes int
}

type DispatchConfig struct {
	Interval      time.Duration
	Cooldown      time.Duration
	Timeout       time.Duration
	SkipUnchanged bool
}

type PollConfig struct {
	Interval time.Duration
	MaxPages int
	PageSize int // local result store only
}

// EvaluatorConfig points at the external scoring service. An empty BaseURL runs
// the in-process loopback evaluator and result store.
type EvaluatorConfig struct {
	BaseURL         string
	DispatchPath    string
	EvaluationsPath string
	Timeout         time.Duration
}

type KafkaConfig struct {
	Enabled        bool
	Brokers        []string
	TopicVersions  string
	TopicSummaries string
	Principal      string
}

type CompetencyConfig struct {
	File string // YAML catalog; empty uses the built-in catalog
}

type ObservabilityConfig struct {
	LogLevel    string
	LogFormat   string // json or console
	MetricsPort string
}

// setting binds a config key to its environment variable and default.
type setting struct {
	key string
	env string
	def any
}

var settings = []setting{
	{"service.name", "SERVICE_NAME", "case-study-live-eval"},
	{"service.principal", "SERVICE_PRINCIPAL", "svc-case-study-eval"},
	{"service.http_port", "HTTP_PORT", "8080"},
	{"service.grpc_port", "GRPC_PORT", "50051"},

	{"stt.provider", "STT_PROVIDER", "mock"},
	{"stt.language_code", "STT_LANGUAGE_CODE", "vi-VN"},
	{"stt.sample_rate_hz", "STT_SAMPLE_RATE_HZ", 16000},
	{"stt.audio_encoding", "STT_AUDIO_ENCODING", "LINEAR16"},
	{"stt.interim_results", "STT_INTERIM_RESULTS", false},
	{"stt.min_speakers", "STT_MIN_SPEAKERS", 2},
	{"stt.max_speakers", "STT_MAX_SPEAKERS", 6},
	{"stt.soniox_url", "SONIOX_URL", "wss://stt-rt.soniox.com/transcribe-websocket"},
	{"stt.soniox_api_key", "SONIOX_API_KEY", ""},
	{"stt.soniox_model", "SONIOX_MODEL", "stt-rt-v3"},
	{"stt.language_hints", "STT_LANGUAGE_HINTS", "vi,en"},
	{"stt.terms", "STT_TERMS", ""},

	{"audio.max_audio_bytes", "AUDIO_MAX_BYTES", 512 * 1024 * 1024},
	{"audio.max_duration", "AUDIO_MAX_DURATION", "150m"},
	{"audio.max_frame_bytes", "AUDIO_MAX_FRAME_BYTES", 1024 * 1024},

	{"dispatch.interval", "DISPATCH_INTERVAL", "60s"},
	{"dispatch.cooldown", "DISPATCH_COOLDOWN", "0s"},
	{"dispatch.timeout", "DISPATCH_TIMEOUT", "30s"},
	{"dispatch.skip_unchanged", "DISPATCH_SKIP_UNCHANGED", false},

	{"poll.interval", "POLL_INTERVAL", "10s"},
	{"poll.max_pages", "POLL_MAX_PAGES", 10},
	{"poll.page_size", "POLL_PAGE_SIZE", 100},

	{"evaluator.base_url", "EVALUATOR_BASE_URL", ""},
	{"evaluator.dispatch_path", "EVALUATOR_DISPATCH_PATH", "/api/case-study/consolidated-transcript"},
	{"evaluator.evaluations_path", "EVALUATOR_EVALUATIONS_PATH", "/api/case-study/evaluations"},
	{"evaluator.timeout", "EVALUATOR_TIMEOUT", "60s"},

	{"kafka.enabled", "KAFKA_ENABLED", false},
	{"kafka.brokers", "KAFKA_BROKERS", "localhost:9092"},
	{"kafka.topic_versions", "KAFKA_TOPIC_VERSIONS", "casestudy.transcript.versions"},
	{"kafka.topic_summaries", "KAFKA_TOPIC_SUMMARIES", "casestudy.evaluation.summaries"},
	{"kafka.principal", "KAFKA_PRINCIPAL", ""},

	{"competencies.file", "COMPETENCIES_FILE", ""},

	{"observability.log_level", "LOG_LEVEL", "info"},
	{"observability.log_format", "LOG_FORMAT", "json"},
	{"observability.metrics_port", "METRICS_PORT", "9090"},
}

func newViper() *viper.Viper {
	v := viper.New()
	for _, s := range settings {
		v.SetDefault(s.key, s.def)
		_ = v.BindEnv(s.key, s.env)
	}
	return v
}

// Load reads configuration from the environment, plus CONFIG_FILE when set.
func Load() (*Config, error) {
	v := newViper()
	_ = v.BindEnv("config_file", "CONFIG_FILE")
	if file := v.GetString("config_file"); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", file, err)
		}
	}
	return fromViper(v), nil
}

// LoadFile reads configuration from path with environment overrides.
func LoadFile(path string) (*Config, error) {
	v := newViper()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	return fromViper(v), nil
}

func fromViper(v *viper.Viper) *Config {
	principal := v.GetString("service.principal")

	cfg := &Config{
		Service: ServiceConfig{
			Name:      v.GetString("service.name"),
			Principal: principal,
			HTTPPort:  v.GetString("service.http_port"),
			GRPCPort:  v.GetString("service.grpc_port"),
		},
		STT: STTConfig{
			Provider:       strings.ToLower(v.GetString("stt.provider")),
			LanguageCode:   v.GetString("stt.language_code"),
			SampleRateHz:   int32(intOrDefault(v, "stt.sample_rate_hz")),
			AudioEncoding:  v.GetString("stt.audio_encoding"),
			InterimResults: boolOrDefault(v, "stt.interim_results"),
			MinSpeakers:    intOrDefault(v, "stt.min_speakers"),
			MaxSpeakers:    intOrDefault(v, "stt.max_speakers"),
			SonioxURL:      v.GetString("stt.soniox_url"),
			SonioxAPIKey:   v.GetString("stt.soniox_api_key"),
			SonioxModel:    v.GetString("stt.soniox_model"),
			LanguageHints:  listOf(v, "stt.language_hints"),
			Terms:          listOf(v, "stt.terms"),
		},
		Audio: AudioConfig{
			MaxAudioBytes: int64(intOrDefault(v, "audio.max_audio_bytes")),
			MaxDuration:   durationOrDefault(v, "audio.max_duration"),
			MaxFrameBytes: intOrDefault(v, "audio.max_frame_bytes"),
		},
		Dispatch: DispatchConfig{
			Interval:      durationOrDefault(v, "dispatch.interval"),
			Cooldown:      durationOrDefault(v, "dispatch.cooldown"),
			Timeout:       durationOrDefault(v, "dispatch.timeout"),
			SkipUnchanged: boolOrDefault(v, "dispatch.skip_unchanged"),
		},
		Poll: PollConfig{
			Interval: durationOrDefault(v, "poll.interval"),
			MaxPages: intOrDefault(v, "poll.max_pages"),
			PageSize: intOrDefault(v, "poll.page_size"),
		},
		Evaluator: EvaluatorConfig{
			BaseURL:         v.GetString("evaluator.base_url"),
			DispatchPath:    v.GetString("evaluator.dispatch_path"),
			EvaluationsPath: v.GetString("evaluator.evaluations_path"),
			Timeout:         durationOrDefault(v, "evaluator.timeout"),
		},
		Kafka: KafkaConfig{
			Enabled:        boolOrDefault(v, "kafka.enabled"),
			Brokers:        listOf(v, "kafka.brokers"),
			TopicVersions:  v.GetString("kafka.topic_versions"),
			TopicSummaries: v.GetString("kafka.topic_summaries"),
			Principal:      v.GetString("kafka.principal"),
		},
		Competencies: CompetencyConfig{
			File: v.GetString("competencies.file"),
		},
		Observability: ObservabilityConfig{
			LogLevel:    v.GetString("observability.log_level"),
			LogFormat:   v.GetString("observability.log_format"),
			MetricsPort: v.GetString("observability.metrics_port"),
		},
	}

	// Kafka principal falls back to the service principal
	if cfg.Kafka.Principal == "" {
		cfg.Kafka.Principal = principal
	}
	return cfg
}

func defaultOf(key string) any {
	for _, s := range settings {
		if s.key == key {
			return s.def
		}
	}
	return nil
}

func intOrDefault(v *viper.Viper, key string) int {
	def, _ := defaultOf(key).(int)
	if n, err := strconv.Atoi(strings.TrimSpace(v.GetString(key))); err == nil {
		return n
	}
	return def
}

func boolOrDefault(v *viper.Viper, key string) bool {
	def, _ := defaultOf(key).(bool)
	if b, err := strconv.ParseBool(strings.TrimSpace(v.GetString(key))); err == nil {
		return b
	}
	return def
}

func durationOrDefault(v *viper.Viper, key string) time.Duration {
	def, _ := time.ParseDuration(fmt.Sprint(defaultOf(key)))
	if d, err := time.ParseDuration(strings.TrimSpace(v.GetString(key))); err == nil {
		return d
	}
	return def
}

// listOf accepts a YAML list or a comma-separated string.
func listOf(v *viper.Viper, key string) []string {
	var raw []string
	switch val := v.Get(key).(type) {
	case []any:
		for _, item := range val {
			raw = append(raw, fmt.Sprint(item))
		}
	case []string:
		raw = val
	default:
		raw = strings.Split(v.GetString(key), ",")
	}

	out := make([]string, 0, len(raw))
	for _, s := range raw {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
