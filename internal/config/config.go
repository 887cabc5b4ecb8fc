// Package config loads client configuration from environment variables.
// Command-line flags in cmd/ override the values loaded here.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// DefaultEndpoint is the bidirectional streaming ASR endpoint.
const DefaultEndpoint = "wss://openspeech.bytedance.com/api/v3/sauc/bigmodel"

// Configuration is the full client configuration.
type Configuration struct {
	Volc          VolcConfig
	Audio         AudioConfig
	Recognition   RecognitionConfig
	Session       SessionConfig
	Kafka         KafkaConfig
	Observability ObservabilityConfig
}

// VolcConfig holds the service endpoint and credentials.
type VolcConfig struct {
	Endpoint   string
	AppKey     string
	AccessKey  string
	ResourceID string
}

// AudioConfig describes the audio file to recognize.
type AudioConfig struct {
	Path         string
	Format       string
	SampleRateHz int
	Bits         int
	Channels     int
	Codec        string
}

// RecognitionConfig holds the recognition options sent in the first frame.
type RecognitionConfig struct {
	ModelName      string
	Language       string
	EnableITN      bool
	EnablePunc     bool
	ResultType     string
	ShowUtterances bool
}

// SessionConfig bounds the streaming session.
type SessionConfig struct {
	ChunkSize      int
	ReceiveTimeout time.Duration
	WriteTimeout   time.Duration
	MaxMessageSize int64
}

// KafkaConfig configures transcript event publishing.
type KafkaConfig struct {
	Enabled      bool
	Brokers      []string
	TopicPartial string
	TopicFinal   string
	Principal    string
}

// ObservabilityConfig configures logging and metrics.
type ObservabilityConfig struct {
	LogLevel       string
	LogFormat      string
	MetricsAddr    string
	PushgatewayURL string
	PushJob        string
}

// Validation errors.
var (
	ErrMissingAppKey    = errors.New("app key is required")
	ErrMissingAccessKey = errors.New("access key is required")
	ErrMissingAudioPath = errors.New("audio file path is required")
	ErrInvalidChunkSize = errors.New("chunk size must be positive")

	ErrInvalidReceiveTimeout = errors.New("receive timeout must be positive")
)

// Load reads the configuration from the environment, falling back to defaults
// for unset or unparsable values.
func Load() *Configuration {
	principal := envOrDefault("SERVICE_PRINCIPAL", "sauc-asr-client")

	return &Configuration{
		Volc: VolcConfig{
			Endpoint:   envOrDefault("VOLC_ASR_ENDPOINT", DefaultEndpoint),
			AppKey:     os.Getenv("VOLC_APP_KEY"),
			AccessKey:  os.Getenv("VOLC_ACCESS_KEY"),
			ResourceID: envOrDefault("VOLC_RESOURCE_ID", "volc.bigasr.sauc.duration"),
		},
		Audio: AudioConfig{
			Path:         os.Getenv("AUDIO_PATH"),
			Format:       envOrDefault("AUDIO_FORMAT", "pcm"),
			SampleRateHz: envOrDefaultInt("AUDIO_SAMPLE_RATE_HZ", 16000),
			Bits:         envOrDefaultInt("AUDIO_BITS", 16),
			Channels:     envOrDefaultInt("AUDIO_CHANNELS", 1),
			Codec:        envOrDefault("AUDIO_CODEC", "raw"),
		},
		Recognition: RecognitionConfig{
			ModelName:      envOrDefault("ASR_MODEL_NAME", "bigmodel"),
			Language:       envOrDefault("ASR_LANGUAGE", "zh"),
			EnableITN:      envOrDefaultBool("ASR_ENABLE_ITN", true),
			EnablePunc:     envOrDefaultBool("ASR_ENABLE_PUNC", true),
			ResultType:     envOrDefault("ASR_RESULT_TYPE", "full"),
			ShowUtterances: envOrDefaultBool("ASR_SHOW_UTTERANCES", true),
		},
		Session: SessionConfig{
			ChunkSize:      envOrDefaultInt("SESSION_CHUNK_SIZE", 16000),
			ReceiveTimeout: envOrDefaultDuration("SESSION_RECEIVE_TIMEOUT", 10*time.Second),
			WriteTimeout:   envOrDefaultDuration("SESSION_WRITE_TIMEOUT", 10*time.Second),
			MaxMessageSize: int64(envOrDefaultInt("SESSION_MAX_MESSAGE_SIZE", 10*1024*1024)),
		},
		Kafka: KafkaConfig{
			Enabled:      envOrDefaultBool("KAFKA_ENABLED", false),
			Brokers:      splitList(os.Getenv("KAFKA_BROKERS")),
			TopicPartial: envOrDefault("KAFKA_TOPIC_PARTIAL", "asr.transcript.partial"),
			TopicFinal:   envOrDefault("KAFKA_TOPIC_FINAL", "asr.transcript.final"),
			Principal:    envOrDefault("KAFKA_PRINCIPAL", principal),
		},
		Observability: ObservabilityConfig{
			LogLevel:       envOrDefault("LOG_LEVEL", "info"),
			LogFormat:      envOrDefault("LOG_FORMAT", "console"),
			MetricsAddr:    os.Getenv("METRICS_ADDR"),
			PushgatewayURL: os.Getenv("PUSHGATEWAY_URL"),
			PushJob:        envOrDefault("PUSHGATEWAY_JOB", "sauc_asr_client"),
		},
	}
}

// Validate reports the first missing or invalid required setting.
func (c *Configuration) Validate() error {
	switch {
	case c.Volc.AppKey == "":
		return ErrMissingAppKey
	case c.Volc.AccessKey == "":
		return ErrMissingAccessKey
	case c.Audio.Path == "":
		return ErrMissingAudioPath
	case c.Session.ChunkSize <= 0:
		return ErrInvalidChunkSize
	case c.Session.ReceiveTimeout <= 0:
		return ErrInvalidReceiveTimeout
	}
	return nil
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envOrDefaultInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envOrDefaultBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envOrDefaultDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

func splitList(v string) []string {
	if v == "" {
		return nil
	}
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
