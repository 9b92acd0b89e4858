// Package config loads transcriber configuration from defaults, an optional
// YAML file and the environment.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"speech-batch-transcriber/internal/models"
)

const (
	DefaultBucket       = "gcs-tool"
	DefaultLanguageCode = "en-US"
	DefaultPollInterval = 5 * time.Second

	ProviderGoogle = "google"
	ProviderGCS    = "gcs"
	ProviderMock   = "mock"
)

// Configuration is the full set of settings for one transcription run.
type Configuration struct {
	AudioPath     string              `yaml:"audioPath"`
	Service       ServiceConfig       `yaml:"service"`
	Google        GoogleConfig        `yaml:"google"`
	Speech        SpeechConfig        `yaml:"speech"`
	Storage       StorageConfig       `yaml:"storage"`
	Output        OutputConfig        `yaml:"output"`
	Kafka         KafkaConfig         `yaml:"kafka"`
	Observability ObservabilityConfig `yaml:"observability"`
}

type ServiceConfig struct {
	Principal string `yaml:"principal"`
}

type GoogleConfig struct {
	CredentialsPath string `yaml:"credentialsPath"`
	ProjectID       string `yaml:"projectId"`
}

type SpeechConfig struct {
	Provider     string        `yaml:"provider"`
	LanguageCode string        `yaml:"languageCode"`
	Diarization  bool          `yaml:"diarization"`
	Punctuation  bool          `yaml:"punctuation"`
	MinSpeakers  int           `yaml:"minSpeakers"`
	MaxSpeakers  int           `yaml:"maxSpeakers"`
	Model        string        `yaml:"model"`
	PollInterval time.Duration `yaml:"pollInterval"`
}

type StorageConfig struct {
	Provider string `yaml:"provider"`
	Bucket   string `yaml:"bucket"`
	Location string `yaml:"location"`

	// Direct submits audio inline and skips staging entirely.
	Direct bool `yaml:"direct"`
}

type OutputConfig struct {
	// Dir defaults to the directory of the audio file.
	Dir  string `yaml:"dir"`
	JSON bool   `yaml:"json"`
	Text bool   `yaml:"text"`
}

type KafkaConfig struct {
	Enabled       bool     `yaml:"enabled"`
	Brokers       []string `yaml:"brokers"`
	TopicProgress string   `yaml:"topicProgress"`
	TopicResult   string   `yaml:"topicResult"`
	Principal     string   `yaml:"principal"`
}

type ObservabilityConfig struct {
	LogLevel       string `yaml:"logLevel"`
	LogFormat      string `yaml:"logFormat"`
	AuditLogDir    string `yaml:"auditLogDir"`
	MetricsAddr    string `yaml:"metricsAddr"`
	PushgatewayURL string `yaml:"pushgatewayUrl"`
}

// Defaults returns the built-in configuration.
func Defaults() *Configuration {
	return &Configuration{
		Service: ServiceConfig{Principal: "svc-speech-batch-transcriber"},
		Speech: SpeechConfig{
			Provider:     ProviderGoogle,
			LanguageCode: DefaultLanguageCode,
			Diarization:  true,
			Punctuation:  true,
			PollInterval: DefaultPollInterval,
		},
		Storage: StorageConfig{
			Provider: ProviderGCS,
			Bucket:   DefaultBucket,
		},
		Output: OutputConfig{JSON: true, Text: true},
		Kafka: KafkaConfig{
			TopicProgress: "transcription.progress",
			TopicResult:   "transcription.result",
		},
		Observability: ObservabilityConfig{
			LogLevel:  "info",
			LogFormat: "console",
		},
	}
}

// Load returns the defaults overlaid with the environment.
func Load() *Configuration {
	cfg := Defaults()
	cfg.applyEnv()
	return cfg
}

// LoadFile overlays the YAML document at path on the defaults, then applies
// the environment. Unknown keys are rejected.
func LoadFile(path string) (*Configuration, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, models.NewError(models.KindConfiguration, "read config file", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, models.NewError(models.KindConfiguration, "parse config file "+path, err)
	}

	cfg.applyEnv()
	return cfg, nil
}

func (c *Configuration) applyEnv() {
	c.Service.Principal = envOrDefault("SERVICE_PRINCIPAL", c.Service.Principal)

	c.Google.CredentialsPath = envOrDefault("GOOGLE_APPLICATION_CREDENTIALS", c.Google.CredentialsPath)
	c.Google.ProjectID = envOrDefault("GOOGLE_CLOUD_PROJECT", c.Google.ProjectID)

	c.Speech.Provider = envOrDefault("SPEECH_PROVIDER", c.Speech.Provider)
	c.Speech.LanguageCode = envOrDefault("SPEECH_LANGUAGE_CODE", c.Speech.LanguageCode)
	c.Speech.Diarization = envOrDefaultBool("SPEECH_DIARIZATION", c.Speech.Diarization)
	c.Speech.Punctuation = envOrDefaultBool("SPEECH_PUNCTUATION", c.Speech.Punctuation)
	c.Speech.MinSpeakers = envOrDefaultInt("SPEECH_MIN_SPEAKERS", c.Speech.MinSpeakers)
	c.Speech.MaxSpeakers = envOrDefaultInt("SPEECH_MAX_SPEAKERS", c.Speech.MaxSpeakers)
	c.Speech.Model = envOrDefault("SPEECH_MODEL", c.Speech.Model)
	c.Speech.PollInterval = envOrDefaultDuration("SPEECH_POLL_INTERVAL", c.Speech.PollInterval)

	c.Storage.Provider = envOrDefault("STORAGE_PROVIDER", c.Storage.Provider)
	c.Storage.Bucket = envOrDefault("TRANSCRIBE_BUCKET", c.Storage.Bucket)
	c.Storage.Location = envOrDefault("TRANSCRIBE_BUCKET_LOCATION", c.Storage.Location)
	c.Storage.Direct = envOrDefaultBool("TRANSCRIBE_DIRECT", c.Storage.Direct)

	c.Output.Dir = envOrDefault("OUTPUT_DIR", c.Output.Dir)
	c.Output.JSON = envOrDefaultBool("OUTPUT_JSON", c.Output.JSON)
	c.Output.Text = envOrDefaultBool("OUTPUT_TEXT", c.Output.Text)

	c.Kafka.Enabled = envOrDefaultBool("KAFKA_ENABLED", c.Kafka.Enabled)
	c.Kafka.Brokers = envOrDefaultList("KAFKA_BROKERS", c.Kafka.Brokers)
	c.Kafka.TopicProgress = envOrDefault("KAFKA_TOPIC_PROGRESS", c.Kafka.TopicProgress)
	c.Kafka.TopicResult = envOrDefault("KAFKA_TOPIC_RESULT", c.Kafka.TopicResult)
	// Kafka principal falls back to the service principal
	c.Kafka.Principal = envOrDefault("KAFKA_PRINCIPAL", c.Kafka.Principal)
	if c.Kafka.Principal == "" {
		c.Kafka.Principal = c.Service.Principal
	}

	c.Observability.LogLevel = envOrDefault("LOG_LEVEL", c.Observability.LogLevel)
	c.Observability.LogFormat = envOrDefault("LOG_FORMAT", c.Observability.LogFormat)
	c.Observability.AuditLogDir = envOrDefault("AUDIT_LOG_DIR", c.Observability.AuditLogDir)
	c.Observability.MetricsAddr = envOrDefault("METRICS_ADDR", c.Observability.MetricsAddr)
	c.Observability.PushgatewayURL = envOrDefault("PUSHGATEWAY_URL", c.Observability.PushgatewayURL)
}

// Validate reports every problem found, joined into a single configuration error.
func (c *Configuration) Validate() error {
	var errs []error

	if c.AudioPath == "" {
		errs = append(errs, errors.New("audio path is required"))
	}
	if c.Speech.LanguageCode == "" {
		errs = append(errs, errors.New("language code is required"))
	}
	if !c.Storage.Direct && c.Storage.Bucket == "" {
		errs = append(errs, errors.New("bucket is required unless direct submission is enabled"))
	}

	switch c.Speech.Provider {
	case ProviderGoogle, ProviderMock:
	default:
		errs = append(errs, fmt.Errorf("unknown speech provider %q", c.Speech.Provider))
	}
	switch c.Storage.Provider {
	case ProviderGCS, ProviderMock:
	default:
		errs = append(errs, fmt.Errorf("unknown storage provider %q", c.Storage.Provider))
	}

	if c.needsCredentials() && c.Google.CredentialsPath != "" {
		if err := checkReadable(c.Google.CredentialsPath); err != nil {
			errs = append(errs, fmt.Errorf("credentials: %w", err))
		}
	}

	if c.Speech.MinSpeakers < 0 || c.Speech.MaxSpeakers < 0 {
		errs = append(errs, errors.New("speaker counts must not be negative"))
	}
	if c.Speech.MinSpeakers > 0 && c.Speech.MaxSpeakers > 0 && c.Speech.MinSpeakers > c.Speech.MaxSpeakers {
		errs = append(errs, fmt.Errorf("min speakers %d exceeds max speakers %d", c.Speech.MinSpeakers, c.Speech.MaxSpeakers))
	}
	if c.Speech.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("poll interval must be positive, got %s", c.Speech.PollInterval))
	}

	if !c.Output.JSON && !c.Output.Text {
		errs = append(errs, errors.New("no output selected: enable json or text output"))
	}

	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		errs = append(errs, errors.New("kafka enabled without brokers"))
	}
	switch c.Observability.LogFormat {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("unknown log format %q", c.Observability.LogFormat))
	}

	if len(errs) == 0 {
		return nil
	}
	return models.NewError(models.KindConfiguration, "validate config", errors.Join(errs...))
}

func (c *Configuration) needsCredentials() bool {
	return c.Speech.Provider == ProviderGoogle || (c.Storage.Provider == ProviderGCS && !c.Storage.Direct)
}

func checkReadable(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("%s is not a regular file", path)
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
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func envOrDefaultBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func envOrDefaultDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func envOrDefaultList(key string, def []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
