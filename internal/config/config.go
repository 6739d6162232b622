// Package config provides configuration loading for callflow.
//
// Configuration is read from a YAML file, then overridden by environment
// variables with a CALLFLOW_ prefix. Durations accept Go duration strings.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

// Config holds the complete callflow configuration.
type Config struct {
	Gateway  GatewayConfig `koanf:"gateway"`
	Call     CallConfig    `koanf:"call"`
	Server   ServerConfig  `koanf:"server"`
	Events   EventsConfig  `koanf:"events"`
	LogLevel string        `koanf:"log_level"`
}

// GatewayConfig holds the call-automation backend connection settings.
type GatewayConfig struct {
	Endpoint       string        `koanf:"endpoint"`
	AccessKey      string        `koanf:"access_key"`
	RequestTimeout time.Duration `koanf:"request_timeout"`
}

// CallConfig holds the per-call behavioral settings.
type CallConfig struct {
	// CallbackURL is where the backend delivers notifications.
	CallbackURL string `koanf:"callback_url"`
	// SourceIdentity is the platform identity placing outbound calls.
	SourceIdentity string `koanf:"source_identity"`
	// SourcePhoneNumber is presented to callees and invitees.
	SourcePhoneNumber string `koanf:"source_phone_number"`
	// AudioFileURL is the prompt played after connect.
	AudioFileURL string `koanf:"audio_file_url"`
	// ToneAudio optionally maps a collected tone to a confirmation clip.
	ToneAudio map[string]string `koanf:"tone_audio"`
	// TargetParticipant is invited after a confirming tone.
	TargetParticipant string `koanf:"target_participant"`
	// AcceptCallsFrom restricts which caller may reach the inbound flow.
	// Empty accepts every caller.
	AcceptCallsFrom string `koanf:"accept_calls_from"`
	// MaxRetryAttempts bounds additional participant-add attempts.
	MaxRetryAttempts int `koanf:"max_retry_attempts"`
	// PromptTimeout is the wait budget for prompt/collect outcomes.
	PromptTimeout time.Duration `koanf:"prompt_timeout"`
	// SettlingDelay is the mandated wait after a successful participant
	// add before the add is declared complete.
	SettlingDelay time.Duration `koanf:"settling_delay"`
	// ConnectTimeout bounds the wait for CallConnected. Zero waits
	// forever, reproducing the unguarded legacy behavior.
	ConnectTimeout time.Duration `koanf:"connect_timeout"`
	// DisconnectTimeout bounds the wait for CallDisconnected after the
	// flow finishes. Zero waits forever, matching the legacy behavior.
	DisconnectTimeout time.Duration `koanf:"disconnect_timeout"`
}

// ServerConfig holds the webhook listener settings.
type ServerConfig struct {
	ListenAddr      string        `koanf:"listen_addr"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// EventsConfig holds lifecycle event publishing settings.
type EventsConfig struct {
	// NATSURL enables the NATS publisher when set.
	NATSURL string `koanf:"nats_url"`
}

// Default returns the built-in defaults.
func Default() Config {
	return Config{
		Gateway: GatewayConfig{
			RequestTimeout: 30 * time.Second,
		},
		Call: CallConfig{
			MaxRetryAttempts: 3,
			PromptTimeout:    30 * time.Second,
			SettlingDelay:    60 * time.Second,
			ConnectTimeout:   2 * time.Minute,
		},
		Server: ServerConfig{
			ListenAddr:      "0.0.0.0:8080",
			ShutdownTimeout: 10 * time.Second,
		},
		LogLevel: "info",
	}
}

// Load reads configuration from path (optional) and CALLFLOW_* environment
// variables. Precedence, highest first: environment, file, defaults.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	cfg := Default()

	if path != "" {
		content, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	// CALLFLOW_CALL_PROMPT_TIMEOUT -> call.prompt_timeout
	err := k.Load(env.Provider("CALLFLOW_", ".", func(s string) string {
		s = strings.TrimPrefix(s, "CALLFLOW_")
		s = strings.ToLower(s)
		for _, section := range []string{"gateway_", "call_", "server_", "events_"} {
			if strings.HasPrefix(s, section) {
				return strings.TrimSuffix(section, "_") + "." + strings.TrimPrefix(s, section)
			}
		}
		return s
	}), nil)
	if err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the fields every mode relies on.
func (c *Config) Validate() error {
	if c.Gateway.Endpoint == "" {
		return fmt.Errorf("gateway.endpoint is required")
	}
	if c.Gateway.AccessKey == "" {
		return fmt.Errorf("gateway.access_key is required")
	}
	if c.Call.CallbackURL == "" {
		return fmt.Errorf("call.callback_url is required")
	}
	if c.Call.MaxRetryAttempts < 0 {
		return fmt.Errorf("call.max_retry_attempts must not be negative")
	}
	return nil
}
