// Package config loads proxy configuration from defaults, an optional YAML
// file, an optional .env file, and environment variables, in that order of
// increasing precedence.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Config holds every runtime knob of the proxy.
type Config struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	LogLevel string `yaml:"log_level"`
	LogFile  string `yaml:"log_file"`

	DefaultOpenAIBaseURL string `yaml:"default_openai_base_url"`
	OpenAICompatiblePath string `yaml:"openai_compatible_path"`
	GoogleAPIBaseURL     string `yaml:"google_api_base_url"`

	GoogleAPIKey string `yaml:"google_api_key"`
	GoogleCSEID  string `yaml:"google_cse_id"`

	APITimeoutSeconds int `yaml:"api_timeout_seconds"`
	MaxConnections    int `yaml:"max_connections"`
	MaxSSELineLength  int `yaml:"max_sse_line_length"`

	SearchResultCount      int `yaml:"search_result_count"`
	SearchSnippetMaxLength int `yaml:"search_snippet_max_length"`

	MinReasoningFlushChunkSize int    `yaml:"min_reasoning_flush_chunk_size"`
	MinContentFlushChunkSize   int    `yaml:"min_content_flush_chunk_size"`
	ReasoningOpenTag           string `yaml:"reasoning_open_tag"`
	ReasoningCloseTag          string `yaml:"reasoning_close_tag"`

	MaxDocumentUploadSizeMB          int `yaml:"max_document_upload_size_mb"`
	MaxDocumentContentCharsForPrompt int `yaml:"max_document_content_chars_for_prompt"`

	UsageDBPath string `yaml:"usage_db_path"`

	// ConfigFile is the YAML file this config was loaded from, watched for
	// hot reloads. Empty when no file was used.
	ConfigFile string `yaml:"-"`
}

// Default returns the built-in configuration, matching the historical
// defaults of the service.
func Default() *Config {
	return &Config{
		Host:                             "0.0.0.0",
		Port:                             8000,
		LogLevel:                         "info",
		DefaultOpenAIBaseURL:             "https://api.openai.com",
		OpenAICompatiblePath:             "/v1/chat/completions",
		GoogleAPIBaseURL:                 "https://generativelanguage.googleapis.com",
		APITimeoutSeconds:                600,
		MaxConnections:                   200,
		MaxSSELineLength:                 1024 * 1024,
		SearchResultCount:                5,
		SearchSnippetMaxLength:           200,
		MinReasoningFlushChunkSize:       1,
		MinContentFlushChunkSize:         20,
		ReasoningOpenTag:                 "<think>",
		ReasoningCloseTag:                "</think>",
		MaxDocumentUploadSizeMB:          20,
		MaxDocumentContentCharsForPrompt: 15000,
		UsageDBPath:                      "eztalk-usage.db",
	}
}

// Load builds the effective configuration. configFile may be empty; a .env
// file in the working directory is applied when present, then environment
// variables override everything.
func Load(configFile string) (*Config, error) {
	cfg := Default()

	if configFile != "" {
		if err := cfg.loadYAML(configFile); err != nil {
			return nil, err
		}
		cfg.ConfigFile = configFile
	}

	// Same behavior as load_dotenv: silently skip a missing .env.
	if err := godotenv.Load(); err == nil {
		logrus.Debug("loaded environment from .env")
	}

	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	setString(&c.Host, "HOST")
	setInt(&c.Port, "PORT")
	setString(&c.LogLevel, "LOG_LEVEL")
	setString(&c.LogFile, "LOG_FILE")
	setString(&c.DefaultOpenAIBaseURL, "DEFAULT_OPENAI_API_BASE_URL")
	setString(&c.OpenAICompatiblePath, "OPENAI_COMPATIBLE_PATH")
	setString(&c.GoogleAPIBaseURL, "GOOGLE_API_BASE_URL")
	setString(&c.GoogleAPIKey, "GOOGLE_API_KEY")
	setString(&c.GoogleCSEID, "GOOGLE_CSE_ID")
	setInt(&c.APITimeoutSeconds, "API_TIMEOUT")
	setInt(&c.MaxConnections, "MAX_CONNECTIONS")
	setInt(&c.MaxSSELineLength, "MAX_SSE_LINE_LENGTH")
	setInt(&c.SearchResultCount, "SEARCH_RESULT_COUNT")
	setInt(&c.SearchSnippetMaxLength, "SEARCH_SNIPPET_MAX_LENGTH")
	setInt(&c.MinReasoningFlushChunkSize, "MIN_REASONING_FLUSH_CHUNK_SIZE")
	setInt(&c.MinContentFlushChunkSize, "MIN_CONTENT_FLUSH_CHUNK_SIZE")
	setString(&c.ReasoningOpenTag, "REASONING_OPEN_TAG")
	setString(&c.ReasoningCloseTag, "REASONING_CLOSE_TAG")
	setInt(&c.MaxDocumentUploadSizeMB, "MAX_DOCUMENT_UPLOAD_SIZE_MB")
	setInt(&c.MaxDocumentContentCharsForPrompt, "MAX_DOCUMENT_CONTENT_CHARS_FOR_PROMPT")
	setString(&c.UsageDBPath, "USAGE_DB_PATH")
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		logrus.Warnf("ignoring non-integer value %q for %s", v, key)
		return
	}
	*dst = n
}
