package main

import (
	"context"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sethvargo/go-envconfig"
	"gopkg.in/yaml.v3"
)

const defaultConfigDir = ".changelog-writer/"

// GetConfigPath returns the full path to a config file
func GetConfigPath(filename string) string {
	return filepath.Join(defaultConfigDir, filename)
}

// ConfigOverrides holds file path overrides for embedded configurations
type ConfigOverrides struct {
	WriterPromptPath    *string
	FormatterPromptPath *string
	ReviewerPromptPath  *string
	TemplatePath        *string
	PRBodyTemplatePath  *string
	SettingsPath        *string
}

//go:embed config/writer-system-prompt.md
var writerSystemPrompt string

//go:embed config/formatter-system-prompt.md
var formatterSystemPrompt string

//go:embed config/reviewer-system-prompt.md
var reviewerSystemPrompt string

//go:embed config/changelog-template.md
var defaultTemplate string

//go:embed config/pr-body-template.md
var defaultPRBodyTemplate string

//go:embed config/settings.yaml
var defaultSettings string

// AgentSettings configures one agent stage
type AgentSettings struct {
	Model       string  `yaml:"model"`
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float64 `yaml:"temperature"`
}

// Settings represents the YAML configuration structure
type Settings struct {
	ChannelID      string `yaml:"channel_id"`
	DaysBack       int    `yaml:"days_back"`
	ProcessedEmoji string `yaml:"processed_emoji"`

	Changelog struct {
		LocalDir       string `yaml:"local_dir"`
		MediaDir       string `yaml:"media_dir"`
		RemotePath     string `yaml:"remote_path"`
		RemoteMediaDir string `yaml:"remote_media_dir"`
	} `yaml:"changelog"`

	DocsJSONPath string `yaml:"docs_json_path"`

	Download struct {
		MaxWorkers  int   `yaml:"max_workers"`
		MaxFileSize int64 `yaml:"max_file_size"`
	} `yaml:"download"`

	GitHub struct {
		BranchPrefix string   `yaml:"branch_prefix"`
		MaxRetries   int      `yaml:"max_retries"`
		Labels       []string `yaml:"labels"`
	} `yaml:"github"`

	Agents struct {
		Writer    AgentSettings `yaml:"writer"`
		Formatter AgentSettings `yaml:"formatter"`
		Reviewer  AgentSettings `yaml:"reviewer"`
	} `yaml:"agents"`
}

// Config holds settings and overrides
type Config struct {
	Settings  *Settings
	Overrides *ConfigOverrides
}

// NewConfig creates a Config, writing embedded defaults to the config
// directory on first run.
func NewConfig(overrides *ConfigOverrides) (*Config, error) {
	if err := ensureConfigExists(); err != nil {
		return nil, fmt.Errorf("ensuring config files exist: %w", err)
	}

	var settings *Settings
	var err error
	if overrides != nil && overrides.SettingsPath != nil {
		settings, err = loadSettingsRequired(*overrides.SettingsPath)
		if err != nil {
			return nil, fmt.Errorf("loading settings %s: %w", *overrides.SettingsPath, err)
		}
	} else {
		settings, err = loadSettings(GetConfigPath("settings.yaml"))
		if err != nil {
			return nil, fmt.Errorf("loading settings: %w", err)
		}
	}

	return &Config{Settings: settings, Overrides: overrides}, nil
}

// GetWriterSystemPrompt returns the writer prompt (from override file or embedded)
func (c *Config) GetWriterSystemPrompt() string {
	if c.Overrides != nil && c.Overrides.WriterPromptPath != nil {
		if content, err := os.ReadFile(*c.Overrides.WriterPromptPath); err == nil {
			return strings.TrimSpace(string(content))
		}
	}
	return strings.TrimSpace(writerSystemPrompt)
}

// GetFormatterSystemPrompt returns the formatter prompt (from override file or embedded)
func (c *Config) GetFormatterSystemPrompt() string {
	if c.Overrides != nil && c.Overrides.FormatterPromptPath != nil {
		if content, err := os.ReadFile(*c.Overrides.FormatterPromptPath); err == nil {
			return strings.TrimSpace(string(content))
		}
	}
	return strings.TrimSpace(formatterSystemPrompt)
}

// GetReviewerSystemPrompt returns the reviewer prompt (from override file or embedded)
func (c *Config) GetReviewerSystemPrompt() string {
	if c.Overrides != nil && c.Overrides.ReviewerPromptPath != nil {
		if content, err := os.ReadFile(*c.Overrides.ReviewerPromptPath); err == nil {
			return strings.TrimSpace(string(content))
		}
	}
	return strings.TrimSpace(reviewerSystemPrompt)
}

// GetTemplate returns the changelog template (from override file or embedded)
func (c *Config) GetTemplate() string {
	if c.Overrides != nil && c.Overrides.TemplatePath != nil {
		if content, err := os.ReadFile(*c.Overrides.TemplatePath); err == nil {
			return strings.TrimSpace(string(content))
		}
	}
	return strings.TrimSpace(defaultTemplate)
}

// GetPRBodyTemplate returns the PR body template (from override file or embedded)
func (c *Config) GetPRBodyTemplate() string {
	if c.Overrides != nil && c.Overrides.PRBodyTemplatePath != nil {
		if content, err := os.ReadFile(*c.Overrides.PRBodyTemplatePath); err == nil {
			return strings.TrimSpace(string(content))
		}
	}
	return strings.TrimSpace(defaultPRBodyTemplate)
}

// loadSettings loads settings from YAML file with fallback to embedded defaults
func loadSettings(settingsPath string) (*Settings, error) {
	data, err := os.ReadFile(settingsPath)
	if err != nil {
		data = []byte(defaultSettings)
	}

	var settings Settings
	if err := yaml.Unmarshal(data, &settings); err != nil {
		return nil, fmt.Errorf("parsing settings YAML: %w", err)
	}

	applySettingsDefaults(&settings)
	return &settings, nil
}

// loadSettingsRequired loads settings from YAML file, failing if it doesn't exist
func loadSettingsRequired(settingsPath string) (*Settings, error) {
	data, err := os.ReadFile(settingsPath)
	if err != nil {
		return nil, err
	}

	var settings Settings
	if err := yaml.Unmarshal(data, &settings); err != nil {
		return nil, fmt.Errorf("parsing settings YAML: %w", err)
	}

	applySettingsDefaults(&settings)
	return &settings, nil
}

func applySettingsDefaults(s *Settings) {
	if s.DaysBack <= 0 {
		s.DaysBack = 14
	}
	if s.ProcessedEmoji == "" {
		s.ProcessedEmoji = "white_check_mark"
	}
	if s.Changelog.LocalDir == "" {
		s.Changelog.LocalDir = "docs/updates"
	}
	if s.Changelog.MediaDir == "" {
		s.Changelog.MediaDir = "docs/updates/media"
	}
	if s.Changelog.RemotePath == "" {
		s.Changelog.RemotePath = "docs/updates/%s/%s/%s/changelog.mdx"
	}
	if s.Changelog.RemoteMediaDir == "" {
		s.Changelog.RemoteMediaDir = "docs/images/changelog"
	}
	if s.DocsJSONPath == "" {
		s.DocsJSONPath = "docs/docs.json"
	}
	if s.Download.MaxWorkers <= 0 {
		s.Download.MaxWorkers = 5
	}
	if s.Download.MaxFileSize <= 0 {
		s.Download.MaxFileSize = 100 * 1024 * 1024
	}
	if s.GitHub.BranchPrefix == "" {
		s.GitHub.BranchPrefix = "changelog"
	}
	if s.GitHub.MaxRetries <= 0 {
		s.GitHub.MaxRetries = 3
	}
}

// ensureConfigExists creates the config directory and writes any missing
// default files so users have something to edit
func ensureConfigExists() error {
	if err := os.MkdirAll(defaultConfigDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	defaults := map[string]string{
		"settings.yaml":              defaultSettings,
		"writer-system-prompt.md":    writerSystemPrompt,
		"formatter-system-prompt.md": formatterSystemPrompt,
		"reviewer-system-prompt.md":  reviewerSystemPrompt,
		"changelog-template.md":      defaultTemplate,
		"pr-body-template.md":        defaultPRBodyTemplate,
	}
	for name, content := range defaults {
		path := GetConfigPath(name)
		if _, err := os.Stat(path); os.IsNotExist(err) {
			if err := os.WriteFile(path, []byte(content), 0644); err != nil {
				return fmt.Errorf("writing %s: %w", name, err)
			}
		}
	}

	return nil
}

// Credentials holds the tokens and endpoints for the upstream services.
// Missing required values fail immediately; nothing here is retried.
type Credentials struct {
	SlackToken      string `env:"SLACK_TOKEN, required"`
	GitHubToken     string `env:"GITHUB_TOKEN, required"`
	GitHubRepo      string `env:"GITHUB_REPO, required"`
	AnthropicAPIKey string `env:"ANTHROPIC_API_KEY, required"`
	DocsSearchURL   string `env:"DOCS_SEARCH_URL"`
}

// LoadCredentials reads credentials from the environment
func LoadCredentials(ctx context.Context) (*Credentials, error) {
	var creds Credentials
	if err := envconfig.Process(ctx, &creds); err != nil {
		return nil, fmt.Errorf("loading credentials: %w", err)
	}
	if _, _, err := creds.RepoOwnerName(); err != nil {
		return nil, err
	}
	return &creds, nil
}

// RepoOwnerName splits GITHUB_REPO into owner and repository name
func (c *Credentials) RepoOwnerName() (string, string, error) {
	owner, name, ok := strings.Cut(c.GitHubRepo, "/")
	if !ok || owner == "" || name == "" {
		return "", "", fmt.Errorf("GITHUB_REPO must be in owner/name format, got %q", c.GitHubRepo)
	}
	return owner, name, nil
}
