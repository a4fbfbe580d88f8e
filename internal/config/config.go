package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/deeprat/portfolio/internal/ai"
	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

type Specification struct {
	Provider    string `yaml:"provider"`
	APIKey      string `yaml:"providerApiKey" envconfig:"PROVIDER_API_KEY"`
	EmbedModel  string `yaml:"providerEmbedModel" envconfig:"PROVIDER_EMBEDDING_MODEL"`
	ProviderURL string `yaml:"providerURL" envconfig:"PROVIDER_URL"`
	ProjectID   string `yaml:"providerProjectID" envconfig:"PROVIDER_PROJECT_ID"`
	Location    string `yaml:"providerLocation" envconfig:"PROVIDER_LOCATION"`
	Dim         int    `yaml:"providerDim" envconfig:"EMBED_DIM"`

	ChatProvider string `yaml:"chatProvider" split_words:"true"`
	ChatAPIKey   string `yaml:"chatApiKey" envconfig:"GOOGLE_AI_API_KEY"`
	ChatModel    string `yaml:"chatModel" split_words:"true"`
	OwnerName    string `yaml:"ownerName" split_words:"true"`

	SourcesDir        string        `yaml:"sourcesDir" split_words:"true"`
	IndexPath         string        `yaml:"indexPath" split_words:"true"`
	EmbedDelay        time.Duration `yaml:"embedDelay" split_words:"true"`
	TopK              int           `yaml:"topK" envconfig:"TOP_K"`
	ChatTopK          int           `yaml:"chatTopK" envconfig:"CHAT_TOP_K"`
	RateLimitRequests int           `yaml:"rateLimitRequests" split_words:"true"`
	RateLimitWindow   time.Duration `yaml:"rateLimitWindow" split_words:"true"`
	MaxQueryLength    int           `yaml:"maxQueryLength" split_words:"true"`

	LogLevel string `yaml:"logLevel" split_words:"true"`
	Port     int    `yaml:"port" split_words:"true"`

	flags *pflag.FlagSet `ignored:"true"`
}

const envPrefix = "PORTFOLIO"

// hfTokenEnv is read when no provider key is configured for huggingface.
const hfTokenEnv = "HF_TOKEN"

func (s *Specification) Usage() {
	fmt.Fprint(os.Stderr, s.flags.FlagUsages())
}

// Load => defaults < YAML < env < flags, with flags read from os.Args.
// configPath may be ""; if so we auto-discover.
func Load(configPath string, fs *pflag.FlagSet) (Specification, error) {
	return LoadArgs(configPath, fs, os.Args[1:])
}

// LoadArgs is Load with explicit command-line arguments.
func LoadArgs(configPath string, fs *pflag.FlagSet, args []string) (Specification, error) {
	var cfg Specification

	// set defaults (lowest precedence)
	setDefaults(&cfg)
	bindFlags(fs, &cfg)

	// config file
	path := configPath
	if path == "" {
		path = configFlag(args)
	}
	if path == "" {
		if v := os.Getenv(envPrefix + "_CONFIG"); v != "" {
			path = v
		} else {
			for _, cand := range []string{
				"config/portfolio.yaml",
				"config/config.yaml",
				"./portfolio.yaml",
				"./config.yaml",
			} {
				if fileExists(cand) {
					path = cand
					break
				}
			}
		}
	}

	if path != "" {
		if !fileExists(path) {
			return Specification{}, fmt.Errorf("config file not found: %s", path)
		}
		if err := loadYAML(path, &cfg); err != nil {
			return Specification{}, fmt.Errorf("load yaml %s: %w", path, err)
		}
	}

	// env overrides config file
	if err := envconfig.Process(envPrefix, &cfg); err != nil {
		return Specification{}, fmt.Errorf("env override: %w", err)
	}

	// flags override everything
	if err := fs.Parse(args); err != nil {
		return Specification{}, err
	}
	applyChangedFlags(fs, &cfg)

	if strings.TrimSpace(cfg.APIKey) == "" && isHuggingFace(cfg.Provider) {
		cfg.APIKey = os.Getenv(hfTokenEnv)
	}

	// Minimal sanity
	if strings.TrimSpace(cfg.LogLevel) == "" {
		cfg.LogLevel = "info"
	}
	if err := cfg.Validate(); err != nil {
		return Specification{}, err
	}
	return cfg, nil
}

// Validate checks the values no component can run without.
func (s Specification) Validate() error {
	if strings.TrimSpace(s.IndexPath) == "" {
		return fmt.Errorf("%s_INDEX_PATH is required (env/file/flag)", envPrefix)
	}
	if strings.TrimSpace(s.SourcesDir) == "" {
		return fmt.Errorf("%s_SOURCES_DIR is required (env/file/flag)", envPrefix)
	}
	if s.EmbedDelay < 0 {
		return fmt.Errorf("embed delay must not be negative: %s", s.EmbedDelay)
	}
	if s.RateLimitRequests <= 0 || s.RateLimitWindow <= 0 {
		return fmt.Errorf("rate limit must be positive: %d per %s", s.RateLimitRequests, s.RateLimitWindow)
	}
	return nil
}

// ClientConfig builds the embedding provider configuration.
func (s Specification) ClientConfig() (*ai.ClientConfig, error) {
	p, err := ai.ParseProvider(s.Provider)
	if err != nil {
		return nil, err
	}
	return &ai.ClientConfig{
		APIKey:     s.APIKey,
		EmbedModel: s.EmbedModel,
		BaseURL:    s.ProviderURL,
		Dim:        s.Dim,
		ProjectID:  s.ProjectID,
		Provider:   p,
		Location:   s.Location,
	}, nil
}

// GeneratorConfig builds the chat model configuration.
func (s Specification) GeneratorConfig() *ai.GeneratorConfig {
	return &ai.GeneratorConfig{
		Provider:  s.ChatProvider,
		APIKey:    s.ChatAPIKey,
		Model:     s.ChatModel,
		OwnerName: s.OwnerName,
	}
}

// ---------- helpers ----------

func isHuggingFace(provider string) bool {
	p, err := ai.ParseProvider(provider)
	return err == nil && p == ai.ProviderHuggingFace
}

// configFlag returns the --config value from args so discovery, which runs
// before flags are parsed, can use it.
func configFlag(args []string) string {
	for i, a := range args {
		if a == "--config" {
			if i+1 < len(args) && !strings.HasPrefix(args[i+1], "-") {
				return args[i+1]
			}
		} else if v, ok := strings.CutPrefix(a, "--config="); ok {
			return v
		}
	}
	return ""
}

func loadYAML(path string, into any) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(b, into)
}

func fileExists(p string) bool {
	fi, err := os.Stat(p)
	return err == nil && !fi.IsDir()
}

func bindFlags(fs *pflag.FlagSet, c *Specification) {
	fs.String("config", "", "Path to config file")

	fs.String("provider", c.Provider, "Embedding provider (huggingface, openai, vertexai, stub)")
	fs.String("provider-api-key", c.APIKey, "Embedding provider API key")
	fs.String("provider-embedding-model", c.EmbedModel, "Embedding model")
	fs.String("provider-url", c.ProviderURL, "Embedding provider base URL")
	fs.String("provider-project-id", c.ProjectID, "Provider project ID")
	fs.String("provider-location", c.Location, "Provider location/region")
	fs.Int("embed-dim", c.Dim, "Embedding dimensionality")

	fs.String("chat-provider", c.ChatProvider, "Chat model provider (gemini, stub)")
	fs.String("chat-api-key", c.ChatAPIKey, "Chat model API key")
	fs.String("chat-model", c.ChatModel, "Chat model")
	fs.String("owner-name", c.OwnerName, "Name of the portfolio owner used in the system prompt")

	fs.String("sources-dir", c.SourcesDir, "Directory of knowledge-base documents")
	fs.String("index-path", c.IndexPath, "Index file path or postgres:// DSN")
	fs.Duration("embed-delay", c.EmbedDelay, "Pause between embedding calls during ingestion")
	fs.Int("top-k", c.TopK, "Default number of search results")
	fs.Int("chat-top-k", c.ChatTopK, "Number of chunks retrieved per chat question")
	fs.Int("rate-limit-requests", c.RateLimitRequests, "Chat requests allowed per client per window")
	fs.Duration("rate-limit-window", c.RateLimitWindow, "Chat rate limit window")
	fs.Int("max-query-length", c.MaxQueryLength, "Characters kept from a chat question")

	fs.String("log-level", c.LogLevel, "Log level (debug|info|warn|error)")
	fs.Int("port", c.Port, "API server port")

	// Used later for usage/help
	// create a shallow copy of fs (so Usage can be called safely without mutating caller)
	copied := pflag.NewFlagSet("temp", pflag.ContinueOnError)
	*copied = *fs
	c.flags = copied
}

func applyChangedFlags(fs *pflag.FlagSet, c *Specification) {
	setStr := func(name string, dst *string) {
		if fs.Changed(name) {
			v, _ := fs.GetString(name)
			*dst = v
		}
	}
	setInt := func(name string, dst *int) {
		if fs.Changed(name) {
			v, _ := fs.GetInt(name)
			*dst = v
		}
	}
	setDur := func(name string, dst *time.Duration) {
		if fs.Changed(name) {
			v, _ := fs.GetDuration(name)
			*dst = v
		}
	}

	// (We ignore --config here; it's for discovery.)
	setStr("provider", &c.Provider)
	setStr("provider-api-key", &c.APIKey)
	setStr("provider-embedding-model", &c.EmbedModel)
	setStr("provider-url", &c.ProviderURL)
	setStr("provider-project-id", &c.ProjectID)
	setStr("provider-location", &c.Location)
	setInt("embed-dim", &c.Dim)

	setStr("chat-provider", &c.ChatProvider)
	setStr("chat-api-key", &c.ChatAPIKey)
	setStr("chat-model", &c.ChatModel)
	setStr("owner-name", &c.OwnerName)

	setStr("sources-dir", &c.SourcesDir)
	setStr("index-path", &c.IndexPath)
	setDur("embed-delay", &c.EmbedDelay)
	setInt("top-k", &c.TopK)
	setInt("chat-top-k", &c.ChatTopK)
	setInt("rate-limit-requests", &c.RateLimitRequests)
	setDur("rate-limit-window", &c.RateLimitWindow)
	setInt("max-query-length", &c.MaxQueryLength)

	setStr("log-level", &c.LogLevel)
	setInt("port", &c.Port)
}

func setDefaults(c *Specification) {
	// model, dimension and location default per provider in internal/ai
	c.Provider = "huggingface"
	c.ChatProvider = "gemini"
	c.ChatModel = "gemini-2.5-flash"
	c.SourcesDir = "kb/sources/final"
	c.IndexPath = "kb/index/vector-index.json"
	c.EmbedDelay = 100 * time.Millisecond
	c.TopK = 5
	c.ChatTopK = 4
	c.RateLimitRequests = 20
	c.RateLimitWindow = time.Minute
	c.MaxQueryLength = 1000
	c.LogLevel = "info"
	c.Port = 8080
}
