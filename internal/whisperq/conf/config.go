package conf

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/whisperq/whisperq/internal/segment"
)

// Config is the full service configuration, loaded from an optional
// YAML file with WHISPERQ_* environment overrides.
type Config struct {
	Host string `mapstructure:"host" json:"host"`
	Port int    `mapstructure:"port" json:"port"`

	UploadDir string `mapstructure:"upload_dir" json:"upload_dir"`
	OutputDir string `mapstructure:"output_dir" json:"output_dir"`
	IndexPath string `mapstructure:"index_path" json:"index_path"`

	MaxContentMB      int      `mapstructure:"max_content_mb" json:"max_content_mb"`
	AllowedExtensions []string `mapstructure:"allowed_extensions" json:"allowed_extensions"`
	MaxFilenameLength int      `mapstructure:"max_filename_length" json:"max_filename_length"`

	ModelDir        string   `mapstructure:"model_dir" json:"model_dir"`
	DefaultModel    string   `mapstructure:"default_model" json:"default_model"`
	SupportedModels []string `mapstructure:"supported_models" json:"supported_models"`
	DefaultGPUIDs   []int    `mapstructure:"default_gpu_ids" json:"default_gpu_ids"`
	DefaultLanguage string   `mapstructure:"default_language" json:"default_language"`
	Threads         int      `mapstructure:"threads" json:"threads"`

	WindowSeconds  float64 `mapstructure:"window_seconds" json:"window_seconds"`
	OverlapSeconds float64 `mapstructure:"overlap_seconds" json:"overlap_seconds"`

	MergeLeadWords        int `mapstructure:"merge_lead_words" json:"merge_lead_words"`
	MergeFinalLeadWords   int `mapstructure:"merge_final_lead_words" json:"merge_final_lead_words"`
	MergeSearchMultiplier int `mapstructure:"merge_search_multiplier" json:"merge_search_multiplier"`
	MergeMinPrefixChars   int `mapstructure:"merge_min_prefix_chars" json:"merge_min_prefix_chars"`

	Speech SpeechConfig `mapstructure:"speech" json:"speech"`

	FFmpegPath string `mapstructure:"ffmpeg_path" json:"ffmpeg_path"`

	LogLevel string `mapstructure:"log_level" json:"log_level"`
	LogFile  string `mapstructure:"log_file" json:"log_file"`
}

// SpeechConfig selects and parameterizes the inference backend.
type SpeechConfig struct {
	// Provider is "whispercpp" (local, default) or "openai" (hosted).
	Provider string `mapstructure:"provider" json:"provider"`
	APIKey   string `mapstructure:"api_key" json:"api_key"`
	BaseURL  string `mapstructure:"base_url" json:"base_url"`
	Model    string `mapstructure:"model" json:"model"`
}

// Load reads configuration from the given file (optional) and the
// environment, applying defaults for everything unset.
func Load(file string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("WHISPERQ")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", file, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("host", "0.0.0.0")
	v.SetDefault("port", 5000)

	v.SetDefault("upload_dir", "uploads")
	v.SetDefault("output_dir", "outputs")
	v.SetDefault("index_path", "data/transcripts.bleve")

	v.SetDefault("max_content_mb", 500)
	v.SetDefault("allowed_extensions", []string{"wav", "mp3", "mp4", "avi", "mov", "m4a", "flac", "ogg", "wma", "aac"})
	v.SetDefault("max_filename_length", 255)

	v.SetDefault("model_dir", "/opt/models/ggml")
	v.SetDefault("default_model", "large-v3")
	v.SetDefault("supported_models", []string{"tiny", "base", "small", "medium", "large", "large-v2", "large-v3"})
	v.SetDefault("default_gpu_ids", []int{0})
	v.SetDefault("default_language", "auto")

	v.SetDefault("window_seconds", segment.DefaultWindowSeconds)
	v.SetDefault("overlap_seconds", segment.DefaultOverlapSeconds)

	v.SetDefault("speech.provider", "whispercpp")

	v.SetDefault("ffmpeg_path", "ffmpeg")

	v.SetDefault("log_level", "info")
}

// Validate rejects configurations the service cannot run with.
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid port number: %d", c.Port)
	}
	if c.MaxContentMB < 1 {
		return fmt.Errorf("max_content_mb too small: %d", c.MaxContentMB)
	}
	if len(c.SupportedModels) == 0 {
		return fmt.Errorf("supported_models cannot be empty")
	}
	if !c.IsSupportedModel(c.DefaultModel) {
		return fmt.Errorf("default_model %q not in supported_models", c.DefaultModel)
	}
	if c.WindowSeconds <= 0 {
		return fmt.Errorf("window_seconds must be positive: %v", c.WindowSeconds)
	}
	if c.OverlapSeconds < 0 || c.OverlapSeconds >= c.WindowSeconds {
		return fmt.Errorf("overlap_seconds must be in [0, window_seconds): %v", c.OverlapSeconds)
	}
	switch strings.ToLower(c.Speech.Provider) {
	case "", "whispercpp":
	case "openai":
		if strings.TrimSpace(c.Speech.APIKey) == "" {
			return fmt.Errorf("speech.api_key is required for the openai provider")
		}
	default:
		return fmt.Errorf("unsupported speech provider: %s", c.Speech.Provider)
	}
	return nil
}

// IsSupportedModel reports whether the model name is allow-listed.
func (c *Config) IsSupportedModel(name string) bool {
	for _, m := range c.SupportedModels {
		if strings.EqualFold(strings.TrimSpace(m), strings.TrimSpace(name)) {
			return true
		}
	}
	return false
}

// Addr returns the listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// MaxContentBytes returns the upload size cap in bytes.
func (c *Config) MaxContentBytes() int64 {
	return int64(c.MaxContentMB) * 1024 * 1024
}

// MergePolicy returns the overlap-merge thresholds, falling back to
// defaults for unset values.
func (c *Config) MergePolicy() segment.MergePolicy {
	p := segment.DefaultMergePolicy()
	if c.MergeLeadWords > 0 {
		p.LeadWords = c.MergeLeadWords
	}
	if c.MergeFinalLeadWords > 0 {
		p.FinalLeadWords = c.MergeFinalLeadWords
	}
	if c.MergeSearchMultiplier > 0 {
		p.SearchMultiplier = c.MergeSearchMultiplier
	}
	if c.MergeMinPrefixChars > 0 {
		p.MinPrefixChars = c.MergeMinPrefixChars
	}
	return p
}

// Planner returns the window planner configured for this service.
func (c *Config) Planner() segment.Planner {
	return segment.NewPlanner(c.WindowSeconds, c.OverlapSeconds)
}
