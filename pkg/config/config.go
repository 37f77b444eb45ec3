package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig
	Data      DataConfig
	LLM       LLMConfig
	SQLite    SQLiteConfig
	Redis     RedisConfig
	Batch     BatchConfig
	RateLimit RateLimitConfig
	Logging   LoggingConfig
}

type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  int
	WriteTimeout int
	BodyLimit    int
}

type DataConfig struct {
	CSVPath        string
	DBSummaryPath  string
	KPIMappingPath string
	WatchFiles     bool
}

type LLMConfig struct {
	Provider     string
	Model        string
	GeminiAPIKey string
	OpenAIAPIKey string
	Temperature  float32
	MaxTokens    int
	TimeoutSec   int
	MaxRetries   int
}

type SQLiteConfig struct {
	Path string
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
	TTLSec   int
}

type BatchConfig struct {
	QueriesPath string
	OutputDir   string
}

type RateLimitConfig struct {
	MaxRequestsPerMinute int
}

type LoggingConfig struct {
	Level      string
	Format     string
	OutputPath string
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/etc/excelgpt")

	viper.SetEnvPrefix("EXCELGPT")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// The Gemini key is conventionally supplied as GOOGLE_API_KEY.
	viper.BindEnv("llm.geminiApiKey", "GOOGLE_API_KEY")
	viper.BindEnv("llm.openaiApiKey", "OPENAI_API_KEY")

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &config, nil
}

// Validate checks the settings that initialization cannot proceed without.
func (c *Config) Validate() error {
	switch c.LLM.Provider {
	case "gemini":
		if c.LLM.GeminiAPIKey == "" {
			return fmt.Errorf("API key not found: set GOOGLE_API_KEY or llm.geminiApiKey")
		}
	case "openai":
		if c.LLM.OpenAIAPIKey == "" {
			return fmt.Errorf("API key not found: set OPENAI_API_KEY or llm.openaiApiKey")
		}
	default:
		return fmt.Errorf("unknown LLM provider %q (want gemini or openai)", c.LLM.Provider)
	}
	return nil
}

func setDefaults() {
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8000)
	viper.SetDefault("server.readTimeout", 30)
	viper.SetDefault("server.writeTimeout", 30)
	viper.SetDefault("server.bodyLimit", 1048576)

	viper.SetDefault("data.csvPath", "./data/CONSOLIDATED_OUTPUT_DATA.csv")
	viper.SetDefault("data.dbSummaryPath", "./data/db_summary.json")
	viper.SetDefault("data.kpiMappingPath", "./data/context_kpi_mapping.json")
	viper.SetDefault("data.watchFiles", true)

	viper.SetDefault("llm.provider", "gemini")
	viper.SetDefault("llm.model", "gemini-2.5-flash")
	viper.SetDefault("llm.temperature", 0.2)
	viper.SetDefault("llm.maxTokens", 2048)
	viper.SetDefault("llm.timeoutSec", 60)
	viper.SetDefault("llm.maxRetries", 2)

	viper.SetDefault("sqlite.path", "./data/excelgpt.db")

	viper.SetDefault("redis.enabled", false)
	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.ttlSec", 3600)

	viper.SetDefault("batch.queriesPath", "./data/user_queries.csv")
	viper.SetDefault("batch.outputDir", "./copilot_runs")

	viper.SetDefault("ratelimit.maxRequestsPerMinute", 60)

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
	viper.SetDefault("logging.outputPath", "stdout")
}
