package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// PlaceholderGatewayKey is the sample value shipped in config.json.
const PlaceholderGatewayKey = "在这里填入有效的微信API密钥"

type Config struct {
	APIKey        string          `mapstructure:"api_key"`
	BaseURL       string          `mapstructure:"base_url"`
	WcfAPIKey     string          `mapstructure:"wcf_api_key"`
	GatewayURL    string          `mapstructure:"gateway_url"`
	Group         []string        `mapstructure:"-"`
	BotName       string          `mapstructure:"bot_name"`
	AtMe          string          `mapstructure:"atme"`
	TestMode      bool            `mapstructure:"test_mode"`
	Model         string          `mapstructure:"model1"`
	Stream        bool            `mapstructure:"stream"`
	Prompt        string          `mapstructure:"prompt"`
	PromptDS      string          `mapstructure:"prompt_ds"`
	PromptZS      string          `mapstructure:"prompt_zs"`
	Commands      []CommandConfig `mapstructure:"commands"`
	HistoryMins   int             `mapstructure:"history_minutes"`
	MessagesFile  string          `mapstructure:"messages_file"`
	RequestLog    string          `mapstructure:"request_log_file"`
	OutputDir     string          `mapstructure:"output_dir"`
	AuthRetrySecs int             `mapstructure:"auth_retry_seconds"`
	LogMode       string          `mapstructure:"log_mode"`
	Database      DatabaseConfig  `mapstructure:"database"`
}

type CommandConfig struct {
	Prefix string `mapstructure:"prefix"`
	Mode   string `mapstructure:"mode"`
}

type DatabaseConfig struct {
	UsePostgres bool   `mapstructure:"use_postgres"`
	Host        string `mapstructure:"host"`
	Port        int    `mapstructure:"port"`
	User        string `mapstructure:"user"`
	Password    string `mapstructure:"password"`
	DBName      string `mapstructure:"dbname"`
	SSLMode     string `mapstructure:"sslmode"`
}

func (c *Config) HistoryWindow() time.Duration {
	return time.Duration(c.HistoryMins) * time.Minute
}

func (c *Config) AuthRetryDelay() time.Duration {
	return time.Duration(c.AuthRetrySecs) * time.Second
}

// Validate reports missing credentials. The gateway key is not needed in test mode.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.APIKey) == "" {
		return errors.New("api_key is not set")
	}
	if !c.TestMode && (strings.TrimSpace(c.WcfAPIKey) == "" || c.WcfAPIKey == PlaceholderGatewayKey) {
		return errors.New("wcf_api_key is not set; set it in config.json or enable test_mode")
	}
	return nil
}

func parseDatabaseURL(dbURL string) (DatabaseConfig, error) {
	u, err := url.Parse(dbURL)
	if err != nil {
		return DatabaseConfig{}, err
	}

	password, _ := u.User.Password()
	port := 5432 // default PostgreSQL port
	if u.Port() != "" {
		fmt.Sscanf(u.Port(), "%d", &port)
	}

	sslMode := u.Query().Get("sslmode")
	if sslMode == "" {
		sslMode = "disable"
	}

	return DatabaseConfig{
		UsePostgres: true,
		Host:        u.Hostname(),
		Port:        port,
		User:        u.User.Username(),
		Password:    password,
		DBName:      strings.TrimPrefix(u.Path, "/"),
		SSLMode:     sslMode,
	}, nil
}

func LoadConfig(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("gateway_url", "http://127.0.0.1:8000")
	v.SetDefault("atme", "@")
	v.SetDefault("test_mode", false)
	v.SetDefault("stream", true)
	v.SetDefault("history_minutes", 5)
	v.SetDefault("messages_file", "messages.json")
	v.SetDefault("request_log_file", "ai_requests.json")
	v.SetDefault("output_dir", "output")
	v.SetDefault("auth_retry_seconds", 30)
	v.SetDefault("log_mode", "production")
	v.SetDefault("database.use_postgres", false)
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.sslmode", "disable")

	v.AutomaticEnv()

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	// group is either a single room id or a list of them
	config.Group = nil
	for _, g := range v.GetStringSlice("group") {
		if g = strings.TrimSpace(g); g != "" {
			config.Group = append(config.Group, g)
		}
	}

	if dbURL := v.GetString("DATABASE_URL"); dbURL != "" {
		dbConfig, err := parseDatabaseURL(dbURL)
		if err != nil {
			return nil, fmt.Errorf("failed to parse DATABASE_URL: %v", err)
		}
		config.Database = dbConfig
	}

	if apiKey := v.GetString("OPENAI_API_KEY"); apiKey != "" {
		config.APIKey = apiKey
	}

	if key := v.GetString("WCF_API_KEY"); key != "" {
		config.WcfAPIKey = key
	}

	if config.AtMe == "" {
		config.AtMe = "@"
	}
	if config.HistoryMins <= 0 {
		config.HistoryMins = 5
	}

	return &config, nil
}
