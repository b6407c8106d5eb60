package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Environment string `yaml:"environment" default:"development"`
	Server      struct {
		Port            int           `yaml:"port" default:"8080"`
		ReadTimeout     time.Duration `yaml:"read_timeout" default:"10s"`
		WriteTimeout    time.Duration `yaml:"write_timeout" default:"10s"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"15s"`
	} `yaml:"server"`
	Metrics struct {
		Enabled bool   `yaml:"enabled" default:"true"`
		Path    string `yaml:"path" default:"/metrics"`
	} `yaml:"metrics"`
	Logging struct {
		Level  string `yaml:"level" default:"info"`
		Format string `yaml:"format" default:"json"`
		Output string `yaml:"output" default:"stdout"`
		// ErrorTopic enables aggregated error-log shipping to Kafka
		// when non-empty.
		ErrorTopic     string        `yaml:"error_topic"`
		FlushInterval  time.Duration `yaml:"flush_interval" default:"30s"`
		CountThreshold int           `yaml:"count_threshold" default:"100"`
	} `yaml:"logging"`
	Account struct {
		ID      string  `yaml:"id" default:"default"`
		Equity  float64 `yaml:"equity" default:"10000"`
		Balance float64 `yaml:"balance" default:"10000"`
	} `yaml:"account"`
	Trading struct {
		Symbols       []string      `yaml:"symbols"`
		Timeframe     string        `yaml:"timeframe" default:"1h"`
		EvalInterval  time.Duration `yaml:"eval_interval" default:"1m"`
		WindowTimeout time.Duration `yaml:"window_timeout" default:"500ms"`
		SourceTimeout time.Duration `yaml:"source_timeout" default:"3s"`
		PartialPolicy string        `yaml:"partial_policy" default:"reject_whole"`
	} `yaml:"trading"`
	Fusion struct {
		MinConfidence float64            `yaml:"min_confidence" default:"0.6"`
		Weights       map[string]float64 `yaml:"weights"`
	} `yaml:"fusion"`
	Risk struct {
		RiskFraction         float64             `yaml:"risk_fraction" default:"0.02"`
		StopDistance         float64             `yaml:"stop_distance" default:"0.02"`
		MaxPositionSizePct   float64             `yaml:"max_position_size_pct" default:"0.10"`
		MaxDailyLossPct      float64             `yaml:"max_daily_loss_pct" default:"0.05"`
		MaxCorrelatedPct     float64             `yaml:"max_correlated_pct" default:"0.25"`
		MaxVolumeFraction    float64             `yaml:"max_volume_fraction" default:"0.01"`
		RiskRewardRatio      float64             `yaml:"risk_reward_ratio" default:"2.0"`
		VolatilityThreshold  float64             `yaml:"volatility_threshold" default:"1.5"`
		ConfidenceSoftMargin float64             `yaml:"confidence_soft_margin" default:"0.1"`
		Correlations         map[string][]string `yaml:"correlations"`
	} `yaml:"risk"`
	Router struct {
		QuoteMaxAge       time.Duration `yaml:"quote_max_age" default:"5s"`
		SlippageTolerance float64       `yaml:"slippage_tolerance" default:"0.005"`
		MinSliceQuantity  float64       `yaml:"min_slice_quantity"`
		VenueRateCapacity float64       `yaml:"venue_rate_capacity" default:"10"`
		VenueRateRefill   float64       `yaml:"venue_rate_refill" default:"5"`
	} `yaml:"router"`
	Venues []VenueConfig `yaml:"venues"`
	Kafka  struct {
		Brokers      []string `yaml:"brokers"`
		EventTopic   string   `yaml:"event_topic" default:"tradepilot.events"`
		TickTopic    string   `yaml:"tick_topic" default:"tradepilot.ticks"`
		RequiredAcks int      `yaml:"required_acks" default:"-1"`
		Compression  string   `yaml:"compression" default:"gzip"`
		Producer     struct {
			MaxAttempts  int           `yaml:"max_attempts" default:"3"`
			BatchBytes   int           `yaml:"batch_bytes" default:"1048576"`
			BatchSize    int           `yaml:"batch_size" default:"100"`
			WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
			ReadTimeout  time.Duration `yaml:"read_timeout" default:"10s"`
			Async        bool          `yaml:"async"`
		} `yaml:"producer"`
		Consumer struct {
			GroupID    string        `yaml:"group_id" default:"tradepilot"`
			Workers    int           `yaml:"workers" default:"2"`
			BufferSize int           `yaml:"buffer_size" default:"256"`
			RetryMax   int           `yaml:"retry_max" default:"3"`
			BackoffMin time.Duration `yaml:"backoff_min" default:"50ms"`
			BackoffMax time.Duration `yaml:"backoff_max" default:"2s"`
			DLQTopic   string        `yaml:"dlq_topic"`
			MinBytes   int           `yaml:"min_bytes" default:"1"`
			MaxBytes   int           `yaml:"max_bytes" default:"10000000"`
		} `yaml:"consumer"`
	} `yaml:"kafka"`
	ClickHouse struct {
		Host             string        `yaml:"host" default:"localhost"`
		Port             int           `yaml:"port" default:"9000"`
		Database         string        `yaml:"database" default:"tradepilot"`
		User             string        `yaml:"user" default:"default"`
		Password         string        `yaml:"password"`
		UseHTTP          bool          `yaml:"use_http"`
		AsyncInsert      bool          `yaml:"async_insert" default:"true"`
		WaitForAsync     bool          `yaml:"wait_for_async_insert"`
		DialTimeout      time.Duration `yaml:"dial_timeout" default:"5s"`
		ReadTimeout      time.Duration `yaml:"read_timeout" default:"10s"`
		WriteTimeout     time.Duration `yaml:"write_timeout" default:"10s"`
		MaxExecutionTime time.Duration `yaml:"max_execution_time" default:"30s"`
	} `yaml:"clickhouse"`
	Redis struct {
		Host     string `yaml:"host" default:"localhost"`
		Port     int    `yaml:"port" default:"6379"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`
	Sentiment struct {
		BaseURL string        `yaml:"base_url"`
		APIKey  string        `yaml:"api_key"`
		Timeout time.Duration `yaml:"timeout" default:"5s"`
	} `yaml:"sentiment"`
	Predictive struct {
		BaseURL string        `yaml:"base_url"`
		Timeout time.Duration `yaml:"timeout" default:"5s"`
	} `yaml:"predictive"`
}

// VenueConfig describes one trading venue. Mode "paper" runs the
// in-process dry-run venue; "live" speaks REST+WebSocket.
type VenueConfig struct {
	Name           string        `yaml:"name"`
	Mode           string        `yaml:"mode" default:"paper"`
	FeeRate        float64       `yaml:"fee_rate" default:"0.001"`
	BaseURL        string        `yaml:"base_url"`
	WebsocketURL   string        `yaml:"websocket_url"`
	APIKey         string        `yaml:"api_key"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay" default:"2s"`
	PingInterval   time.Duration `yaml:"ping_interval" default:"15s"`
}

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var c Config
	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("apply defaults: %w", err)
	}
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &c, nil
}

// LoadWithEnv loads config from YAML and overrides with environment variables.
func LoadWithEnv(path string) (*Config, error) {
	c, err := Load(path)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("SYMBOLS"); v != "" {
		c.Trading.Symbols = strings.Split(v, ",")
	}
	if v := os.Getenv("ACCOUNT_ID"); v != "" {
		c.Account.ID = v
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("CLICKHOUSE_HOST"); v != "" {
		c.ClickHouse.Host = v
	}
	if v := os.Getenv("REDIS_HOST"); v != "" {
		c.Redis.Host = v
	}
	if v := os.Getenv("SENTIMENT_API_KEY"); v != "" {
		c.Sentiment.APIKey = v
	}
	for i := range c.Venues {
		key := "VENUE_" + strings.ToUpper(c.Venues[i].Name) + "_API_KEY"
		if v := os.Getenv(key); v != "" {
			c.Venues[i].APIKey = v
		}
	}

	return c, nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Environment == "" {
		return fmt.Errorf("environment is required")
	}
	if len(c.Trading.Symbols) == 0 {
		return fmt.Errorf("trading.symbols cannot be empty")
	}
	if len(c.Venues) == 0 {
		return fmt.Errorf("at least one venue is required")
	}
	for _, v := range c.Venues {
		if v.Name == "" {
			return fmt.Errorf("venue name is required")
		}
		if v.Mode != "paper" && v.Mode != "live" {
			return fmt.Errorf("venue %s: mode must be 'paper' or 'live', got '%s'", v.Name, v.Mode)
		}
		if v.Mode == "live" && (v.BaseURL == "" || v.WebsocketURL == "") {
			return fmt.Errorf("venue %s: live mode requires base_url and websocket_url", v.Name)
		}
	}
	if c.Fusion.MinConfidence <= 0 || c.Fusion.MinConfidence > 1 {
		return fmt.Errorf("fusion.min_confidence must be in (0,1]")
	}
	if c.Trading.PartialPolicy != "reject_whole" && c.Trading.PartialPolicy != "place_available" {
		return fmt.Errorf("trading.partial_policy must be 'reject_whole' or 'place_available'")
	}
	return nil
}
