package config

import (
	stderrors "errors"
	"io/fs"
	"os"
	"strings"
	"time"

	"codeberg.org/mutker/iswctl/internal/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	DefaultConfigFile       = "/etc/iswctl.toml"
	DefaultEnvPrefix        = "ISWCTL"
	DefaultECPath           = "/sys/kernel/debug/ec/ec0/io"
	DefaultWriteSupportPath = "/sys/module/ec_sys/parameters/write_support"
	DefaultProfiles         = "/etc/isw.conf"
	DefaultFallbackBoard    = "MSI_ADDRESS_DEFAULT"
	DefaultPIDFile          = "/run/iswctl.pid"
	DefaultInterval         = 2
	DefaultHysteresis       = 4
	DefaultSmoothing        = 5
	DefaultLogLevel         = LogLevelWarning
	DefaultRetryAttempts    = 3
	DefaultRetryBackoff     = 5 * time.Millisecond
	DefaultHistoryDB        = "/var/lib/iswctl/history.db"
	DefaultBatchSize        = 30
	DefaultBatchTimeout     = time.Minute
	DefaultMQTTClientID     = "iswctl"
	DefaultMQTTTopicPrefix  = "iswctl"
)

type RetryConfig struct {
	Attempts uint          `mapstructure:"attempts"`
	Backoff  time.Duration `mapstructure:"backoff"`
}

type HistoryConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	DBPath       string        `mapstructure:"db_path"`
	BatchSize    int           `mapstructure:"batch_size"`
	BatchTimeout time.Duration `mapstructure:"batch_timeout"`
}

type MQTTConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Broker      string `mapstructure:"broker"`
	ClientID    string `mapstructure:"client_id"`
	Username    string `mapstructure:"username"`
	Password    string `mapstructure:"password"`
	TopicPrefix string `mapstructure:"topic_prefix"`
	QoS         byte   `mapstructure:"qos"`
}

type InfluxDBConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url"`
	Token   string `mapstructure:"token"`
	Org     string `mapstructure:"org"`
	Bucket  string `mapstructure:"bucket"`
}

type Config struct {
	ECPath           string         `mapstructure:"ec_path"`
	WriteSupportPath string         `mapstructure:"write_support_path"`
	Profiles         string         `mapstructure:"profiles"`
	Board            string         `mapstructure:"board"`
	FallbackBoard    string         `mapstructure:"fallback_board"`
	Interval         int            `mapstructure:"interval"`
	Hysteresis       int            `mapstructure:"hysteresis"`
	Smoothing        int            `mapstructure:"smoothing"`
	CurveFile        string         `mapstructure:"curve_file"`
	PIDFile          string         `mapstructure:"pid_file"`
	LogLevel         string         `mapstructure:"log_level"`
	Debug            bool           `mapstructure:"debug"`
	Verbose          bool           `mapstructure:"verbose"`
	Retry            RetryConfig    `mapstructure:"retry"`
	History          HistoryConfig  `mapstructure:"history"`
	MQTT             MQTTConfig     `mapstructure:"mqtt"`
	InfluxDB         InfluxDBConfig `mapstructure:"influxdb"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ec_path", DefaultECPath)
	v.SetDefault("write_support_path", DefaultWriteSupportPath)
	v.SetDefault("profiles", DefaultProfiles)
	v.SetDefault("board", "")
	v.SetDefault("fallback_board", DefaultFallbackBoard)
	v.SetDefault("interval", DefaultInterval)
	v.SetDefault("hysteresis", DefaultHysteresis)
	v.SetDefault("smoothing", DefaultSmoothing)
	v.SetDefault("curve_file", "")
	v.SetDefault("pid_file", DefaultPIDFile)
	v.SetDefault("log_level", string(DefaultLogLevel))
	v.SetDefault("debug", false)
	v.SetDefault("verbose", false)
	v.SetDefault("retry.attempts", DefaultRetryAttempts)
	v.SetDefault("retry.backoff", DefaultRetryBackoff)
	v.SetDefault("history.enabled", false)
	v.SetDefault("history.db_path", DefaultHistoryDB)
	v.SetDefault("history.batch_size", DefaultBatchSize)
	v.SetDefault("history.batch_timeout", DefaultBatchTimeout)
	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.broker", "")
	v.SetDefault("mqtt.client_id", DefaultMQTTClientID)
	v.SetDefault("mqtt.username", "")
	v.SetDefault("mqtt.password", "")
	v.SetDefault("mqtt.topic_prefix", DefaultMQTTTopicPrefix)
	v.SetDefault("mqtt.qos", 0)
	v.SetDefault("influxdb.enabled", false)
	v.SetDefault("influxdb.url", "")
	v.SetDefault("influxdb.token", "")
	v.SetDefault("influxdb.org", "")
	v.SetDefault("influxdb.bucket", "")
}

// RegisterFlags defines the flags that override configuration keys.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("config", "", "Configuration file (default "+DefaultConfigFile+")")
	fs.String("ec-path", DefaultECPath, "EC register file")
	fs.String("profiles", DefaultProfiles, "Profile database")
	fs.String("board", "", "Board identifier (default: detect)")
	fs.String("fallback-board", DefaultFallbackBoard, "Profile used when the detected board has none")
	fs.Int("interval", DefaultInterval, "Sampling interval in seconds")
	fs.Int("hysteresis", DefaultHysteresis, "Minimum duty change in percent")
	fs.Int("smoothing", DefaultSmoothing, "Temperature samples averaged when following curves")
	fs.String("curve-file", "", "YAML fan curve definition")
	fs.String("pid-file", DefaultPIDFile, "PID file used in follow mode")
	fs.String("log-level", string(DefaultLogLevel), "Log level (debug, info, warning, error)")
	fs.Bool("debug", false, "Enable debugging mode")
	fs.Bool("verbose", false, "Enable verbose logging")
}

// Load reads defaults, the TOML configuration file, ISWCTL_* environment
// variables and flags, in increasing order of precedence. flags may be nil.
func Load(flags *pflag.FlagSet, opts ...Option) (*Config, error) {
	errFactory := errors.New()

	o := options{envPrefix: DefaultEnvPrefix}
	for _, opt := range opts {
		if err := opt(&o); err != nil {
			return nil, errFactory.Wrap(errors.ErrInvalidConfig, err)
		}
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(o.envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		if f := flags.Lookup("config"); f != nil && f.Changed {
			o.configPath = f.Value.String()
		}
		if err := bindFlags(v, flags); err != nil {
			return nil, err
		}
	}

	if err := readConfigFile(v, o); err != nil {
		return nil, err
	}

	config := &Config{}
	if err := v.Unmarshal(config); err != nil {
		return nil, errFactory.Wrap(errors.ErrInvalidConfig, err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func bindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	var bindErr error
	flags.VisitAll(func(f *pflag.Flag) {
		key := strings.ReplaceAll(f.Name, "-", "_")
		if bindErr != nil || key == "config" || !v.IsSet(key) {
			return
		}
		if err := v.BindPFlag(key, f); err != nil {
			bindErr = errors.New().WrapWithData(errors.ErrBindFlags, err, struct{ Flag string }{f.Name})
		}
	})
	return bindErr
}

// readConfigFile loads the explicit file, the file named by <PREFIX>_CONFIG,
// or the default file. Only the default file may be absent.
func readConfigFile(v *viper.Viper, o options) error {
	path := o.configPath
	if path == "" {
		path = os.Getenv(o.envPrefix + "_CONFIG")
	}
	explicit := path != ""
	if !explicit {
		path = DefaultConfigFile
	}

	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		if !explicit && stderrors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return errors.New().WrapWithData(errors.ErrReadConfig, err, struct{ Path string }{path})
	}

	return nil
}

// Validate checks value ranges after all sources are merged.
func (c *Config) Validate() error {
	errFactory := errors.New()

	if c.Interval <= 0 {
		return errFactory.WithData(errors.ErrInvalidInterval, struct{ Interval int }{c.Interval})
	}
	if c.Hysteresis < 0 || c.Hysteresis > 100 {
		return errFactory.WithData(errors.ErrInvalidConfig, struct{ Hysteresis int }{c.Hysteresis}).
			WithMessage("hysteresis must be between 0 and 100")
	}
	if c.Smoothing < 1 {
		return errFactory.WithData(errors.ErrInvalidConfig, struct{ Smoothing int }{c.Smoothing}).
			WithMessage("smoothing must be at least 1")
	}
	level, err := ParseLogLevel(c.LogLevel)
	if err != nil {
		return err
	}
	c.LogLevel = level.String()
	if c.Retry.Attempts < 1 {
		return errFactory.WithMessage(errors.ErrInvalidConfig, "retry.attempts must be at least 1")
	}
	if c.History.Enabled && c.History.DBPath == "" {
		return errFactory.WithMessage(errors.ErrInvalidConfig, "history.db_path is required")
	}
	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		return errFactory.WithMessage(errors.ErrInvalidConfig, "mqtt.broker is required")
	}
	if c.MQTT.QoS > 2 {
		return errFactory.WithData(errors.ErrInvalidConfig, struct{ QoS byte }{c.MQTT.QoS}).
			WithMessage("mqtt.qos must be 0, 1 or 2")
	}
	if c.InfluxDB.Enabled && (c.InfluxDB.URL == "" || c.InfluxDB.Bucket == "") {
		return errFactory.WithMessage(errors.ErrInvalidConfig, "influxdb.url and influxdb.bucket are required")
	}

	return nil
}

// IntervalDuration returns the sampling interval.
func (c *Config) IntervalDuration() time.Duration {
	return time.Duration(c.Interval) * time.Second
}

// EffectiveLogLevel applies the --debug and --verbose shortcuts.
func (c *Config) EffectiveLogLevel() LogLevel {
	switch {
	case c.Debug:
		return LogLevelDebug
	case c.Verbose:
		return LogLevelInfo
	}
	return LogLevel(c.LogLevel)
}
