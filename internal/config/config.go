package config

import (
	"os"
	"strings"
	"time"

	"codeberg.org/mutker/loadlogger/internal/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	// EnvPrefix prefixes every environment override, e.g. LOADLOGGER_FLASH_DEVICE.
	EnvPrefix = "LOADLOGGER"
	// EnvConfigFile names an explicit configuration file.
	EnvConfigFile = EnvPrefix + "_CONFIG"

	configName = "loadlogger"
	configType = "toml"
	configDir  = "/etc/loadlogger"

	DefaultLogLevel = "warning"
)

type Config struct {
	Debug    bool   `mapstructure:"debug"`
	Verbose  bool   `mapstructure:"verbose"`
	LogLevel string `mapstructure:"log_level"`
	Simulate bool   `mapstructure:"simulate"`

	Sampling SamplingConfig `mapstructure:"sampling"`
	LoadCell LoadCellConfig `mapstructure:"loadcell"`
	Analog   AnalogConfig   `mapstructure:"analog"`
	Buffer   BufferConfig   `mapstructure:"buffer"`
	Flash    FlashConfig    `mapstructure:"flash"`
	Console  ConsoleConfig  `mapstructure:"console"`
	Log      LogConfig      `mapstructure:"log"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

// SamplingConfig holds the producer and supervisor cadences.
type SamplingConfig struct {
	LoadCellInterval time.Duration `mapstructure:"loadcell_interval"`
	PressureInterval time.Duration `mapstructure:"pressure_interval"`
	CheckInterval    time.Duration `mapstructure:"check_interval"`
}

// LoadCellConfig describes the HX711 wiring and calibration.
type LoadCellConfig struct {
	DataPin      string        `mapstructure:"data_pin"`
	ClockPin     string        `mapstructure:"clock_pin"`
	Gain         int           `mapstructure:"gain"`
	Scale        float32       `mapstructure:"scale"`
	TareSamples  int           `mapstructure:"tare_samples"`
	ReadSamples  int           `mapstructure:"read_samples"`
	Settle       time.Duration `mapstructure:"settle"`
	ReadyTimeout time.Duration `mapstructure:"ready_timeout"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

// AnalogConfig selects the IIO channel of the pressure/light transducer.
type AnalogConfig struct {
	Device    string  `mapstructure:"device"`
	Channel   int     `mapstructure:"channel"`
	Bits      int     `mapstructure:"bits"`
	FullScale float32 `mapstructure:"full_scale"`
}

type BufferConfig struct {
	Capacity int `mapstructure:"capacity"`
}

// FlashConfig describes the block device records are persisted to.
type FlashConfig struct {
	Device       string `mapstructure:"device"`
	Size         uint64 `mapstructure:"size"`
	StartAddress uint64 `mapstructure:"start_address"`
	Retries      int    `mapstructure:"retries"`
	Resume       bool   `mapstructure:"resume"`
}

type ConsoleConfig struct {
	Port     string `mapstructure:"port"`
	BaudRate int    `mapstructure:"baud_rate"`
}

type LogConfig struct {
	File      string `mapstructure:"file"`
	MaxSizeMB int    `mapstructure:"max_size_mb"`
}

type MetricsConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	DBPath       string `mapstructure:"db_path"`
	BatchSize    int    `mapstructure:"batch_size"`
	BatchTimeout int    `mapstructure:"batch_timeout"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("debug", false)
	v.SetDefault("verbose", false)
	v.SetDefault("log_level", DefaultLogLevel)
	v.SetDefault("simulate", false)

	v.SetDefault("sampling.loadcell_interval", 12*time.Millisecond)
	v.SetDefault("sampling.pressure_interval", 20*time.Millisecond)
	v.SetDefault("sampling.check_interval", time.Second)

	v.SetDefault("loadcell.data_pin", "GPIO5")
	v.SetDefault("loadcell.clock_pin", "GPIO4")
	v.SetDefault("loadcell.gain", 128)
	v.SetDefault("loadcell.scale", -3940)
	v.SetDefault("loadcell.tare_samples", 10)
	v.SetDefault("loadcell.read_samples", 1)
	v.SetDefault("loadcell.settle", 3*time.Second)
	v.SetDefault("loadcell.ready_timeout", time.Second)
	v.SetDefault("loadcell.poll_interval", time.Duration(0))

	v.SetDefault("analog.device", "iio:device0")
	v.SetDefault("analog.channel", 0)
	v.SetDefault("analog.bits", 12)
	v.SetDefault("analog.full_scale", 4095)

	v.SetDefault("buffer.capacity", 128)

	v.SetDefault("flash.device", "/var/lib/loadlogger/flash.img")
	v.SetDefault("flash.size", 16*1024*1024)
	v.SetDefault("flash.start_address", 0)
	v.SetDefault("flash.retries", 1)
	v.SetDefault("flash.resume", true)

	v.SetDefault("console.port", "")
	v.SetDefault("console.baud_rate", 115200)

	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 10)

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.db_path", "/var/lib/loadlogger/metrics.db")
	v.SetDefault("metrics.batch_size", 10)
	v.SetDefault("metrics.batch_timeout", 30)
}

func newFlagSet(name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.String("config", "", "Path to the configuration file")
	fs.Bool("debug", false, "Enable debugging mode")
	fs.Bool("verbose", false, "Enable verbose logging")
	fs.String("log-level", DefaultLogLevel, "Log level (debug, info, warning, error)")
	fs.Bool("simulate", false, "Use simulated sensors instead of GPIO/IIO hardware")
	fs.String("flash-device", "", "Block device or image file records are written to")
	fs.String("console-port", "", "Serial port mirroring the status console")
	fs.Bool("metrics", false, "Record flush statistics in the metrics database")

	return fs
}

// flagKeys maps flag names to their configuration keys.
var flagKeys = map[string]string{
	"debug":        "debug",
	"verbose":      "verbose",
	"log-level":    "log_level",
	"simulate":     "simulate",
	"flash-device": "flash.device",
	"console-port": "console.port",
	"metrics":      "metrics.enabled",
}

// Load reads the configuration from defaults, the config file, environment
// and command line arguments, in increasing order of precedence.
func Load(args []string) (*Config, error) {
	errFactory := errors.New()

	v := viper.New()
	setDefaults(v)

	fs := newFlagSet(configName)
	if err := fs.Parse(args); err != nil {
		return nil, errFactory.Wrap(errors.ErrBindFlags, err)
	}

	for name, key := range flagKeys {
		if err := v.BindPFlag(key, fs.Lookup(name)); err != nil {
			return nil, errFactory.Wrap(errors.ErrBindFlags, err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	path, _ := fs.GetString("config")
	if path == "" {
		path = os.Getenv(EnvConfigFile)
	}

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType(configType)
	} else {
		v.SetConfigName(configName)
		v.SetConfigType(configType)
		v.AddConfigPath(configDir)
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, errFactory.Wrap(errors.ErrReadConfig, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errFactory.Wrap(errors.ErrInvalidConfig, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks ranges the rest of the program relies on.
func (c *Config) Validate() error {
	errFactory := errors.New()

	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return errFactory.WithData(errors.ErrInvalidLogLevel, c.LogLevel)
	}

	intervals := map[string]time.Duration{
		"sampling.loadcell_interval": c.Sampling.LoadCellInterval,
		"sampling.pressure_interval": c.Sampling.PressureInterval,
		"sampling.check_interval":    c.Sampling.CheckInterval,
	}
	for key, d := range intervals {
		if d <= 0 {
			return errFactory.WithData(errors.ErrInvalidInterval, key+"="+d.String())
		}
	}

	switch {
	case c.LoadCell.Scale == 0:
		return errFactory.WithData(errors.ErrInvalidConfig, "loadcell.scale must not be zero")
	case c.LoadCell.TareSamples < 1:
		return errFactory.WithData(errors.ErrInvalidConfig, "loadcell.tare_samples must be at least 1")
	case c.Buffer.Capacity < 1:
		return errFactory.WithData(errors.ErrInvalidConfig, "buffer.capacity must be at least 1")
	case c.Flash.Device == "":
		return errFactory.WithData(errors.ErrMissingConfig, "flash.device")
	case c.Flash.Retries < 0:
		return errFactory.WithData(errors.ErrInvalidConfig, "flash.retries must not be negative")
	case c.Metrics.Enabled && c.Metrics.DBPath == "":
		return errFactory.WithData(errors.ErrMissingConfig, "metrics.db_path")
	}

	return nil
}
