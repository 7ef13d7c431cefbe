package config

import (
	"log/slog"
	"strconv"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/spf13/viper"
)

const (
	EnvDev     = "dev"
	EnvStaging = "staging"
	EnvProd    = "prod"
)

const (
	LogLevelDebug = "debug"
	LogLevelInfo  = "info"
	LogLevelWarn  = "warn"
	LogLevelError = "error"
)

// Algorithms accepted by the strategy configuration.
var Algorithms = []interface{}{"WRR", "LR", "Random", "RingHash", "Maglev", "PeakEWMA"}

type SimulationConfig struct {
	Clients  int    `mapstructure:"clients"`
	Servers  int    `mapstructure:"servers"`
	StopTime string `mapstructure:"stop_time"`
	Seed     uint64 `mapstructure:"seed"`
}

type TrafficConfig struct {
	RequestCount    int    `mapstructure:"request_count"`
	RequestInterval string `mapstructure:"request_interval"`
	RequestSize     int    `mapstructure:"request_size"`
}

type NetworkConfig struct {
	VIP        string `mapstructure:"vip"`
	LBPort     int    `mapstructure:"lb_port"`
	LinkDelay  string `mapstructure:"link_delay"`
	SendBuffer int    `mapstructure:"send_buffer"`
}

type BackendsConfig struct {
	Weights string `mapstructure:"weights"`
	Delays  string `mapstructure:"delays"`
}

type StrategyConfig struct {
	Algorithm         string  `mapstructure:"algorithm"`
	ActiveRequestBias float64 `mapstructure:"active_request_bias"`
	MinRingSize       uint64  `mapstructure:"min_ring_size"`
	MaxRingSize       uint64  `mapstructure:"max_ring_size"`
	TableSize         uint64  `mapstructure:"table_size"`
	DecayTime         string  `mapstructure:"decay_time"`
}

type LoggingConfig struct {
	Level       string `mapstructure:"level"`
	Environment string `mapstructure:"environment"`
}

type Config struct {
	Simulation SimulationConfig `mapstructure:"simulation"`
	Traffic    TrafficConfig    `mapstructure:"traffic"`
	Network    NetworkConfig    `mapstructure:"network"`
	Backends   BackendsConfig   `mapstructure:"backends"`
	Strategy   StrategyConfig   `mapstructure:"strategy"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// SetDefaults installs every default into the given viper instance. The
// defaults reproduce the canonical ten-server scenario with one slow
// backend.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("simulation.clients", 10)
	v.SetDefault("simulation.servers", 10)
	v.SetDefault("simulation.stop_time", "15s")
	v.SetDefault("simulation.seed", 1)
	v.SetDefault("traffic.request_count", 100)
	v.SetDefault("traffic.request_interval", "100ms")
	v.SetDefault("traffic.request_size", 100)
	v.SetDefault("network.vip", "192.168.1.1")
	v.SetDefault("network.lb_port", 80)
	v.SetDefault("network.link_delay", "25us")
	v.SetDefault("network.send_buffer", 65536)
	v.SetDefault("backends.weights", "1,1,1,1,1,1,1,1,1,1")
	v.SetDefault("backends.delays", "5,5,5,5,5,5,5,5,5,50")
	v.SetDefault("strategy.algorithm", "PeakEWMA")
	v.SetDefault("strategy.active_request_bias", 1.0)
	v.SetDefault("strategy.min_ring_size", 1024)
	v.SetDefault("strategy.max_ring_size", 8*1024*1024)
	v.SetDefault("strategy.table_size", 65537)
	v.SetDefault("strategy.decay_time", "10s")
	v.SetDefault("logging.level", LogLevelInfo)
	v.SetDefault("logging.environment", EnvDev)
}

// Load reads the configuration from an optional config file, environment
// variables and whatever was bound into the given viper instance.
func Load(v *viper.Viper) (*Config, error) {
	SetDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./config")
	v.AddConfigPath(".")

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			slog.Error("failed to read config file", slog.String("error", err.Error()))
			return nil, err
		}
		slog.Debug("config file not found, using defaults and environment variables")
	} else {
		slog.Info("loaded config file", slog.String("file", v.ConfigFileUsed()))
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		slog.Error("failed to unmarshal config", slog.String("error", err.Error()))
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", slog.String("error", err.Error()))
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Simulation,
			validation.Required,
			validation.By(func(value interface{}) error {
				sc, ok := value.(SimulationConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a SimulationConfig")
				}
				return validation.ValidateStruct(&sc,
					validation.Field(&sc.Clients, validation.Required, validation.Min(1)),
					validation.Field(&sc.Servers, validation.Required, validation.Min(1)),
					validation.Field(&sc.StopTime, validation.Required, validation.By(validateDuration)),
				)
			}),
		),
		validation.Field(&c.Traffic,
			validation.Required,
			validation.By(func(value interface{}) error {
				tc, ok := value.(TrafficConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a TrafficConfig")
				}
				return validation.ValidateStruct(&tc,
					validation.Field(&tc.RequestCount, validation.Min(0)),
					validation.Field(&tc.RequestInterval, validation.Required, validation.By(validateDuration)),
					validation.Field(&tc.RequestSize, validation.Min(0)),
				)
			}),
		),
		validation.Field(&c.Network,
			validation.Required,
			validation.By(func(value interface{}) error {
				nc, ok := value.(NetworkConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a NetworkConfig")
				}
				return validation.ValidateStruct(&nc,
					validation.Field(&nc.VIP, validation.Required, is.Host),
					validation.Field(&nc.LBPort, validation.Required, validation.Min(1), validation.Max(65535)),
					validation.Field(&nc.LinkDelay, validation.Required, validation.By(validateDuration)),
					validation.Field(&nc.SendBuffer, validation.Min(1)),
				)
			}),
		),
		validation.Field(&c.Backends,
			validation.Required,
			validation.By(func(value interface{}) error {
				bc, ok := value.(BackendsConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a BackendsConfig")
				}
				return validation.ValidateStruct(&bc,
					validation.Field(&bc.Weights, validation.Required),
					validation.Field(&bc.Delays, validation.Required),
				)
			}),
		),
		validation.Field(&c.Strategy,
			validation.Required,
			validation.By(func(value interface{}) error {
				sc, ok := value.(StrategyConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a StrategyConfig")
				}
				return validation.ValidateStruct(&sc,
					validation.Field(&sc.Algorithm, validation.Required, validation.In(Algorithms...)),
					validation.Field(&sc.ActiveRequestBias, validation.Min(0.0)),
					validation.Field(&sc.MinRingSize, validation.Required, validation.Min(uint64(1))),
					validation.Field(&sc.MaxRingSize, validation.Required, validation.By(func(interface{}) error {
						if sc.MinRingSize > sc.MaxRingSize {
							return validation.NewError("validation_ring_size", "min_ring_size must not exceed max_ring_size")
						}
						return nil
					})),
					validation.Field(&sc.TableSize, validation.Required, validation.Min(uint64(1))),
					validation.Field(&sc.DecayTime, validation.Required, validation.By(validateMinDuration(time.Millisecond))),
				)
			}),
		),
		validation.Field(&c.Logging,
			validation.Required,
			validation.By(func(value interface{}) error {
				lc, ok := value.(LoggingConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a LoggingConfig")
				}
				return validation.ValidateStruct(&lc,
					validation.Field(&lc.Level,
						validation.Required,
						validation.In(LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError),
					),
					validation.Field(&lc.Environment,
						validation.Required,
						validation.In(EnvDev, EnvStaging, EnvProd),
					),
				)
			}),
		),
	)
}

func validateDuration(value interface{}) error {
	durationStr, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}

	if _, err := time.ParseDuration(durationStr); err != nil {
		return validation.NewError("validation_invalid_duration", "must be a valid duration (e.g., 2s, 5m, 1h)")
	}

	return nil
}

func validateMinDuration(minimum time.Duration) validation.RuleFunc {
	return func(value interface{}) error {
		durationStr, ok := value.(string)
		if !ok {
			return validation.NewError("validation_invalid_type", "must be a string")
		}
		d, err := time.ParseDuration(durationStr)
		if err != nil {
			return validation.NewError("validation_invalid_duration", "must be a valid duration (e.g., 2s, 5m, 1h)")
		}
		if d < minimum {
			return validation.NewError("validation_duration_too_small", "must be at least "+minimum.String())
		}
		return nil
	}
}

// StopTime returns the parsed simulation stop time.
func (c *Config) StopTime() time.Duration {
	return mustDuration(c.Simulation.StopTime)
}

// RequestInterval returns the parsed client request interval.
func (c *Config) RequestInterval() time.Duration {
	return mustDuration(c.Traffic.RequestInterval)
}

// LinkDelay returns the parsed per-link propagation delay.
func (c *Config) LinkDelay() time.Duration {
	return mustDuration(c.Network.LinkDelay)
}

// DecayTime returns the parsed Peak-EWMA decay window.
func (c *Config) DecayTime() time.Duration {
	return mustDuration(c.Strategy.DecayTime)
}

// mustDuration assumes the string already passed Validate.
func mustDuration(s string) time.Duration {
	d, _ := time.ParseDuration(s)
	return d
}

const defaultWeight = 1

// ParseWeights parses a comma-separated weight list. Empty or invalid
// segments fall back to the default weight of one, with a warning.
func ParseWeights(weights string) []uint32 {
	var out []uint32
	for _, segment := range strings.Split(weights, ",") {
		segment = strings.TrimSpace(segment)
		if segment == "" {
			slog.Warn("empty weight segment, using default", slog.Int("default", defaultWeight))
			out = append(out, defaultWeight)
			continue
		}
		w, err := strconv.ParseUint(segment, 10, 32)
		if err != nil || w == 0 {
			slog.Warn("invalid weight segment, using default",
				slog.String("segment", segment),
				slog.Int("default", defaultWeight))
			out = append(out, defaultWeight)
			continue
		}
		out = append(out, uint32(w))
	}
	return out
}

// ParseDelays parses a comma-separated list of processing delays in
// milliseconds. Empty or invalid segments fall back to zero.
func ParseDelays(delays string) []time.Duration {
	var out []time.Duration
	for _, segment := range strings.Split(delays, ",") {
		segment = strings.TrimSpace(segment)
		if segment == "" {
			slog.Warn("empty delay segment, using 0ms")
			out = append(out, 0)
			continue
		}
		ms, err := strconv.ParseFloat(segment, 64)
		if err != nil || ms < 0 {
			slog.Warn("invalid delay segment, using 0ms", slog.String("segment", segment))
			out = append(out, 0)
			continue
		}
		out = append(out, time.Duration(ms*float64(time.Millisecond)))
	}
	return out
}
