package adaptive

import (
	"math"
	"strings"
	"time"

	"github.com/spf13/cast"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every recognized environment key.
const EnvPrefix = "OCR"

// Recognized keys. With the OCR prefix they map to environment variables such
// as OCR_EXPRESS_MAX_CONCURRENT.
const (
	KeyResourceMode            = "resource_mode"
	KeyExpressMaxConcurrent    = "express_max_concurrent"
	KeyStandardMaxConcurrent   = "standard_max_concurrent"
	KeyBackgroundMaxConcurrent = "background_max_concurrent"
	KeyBorrowingEnabled        = "enable_resource_borrowing"
	KeyBorrowingThreshold      = "borrowing_threshold"
	KeyUsageAdaptationEnabled  = "enable_usage_adaptation"
	KeyUsageWindowMinutes      = "usage_window_minutes"
	KeyModeSwitchThreshold     = "mode_switch_threshold"
	KeyBulkOperationThreshold  = "bulk_operation_threshold"
	KeyMinSamplesForSwitch     = "min_samples_for_switch"
	KeyMetricsIntervalSeconds  = "metrics_interval_seconds"
	KeyCleanupIntervalSeconds  = "cleanup_interval_seconds"
	KeyMemoryCleanupThreshold  = "memory_cleanup_threshold"
	KeyHistoryRetentionMinutes = "history_retention_minutes"
	KeyHistorySize             = "history_size"
	KeyBackgroundQueueLimit    = "background_queue_limit"
	KeyCapacityRestoreMinutes  = "capacity_restore_minutes"
	KeyWorkerCount             = "worker_count"
)

// NewEnvSource returns a viper instance bound to the OCR_* environment.
func NewEnvSource() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	return v
}

// Load reads the configuration from the process environment.
func Load() *Config {
	return LoadFrom(NewEnvSource())
}

// LoadFrom reads the configuration from v. Missing keys keep their defaults.
// Values that cannot be parsed fall back to the default and values outside
// their documented range are clamped; both cases are logged as warnings and
// neither is fatal.
func LoadFrom(v *viper.Viper) *Config {
	c := DefaultConfig()
	r := &reader{v: v}

	if raw := v.GetString(KeyResourceMode); raw != "" {
		m, err := ParseMode(raw)
		if err != nil {
			log.Warnf("Ignoring %s: %v; using %s", envName(KeyResourceMode), err, c.mode)
		} else {
			c.mode = m
		}
	}

	c.Capacities.Express = r.intValue(KeyExpressMaxConcurrent, c.Capacities.Express, CapacityRange)
	c.Capacities.Standard = r.intValue(KeyStandardMaxConcurrent, c.Capacities.Standard, CapacityRange)
	c.Capacities.Background = r.intValue(KeyBackgroundMaxConcurrent, c.Capacities.Background, CapacityRange)

	c.BorrowingEnabled = r.boolValue(KeyBorrowingEnabled, c.BorrowingEnabled)
	c.BorrowingThreshold = r.floatValue(KeyBorrowingThreshold, c.BorrowingThreshold, BorrowingThresholdRange)

	c.UsageAdaptationEnabled = r.boolValue(KeyUsageAdaptationEnabled, c.UsageAdaptationEnabled)
	c.AdaptationWindow = r.minutesValue(KeyUsageWindowMinutes, c.AdaptationWindow, UsageWindowMinutesRange)
	c.ModeSwitchThreshold = r.floatValue(KeyModeSwitchThreshold, c.ModeSwitchThreshold, ModeSwitchThresholdRange)
	c.BulkThreshold = r.intValue(KeyBulkOperationThreshold, c.BulkThreshold, BulkThresholdRange)
	c.MinSamplesForSwitch = r.intValue(KeyMinSamplesForSwitch, c.MinSamplesForSwitch, MinSamplesRange)

	c.MetricsInterval = r.secondsValue(KeyMetricsIntervalSeconds, c.MetricsInterval, MetricsIntervalSecondsRange)
	c.CleanupInterval = r.secondsValue(KeyCleanupIntervalSeconds, c.CleanupInterval, CleanupIntervalSecondsRange)

	c.MemoryCleanupThreshold = r.floatValue(KeyMemoryCleanupThreshold, c.MemoryCleanupThreshold, MemoryThresholdRange)
	c.HistoryRetention = r.minutesValue(KeyHistoryRetentionMinutes, c.HistoryRetention, RetentionMinutesRange)
	c.CompletedHistorySize = r.intValue(KeyHistorySize, c.CompletedHistorySize, HistorySizeRange)

	c.BackgroundQueueLimit = r.intValue(KeyBackgroundQueueLimit, c.BackgroundQueueLimit, QueueLimitRange)
	c.CapacityRestoreInterval = r.minutesValue(KeyCapacityRestoreMinutes, c.CapacityRestoreInterval, RestoreMinutesRange)
	c.WorkerCount = r.intValue(KeyWorkerCount, c.WorkerCount, WorkerCountRange)

	log.Infof("Loaded configuration: mode=%s capacities=%d/%d/%d borrowing=%v(%.2f) adaptation=%v window=%v",
		c.mode, c.Capacities.Express, c.Capacities.Standard, c.Capacities.Background,
		c.BorrowingEnabled, c.BorrowingThreshold, c.UsageAdaptationEnabled, c.AdaptationWindow)

	return c
}

type reader struct {
	v *viper.Viper
}

func envName(key string) string {
	return EnvPrefix + "_" + strings.ToUpper(key)
}

func (r *reader) number(key string, def float64) (float64, bool) {
	raw := r.v.Get(key)
	if raw == nil {
		return def, false
	}
	if s, ok := raw.(string); ok && s == "" {
		return def, false
	}
	f, err := cast.ToFloat64E(raw)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		log.Warnf("Invalid value %v for %s, using default %g", raw, envName(key), def)
		return def, false
	}
	return f, true
}

func (r *reader) clamp(key string, f float64, rng Range) float64 {
	clamped, changed := rng.Clamp(f)
	if changed {
		log.Warnf("%s=%g outside [%g, %g], clamped to %g", envName(key), f, rng.Min, rng.Max, clamped)
	}
	return clamped
}

func (r *reader) intValue(key string, def int, rng Range) int {
	f, ok := r.number(key, float64(def))
	if !ok {
		return def
	}
	if f != math.Trunc(f) {
		log.Warnf("%s=%g is not an integer, truncating", envName(key), f)
		f = math.Trunc(f)
	}
	return int(r.clamp(key, f, rng))
}

func (r *reader) floatValue(key string, def float64, rng Range) float64 {
	f, ok := r.number(key, def)
	if !ok {
		return def
	}
	return r.clamp(key, f, rng)
}

func (r *reader) minutesValue(key string, def time.Duration, rng Range) time.Duration {
	f, ok := r.number(key, def.Minutes())
	if !ok {
		return def
	}
	return time.Duration(r.clamp(key, f, rng) * float64(time.Minute))
}

func (r *reader) secondsValue(key string, def time.Duration, rng Range) time.Duration {
	f, ok := r.number(key, def.Seconds())
	if !ok {
		return def
	}
	return time.Duration(r.clamp(key, f, rng) * float64(time.Second))
}

func (r *reader) boolValue(key string, def bool) bool {
	raw := r.v.Get(key)
	if raw == nil {
		return def
	}
	if s, ok := raw.(string); ok && s == "" {
		return def
	}
	b, err := cast.ToBoolE(raw)
	if err != nil {
		log.Warnf("Invalid value %v for %s, using default %v", raw, envName(key), def)
		return def
	}
	return b
}
