// Package adaptive holds the tunable parameters of the OCR resource governor.
//
// The configuration is read once at startup from OCR_* environment
// variables. Every value has a default and numeric values are clamped into a
// documented range; a value that cannot be parsed or lies outside its range
// is logged as a warning and never stops the process.
//
// # Environment
//
//	OCR_RESOURCE_MODE                 balanced | bulk_heavy | single_focused   (balanced)
//	OCR_EXPRESS_MAX_CONCURRENT        1..16                                    (2)
//	OCR_STANDARD_MAX_CONCURRENT       1..16                                    (2)
//	OCR_BACKGROUND_MAX_CONCURRENT     1..16                                    (1)
//	OCR_ENABLE_RESOURCE_BORROWING     bool                                     (true)
//	OCR_BORROWING_THRESHOLD           0.5..0.95                                (0.8)
//	OCR_ENABLE_USAGE_ADAPTATION       bool                                     (true)
//	OCR_USAGE_WINDOW_MINUTES          5..1440                                  (60)
//	OCR_MODE_SWITCH_THRESHOLD         0.5..0.95                                (0.7)
//	OCR_BULK_OPERATION_THRESHOLD      2..100                                   (10)
//	OCR_MIN_SAMPLES_FOR_SWITCH        1..10000                                 (20)
//	OCR_METRICS_INTERVAL_SECONDS      5..3600                                  (60)
//	OCR_CLEANUP_INTERVAL_SECONDS      30..3600                                 (300)
//	OCR_MEMORY_CLEANUP_THRESHOLD      0.5..0.95                                (0.85)
//	OCR_HISTORY_RETENTION_MINUTES     1..1440                                  (60)
//	OCR_HISTORY_SIZE                  10..100000                               (1000)
//	OCR_BACKGROUND_QUEUE_LIMIT        0..10000, 0 is unbounded                 (0)
//	OCR_CAPACITY_RESTORE_MINUTES      0..1440, 0 never restores                (0)
//	OCR_WORKER_COUNT                  0..256, 0 is GOMAXPROCS                  (0)
//
// # Runtime state
//
// The mode is the only value that changes after loading. It is guarded by
// the configuration's lock and changed by the governor's adaptive switching:
//
//	cfg := adaptive.Load()
//	prev := cfg.SetMode(adaptive.BulkHeavy)
//
// Everything else is read through GetSnapshot, which returns a copy that
// can be used without locking:
//
//	snap := cfg.GetSnapshot()
//	fmt.Println(snap.Capacities.Total())
//
// Configurations assembled in code, for example in tests, should be checked
// with Validate; Load always produces a valid one.
package adaptive
