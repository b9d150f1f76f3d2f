// Package config defines the Pulse configuration surface: batching strategy
// and bounds, compression, priority routing, the adaptive controller,
// metrics/trace/alert retention, monitor health-check cadence, and delivery
// failure policy.
//
// Configuration is loaded from a JSON or YAML file (by extension), overlaid
// with PULSE_* environment variables, and validated before use. Validation
// is strict: an out-of-bounds field rejects the whole update and the prior
// configuration stays in force.
package config
