// Package logx is the logging layer: a value-type Logger over zerolog with
// typed fields, a short caller on every record, and a Service that owns the
// outputs.
//
// Outputs are a human console, an optional JSON file, and an optional chat
// forwarder that sends warnings to an operator channel through the
// notifier, rate limited per minute. Service.Apply swaps them at runtime and
// every Logger derived from the Service follows.
package logx
