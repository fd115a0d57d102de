// Package sanitizer normalizes free-form user input before validation and storage.
//
// All functions are idempotent and never return errors: input that cannot be
// normalized comes back empty.
//
// Normalization includes:
//   - Phone numbers: E.164 (+[country][number]), used for time-zone inference
//   - Free text (names, booking reasons): collapsed whitespace, trimmed, length capped
//   - Identifiers: trimmed, lowercased
package sanitizer
