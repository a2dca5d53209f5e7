// Package report provides report narrative generator implementations.
//
// The factory creates a generator based on provider configuration.
// Currently supports:
//   - Anthropic Claude
//   - none (reports ship without a narrative)
package report
