// Package ai provides the Gemini-backed assistant: natural-language
// command parsing, reply drafting, inbox categorization and digests.
package ai
