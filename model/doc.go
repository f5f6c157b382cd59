// Package model defines the minimal streaming text generation contract used
// by the research pipeline's plan and report steps, plus a deterministic
// mock for tests. Provider subpackages adapt the official OpenAI and
// Anthropic SDKs to the Generator interface.
package model
