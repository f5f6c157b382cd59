// Package bot is the chat front end. It parses slash command and
// interactive action webhooks, translates them into bridge calls, and
// rewrites the approval message once a decision is taken. User facing
// failures are reported ephemerally so the shared thread stays clean.
package bot
