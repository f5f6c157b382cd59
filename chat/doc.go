// Package chat owns the outbound messaging surface of a run: the incremental
// stream session lifecycle (open, append, close-once with idempotent close)
// and the builders for parent, approval, status and progress messages.
//
// A Session wraps one platform streaming message. Appending to a closed or
// never-opened session is a safe no-op and closing twice produces exactly one
// external close effect, so every terminal path in the bridge may call Close.
package chat
