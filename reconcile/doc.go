// Package reconcile periodically cancels runs whose approval deadline has
// passed without a human decision. Each expired run is fenced by a
// write-once notified marker before any outward action, so a crash between
// marking and notifying leaves a silent cancellation rather than a
// duplicate one.
package reconcile
