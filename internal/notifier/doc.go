// Package notifier renders quest notifications and delivers them to chat
// sinks.
//
// Ready and pre-notifications go through Deliver, which is synchronous: the
// caller needs the delivery handle to record it against the task. Handles are
// opaque strings prefixed with the sink name ("tg:", "dc:") so Retract can
// route them back to the sink that issued them.
//
// Reset announcements and reminders go through Announce, an async queue with
// a worker pool and a dedup window keyed by text and target.
//
// Every send is rate limited and retried with jittered backoff. The first
// sink is primary; the others are mirrors whose failures are only logged.
package notifier
