// Package events provides an in-process publish/subscribe bus for task
// lifecycle notifications.
//
// Components publish events without knowing who consumes them, and any number
// of observers (logging, archiving, alerting) subscribe to a topic and receive
// events on their own channel. This replaces a single error callback with a
// fan-out that lets observers come and go independently.
//
// The primary components are:
// - Event: the interface every published value implements
// - Bus: a channel-based bus with topic and all-topic subscriptions
package events
