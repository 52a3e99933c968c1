// Package matrix connects the warden to a Matrix homeserver.
//
// BotSession implements fleet.Session for one bot identity: login is a
// whoami check followed by a background /sync loop, logout stops the loop
// and sets presence offline without invalidating the token.
//
// Manager is the manager identity. It listens for text messages, filters
// out its own events, backlog and redeliveries, and performs the control
// room operations: notices, topic, presence, replies, redaction and purge.
// Outgoing markdown is rendered to HTML with goldmark.
package matrix
