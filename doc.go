// Package realtime runs a spoken conversation with the OpenAI Realtime API
// over WebRTC and lets the model call host-registered tools mid-conversation.
//
// A CredentialSource fetches a short-lived credential from a backend, a
// Negotiator exchanges SDP with the realtime endpoint and returns a
// Transport, and an Engine consumes the control channel of that transport:
// it tracks turns, assembles transcripts, dispatches function calls through
// a functions.Registry and reports progress to a Notifier.
package realtime
