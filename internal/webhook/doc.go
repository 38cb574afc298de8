// Package webhook receives LINE platform events, verifies their signature
// and answers the bot's text commands.
//
// Verified payloads are always acknowledged with 200 so the platform does not
// retry; failures while handling a command are logged and otherwise ignored.
package webhook
