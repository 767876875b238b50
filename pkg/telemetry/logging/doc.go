// Package logging configures log/slog for the governor.
//
// New builds a JSON or text handler at the configured level. Attributes
// whose keys look like secrets are masked, and request-scoped fields stored
// in the context (request id, feature, team) are added to every record
// logged with a context.
package logging
