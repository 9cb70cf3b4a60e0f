/*
Package log configures the process-wide zerolog logger for hutch.

Init selects level, format (JSON or console) and destination once at
startup; until then a JSON-on-stderr default is in place. Subsystems derive
tagged child loggers (WithComponent, WithChannelID, WithEndpoint,
WithMethod) so every entry carries its origin without repeating fields at
each call site.
*/
package log
