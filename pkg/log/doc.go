/*
Package log provides structured logging built on zerolog: a global logger
configured once at startup, plus child-logger constructors that attach the
identifiers this system's components log against most often — block number,
account ID, aggregated-action/ETHOperation ID — instead of repeating
.Str()/.Uint32() calls at every call site.

ConsoleWriter output is the default; JSON output is selected with
Config.JSONOutput (the node's log_json setting or --log-json flag).
*/
package log
