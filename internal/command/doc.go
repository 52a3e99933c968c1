// Package command turns control room chat into fleet operations.
//
// Parse recognises !addbot, !delbot, !init-url, !clear and !help. The
// Interpreter runs a parsed command through a fixed handler table and
// always answers the sender. A missing argument produces the verb's usage
// line; any other text is ignored.
package command
