// Package redact masks sensitive data in transcript text before it is sent
// to a remote scoring model.
//
// Rules are regular expressions with optional keyword gates and match
// checks. Matches are replaced by a bracketed label naming what was removed
// ("[CARD]", "[EMAIL]") so the model still sees that the counterpart shared
// the detail. Findings keep rule IDs and positions, never the matched value.
package redact
