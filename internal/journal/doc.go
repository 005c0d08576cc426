// Package journal persists a record of pipeline runs in SQLite: inputs,
// matching parameters, stage progress, and terminal outcome. The journal is
// optional at runtime; the pipeline degrades to unrecorded execution when it
// is disabled in configuration.
package journal
