// Package mysql provides MySQL-backed persistence for solve verdicts,
// keeping a replayable archive of each session's turns alongside the
// operational task store.
package mysql
