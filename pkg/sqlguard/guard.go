// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at AquaOps (https://www.aquaops.io/).
// Copyright 2025-present AquaOps, Inc.

// Package sqlguard validates that a statement is a single read-only
// query before it is allowed anywhere near the target database. It is
// the safety boundary for user-provided and generated SQL, and runs on
// every rule creation and every poll.
package sqlguard

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrUnsafeSQL is returned when a statement is not a single read-only query.
var ErrUnsafeSQL = errors.New("unsafe sql")

// Info carries what the guard learned about a validated statement.
type Info struct {
	Statement string   // "select" or "with"
	Tables    []string // best-effort list of referenced tables
}

// Keywords that must not appear anywhere in the statement, even nested
// in subqueries or CTE bodies.
var forbiddenKeywords = []string{
	"insert", "update", "delete", "drop", "create", "alter",
	"truncate", "grant", "revoke", "copy", "execute", "call",
	"do", "merge", "comment", "vacuum", "lock", "set",
}

var forbiddenFunctions = []string{
	"pg_sleep", "into outfile", "into dumpfile",
}

var (
	lineCommentRe  = regexp.MustCompile(`--[^\n]*`)
	blockCommentRe = regexp.MustCompile(`(?s)/\*.*?\*/`)
	stringRe       = regexp.MustCompile(`'(?:[^']|'')*'`)
	wordRe         = regexp.MustCompile(`[a-z_][a-z0-9_$]*`)
	tableRe        = regexp.MustCompile(`(?i)\b(?:from|join)\s+([a-zA-Z_][a-zA-Z0-9_.$]*)`)
)

// Validate checks sql and returns the normalized statement. It fails
// with an error wrapping ErrUnsafeSQL for anything but a single
// SELECT/WITH query.
func Validate(sql string) (string, *Info, error) {
	normalized := strings.TrimSpace(sql)
	normalized = strings.TrimSuffix(normalized, ";")
	normalized = strings.TrimSpace(normalized)
	if normalized == "" {
		return "", nil, fmt.Errorf("%w: empty statement", ErrUnsafeSQL)
	}

	// Comments can hide keywords from naive scanning; strip them before
	// any checks and reject the statement if stripping changed nothing
	// but left a semicolon splitting two statements.
	stripped := blockCommentRe.ReplaceAllString(normalized, " ")
	stripped = lineCommentRe.ReplaceAllString(stripped, " ")
	if strings.Contains(stripped, ";") {
		return "", nil, fmt.Errorf("%w: multiple statements", ErrUnsafeSQL)
	}

	// String literals may legitimately contain anything.
	scannable := stringRe.ReplaceAllString(strings.ToLower(stripped), "''")

	statement := firstWord(scannable)
	if statement != "select" && statement != "with" {
		return "", nil, fmt.Errorf("%w: only SELECT queries are allowed, got %q", ErrUnsafeSQL, statement)
	}

	words := map[string]bool{}
	for _, w := range wordRe.FindAllString(scannable, -1) {
		words[w] = true
	}
	for _, kw := range forbiddenKeywords {
		if words[kw] {
			return "", nil, fmt.Errorf("%w: forbidden keyword %q", ErrUnsafeSQL, strings.ToUpper(kw))
		}
	}
	for _, fn := range forbiddenFunctions {
		if strings.Contains(scannable, fn) {
			return "", nil, fmt.Errorf("%w: forbidden construct %q", ErrUnsafeSQL, fn)
		}
	}

	info := &Info{Statement: statement, Tables: referencedTables(stripped)}
	return normalized, info, nil
}

func firstWord(s string) string {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

func referencedTables(sql string) []string {
	seen := map[string]bool{}
	var tables []string
	for _, m := range tableRe.FindAllStringSubmatch(sql, -1) {
		name := strings.ToLower(m[1])
		if !seen[name] {
			seen[name] = true
			tables = append(tables, name)
		}
	}
	return tables
}
