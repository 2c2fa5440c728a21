// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at AquaOps (https://www.aquaops.io/).
// Copyright 2025-present AquaOps, Inc.

package rules

import (
	"regexp"
	"strconv"
)

// DefaultRowGate is the fallback condition threshold applied when an
// expression does not parse.
const DefaultRowGate = "rows > 0"

var rowGateRe = regexp.MustCompile(`^\s*rows\s*(>=|>|==|!=)\s*(\d+)\s*$`)

// EvaluateRowGate applies a "rows <op> <n>" expression to a row count.
// Supported operators are >, >=, == and !=. Anything unparseable is
// treated as the default "rows > 0".
func EvaluateRowGate(expr string, rows int) bool {
	op, threshold, ok := parseRowGate(expr)
	if !ok {
		op, threshold = ">", 0
	}
	switch op {
	case ">":
		return rows > threshold
	case ">=":
		return rows >= threshold
	case "==":
		return rows == threshold
	case "!=":
		return rows != threshold
	}
	return false
}

func parseRowGate(expr string) (string, int, bool) {
	m := rowGateRe.FindStringSubmatch(expr)
	if m == nil {
		return "", 0, false
	}
	n, err := strconv.Atoi(m[2])
	if err != nil {
		return "", 0, false
	}
	return m[1], n, true
}
