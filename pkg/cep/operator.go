// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at AquaOps (https://www.aquaops.io/).
// Copyright 2025-present AquaOps, Inc.

package cep

import (
	"fmt"
	"math"
)

// Operator is a scalar comparison applied to a watched field.
type Operator string

// The six supported comparison operators. Equality is exact float
// comparison; callers wanting tolerance should use >= or <=.
const (
	OpGreater      Operator = ">"
	OpGreaterEqual Operator = ">="
	OpLess         Operator = "<"
	OpLessEqual    Operator = "<="
	OpEqual        Operator = "=="
	OpNotEqual     Operator = "!="
)

// ParseOperator returns the Operator for its textual form.
func ParseOperator(s string) (Operator, error) {
	switch Operator(s) {
	case OpGreater, OpGreaterEqual, OpLess, OpLessEqual, OpEqual, OpNotEqual:
		return Operator(s), nil
	}
	return "", fmt.Errorf("unknown operator %q", s)
}

// Evaluate applies the operator to value and threshold. NaN never
// satisfies any predicate.
func (op Operator) Evaluate(value, threshold float64) bool {
	if math.IsNaN(value) || math.IsNaN(threshold) {
		return false
	}
	switch op {
	case OpGreater:
		return value > threshold
	case OpGreaterEqual:
		return value >= threshold
	case OpLess:
		return value < threshold
	case OpLessEqual:
		return value <= threshold
	case OpEqual:
		return value == threshold
	case OpNotEqual:
		return value != threshold
	}
	return false
}
