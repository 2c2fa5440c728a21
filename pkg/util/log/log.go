// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at AquaOps (https://www.aquaops.io/).
// Copyright 2025-present AquaOps, Inc.

// Package log wraps seelog behind package-level helpers so callers never
// carry a logger around. SetupLogger must be called once at startup;
// before that, messages at warn and above fall back to stderr.
package log

import (
	"fmt"
	"os"
	"sync"

	"github.com/cihub/seelog"
)

var (
	mu     sync.RWMutex
	logger seelog.LoggerInterface
	level  seelog.LogLevel = seelog.InfoLvl
)

const seelogConfigTemplate = `
<seelog minlevel="%s">
  <outputs formatid="common">
    <console/>
  </outputs>
  <formats>
    <format id="common" format="%%Date(2006-01-02 15:04:05 MST) | AGENT | %%LEVEL | (%%ShortFilePath:%%Line in %%FuncShort) | %%Msg%%n"/>
  </formats>
</seelog>`

// SetupLogger configures the package logger with the given minimum level.
// Unknown levels fall back to "info".
func SetupLogger(logLevel string) error {
	lvl, ok := seelog.LogLevelFromString(logLevel)
	if !ok {
		lvl = seelog.InfoLvl
	}
	l, err := seelog.LoggerFromConfigAsString(fmt.Sprintf(seelogConfigTemplate, lvl.String()))
	if err != nil {
		return err
	}
	// Package-level helpers add two frames between the call site and seelog.
	l.SetAdditionalStackDepth(2) //nolint:errcheck

	mu.Lock()
	defer mu.Unlock()
	if logger != nil {
		logger.Flush()
		logger.Close()
	}
	logger = l
	level = lvl
	return nil
}

// ChangeLogLevel rebuilds the logger at a new minimum level.
func ChangeLogLevel(logLevel string) error {
	if _, ok := seelog.LogLevelFromString(logLevel); !ok {
		return fmt.Errorf("unknown log level: %s", logLevel)
	}
	return SetupLogger(logLevel)
}

// GetLogLevel returns the current minimum level.
func GetLogLevel() seelog.LogLevel {
	mu.RLock()
	defer mu.RUnlock()
	return level
}

// Flush flushes any buffered log entries.
func Flush() {
	mu.RLock()
	defer mu.RUnlock()
	if logger != nil {
		logger.Flush()
	}
}

func shouldLog(lvl seelog.LogLevel) bool {
	return lvl >= level
}

// Trace logs at the trace level
func Trace(v ...interface{}) {
	mu.RLock()
	defer mu.RUnlock()
	if logger != nil && shouldLog(seelog.TraceLvl) {
		logger.Trace(v...)
	}
}

// Tracef logs with format at the trace level
func Tracef(format string, params ...interface{}) {
	mu.RLock()
	defer mu.RUnlock()
	if logger != nil && shouldLog(seelog.TraceLvl) {
		logger.Tracef(format, params...)
	}
}

// Debug logs at the debug level
func Debug(v ...interface{}) {
	mu.RLock()
	defer mu.RUnlock()
	if logger != nil && shouldLog(seelog.DebugLvl) {
		logger.Debug(v...)
	}
}

// Debugf logs with format at the debug level
func Debugf(format string, params ...interface{}) {
	mu.RLock()
	defer mu.RUnlock()
	if logger != nil && shouldLog(seelog.DebugLvl) {
		logger.Debugf(format, params...)
	}
}

// Info logs at the info level
func Info(v ...interface{}) {
	mu.RLock()
	defer mu.RUnlock()
	if logger != nil && shouldLog(seelog.InfoLvl) {
		logger.Info(v...)
	}
}

// Infof logs with format at the info level
func Infof(format string, params ...interface{}) {
	mu.RLock()
	defer mu.RUnlock()
	if logger != nil && shouldLog(seelog.InfoLvl) {
		logger.Infof(format, params...)
	}
}

// Warn logs at the warn level and returns an error containing the formated log message
func Warn(v ...interface{}) error {
	return logWithError(seelog.WarnLvl, func(l seelog.LoggerInterface, s string) { l.Warn(s) }, fmt.Sprint(v...)) //nolint:errcheck
}

// Warnf logs with format at the warn level and returns an error containing the formated log message
func Warnf(format string, params ...interface{}) error {
	return logWithError(seelog.WarnLvl, func(l seelog.LoggerInterface, s string) { l.Warn(s) }, fmt.Sprintf(format, params...)) //nolint:errcheck
}

// Error logs at the error level and returns an error containing the formated log message
func Error(v ...interface{}) error {
	return logWithError(seelog.ErrorLvl, func(l seelog.LoggerInterface, s string) { l.Error(s) }, fmt.Sprint(v...)) //nolint:errcheck
}

// Errorf logs with format at the error level and returns an error containing the formated log message
func Errorf(format string, params ...interface{}) error {
	return logWithError(seelog.ErrorLvl, func(l seelog.LoggerInterface, s string) { l.Error(s) }, fmt.Sprintf(format, params...)) //nolint:errcheck
}

// Critical logs at the critical level and returns an error containing the formated log message
func Critical(v ...interface{}) error {
	return logWithError(seelog.CriticalLvl, func(l seelog.LoggerInterface, s string) { l.Critical(s) }, fmt.Sprint(v...)) //nolint:errcheck
}

// Criticalf logs with format at the critical level and returns an error containing the formated log message
func Criticalf(format string, params ...interface{}) error {
	return logWithError(seelog.CriticalLvl, func(l seelog.LoggerInterface, s string) { l.Critical(s) }, fmt.Sprintf(format, params...)) //nolint:errcheck
}

func logWithError(lvl seelog.LogLevel, logFunc func(seelog.LoggerInterface, string), msg string) error {
	mu.RLock()
	defer mu.RUnlock()
	if logger != nil {
		if shouldLog(lvl) {
			logFunc(logger, msg)
		}
	} else {
		fmt.Fprintf(os.Stderr, "%s: %s\n", lvl.String(), msg)
	}
	return fmt.Errorf("%s", msg)
}
