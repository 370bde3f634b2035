// go-ospi
// Copyright (c) 2025 The Zaparoo Project Contributors.
// SPDX-License-Identifier: LGPL-3.0-or-later
//
// This file is part of go-ospi.
//
// go-ospi is free software; you can redistribute it and/or
// modify it under the terms of the GNU Lesser General Public
// License as published by the Free Software Foundation; either
// version 3 of the License, or (at your option) any later version.
//
// go-ospi is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the GNU
// Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with go-ospi; if not, write to the Free Software Foundation,
// Inc., 51 Franklin Street, Fifth Floor, Boston, MA  02110-1301, USA.

package ospi

import (
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// debugEnabled controls whether debug logging reaches the console.
// Set OSPI_DEBUG or DEBUG in the environment to turn it on at startup.
var debugEnabled = false

// logger is the console logger. sessionLog mirrors every debug line into the
// session log file when one is open, whether or not console debug is on.
var (
	logger     = newConsoleLogger()
	sessionLog = newSessionLogger()
)

func init() {
	if os.Getenv("OSPI_DEBUG") != "" || os.Getenv("DEBUG") != "" {
		debugEnabled = true
	}
}

func newConsoleLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetLevel(logrus.DebugLevel)
	l.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})
	return l
}

func newSessionLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.DebugLevel)
	l.SetFormatter(sessionFormatter{})
	return l
}

// sessionFormatter writes "HH:MM:SS.mmm LEVEL: message" lines.
type sessionFormatter struct{}

func (sessionFormatter) Format(e *logrus.Entry) ([]byte, error) {
	line := fmt.Sprintf("%s %s: %s\n",
		e.Time.Format("15:04:05.000"), strings.ToUpper(e.Level.String()), e.Message)
	return []byte(line), nil
}

// Logger returns the console logger so applications can change its output,
// level or formatter.
func Logger() *logrus.Logger {
	return logger
}

// Debugf logs a debug message.
// Always goes to the session log file (if initialized).
// Only goes to the console when debug mode is enabled.
func Debugf(format string, args ...any) {
	emitDebug(fmt.Sprintf(format, args...))
}

// Debugln logs a debug message built like fmt.Sprint.
func Debugln(args ...any) {
	emitDebug(fmt.Sprint(args...))
}

func emitDebug(message string) {
	if sessionLogWriter != nil {
		sessionLog.SetOutput(sessionLogWriter)
		sessionLog.Debug(message)
	}
	if debugEnabled {
		logger.Debug(message)
	}
}

// SetDebugEnabled allows programmatic control of debug logging
func SetDebugEnabled(enabled bool) {
	debugEnabled = enabled
}
