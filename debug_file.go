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
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"
)

// Session log state
var (
	sessionLogFile   *os.File
	sessionLogPath   string
	sessionLogWriter io.Writer
)

// InitSessionLog creates ospi_YYYYMMDD_HHMMSS.log in dir (the current
// directory when dir is empty) and mirrors every debug line into it.
// Returns the log file path for display to the user.
func InitSessionLog(dir string) (string, error) {
	if sessionLogFile != nil {
		return "", fmt.Errorf("session log already open at %s", sessionLogPath)
	}
	name := fmt.Sprintf("ospi_%s.log", time.Now().Format("20060102_150405"))
	path := name
	if dir != "" {
		path = filepath.Join(dir, name)
	}

	logFile, err := os.Create(path) //nolint:gosec // name is generated here; dir comes from the operator
	if err != nil {
		return "", fmt.Errorf("failed to create session log: %w", err)
	}

	sessionLogFile = logFile
	sessionLogPath = path
	sessionLogWriter = logFile
	writeSessionHeader(logFile)
	return path, nil
}

// CloseSessionLog writes the footer and closes the session log file.
// It is a no-op when no session log is open.
func CloseSessionLog() error {
	if sessionLogFile == nil {
		return nil
	}
	_, _ = fmt.Fprintf(sessionLogWriter, "\n%s === Session ended ===\n", time.Now().Format("15:04:05.000"))

	err := sessionLogFile.Close()
	sessionLogFile = nil
	sessionLogPath = ""
	sessionLogWriter = nil
	if err != nil {
		return fmt.Errorf("failed to close session log: %w", err)
	}
	return nil
}

// GetSessionLogPath returns the current session log file path, or "".
func GetSessionLogPath() string {
	return sessionLogPath
}

// writeSessionHeader records what produced the log, so a trace attached to
// a bug report can be matched to a build and an invocation.
func writeSessionHeader(w io.Writer) {
	lines := []string{
		"=== OSPI Bus Session Log ===",
		"Started: " + time.Now().Format(time.RFC3339),
		fmt.Sprintf("PID: %d", os.Getpid()),
		fmt.Sprintf("OS: %s/%s", runtime.GOOS, runtime.GOARCH),
		"Go Version: " + runtime.Version(),
	}
	if exe, err := os.Executable(); err == nil {
		lines = append(lines, "Executable: "+exe)
	}
	lines = append(lines,
		"Command Line: "+strings.Join(os.Args, " "),
		"============================",
		"",
	)
	_, _ = fmt.Fprintln(w, strings.Join(lines, "\n"))
}
