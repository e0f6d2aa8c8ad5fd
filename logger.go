// Copyright (C) 2024  wwhai
//
// This program is free software; you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation; either version 2 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License along
// with this program; if not, see <https://www.gnu.org/licenses/>.

package modbus

import (
	"fmt"
	"io"
	"log"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// LogLevel type defines the severity of a log message.
type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarning
	LevelError
	LevelNone // Disables logging
)

// LevelToString maps LogLevel to its string representation.
var LevelToString = map[LogLevel]string{
	LevelDebug:   "DEBUG",
	LevelInfo:    "INFO",
	LevelWarning: "WARNING",
	LevelError:   "ERROR",
	LevelNone:    "NONE",
}

// StringToLevel maps string representation of LogLevel to its value.
var StringToLevel = map[string]LogLevel{
	"DEBUG":   LevelDebug,
	"INFO":    LevelInfo,
	"WARNING": LevelWarning,
	"WARN":    LevelWarning,
	"ERROR":   LevelError,
	"NONE":    LevelNone,
}

// ParseLogLevel parses a level name, case-insensitively.
func ParseLogLevel(s string) (LogLevel, error) {
	if level, ok := StringToLevel[strings.ToUpper(strings.TrimSpace(s))]; ok {
		return level, nil
	}
	return LevelInfo, fmt.Errorf("invalid log level: %s. Available levels: %v", s, availableLevels())
}

func availableLevels() []string {
	levels := make([]string, 0, len(StringToLevel))
	for levelStr := range StringToLevel {
		levels = append(levels, levelStr)
	}
	sort.Strings(levels)
	return levels
}

// SimpleLogger is an io.WriteCloser that filters lines by the level prefix
// the codec components write ("[DEBUG] ...", "WARNING: ...").
type SimpleLogger struct {
	mu         sync.Mutex
	level      LogLevel
	output     io.Writer
	timeFormat string
	prefix     string
}

// NewSimpleLogger creates a new SimpleLogger instance.
// If output is nil, it defaults to os.Stdout.
func NewSimpleLogger(output io.Writer, level LogLevel, prefix string) *SimpleLogger {
	if output == nil {
		output = os.Stdout
	}
	return &SimpleLogger{
		level:      level,
		output:     output,
		timeFormat: time.RFC3339,
		prefix:     prefix,
	}
}

// SetLevel sets the logging level of the SimpleLogger.
func (l *SimpleLogger) SetLevel(level LogLevel) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = level
}

// GetLevel returns the current logging level of the SimpleLogger.
func (l *SimpleLogger) GetLevel() LogLevel {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.level
}

// SetLevelFromString sets the logging level from a string representation (e.g., "DEBUG").
func (l *SimpleLogger) SetLevelFromString(levelStr string) error {
	level, err := ParseLogLevel(levelStr)
	if err != nil {
		return err
	}
	l.SetLevel(level)
	return nil
}

// SetTimeFormat changes the timestamp layout. An empty layout omits it.
func (l *SimpleLogger) SetTimeFormat(layout string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.timeFormat = layout
}

// Write implements io.Writer. Lines below the configured level are
// swallowed but reported as written.
func (l *SimpleLogger) Write(p []byte) (n int, err error) {
	message := strings.TrimSpace(string(p))
	level, message := splitLevel(message)

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.level == LevelNone || level < l.level {
		return len(p), nil
	}
	var b strings.Builder
	if l.timeFormat != "" {
		b.WriteString(time.Now().Format(l.timeFormat))
		b.WriteByte(' ')
	}
	fmt.Fprintf(&b, "[%s] <%s> %s\n", LevelToString[level], l.prefix, message)
	if _, err := io.WriteString(l.output, b.String()); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Close closes the underlying output if it's not os.Stdout or os.Stderr.
func (l *SimpleLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.output == os.Stdout || l.output == os.Stderr {
		return nil
	}
	if closer, ok := l.output.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

var levelPrefixes = []struct {
	prefix string
	level  LogLevel
}{
	{"[DEBUG]", LevelDebug},
	{"DEBUG:", LevelDebug},
	{"[INFO]", LevelInfo},
	{"INFO:", LevelInfo},
	{"[WARNING]", LevelWarning},
	{"WARNING:", LevelWarning},
	{"[WARN]", LevelWarning},
	{"WARN:", LevelWarning},
	{"[ERROR]", LevelError},
	{"ERROR:", LevelError},
}

// splitLevel infers the level from the message prefix and strips it.
// Messages without a known prefix are INFO.
func splitLevel(message string) (LogLevel, string) {
	upper := strings.ToUpper(message)
	for _, p := range levelPrefixes {
		if strings.HasPrefix(upper, p.prefix) {
			return p.level, strings.TrimSpace(message[len(p.prefix):])
		}
	}
	return LevelInfo, message
}

// logSink is the per-component logger behind SetLogger. Lines carry a level
// prefix so a SimpleLogger (or any writer) can filter them.
type logSink struct {
	name string
	l    atomic.Pointer[log.Logger]
}

func (s *logSink) set(w io.Writer) {
	if w == nil {
		s.l.Store(nil)
		return
	}
	s.l.Store(log.New(w, "", 0))
}

func (s *logSink) printf(level LogLevel, format string, v ...any) {
	l := s.l.Load()
	if l == nil {
		return
	}
	l.Printf("[%s] %s: %s", LevelToString[level], s.name, fmt.Sprintf(format, v...))
}
