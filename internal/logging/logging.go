// Tagged, leveled logging. Levels are assigned per tag at startup via the
// LOGLEVEL environment variable, e.g.
//
//	LOGLEVEL=info,capture=debug,camhelper=trace
//
// A bare level sets the default; "tag=level" overrides it for that tag.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"
)

type Level int

const (
	Silent Level = iota
	Error
	Warn
	Info
	Debug
	Trace
)

var levelNames = map[string]Level{
	"silent": Silent,
	"error":  Error,
	"warn":   Warn,
	"info":   Info,
	"debug":  Debug,
	"trace":  Trace,
}

func (l Level) letter() byte {
	switch l {
	case Error:
		return 'E'
	case Warn:
		return 'W'
	case Info:
		return 'I'
	case Debug:
		return 'D'
	default:
		return 'T'
	}
}

func parseLevel(s string) (Level, error) {
	if l, ok := levelNames[strings.ToLower(s)]; ok {
		return l, nil
	}
	if n, err := strconv.Atoi(s); err == nil {
		return Level(n), nil
	}
	return Silent, fmt.Errorf("unknown log level %q", s)
}

const timestampFormat = "2006-01-02 15:04:05.000"

type Logger struct {
	Level

	// Tag used to filter and classify log messages.
	Tag string

	out io.Writer

	// Shared by all derived loggers so lines never interleave.
	mu *sync.Mutex
}

var (
	defaultLevel = Info
	tagLevels    = map[string]Level{}
)

// Write to stderr by default.
var DefaultLogger = &Logger{defaultLevel, "", os.Stderr, new(sync.Mutex)}

func init() {
	// Parse LOGLEVEL into comma-separated "tag=level" directives. A
	// directive without "tag=" sets the default.
	for _, d := range strings.Split(os.Getenv("LOGLEVEL"), ",") {
		if d == "" {
			continue
		}
		v := strings.SplitN(d, "=", 2)
		level, err := parseLevel(v[len(v)-1])
		if err != nil {
			fmt.Fprintf(os.Stderr, "invalid LOGLEVEL directive %q: %s\n", d, err)
			continue
		}
		if len(v) == 1 {
			defaultLevel = level
		} else {
			tagLevels[v[0]] = level
		}
	}
	DefaultLogger.Level = defaultLevel
}

// Derive a new logger with the given tag. The level comes from the LOGLEVEL
// directive for that tag, falling back to the parent's level.
func (log *Logger) WithTag(tag string) *Logger {
	level := log.Level
	if l, ok := tagLevels[tag]; ok {
		level = l
	}
	return &Logger{level, tag, log.out, log.mu}
}

// Override the destination for this logger.
func (log *Logger) SetDestination(out io.Writer) {
	log.out = out
}

// Log a message at the given level. Includes the file and line number from
// 'calldepth' steps up the call stack.
func (log *Logger) Log(level Level, calldepth int, format string, a ...interface{}) {
	if level > log.Level {
		return
	}

	_, file, line, ok := runtime.Caller(calldepth + 1)
	if !ok {
		file, line = "?", 0
	}

	var b strings.Builder
	b.WriteString(time.Now().Format(timestampFormat))
	fmt.Fprintf(&b, " %c/%s[%s:%d] ", level.letter(), log.Tag, filepath.Base(file), line)
	fmt.Fprintf(&b, format, a...)
	if n := len(format); n == 0 || format[n-1] != '\n' {
		b.WriteByte('\n')
	}

	log.mu.Lock()
	io.WriteString(log.out, b.String())
	log.mu.Unlock()
}

func (log *Logger) Error(format string, a ...interface{}) {
	log.Log(Error, 1, format, a...)
}

func (log *Logger) Warn(format string, a ...interface{}) {
	log.Log(Warn, 1, format, a...)
}

func (log *Logger) Info(format string, a ...interface{}) {
	log.Log(Info, 1, format, a...)
}

func (log *Logger) Debug(format string, a ...interface{}) {
	log.Log(Debug, 1, format, a...)
}
