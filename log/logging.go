// SPDX-License-Identifier: GPL-3.0-or-later
package log

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"

	"github.com/sirupsen/logrus"
)

var (
	loggers map[string]*logrus.Logger
	logFile *os.File
)

func NewPrefixLogger(prefix string) *PrefixLogger {
	stringPrefix := fmt.Sprintf("%s:\t", prefix)

	formatter := &logrus.TextFormatter{}
	formatter.FullTimestamp = true
	formatter.TimestampFormat = "15:04:05"
	formatter.DisableColors = strings.Contains(runtime.GOOS, "windows")
	return &PrefixLogger{
		formatter,
		[]byte(stringPrefix),
	}
}

type PrefixLogger struct {
	formatter logrus.Formatter
	prefix    []byte
}

func (f *PrefixLogger) Format(entry *logrus.Entry) ([]byte, error) {
	text, err := f.formatter.Format(entry)
	if err != nil {
		return nil, err
	}
	return append(f.prefix, text...), nil
}

const (
	LOG_MAIN        = "MA"
	LOG_DOWNLOADER  = "DL"
	LOG_IMAP        = "IM"
	LOG_PERSISTENCE = "PI"
	LOG_CHECKPOINT  = "CP"
	LOG_RESOLVER    = "RS"
	LOG_FILEWRITER  = "FW"
	LOG_DECODER     = "DC"
)

func getLevel(loglevel string) logrus.Level {
	switch strings.ToLower(loglevel) {
	case "debug":
		return logrus.DebugLevel
	case "warn":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	case "panic":
		return logrus.PanicLevel
	case "fatal":
		return logrus.FatalLevel
	}

	// Info is default
	return logrus.InfoLevel
}

func initLogger(prefix, loglevel string, out io.Writer) {
	loggers[prefix] = logrus.New()
	loggers[prefix].Out = out
	loggers[prefix].Level = getLevel(loglevel)
	loggers[prefix].Formatter = NewPrefixLogger(prefix)
}

// InitLogging creates all component loggers. When filename is not empty the
// output is written to stderr and appended to that file.
func InitLogging(loglevel string, filename string) error {
	var out io.Writer = os.Stderr
	if len(filename) > 0 {
		f, err := os.OpenFile(filename, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("could not open log file: %w", err)
		}
		logFile = f
		out = io.MultiWriter(os.Stderr, f)
	}

	loggers = make(map[string]*logrus.Logger)
	for _, prefix := range []string{
		LOG_MAIN,
		LOG_DOWNLOADER,
		LOG_IMAP,
		LOG_PERSISTENCE,
		LOG_CHECKPOINT,
		LOG_RESOLVER,
		LOG_FILEWRITER,
		LOG_DECODER,
	} {
		initLogger(prefix, loglevel, out)
	}

	return nil
}

// SetLogLevel changes the level of every component logger.
func SetLogLevel(loglevel string) {
	for _, v := range loggers {
		v.Level = getLevel(loglevel)
	}
}

// Close releases the log file opened by InitLogging, if any.
func Close() error {
	if logFile == nil {
		return nil
	}
	err := logFile.Close()
	logFile = nil
	return err
}

func Logger(logger string) *logrus.Logger {
	l, ok := loggers[logger]
	if !ok {
		panic("Logger " + logger + " unknown")
	}

	return l
}

// NullLogger discards everything, for tests and for components created
// without a logger.
func NullLogger() *logrus.Logger {
	l := logrus.New()
	l.Out = io.Discard
	return l
}
