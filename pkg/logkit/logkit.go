// Package logkit configures the process-wide logrus logger with optional
// rotating file output.
package logkit

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options controls logger setup.
type Options struct {
	Level string // logrus level name; empty means info
	File  string // log file path; empty disables file output
}

// Setup applies the options to the global logrus logger. With a file
// configured, output goes to both stdout and the rotating file.
func Setup(opts Options) {
	level, err := logrus.ParseLevel(opts.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05.000",
	})

	if opts.File == "" {
		logrus.SetOutput(os.Stdout)
		return
	}

	rotating := &lumberjack.Logger{
		Filename:   opts.File,
		MaxSize:    10, // megabytes
		MaxBackups: 10,
		MaxAge:     30, // days
		Compress:   true,
	}
	logrus.SetOutput(io.MultiWriter(os.Stdout, rotating))
}
