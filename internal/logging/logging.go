// Package logging configures the operator console log.
package logging

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rifflock/lfshook"
	log "github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options selects the log level and an optional rotating log file
type Options struct {
	Level      log.Level
	FilePath   string
	MaxAgeDays int
}

// Configure sets up the standard logrus logger: colored text on stdout and,
// when FilePath is set, a plain-text copy of every entry in a rotating file.
func Configure(opts Options) error {
	log.SetLevel(opts.Level)
	log.SetFormatter(&log.TextFormatter{ForceColors: true, FullTimestamp: true})
	log.SetOutput(os.Stdout)

	if opts.FilePath == "" {
		return nil
	}

	hook, err := fileHook(opts)
	if err != nil {
		return err
	}
	log.AddHook(hook)
	return nil
}

func fileHook(opts Options) (*lfshook.LfsHook, error) {
	logDir := filepath.Dir(opts.FilePath)
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	writer := &lumberjack.Logger{
		Filename:   opts.FilePath,
		MaxSize:    100,
		MaxBackups: 30,
		MaxAge:     opts.MaxAgeDays,
		Compress:   true,
	}

	fileFmt := &log.TextFormatter{DisableColors: true, FullTimestamp: true}
	return lfshook.NewHook(lfshook.WriterMap{
		log.PanicLevel: writer,
		log.FatalLevel: writer,
		log.ErrorLevel: writer,
		log.WarnLevel:  writer,
		log.InfoLevel:  writer,
		log.DebugLevel: writer,
		log.TraceLevel: writer,
	}, fileFmt), nil
}
