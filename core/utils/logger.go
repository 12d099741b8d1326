package utils

import (
	"log"
	"os"
)

type Logger struct {
	info *log.Logger
	errs *log.Logger
}

func NewLogger() *Logger {
	return &Logger{
		info: log.New(os.Stdout, "", log.LstdFlags|log.LUTC),
		errs: log.New(os.Stderr, "ERROR ", log.LstdFlags|log.LUTC),
	}
}

func (l *Logger) Printf(format string, args ...any) {
	if l == nil || l.info == nil {
		return
	}
	l.info.Printf(format, args...)
}

func (l *Logger) Errorf(format string, args ...any) {
	if l == nil || l.errs == nil {
		return
	}
	l.errs.Printf(format, args...)
}
