package core

import (
	log "github.com/sirupsen/logrus"
)

// Executor runs backup, prune and scheduling operations, logging through Logger.
type Executor struct {
	Logger *log.Logger
}

func (e *Executor) SetLogger(logger *log.Logger) {
	e.Logger = logger
}

func (e *Executor) GetLogger() *log.Logger {
	return e.Logger
}

func (e *Executor) runLogger(run string) *log.Entry {
	logger := e.Logger
	if logger == nil {
		logger = log.StandardLogger()
	}
	return logger.WithField("run", run)
}
