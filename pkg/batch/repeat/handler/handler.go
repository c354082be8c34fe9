// Package handler provides ExceptionHandler implementations for the repeat engines.
package handler

import (
	"fmt"
	"sync"

	"github.com/tigerroll/chunkflow/pkg/batch/repeat"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/exception"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/logger"
)

// DefaultExceptionHandler re-raises every error, so the first failure ends the loop.
type DefaultExceptionHandler = repeat.RethrowExceptionHandler

// CollectingExceptionHandler records every error in the loop context and lets the loop go on.
// When the loop ends, the engine re-raises exactly one of the recorded errors.
type CollectingExceptionHandler struct{}

// NewCollectingExceptionHandler creates a CollectingExceptionHandler.
func NewCollectingExceptionHandler() *CollectingExceptionHandler {
	return &CollectingExceptionHandler{}
}

// HandleException records err and swallows it.
func (h *CollectingExceptionHandler) HandleException(rc *repeat.Context, err error) error {
	logger.Debugf("Recording error for later re-raise: %v", err)
	rc.AddThrowable(err)
	return nil
}

const limitCounterAttribute = "handler.limit.count"

// SimpleLimitExceptionHandler tolerates up to limit errors of the configured types and re-raises
// the one that crosses the limit. Errors of other types are re-raised at once, as are errors of
// the fatal types. With no types configured every error counts towards the limit.
//
// The count lives on the outermost loop context, so it spans every nested chunk loop of a step.
type SimpleLimitExceptionHandler struct {
	limit      int
	types      []string
	fatalTypes []string
	mu         sync.Mutex
}

// NewSimpleLimitExceptionHandler creates a SimpleLimitExceptionHandler. Type names are resolved
// with exception.IsErrorOfType.
func NewSimpleLimitExceptionHandler(limit int, types ...string) *SimpleLimitExceptionHandler {
	return &SimpleLimitExceptionHandler{limit: limit, types: types}
}

// WithFatalTypes sets the types that are never tolerated.
func (h *SimpleLimitExceptionHandler) WithFatalTypes(types ...string) *SimpleLimitExceptionHandler {
	h.fatalTypes = types
	return h
}

// HandleException implements repeat.ExceptionHandler.
func (h *SimpleLimitExceptionHandler) HandleException(rc *repeat.Context, err error) error {
	if matchesAny(err, h.fatalTypes) {
		return err
	}
	if len(h.types) > 0 && !matchesAny(err, h.types) {
		return err
	}

	root := rc.Root()
	h.mu.Lock()
	count := 1
	if v, ok := root.GetAttribute(limitCounterAttribute); ok {
		count = v.(int) + 1
	}
	root.SetAttribute(limitCounterAttribute, count)
	h.mu.Unlock()

	if count > h.limit {
		logger.Warnf("Exception limit %d exceeded (%d errors).", h.limit, count)
		return err
	}
	logger.Infof("Tolerating error %d of %d: %v", count, h.limit, err)
	return nil
}

func matchesAny(err error, types []string) bool {
	for _, t := range types {
		if exception.IsErrorOfType(err, t) {
			return true
		}
	}
	return false
}

// Classification is what LogOrRethrowExceptionHandler does with an error.
type Classification int

const (
	Rethrow Classification = iota
	LogDebug
	LogWarn
	LogError
)

// String returns the classification name.
func (c Classification) String() string {
	switch c {
	case Rethrow:
		return "RETHROW"
	case LogDebug:
		return "DEBUG"
	case LogWarn:
		return "WARN"
	case LogError:
		return "ERROR"
	default:
		return fmt.Sprintf("Classification(%d)", int(c))
	}
}

// ParseClassification converts a configuration string to a Classification.
func ParseClassification(s string) (Classification, error) {
	switch s {
	case "RETHROW", "rethrow":
		return Rethrow, nil
	case "DEBUG", "debug":
		return LogDebug, nil
	case "WARN", "warn":
		return LogWarn, nil
	case "ERROR", "error":
		return LogError, nil
	default:
		return Rethrow, fmt.Errorf("unknown exception classification: %s", s)
	}
}

// LogOrRethrowExceptionHandler logs errors of configured types at a configured level and swallows
// them. Anything unclassified is re-raised.
type LogOrRethrowExceptionHandler struct {
	rules []rule
}

type rule struct {
	errorType      string
	classification Classification
}

// NewLogOrRethrowExceptionHandler creates an empty handler; every error is re-raised until rules are added.
func NewLogOrRethrowExceptionHandler() *LogOrRethrowExceptionHandler {
	return &LogOrRethrowExceptionHandler{}
}

// Classify adds a rule. Rules are checked in the order they were added.
func (h *LogOrRethrowExceptionHandler) Classify(errorType string, c Classification) *LogOrRethrowExceptionHandler {
	h.rules = append(h.rules, rule{errorType: errorType, classification: c})
	return h
}

// HandleException implements repeat.ExceptionHandler.
func (h *LogOrRethrowExceptionHandler) HandleException(rc *repeat.Context, err error) error {
	for _, r := range h.rules {
		if !exception.IsErrorOfType(err, r.errorType) {
			continue
		}
		switch r.classification {
		case LogDebug:
			logger.Debugf("Ignoring error (%s): %v", r.errorType, err)
		case LogWarn:
			logger.Warnf("Ignoring error (%s): %v", r.errorType, err)
		case LogError:
			logger.Errorf("Ignoring error (%s): %v", r.errorType, err)
		default:
			return err
		}
		return nil
	}
	return err
}
