package observability

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/sirupsen/logrus"
)

// RecoverPanic recovers from a panic and logs it with the stack.
// It must be called directly in a defer statement.
//
// After logging, the panic is NOT re-raised.
func RecoverPanic(logger logrus.FieldLogger, context string) {
	if r := recover(); r != nil {
		logPanic(logger, context, r)
	}
}

// RecoverPanicWithCallback recovers from a panic, logs it, and runs callback
// only when a panic occurred.
func RecoverPanicWithCallback(logger logrus.FieldLogger, context string, callback func()) {
	if r := recover(); r != nil {
		logPanic(logger, context, r)
		if callback != nil {
			callback()
		}
	}
}

func logPanic(logger logrus.FieldLogger, context string, r interface{}) {
	logger.WithFields(logrus.Fields{
		"panic":   fmt.Sprint(r),
		"stack":   string(debug.Stack()),
		"context": context,
	}).Error("PANIC recovered")
}

// Recovery turns a panicking handler into a 500 instead of a dropped connection
func Recovery(logger logrus.FieldLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer RecoverPanicWithCallback(FromContextOr(r, logger), r.Method+" "+r.URL.Path, func() {
				http.Error(w, "Internal server error", http.StatusInternalServerError)
			})
			next.ServeHTTP(w, r)
		})
	}
}

// FromContextOr returns the request logger set by RequestLogger, or fallback
func FromContextOr(r *http.Request, fallback logrus.FieldLogger) logrus.FieldLogger {
	if logger, ok := r.Context().Value(LoggerKey).(logrus.FieldLogger); ok {
		return logger
	}
	return fallback
}
