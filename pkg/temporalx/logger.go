package temporalx

import (
	"fmt"

	"go.temporal.io/sdk/log"

	"github.com/otherjamesbrown/dealmemo/pkg/logging"
)

// sdkLogger adapts logging.Logger to the Temporal SDK's key-value logger.
type sdkLogger struct {
	l logging.Logger
}

// NewSDKLogger wraps l for client.Options.Logger.
func NewSDKLogger(l logging.Logger) log.Logger {
	return &sdkLogger{l: l.With(logging.F("component", "temporal"))}
}

func (s *sdkLogger) Debug(msg string, keyvals ...interface{}) { s.l.Debug(msg, fields(keyvals)...) }
func (s *sdkLogger) Info(msg string, keyvals ...interface{})  { s.l.Info(msg, fields(keyvals)...) }
func (s *sdkLogger) Warn(msg string, keyvals ...interface{})  { s.l.Warn(msg, fields(keyvals)...) }
func (s *sdkLogger) Error(msg string, keyvals ...interface{}) { s.l.Error(msg, fields(keyvals)...) }

func fields(keyvals []interface{}) []logging.Field {
	out := make([]logging.Field, 0, (len(keyvals)+1)/2)
	for i := 0; i < len(keyvals); i += 2 {
		key := fmt.Sprint(keyvals[i])
		if i+1 >= len(keyvals) {
			out = append(out, logging.F("extra", key))
			break
		}
		if err, ok := keyvals[i+1].(error); ok {
			out = append(out, logging.F(key, err.Error()))
			continue
		}
		out = append(out, logging.F(key, keyvals[i+1]))
	}
	return out
}
