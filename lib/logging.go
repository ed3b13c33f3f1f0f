package classvault

import "go.uber.org/zap"

var zlog = zap.NewNop()

// SetLogger overrides the logger used by this package. Passing nil
// reinstalls the no-op logger.
func SetLogger(logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}
	zlog = logger
}
