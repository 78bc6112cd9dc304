package kademlia

import "go.uber.org/zap"

var logger = mustNewLogger()

func mustNewLogger() *zap.Logger {
	l, err := zap.NewProduction()
	if err != nil {
		return zap.NewNop()
	}
	return l
}

// SetLogger lets a host process (or a test) swap in its own zap logger,
// e.g. zap.NewDevelopment() for readable test output.
func SetLogger(l *zap.Logger) {
	if l != nil {
		logger = l
	}
}
