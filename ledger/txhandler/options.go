package txhandler

import "go.uber.org/zap"

type Option func(h *Handler)

// WithLogger sets the logger. By default, handler does not log
func WithLogger(log *zap.SugaredLogger) Option {
	return func(h *Handler) {
		h.log = log.Named("txhandler")
	}
}

// WithParallelPrecheck makes HandleTxs to run stateless checks of the batch in parallel,
// with up to numWorkers goroutines. Commit pass remains serial
func WithParallelPrecheck(numWorkers int) Option {
	return func(h *Handler) {
		h.precheckWorkers = numWorkers
	}
}
