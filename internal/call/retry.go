package call

import "log/slog"

// Retry invokes action up to ceiling more times, stopping at the first
// success. Attempts are sequential with no delay between them. Exhausting
// the ceiling is not signalled further; the caller proceeds regardless.
func Retry(logger *slog.Logger, ceiling int, action func() bool) {
	if logger == nil {
		logger = slog.Default()
	}
	for attempt := 1; attempt <= ceiling; attempt++ {
		logger.Info("[Call] Retrying add participant", "attempt", attempt)
		if action() {
			return
		}
		logger.Info("[Call] Retry attempt failed", "attempt", attempt)
	}
}
