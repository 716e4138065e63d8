package audithook

import "log/slog"

// Option configures an Extension.
type Option func(*Extension)

// WithLogger sets the logger used when the recorder fails.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Extension) {
		e.logger = logger
	}
}

// WithActions restricts the trail to the listed actions.
func WithActions(actions ...string) Option {
	return func(e *Extension) {
		e.only = toSet(actions)
	}
}

// WithoutActions drops the listed actions from the trail.
func WithoutActions(actions ...string) Option {
	return func(e *Extension) {
		e.skip = toSet(actions)
	}
}

// WithMinSeverity drops events graded below sev.
func WithMinSeverity(sev string) Option {
	return func(e *Extension) {
		e.minRank = severityRank(sev)
	}
}

func toSet(actions []string) map[string]bool {
	set := make(map[string]bool, len(actions))
	for _, a := range actions {
		set[a] = true
	}
	return set
}

func severityRank(sev string) int {
	switch sev {
	case SeverityWarning:
		return 1
	case SeverityError:
		return 2
	case SeverityCritical:
		return 3
	default:
		return 0
	}
}
