// Package tracelog provides the per-category structured loggers SPEC_FULL
// §4.11 describes: one *logrus.Logger per pipeline stage (decode,
// predecode, regir, jit, exec, wasi), each independently leveled so the
// CLI's --trace=CATS flag can raise only the selected categories to debug
// without touching the rest.
package tracelog

import "github.com/sirupsen/logrus"

// categories are the pipeline stages SPEC_FULL §4.11 names.
var categories = []string{"decode", "predecode", "regir", "jit", "exec", "wasi"}

var registry = func() map[string]*logrus.Logger {
	m := make(map[string]*logrus.Logger, len(categories))
	for _, c := range categories {
		l := logrus.New()
		l.SetLevel(logrus.InfoLevel)
		m[c] = l
	}
	return m
}()

// For returns the *logrus.Entry a package should log through for category.
// Unrecognized categories still work, at the package default level, so a
// typo in a call site degrades gracefully rather than panicking.
func For(category string) *logrus.Entry {
	l, ok := registry[category]
	if !ok {
		l = logrus.New()
		l.SetLevel(logrus.InfoLevel)
		registry[category] = l
	}
	return l.WithField("category", category)
}

// SetTraceCategories raises exactly the named categories to DebugLevel and
// resets every other known category to InfoLevel; it is not additive
// across calls, matching a single --trace=CATS flag evaluation.
func SetTraceCategories(categories []string) {
	want := make(map[string]bool, len(categories))
	for _, c := range categories {
		want[c] = true
	}
	for cat, l := range registry {
		if want[cat] {
			l.SetLevel(logrus.DebugLevel)
		} else {
			l.SetLevel(logrus.InfoLevel)
		}
	}
}
