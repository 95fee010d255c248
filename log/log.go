// Package log provides the package-level structured logger used across
// netrelay. Components take a logrus.FieldLogger so callers can supply
// their own pre-configured instance (or the package default) without the
// core depending on how logging is wired up.
package log

import "github.com/sirupsen/logrus"

var base = logrus.New()

func init() {
	base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
}

// Default returns the package-level logger. Callers embedding netrelay in a
// larger service should prefer passing their own logrus.FieldLogger into
// conn.Config's Logger field or registry.New's log parameter instead of
// mutating this one.
func Default() *logrus.Logger { return base }

// SetLevel adjusts the default logger's verbosity.
func SetLevel(level logrus.Level) { base.SetLevel(level) }
