package puffin

import "github.com/sirupsen/logrus"

// log is the package-level structured logger, following the same
// package-scoped-logger idiom used across the retrieval pack's services
// (e.g. awslabs-soci-snapshotter, dselans-mmmbop). puffin only ever logs at
// Debug/Trace level: block boundaries in Puffer/Huffer and cache
// hits/misses in PuffinStream. Callers embedding this package in
// a CLI or service are expected to configure the level/formatter on this
// same *logrus.Logger; it is never referenced concurrently with
// reconfiguration from within this package.
var log = logrus.New()

func init() {
	log.SetLevel(logrus.WarnLevel)
}

// SetLogger replaces the package-level logger, letting an embedding
// application route puffin's trace output through its own logrus instance
// (e.g. to share hooks/formatters).
func SetLogger(l *logrus.Logger) {
	if l != nil {
		log = l
	}
}
