// Copyright 2023 ChainSafe Systems (ON)
// SPDX-License-Identifier: LGPL-3.0-only

package grandpa

import "github.com/sirupsen/logrus"

// logger is the package-wide structured logger, mirroring gossamer's
// package-level `logger` convention. Callers may replace it (e.g. to
// attach a particular voter id or component field) via SetLogger.
var logger = logrus.WithField("pkg", "grandpa")

// SetLogger overrides the package-wide logger, e.g. to attach
// application-specific fields such as a node identity.
func SetLogger(l *logrus.Entry) {
	logger = l
}
