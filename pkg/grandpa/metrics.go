// Copyright 2023 ChainSafe Systems (ON)
// SPDX-License-Identifier: LGPL-3.0-only

package grandpa

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	prevoteEquivocationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "grandpa_prevote_equivocations_total",
		Help: "The number of distinct prevote equivocations observed across all rounds.",
	})
	precommitEquivocationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "grandpa_precommit_equivocations_total",
		Help: "The number of distinct precommit equivocations observed across all rounds.",
	})

	roundsCompletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "grandpa_rounds_completed_total",
		Help: "The number of voting rounds that reached completable and exited.",
	})
	roundsCompletableGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "grandpa_round_completable",
		Help: "1 if the most recently observed round is completable, 0 otherwise.",
	})

	roundDurationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "grandpa_round_phase_duration_seconds",
		Help:    "Wall-clock time spent in each voting round phase.",
		Buckets: prometheus.DefBuckets,
	}, []string{"phase"})
)

// observePhaseDuration records how long a round spent in the named phase
// (one of "start", "proposed", "prevoted", "precommitted"), grounded on
// the teacher's promauto package-level metric convention.
func observePhaseDuration(phase string, started time.Time) {
	roundDurationSeconds.WithLabelValues(phase).Observe(time.Since(started).Seconds())
}
