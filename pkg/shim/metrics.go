// Copyright (c) 2024 The Reaper Authors
//
// SPDX-License-Identifier: Apache-2.0

package shim

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "reaper_shim"

var rpcDurationsHistogram = prometheus.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: metricsNamespace,
	Name:      "rpc_durations_histogram_milliseconds",
	Help:      "RPC latency distributions.",
	Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
}, []string{"action"})

var activeContainers = prometheus.NewGauge(prometheus.GaugeOpts{
	Namespace: metricsNamespace,
	Name:      "active_containers",
	Help:      "Number of containers currently tracked by this shim.",
})

func registerMetrics() {
	prometheus.MustRegister(rpcDurationsHistogram)
	prometheus.MustRegister(activeContainers)
}

func observeRPC(action string, start time.Time) {
	rpcDurationsHistogram.WithLabelValues(action).Observe(float64(time.Since(start).Milliseconds()))
}
