// Copyright 2025 The nginx-switcher Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use file except in compliance with the License.
// You may obtain a copy of the license at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package switcher

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	instancesGauge = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "nginx_switcher_instances",
			Help: "Registered nginx instances by status",
		},
		[]string{"status"},
	)

	statusChanges = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nginx_switcher_status_changes_total",
			Help: "Instance status transitions by new status and source",
		},
		[]string{"status", "source"},
	)

	processActions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nginx_switcher_process_actions_total",
			Help: "nginx start and stop invocations by action and result",
		},
		[]string{"action", "result"},
	)

	monitorTicks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "nginx_switcher_monitor_ticks_total",
			Help: "Completed monitor passes",
		},
	)

	monitorTickSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "nginx_switcher_monitor_tick_seconds",
			Help:    "Duration of monitor passes",
			Buckets: prometheus.DefBuckets,
		},
	)

	parseErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "nginx_switcher_parse_errors_total",
			Help: "Configuration files that could not be read or expanded",
		},
	)

	eventsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "nginx_switcher_events_dropped_total",
			Help: "Events not delivered to a full subscriber channel",
		},
	)

	configReloads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nginx_switcher_config_reloads_total",
			Help: "Registry reloads by trigger",
		},
		[]string{"trigger"},
	)
)

func recordCounts(c Counts) {
	instancesGauge.WithLabelValues(string(StatusRunning)).Set(float64(c.Running))
	instancesGauge.WithLabelValues(string(StatusStopped)).Set(float64(c.Stopped))
	instancesGauge.WithLabelValues(string(StatusUnknown)).Set(float64(c.Unknown))
}
