// Copyright 2025 The mqbridge-go Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// package metrics provides Prometheus metrics for the bridge.
package metrics

import (
	"log"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ConnectionsTotal is a counter for the total number of client connections.
	ConnectionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mqbridge_connections_total",
		Help: "The total number of MQTT connections accepted by the bridge.",
	})

	// SessionsActive tracks the number of currently attached client sessions.
	SessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mqbridge_sessions_active",
		Help: "The number of client sessions currently attached to the bridge.",
	})

	// MessagesPublishedTotal counts messages published to the backend, by QoS.
	MessagesPublishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mqbridge_messages_published_total",
		Help: "The total number of client messages published to the backend.",
	},
		[]string{"qos"},
	)

	// MessagesForwardedTotal counts backend messages delivered to clients.
	MessagesForwardedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mqbridge_messages_forwarded_total",
		Help: "The total number of backend messages forwarded to clients.",
	})

	// ForwardersActive tracks the number of running forwarding tasks.
	ForwardersActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mqbridge_forwarders_active",
		Help: "The number of forwarding tasks currently registered.",
	})

	// ForwarderFailuresTotal counts forwarding tasks that terminated on an
	// unrecoverable backend error.
	ForwarderFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mqbridge_forwarder_failures_total",
		Help: "The total number of forwarding tasks that failed.",
	})

	// SupervisorRestartsTotal is a counter for the total number of supervisor restarts.
	SupervisorRestartsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mqbridge_supervisor_restarts_total",
		Help: "The total number of times a supervised actor has been restarted.",
	},
		[]string{"actor_id"},
	)
)

// Serve starts an HTTP server to expose the Prometheus metrics.
func Serve(addr string) {
	http.Handle("/metrics", promhttp.Handler())
	log.Printf("Metrics server listening on %s", addr)
	if err := http.ListenAndServe(addr, nil); err != nil {
		logFatalf("Metrics server failed: %v", err)
	}
}

// logFatalf can be replaced by tests to prevent process exit.
var logFatalf = log.Fatalf
