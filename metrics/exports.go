/*
Copyright 2022 Red Hat Inc.
SPDX-License-Identifier: Apache-2.0
*/
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	PathSync   = "sync"
	PathAsync  = "async"
	PathNoData = "no_data"
	PathError  = "error"
)

var exportsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
	Name: "export_service_exports_total",
	Help: "How many export requests were served, partitioned by entity and execution path.",
}, []string{"entity", "path"})

var jobsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
	Name: "export_service_jobs_total",
	Help: "How many background export jobs finished, partitioned by final status.",
}, []string{"status"})

var jobAttempts = prometheus.NewCounter(prometheus.CounterOpts{
	Name: "export_service_job_attempts_total",
	Help: "The total number of background export attempts, including retries.",
})

var recordsStreamed = prometheus.NewCounterVec(prometheus.CounterOpts{
	Name: "export_service_records_streamed_total",
	Help: "How many records were streamed out of the database, partitioned by entity.",
}, []string{"entity"})

var chunkDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
	Name: "export_service_chunk_seconds",
	Help: "Time spent fetching a single chunk of records.",
}, []string{"entity"})

func init() {
	prometheus.MustRegister(exportsTotal)
	prometheus.MustRegister(jobsTotal)
	prometheus.MustRegister(jobAttempts)
	prometheus.MustRegister(recordsStreamed)
	prometheus.MustRegister(chunkDuration)
}

// ObserveExport counts one export request for entity served through path.
func ObserveExport(entity, path string) {
	exportsTotal.With(prometheus.Labels{"entity": entity, "path": path}).Inc()
}

// ObserveJob counts a background job reaching a terminal status.
func ObserveJob(status string) {
	jobsTotal.With(prometheus.Labels{"status": status}).Inc()
}

func ObserveAttempt() {
	jobAttempts.Inc()
}

// ObserveChunk records the size and fetch time of one streamed chunk.
func ObserveChunk(entity string, records int, seconds float64) {
	recordsStreamed.With(prometheus.Labels{"entity": entity}).Add(float64(records))
	chunkDuration.With(prometheus.Labels{"entity": entity}).Observe(seconds)
}
