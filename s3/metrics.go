package s3

import (
	"github.com/prometheus/client_golang/prometheus"
)

var totalUploads = prometheus.NewCounter(prometheus.CounterOpts{
	Name: "export_service_total_uploads",
	Help: "The total number of export file uploads, including failed uploads.",
})

var failUploads = prometheus.NewCounter(prometheus.CounterOpts{
	Name: "export_service_failed_uploads",
	Help: "The total number of failed export file uploads.",
})

var uploadSizes = prometheus.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "export_service_upload_sizes",
	Help:    "Size of uploaded export files in bytes",
	Buckets: prometheus.ExponentialBuckets(4096, 4, 10),
}, []string{"disk"})

func init() {
	prometheus.MustRegister(totalUploads)
	prometheus.MustRegister(failUploads)
	prometheus.MustRegister(uploadSizes)
}
