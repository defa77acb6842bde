package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "leadadmin"

var (
	leadsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "leads_created_total",
		Help:      "Number of lead records stored.",
	})
	leadsDeleted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "leads_deleted_total",
		Help:      "Number of lead records removed, including already deleted ones.",
	})
	uploadFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "image_upload_failures_total",
		Help:      "Number of image uploads rejected by the object store.",
	})
	orphanedObjects = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "orphaned_objects_total",
		Help:      "Number of stored images that could not be deleted and were left behind.",
	})
	fetchFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "fetch_failures_total",
		Help:      "Number of lead list queries that failed and were answered with an empty list.",
	})
)
