/*
Package monitoring provides performance monitoring and metrics collection.

# Overview

This package implements Prometheus-based metrics collection for the steptrace
service, tracking HTTP requests, sandbox runs, debugger sessions, the trace
cache and WebSocket connections. Each Metrics value owns its registry.

# Usage

	metrics := monitoring.NewMetrics()

	// Add middleware to Gin router
	router.Use(monitoring.Middleware(metrics))

	// Feed run lifecycle events from sessions
	opts.Observer = metrics.SessionObserver()

# Metrics Endpoint

	router.GET("/metrics", gin.WrapH(metrics.Handler()))
*/
package monitoring
