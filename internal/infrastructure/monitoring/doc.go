/*
Package monitoring provides Prometheus metrics for the archiver.

# Overview

Each Metrics value owns a private registry, so several can coexist in one
process (tests build one per case). The registry is exposed through Handler
for the local API's /metrics route.

# Metrics

  - archiver_logins_total{outcome}
  - archiver_session_restores_total{outcome}
  - archiver_session_active
  - archiver_downloads_total{status}
  - archiver_download_progress_percent
  - archiver_download_duration_seconds
  - archiver_archive_size_bytes
  - archiver_http_requests_total{method,path,status}

# Usage

	metrics := monitoring.NewMetrics()
	router.Use(monitoring.Middleware(metrics))
	router.GET("/metrics", gin.WrapH(metrics.Handler()))
*/
package monitoring
