// Package gharchive fetches GH Archive hour files and streams their events.
//
// Lines are NDJSON inside gzip and are decoded into a thin envelope whose
// payload stays raw until distillation. Lines that fail to decode are counted
// and skipped. Upstream 404 and 410 become NotFound; 429, 408 and 5xx are
// retryable. Events from before 2015 lack ids and get synthetic ones.
package gharchive
