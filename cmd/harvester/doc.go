// Package main hosts the harvester entrypoint.
//
// Architecture overview:
//   - Admission: a cron-driven check enqueues a batch job once the minimum interval has
//     elapsed since the last run start and no job is waiting or active. POST /v1/runs
//     triggers a batch early under the same single-flight rule.
//   - Queue & dispatcher: jobs live in memory, Postgres or Badger. One consumer claims
//     them and hands each to the batch runner; jobs are never retried.
//   - Batch runner: records the run start, lists the roster, and runs the harvesting agent
//     once per profile as a supervised subprocess with a hard timeout. Failures are
//     isolated per profile, captured output of failed runs is logged and optionally
//     archived (local disk or GCS), then the sync command runs and a summary is published
//     to Pub/Sub when a topic is configured.
//   - Classification: "harvester classify" filters JSON-lines records from stdin to stdout,
//     resolving the venue fields into one category.
//
// Quick checklist:
//   - Configure env vars with the HARVESTER_ prefix, e.g. HARVESTER_HARVEST_AGENT_COMMAND,
//     HARVESTER_STORE_DRIVER, HARVESTER_STORE_DSN, HARVESTER_ROSTER_PATH.
//   - Run locally: go run ./cmd/harvester serve --config config.yaml
//   - One pass in the foreground: go run ./cmd/harvester run-once --config config.yaml
package main
