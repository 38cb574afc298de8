// Package main hosts the notice bot entrypoint.
//
// Architecture overview:
//   - Cycle: POST /crawl-and-notify runs one pipeline pass. The Colly-based fetcher downloads the board listing with
//     retry and backoff, the goquery extractor turns it into posts newest first, novelty detection keeps the posts
//     the ledger has not seen (stopping at the first delivered one), and the dispatcher fans each new post out to the
//     recipients before marking it delivered.
//   - Ledger: Postgres via pgx when a DSN is configured (tables created by embedded golang-migrate migrations),
//     otherwise an in-process ledger that forgets everything on restart.
//   - Transports: LINE push messages (default) or Telegram via telego, selected by notifier.transport. Sends are
//     bounded by notifier.concurrency and optionally paced by a token bucket.
//   - Webhook: POST /line/webhook verifies the X-Line-Signature HMAC and answers the subscribe, unsubscribe, latest
//     and help commands.
//   - Snapshots: a listing that yields no posts is archived to memory, a local directory or GCS for inspection.
//   - Plumbing: Viper loads config from file and NOTICEBOT_* env vars, plus the plain PORT, DATABASE_URL,
//     TARGET_CHAT_IDS, SCHEDULER_TOKEN, ADMIN_TOKEN and LINE_* / TELEGRAM_BOT_TOKEN variables; zap logs; Prometheus
//     metrics are served on /metrics.
//
// Operational notes:
//   - The service runs no scheduler of its own. Point a cron job (or cmd/crawltrigger) at /crawl-and-notify.
//   - Overlapping triggers are tolerated: ledger writes are idempotent, but two overlapping cycles can both deliver
//     the same new post.
//   - A started cycle is not canceled when the trigger client disconnects.
//
// Quick checklist:
//   - Run locally: go run ./cmd/noticebot -config config.yaml (or rely solely on env overrides).
//   - Trigger once: SCHEDULER_TOKEN=... SERVICE_URL=http://localhost:8080 go run ./cmd/crawltrigger
package main
