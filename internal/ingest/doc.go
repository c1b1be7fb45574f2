// Package ingest is the business boundary for channelwatch's intake
// pipeline. It defines the domain models (Channel, Video, Job,
// Subscription), the Store interface (persistence, sole arbiter of
// uniqueness), the Deduper (layered duplicate matching), and the Service
// that turns accepted candidates into stored videos and queued jobs.
package ingest
