// Package pgstore provides a PostgreSQL implementation of ingest.Store.
package pgstore

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/linnemanlabs/channelwatch/internal/ingest"
)

var tracer = otel.Tracer("github.com/linnemanlabs/channelwatch/internal/ingest/pgstore")

//go:embed schema.sql
var schema string

// psql builds queries with $n placeholders.
var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// Store persists channels, videos, jobs, and subscriptions in PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// New applies the schema and returns a ready Store over the given pool.
func New(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Close shuts down the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

func startSpan(ctx context.Context, name, operation string) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", operation),
	))
}

func spanFail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

const channelColumns = `id, external_id, name, handle, enabled, uploads_playlist, created_at, updated_at`

// CreateChannel inserts a new channel. A duplicate ID or external ID yields
// ingest.ErrConflict.
func (s *Store) CreateChannel(ctx context.Context, ch *ingest.Channel) error {
	ctx, span := startSpan(ctx, "pgstore.CreateChannel", "INSERT")
	defer span.End()

	var externalID *string
	if ch.ExternalID != "" {
		externalID = &ch.ExternalID
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO channels (id, external_id, name, handle, enabled, uploads_playlist, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		ch.ID, externalID, ch.Name, ch.Handle, ch.Enabled, ch.UploadsPlaylist, ch.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ingest.ErrConflict
		}
		return spanFail(span, fmt.Errorf("insert channel: %w", err))
	}
	return nil
}

// GetChannel retrieves a channel by its internal ID.
func (s *Store) GetChannel(ctx context.Context, id string) (*ingest.Channel, bool, error) {
	ctx, span := startSpan(ctx, "pgstore.GetChannel", "SELECT")
	defer span.End()

	row := s.pool.QueryRow(ctx, `SELECT `+channelColumns+` FROM channels WHERE id = $1`, id)
	ch, err := scanChannel(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, spanFail(span, err)
	}
	return ch, true, nil
}

// GetChannelByExternalID retrieves a channel by its catalog ID.
func (s *Store) GetChannelByExternalID(ctx context.Context, externalID string) (*ingest.Channel, bool, error) {
	ctx, span := startSpan(ctx, "pgstore.GetChannelByExternalID", "SELECT")
	defer span.End()

	row := s.pool.QueryRow(ctx, `SELECT `+channelColumns+` FROM channels WHERE external_id = $1`, externalID)
	ch, err := scanChannel(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, spanFail(span, err)
	}
	return ch, true, nil
}

// ListChannels returns channels matching the filter, ordered by ID.
func (s *Store) ListChannels(ctx context.Context, f ingest.ChannelFilter) ([]ingest.Channel, error) {
	ctx, span := startSpan(ctx, "pgstore.ListChannels", "SELECT")
	defer span.End()

	q := psql.Select(strings.Split(channelColumns, ", ")...).
		From("channels").
		OrderBy("id")
	if f.EnabledOnly {
		q = q.Where(sq.Eq{"enabled": true})
	}
	if len(f.ExternalIDs) > 0 {
		q = q.Where(sq.Eq{"external_id": f.ExternalIDs})
	}

	query, args, err := q.ToSql()
	if err != nil {
		return nil, spanFail(span, fmt.Errorf("build query: %w", err))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, spanFail(span, fmt.Errorf("query channels: %w", err))
	}
	defer rows.Close()

	var out []ingest.Channel
	for rows.Next() {
		ch, err := scanChannel(rows)
		if err != nil {
			return nil, spanFail(span, err)
		}
		out = append(out, *ch)
	}
	if err := rows.Err(); err != nil {
		return nil, spanFail(span, fmt.Errorf("iterate channels: %w", err))
	}
	return out, nil
}

// SetChannelExternalID records a lazily resolved catalog ID.
func (s *Store) SetChannelExternalID(ctx context.Context, id, externalID string) error {
	ctx, span := startSpan(ctx, "pgstore.SetChannelExternalID", "UPDATE")
	defer span.End()

	tag, err := s.pool.Exec(ctx,
		`UPDATE channels SET external_id = $2, updated_at = now() WHERE id = $1`,
		id, externalID,
	)
	if err != nil {
		return spanFail(span, fmt.Errorf("update channel external id: %w", err))
	}
	if tag.RowsAffected() == 0 {
		return ingest.ErrNotFound
	}
	return nil
}

// SetChannelUploadsPlaylist caches the resolved uploads playlist ID.
func (s *Store) SetChannelUploadsPlaylist(ctx context.Context, id, playlistID string) error {
	ctx, span := startSpan(ctx, "pgstore.SetChannelUploadsPlaylist", "UPDATE")
	defer span.End()

	tag, err := s.pool.Exec(ctx,
		`UPDATE channels SET uploads_playlist = $2, updated_at = now() WHERE id = $1`,
		id, playlistID,
	)
	if err != nil {
		return spanFail(span, fmt.Errorf("update channel playlist: %w", err))
	}
	if tag.RowsAffected() == 0 {
		return ingest.ErrNotFound
	}
	return nil
}

const videoColumns = `video_id, channel_id, title, description, published_at, source_url, origin, event_type, raw_payload, created_at, updated_at`

// GetVideo retrieves a video by its canonical ID.
func (s *Store) GetVideo(ctx context.Context, videoID string) (*ingest.Video, bool, error) {
	ctx, span := startSpan(ctx, "pgstore.GetVideo", "SELECT")
	defer span.End()

	row := s.pool.QueryRow(ctx, `SELECT `+videoColumns+` FROM videos WHERE video_id = $1`, videoID)
	v, err := scanVideo(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, spanFail(span, err)
	}
	return v, true, nil
}

// ExistingVideoIDs reports which of the given IDs are already stored.
func (s *Store) ExistingVideoIDs(ctx context.Context, ids []string) (map[string]bool, error) {
	ctx, span := startSpan(ctx, "pgstore.ExistingVideoIDs", "SELECT")
	defer span.End()

	out := make(map[string]bool, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	rows, err := s.pool.Query(ctx, `SELECT video_id FROM videos WHERE video_id = ANY($1)`, ids)
	if err != nil {
		return nil, spanFail(span, fmt.Errorf("query existing ids: %w", err))
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, spanFail(span, fmt.Errorf("scan id: %w", err))
		}
		out[id] = true
	}
	if err := rows.Err(); err != nil {
		return nil, spanFail(span, fmt.Errorf("iterate ids: %w", err))
	}
	return out, nil
}

// CreateVideo inserts a new video. A duplicate ID yields ingest.ErrConflict.
func (s *Store) CreateVideo(ctx context.Context, v *ingest.Video) error {
	ctx, span := startSpan(ctx, "pgstore.CreateVideo", "INSERT")
	defer span.End()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO videos (video_id, channel_id, title, description, published_at, source_url, origin, event_type, raw_payload, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		v.VideoID, v.ChannelID, v.Title, v.Description, v.PublishedAt, v.SourceURL,
		string(v.Origin), v.EventType, rawOrNil(v.RawPayload), v.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ingest.ErrConflict
		}
		return spanFail(span, fmt.Errorf("insert video: %w", err))
	}
	return nil
}

// UpdateVideoEvent refreshes the event marker and raw payload of an
// existing video. A nil payload keeps the stored one.
func (s *Store) UpdateVideoEvent(ctx context.Context, videoID, eventType string, rawPayload json.RawMessage) error {
	ctx, span := startSpan(ctx, "pgstore.UpdateVideoEvent", "UPDATE")
	defer span.End()

	tag, err := s.pool.Exec(ctx,
		`UPDATE videos SET event_type = $2, raw_payload = COALESCE($3, raw_payload), updated_at = now()
		 WHERE video_id = $1`,
		videoID, eventType, rawOrNil(rawPayload),
	)
	if err != nil {
		return spanFail(span, fmt.Errorf("update video event: %w", err))
	}
	if tag.RowsAffected() == 0 {
		return ingest.ErrNotFound
	}
	return nil
}

// ListVideoKeys returns every stored video's ID and source URL.
func (s *Store) ListVideoKeys(ctx context.Context) ([]ingest.VideoKey, error) {
	ctx, span := startSpan(ctx, "pgstore.ListVideoKeys", "SELECT")
	defer span.End()

	rows, err := s.pool.Query(ctx, `SELECT video_id, source_url FROM videos`)
	if err != nil {
		return nil, spanFail(span, fmt.Errorf("query video keys: %w", err))
	}
	defer rows.Close()

	var out []ingest.VideoKey
	for rows.Next() {
		var k ingest.VideoKey
		if err := rows.Scan(&k.VideoID, &k.SourceURL); err != nil {
			return nil, spanFail(span, fmt.Errorf("scan video key: %w", err))
		}
		out = append(out, k)
	}
	if err := rows.Err(); err != nil {
		return nil, spanFail(span, fmt.Errorf("iterate video keys: %w", err))
	}
	return out, nil
}

// FindVideoByDateTitle looks up a video in the channel published on the
// given UTC date whose title starts with titlePrefix.
func (s *Store) FindVideoByDateTitle(ctx context.Context, channelID, date, titlePrefix string) (*ingest.Video, bool, error) {
	ctx, span := startSpan(ctx, "pgstore.FindVideoByDateTitle", "SELECT")
	defer span.End()

	row := s.pool.QueryRow(ctx,
		`SELECT `+videoColumns+` FROM videos
		 WHERE channel_id = $1
		   AND (published_at AT TIME ZONE 'UTC')::date = $2::date
		   AND title LIKE $3 ESCAPE '\'
		 LIMIT 1`,
		channelID, date, likeEscape(titlePrefix)+"%",
	)
	v, err := scanVideo(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, spanFail(span, err)
	}
	return v, true, nil
}

const jobColumns = `id, video_id, status, created_at, started_at, finished_at, summary_text, key_points, doc_url, doc_id, error`

// EnqueueJob creates a pending job unless a live job already exists for
// the video; the insert is then silently skipped.
func (s *Store) EnqueueJob(ctx context.Context, j *ingest.Job) error {
	ctx, span := startSpan(ctx, "pgstore.EnqueueJob", "INSERT")
	defer span.End()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO jobs (id, video_id, status, created_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (video_id) WHERE status IN ('pending', 'processing') DO NOTHING`,
		j.ID, j.VideoID, string(j.Status), j.CreatedAt,
	)
	if err != nil {
		return spanFail(span, fmt.Errorf("enqueue job: %w", err))
	}
	return nil
}

// GetJob retrieves a job by its ID.
func (s *Store) GetJob(ctx context.Context, id string) (*ingest.Job, bool, error) {
	ctx, span := startSpan(ctx, "pgstore.GetJob", "SELECT")
	defer span.End()

	row := s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)
	j, err := scanJob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, spanFail(span, err)
	}
	return j, true, nil
}

// ClaimJobs atomically moves up to limit pending jobs to processing,
// oldest-created-first. SKIP LOCKED keeps concurrent claimers disjoint.
func (s *Store) ClaimJobs(ctx context.Context, limit int) ([]ingest.Job, error) {
	ctx, span := startSpan(ctx, "pgstore.ClaimJobs", "UPDATE")
	defer span.End()

	if limit <= 0 {
		return nil, nil
	}

	rows, err := s.pool.Query(ctx,
		`UPDATE jobs SET status = 'processing', started_at = now()
		 WHERE id IN (
		     SELECT id FROM jobs
		     WHERE status = 'pending'
		     ORDER BY created_at, id
		     LIMIT $1
		     FOR UPDATE SKIP LOCKED
		 )
		 RETURNING `+jobColumns,
		limit,
	)
	if err != nil {
		return nil, spanFail(span, fmt.Errorf("claim jobs: %w", err))
	}
	defer rows.Close()

	var out []ingest.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, spanFail(span, err)
		}
		out = append(out, *j)
	}
	if err := rows.Err(); err != nil {
		return nil, spanFail(span, fmt.Errorf("iterate claimed jobs: %w", err))
	}
	return out, nil
}

// CompleteJob marks a job done and records its result.
func (s *Store) CompleteJob(ctx context.Context, id string, res ingest.JobResult) error {
	ctx, span := startSpan(ctx, "pgstore.CompleteJob", "UPDATE")
	defer span.End()

	keyPoints, err := json.Marshal(res.KeyPoints)
	if err != nil {
		return spanFail(span, fmt.Errorf("marshal key points: %w", err))
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET status = 'done', finished_at = now(),
		     summary_text = $2, key_points = $3, doc_url = $4, doc_id = $5, error = ''
		 WHERE id = $1`,
		id, res.SummaryText, keyPoints, res.DocURL, res.DocID,
	)
	if err != nil {
		return spanFail(span, fmt.Errorf("complete job: %w", err))
	}
	if tag.RowsAffected() == 0 {
		return ingest.ErrNotFound
	}
	return nil
}

// FailJob marks a job failed and records the error detail.
func (s *Store) FailJob(ctx context.Context, id string, errDetail string) error {
	ctx, span := startSpan(ctx, "pgstore.FailJob", "UPDATE")
	defer span.End()

	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET status = 'failed', finished_at = now(), error = $2 WHERE id = $1`,
		id, errDetail,
	)
	if err != nil {
		return spanFail(span, fmt.Errorf("fail job: %w", err))
	}
	if tag.RowsAffected() == 0 {
		return ingest.ErrNotFound
	}
	return nil
}

// RequeueStale returns processing jobs started before the cutoff to
// pending, reporting how many were flipped.
func (s *Store) RequeueStale(ctx context.Context, before time.Time) (int, error) {
	ctx, span := startSpan(ctx, "pgstore.RequeueStale", "UPDATE")
	defer span.End()

	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET status = 'pending', started_at = NULL
		 WHERE status = 'processing' AND started_at < $1`,
		before,
	)
	if err != nil {
		return 0, spanFail(span, fmt.Errorf("requeue stale: %w", err))
	}
	return int(tag.RowsAffected()), nil
}

const subscriptionColumns = `channel_id, id, topic, callback, status, lease_expires_at, last_subscribed_at`

// UpsertSubscription inserts or replaces the channel's subscription.
func (s *Store) UpsertSubscription(ctx context.Context, sub *ingest.Subscription) error {
	ctx, span := startSpan(ctx, "pgstore.UpsertSubscription", "UPSERT")
	defer span.End()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO subscriptions (channel_id, id, topic, callback, status, lease_expires_at, last_subscribed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (channel_id) DO UPDATE SET
		     id                 = EXCLUDED.id,
		     topic              = EXCLUDED.topic,
		     callback           = EXCLUDED.callback,
		     status             = EXCLUDED.status,
		     lease_expires_at   = EXCLUDED.lease_expires_at,
		     last_subscribed_at = EXCLUDED.last_subscribed_at`,
		sub.ChannelID, sub.ID, sub.Topic, sub.Callback, string(sub.Status),
		timeOrNil(sub.LeaseExpiresAt), timeOrNil(sub.LastSubscribedAt),
	)
	if err != nil {
		return spanFail(span, fmt.Errorf("upsert subscription: %w", err))
	}
	return nil
}

// GetSubscription retrieves the channel's subscription.
func (s *Store) GetSubscription(ctx context.Context, channelID string) (*ingest.Subscription, bool, error) {
	ctx, span := startSpan(ctx, "pgstore.GetSubscription", "SELECT")
	defer span.End()

	row := s.pool.QueryRow(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE channel_id = $1`, channelID)
	sub, err := scanSubscription(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, spanFail(span, err)
	}
	return sub, true, nil
}

// ListExpiringSubscriptions returns subscribed leases expiring at or
// before the deadline, soonest first.
func (s *Store) ListExpiringSubscriptions(ctx context.Context, deadline time.Time) ([]ingest.Subscription, error) {
	ctx, span := startSpan(ctx, "pgstore.ListExpiringSubscriptions", "SELECT")
	defer span.End()

	query, args, err := psql.Select(strings.Split(subscriptionColumns, ", ")...).
		From("subscriptions").
		Where(sq.Eq{"status": string(ingest.SubSubscribed)}).
		Where(sq.LtOrEq{"lease_expires_at": deadline}).
		OrderBy("lease_expires_at").
		ToSql()
	if err != nil {
		return nil, spanFail(span, fmt.Errorf("build query: %w", err))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, spanFail(span, fmt.Errorf("query subscriptions: %w", err))
	}
	defer rows.Close()

	var out []ingest.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, spanFail(span, err)
		}
		out = append(out, *sub)
	}
	if err := rows.Err(); err != nil {
		return nil, spanFail(span, fmt.Errorf("iterate subscriptions: %w", err))
	}
	return out, nil
}

func scanChannel(row pgx.Row) (*ingest.Channel, error) {
	var (
		ch         ingest.Channel
		externalID *string
		updatedAt  *time.Time
	)
	err := row.Scan(&ch.ID, &externalID, &ch.Name, &ch.Handle, &ch.Enabled,
		&ch.UploadsPlaylist, &ch.CreatedAt, &updatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan channel: %w", err)
	}
	if externalID != nil {
		ch.ExternalID = *externalID
	}
	if updatedAt != nil {
		ch.UpdatedAt = *updatedAt
	}
	return &ch, nil
}

func scanVideo(row pgx.Row) (*ingest.Video, error) {
	var (
		v         ingest.Video
		origin    string
		raw       []byte
		updatedAt *time.Time
	)
	err := row.Scan(&v.VideoID, &v.ChannelID, &v.Title, &v.Description, &v.PublishedAt,
		&v.SourceURL, &origin, &v.EventType, &raw, &v.CreatedAt, &updatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan video: %w", err)
	}
	v.Origin = ingest.Origin(origin)
	v.RawPayload = raw
	if updatedAt != nil {
		v.UpdatedAt = *updatedAt
	}
	return &v, nil
}

func scanJob(row pgx.Row) (*ingest.Job, error) {
	var (
		j         ingest.Job
		status    string
		keyPoints []byte
	)
	err := row.Scan(&j.ID, &j.VideoID, &status, &j.CreatedAt, &j.StartedAt, &j.FinishedAt,
		&j.Result.SummaryText, &keyPoints, &j.Result.DocURL, &j.Result.DocID, &j.Error)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan job: %w", err)
	}
	j.Status = ingest.JobStatus(status)
	if len(keyPoints) > 0 {
		if err := json.Unmarshal(keyPoints, &j.Result.KeyPoints); err != nil {
			return nil, fmt.Errorf("unmarshal key points: %w", err)
		}
	}
	return &j, nil
}

func scanSubscription(row pgx.Row) (*ingest.Subscription, error) {
	var (
		sub            ingest.Subscription
		status         string
		leaseExpires   *time.Time
		lastSubscribed *time.Time
	)
	err := row.Scan(&sub.ChannelID, &sub.ID, &sub.Topic, &sub.Callback, &status,
		&leaseExpires, &lastSubscribed)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan subscription: %w", err)
	}
	sub.Status = ingest.SubscriptionStatus(status)
	if leaseExpires != nil {
		sub.LeaseExpiresAt = *leaseExpires
	}
	if lastSubscribed != nil {
		sub.LastSubscribedAt = *lastSubscribed
	}
	return &sub, nil
}

// likeEscape neutralizes LIKE metacharacters in a literal prefix.
func likeEscape(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

func rawOrNil(raw json.RawMessage) []byte {
	if len(raw) == 0 {
		return nil
	}
	return raw
}

func timeOrNil(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
