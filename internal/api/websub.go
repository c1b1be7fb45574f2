package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/linnemanlabs/channelwatch/internal/ingest"
	"github.com/linnemanlabs/channelwatch/internal/websub"
)

// handleVerify answers the hub's subscription handshake. The hub calls
// back with the challenge and expects it echoed verbatim.
func (a *API) handleVerify(w http.ResponseWriter, r *http.Request) {
	if !a.subs.VerifySecret(chi.URLParam(r, "secret")) {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	q := r.URL.Query()
	mode := q.Get("hub.mode")
	topic := q.Get("hub.topic")
	challenge := q.Get("hub.challenge")

	if topic == "" || challenge == "" {
		writeError(w, http.StatusBadRequest, "missing hub parameters")
		return
	}
	if mode != "subscribe" && mode != "unsubscribe" {
		writeError(w, http.StatusBadRequest, "unsupported hub.mode")
		return
	}

	if mode == "subscribe" {
		leaseSeconds, _ := strconv.Atoi(q.Get("hub.lease_seconds"))
		if err := a.subs.RecordVerified(r.Context(), topic, leaseSeconds); err != nil {
			a.logger.Error(r.Context(), err, "recording verification failed", "topic", topic)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
	}

	a.logger.Info(r.Context(), "hub verification answered", "mode", mode, "topic", topic)
	w.Header().Set("Content-Type", "text/plain")
	_, _ = w.Write([]byte(challenge))
}

// handleNotification takes a pushed feed and routes each entry. The hub
// retries on non-2xx, so per-entry failures are logged and answered 200
// once the payload itself parsed.
func (a *API) handleNotification(w http.ResponseWriter, r *http.Request) {
	if !a.subs.VerifySecret(chi.URLParam(r, "secret")) {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, websub.MaxPayloadBytes))
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "payload too large")
			return
		}
		writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}

	notes, err := websub.ParseFeed(body)
	if err != nil {
		a.logger.Warn(r.Context(), "unparseable notification payload", "error", err.Error(), "bytes", len(body))
		writeError(w, http.StatusBadRequest, "invalid feed")
		return
	}

	for i := range notes {
		a.routeNotification(r, &notes[i])
	}

	w.Header().Set("Content-Type", "text/plain")
	_, _ = w.Write([]byte("OK"))
}

func (a *API) routeNotification(r *http.Request, note *websub.Notification) {
	ctx := r.Context()

	ch, ok, err := a.store.GetChannelByExternalID(ctx, note.ExternalChannelID)
	if err != nil {
		a.logger.Error(ctx, err, "channel lookup failed", "external_id", note.ExternalChannelID)
		return
	}
	if !ok {
		a.logger.Warn(ctx, "notification for untracked channel",
			"external_id", note.ExternalChannelID, "video", note.VideoID)
		return
	}

	cand := &ingest.Candidate{
		VideoID:     note.VideoID,
		SourceURL:   note.Link,
		ChannelID:   ch.ID,
		Title:       note.Title,
		PublishedAt: note.Published,
		Origin:      ingest.OriginPush,
		EventType:   ingest.EventNewOrUpdate,
		RawPayload:  note.RawPayload,
	}

	if note.Deleted {
		cand.EventType = ingest.EventDeleted
		if _, err := a.ingestor.MarkDeleted(ctx, cand); err != nil {
			a.logger.Error(ctx, err, "delete routing failed", "video", note.VideoID)
		}
		return
	}

	if _, err := a.ingestor.Ingest(ctx, cand); err != nil {
		a.logger.Error(ctx, err, "notification ingest failed", "video", note.VideoID)
	}
}
