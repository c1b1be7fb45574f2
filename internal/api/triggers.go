package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/linnemanlabs/channelwatch/internal/ingest"
	"github.com/linnemanlabs/channelwatch/internal/poll"
)

// defaultStaleAfter bounds the operator requeue trigger when no
// threshold is given.
const defaultStaleAfter = 30 * time.Minute

const renewHorizon = 24 * time.Hour

func (a *API) handlePoll(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ChannelIDs []string `json:"channelIds"`
		MaxResults int      `json:"maxResults"`
	}
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}

	res, err := a.poller.Run(r.Context(), poll.Options{
		ExternalIDs: req.ChannelIDs,
		MaxResults:  req.MaxResults,
	})
	if err != nil {
		a.logger.Error(r.Context(), err, "poll trigger failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *API) handleRunJobs(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Limit int `json:"limit"`
	}
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}

	res, err := a.runner.ProcessBatch(r.Context(), req.Limit)
	if err != nil {
		a.logger.Error(r.Context(), err, "job trigger failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *API) handleRequeueStale(w http.ResponseWriter, r *http.Request) {
	var req struct {
		OlderThanMinutes int `json:"olderThanMinutes"`
	}
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}

	olderThan := defaultStaleAfter
	if req.OlderThanMinutes > 0 {
		olderThan = time.Duration(req.OlderThanMinutes) * time.Minute
	}

	n, err := a.runner.RequeueStale(r.Context(), olderThan)
	if err != nil {
		a.logger.Error(r.Context(), err, "requeue trigger failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"requeued": n})
}

func (a *API) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ChannelID string `json:"channelId"`
	}
	if err := readJSON(r, &req); err != nil || req.ChannelID == "" {
		writeError(w, http.StatusBadRequest, "channelId is required")
		return
	}

	ch, ok, err := a.store.GetChannelByExternalID(r.Context(), req.ChannelID)
	if err != nil {
		a.logger.Error(r.Context(), err, "channel lookup failed", "external_id", req.ChannelID)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "unknown channel")
		return
	}

	if err := a.subs.Subscribe(r.Context(), ch); err != nil {
		var vErr *ingest.ValidationError
		if errors.As(err, &vErr) {
			writeError(w, http.StatusBadRequest, vErr.Error())
			return
		}
		a.logger.Error(r.Context(), err, "subscribe failed", "channel", ch.ID)
		writeError(w, http.StatusBadGateway, "hub rejected subscription")
		return
	}

	sub, found, err := a.store.GetSubscription(r.Context(), ch.ID)
	if err != nil {
		a.logger.Error(r.Context(), err, "subscription readback failed", "channel", ch.ID)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if !found {
		a.logger.Error(r.Context(), errors.New("subscription missing after subscribe"), "subscription readback failed", "channel", ch.ID)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"channelId":      ch.ExternalID,
		"topic":          sub.Topic,
		"callback":       sub.Callback,
		"leaseExpiresAt": sub.LeaseExpiresAt,
	})
}

func (a *API) handleResubscribe(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ChannelID string `json:"channelId"`
	}
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}

	// Single-channel renewal is just a fresh subscribe.
	if req.ChannelID != "" {
		a.handleSubscribeByExternalID(w, r, req.ChannelID)
		return
	}

	renewed, err := a.subs.RenewExpiring(r.Context(), renewHorizon)
	resp := map[string]any{"renewed": renewed}
	if err != nil {
		a.logger.Error(r.Context(), err, "renewal sweep finished with errors", "renewed", renewed)
		resp["errors"] = []string{err.Error()}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleSubscribeByExternalID(w http.ResponseWriter, r *http.Request, externalID string) {
	ch, ok, err := a.store.GetChannelByExternalID(r.Context(), externalID)
	if err != nil {
		a.logger.Error(r.Context(), err, "channel lookup failed", "external_id", externalID)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "unknown channel")
		return
	}
	if err := a.subs.Subscribe(r.Context(), ch); err != nil {
		a.logger.Error(r.Context(), err, "resubscribe failed", "channel", ch.ID)
		writeError(w, http.StatusBadGateway, "hub rejected subscription")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"renewed": 1})
}
