package relay

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"linerelay/internal/domain"
	"linerelay/internal/metrics"
)

// Router classifies decoded events and hands each one to the coordinator.
// It creates exactly one job per text or image event and none for anything
// else; follow/join style events carry no reply semantics.
type Router struct {
	coordinator domain.Coordinator
	fetcher     domain.ContentFetcher
	logger      *slog.Logger
}

type RouterConfig struct {
	Coordinator domain.Coordinator
	Fetcher     domain.ContentFetcher
	Logger      *slog.Logger
}

func NewRouter(cfg RouterConfig) *Router {
	return &Router{
		coordinator: cfg.Coordinator,
		fetcher:     cfg.Fetcher,
		logger:      cfg.Logger,
	}
}

// Dispatch routes every event in the envelope and returns without waiting
// on any of them. A slow image download or inference call never delays the
// webhook acknowledgement or a sibling event.
func (r *Router) Dispatch(env domain.Envelope) {
	for _, ev := range env.Events {
		switch ev.Kind {
		case domain.EventText:
			if ev.ReplyToken == "" {
				metrics.EventsIgnored.Inc()
				continue
			}
			metrics.EventsDispatched.Inc()
			r.coordinator.Submit(domain.ReplyJob{
				ReplyToken: ev.ReplyToken,
				SourceID:   ev.SourceID,
				EventKind:  domain.EventText,
				Request:    domain.InferenceRequest{Kind: domain.PromptText, Text: ev.Text},
				Received:   time.Now(),
			})

		case domain.EventImage:
			if ev.ReplyToken == "" {
				metrics.EventsIgnored.Inc()
				continue
			}
			metrics.EventsDispatched.Inc()
			// The content download happens off the dispatch path so the
			// acknowledgement is never held up by a slow CDN.
			go r.dispatchImage(ev)

		default:
			metrics.EventsIgnored.Inc()
			r.logger.Debug("event ignored", "source", ev.SourceID)
		}
	}
}

// dispatchImage fetches the image bytes and submits the inference job. A
// fetch failure still produces a job: one that short-circuits straight to
// the fallback reply so the user never gets silence.
func (r *Router) dispatchImage(ev domain.Event) {
	data, mime, err := r.fetcher.Fetch(context.Background(), ev.ContentID)
	if err != nil {
		r.logger.Warn("image fetch failed, replying with fallback",
			"source", ev.SourceID, "content_id", ev.ContentID, "err", err)
		r.coordinator.Submit(domain.ReplyJob{
			ReplyToken: ev.ReplyToken,
			SourceID:   ev.SourceID,
			EventKind:  domain.EventImage,
			Failure:    fetchFailure(err),
			Received:   time.Now(),
		})
		return
	}

	r.coordinator.Submit(domain.ReplyJob{
		ReplyToken: ev.ReplyToken,
		SourceID:   ev.SourceID,
		EventKind:  domain.EventImage,
		Request:    domain.InferenceRequest{Kind: domain.PromptImage, Image: data, MimeType: mime},
		Received:   time.Now(),
	})
}

func fetchFailure(err error) *domain.InferenceFailure {
	kind := domain.FailUnknown
	var fe *domain.FetchError
	if errors.As(err, &fe) {
		if fe.Code == domain.FetchTimeout {
			kind = domain.FailTimeout
		} else {
			kind = domain.FailInvalidContent
		}
	}
	return &domain.InferenceFailure{Kind: kind, Detail: err.Error()}
}
