package repository

import (
	"context"
	"log/slog"
	"net/url"
	"time"

	slogctx "github.com/veqryn/slog-context"

	"github.com/adamlounds/nightscout-tdd/models"
	nightscoutstore "github.com/adamlounds/nightscout-tdd/stores/nightscout"
)

type NightscoutStoreInterface interface {
	FetchTreatments(ctx context.Context, since time.Time, maxCount int) ([]models.TreatmentEvent, error)
	FetchProfileDocuments(ctx context.Context) ([]models.ProfileDocument, error)
	IsAccessDeniedErr(err error) bool
}

type NightscoutConfig struct {
	URL        *url.URL
	Token      string
	SecretHash string
}

// NightscoutRepository serves treatments and profiles straight from a
// remote nightscout instance.
type NightscoutRepository struct {
	Store NightscoutStoreInterface
}

func NewNightscoutRepository(nsCfg NightscoutConfig) *NightscoutRepository {
	store := nightscoutstore.New(nightscoutstore.NightscoutConfig{
		URL:        nsCfg.URL,
		Token:      nsCfg.Token,
		SecretHash: nsCfg.SecretHash,
	})
	return &NightscoutRepository{Store: store}
}

func (n *NightscoutRepository) FetchTreatments(ctx context.Context, since time.Time, maxCount int) ([]models.TreatmentEvent, error) {
	log := slogctx.FromCtx(ctx)
	t1 := time.Now()
	treatments, err := n.Store.FetchTreatments(ctx, since, maxCount)
	if err != nil {
		n.logFetchError(ctx, "treatments", err)
		return nil, err
	}
	log.Debug("fetched treatments from nightscout",
		slog.Int("numTreatments", len(treatments)),
		slog.Int64("duration_ms", time.Since(t1).Milliseconds()),
	)
	if len(treatments) == maxCount {
		log.Warn("treatment fetch hit the count limit, older days may be incomplete", slog.Int("maxCount", maxCount))
	}
	return treatments, nil
}

func (n *NightscoutRepository) FetchProfileDocuments(ctx context.Context) ([]models.ProfileDocument, error) {
	docs, err := n.Store.FetchProfileDocuments(ctx)
	if err != nil {
		n.logFetchError(ctx, "profiles", err)
		return nil, err
	}
	return docs, nil
}

func (n *NightscoutRepository) logFetchError(ctx context.Context, what string, err error) {
	log := slogctx.FromCtx(ctx)
	if n.Store.IsAccessDeniedErr(err) {
		log.Warn("nightscout refused access, check NS_SECRET / NS_TOKEN", slog.String("fetch", what))
		return
	}
	log.Warn("nightscout fetch failed", slog.String("fetch", what), slog.Any("err", err))
}
