package nightscoutstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"time"

	"github.com/DmitriyVTitov/size"
	slogctx "github.com/veqryn/slog-context"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/adamlounds/nightscout-tdd/models"
)

const (
	userAgent         = "nightscout-tdd/0.4"
	defaultBatchSize  = 1000
	defaultMaxBatches = 100 // just in case something _weird_ happens, don't keep hammering remote server
	defaultTimeout    = 30 * time.Second
)

var ErrAccessDenied = errors.New("nsstore: permission denied")

type NightscoutConfig struct {
	URL        *url.URL
	Token      string
	SecretHash string // sha1 hex of the api secret
	BatchSize  int
	MaxBatches int
	HTTPClient *http.Client
}

func (cfg NightscoutConfig) String() string {
	return fmt.Sprintf("host=%s hasToken=%t hasSecret=%t", cfg.URL.String(), cfg.Token != "", cfg.SecretHash != "")
}

type NightscoutStore struct {
	URL        *url.URL
	Token      string
	SecretHash string
	BatchSize  int
	MaxBatches int
	client     *http.Client
}

func New(cfg NightscoutConfig) *NightscoutStore {
	s := &NightscoutStore{
		URL:        cfg.URL,
		Token:      cfg.Token,
		SecretHash: cfg.SecretHash,
		BatchSize:  cfg.BatchSize,
		MaxBatches: cfg.MaxBatches,
		client:     cfg.HTTPClient,
	}
	if s.BatchSize <= 0 {
		s.BatchSize = defaultBatchSize
	}
	if s.MaxBatches <= 0 {
		s.MaxBatches = defaultMaxBatches
	}
	if s.client == nil {
		s.client = &http.Client{Timeout: defaultTimeout}
	}
	return s
}

// FetchTreatments pages backwards through treatments created at or after
// since (zero means no lower bound), newest first, until maxCount treatments
// have been collected or the remote runs out.
func (b *NightscoutStore) FetchTreatments(ctx context.Context, since time.Time, maxCount int) ([]models.TreatmentEvent, error) {
	log := slogctx.FromCtx(ctx)
	if maxCount <= 0 {
		maxCount = b.BatchSize
	}

	seen := make(map[string]struct{})
	var treatments []models.TreatmentEvent
	before := ""
	overlap := 0 // treatments at the boundary the next page will repeat
	for i := 0; i < b.MaxBatches && len(treatments) < maxCount; i++ {
		batchSize := min(b.BatchSize, maxCount-len(treatments)+overlap)
		batch, err := b.fetchBatchOfTreatments(ctx, batchSize, since, before)
		if err != nil {
			return nil, fmt.Errorf("cannot FetchTreatments: %w", err)
		}

		added := 0
		for _, t := range batch {
			if _, dup := seen[t.Oid]; dup {
				continue
			}
			seen[t.Oid] = struct{}{}
			treatments = append(treatments, t)
			added++
			if len(treatments) == maxCount {
				break
			}
		}
		log.Debug("FetchTreatments got batch",
			slog.Int("batch", i),
			slog.Int("numTreatments", len(batch)),
			slog.Int("numNew", added),
		)

		if len(batch) < batchSize || added == 0 {
			break
		}
		oldest := oldestCreatedAt(batch)
		if oldest == "" || oldest == before {
			break
		}
		before = oldest
		overlap = 0
		for _, t := range batch {
			if t.CreatedAt == before {
				overlap++
			}
		}
	}
	return treatments, nil
}

// oldestCreatedAt returns the wire created_at of the oldest parsable
// treatment in batch.
func oldestCreatedAt(batch []models.TreatmentEvent) string {
	var oldest time.Time
	var raw string
	for _, t := range batch {
		if t.CreatedAt == "" {
			continue
		}
		at, err := models.ParseWireTime(t.CreatedAt, 0)
		if err != nil {
			continue
		}
		if raw == "" || at.Before(oldest) {
			oldest, raw = at, t.CreatedAt
		}
	}
	return raw
}

// fetchBatchOfTreatments fetches one page of treatments. nightscout sorts
// by created_at descending, and compares created_at as strings, so the page
// boundary is the oldest created_at exactly as the remote sent it. $lte
// refetches the boundary treatments; the caller drops them by _id.
func (b *NightscoutStore) fetchBatchOfTreatments(ctx context.Context, batchSize int, since time.Time, before string) ([]models.TreatmentEvent, error) {
	log := slogctx.FromCtx(ctx)

	q := url.Values{}
	q.Set("count", strconv.Itoa(batchSize))
	if !since.IsZero() {
		q.Set("find[created_at][$gte]", since.UTC().Format("2006-01-02T15:04:05.000Z"))
	}
	if before != "" {
		q.Set("find[created_at][$lte]", before)
	}

	var nsTreatments []nsTreatment
	err := b.getJSON(ctx, "treatments.json", q, &nsTreatments)
	if err != nil {
		return nil, fmt.Errorf("fetchBatchOfTreatments: %w", err)
	}
	log.Debug("fetchBatchOfTreatments parsed treatments",
		slog.Int("batchSize", batchSize),
		slog.Int("numTreatmentsParsed", len(nsTreatments)),
		slog.Int("batchBytes", size.Of(nsTreatments)),
	)

	treatments := make([]models.TreatmentEvent, len(nsTreatments))
	for i, t := range nsTreatments {
		treatments[i] = t.toModel()
	}
	return treatments, nil
}

// FetchProfileDocuments fetches every profile store document.
func (b *NightscoutStore) FetchProfileDocuments(ctx context.Context) ([]models.ProfileDocument, error) {
	log := slogctx.FromCtx(ctx)

	var nsProfiles []nsProfileDocument
	err := b.getJSON(ctx, "profile.json", url.Values{}, &nsProfiles)
	if err != nil {
		return nil, fmt.Errorf("cannot FetchProfileDocuments: %w", err)
	}

	docs := make([]models.ProfileDocument, 0, len(nsProfiles))
	for _, p := range nsProfiles {
		doc, err := p.toModel(ctx)
		if err != nil {
			log.Warn("FetchProfileDocuments skipping profile document", slog.String("oid", p.Oid), slog.Any("err", err))
			continue
		}
		docs = append(docs, doc)
	}
	log.Debug("FetchProfileDocuments parsed profiles", slog.Int("numDocuments", len(docs)))
	return docs, nil
}

func (b *NightscoutStore) getJSON(ctx context.Context, file string, q url.Values, dst any) error {
	log := slogctx.FromCtx(ctx)

	u := *b.URL
	u.Path = path.Join(u.Path, "api", "v1", file)
	if b.Token != "" {
		q.Set("token", b.Token)
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return fmt.Errorf("cannot NewRequestWithContext: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")
	if b.SecretHash != "" {
		req.Header.Set("api-secret", b.SecretHash)
	}

	res, err := b.client.Do(req)
	if err != nil {
		var dnsError *net.DNSError
		if errors.As(err, &dnsError) {
			log.Info("getJSON DNSError", slog.Any("err", dnsError))
			return fmt.Errorf("remote server NOT FOUND: %w", err)
		}
		return fmt.Errorf("cannot Do req: %w", err)
	}
	defer res.Body.Close()

	switch res.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized, http.StatusForbidden:
		log.Info("getJSON access denied", slog.Int("code", res.StatusCode), slog.String("file", file))
		return fmt.Errorf("%w: status %d", ErrAccessDenied, res.StatusCode)
	default:
		log.Info("getJSON got non-200 res", slog.Int("code", res.StatusCode), slog.String("file", file))
		return fmt.Errorf("got non-200 response: %d", res.StatusCode)
	}

	err = json.NewDecoder(res.Body).Decode(dst)
	if err != nil {
		return fmt.Errorf("cannot decode %s: %w", file, err)
	}
	return nil
}

func (b *NightscoutStore) IsAccessDeniedErr(err error) bool {
	return errors.Is(err, ErrAccessDenied)
}

// newOid generates a mongo-style id for treatments the remote sent without one.
func newOid() string {
	return primitive.NewObjectID().Hex()
}
