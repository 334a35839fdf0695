package pipeline

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/transit-bulletin-crawler/internal/bulletin"
	"github.com/JakeFAU/transit-bulletin-crawler/internal/extractor/parser"
	"github.com/JakeFAU/transit-bulletin-crawler/internal/hash/sha256"
	pubmemory "github.com/JakeFAU/transit-bulletin-crawler/internal/publisher/memory"
	"github.com/JakeFAU/transit-bulletin-crawler/internal/reconcile"
	"github.com/JakeFAU/transit-bulletin-crawler/internal/storage/memory"
)

const sidebar = "Header\nRoute 5: 5,5A\nBuses delayed due to weather\nRoute 9: 9\nService suspended"

type stubSource struct {
	text string
	err  error
	urls []string
}

func (s *stubSource) Fetch(_ context.Context, url string) (string, error) {
	s.urls = append(s.urls, url)
	return s.text, s.err
}

type countingExtractor struct {
	inner bulletin.Extractor
	calls int
	err   error
}

func (c *countingExtractor) Extract(ctx context.Context, text string) ([]bulletin.Record, error) {
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	return c.inner.Extract(ctx, text)
}

type failingPublisher struct{ calls int }

func (f *failingPublisher) Publish(context.Context, string, any) (string, error) {
	f.calls++
	return "", errors.New("topic not found")
}

type fixedClock struct{}

func (fixedClock) Now() time.Time { return time.UnixMilli(1700000000000) }

func newReconciler(t *testing.T) (*reconcile.Reconciler, *memory.Store) {
	t.Helper()
	store := memory.New()
	r, err := reconcile.New(store, sha256.New(), fixedClock{}, reconcile.Options{})
	require.NoError(t, err)
	return r, store
}

func TestRunRecordModeMarksNewThenSeen(t *testing.T) {
	t.Parallel()

	src := &stubSource{text: sidebar}
	rec, store := newReconciler(t)
	pub := pubmemory.New()
	p, err := New(
		Config{TargetURL: "https://transit.example/alerts", Mode: ModeRecord, Topic: "bulletins"},
		Deps{Source: src, Extractor: parser.New(), Reconciler: rec, Publisher: pub},
	)
	require.NoError(t, err)

	first, err := p.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, "https://transit.example/alerts", first.TargetURL)
	require.Len(t, first.Data, 2)
	require.Equal(t, "Route 5", first.Data[0].Title)
	require.Equal(t, []string{"5", "5A"}, first.Data[0].Buses)
	require.True(t, first.Data[0].IsNew)
	require.True(t, first.Data[1].IsNew)
	require.Equal(t, 2, store.Len())
	require.Len(t, pub.Messages(), 2)

	second, err := p.Run(context.Background())
	require.NoError(t, err)
	for i, r := range second.Data {
		require.False(t, r.IsNew)
		require.Equal(t, first.Data[i].Hash, r.Hash)
	}
	require.Len(t, pub.Messages(), 2, "seen records are not republished")
	require.Equal(t, []string{"https://transit.example/alerts", "https://transit.example/alerts"}, src.urls)
}

func TestRunTextModeSkipsExtractionOnHit(t *testing.T) {
	t.Parallel()

	ex := &countingExtractor{inner: parser.New()}
	rec, store := newReconciler(t)
	p, err := New(
		Config{TargetURL: "https://transit.example/alerts", Mode: ModeText, ExtractorName: "ai"},
		Deps{Source: &stubSource{text: sidebar}, Extractor: ex, Reconciler: rec},
	)
	require.NoError(t, err)

	first, err := p.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, first.Data, 2)
	require.Equal(t, first.Data[0].Hash, first.Data[1].Hash)

	second, err := p.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, second.Data, 2)
	require.False(t, second.Data[0].IsNew)
	require.Equal(t, 1, ex.calls)
	require.Equal(t, 1, store.Len())
}

func TestRunEmptyPage(t *testing.T) {
	t.Parallel()

	for _, mode := range []string{ModeRecord, ModeText} {
		t.Run(mode, func(t *testing.T) {
			t.Parallel()
			ex := &countingExtractor{inner: parser.New()}
			rec, store := newReconciler(t)
			p, err := New(
				Config{TargetURL: "https://transit.example/alerts", Mode: mode},
				Deps{Source: &stubSource{text: ""}, Extractor: ex, Reconciler: rec},
			)
			require.NoError(t, err)

			res, err := p.Run(context.Background())
			require.NoError(t, err)
			require.NotNil(t, res.Data)
			require.Empty(t, res.Data)
			require.Zero(t, ex.calls)
			require.Zero(t, store.Len())
		})
	}
}

func TestRunConfigurationErrors(t *testing.T) {
	t.Parallel()

	rec, _ := newReconciler(t)
	src := &stubSource{text: sidebar}

	p, err := New(Config{}, Deps{Source: src, Extractor: parser.New(), Reconciler: rec})
	require.NoError(t, err)
	_, err = p.Run(context.Background())
	require.ErrorIs(t, err, bulletin.ErrConfiguration)

	missingKey := fmt.Errorf("%w: ai.api_key is required", bulletin.ErrConfiguration)
	p, err = New(Config{TargetURL: "https://x"}, Deps{Source: src, Reconciler: rec, ExtractorErr: missingKey})
	require.NoError(t, err)
	_, err = p.Run(context.Background())
	require.ErrorIs(t, err, bulletin.ErrConfiguration)
	require.ErrorContains(t, err, "ai.api_key")
	require.Empty(t, src.urls, "nothing is fetched without configuration")
}

func TestRunPropagatesErrors(t *testing.T) {
	t.Parallel()

	rec, store := newReconciler(t)
	fetchErr := fmt.Errorf("%w: status 502", bulletin.ErrFetch)
	p, err := New(Config{TargetURL: "https://x"}, Deps{
		Source:     &stubSource{err: fetchErr},
		Extractor:  parser.New(),
		Reconciler: rec,
	})
	require.NoError(t, err)
	_, err = p.Run(context.Background())
	require.ErrorIs(t, err, bulletin.ErrFetch)

	schemaErr := &bulletin.SchemaValidationError{Diagnostics: []string{"decode"}}
	for _, mode := range []string{ModeRecord, ModeText} {
		p, err = New(Config{TargetURL: "https://x", Mode: mode}, Deps{
			Source:     &stubSource{text: sidebar},
			Extractor:  &countingExtractor{err: schemaErr},
			Reconciler: rec,
		})
		require.NoError(t, err)
		_, err = p.Run(context.Background())
		require.ErrorIs(t, err, bulletin.ErrExtraction)
	}
	require.Zero(t, store.Len(), "rejected extraction writes nothing")
}

func TestRunPublishFailureIsNotFatal(t *testing.T) {
	t.Parallel()

	rec, _ := newReconciler(t)
	pub := &failingPublisher{}
	p, err := New(Config{TargetURL: "https://x", Topic: "bulletins"}, Deps{
		Source:     &stubSource{text: sidebar},
		Extractor:  parser.New(),
		Reconciler: rec,
		Publisher:  pub,
	})
	require.NoError(t, err)

	res, err := p.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Data, 2)
	require.Equal(t, 2, pub.calls)
}

func TestNewValidates(t *testing.T) {
	t.Parallel()

	rec, _ := newReconciler(t)
	_, err := New(Config{}, Deps{Reconciler: rec})
	require.Error(t, err)
	_, err = New(Config{Mode: "page"}, Deps{Source: &stubSource{}, Reconciler: rec})
	require.Error(t, err)
}
