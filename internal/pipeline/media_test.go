package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/changhorizon/content-collector/internal/collector"
)

type mediaFixture struct {
	pages      *memPages
	media      *memMedia
	limiter    *stubLimiter
	downloader *stubDownloader
	stage      *MediaStage
	parsedID   int64
	rawID      int64
}

func newMediaFixture(t *testing.T) *mediaFixture {
	t.Helper()
	ledger := newMemLedger()
	pages := newMemPages(ledger)
	media := newMemMedia()
	lim := &stubLimiter{grant: true}
	downloader := &stubDownloader{
		stored: collector.StoredMedia{
			Path:        "shop.example.com/abc123.jpg",
			Bytes:       2048,
			Hash:        "abc123",
			HTTPStatus:  200,
			ContentType: "image/jpeg",
			Extension:   ".jpg",
		},
	}
	stage := NewMediaStage(pages, media, lim, downloader, stubHasher{}, testClock(), zap.NewNop())

	ctx := context.Background()
	rawID, err := pages.SaveFetchedPage(ctx, collector.RawPage{
		TaskID: "t1", Host: testHost, URL: testEntry, HTTPCode: 200,
	})
	require.NoError(t, err)
	parsedID, err := pages.SaveParsedPage(ctx, collector.ParsedPage{
		RawPageID: rawID, Host: testHost, URL: testEntry, LastTaskID: "t1",
	}, nil)
	require.NoError(t, err)

	return &mediaFixture{
		pages: pages, media: media, limiter: lim, downloader: downloader,
		stage: stage, parsedID: parsedID, rawID: rawID,
	}
}

func (fx *mediaFixture) mediaCtx(mediaURL string) collector.MediaContext {
	return collector.MediaContext{
		TaskID:       "t1",
		Host:         testHost,
		Params:       fetchParams(),
		ParsedPageID: fx.parsedID,
		PageURL:      testEntry,
		MediaURL:     mediaURL,
	}
}

func TestMediaStageDownloadsAndPersists(t *testing.T) {
	t.Parallel()

	fx := newMediaFixture(t)
	mediaURL := "https://shop.example.com/static/logo.jpg?v=2"

	require.NoError(t, fx.stage.Handle(context.Background(), fx.mediaCtx(mediaURL)))

	require.Len(t, fx.downloader.urls, 1)
	require.Equal(t, mediaURL, fx.downloader.urls[0])
	// Storage path is host-scoped and keyed by the URL hash.
	require.Contains(t, fx.downloader.paths[0], testHost+"/")
	// The page that discovered the media is the referer.
	require.Equal(t, testEntry, fx.downloader.reqs[0].Headers.Get("Referer"))
	require.NotEmpty(t, fx.downloader.reqs[0].Headers.Get("Accept"))

	stored, ok := fx.media.stored[testHost+"|"+mediaURL]
	require.True(t, ok)
	require.Equal(t, "/static/logo.jpg", stored.SourcePath)
	require.Equal(t, "logo.jpg", stored.SourceFilename)
	require.Equal(t, "v=2", stored.SourceQuery)
	require.Equal(t, int64(2048), stored.ContentSize)
	require.Equal(t, "abc123", stored.ContentHash)
	require.Equal(t, "t1", stored.LastTaskID)
	require.Equal(t, []int64{fx.rawID}, fx.media.refs)

	require.Equal(t, 1, fx.limiter.acquires)
	require.Equal(t, 1, fx.limiter.releases)
}

func TestMediaStageMissingParsedPageIsNoop(t *testing.T) {
	t.Parallel()

	fx := newMediaFixture(t)
	mediaCtx := fx.mediaCtx("https://shop.example.com/static/a.jpg")
	mediaCtx.ParsedPageID = 9999

	require.NoError(t, fx.stage.Handle(context.Background(), mediaCtx))
	require.Empty(t, fx.downloader.urls)
	require.Zero(t, fx.limiter.acquires)
}

func TestMediaStageExistingMediaIsNoop(t *testing.T) {
	t.Parallel()

	fx := newMediaFixture(t)
	mediaURL := "https://shop.example.com/static/a.jpg"
	_, err := fx.media.SaveMedia(context.Background(), collector.Media{
		Host: testHost, URL: mediaURL,
	}, fx.rawID)
	require.NoError(t, err)

	require.NoError(t, fx.stage.Handle(context.Background(), fx.mediaCtx(mediaURL)))
	require.Empty(t, fx.downloader.urls)
	require.Zero(t, fx.limiter.acquires)
}

func TestMediaStageSlotRefused(t *testing.T) {
	t.Parallel()

	fx := newMediaFixture(t)
	fx.limiter.grant = false

	err := fx.stage.Handle(context.Background(), fx.mediaCtx("https://shop.example.com/static/a.jpg"))
	require.ErrorIs(t, err, ErrSlotRefused)
	require.Empty(t, fx.downloader.urls)
	require.Zero(t, fx.limiter.releases)
}

func TestMediaStageSkippedDownloadStoresNothing(t *testing.T) {
	t.Parallel()

	fx := newMediaFixture(t)
	fx.downloader.stored = collector.StoredMedia{
		Skipped:    true,
		SkipReason: "non_media_content",
	}

	require.NoError(t, fx.stage.Handle(context.Background(), fx.mediaCtx("https://shop.example.com/page.html")))
	require.Len(t, fx.downloader.urls, 1)
	require.Len(t, fx.media.stored, 0)
	require.Equal(t, 1, fx.limiter.releases)
}

func TestMediaStageDownloadErrorReleasesSlot(t *testing.T) {
	t.Parallel()

	fx := newMediaFixture(t)
	fx.downloader.err = errors.New("connection reset")

	err := fx.stage.Handle(context.Background(), fx.mediaCtx("https://shop.example.com/static/a.jpg"))
	require.Error(t, err)
	require.Equal(t, 1, fx.limiter.acquires)
	require.Equal(t, 1, fx.limiter.releases)
	require.Empty(t, fx.media.stored)
}
