package internal

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"github.com/spool-dl/spool/engine"
	spoolhttp "github.com/spool-dl/spool/fetchers/http"
	"github.com/spool-dl/spool/fetchers/s3"
	"github.com/spool-dl/spool/utils"
)

// NewSession builds an engine session for an entry, picking the fetcher
// by URL scheme.
func NewSession(ctx context.Context, entry utils.DownloadEntry, clientConfig utils.HTTPClientConfig) (*engine.Session, error) {
	fetchType := entry.Type
	if fetchType == "" {
		fetchType = utils.DetermineFetchType(entry.URL)
	}
	var fetcher engine.Fetcher
	switch fetchType {
	case "s3":
		s3Fetcher, err := s3.NewFetcher(ctx)
		if err != nil {
			return nil, fmt.Errorf("error creating S3 fetcher: %v", err)
		}
		fetcher = s3Fetcher
	case "http":
		client := utils.CreateHTTPClient(clientConfig)
		fetcher = spoolhttp.NewFetcher(client, clientConfig.UserAgent, clientConfig.Headers)
	default:
		return nil, fmt.Errorf("unknown download type: %s", fetchType)
	}
	return engine.NewSession(entry.URL, entry.Dir, entry.Filename, engine.WithFetcher(fetcher)), nil
}

// BatchDownload drains the entry list with numWorkers independent
// sessions and a live progress display. It returns an error when any
// entry failed.
func BatchDownload(ctx context.Context, entries []utils.DownloadEntry, numWorkers int, clientConfig utils.HTTPClientConfig) error {
	log := utils.GetLogger("downloader")
	log.Info().Int("totalFiles", len(entries)).Int("workers", numWorkers).Msg("Initiating download")

	progressManager := NewProgressManager()
	progressManager.StartDisplay()
	defer func() {
		progressManager.Stop()
		progressManager.ShowSummary()
	}()

	var wg sync.WaitGroup
	errorCh := make(chan error, len(entries))
	entriesCh := make(chan utils.DownloadEntry, len(entries))
	for _, entry := range entries {
		entriesCh <- entry
	}
	close(entriesCh)

	for i := range numWorkers {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			logger := log.With().Int("workerID", workerID).Logger()
			for entry := range entriesCh {
				logger.Debug().Str("url", entry.URL).Msg("Worker starting download")
				if err := downloadEntry(ctx, entry, clientConfig, progressManager); err != nil {
					errorCh <- err
				}
			}
		}(i)
	}
	wg.Wait()
	close(errorCh)

	var failed int
	for err := range errorCh {
		log.Debug().Err(err).Msg("Download failed")
		failed++
	}
	if failed > 0 {
		return fmt.Errorf("%d download(s) failed", failed)
	}
	return nil
}

func downloadEntry(ctx context.Context, entry utils.DownloadEntry, clientConfig utils.HTTPClientConfig, progressManager *ProgressManager) error {
	jobID := uuid.New().String()
	name := filepath.Join(entry.Dir, entry.Filename)

	session, err := NewSession(ctx, entry, clientConfig)
	if err != nil {
		progressManager.Register(jobID, name, -1)
		progressManager.ReportError(jobID, err)
		return err
	}

	// Pre-fetch to learn the advertised size for the progress display.
	if err := session.Fetch(ctx); err != nil {
		progressManager.Register(jobID, name, -1)
		progressManager.ReportError(jobID, err)
		return err
	}
	totalSize := int64(-1)
	if length, ok := session.ContentLength(); ok {
		totalSize = length
	}
	progressManager.Register(jobID, name, totalSize)

	var downloaded int64
	err = session.Download(ctx, func(total int64) {
		downloaded = total
		progressManager.Update(jobID, total)
	})
	if err != nil {
		progressManager.ReportError(jobID, err)
		return err
	}
	progressManager.Complete(jobID, downloaded)
	return nil
}

// SingleDownload runs one entry with the same display, optionally
// returning the SHA-256 digest of the written file.
func SingleDownload(ctx context.Context, entry utils.DownloadEntry, clientConfig utils.HTTPClientConfig, withDigest bool) ([]byte, error) {
	if !withDigest {
		return nil, BatchDownload(ctx, []utils.DownloadEntry{entry}, 1, clientConfig)
	}

	progressManager := NewProgressManager()
	progressManager.StartDisplay()
	defer func() {
		progressManager.Stop()
		progressManager.ShowSummary()
	}()

	jobID := uuid.New().String()
	name := filepath.Join(entry.Dir, entry.Filename)

	session, err := NewSession(ctx, entry, clientConfig)
	if err != nil {
		progressManager.Register(jobID, name, -1)
		progressManager.ReportError(jobID, err)
		return nil, err
	}
	if err := session.Fetch(ctx); err != nil {
		progressManager.Register(jobID, name, -1)
		progressManager.ReportError(jobID, err)
		return nil, err
	}
	totalSize := int64(-1)
	if length, ok := session.ContentLength(); ok {
		totalSize = length
	}
	progressManager.Register(jobID, name, totalSize)

	var downloaded int64
	digest, err := session.DownloadSHA256(ctx, func(total int64) {
		downloaded = total
		progressManager.Update(jobID, total)
	})
	if err != nil {
		progressManager.ReportError(jobID, err)
		return nil, err
	}
	progressManager.Complete(jobID, downloaded)
	return digest, nil
}
