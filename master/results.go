package master

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/johncgriffin/overflow"
	"github.com/mholt/archiver/v3"

	"github.com/conveyor-ci/conveyor/plan"
)

// storedResult pairs a parsed result with the raw blob as the worker
// submitted it. Blob is nil once the store's byte cap has been reached.
type storedResult struct {
	ClientID string
	Received time.Time
	Result   *plan.Result
	Blob     []byte
}

// resultsStore keeps submitted results in arrival order. Parsed summaries
// are always retained; raw blobs stop being kept (and persisted) once the
// configured byte cap would be exceeded, so one misbehaving worker cannot
// balloon the master's memory. Methods are called under the Master mutex.
type resultsStore struct {
	dir        string
	maxBytes   int64
	totalBytes int64
	capped     bool
	results    []*storedResult
}

func newResultsStore(dir string, maxBytes int64) *resultsStore {
	return &resultsStore{
		dir:      dir,
		maxBytes: maxBytes,
	}
}

// add records a submitted result. The returned error concerns persistence
// only; the result is recorded in memory regardless.
func (s *resultsStore) add(clientID string, result *plan.Result, blob []byte) error {
	stored := &storedResult{
		ClientID: clientID,
		Received: time.Now().UTC(),
		Result:   result,
	}
	total, ok := overflow.Add64(s.totalBytes, int64(len(blob)))
	if ok && (s.maxBytes <= 0 || total <= s.maxBytes) && !s.capped {
		s.totalBytes = total
		stored.Blob = blob
	} else {
		s.capped = true
	}
	s.results = append(s.results, stored)

	if s.dir != "" && stored.Blob != nil {
		path := filepath.Join(s.dir, fmt.Sprintf("%v.json", result.TestIndex))
		if err := os.WriteFile(path, blob, 0644); err != nil {
			return fmt.Errorf("writing result file %v: %v", path, err)
		}
	}
	return nil
}

// archive packs the results directory into a sibling tar.gz and returns its
// path.
func (s *resultsStore) archive() (string, error) {
	if s.dir == "" {
		return "", fmt.Errorf("no results directory configured")
	}
	target := s.dir + ".tar.gz"
	// archiver refuses to overwrite, so clear any previous run's archive.
	if err := os.RemoveAll(target); err != nil {
		return "", err
	}
	if err := archiver.Archive([]string{s.dir}, target); err != nil {
		return "", err
	}
	return target, nil
}

func (s *resultsStore) count() int {
	return len(s.results)
}

func (s *resultsStore) bytes() int64 {
	return s.totalBytes
}
