package master

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/conveyor-ci/conveyor/internal/httputil"
)

// Serve runs the dispatch service until ctx is cancelled or the listener
// fails. Cancellation drains cleanly: the event feed is closed, the
// listener stops accepting and in-flight requests get a grace period to
// finish.
func (m *Master) Serve(ctx context.Context) error {
	router := httputil.NewRouter(NewDispatchProvider(m))

	server := &http.Server{
		Addr:    fmt.Sprintf(":%v", m.config.Port),
		Handler: router,
	}

	m.logger.WithFields(logrus.Fields{
		"addr":    server.Addr,
		"session": m.sessionID,
	}).Info("dispatch service listening")

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		err := server.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	group.Go(func() error {
		// Reap at a third of the liveness timeout so a worker is declared
		// expired at most one interval late.
		ticker := time.NewTicker(m.config.LivenessTimeout() / 3)
		defer ticker.Stop()
		for {
			select {
			case <-groupCtx.Done():
				return nil
			case now := <-ticker.C:
				m.reap(now)
			}
		}
	})
	group.Go(func() error {
		<-groupCtx.Done()
		m.feed.CloseAll()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return group.Wait()
}
