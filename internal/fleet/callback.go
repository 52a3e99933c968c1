// ABOUTME: Fires the optional init presence callback after a bot connects
// ABOUTME: POSTs an empty JSON object; only 201 counts as success and failures go to the side effect hook

package fleet

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

const initCallbackTimeout = 15 * time.Second

// ErrInitCallbackStatus is reported when the callback answers anything but 201.
var ErrInitCallbackStatus = errors.New("unexpected init callback status")

// fireInitCallback runs in the background and reports through the side
// effect hook only.
func (s *Supervisor) fireInitCallback(name, url string) {
	s.background.Add(1)
	go func() {
		defer s.background.Done()

		ctx, cancel := context.WithTimeout(context.Background(), initCallbackTimeout)
		defer cancel()

		logger := s.logger.With("name", name, "url", url)
		logger.Info("sending initial presence request")

		status, err := postEmptyJSON(ctx, s.httpClient, url)
		switch {
		case err != nil:
			logger.Error("failed to send initial presence request", "error", err)
			s.reportSideEffect("init_callback", name, err)
		case status == http.StatusCreated:
			logger.Info("initial presence request accepted", "status", status)
		default:
			logger.Warn("unexpected status from initial presence request", "status", status)
			s.reportSideEffect("init_callback", name, fmt.Errorf("%w: %d", ErrInitCallbackStatus, status))
		}
	}()
}

func postEmptyJSON(ctx context.Context, client *http.Client, url string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader([]byte("{}")))
	if err != nil {
		return 0, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, nil
}
