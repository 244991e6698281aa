package propagation

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"go.dedis.ch/castor/storage"
	"go.dedis.ch/castor/types"
	"golang.org/x/xerrors"
)

// ContentType is the media type of wire encoded reservations.
const ContentType = "application/cbor"

const defaultTimeout = 10 * time.Second

// HTTPPropagator pushes reservations to the followers' HTTP endpoints.
//
// - implements peer.Propagator
type HTTPPropagator struct {
	client    *http.Client
	followers []string
	backoff   storage.Backoff
}

// NewHTTPPropagator returns a propagator for the given follower base URLs,
// e.g. "http://10.0.0.2:8080". A nil client uses a client with a default
// timeout.
func NewHTTPPropagator(client *http.Client, followers []string, backoff storage.Backoff) *HTTPPropagator {
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}
	trimmed := make([]string, len(followers))
	for i, f := range followers {
		trimmed[i] = strings.TrimRight(f, "/")
	}
	return &HTTPPropagator{
		client:    client,
		followers: trimmed,
		backoff:   backoff,
	}
}

// Propagate implements peer.Propagator. It delivers the reservation to all
// followers in parallel and succeeds only if every one of them accepted it.
func (p *HTTPPropagator) Propagate(ctx context.Context, reservation types.Reservation) error {
	body, err := types.MarshalReservation(reservation)
	if err != nil {
		return err
	}

	errs := make([]error, len(p.followers))
	wg := sync.WaitGroup{}
	wg.Add(len(p.followers))
	for i, follower := range p.followers {
		go func(i int, follower string) {
			defer wg.Done()
			errs[i] = p.deliver(ctx, follower, reservation.ID, body)
		}(i, follower)
	}
	wg.Wait()

	failed := []string{}
	for i, err := range errs {
		if err != nil {
			log.Warn().Err(err).Str("follower", p.followers[i]).Msgf("failed to propagate %s", reservation.ID)
			failed = append(failed, p.followers[i])
		}
	}
	if len(failed) > 0 {
		return xerrors.Errorf("reservation %s not accepted by %v: %w",
			reservation.ID, failed, types.ErrPropagationFailed)
	}

	log.Debug().Str("reservation", reservation.ID).Int("followers", len(p.followers)).Msg("reservation propagated")
	return nil
}

// deliver sends the reservation to one follower, retrying transient
// failures. A rejection by the follower is final.
func (p *HTTPPropagator) deliver(ctx context.Context, follower, reservationID string, body []byte) error {
	target := follower + "/reservations/" + url.PathEscape(reservationID)

	attempts := p.backoff.Retry
	if attempts == 0 {
		attempts = 1
	}
	var err error
	for i := uint(0); i < attempts; i++ {
		err = p.backoff.Wait(ctx, i)
		if err != nil {
			return err
		}
		var retry bool
		retry, err = p.put(ctx, target, body)
		if err == nil || !retry {
			return err
		}
	}
	return err
}

func (p *HTTPPropagator) put(ctx context.Context, target string, body []byte) (retry bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, target, bytes.NewReader(body))
	if err != nil {
		return false, xerrors.Errorf("failed to build request: %v", err)
	}
	req.Header.Set("Content-Type", ContentType)

	resp, err := p.client.Do(req)
	if err != nil {
		return true, xerrors.Errorf("failed to reach %s: %v", target, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 == 2 {
		return false, nil
	}
	reason, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	retry = resp.StatusCode >= http.StatusInternalServerError
	return retry, xerrors.Errorf("%s answered %d: %s", target, resp.StatusCode, strings.TrimSpace(string(reason)))
}
