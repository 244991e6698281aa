package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"

	"go.dedis.ch/castor/types"
	"golang.org/x/xerrors"
)

// Client talks to a Server. It is what the operator console and uploaders
// use.
type Client struct {
	base   string
	client *http.Client
}

// NewClient returns a client for the server at base, e.g.
// "http://127.0.0.1:8080". A nil client uses http.DefaultClient.
func NewClient(base string, client *http.Client) *Client {
	if client == nil {
		client = http.DefaultClient
	}
	return &Client{base: strings.TrimRight(base, "/"), client: client}
}

// Upload sends the raw tuples of a chunk.
func (c *Client) Upload(ctx context.Context, chunk types.Chunk) error {
	target := c.base + "/chunks/" + url.PathEscape(chunk.ID) + "?type=" + url.QueryEscape(chunk.TupleType)
	var resp types.UploadResponse
	return c.do(ctx, http.MethodPost, target, "application/octet-stream", chunk.Data, &resp)
}

// Activate unlocks an uploaded chunk.
func (c *Client) Activate(ctx context.Context, chunkID string) error {
	return c.do(ctx, http.MethodPost, c.base+"/chunks/"+url.PathEscape(chunkID)+"/activate", "", nil, nil)
}

// Chunk returns a chunk and its fragments.
func (c *Client) Chunk(ctx context.Context, chunkID string) (types.ChunkView, error) {
	var view types.ChunkView
	err := c.do(ctx, http.MethodGet, c.base+"/chunks/"+url.PathEscape(chunkID), "", nil, &view)
	return view, err
}

// Reserve asks for a reservation.
func (c *Client) Reserve(ctx context.Context, req types.ReservationRequest) (types.Reservation, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return types.Reservation{}, xerrors.Errorf("failed to encode request: %v", err)
	}
	var reservation types.Reservation
	err = c.do(ctx, http.MethodPost, c.base+"/reservations", "application/json", body, &reservation)
	return reservation, err
}

// Reservation reads a reservation.
func (c *Client) Reservation(ctx context.Context, reservationID string) (types.Reservation, error) {
	var reservation types.Reservation
	err := c.do(ctx, http.MethodGet, c.base+"/reservations/"+url.PathEscape(reservationID), "", nil, &reservation)
	return reservation, err
}

// Telemetry returns the available tuples per type.
func (c *Client) Telemetry(ctx context.Context) (map[string]int64, error) {
	available := map[string]int64{}
	err := c.do(ctx, http.MethodGet, c.base+"/telemetry", "", nil, &available)
	return available, err
}

func (c *Client) do(ctx context.Context, method, target, contentType string, body []byte, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, method, target, bytes.NewReader(body))
	if err != nil {
		return xerrors.Errorf("failed to build request: %v", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return xerrors.Errorf("failed to reach %s: %v", c.base, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return decodeError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	err = json.NewDecoder(resp.Body).Decode(out)
	if err != nil {
		return xerrors.Errorf("failed to decode response: %v", err)
	}
	return nil
}

// kindErrors turns a reported error kind back into a sentinel so callers
// can classify remote failures like local ones.
var kindErrors = map[types.Kind]error{
	types.KindClient:    types.ErrInvalidRequest,
	types.KindCapacity:  types.ErrInsufficientTuples,
	types.KindConflict:  types.ErrDuplicateReservation,
	types.KindNotFound:  types.ErrReservationNotFound,
	types.KindTransient: types.ErrReservationUnavailable,
}

func decodeError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxRequestBytes))

	var remote types.ErrorResponse
	err := json.Unmarshal(raw, &remote)
	if err == nil && remote.Error == "" {
		var upload types.UploadResponse
		if json.Unmarshal(raw, &upload) == nil && upload.Reason != "" {
			remote = types.ErrorResponse{Error: upload.Reason, Kind: upload.Kind, Cause: upload.Cause}
		}
	}
	if remote.Error == "" {
		remote.Error = strings.TrimSpace(string(raw))
	}

	sentinel := types.SentinelByText(remote.Cause)
	ok := sentinel != nil
	if !ok {
		sentinel, ok = kindErrors[remote.Kind]
	}
	if !ok {
		sentinel, ok = kindErrors[kindOfStatus(resp.StatusCode)]
	}
	if !ok {
		return xerrors.Errorf("server answered %d: %s", resp.StatusCode, remote.Error)
	}
	return xerrors.Errorf("server answered %d: %s: %w", resp.StatusCode, remote.Error, sentinel)
}

func kindOfStatus(status int) types.Kind {
	switch status {
	case http.StatusBadRequest:
		return types.KindClient
	case http.StatusConflict:
		return types.KindConflict
	case http.StatusNotFound:
		return types.KindNotFound
	case http.StatusServiceUnavailable:
		return types.KindTransient
	default:
		return types.KindUnknown
	}
}
