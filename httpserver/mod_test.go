package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.dedis.ch/castor/blob"
	"go.dedis.ch/castor/peer"
	"go.dedis.ch/castor/peer/impl"
	"go.dedis.ch/castor/peer/impl/propagation"
	"go.dedis.ch/castor/storage"
	"go.dedis.ch/castor/types"
)

var tupleType = types.InverseTupleGfp

func newStore(role peer.Role, propagator peer.Propagator) peer.TupleStore {
	kv := storage.NewMemoryKV()
	return impl.NewPeer(peer.Configuration{
		Store:        kv,
		Blobs:        blob.NewKVStore(kv, storage.DefaultBackoff),
		FragmentSize: 7,
		Role:         role,
		Propagator:   propagator,
		FollowerWait: storage.Backoff{Initial: 10 * time.Millisecond, Factor: 2, Retry: 3},
	})
}

func newTestServer(t *testing.T, store peer.TupleStore) (*httptest.Server, *Client) {
	server := httptest.NewServer(NewServer(store).Handler())
	t.Cleanup(server.Close)
	return server, NewClient(server.URL, server.Client())
}

func tuples(n int) []byte {
	return make([]byte, n*tupleType.RecordWidth())
}

func Test_Server_Upload_Activate_Reserve(t *testing.T) {
	_, client := newTestServer(t, newStore(peer.RoleDesignator, nil))
	ctx := context.Background()
	chunkID := uuid.NewString()

	require.NoError(t, client.Upload(ctx, types.Chunk{ID: chunkID, TupleType: tupleType.Name, Data: tuples(20)}))

	_, err := client.Reserve(ctx, types.ReservationRequest{ReservationID: "r1", TupleType: tupleType.Name, Count: 5})
	require.ErrorIs(t, err, types.ErrInsufficientTuples)

	require.NoError(t, client.Activate(ctx, chunkID))
	require.NoError(t, client.Activate(ctx, chunkID))

	r, err := client.Reserve(ctx, types.ReservationRequest{ReservationID: "r1", TupleType: tupleType.Name, Count: 5})
	require.NoError(t, err)
	require.Equal(t, []types.ReservationElement{{ChunkID: chunkID, StartIndex: 0, Length: 5}}, r.Elements)

	kept, err := client.Reservation(ctx, "r1")
	require.NoError(t, err)
	require.True(t, r.Equal(kept))

	available, err := client.Telemetry(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(15), available[tupleType.Name])

	view, err := client.Chunk(ctx, chunkID)
	require.NoError(t, err)
	require.Equal(t, int64(20), view.Chunk.TupleCount)
	require.Equal(t, types.Unlocked, view.Chunk.Status)
	require.Len(t, view.Fragments, 4)
}

func Test_Server_Status_Codes(t *testing.T) {
	server, client := newTestServer(t, newStore(peer.RoleDesignator, nil))
	ctx := context.Background()

	post := func(path, contentType string, body []byte) *http.Response {
		resp, err := server.Client().Post(server.URL+path, contentType, bytes.NewReader(body))
		require.NoError(t, err)
		resp.Body.Close()
		return resp
	}

	// empty chunk
	resp := post("/chunks/"+uuid.NewString()+"?type="+tupleType.Name, "application/octet-stream", nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// malformed chunk
	resp = post("/chunks/"+uuid.NewString()+"?type="+tupleType.Name, "application/octet-stream", make([]byte, 3))
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// unknown type
	resp = post("/chunks/"+uuid.NewString()+"?type=NOPE", "application/octet-stream", tuples(1))
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// duplicate chunk
	chunkID := uuid.NewString()
	require.NoError(t, client.Upload(ctx, types.Chunk{ID: chunkID, TupleType: tupleType.Name, Data: tuples(2)}))
	err := client.Upload(ctx, types.Chunk{ID: chunkID, TupleType: tupleType.Name, Data: tuples(2)})
	require.Equal(t, types.KindConflict, types.Classify(err))

	// unknown chunk
	resp = post("/chunks/"+uuid.NewString()+"/activate", "", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	// broken request
	resp = post("/reservations", "application/json", []byte("{"))
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// insufficient tuples
	body, err := json.Marshal(types.ReservationRequest{ReservationID: "r1", TupleType: tupleType.Name, Count: 1})
	require.NoError(t, err)
	resp = post("/reservations", "application/json", body)
	require.Equal(t, http.StatusConflict, resp.StatusCode)

	// unknown reservation
	_, err = client.Reservation(ctx, "nope")
	require.Equal(t, types.KindNotFound, types.Classify(err))
}

// Upload failures carry their kind and cause, so a client can match the
// same sentinels as a local caller.
func Test_Server_Upload_Error_Cause(t *testing.T) {
	server, client := newTestServer(t, newStore(peer.RoleDesignator, nil))
	ctx := context.Background()

	chunkID := uuid.NewString()
	require.NoError(t, client.Upload(ctx, types.Chunk{ID: chunkID, TupleType: tupleType.Name, Data: tuples(2)}))
	err := client.Upload(ctx, types.Chunk{ID: chunkID, TupleType: tupleType.Name, Data: tuples(2)})
	require.ErrorIs(t, err, types.ErrChunkExists)

	err = client.Upload(ctx, types.Chunk{ID: uuid.NewString(), TupleType: tupleType.Name})
	require.ErrorIs(t, err, types.ErrEmptyChunk)
	require.Equal(t, types.KindClient, types.Classify(err))

	resp, err := server.Client().Post(server.URL+"/chunks/"+chunkID+"?type="+tupleType.Name,
		"application/octet-stream", bytes.NewReader(tuples(2)))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusConflict, resp.StatusCode)

	var upload types.UploadResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&upload))
	require.False(t, upload.Success)
	require.Equal(t, types.KindConflict, upload.Kind)
	require.Equal(t, types.ErrChunkExists.Error(), upload.Cause)
}

func Test_Server_Upload_CBOR_Chunk(t *testing.T) {
	server, client := newTestServer(t, newStore(peer.RoleDesignator, nil))
	ctx := context.Background()

	chunk := types.Chunk{ID: uuid.NewString(), TupleType: tupleType.Name, Data: tuples(3)}
	body, err := types.MarshalChunk(chunk)
	require.NoError(t, err)

	resp, err := server.Client().Post(server.URL+"/chunks/"+chunk.ID, propagation.ContentType, bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var upload types.UploadResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&upload))
	require.True(t, upload.Success)
	require.Equal(t, chunk.ID, upload.ChunkID)

	view, err := client.Chunk(ctx, chunk.ID)
	require.NoError(t, err)
	require.Equal(t, int64(3), view.Chunk.TupleCount)
}

// A designator propagates to a follower over HTTP and both parties end up
// with the same reservation.
func Test_Server_Designator_Follower(t *testing.T) {
	ctx := context.Background()
	follower, followerClient := newTestServer(t, newStore(peer.RoleFollower, nil))

	propagator := propagation.NewHTTPPropagator(follower.Client(), []string{follower.URL},
		storage.Backoff{Initial: time.Millisecond, Factor: 2, Retry: 3})
	_, designatorClient := newTestServer(t, newStore(peer.RoleDesignator, propagator))

	chunkID := uuid.NewString()
	for _, c := range []*Client{designatorClient, followerClient} {
		require.NoError(t, c.Upload(ctx, types.Chunk{ID: chunkID, TupleType: tupleType.Name, Data: tuples(30)}))
		require.NoError(t, c.Activate(ctx, chunkID))
	}

	// the follower does not allocate on its own
	_, err := followerClient.Reserve(ctx, types.ReservationRequest{ReservationID: "r1", TupleType: tupleType.Name, Count: 4})
	require.Equal(t, types.KindTransient, types.Classify(err))

	decided, err := designatorClient.Reserve(ctx, types.ReservationRequest{ReservationID: "r1", TupleType: tupleType.Name, Count: 4})
	require.NoError(t, err)

	mirrored, err := followerClient.Reserve(ctx, types.ReservationRequest{ReservationID: "r1", TupleType: tupleType.Name, Count: 4})
	require.NoError(t, err)
	require.True(t, decided.Equal(mirrored))

	designatorView, err := designatorClient.Telemetry(ctx)
	require.NoError(t, err)
	followerView, err := followerClient.Telemetry(ctx)
	require.NoError(t, err)
	require.Equal(t, designatorView, followerView)

	// identical duplicate is accepted, a different one is not
	body, err := types.MarshalReservation(decided)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, put(t, follower, "/reservations/r1", body))

	changed := decided
	changed.Elements = []types.ReservationElement{{ChunkID: chunkID, StartIndex: 20, Length: 4}}
	body, err = types.MarshalReservation(changed)
	require.NoError(t, err)
	require.Equal(t, http.StatusConflict, put(t, follower, "/reservations/r1", body))

	// path and body must agree
	require.Equal(t, http.StatusBadRequest, put(t, follower, "/reservations/r2", body))
}

func put(t *testing.T, server *httptest.Server, path string, body []byte) int {
	req, err := http.NewRequest(http.MethodPut, server.URL+path, bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", propagation.ContentType)
	resp, err := server.Client().Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	return resp.StatusCode
}

func Test_Server_Start_Stop(t *testing.T) {
	s := NewServer(newStore(peer.RoleDesignator, nil))
	require.NoError(t, s.Start("127.0.0.1:0"))
	require.Error(t, s.Start("127.0.0.1:0"))

	client := NewClient("http://"+s.GetAddress(), nil)
	_, err := client.Telemetry(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
	require.NoError(t, s.Stop(ctx))
}

func Test_StatusOf(t *testing.T) {
	require.Equal(t, http.StatusBadRequest, StatusOf(types.ErrMalformedChunk))
	require.Equal(t, http.StatusConflict, StatusOf(types.ErrInsufficientTuples))
	require.Equal(t, http.StatusConflict, StatusOf(types.ErrReservationMismatch))
	require.Equal(t, http.StatusNotFound, StatusOf(types.ErrChunkNotFound))
	require.Equal(t, http.StatusServiceUnavailable, StatusOf(storage.ErrRetriesExhausted))
	require.Equal(t, http.StatusInternalServerError, StatusOf(errors.New("boom")))
}
