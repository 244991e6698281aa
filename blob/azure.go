package blob

import (
	"context"
	"io"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/rs/zerolog/log"
	"golang.org/x/xerrors"
)

const azureChunkPrefix = "chunks/"

// AzureStore keeps chunk payloads in an Azure Blob Storage container, one
// blob per chunk.
//
// - implements blob.Store
type AzureStore struct {
	client    *azblob.Client
	container string
}

// NewAzureStore connects to the storage account described by the connection
// string and makes sure the container exists.
func NewAzureStore(ctx context.Context, connectionString string, container string) (*AzureStore, error) {
	client, err := azblob.NewClientFromConnectionString(connectionString, nil)
	if err != nil {
		return nil, xerrors.Errorf("failed to create azure blob client: %v", err)
	}

	_, err = client.CreateContainer(ctx, container, nil)
	if err != nil && !bloberror.HasCode(err, bloberror.ContainerAlreadyExists) {
		return nil, xerrors.Errorf("failed to create container %s: %v", container, err)
	}

	return &AzureStore{client: client, container: container}, nil
}

// Put implements blob.Store. The upload carries If-None-Match: * so the
// service rejects it, without modifying anything, when the blob exists.
func (s *AzureStore) Put(ctx context.Context, chunkID string, data []byte) error {
	name := azureChunkPrefix + chunkID
	_, err := s.client.UploadBuffer(ctx, s.container, name, data, &azblob.UploadBufferOptions{
		AccessConditions: &blob.AccessConditions{
			ModifiedAccessConditions: &blob.ModifiedAccessConditions{
				IfNoneMatch: to.Ptr(azcore.ETagAny),
			},
		},
	})
	if bloberror.HasCode(err, bloberror.BlobAlreadyExists, bloberror.ConditionNotMet) {
		return xerrors.Errorf("chunk %s: %w", chunkID, ErrBlobExists)
	}
	if err != nil {
		return xerrors.Errorf("failed to upload chunk %s: %v", chunkID, err)
	}

	log.Debug().Str("chunk", chunkID).Int("bytes", len(data)).Msg("chunk stored in azure")
	return nil
}

// Get implements blob.Store
func (s *AzureStore) Get(ctx context.Context, chunkID string) ([]byte, error) {
	resp, err := s.client.DownloadStream(ctx, s.container, azureChunkPrefix+chunkID, nil)
	if bloberror.HasCode(err, bloberror.BlobNotFound) {
		return nil, xerrors.Errorf("chunk %s: %w", chunkID, ErrBlobNotFound)
	}
	if err != nil {
		return nil, xerrors.Errorf("failed to download chunk %s: %v", chunkID, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, xerrors.Errorf("failed to read chunk %s: %v", chunkID, err)
	}
	return data, nil
}
