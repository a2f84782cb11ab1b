package certificates

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"

	"github.com/imyashkale/hera/internal/objectstore"
)

const certPrefix = "certificates"

// bundleStore persists certificate material and metadata in the object store
// under certificates/<handle>.{json,pem,key}.
type bundleStore struct {
	store  objectstore.Store
	bucket string
}

func (b bundleStore) key(h Handle, ext string) string {
	return path.Join(certPrefix, string(h)+ext)
}

func (b bundleStore) saveRecord(ctx context.Context, rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal certificate record: %w", err)
	}
	return b.store.Put(ctx, b.bucket, b.key(rec.Handle, ".json"), data,
		objectstore.PutOptions{Overwrite: true, ContentType: "application/json"})
}

func (b bundleStore) loadRecord(ctx context.Context, h Handle) (*Record, error) {
	data, err := b.store.Get(ctx, b.bucket, b.key(h, ".json"))
	if err != nil {
		if errors.Is(err, objectstore.ErrNotFound) {
			return nil, ErrUnknownHandle
		}
		return nil, err
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode certificate record %s: %w", h, err)
	}
	return &rec, nil
}

func (b bundleStore) saveBundle(ctx context.Context, h Handle, certPEM, keyPEM []byte) error {
	opts := objectstore.PutOptions{Overwrite: true, ContentType: "application/x-pem-file"}
	if err := b.store.Put(ctx, b.bucket, b.key(h, ".pem"), certPEM, opts); err != nil {
		return fmt.Errorf("failed to store certificate: %w", err)
	}
	if err := b.store.Put(ctx, b.bucket, b.key(h, ".key"), keyPEM, opts); err != nil {
		return fmt.Errorf("failed to store private key: %w", err)
	}
	return nil
}

func (b bundleStore) loadCertificate(ctx context.Context, h Handle) ([]byte, error) {
	return b.store.Get(ctx, b.bucket, b.key(h, ".pem"))
}

// remove deletes everything stored for h; missing objects are ignored
func (b bundleStore) remove(ctx context.Context, h Handle) error {
	for _, ext := range []string{".pem", ".key", ".json"} {
		if err := b.store.Delete(ctx, b.bucket, b.key(h, ext)); err != nil && !errors.Is(err, objectstore.ErrNotFound) {
			return err
		}
	}
	return nil
}
