package core

// BlobStore is an opaque key/value store of byte blobs scoped by namespace.
// Implementations should be thread-safe. Short method names
// (Save/Get/List/Delete) mirror the other store interfaces.
type BlobStore interface {
	Save(namespace, key string, data []byte) error
	Get(namespace, key string) ([]byte, error)
	List(namespace string) ([]string, error)
	Delete(namespace, key string) error
}
