package fat32

const (
	// DefaultFatCacheSectors is the number of allocation-table sectors kept
	// in the read cache.
	DefaultFatCacheSectors = 100

	// DefaultStreamBufferSize is the read-ahead of a ClusterStream.
	DefaultStreamBufferSize = 64 * 1024
)

// Options tunes a FileSystem. The zero value uses the defaults.
type Options struct {
	// FatCacheSectors is the capacity of the allocation-table read cache.
	FatCacheSectors int

	// StreamBufferSize is how many bytes a stream reads ahead. It is rounded
	// down to whole clusters (at least one).
	StreamBufferSize int
}

func (o *Options) fatCacheSectors() int {
	if o == nil || o.FatCacheSectors <= 0 {
		return DefaultFatCacheSectors
	}

	return o.FatCacheSectors
}

func (o *Options) streamBufferSize() int {
	if o == nil || o.StreamBufferSize <= 0 {
		return DefaultStreamBufferSize
	}

	return o.StreamBufferSize
}
