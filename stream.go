package fat32

import (
	"fmt"
	"io"

	"github.com/dsoprea/go-logging"
)

var (
	streamLogger = log.NewLogger("fat32.stream")
)

// ClusterStream reads the data of one cluster chain in order. Cluster
// numbers are looked up in batches and physically adjacent clusters are read
// with a single page transfer.
type ClusterStream struct {
	fs *FileSystem

	startCluster uint32

	// length is the number of bytes in the chain or (-1) if the chain is
	// read until it ends (directories).
	length   int64
	position int64

	clusterSize int

	// queued are the clusters that were looked up but not read yet.
	queued     []uint32
	lastQueued uint32
	queuedAll  bool

	// visited counts every cluster that was ever queued.
	visited uint64

	buffer   []byte
	buffered []byte
}

func newClusterStream(fs *FileSystem, startCluster uint32, length int64) *ClusterStream {
	clusterSize := fs.bs.ClusterSize()

	clustersPerBuffer := fs.options.streamBufferSize() / clusterSize
	if clustersPerBuffer < 1 {
		clustersPerBuffer = 1
	}

	return &ClusterStream{
		fs:           fs,
		startCluster: startCluster,
		length:       length,
		clusterSize:  clusterSize,
		queued:       make([]uint32, 0, clustersPerBuffer),
		buffer:       make([]byte, clustersPerBuffer*clusterSize),
	}
}

// Length returns the length of the stream or (-1) for a directory.
func (cs *ClusterStream) Length() int64 {
	return cs.length
}

// Position returns the number of bytes read so far.
func (cs *ClusterStream) Position() int64 {
	return cs.position
}

// Read implements io.Reader. A file whose chain ends before its length is
// satisfied fails with io.ErrUnexpectedEOF.
func (cs *ClusterStream) Read(p []byte) (n int, err error) {
	if len(p) == 0 {
		return 0, nil
	}

	if cs.length >= 0 && cs.position >= cs.length {
		return 0, io.EOF
	}

	if len(cs.buffered) == 0 {
		err := cs.fill()
		if err != nil {
			return 0, err
		}

		if len(cs.buffered) == 0 {
			if cs.length >= 0 {
				streamLogger.Warningf(nil, "Chain from cluster (%d) ended at (%d) of (%d) bytes.", cs.startCluster, cs.position, cs.length)
				return 0, io.ErrUnexpectedEOF
			}

			return 0, io.EOF
		}
	}

	available := cs.buffered
	if cs.length >= 0 {
		remaining := cs.length - cs.position
		if int64(len(available)) > remaining {
			available = available[:remaining]
		}
	}

	n = copy(p, available)

	cs.buffered = cs.buffered[n:]
	cs.position += int64(n)

	return n, nil
}

// clustersWanted returns how many more cluster numbers should be looked up.
// It's bounded by the free room in the queue and, for a file, by the
// clusters that its length needs.
func (cs *ClusterStream) clustersWanted() int {
	wanted := len(cs.buffer)/cs.clusterSize - len(cs.queued)

	if cs.length >= 0 {
		total := (cs.length + int64(cs.clusterSize) - 1) / int64(cs.clusterSize)

		outstanding := total - int64(cs.visited)
		if outstanding < int64(wanted) {
			wanted = int(outstanding)
		}
	}

	return wanted
}

// enqueue looks up the next batch of cluster numbers.
func (cs *ClusterStream) enqueue() (err error) {
	if cs.queuedAll == true {
		return nil
	}

	if cs.visited == 0 {
		if cs.startCluster == 0 {
			cs.queuedAll = true
			return nil
		} else if cs.fs.bs.IsValidCluster(cs.startCluster) == false {
			return log.Wrap(ErrCorruptVolume)
		}

		cs.queued = append(cs.queued, cs.startCluster)
		cs.lastQueued = cs.startCluster
		cs.visited = 1
	}

	if cs.length >= 0 && cs.visited*uint64(cs.clusterSize) >= uint64(cs.length) {
		cs.queuedAll = true
		return nil
	}

	wanted := cs.clustersWanted()
	if wanted <= 0 {
		return nil
	}

	before := len(cs.queued)

	queued, ended, err := cs.fs.at.GetChain(cs.lastQueued, wanted, cs.queued)
	if err != nil {
		return log.Wrap(err)
	}

	cs.queued = queued
	cs.visited += uint64(len(cs.queued) - before)

	if len(cs.queued) > 0 {
		cs.lastQueued = cs.queued[len(cs.queued)-1]
	}

	if cs.visited > uint64(cs.fs.bs.TotalClusters()) {
		streamLogger.Warningf(nil, "Chain from cluster (%d) visits more clusters than the volume has.", cs.startCluster)
		return log.Wrap(ErrCorruptVolume)
	}

	if ended == true {
		cs.queuedAll = true
	}

	return nil
}

// fill loads as many whole clusters as fit in the buffer.
func (cs *ClusterStream) fill() (err error) {
	err = cs.enqueue()
	if err != nil {
		return log.Wrap(err)
	}

	count := len(cs.buffer) / cs.clusterSize
	if count > len(cs.queued) {
		count = len(cs.queued)
	}

	clusters := cs.queued[:count]
	sectorsPerCluster := uint64(cs.fs.bs.SectorsPerCluster)

	for i := 0; i < len(clusters); {
		j := i + 1
		for j < len(clusters) && clusters[j] == clusters[j-1]+1 {
			j++
		}

		page := cs.fs.bs.ClusterToPage(clusters[i])
		chunk := cs.buffer[i*cs.clusterSize : j*cs.clusterSize]

		err := cs.fs.ps.ReadPages(page, chunk)
		if err != nil {
			return log.Wrap(err)
		}

		streamLogger.Debugf(nil, "Read (%d) clusters from cluster (%d) at page (%d) (%d pages).", j-i, clusters[i], page, uint64(j-i)*sectorsPerCluster)

		i = j
	}

	cs.queued = append(cs.queued[:0], cs.queued[count:]...)
	cs.buffered = cs.buffer[:count*cs.clusterSize]

	return nil
}

// String returns a description of the stream.
func (cs *ClusterStream) String() string {
	return fmt.Sprintf("ClusterStream<START=(%d) LENGTH=(%d) POSITION=(%d)>", cs.startCluster, cs.length, cs.position)
}
