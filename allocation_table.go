package fat32

import (
	"fmt"
	"reflect"
	"sort"
	"sync"

	"github.com/dsoprea/go-logging"
	"github.com/hashicorp/golang-lru"

	"github.com/dsoprea/go-fat32/pagestore"
)

const (
	fatEntrySize = 4

	fatEntriesPerSector = SectorSize / fatEntrySize

	// fatEntryMask keeps the 28 bits of an entry that are the cluster
	// number. The top four bits are reserved and preserved on write.
	fatEntryMask = uint32(0x0fffffff)

	fatEntryFree = uint32(0)

	fatEntryBad = uint32(0x0ffffff7)

	// fatEntryEndOfChainMin is the lowest end-of-chain marker.
	fatEntryEndOfChainMin = uint32(0x0ffffff8)

	// fatEntryEndOfChain is the marker that is written.
	fatEntryEndOfChain = uint32(0x0fffffff)

	// fatScanBatchSectors is how many FAT sectors are read at once while
	// the free-space map is built.
	fatScanBatchSectors = 64
)

var (
	allocationTableLogger = log.NewLogger("fat32.allocation_table")
)

// IsEndOfChain indicates whether a (masked) entry terminates a chain.
func IsEndOfChain(entry uint32) bool {
	return entry&fatEntryMask >= fatEntryEndOfChainMin
}

// AllocationTable is the cluster map. Reads go through a bounded cache and
// writes are held until CommitSectorWrites. Every public method takes the
// same lock.
type AllocationTable struct {
	ps pagestore.PageStore
	bs *BootSector

	m sync.Mutex

	readCache  *lru.Cache
	writeCache map[uint32][]byte

	freeSpace *FreeSpaceMap
}

// NewAllocationTable scans the whole first FAT once to build the free-space
// map. `options` may be nil.
func NewAllocationTable(ps pagestore.PageStore, bs *BootSector, options *Options) (at *AllocationTable, err error) {
	defer func() {
		if errRaw := recover(); errRaw != nil {
			var ok bool
			if err, ok = errRaw.(error); ok == true {
				err = log.Wrap(err)
			} else {
				err = log.Errorf("Error not an error: [%s] [%v]", reflect.TypeOf(errRaw).Name(), errRaw)
			}
		}
	}()

	readCache, err := lru.New(options.fatCacheSectors())
	log.PanicIf(err)

	at = &AllocationTable{
		ps:         ps,
		bs:         bs,
		readCache:  readCache,
		writeCache: make(map[uint32][]byte),
		freeSpace:  NewFreeSpaceMap(),
	}

	err = at.scanFreeSpace()
	log.PanicIf(err)

	allocationTableLogger.Debugf(nil, "Allocation table loaded: %s", at.freeSpace)

	return at, nil
}

// scanFreeSpace adds every run of free cells in the cluster range to the
// free-space map.
func (at *AllocationTable) scanFreeSpace() (err error) {
	lastCluster := at.bs.TotalClusters() + firstCluster
	lastSector := (lastCluster + fatEntriesPerSector - 1) / fatEntriesPerSector

	buffer := make([]byte, fatScanBatchSectors*SectorSize)

	for sector := uint32(0); sector < lastSector; sector += fatScanBatchSectors {
		count := lastSector - sector
		if count > fatScanBatchSectors {
			count = fatScanBatchSectors
		}

		chunk := buffer[:count*SectorSize]

		err := at.ps.ReadPages(uint64(at.bs.FatOffset()+sector), chunk)
		if err != nil {
			return log.Wrap(err)
		}

		runStart := uint32(0)
		runLength := uint32(0)

		cluster := sector * fatEntriesPerSector
		for i := 0; i < len(chunk); i, cluster = i+fatEntrySize, cluster+1 {
			if cluster < firstCluster {
				continue
			} else if cluster >= lastCluster {
				break
			}

			entry := defaultEncoding.Uint32(chunk[i:]) & fatEntryMask
			if entry == fatEntryFree {
				if runLength == 0 {
					runStart = cluster
				}

				runLength++
				continue
			}

			if runLength > 0 {
				err := at.freeSpace.Free(runStart, runLength)
				if err != nil {
					return log.Wrap(err)
				}

				runLength = 0
			}
		}

		if runLength > 0 {
			err := at.freeSpace.Free(runStart, runLength)
			if err != nil {
				return log.Wrap(err)
			}
		}
	}

	return nil
}

// readSector returns the current content of FAT sector `i`. The returned
// slice belongs to the cache and must not be modified.
func (at *AllocationTable) readSector(i uint32) (data []byte, err error) {
	if i >= at.bs.FatSize32 {
		return nil, log.Wrap(ErrCorruptVolume)
	}

	if cached, found := at.readCache.Get(i); found == true {
		return cached.([]byte), nil
	}

	if pending, found := at.writeCache[i]; found == true {
		return pending, nil
	}

	data = make([]byte, SectorSize)

	err = at.ps.ReadPages(uint64(at.bs.FatOffset()+i), data)
	if err != nil {
		return nil, log.Wrap(err)
	}

	at.readCache.Add(i, data)

	return data, nil
}

// writeSector replaces FAT sector `i`. Nothing is written to the store until
// CommitSectorWrites.
func (at *AllocationTable) writeSector(i uint32, data []byte) (err error) {
	if i >= at.bs.FatSize32 {
		return log.Wrap(ErrCorruptVolume)
	} else if len(data) != SectorSize {
		return log.Errorf("FAT sector must be (%d) bytes: (%d)", SectorSize, len(data))
	}

	at.readCache.Remove(i)
	at.writeCache[i] = data

	return nil
}

// ReadSector returns a copy of FAT sector `i` including pending writes.
func (at *AllocationTable) ReadSector(i uint32) (data []byte, err error) {
	at.m.Lock()
	defer at.m.Unlock()

	cached, err := at.readSector(i)
	if err != nil {
		return nil, log.Wrap(err)
	}

	data = make([]byte, SectorSize)
	copy(data, cached)

	return data, nil
}

// WriteSector queues a replacement for FAT sector `i`.
func (at *AllocationTable) WriteSector(i uint32, data []byte) (err error) {
	at.m.Lock()
	defer at.m.Unlock()

	copied := make([]byte, len(data))
	copy(copied, data)

	err = at.writeSector(i, copied)
	if err != nil {
		return log.Wrap(err)
	}

	return nil
}

// CommitSectorWrites writes every pending sector to every FAT copy, in
// ascending sector order, and clears the pending set.
func (at *AllocationTable) CommitSectorWrites() (err error) {
	at.m.Lock()
	defer at.m.Unlock()

	if len(at.writeCache) == 0 {
		return nil
	}

	sectors := make([]uint32, 0, len(at.writeCache))
	for i := range at.writeCache {
		sectors = append(sectors, i)
	}

	sort.Slice(sectors, func(a, b int) bool {
		return sectors[a] < sectors[b]
	})

	for copyIndex := uint32(0); copyIndex < uint32(at.bs.NumberOfFats); copyIndex++ {
		base := uint64(at.bs.FatOffset()) + uint64(copyIndex)*uint64(at.bs.FatSize32)

		for _, i := range sectors {
			err := at.ps.WritePages(base+uint64(i), at.writeCache[i])
			if err != nil {
				return log.Wrap(err)
			}
		}
	}

	allocationTableLogger.Debugf(nil, "Committed (%d) FAT sectors to (%d) copies.", len(sectors), at.bs.NumberOfFats)

	at.writeCache = make(map[uint32][]byte)

	return nil
}

// PendingSectorCount returns the number of sectors waiting to be committed.
func (at *AllocationTable) PendingSectorCount() int {
	at.m.Lock()
	defer at.m.Unlock()

	return len(at.writeCache)
}

func entryLocation(cluster uint32) (sector uint32, offset int) {
	return cluster / fatEntriesPerSector, int(cluster%fatEntriesPerSector) * fatEntrySize
}

// entry returns the masked FAT entry for `cluster`.
func (at *AllocationTable) entry(cluster uint32) (value uint32, err error) {
	sector, offset := entryLocation(cluster)

	data, err := at.readSector(sector)
	if err != nil {
		return 0, log.Wrap(err)
	}

	return defaultEncoding.Uint32(data[offset:]) & fatEntryMask, nil
}

// checkLink validates the entry of `cluster` as a link to a following
// cluster (or the end of the chain).
func (at *AllocationTable) checkLink(cluster, next uint32) error {
	if IsEndOfChain(next) == true {
		return nil
	}

	if next == fatEntryFree || next == fatEntryBad || at.bs.IsValidCluster(next) == false {
		allocationTableLogger.Warningf(nil, "Cluster (%d) links to invalid entry (0x%08x).", cluster, next)
		return log.Wrap(ErrCorruptVolume)
	}

	return nil
}

// Next returns the entry following `cluster`. End-of-chain values are
// returned as-is (see IsEndOfChain).
func (at *AllocationTable) Next(cluster uint32) (next uint32, err error) {
	at.m.Lock()
	defer at.m.Unlock()

	if at.bs.IsValidCluster(cluster) == false {
		return 0, log.Wrap(ErrCorruptVolume)
	}

	next, err = at.entry(cluster)
	if err != nil {
		return 0, log.Wrap(err)
	}

	err = at.checkLink(cluster, next)
	if err != nil {
		return 0, log.Wrap(err)
	}

	return next, nil
}

// GetChain appends up to `maxClusters` clusters that follow `start` to
// `out`. `start` itself is not appended. `ended` is true if the end of the
// chain was reached; otherwise the caller continues from the last cluster
// appended.
func (at *AllocationTable) GetChain(start uint32, maxClusters int, out []uint32) (chain []uint32, ended bool, err error) {
	at.m.Lock()
	defer at.m.Unlock()

	if at.bs.IsValidCluster(start) == false {
		return out, false, log.Wrap(ErrCorruptVolume)
	}

	if maxClusters > int(at.bs.TotalClusters()) {
		maxClusters = int(at.bs.TotalClusters())
	}

	current := start

	for i := 0; i <= maxClusters; i++ {
		next, err := at.entry(current)
		if err != nil {
			return out, false, log.Wrap(err)
		}

		err = at.checkLink(current, next)
		if err != nil {
			return out, false, log.Wrap(err)
		}

		if IsEndOfChain(next) == true {
			return out, true, nil
		} else if i == maxClusters {
			break
		}

		out = append(out, next)
		current = next
	}

	return out, false, nil
}

// collectChain returns every cluster of the chain from `start` (inclusive).
// A chain longer than the cluster count has a cycle.
func (at *AllocationTable) collectChain(start uint32) (chain []uint32, err error) {
	if at.bs.IsValidCluster(start) == false {
		return nil, log.Wrap(ErrCorruptVolume)
	}

	totalClusters := int(at.bs.TotalClusters())

	chain = []uint32{start}
	current := start

	for {
		next, err := at.entry(current)
		if err != nil {
			return nil, log.Wrap(err)
		}

		err = at.checkLink(current, next)
		if err != nil {
			return nil, log.Wrap(err)
		}

		if IsEndOfChain(next) == true {
			break
		}

		if len(chain) >= totalClusters {
			allocationTableLogger.Warningf(nil, "Chain from cluster (%d) is cyclic.", start)
			return nil, log.Wrap(ErrCorruptVolume)
		}

		chain = append(chain, next)
		current = next
	}

	return chain, nil
}

// setEntries writes new values for a list of clusters, one sector
// modification per distinct sector. The reserved top bits of each entry are
// kept.
func (at *AllocationTable) setEntries(clusters []uint32, values []uint32) (err error) {
	var dirtyIndex uint32
	var dirty []byte

	for j, cluster := range clusters {
		sector, offset := entryLocation(cluster)

		if dirty == nil || sector != dirtyIndex {
			if dirty != nil {
				err := at.writeSector(dirtyIndex, dirty)
				if err != nil {
					return log.Wrap(err)
				}
			}

			current, err := at.readSector(sector)
			if err != nil {
				return log.Wrap(err)
			}

			dirty = make([]byte, SectorSize)
			copy(dirty, current)

			dirtyIndex = sector
		}

		reserved := defaultEncoding.Uint32(dirty[offset:]) &^ fatEntryMask
		defaultEncoding.PutUint32(dirty[offset:], reserved|values[j]&fatEntryMask)
	}

	if dirty != nil {
		err := at.writeSector(dirtyIndex, dirty)
		if err != nil {
			return log.Wrap(err)
		}
	}

	return nil
}

// releaseClusters returns clusters to the free-space map.
func (at *AllocationTable) releaseClusters(clusters []uint32) (err error) {
	for _, cluster := range clusters {
		err := at.freeSpace.Free(cluster, 1)
		if err != nil {
			return log.Wrap(err)
		}
	}

	return nil
}

// DeleteChain frees every cluster in the chain starting at `start`.
func (at *AllocationTable) DeleteChain(start uint32) (freed int, err error) {
	at.m.Lock()
	defer at.m.Unlock()

	chain, err := at.collectChain(start)
	if err != nil {
		return 0, log.Wrap(err)
	}

	values := make([]uint32, len(chain))

	err = at.setEntries(chain, values)
	if err != nil {
		return 0, log.Wrap(err)
	}

	err = at.releaseClusters(chain)
	if err != nil {
		return 0, log.Wrap(err)
	}

	return len(chain), nil
}

// TruncateChain makes `end` the last cluster of its chain and frees the
// clusters that followed it.
func (at *AllocationTable) TruncateChain(end uint32) (freed int, err error) {
	at.m.Lock()
	defer at.m.Unlock()

	chain, err := at.collectChain(end)
	if err != nil {
		return 0, log.Wrap(err)
	}

	values := make([]uint32, len(chain))
	values[0] = fatEntryEndOfChain

	err = at.setEntries(chain, values)
	if err != nil {
		return 0, log.Wrap(err)
	}

	err = at.releaseClusters(chain[1:])
	if err != nil {
		return 0, log.Wrap(err)
	}

	return len(chain) - 1, nil
}

// AllocateChain links `count` free clusters into a new chain and returns
// the first one. Clusters are taken lowest-first.
func (at *AllocationTable) AllocateChain(count int) (first uint32, err error) {
	at.m.Lock()
	defer at.m.Unlock()

	if count <= 0 {
		return 0, log.Errorf("cluster count must be positive: (%d)", count)
	} else if uint64(count) > at.freeSpace.FreeCount() {
		return 0, log.Wrap(ErrNoSpace)
	}

	clusters := make([]uint32, 0, count)

	for len(clusters) < count {
		e, found := at.freeSpace.Alloc(uint32(count - len(clusters)))
		if found == false {
			return 0, log.Errorf("free-space map exhausted with (%d) clusters outstanding", count-len(clusters))
		}

		for c := e.Start; c < e.End(); c++ {
			clusters = append(clusters, c)
		}
	}

	values := make([]uint32, count)
	for i := 0; i < count-1; i++ {
		values[i] = clusters[i+1]
	}

	values[count-1] = fatEntryEndOfChain

	err = at.setEntries(clusters, values)
	if err != nil {
		return 0, log.Wrap(err)
	}

	return clusters[0], nil
}

// FreeSpace returns the number of free clusters.
func (at *AllocationTable) FreeSpace() uint64 {
	at.m.Lock()
	defer at.m.Unlock()

	return at.freeSpace.FreeCount()
}

// firstFree returns the lowest free cluster.
func (at *AllocationTable) firstFree() (cluster uint32, found bool) {
	at.m.Lock()
	defer at.m.Unlock()

	if len(at.freeSpace.extents) == 0 {
		return 0, false
	}

	return at.freeSpace.extents[0].Start, true
}

// String returns a description of the table.
func (at *AllocationTable) String() string {
	at.m.Lock()
	defer at.m.Unlock()

	return fmt.Sprintf("AllocationTable<CACHED=(%d) PENDING=(%d) FREE=(%d)>", at.readCache.Len(), len(at.writeCache), at.freeSpace.FreeCount())
}
