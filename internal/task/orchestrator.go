package task

// Pool names.
const (
	DiskPool    = "disk"
	ArchivePool = "archive"
	ChildPool   = "child"
)

// Sizes configures the capacity of each pool.
type Sizes struct {
	Disk    int
	Archive int
	Child   int
}

// DefaultSizes returns the pool sizes used when none are configured.
func DefaultSizes() Sizes {
	return Sizes{Disk: 4, Archive: 8, Child: 2}
}

// Orchestrator owns the worker pools used by archive operations: one for
// per-disk transfer, one for per-block archive maintenance and one for
// per-child-entity fan-out. Pools are constructed explicitly and shared by
// reference, never held globally.
type Orchestrator struct {
	Disk    *Pool
	Archive *Pool
	Child   *Pool
}

// NewOrchestrator creates an orchestrator with the given pool sizes.
func NewOrchestrator(sizes Sizes) *Orchestrator {
	return &Orchestrator{
		Disk:    NewPool(DiskPool, sizes.Disk),
		Archive: NewPool(ArchivePool, sizes.Archive),
		Child:   NewPool(ChildPool, sizes.Child),
	}
}

// Pool returns the pool with the given name, or nil.
func (o *Orchestrator) Pool(name string) *Pool {
	switch name {
	case DiskPool:
		return o.Disk
	case ArchivePool:
		return o.Archive
	case ChildPool:
		return o.Child
	default:
		return nil
	}
}

// Wait blocks until every pool is idle. Child units submit disk and archive
// work, and disk units submit nothing further, so pools are drained in that
// order.
func (o *Orchestrator) Wait() {
	o.Child.Wait()
	o.Disk.Wait()
	o.Archive.Wait()
}
