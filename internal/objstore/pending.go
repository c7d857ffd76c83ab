package objstore

import "sync"

// blobGuard tracks blobs that a Put has written but not yet committed, so
// a reconcile sweep never mistakes them for orphans. Blobs committed while
// a sweep is running stay protected until every running sweep ends, since
// the sweep's metadata snapshot may predate the commit.
type blobGuard struct {
	mu      sync.Mutex
	pending map[string]struct{}
	sweeps  int
	recent  map[string]struct{}
}

func newBlobGuard() *blobGuard {
	return &blobGuard{
		pending: make(map[string]struct{}),
		recent:  make(map[string]struct{}),
	}
}

func blobName(bucket, id string) string {
	return bucket + "/" + id
}

func (g *blobGuard) add(bucket, id string) {
	g.mu.Lock()
	g.pending[blobName(bucket, id)] = struct{}{}
	g.mu.Unlock()
}

// done releases a blob once its Put has committed or discarded it.
func (g *blobGuard) done(bucket, id string) {
	name := blobName(bucket, id)
	g.mu.Lock()
	delete(g.pending, name)
	if g.sweeps > 0 {
		g.recent[name] = struct{}{}
	}
	g.mu.Unlock()
}

func (g *blobGuard) beginSweep() {
	g.mu.Lock()
	g.sweeps++
	g.mu.Unlock()
}

func (g *blobGuard) endSweep() {
	g.mu.Lock()
	g.sweeps--
	if g.sweeps == 0 {
		clear(g.recent)
	}
	g.mu.Unlock()
}

// removeUnlessProtected calls remove for the blob unless a Put owns it or
// committed it during the current sweep. It reports whether remove ran.
func (g *blobGuard) removeUnlessProtected(bucket, id string, remove func() error) (bool, error) {
	name := blobName(bucket, id)
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.pending[name]; ok {
		return false, nil
	}
	if _, ok := g.recent[name]; ok {
		return false, nil
	}
	return true, remove()
}

func (g *blobGuard) pendingCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.pending)
}
