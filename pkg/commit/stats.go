package commit

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"go.uber.org/zap"

	"github.com/siltdata/silt/pkg/commitlog"
	"github.com/siltdata/silt/pkg/objectdb"
	"github.com/siltdata/silt/pkg/silterrors"
)

// StatsFunc computes optional per-commit content aggregates — spec.md
// §6's `history/<id>/cache/` directory, named but marked out of scope
// as an "optional per-commit aggregate". No default implementation
// ships (analytical execution stays out of scope); this is only the
// extension point the original system has, grounded in
// original_source/oxen-rust's content_stats cacher running as a
// post-commit hook.
type StatsFunc func(commitlog.Commit, *objectdb.DB) (map[string]int64, error)

// SetStatsHook installs hook, run in its own goroutine immediately
// after a commit's branch ref advances, with its result (if any)
// written to cacheDir/<commit_id>/cache/stats.bin. A nil hook (the
// default) disables cache computation entirely.
func (p *Pipeline) SetStatsHook(cacheDir string, hook StatsFunc) {
	p.cacheDir = cacheDir
	p.statsHook = hook
}

// runStatsHook is called by persistCommit after step 6 succeeds. It
// never blocks or fails the commit itself: a stats computation error
// is logged, not returned, since the cache is explicitly optional.
func (p *Pipeline) runStatsHook(c commitlog.Commit) {
	if p.statsHook == nil {
		return
	}
	go func() {
		stats, err := p.statsHook(c, p.objects)
		if err != nil {
			p.log.Warn("content-stats hook failed", zap.String("commit", c.ID.String()), zap.Error(err))
			return
		}
		if err := writeStatsCache(p.cacheDir, c.ID.String(), stats); err != nil {
			p.log.Warn("writing content-stats cache failed", zap.String("commit", c.ID.String()), zap.Error(err))
		}
	}()
}

// writeStatsCache serializes stats with the same fixed binary
// encoding convention (length-prefixed fields, big-endian) used
// throughout pkg/objectdb's node encoders, and writes it to
// cacheDir/id/cache/stats.bin.
func writeStatsCache(cacheDir, id string, stats map[string]int64) error {
	dir := filepath.Join(cacheDir, id, "cache")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("%w: creating %s: %v", silterrors.ErrIO, dir, err)
	}

	keys := make([]string, 0, len(stats))
	for k := range stats {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, uint32(len(keys)))
	for _, k := range keys {
		kb := []byte(k)
		lenBuf := make([]byte, 2)
		binary.BigEndian.PutUint16(lenBuf, uint16(len(kb)))
		buf = append(buf, lenBuf...)
		buf = append(buf, kb...)
		valBuf := make([]byte, 8)
		binary.BigEndian.PutUint64(valBuf, uint64(stats[k]))
		buf = append(buf, valBuf...)
	}

	return os.WriteFile(filepath.Join(dir, "stats.bin"), buf, 0o644)
}
