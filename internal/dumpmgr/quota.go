package dumpmgr

import (
	"sort"

	"github.com/openbmc/dump-manager/internal/dumperr"
	"github.com/openbmc/dump-manager/internal/humanize"
)

// usedKiB sums the ceil-KiB size of every completed entry in the family.
func (m *Manager[T]) usedKiB() uint64 {
	var total uint64
	for _, te := range m.catalog {
		total += humanize.CeilKiB(te.base.Snapshot().Size)
	}
	return total
}

func (m *Manager[T]) countInBucket(bucket string) int {
	n := 0
	for _, te := range m.catalog {
		if m.policy.CountBucket(te.ext) == bucket {
			n++
		}
	}
	return n
}

// oldestTerminal returns, oldest-first by StartTime, the ids of every
// terminal entry for which match returns true (or every terminal entry,
// if match is nil). In-progress entries are never eviction candidates.
func (m *Manager[T]) oldestTerminal(match func(bucket string) bool) []uint32 {
	type cand struct {
		id    uint32
		start int64
	}

	var cands []cand
	for id, te := range m.catalog {
		if !te.base.IsTerminal() {
			continue
		}
		if match != nil && !match(m.policy.CountBucket(te.ext)) {
			continue
		}
		cands = append(cands, cand{id: id, start: te.base.Snapshot().StartTime.UnixNano()})
	}

	sort.Slice(cands, func(i, j int) bool { return cands[i].start < cands[j].start })

	ids := make([]uint32, 0, len(cands))
	for _, c := range cands {
		ids = append(ids, c.id)
	}
	return ids
}

// enforceCountQuota makes room for one more entry in bucket, evicting the
// oldest terminal entries in that bucket first when rotation is enabled.
// Victim ids are collected up front, before any deletion happens, so
// eviction never invalidates the iteration that decided on them.
func (m *Manager[T]) enforceCountQuota(bucket string) error {
	limit := m.policy.countQuotaFor(bucket)
	if limit <= 0 {
		return nil
	}

	overBy := m.countInBucket(bucket) - limit + 1
	if overBy <= 0 {
		return nil
	}

	if !m.policy.Quota.Rotation {
		return dumperr.New(dumperr.QuotaExceeded, "count quota exceeded for "+m.policy.Family)
	}

	victims := m.oldestTerminal(func(b string) bool { return b == bucket })
	if len(victims) < overBy {
		return dumperr.New(dumperr.QuotaExceeded, "count quota exceeded for "+m.policy.Family+" and no terminal entries left to evict")
	}

	for _, id := range victims[:overBy] {
		m.evict(id)
		m.recorder.RecordEvicted(m.policy.Family)
	}
	return nil
}

// enforceByteQuota makes room under TotalSize-MinSpaceReqd, after a
// haircut proportional to JFFSInaccuracyPercent, evicting oldest-first
// across the whole family when rotation is enabled.
func (m *Manager[T]) enforceByteQuota() error {
	quota := m.policy.Quota
	if quota.TotalSize == 0 {
		return nil
	}

	budget := quota.TotalSize
	haircut := uint64(float64(quota.TotalSize) * m.policy.JFFSInaccuracyPercent / 100)
	budget = subOrZero(budget, haircut)
	budget = subOrZero(budget, quota.MinSpaceReqd)

	for m.usedKiB() > budget {
		if !quota.Rotation {
			return dumperr.New(dumperr.QuotaExceeded, "byte quota exceeded for "+m.policy.Family)
		}

		victims := m.oldestTerminal(nil)
		if len(victims) == 0 {
			return dumperr.New(dumperr.QuotaExceeded, "byte quota exceeded for "+m.policy.Family+" and no terminal entries left to evict")
		}

		m.evict(victims[0])
		m.recorder.RecordEvicted(m.policy.Family)
	}
	return nil
}

// permittedCreateSize is this family's allowed create-size: the
// remaining headroom under the byte quota (after the JFFS haircut and
// minimum-space reservation), clamped above by the configured
// per-collection MaxSize. Called after enforceByteQuota has already made
// room, so it reflects what the collector may actually use, not just the
// nominal per-collection cap.
func (m *Manager[T]) permittedCreateSize() uint64 {
	quota := m.policy.Quota

	remaining := quota.MaxSize
	if quota.TotalSize > 0 {
		haircut := uint64(float64(quota.TotalSize) * m.policy.JFFSInaccuracyPercent / 100)
		budget := subOrZero(quota.TotalSize, haircut)
		budget = subOrZero(budget, quota.MinSpaceReqd)
		headroom := subOrZero(budget, m.usedKiB())

		if quota.MaxSize == 0 || headroom < remaining {
			remaining = headroom
		}
	}

	return remaining
}

func subOrZero(a, b uint64) uint64 {
	if b >= a {
		return 0
	}
	return a - b
}
