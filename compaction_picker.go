package lsmdb

import (
	"sort"

	"github.com/G1DO/Storage-Engine/internal/manifest"
)

// pickedCompaction describes one compaction job: the input files drawn
// from level, any overlapping files in outputLevel that must be merged
// alongside them to keep outputLevel non-overlapping, and the level the
// merged output should land in.
type pickedCompaction struct {
	level       int
	outputLevel int
	inputs      []*manifest.FileMetadata
	outputs     []*manifest.FileMetadata
}

// compactionPicker decides what to compact next given the current
// Version. Two implementations exist, selected by Options.CompactionStyle:
// a scored leveled picker (the default, matching how the engine behaves
// once L0 has drained into a level hierarchy) and a size-tiered picker
// that merges similarly-sized runs instead of enforcing per-level ratios.
type compactionPicker interface {
	pick(v *manifest.Version, opts *Options) *pickedCompaction
}

func newCompactionPicker(opts *Options) compactionPicker {
	switch opts.CompactionStyle {
	case CompactionStyleSizeTiered:
		return &sizeTieredPicker{opts: opts}
	default:
		return &leveledPicker{opts: opts}
	}
}

// leveledPicker scores each level as (level size / target size) — L0 is
// scored on file count against L0CompactionTrigger instead, since L0
// files may overlap and aren't naturally summarized by a byte budget
// alone — and compacts the highest-scoring level whose score is >= 1.
type leveledPicker struct {
	opts *Options
}

func (p *leveledPicker) levelTargetBytes(level int) int64 {
	// L1's target is a fixed base; each level beyond it multiplies by
	// LevelSizeMultiplier.
	base := int64(64 << 20)
	for i := 1; i < level; i++ {
		base *= int64(p.opts.LevelSizeMultiplier)
	}
	return base
}

func (p *leveledPicker) pick(v *manifest.Version, opts *Options) *pickedCompaction {
	bestLevel := -1
	bestScore := 1.0

	l0Score := float64(v.FileCount(0)) / float64(opts.L0CompactionTrigger)
	if l0Score >= bestScore {
		bestLevel = 0
		bestScore = l0Score
	}
	for level := 1; level < v.NumLevels()-1; level++ {
		score := float64(v.LevelSize(level)) / float64(p.levelTargetBytes(level))
		if score >= bestScore {
			bestLevel = level
			bestScore = score
		}
	}
	if bestLevel == -1 {
		return nil
	}

	outputLevel := bestLevel + 1
	var inputs []*manifest.FileMetadata
	if bestLevel == 0 {
		// All of L0 participates: its files may overlap each other, so a
		// partial L0 compaction could still leave overlapping ranges
		// behind.
		inputs = v.Files(0)
	} else {
		files := v.Files(bestLevel)
		if len(files) == 0 {
			return nil
		}
		sort.Slice(files, func(i, j int) bool { return files[i].Size > files[j].Size })
		inputs = files[:1]
	}
	if len(inputs) == 0 {
		return nil
	}

	lo, hi := boundsOf(inputs)
	outputs := v.Overlapping(outputLevel, lo, hi)

	return &pickedCompaction{
		level:       bestLevel,
		outputLevel: outputLevel,
		inputs:      inputs,
		outputs:     outputs,
	}
}

// sizeTieredPicker compacts together every file at a level once the file
// count there reaches L0CompactionTrigger, writing the merged result back
// to the same level rather than promoting it — appropriate for
// write-heavy workloads where most keys are never overwritten, so
// leveled re-sorting buys little.
type sizeTieredPicker struct {
	opts *Options
}

func (p *sizeTieredPicker) pick(v *manifest.Version, opts *Options) *pickedCompaction {
	for level := 0; level < v.NumLevels(); level++ {
		files := v.Files(level)
		if len(files) >= opts.L0CompactionTrigger {
			return &pickedCompaction{
				level:       level,
				outputLevel: level,
				inputs:      files,
			}
		}
	}
	return nil
}

func boundsOf(files []*manifest.FileMetadata) (lo, hi []byte) {
	for _, f := range files {
		if lo == nil || bytesLess(f.MinKey, lo) {
			lo = f.MinKey
		}
		if hi == nil || bytesLess(hi, f.MaxKey) {
			hi = f.MaxKey
		}
	}
	return lo, hi
}

func bytesLess(a, b []byte) bool {
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return len(a) < len(b)
}
