package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand/v2"
	"slices"
	"time"

	"github.com/Carmen-Shannon/oxy-sort/engine"
	"github.com/Carmen-Shannon/oxy-sort/engine/device"
	"github.com/Carmen-Shannon/oxy-sort/engine/sort"
	"github.com/Carmen-Shannon/oxy-sort/engine/spatial"
	"golang.org/x/sync/errgroup"
)

var errVerification = errors.New("verification failed")

// particles is a random walk of 2D positions inside a square world, hashed into entries every frame.
type particles struct {
	rng      *rand.Rand
	xs, ys   []float32
	extent   float32
	cellSize float32
	buckets  uint32
	entries  []spatial.GPUSpatialEntry
}

func newParticles(cfg Config) *particles {
	p := &particles{
		rng:      rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15)),
		xs:       make([]float32, cfg.Elements),
		ys:       make([]float32, cfg.Elements),
		extent:   cfg.Extent,
		cellSize: cfg.CellSize,
		buckets:  cfg.BucketCount(),
		entries:  make([]spatial.GPUSpatialEntry, cfg.Elements),
	}
	for i := range p.xs {
		p.xs[i] = p.rng.Float32() * p.extent
		p.ys[i] = p.rng.Float32() * p.extent
	}
	return p
}

func (p *particles) Name() string {
	return "hash"
}

func (p *particles) Frame(_ uint64, _ float32) error {
	step := p.cellSize / 2
	for i := range p.xs {
		p.xs[i] = wrap(p.xs[i]+(p.rng.Float32()*2-1)*step, p.extent)
		p.ys[i] = wrap(p.ys[i]+(p.rng.Float32()*2-1)*step, p.extent)
		p.entries[i] = spatial.EntryForPosition(uint32(i), p.xs[i], p.ys[i], p.cellSize, p.buckets)
	}
	return nil
}

func wrap(v, extent float32) float32 {
	for v < 0 {
		v += extent
	}
	for v >= extent {
		v -= extent
	}
	return v
}

// sortSystem sorts the current frame's entries.
type sortSystem struct {
	sorter sort.Sorter
	input  *particles
}

func (s *sortSystem) Name() string {
	return "sort"
}

func (s *sortSystem) Frame(_ uint64, _ float32) error {
	return s.sorter.Sort(s.input.entries)
}

// verifySystem reads back the sorted entries and offsets and checks them against the host.
type verifySystem struct {
	sorter  sort.Sorter
	input   *particles
	timeout time.Duration
}

func (v *verifySystem) Name() string {
	return "verify"
}

func (v *verifySystem) Frame(frame uint64, _ float32) error {
	ctx, cancel := context.WithTimeout(context.Background(), v.timeout)
	defer cancel()

	var entries []spatial.GPUSpatialEntry
	var offsets []uint32
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		entries, err = v.sorter.ReadEntries(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		offsets, err = v.sorter.ReadOffsets(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return err
	}

	return verifyFrame(v.input.entries, entries, offsets, v.sorter.Resources().BucketCount())
}

// verifyFrame checks one frame's result: keys in order, the output a permutation of the input,
// and the offsets table equal to the one built on the host.
func verifyFrame(input, sorted []spatial.GPUSpatialEntry, offsets []uint32, buckets uint32) error {
	var g errgroup.Group
	g.Go(func() error {
		return sort.CheckSorted(sorted)
	})
	g.Go(func() error {
		if len(sorted) != len(input) {
			return fmt.Errorf("%w: %d entries in, %d out", errVerification, len(input), len(sorted))
		}
		seen := make([]bool, len(input))
		for _, e := range sorted {
			if int(e.Index) >= len(input) || seen[e.Index] || input[e.Index] != e {
				return fmt.Errorf("%w: entry %+v is not from the input", errVerification, e)
			}
			seen[e.Index] = true
		}
		return nil
	})
	g.Go(func() error {
		if want := sort.ComputeOffsets(sorted, buckets); !slices.Equal(want, offsets) {
			return fmt.Errorf("%w: offsets table differs from the host result", errVerification)
		}
		return nil
	})
	return g.Wait()
}

// Result summarizes a benchmark run.
type Result struct {
	Frames   uint64
	Failed   uint64
	Elapsed  time.Duration
	Stages   int
	Padded   uint32
	Backend  string
	Elements uint32
}

func (r Result) String() string {
	perFrame := time.Duration(0)
	if r.Frames > 0 {
		perFrame = r.Elapsed / time.Duration(r.Frames)
	}
	return fmt.Sprintf("%s: %d frames (%d failed) of %d entries (padded %d, %d stages) in %s, %s per frame",
		r.Backend, r.Frames, r.Failed, r.Elements, r.Padded, r.Stages, r.Elapsed, perFrame)
}

// runBench runs cfg.Frames frames of hash, sort and (optionally) verify.
func runBench(cfg Config) (Result, error) {
	if err := cfg.Validate(); err != nil {
		return Result{}, err
	}
	backend, _ := device.ParseBackendType(cfg.Backend)
	timeout, _ := cfg.ReadTimeout()

	deviceOpts := []device.DeviceBuilderOption{device.WithForceFallbackAdapter(cfg.Fallback)}
	if cfg.Workers > 0 {
		deviceOpts = append(deviceOpts, device.WithWorkers(cfg.Workers))
	}
	dev, err := device.NewDevice(backend, deviceOpts...)
	if err != nil {
		return Result{}, err
	}
	defer dev.Release()

	e := engine.NewEngine(
		engine.WithProfiling(cfg.Profile),
		engine.WithMaxFrames(cfg.Frames),
		engine.WithStopOnError(cfg.StopOnErr),
	)

	sortOpts := []sort.SorterBuilderOption{
		sort.WithBucketCount(cfg.BucketCount()),
		sort.WithProfiler(e.Profiler()),
	}
	if cfg.LocalBlock != 0 {
		sortOpts = append(sortOpts, sort.WithMaxLocalBlock(cfg.LocalBlock))
	}
	sorter, err := sort.NewSorter(dev, cfg.Elements, sortOpts...)
	if err != nil {
		return Result{}, err
	}
	defer sorter.Release()

	input := newParticles(cfg)
	e.AddSystem(input)
	e.AddSystem(&sortSystem{sorter: sorter, input: input})
	if cfg.Verify {
		e.AddSystem(&verifySystem{sorter: sorter, input: input, timeout: timeout})
	}

	start := time.Now()
	runErr := e.Run()
	frames, failed := e.Frames()
	res := Result{
		Frames:   frames,
		Failed:   failed,
		Elapsed:  time.Since(start),
		Stages:   sorter.Plan().Len(),
		Padded:   sorter.PaddedCount(),
		Backend:  backend.String(),
		Elements: cfg.Elements,
	}
	log.Printf("[Bench] %s", res)
	return res, runErr
}
