package sort

import (
	"fmt"

	"github.com/Carmen-Shannon/oxy-sort/common"
	"github.com/Carmen-Shannon/oxy-sort/engine/spatial"
)

// AlgorithmKind selects the compare-and-swap pattern of one stage. The values are the algo
// field the bitonic kernel switches on.
type AlgorithmKind uint32

const (
	// AlgorithmNone is the terminal state: the sort is complete and nothing is dispatched.
	AlgorithmNone AlgorithmKind = iota

	// AlgorithmFlipLocal flips blocks that fit in workgroup memory.
	AlgorithmFlipLocal

	// AlgorithmDisperseLocal disperses blocks that fit in workgroup memory.
	AlgorithmDisperseLocal

	// AlgorithmFlipGlobal flips blocks directly in the entries buffer.
	AlgorithmFlipGlobal

	// AlgorithmDisperseGlobal disperses blocks directly in the entries buffer.
	AlgorithmDisperseGlobal
)

func (a AlgorithmKind) String() string {
	switch a {
	case AlgorithmNone:
		return "None"
	case AlgorithmFlipLocal:
		return "FlipLocal"
	case AlgorithmDisperseLocal:
		return "DisperseLocal"
	case AlgorithmFlipGlobal:
		return "FlipGlobal"
	case AlgorithmDisperseGlobal:
		return "DisperseGlobal"
	default:
		return fmt.Sprintf("AlgorithmKind(%d)", uint32(a))
	}
}

// IsLocal reports whether the stage runs on a workgroup-private copy of its block.
func (a AlgorithmKind) IsLocal() bool {
	return a == AlgorithmFlipLocal || a == AlgorithmDisperseLocal
}

// StageState is the position of the sort state machine: the algorithm of the next stage, its
// block height h, and the height H of the bitonic sequences currently being merged.
type StageState struct {
	Algorithm          AlgorithmKind
	BlockHeight        uint32
	HighestBlockHeight uint32
}

// Done reports whether the state is terminal.
func (s StageState) Done() bool {
	return s.Algorithm == AlgorithmNone
}

// InitialStage returns the first state of every sort: a local flip over blocks of two.
//
// Returns:
//   - StageState: (FlipLocal, 2, 2)
func InitialStage() StageState {
	return StageState{Algorithm: AlgorithmFlipLocal, BlockHeight: 2, HighestBlockHeight: 2}
}

// MaxElementCount is the largest element count a plan can sort. The sequence height H reaches 2n
// before the sort completes, so n must stay below 1<<31.
const MaxElementCount uint32 = 1 << 30

// StageCount returns the number of stages of a complete bitonic sort of n elements,
// log2(n)*(log2(n)+1)/2.
//
// Parameters:
//   - n: the element count, a power of two no larger than MaxElementCount
//
// Returns:
//   - uint32: the stage count
//   - error: ErrInvalidElementCount if n is zero, not a power of two or above MaxElementCount
func StageCount(n uint32) (uint32, error) {
	if !common.IsPowerOfTwo(n) {
		return 0, fmt.Errorf("%w: %d is not a power of two", ErrInvalidElementCount, n)
	}
	if n > MaxElementCount {
		return 0, fmt.Errorf("%w: %d exceeds the maximum of %d", ErrInvalidElementCount, n, MaxElementCount)
	}
	k := common.Log2(n)
	return k * (k + 1) / 2, nil
}

// NextStage advances the state machine by one stage. It is a pure function of the current state,
// the element count and the local block size.
//
// Parameters:
//   - current: the state of the stage just dispatched
//   - n: the element count, a power of two
//   - maxLocalBlock: the largest block half that fits one workgroup; blocks up to 2*maxLocalBlock run locally
//
// Returns:
//   - StageState: the state of the next stage, or a Done state once the sort is complete
func NextStage(current StageState, n, maxLocalBlock uint32) StageState {
	if current.Done() {
		return current
	}
	localLimit := 2 * maxLocalBlock
	next := StageState{
		BlockHeight:        current.BlockHeight / 2,
		HighestBlockHeight: current.HighestBlockHeight,
	}

	if next.BlockHeight <= 1 {
		next.HighestBlockHeight *= 2
		switch {
		// H wraps to zero only after passing every uint32 element count.
		case next.HighestBlockHeight == 0 || next.HighestBlockHeight/2 >= n:
			return StageState{Algorithm: AlgorithmNone, BlockHeight: 1, HighestBlockHeight: next.HighestBlockHeight}
		case next.HighestBlockHeight > localLimit:
			next.Algorithm = AlgorithmFlipGlobal
		default:
			next.Algorithm = AlgorithmFlipLocal
		}
		next.BlockHeight = next.HighestBlockHeight
		return next
	}

	if next.BlockHeight > localLimit {
		next.Algorithm = AlgorithmDisperseGlobal
	} else {
		next.Algorithm = AlgorithmDisperseLocal
	}
	return next
}

// Stage is one entry of a Plan.
type Stage struct {
	Algorithm          AlgorithmKind
	BlockHeight        uint32
	HighestBlockHeight uint32
	IsLocal            bool
}

// Params builds the message dispatched for this stage.
//
// Parameters:
//   - dispatchSize: the workgroups dispatched for the stage
//
// Returns:
//   - StageParams: the stage parameters
func (s Stage) Params(dispatchSize uint32) StageParams {
	return StageParams{
		Algorithm:          s.Algorithm,
		BlockHeight:        s.BlockHeight,
		HighestBlockHeight: s.HighestBlockHeight,
		DispatchSize:       dispatchSize,
	}
}

// StageParams is the host to device message of one stage. It is written into the sort params
// buffer immediately before the stage's dispatch.
type StageParams struct {
	Algorithm          AlgorithmKind
	BlockHeight        uint32
	HighestBlockHeight uint32
	DispatchSize       uint32
}

// ToGPU encodes the parameters in the kernel's SortParams layout.
func (p StageParams) ToGPU() spatial.GPUSortParams {
	return spatial.GPUSortParams{
		Algo:               uint32(p.Algorithm),
		BlockHeight:        p.BlockHeight,
		HighestBlockHeight: p.HighestBlockHeight,
		DispatchSize:       p.DispatchSize,
	}
}

// Plan is the complete stage sequence for one element count and local block size.
type Plan struct {
	ElementCount  uint32
	MaxLocalBlock uint32
	Stages        []Stage
}

// NewPlan generates the stage sequence by running the state machine from InitialStage until Done.
// A single element needs no stages.
//
// Parameters:
//   - n: the element count, a power of two
//   - maxLocalBlock: the local block size, a power of two
//
// Returns:
//   - *Plan: the plan
//   - error: ErrInvalidElementCount or ErrInvalidLocalBlock on bad input
func NewPlan(n, maxLocalBlock uint32) (*Plan, error) {
	count, err := StageCount(n)
	if err != nil {
		return nil, err
	}
	if !common.IsPowerOfTwo(maxLocalBlock) {
		return nil, fmt.Errorf("%w: %d is not a power of two", ErrInvalidLocalBlock, maxLocalBlock)
	}

	p := &Plan{
		ElementCount:  n,
		MaxLocalBlock: maxLocalBlock,
		Stages:        make([]Stage, 0, count),
	}
	if n < 2 {
		return p, nil
	}
	for s := InitialStage(); !s.Done(); s = NextStage(s, n, maxLocalBlock) {
		p.Stages = append(p.Stages, Stage{
			Algorithm:          s.Algorithm,
			BlockHeight:        s.BlockHeight,
			HighestBlockHeight: s.HighestBlockHeight,
			IsLocal:            s.Algorithm.IsLocal(),
		})
	}
	if uint32(len(p.Stages)) != count {
		return nil, fmt.Errorf("%w: generated %d stages, expected %d", ErrPlanResourceMismatch, len(p.Stages), count)
	}
	return p, nil
}

// Len returns the number of stages.
func (p *Plan) Len() int {
	return len(p.Stages)
}

// Validate checks that the plan sorts exactly n elements.
//
// Parameters:
//   - n: the element count of the resources the plan will run against
//
// Returns:
//   - error: ErrPlanResourceMismatch if the counts disagree
func (p *Plan) Validate(n uint32) error {
	if p.ElementCount != n {
		return fmt.Errorf("%w: plan sorts %d elements, resources hold %d", ErrPlanResourceMismatch, p.ElementCount, n)
	}
	return nil
}
