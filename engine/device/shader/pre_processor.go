// pre_processor.go implements the Oxy WGSL kernel pre-processor. It scans kernel
// source code for @oxy: annotations, replaces them with generated WGSL declarations,
// injected struct source, or host-supplied constants, and collects a declarations list
// that the sort resource set uses to wire buffers to bind groups.
//
// The pre-processor maintains three registries:
//   - structRegistry: maps AnnotationArg keys to embedded WGSL struct sources and their
//     resolved type names. Used by @oxy:include and @oxy:group.
//   - addressSpaceRegistry: maps address space argument keys to WGSL var<> syntax strings.
//   - defines: host-supplied u32 values for @oxy:define constants.
package shader

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/Carmen-Shannon/oxy-sort/engine/spatial"
)

// registryEntry pairs a WGSL struct source string (embedded from a .wgsl asset file)
// with the resolved WGSL type name used in generated @group/@binding declarations.
type registryEntry struct {
	// Source is the raw WGSL struct definition text injected by @oxy:include.
	Source string

	// Type is the WGSL type name emitted in @oxy:group declarations (e.g. "SpatialEntry").
	Type string
}

// preProcessor is the implementation of the PreProcessor interface.
type preProcessor struct {
	structRegistry       map[AnnotationArg]registryEntry
	addressSpaceRegistry map[AnnotationArg]string
	defines              map[string]uint32

	// declarations accumulates group and provider annotations during a Process call.
	declarations []Annotation

	// resolved records the value emitted for every define during a Process call.
	resolved map[string]uint32
}

// PreProcessor processes raw WGSL kernel source code containing @oxy: annotations,
// replacing them with generated declarations while collecting a declarations list for
// downstream resource wiring.
type PreProcessor interface {
	// Process takes raw WGSL source code and replaces @oxy: annotations with their
	// corresponding WGSL output. @oxy:include annotations are replaced with embedded struct
	// source text, @oxy:group annotations with generated @group/@binding declarations and
	// @oxy:define annotations with u32 constants. @oxy:provider annotations produce no WGSL
	// output but are recorded in the declarations list.
	//
	// Parameters:
	//   - source: the raw WGSL source code containing annotations to be processed
	//
	// Returns:
	//   - string: the processed WGSL source code with annotations replaced
	//   - error: an error if any annotation is malformed, references an unknown type, or a define has no value
	Process(source string) (string, error)

	// Declarations returns the group and provider annotations collected during the most
	// recent call to Process, in source order.
	//
	// Returns:
	//   - []Annotation: the declarations collected during the last Process call
	Declarations() []Annotation

	// Defines returns the value emitted for every @oxy:define during the most recent call to Process.
	//
	// Returns:
	//   - map[string]uint32: constant values keyed by name
	Defines() map[string]uint32
}

var _ PreProcessor = &preProcessor{}

// NewPreProcessor creates a new PreProcessor with all registered struct types and
// address space mappings pre-populated.
//
// Parameters:
//   - defines: host-supplied values for @oxy:define constants, may be nil
//
// Returns:
//   - PreProcessor: a ready-to-use pre-processor instance
func NewPreProcessor(defines map[string]uint32) PreProcessor {
	return &preProcessor{
		structRegistry: map[AnnotationArg]registryEntry{
			AnnotationArgSpatialEntry: {Source: spatial.GPUSpatialEntrySource, Type: "SpatialEntry"},
			AnnotationArgSortParams:   {Source: spatial.GPUSortParamsSource, Type: "SortParams"},
			AnnotationArgOffsetParams: {Source: spatial.GPUOffsetParamsSource, Type: "OffsetParams"},
		},
		addressSpaceRegistry: map[AnnotationArg]string{
			annotationArgStorageTypeUniform:   "var<uniform>",
			annotationArgStorageTypeRead:      "var<storage, read>",
			annotationArgStorageTypeReadWrite: "var<storage, read_write>",
		},
		defines: defines,
	}
}

func (p *preProcessor) Process(source string) (string, error) {
	p.declarations = p.declarations[:0]
	p.resolved = make(map[string]uint32)

	lines := strings.Split(source, "\n")
	out := make([]string, 0, len(lines))

	for i, line := range lines {
		a, err := parseAnnotation(line, i+1)
		if err != nil {
			return "", err
		}
		if a == nil {
			out = append(out, line)
			continue
		}

		switch a.Type {
		case annotationTypeInclude:
			entry, ok := p.structRegistry[a.Args[0]]
			if !ok {
				return "", fmt.Errorf("line %d: unknown @oxy:include argument %q", i+1, a.Args[0])
			}
			out = append(out, entry.Source)
		case AnnotationTypeBindingGroup:
			addrSpace := p.addressSpaceRegistry[a.Args[0]]
			varName := string(a.Args[1])
			var wgslType string
			if inner, ok := strings.CutPrefix(string(a.Args[2]), "array<"); ok {
				inner = strings.TrimSuffix(inner, ">")
				wgslType = fmt.Sprintf("array<%s>", p.structRegistry[AnnotationArg(inner)].Type)
			} else {
				wgslType = p.structRegistry[a.Args[2]].Type
			}
			out = append(out, fmt.Sprintf("@group(%d) @binding(%d) %s %s: %s;", *a.Group, *a.Binding, addrSpace, varName, wgslType))
			p.declarations = append(p.declarations, *a)
		case AnnotationTypeProvider:
			p.declarations = append(p.declarations, *a)
		case annotationTypeDefine:
			name := string(a.Args[0])
			value, ok := p.defines[name]
			if !ok {
				if len(a.Args) < 2 {
					return "", fmt.Errorf("line %d: no value supplied for @oxy:define %s", i+1, name)
				}
				v, _ := strconv.ParseUint(string(a.Args[1]), 10, 32)
				value = uint32(v)
			}
			p.resolved[name] = value
			out = append(out, fmt.Sprintf("const %s: u32 = %du;", name, value))
		default:
			return "", fmt.Errorf("line %d: unknown annotation type %q", i+1, a.Type)
		}
	}
	return strings.Join(out, "\n"), nil
}

func (p *preProcessor) Declarations() []Annotation {
	return p.declarations
}

func (p *preProcessor) Defines() map[string]uint32 {
	return p.resolved
}
