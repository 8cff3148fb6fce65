// annotations.go defines the annotation types, argument constants, and parser for the
// Oxy WGSL kernel pre-processor. Annotations are single-line WGSL comments prefixed
// with @oxy: that drive struct injection, bind group declaration, compile-time constant
// injection, and resource provider registration. The parsed results are stored as
// Annotation values and consumed by the PreProcessor and the sort resource set to wire
// GPU buffers to bindings without variable-name string matching.
package shader

import (
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"
)

// annotationPrefix is the marker that identifies an Oxy annotation within a WGSL comment line.
const annotationPrefix = "@oxy:"

// AnnotationType identifies the kind of annotation parsed from a WGSL comment line.
type AnnotationType string

const (
	// annotationTypeInclude injects the WGSL source of a registered struct definition
	// at the annotation site. It produces no declaration.
	//
	// Syntax: //@oxy:include <struct_type>
	//
	// Example: //@oxy:include spatial_entry
	annotationTypeInclude AnnotationType = "include"

	// AnnotationTypeBindingGroup generates a WGSL @group/@binding variable declaration
	// and appends an Annotation to the PreProcessor's declarations list.
	//
	// Syntax: //@oxy:group <group> <binding> <address_space> <var_name> <type>
	//
	// Example: //@oxy:group 1 0 storage_read params sort_params
	AnnotationTypeBindingGroup AnnotationType = "group"

	// AnnotationTypeProvider registers a resource provider identity for a group and binding
	// without generating any WGSL output. The binding declaration stays hand-written directly
	// below the annotation; this is used for raw WGSL types such as array<u32>.
	//
	// Syntax:
	//   //@oxy:provider <group> <binding> <provider_identity>
	//   //@oxy:provider <group> <binding> <provider_identity> <binding_role>
	//
	// Example: //@oxy:provider 0 1 spatial_data offsets
	AnnotationTypeProvider AnnotationType = "provider"

	// annotationTypeDefine emits a u32 module-scope constant whose value is supplied by the
	// host when the kernel is built (see WithDefine). An optional default is used when the
	// host supplies nothing.
	//
	// Syntax: //@oxy:define <NAME> [default]
	//
	// Example: //@oxy:define WORKGROUP_SIZE 256
	annotationTypeDefine AnnotationType = "define"
)

// Annotation represents a single parsed @oxy: annotation from a WGSL kernel source line.
type Annotation struct {
	// Type identifies which annotation was parsed.
	Type AnnotationType

	// Args holds the annotation's arguments. The contents depend on Type:
	//   - include:  [0] = struct type key (e.g. "spatial_entry")
	//   - group:    [0] = address space, [1] = var name, [2] = WGSL type key
	//   - provider: [0] = provider identity, [1] = binding role (optional)
	//   - define:   [0] = constant name, [1] = default value (optional)
	Args []AnnotationArg

	// Line is the 1-based line number in the original WGSL source where this annotation was found.
	Line int

	// Group is the @group index for group and provider annotations. Nil otherwise.
	Group *int

	// Binding is the @binding index for group and provider annotations. Nil otherwise.
	Binding *int
}

// AnnotationArg is a typed string constant used as an argument in annotations.
type AnnotationArg string

// ── Struct type arguments ──────────────────────────────────────────────────────
// Each maps to a Go GPU type in engine/spatial with an embedded .wgsl asset file.

const (
	// AnnotationArgSpatialEntry identifies the SpatialEntry struct.
	// Source: engine/spatial/assets/spatial_entry.wgsl
	AnnotationArgSpatialEntry AnnotationArg = "spatial_entry"

	// AnnotationArgSortParams identifies the SortParams struct.
	// Source: engine/spatial/assets/sort_params.wgsl
	AnnotationArgSortParams AnnotationArg = "sort_params"

	// AnnotationArgOffsetParams identifies the OffsetParams struct.
	// Source: engine/spatial/assets/offset_params.wgsl
	AnnotationArgOffsetParams AnnotationArg = "offset_params"
)

// ── Address space arguments ────────────────────────────────────────────────────

const (
	// annotationArgStorageTypeUniform maps to var<uniform> in WGSL.
	annotationArgStorageTypeUniform AnnotationArg = "storage_uniform"

	// annotationArgStorageTypeRead maps to var<storage, read> in WGSL.
	annotationArgStorageTypeRead AnnotationArg = "storage_read"

	// annotationArgStorageTypeReadWrite maps to var<storage, read_write> in WGSL.
	annotationArgStorageTypeReadWrite AnnotationArg = "storage_read_write"
)

// ── Provider identity arguments ────────────────────────────────────────────────

const (
	// AnnotationArgSpatialData identifies the data provider shared by every sort kernel
	// (the entries buffer and the offsets table).
	AnnotationArgSpatialData AnnotationArg = "spatial_data"
)

// ── Binding role arguments ─────────────────────────────────────────────────────

const (
	// AnnotationArgEntriesRole identifies the spatial entries binding of the data provider.
	AnnotationArgEntriesRole AnnotationArg = "entries"

	// AnnotationArgOffsetsRole identifies the offsets table binding of the data provider.
	AnnotationArgOffsetsRole AnnotationArg = "offsets"
)

var validStructTypes = []AnnotationArg{
	AnnotationArgSpatialEntry,
	AnnotationArgSortParams,
	AnnotationArgOffsetParams,
}

var validAddressSpaces = []AnnotationArg{
	annotationArgStorageTypeUniform,
	annotationArgStorageTypeRead,
	annotationArgStorageTypeReadWrite,
}

var validProviderIdentities = []AnnotationArg{
	AnnotationArgSpatialData,
}

var validBindingRoles = []AnnotationArg{
	AnnotationArgEntriesRole,
	AnnotationArgOffsetsRole,
}

// defineNameRegex restricts define names to WGSL identifiers.
var defineNameRegex = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*$`)

// parseAnnotation attempts to parse a single line of WGSL source as an @oxy: annotation.
// Returns nil with no error for lines that do not contain the annotation prefix.
//
// Parameters:
//   - line: the raw WGSL source line to parse
//   - lineNum: the 1-based line number for error reporting
//
// Returns:
//   - *Annotation: the parsed annotation, or nil if the line is not an annotation
//   - error: a descriptive error if the annotation is malformed
func parseAnnotation(line string, lineNum int) (*Annotation, error) {
	trimmed := strings.TrimSpace(line)
	_, after, ok := strings.Cut(trimmed, annotationPrefix)
	if !ok {
		return nil, nil
	}

	args := strings.Fields(after)
	if len(args) == 0 {
		return nil, fmt.Errorf("line %d: empty @oxy annotation", lineNum)
	}

	switch args[0] {
	case string(annotationTypeInclude):
		if len(args) != 2 {
			return nil, fmt.Errorf("line %d: @oxy include annotation requires exactly one argument", lineNum)
		}
		if !slices.Contains(validStructTypes, AnnotationArg(args[1])) {
			return nil, fmt.Errorf("line %d: unknown struct type %q in @oxy include annotation", lineNum, args[1])
		}
		return &Annotation{
			Type: annotationTypeInclude,
			Args: []AnnotationArg{AnnotationArg(args[1])},
			Line: lineNum,
		}, nil
	case string(AnnotationTypeBindingGroup):
		if len(args) != 6 {
			return nil, fmt.Errorf("line %d: @oxy group annotation requires exactly five arguments (group, binding, address space, var name, struct type)", lineNum)
		}
		groupInt, bindingInt, err := parseGroupBinding(args[1], args[2], lineNum)
		if err != nil {
			return nil, err
		}
		if !slices.Contains(validAddressSpaces, AnnotationArg(args[3])) {
			return nil, fmt.Errorf("line %d: unknown address space %q in @oxy group annotation", lineNum, args[3])
		}
		typeArg := args[5]
		if inner, ok := strings.CutPrefix(typeArg, "array<"); ok {
			inner = strings.TrimSuffix(inner, ">")
			if !slices.Contains(validStructTypes, AnnotationArg(inner)) {
				return nil, fmt.Errorf("line %d: unknown array element type %q in @oxy group annotation", lineNum, inner)
			}
		} else if !slices.Contains(validStructTypes, AnnotationArg(typeArg)) {
			return nil, fmt.Errorf("line %d: unknown struct type %q in @oxy group annotation", lineNum, typeArg)
		}
		return &Annotation{
			Type:    AnnotationTypeBindingGroup,
			Args:    []AnnotationArg{AnnotationArg(args[3]), AnnotationArg(args[4]), AnnotationArg(args[5])},
			Line:    lineNum,
			Group:   &groupInt,
			Binding: &bindingInt,
		}, nil
	case string(AnnotationTypeProvider):
		if len(args) < 4 || len(args) > 5 {
			return nil, fmt.Errorf("line %d: @oxy provider annotation requires three or four arguments (group, binding, provider identity[, binding role])", lineNum)
		}
		groupInt, bindingInt, err := parseGroupBinding(args[1], args[2], lineNum)
		if err != nil {
			return nil, err
		}
		if !slices.Contains(validProviderIdentities, AnnotationArg(args[3])) {
			return nil, fmt.Errorf("line %d: unknown provider identity %q in @oxy provider annotation", lineNum, args[3])
		}
		providerArgs := []AnnotationArg{AnnotationArg(args[3])}
		if len(args) == 5 {
			if !slices.Contains(validBindingRoles, AnnotationArg(args[4])) {
				return nil, fmt.Errorf("line %d: unknown binding role %q in @oxy provider annotation", lineNum, args[4])
			}
			providerArgs = append(providerArgs, AnnotationArg(args[4]))
		}
		return &Annotation{
			Type:    AnnotationTypeProvider,
			Args:    providerArgs,
			Line:    lineNum,
			Group:   &groupInt,
			Binding: &bindingInt,
		}, nil
	case string(annotationTypeDefine):
		if len(args) < 2 || len(args) > 3 {
			return nil, fmt.Errorf("line %d: @oxy define annotation requires a name and an optional default", lineNum)
		}
		if !defineNameRegex.MatchString(args[1]) {
			return nil, fmt.Errorf("line %d: invalid constant name %q in @oxy define annotation", lineNum, args[1])
		}
		defineArgs := []AnnotationArg{AnnotationArg(args[1])}
		if len(args) == 3 {
			if _, err := strconv.ParseUint(args[2], 10, 32); err != nil {
				return nil, fmt.Errorf("line %d: invalid default %q in @oxy define annotation: %v", lineNum, args[2], err)
			}
			defineArgs = append(defineArgs, AnnotationArg(args[2]))
		}
		return &Annotation{
			Type: annotationTypeDefine,
			Args: defineArgs,
			Line: lineNum,
		}, nil
	default:
		return nil, fmt.Errorf("line %d: unknown @oxy annotation type %q", lineNum, args[0])
	}
}

func parseGroupBinding(group, binding string, lineNum int) (int, int, error) {
	groupInt, err := strconv.Atoi(group)
	if err != nil {
		return 0, 0, fmt.Errorf("line %d: invalid group number %q: %v", lineNum, group, err)
	}
	bindingInt, err := strconv.Atoi(binding)
	if err != nil {
		return 0, 0, fmt.Errorf("line %d: invalid binding number %q: %v", lineNum, binding, err)
	}
	return groupInt, bindingInt, nil
}
