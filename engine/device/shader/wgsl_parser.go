package shader

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/cogentcore/webgpu/wgpu"
)

var (
	// structBlockRegex matches struct declarations and captures the name and body
	structBlockRegex = regexp.MustCompile(`struct\s+(\w+)\s*\{([^}]*)\}`)

	// builtinRegex matches @builtin(...) attributes
	builtinRegex = regexp.MustCompile(`@builtin\(\w+\)`)

	// fieldRegex matches a struct field line: optional attributes, name, colon, type.
	// The type capture (.+) is greedy to handle parameterized types like array<T, N>.
	fieldRegex = regexp.MustCompile(`(?:(?:@\w+\([^)]*\)\s*)*)*\s*(\w+)\s*:\s*(.+)`)

	// computeEntryRegex matches @compute functions and captures the entry point name
	computeEntryRegex = regexp.MustCompile(`(?s)@compute\b.*?\bfn\s+(\w+)`)

	// workgroupSizeRegex captures 1-3 dimensions from @workgroup_size(x[, y[, z]]).
	// Each dimension is an integer literal (optionally u/i suffixed) or a const identifier.
	workgroupSizeRegex = regexp.MustCompile(`@workgroup_size\(\s*(\w+)\s*(?:,\s*(\w+)\s*(?:,\s*(\w+)\s*)?)?,?\s*\)`)

	// constDeclRegex captures module-scope integer constants: const NAME[: type] = 256u;
	constDeclRegex = regexp.MustCompile(`\bconst\s+(\w+)\s*(?::\s*\w+\s*)?=\s*(\d+)[ui]?\s*;`)

	// bindGroupDeclRegex captures group, binding, optional address space, variable name, and type
	// from declarations like: @group(0) @binding(1) var<storage, read_write> offsets: array<u32>;
	bindGroupDeclRegex = regexp.MustCompile(`@group\((\d+)\)\s*@binding\((\d+)\)\s*var(?:<([^>]*)>)?\s+(\w+)\s*:\s*([^;]+?)\s*;`)
)

// parseBindGroupLayouts extracts all @group(N) @binding(M) resource declarations from WGSL
// source and returns them as wgpu.BindGroupLayoutDescriptor values grouped by group index.
// Each descriptor's entries are sorted by binding index and visible to the compute stage.
//
// Parameters:
//   - source: the WGSL source code string
//
// Returns:
//   - map[int]wgpu.BindGroupLayoutDescriptor: layout descriptors keyed by group index
//   - map[int]map[int]string: variable names keyed by group and binding index
//   - error: an error if a declaration binds something other than a buffer
func parseBindGroupLayouts(source string) (map[int]wgpu.BindGroupLayoutDescriptor, map[int]map[int]string, error) {
	groups := make(map[int][]wgpu.BindGroupLayoutEntry)
	varNames := make(map[int]map[int]string)
	cleaned := stripComments(source)

	// Struct sizes feed MinBindingSize so InitBindGroup can size buffers without overrides.
	structSizes := computeStructSizes(parseStructBlocks(cleaned))

	for _, match := range bindGroupDeclRegex.FindAllStringSubmatch(cleaned, -1) {
		group, _ := strconv.Atoi(match[1])
		binding, _ := strconv.Atoi(match[2])
		addressSpace := strings.TrimSpace(match[3])
		varName := strings.TrimSpace(match[4])
		typeName := strings.TrimSpace(match[5])

		entry, ok := classifyResource(uint32(binding), addressSpace)
		if !ok {
			return nil, nil, fmt.Errorf("@group(%d) @binding(%d) %s: only buffer bindings are supported by compute kernels", group, binding, varName)
		}
		if layout, ok := resolveTypeLayout(typeName, structSizes); ok && layout.size > 0 {
			entry.Buffer.MinBindingSize = layout.size
		}

		groups[group] = append(groups[group], entry)
		if varNames[group] == nil {
			varNames[group] = make(map[int]string)
		}
		varNames[group][binding] = varName
	}

	result := make(map[int]wgpu.BindGroupLayoutDescriptor, len(groups))
	for g, entries := range groups {
		sort.Slice(entries, func(i, j int) bool {
			return entries[i].Binding < entries[j].Binding
		})
		result[g] = wgpu.BindGroupLayoutDescriptor{
			Entries: entries,
		}
	}

	return result, varNames, nil
}

// parseConstants collects module-scope integer constants from WGSL source.
//
// Parameters:
//   - source: the WGSL source code string
//
// Returns:
//   - map[string]uint32: constant values keyed by name
func parseConstants(source string) map[string]uint32 {
	consts := make(map[string]uint32)
	for _, match := range constDeclRegex.FindAllStringSubmatch(stripComments(source), -1) {
		if v, err := strconv.ParseUint(match[2], 10, 32); err == nil {
			consts[match[1]] = uint32(v)
		}
	}
	return consts
}

// parseWorkgroupSize extracts the @workgroup_size(x, y, z) dimensions from WGSL source.
// Dimensions may be literals or module-scope constants. Omitted dimensions default to 1.
// Returns [1, 1, 1] if no @workgroup_size attribute is found.
//
// Parameters:
//   - source: the WGSL source code string
//
// Returns:
//   - [3]uint32: the workgroup size as [x, y, z]
//   - error: an error if a dimension names an unknown constant or is zero
func parseWorkgroupSize(source string) ([3]uint32, error) {
	cleaned := stripComments(source)
	result := [3]uint32{1, 1, 1}

	match := workgroupSizeRegex.FindStringSubmatch(cleaned)
	if match == nil {
		return result, nil
	}

	consts := parseConstants(cleaned)
	for i := 0; i < 3; i++ {
		dim := match[i+1]
		if dim == "" {
			continue
		}
		value, err := resolveDimension(dim, consts)
		if err != nil {
			return result, err
		}
		result[i] = value
	}
	return result, nil
}

func resolveDimension(dim string, consts map[string]uint32) (uint32, error) {
	literal := strings.TrimRight(dim, "ui")
	if v, err := strconv.ParseUint(literal, 10, 32); err == nil {
		if v == 0 {
			return 0, fmt.Errorf("workgroup size dimension %q must be positive", dim)
		}
		return uint32(v), nil
	}
	v, ok := consts[dim]
	if !ok {
		return 0, fmt.Errorf("workgroup size dimension %q is not a known constant", dim)
	}
	if v == 0 {
		return 0, fmt.Errorf("workgroup size constant %s must be positive", dim)
	}
	return v, nil
}

// parseEntryPoint extracts the @compute entry point function name from WGSL source.
// Returns an empty string if no compute entry point is found.
//
// Parameters:
//   - source: the WGSL source code string
//
// Returns:
//   - string: the entry point function name, or empty string if not found
func parseEntryPoint(source string) string {
	if match := computeEntryRegex.FindStringSubmatch(stripComments(source)); match != nil {
		return match[1]
	}
	return ""
}

// parseStructBlocks finds all struct { ... } blocks in the cleaned WGSL source and parses their fields
//
// Parameters:
//   - source: WGSL source with comments already stripped
//
// Returns:
//   - []structDecl: all struct blocks found in the source
func parseStructBlocks(source string) []structDecl {
	matches := structBlockRegex.FindAllStringSubmatch(source, -1)
	structs := make([]structDecl, 0, len(matches))

	for _, match := range matches {
		structs = append(structs, structDecl{
			name:   match[1],
			fields: parseStructFields(match[2]),
		})
	}

	return structs
}

// parseStructFields parses the body of a struct block into individual fields
//
// Parameters:
//   - body: the content between { and } of a struct declaration
//
// Returns:
//   - []structField: all fields found in the struct body
func parseStructFields(body string) []structField {
	lines := splitAtTopLevelCommas(body)
	fields := make([]structField, 0, len(lines))

	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		fm := fieldRegex.FindStringSubmatch(line)
		if fm == nil {
			continue
		}
		fields = append(fields, structField{
			name:      fm[1],
			typeName:  strings.TrimSpace(fm[2]),
			isBuiltin: builtinRegex.MatchString(line),
		})
	}

	return fields
}
