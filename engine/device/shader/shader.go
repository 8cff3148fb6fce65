package shader

import (
	"fmt"
	"os"

	"github.com/cogentcore/webgpu/wgpu"
)

// shader is the implementation of the Shader interface.
// It holds all of the persistent kernel data required for pipeline creation and resource binding.
type shader struct {
	key                        string
	source                     string
	bindGroupLayoutDescriptors map[int]wgpu.BindGroupLayoutDescriptor
	bindingVarNames            map[int]map[int]string
	workGroupSize              [3]uint32
	entryPoint                 string
	module                     *wgpu.ShaderModuleDescriptor
	defines                    map[string]uint32

	pp PreProcessor
}

// Shader defines the interface for a loaded and parsed WGSL compute kernel. It exposes the
// kernel's unique key, processed source, entry point, bind group layout descriptors, workgroup
// size, and pre-processor declarations needed for pipeline creation and resource wiring.
type Shader interface {
	// Key retrieves the unique identifier for this kernel, used for caching and lookups.
	//
	// Returns:
	//   - string: the kernel's unique key
	Key() string

	// Source retrieves the pre-processed WGSL source code.
	//
	// Returns:
	//   - string: the WGSL source code of the kernel
	Source() string

	// BindGroupLayoutDescriptor retrieves the bind group layout descriptor for a group index.
	//
	// Parameters:
	//   - group: the bind group index
	//
	// Returns:
	//   - wgpu.BindGroupLayoutDescriptor: the descriptor for the group, or an empty descriptor if not declared
	BindGroupLayoutDescriptor(group int) wgpu.BindGroupLayoutDescriptor

	// BindGroupLayoutDescriptors retrieves all parsed bind group layout descriptors.
	// These are the CPU-side descriptors extracted from the kernel source which the device
	// uses to create the actual layout and buffer objects.
	//
	// Returns:
	//   - map[int]wgpu.BindGroupLayoutDescriptor: descriptors keyed by group index
	BindGroupLayoutDescriptors() map[int]wgpu.BindGroupLayoutDescriptor

	// BindGroupVarName retrieves the variable name for a given group and binding index, if it exists.
	//
	// Parameters:
	//   - group: the bind group index
	//   - binding: the binding index within the group
	//
	// Returns:
	//   - string: the variable name, or an empty string if not found
	BindGroupVarName(group, binding int) string

	// BindGroupFromVarName retrieves the binding index for a given group and variable name, if it exists.
	//
	// Parameters:
	//   - group: the bind group index
	//   - varName: the variable name within the group
	//
	// Returns:
	//   - int: the binding index, or -1 if not found
	//   - bool: true if the variable name was found
	BindGroupFromVarName(group int, varName string) (int, bool)

	// BindGroupVarNames retrieves all variable names for all bind groups.
	//
	// Returns:
	//   - map[int]map[int]string: variable names keyed by group and binding index
	BindGroupVarNames() map[int]map[int]string

	// EntryPoint returns the @compute entry point name for this kernel.
	//
	// Returns:
	//   - string: the entry point name (e.g. "sort_main")
	EntryPoint() string

	// WorkgroupSize returns the workgroup size dimensions, [1, 1, 1] when @workgroup_size is absent.
	//
	// Returns:
	//   - [3]uint32: the workgroup size as [x, y, z]
	WorkgroupSize() [3]uint32

	// Module returns the wgpu.ShaderModuleDescriptor for this kernel.
	//
	// Returns:
	//   - *wgpu.ShaderModuleDescriptor: the module descriptor containing the WGSL code and label
	Module() *wgpu.ShaderModuleDescriptor

	// Declarations returns the group and provider annotations parsed from the kernel source.
	// The sort resource set matches these to its buffers.
	//
	// Returns:
	//   - []Annotation: bind group declarations and providers in source order
	Declarations() []Annotation

	// Defines returns the values injected for @oxy:define constants.
	//
	// Returns:
	//   - map[string]uint32: constant values keyed by name
	Defines() map[string]uint32
}

var _ Shader = &shader{}

// NewShader creates a new Shader from WGSL source with all specified options applied.
// The source is pre-processed, then parsed for its entry point, workgroup size and bind group layouts.
//
// Parameters:
//   - key: a unique identifier for the kernel, used for caching and lookups
//   - source: the raw WGSL source, possibly containing @oxy: annotations
//   - options: functional options such as WithDefine
//
// Returns:
//   - Shader: the parsed kernel
//   - error: an error if pre-processing or parsing fails
func NewShader(key string, source string, options ...ShaderBuilderOption) (Shader, error) {
	s := &shader{
		key:                        key,
		bindGroupLayoutDescriptors: make(map[int]wgpu.BindGroupLayoutDescriptor),
		bindingVarNames:            make(map[int]map[int]string),
		defines:                    make(map[string]uint32),
	}
	for _, opt := range options {
		opt(s)
	}
	s.pp = NewPreProcessor(s.defines)
	if err := s.parseSource(source); err != nil {
		return nil, fmt.Errorf("shader %s: %w", key, err)
	}
	return s, nil
}

// NewShaderFromPath reads WGSL source from a file and creates a Shader from it.
//
// Parameters:
//   - key: a unique identifier for the kernel
//   - path: the file path to read WGSL source from
//   - options: functional options such as WithDefine
//
// Returns:
//   - Shader: the parsed kernel
//   - error: an error if the file cannot be read or the source fails to parse
func NewShaderFromPath(key string, path string, options ...ShaderBuilderOption) (Shader, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("shader %s: failed to read source file %q: %w", key, path, err)
	}
	return NewShader(key, string(data), options...)
}

func (s *shader) Key() string {
	return s.key
}

func (s *shader) Source() string {
	return s.source
}

func (s *shader) EntryPoint() string {
	return s.entryPoint
}

func (s *shader) WorkgroupSize() [3]uint32 {
	return s.workGroupSize
}

func (s *shader) BindGroupLayoutDescriptor(group int) wgpu.BindGroupLayoutDescriptor {
	return s.bindGroupLayoutDescriptors[group]
}

func (s *shader) BindGroupLayoutDescriptors() map[int]wgpu.BindGroupLayoutDescriptor {
	return s.bindGroupLayoutDescriptors
}

func (s *shader) BindGroupVarName(group, binding int) string {
	if s.bindingVarNames[group] == nil {
		return ""
	}
	return s.bindingVarNames[group][binding]
}

func (s *shader) BindGroupFromVarName(group int, varName string) (int, bool) {
	if s.bindingVarNames[group] == nil {
		return -1, false
	}
	for binding, name := range s.bindingVarNames[group] {
		if name == varName {
			return binding, true
		}
	}
	return -1, false
}

func (s *shader) BindGroupVarNames() map[int]map[int]string {
	return s.bindingVarNames
}

func (s *shader) Module() *wgpu.ShaderModuleDescriptor {
	return s.module
}

func (s *shader) Declarations() []Annotation {
	return s.pp.Declarations()
}

func (s *shader) Defines() map[string]uint32 {
	return s.pp.Defines()
}

// parseSource pre-processes the WGSL source, builds the shader module descriptor, and
// extracts the entry point, workgroup size and bind group layouts.
func (s *shader) parseSource(raw string) error {
	var err error
	s.source, err = s.pp.Process(raw)
	if err != nil {
		return fmt.Errorf("failed to pre-process source: %w", err)
	}
	s.module = &wgpu.ShaderModuleDescriptor{
		Label: s.key,
		WGSLDescriptor: &wgpu.ShaderModuleWGSLDescriptor{
			Code: s.source,
		},
	}
	s.entryPoint = parseEntryPoint(s.source)
	if s.entryPoint == "" {
		return fmt.Errorf("no @compute entry point found")
	}
	if s.workGroupSize, err = parseWorkgroupSize(s.source); err != nil {
		return err
	}
	s.bindGroupLayoutDescriptors, s.bindingVarNames, err = parseBindGroupLayouts(s.source)
	return err
}
