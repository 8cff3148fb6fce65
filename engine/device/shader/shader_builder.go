package shader

// ShaderBuilderOption is a functional option for configuring a Shader before its source is parsed.
type ShaderBuilderOption func(*shader)

// WithDefine supplies the value of an @oxy:define constant.
//
// Parameters:
//   - name: the constant name as written in the annotation
//   - value: the u32 value to emit
//
// Returns:
//   - ShaderBuilderOption: a function that applies the define to the shader
func WithDefine(name string, value uint32) ShaderBuilderOption {
	return func(s *shader) {
		s.defines[name] = value
	}
}

// WithDefines supplies several @oxy:define values at once.
//
// Parameters:
//   - defines: constant values keyed by name
//
// Returns:
//   - ShaderBuilderOption: a function that applies the defines to the shader
func WithDefines(defines map[string]uint32) ShaderBuilderOption {
	return func(s *shader) {
		for k, v := range defines {
			s.defines[k] = v
		}
	}
}
