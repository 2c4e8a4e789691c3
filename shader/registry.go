package shader

// UniformInfo describes a tunable float uniform of a shader
type UniformInfo struct {
	Name    string  // Uniform identifier in the shader source
	Min     float64 // Lowest value accepted from clients
	Max     float64 // Highest value accepted from clients
	Default float64
}

// TunableInfo describes the shader whose uniforms are patched in place
type TunableInfo struct {
	File     string // File name in the live shader directory
	Uniforms []UniformInfo
}

// Uniform names patched in the tunable shader
const (
	UniformContrast  = "Contrast"
	UniformSharpness = "Sharpness"
)

// CAS is AMD FidelityFX Contrast Adaptive Sharpening, the shader whose
// Contrast and Sharpness uniforms are exposed to the user.
var CAS = TunableInfo{
	File: "CAS.fx",
	Uniforms: []UniformInfo{
		{Name: UniformContrast, Min: 0, Max: 2, Default: 0},
		{Name: UniformSharpness, Min: 0, Max: 2, Default: 1},
	},
}

// Tunable returns CAS with its file name replaced by file.
// An empty file keeps the default name.
func Tunable(file string) TunableInfo {
	t := CAS
	if file != "" {
		t.File = file
	}
	return t
}

// Uniform returns the info for the named uniform
func (t TunableInfo) Uniform(name string) (UniformInfo, bool) {
	for _, u := range t.Uniforms {
		if u.Name == name {
			return u, true
		}
	}
	return UniformInfo{}, false
}

// InRange reports whether v is within the uniform's accepted range
func (u UniformInfo) InRange(v float64) bool {
	return v >= u.Min && v <= u.Max
}
