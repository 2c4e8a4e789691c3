package storage

// NoShader is the shader name meaning "no effect active"
const NoShader = "None"

// UnknownApp is the application id/name used before the host reports one
const UnknownApp = "Unknown"

// AppContext identifies the foreground application whose profile is active
type AppContext struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// DefaultAppContext returns the context used until the host reports an app
func DefaultAppContext() AppContext {
	return AppContext{ID: UnknownApp, Name: UnknownApp}
}

// Profile is the per-application shader state stored in config.json
type Profile struct {
	AppName   string  `json:"appname"`
	Enabled   bool    `json:"enabled"`
	Current   string  `json:"current"`   // Shader file name or NoShader
	Contrast  float64 `json:"contrast"`  // CAS Contrast uniform
	Sharpness float64 `json:"sharpness"` // CAS Sharpness uniform
}

// DefaultProfile returns the profile used for an application with no
// stored entry. Fields missing from a stored entry also take these values.
func DefaultProfile() Profile {
	return Profile{
		Enabled:   false,
		Current:   NoShader,
		Contrast:  0.0,
		Sharpness: 1.0,
	}
}
