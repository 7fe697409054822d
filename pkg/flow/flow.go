// Package flow handles parsing and representation of YAML test plans.
package flow

// Flow represents a parsed test plan.
type Flow struct {
	SourcePath string // Path to the source file
	Config     Config // Plan configuration (name, platform, tags)
	Steps      []Step // Steps to execute, in order
}

// Config represents plan-level configuration.
type Config struct {
	Name     string   `yaml:"name"`
	Platform string   `yaml:"platform"` // web, android, ios
	URL      string   `yaml:"url"`      // Start page for web plans
	AppID    string   `yaml:"appId"`
	Tags     []string `yaml:"tags"`
	Timeout  int      `yaml:"timeout"` // Plan timeout in ms
	// Screen is the screen label used when the driver cannot name the screen.
	Screen string `yaml:"screen"`
}

// DisplayName returns the plan name, falling back to the source path.
func (f *Flow) DisplayName() string {
	if f.Config.Name != "" {
		return f.Config.Name
	}
	return f.SourcePath
}
