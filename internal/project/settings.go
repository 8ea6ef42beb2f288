package project

// Setting keys understood by skip rules and clarification answers.
const (
	KeyProjectType    = "project_type"
	KeyDeployTarget   = "deploy_target"
	KeyVersionControl = "version_control"
)

// Setting values with special meaning to the phase controller.
const (
	ProjectNew      = "new"
	ProjectExisting = "existing"
	DeploySkip      = "skip"
	VCSManaged      = "git"
	VCSUnmanaged    = "unmanaged"
)

// Settings are the run-wide parameters decided during Setup.
type Settings struct {
	Request        string
	ProjectType    string
	DeployTarget   string
	VersionControl string
}

// Get returns a setting by key, or "" for unknown keys.
func (s Settings) Get(key string) string {
	switch key {
	case KeyProjectType:
		return s.ProjectType
	case KeyDeployTarget:
		return s.DeployTarget
	case KeyVersionControl:
		return s.VersionControl
	}
	return ""
}

// Set assigns a setting by key. It returns false for unknown keys.
func (s *Settings) Set(key, value string) bool {
	switch key {
	case KeyProjectType:
		s.ProjectType = value
	case KeyDeployTarget:
		s.DeployTarget = value
	case KeyVersionControl:
		s.VersionControl = value
	default:
		return false
	}
	return true
}

// merge fills empty fields of s from o.
func (s Settings) merge(o Settings) Settings {
	if s.ProjectType == "" {
		s.ProjectType = o.ProjectType
	}
	if s.DeployTarget == "" {
		s.DeployTarget = o.DeployTarget
	}
	if s.VersionControl == "" {
		s.VersionControl = o.VersionControl
	}
	return s
}

// Rule is a data-driven predicate over Settings: it holds when the named
// setting equals the given value.
type Rule struct {
	Setting string
	Equals  string
}

// Match reports whether the rule holds for s.
func (r Rule) Match(s Settings) bool {
	return s.Get(r.Setting) == r.Equals
}

// AnyMatch reports whether at least one rule holds.
func AnyMatch(rules []Rule, s Settings) bool {
	for _, r := range rules {
		if r.Match(s) {
			return true
		}
	}
	return false
}
