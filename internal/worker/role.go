// Package worker dispatches units of work to external worker CLIs, alone or
// as a team, with one retry and escalation on repeated failure.
package worker

import "fmt"

// Role is the capability a worker is dispatched with. The set is closed.
type Role string

const (
	Implementer     Role = "implementer"
	SpecReviewer    Role = "spec_reviewer"
	QualityReviewer Role = "quality_reviewer"
	Explorer        Role = "explorer"
	Architect       Role = "architect"
	Scaffolder      Role = "scaffolder"
	Deployer        Role = "deployer"
	TestEngineer    Role = "test_engineer"
)

// Roles lists every role.
func Roles() []Role {
	return []Role{Implementer, SpecReviewer, QualityReviewer, Explorer, Architect, Scaffolder, Deployer, TestEngineer}
}

// ParseRole validates a role name.
func ParseRole(s string) (Role, error) {
	for _, r := range Roles() {
		if string(r) == s {
			return r, nil
		}
	}
	return "", fmt.Errorf("unknown worker role %q", s)
}
