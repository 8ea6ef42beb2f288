package project

// PhaseID identifies one of the ten fixed work phases, in execution order.
type PhaseID int

const (
	Setup PhaseID = iota
	Explore
	Requirements
	Design
	Plan
	Scaffold
	Implement
	Test
	Review
	Deploy
)

// PhaseCount is the number of phases in a run.
const PhaseCount = 10

var phaseNames = [PhaseCount]string{
	"setup", "explore", "requirements", "design", "plan",
	"scaffold", "implement", "test", "review", "deploy",
}

func (p PhaseID) String() string {
	if !p.Valid() {
		return "unknown"
	}
	return phaseNames[p]
}

// ParsePhase looks a phase up by name.
func ParsePhase(name string) (PhaseID, bool) {
	for i, n := range phaseNames {
		if n == name {
			return PhaseID(i), true
		}
	}
	return 0, false
}

// Valid reports whether p is one of the ten phases.
func (p PhaseID) Valid() bool {
	return p >= Setup && p <= Deploy
}

// Section is a named slice of the shared project record.
type Section int

const (
	SectionSetup Section = iota
	SectionRequirements
	SectionDesign
	SectionPlan
	SectionImplementation
	SectionTesting
	SectionReview
	SectionDeployment
)

var sectionNames = [...]string{
	"setup", "requirements", "design", "plan",
	"implementation", "testing", "review", "deployment",
}

func (s Section) String() string {
	if s < SectionSetup || s > SectionDeployment {
		return "unknown"
	}
	return sectionNames[s]
}

// OwnerSection returns the section a phase writes into.
func OwnerSection(p PhaseID) Section {
	switch p {
	case Setup, Explore:
		return SectionSetup
	case Requirements:
		return SectionRequirements
	case Design:
		return SectionDesign
	case Plan:
		return SectionPlan
	case Scaffold, Implement:
		return SectionImplementation
	case Test:
		return SectionTesting
	case Review:
		return SectionReview
	default:
		return SectionDeployment
	}
}
