// Package project holds the shared record threaded through every phase of a
// run. A phase may only read what strictly earlier phases (or itself) wrote,
// and only write into the section it owns.
package project

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"sort"
	"strings"
	"unicode"
)

var (
	// ErrSectionNotOwned is returned when a phase writes into a section it does not own.
	ErrSectionNotOwned = errors.New("phase does not own section")
	// ErrInputsNotFinal is returned when a phase writes before its inputs are finalized.
	ErrInputsNotFinal = errors.New("inputs from earlier phases are not finalized")
	// ErrFinalized is returned when a finalized entry is written again.
	ErrFinalized = errors.New("entry already finalized")
)

// Entry is one phase's contribution to its section.
type Entry struct {
	Phase     PhaseID
	Summary   string
	Narrative string
	Items     []string
	Files     []string
	Facts     map[string]string
	Finalized bool
}

func (e Entry) clone() Entry {
	e.Items = slices.Clone(e.Items)
	e.Files = slices.Clone(e.Files)
	e.Facts = maps.Clone(e.Facts)
	return e
}

// State is the shared project record. It is owned by a single coordinating
// goroutine and is not safe for concurrent use.
type State struct {
	preset   Settings
	settings Settings
	entries  map[PhaseID]*Entry
	skipped  map[PhaseID]bool
}

// New creates a state for a request. Non-empty preset fields win over
// anything Setup later decides.
func New(preset Settings) *State {
	return &State{
		preset:   preset,
		settings: preset,
		entries:  make(map[PhaseID]*Entry),
		skipped:  make(map[PhaseID]bool),
	}
}

// Settings returns the current run settings.
func (s *State) Settings() Settings { return s.settings }

// ApplyFacts derives settings from facts reported during Setup. Preset
// values are never overridden.
func (s *State) ApplyFacts(facts map[string]string) {
	var derived Settings
	for k, v := range facts {
		derived.Set(k, strings.TrimSpace(strings.ToLower(v)))
	}
	next := s.preset.merge(derived)
	next.Request = s.preset.Request
	s.settings = next
}

// SetSetup records the setup section contribution of Setup or Explore.
func (s *State) SetSetup(p PhaseID, e Entry) error { return s.set(SectionSetup, p, e) }

// SetRequirements records the requirements section.
func (s *State) SetRequirements(p PhaseID, e Entry) error {
	return s.set(SectionRequirements, p, e)
}

// SetDesign records the design section.
func (s *State) SetDesign(p PhaseID, e Entry) error { return s.set(SectionDesign, p, e) }

// SetPlan records the plan section.
func (s *State) SetPlan(p PhaseID, e Entry) error { return s.set(SectionPlan, p, e) }

// SetImplementation records the implementation section of Scaffold or Implement.
func (s *State) SetImplementation(p PhaseID, e Entry) error {
	return s.set(SectionImplementation, p, e)
}

// SetTesting records the testing section.
func (s *State) SetTesting(p PhaseID, e Entry) error { return s.set(SectionTesting, p, e) }

// SetReview records the review section.
func (s *State) SetReview(p PhaseID, e Entry) error { return s.set(SectionReview, p, e) }

// SetDeployment records the deployment section.
func (s *State) SetDeployment(p PhaseID, e Entry) error { return s.set(SectionDeployment, p, e) }

func (s *State) set(sec Section, p PhaseID, e Entry) error {
	if !p.Valid() {
		return fmt.Errorf("invalid phase %d", p)
	}
	if OwnerSection(p) != sec {
		return fmt.Errorf("%s writing %s: %w", p, sec, ErrSectionNotOwned)
	}
	for q := Setup; q < p; q++ {
		if s.skipped[q] {
			continue
		}
		if prev, ok := s.entries[q]; !ok || !prev.Finalized {
			return fmt.Errorf("%s writing %s, %s pending: %w", p, sec, q, ErrInputsNotFinal)
		}
	}
	if cur, ok := s.entries[p]; ok && cur.Finalized {
		return fmt.Errorf("%s: %w", p, ErrFinalized)
	}
	e = e.clone()
	e.Phase = p
	e.Finalized = false
	s.entries[p] = &e
	return nil
}

// Finalize marks a phase's entry as final. It is called once the phase's
// checkpoint approves, or once every implementation task completes.
func (s *State) Finalize(p PhaseID) error {
	e, ok := s.entries[p]
	if !ok {
		return fmt.Errorf("%s has no entry to finalize", p)
	}
	e.Finalized = true
	return nil
}

// Discard drops a phase's draft entry after a checkpoint rejection.
func (s *State) Discard(p PhaseID) {
	if e, ok := s.entries[p]; ok && !e.Finalized {
		delete(s.entries, p)
	}
}

// MarkSkipped records that a phase was skipped by its skip rule.
func (s *State) MarkSkipped(p PhaseID) { s.skipped[p] = true }

// Skipped reports whether a phase was skipped.
func (s *State) Skipped(p PhaseID) bool { return s.skipped[p] }

// Entry returns a copy of a phase's entry.
func (s *State) Entry(p PhaseID) (Entry, bool) {
	e, ok := s.entries[p]
	if !ok {
		return Entry{}, false
	}
	return e.clone(), true
}

// Read returns the entries of a section visible to reader: finalized entries
// from strictly earlier phases, plus reader's own draft.
func (s *State) Read(reader PhaseID, sec Section) []Entry {
	var out []Entry
	for q := Setup; q <= reader && q.Valid(); q++ {
		if OwnerSection(q) != sec {
			continue
		}
		e, ok := s.entries[q]
		if !ok {
			continue
		}
		if q == reader || e.Finalized {
			out = append(out, e.clone())
		}
	}
	return out
}

// Context renders everything reader may see as worker input.
func (s *State) Context(reader PhaseID) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Request: %s\n", s.settings.Request)
	for _, key := range []string{KeyProjectType, KeyDeployTarget, KeyVersionControl} {
		if v := s.settings.Get(key); v != "" {
			fmt.Fprintf(&b, "%s: %s\n", key, v)
		}
	}
	for sec := SectionSetup; sec <= SectionDeployment; sec++ {
		entries := s.Read(reader, sec)
		for _, e := range entries {
			if e.Phase == reader {
				continue
			}
			fmt.Fprintf(&b, "\n## %s (%s)\n", sec, e.Phase)
			if e.Summary != "" {
				b.WriteString(e.Summary)
				b.WriteString("\n")
			}
			if e.Narrative != "" {
				b.WriteString(e.Narrative)
				b.WriteString("\n")
			}
			for _, it := range e.Items {
				fmt.Fprintf(&b, "- %s\n", it)
			}
		}
	}
	return b.String()
}

// Answer resolves a clarification question from known settings and finalized
// facts. The second result is false when the state cannot answer.
func (s *State) Answer(question string) (string, bool) {
	words := tokens(question)
	known := map[string]string{}
	for _, e := range s.entries {
		if !e.Finalized {
			continue
		}
		for k, v := range e.Facts {
			known[strings.ToLower(k)] = v
		}
	}
	for _, key := range []string{KeyProjectType, KeyDeployTarget, KeyVersionControl} {
		if v := s.settings.Get(key); v != "" {
			known[key] = v
		}
	}
	keys := make([]string, 0, len(known))
	for k := range known {
		keys = append(keys, k)
	}
	// Longest key first so "deploy_target_region" beats "deploy_target".
	sort.Slice(keys, func(i, j int) bool {
		if len(keys[i]) != len(keys[j]) {
			return len(keys[i]) > len(keys[j])
		}
		return keys[i] < keys[j]
	})
	for _, k := range keys {
		if containsRun(words, tokens(k)) {
			return known[k], true
		}
	}
	return "", false
}

// tokens lowercases s and splits it into words. Underscores separate words,
// so "deploy_target" and "deploy target" yield the same tokens.
func tokens(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// containsRun reports whether want occurs in words as a contiguous run.
func containsRun(words, want []string) bool {
	if len(want) == 0 {
		return false
	}
	for i := 0; i+len(want) <= len(words); i++ {
		if slices.Equal(words[i:i+len(want)], want) {
			return true
		}
	}
	return false
}
