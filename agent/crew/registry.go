package crew

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"

	contractx "github.com/tanpawarit/crewflow/agent/contract"
)

// Snapshot is the immutable view of one agent's crews that a turn captures at
// its start. Hot swaps install a fresh snapshot; a captured one never changes.
type Snapshot struct {
	agentName   string
	crews       map[string]*Definition
	defaultCrew string
	version     uint64
}

func (s *Snapshot) AgentName() string { return s.agentName }

func (s *Snapshot) DefaultCrew() string { return s.defaultCrew }

// Version increases by one on every swap; useful for log correlation.
func (s *Snapshot) Version() uint64 { return s.version }

// Resolve returns the named crew definition.
func (s *Snapshot) Resolve(crewName string) (*Definition, error) {
	def, ok := s.crews[crewName]
	if !ok {
		return nil, fmt.Errorf("%w: agent=%s has no crew=%s", contractx.ErrConfiguration, s.agentName, crewName)
	}
	return def, nil
}

// CrewNames returns the names of all registered crews, unordered.
func (s *Snapshot) CrewNames() []string {
	names := make([]string, 0, len(s.crews))
	for name := range s.crews {
		names = append(names, name)
	}
	return names
}

// Registry maps agent names to their crew snapshots and supports replacing a
// single definition while conversations are in flight. Swaps go through an
// atomic pointer: a turn that captured its snapshot before the swap finishes
// on the old definitions, only later turns observe the new one.
type Registry struct {
	mu     sync.Mutex // serializes Load and HotSwap per registry
	agents sync.Map   // agent name -> *atomic.Pointer[Snapshot]
}

func NewRegistry() *Registry {
	return &Registry{}
}

// Load validates defs as a complete crew graph and installs it for agentName,
// replacing any previous graph wholesale.
func (r *Registry) Load(agentName string, defs []*Definition) error {
	agentName = strings.TrimSpace(agentName)
	if agentName == "" {
		return fmt.Errorf("%w: agent name is empty", contractx.ErrConfiguration)
	}

	crews, defaultCrew, err := buildGraph(agentName, defs)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	ptr := r.pointerFor(agentName)
	var version uint64 = 1
	if prev := ptr.Load(); prev != nil {
		version = prev.version + 1
	}
	ptr.Store(&Snapshot{
		agentName:   agentName,
		crews:       crews,
		defaultCrew: defaultCrew,
		version:     version,
	})

	log.Info().
		Str("agent", agentName).
		Int("crews", len(crews)).
		Str("default_crew", defaultCrew).
		Msg("crew graph loaded")
	return nil
}

// Snapshot returns the current immutable snapshot for agentName.
func (r *Registry) Snapshot(agentName string) (*Snapshot, error) {
	value, ok := r.agents.Load(agentName)
	if !ok {
		return nil, fmt.Errorf("%w: agent=%s is not loaded", contractx.ErrConfiguration, agentName)
	}
	snap := value.(*atomic.Pointer[Snapshot]).Load()
	if snap == nil {
		return nil, fmt.Errorf("%w: agent=%s is not loaded", contractx.ErrConfiguration, agentName)
	}
	return snap, nil
}

// Resolve is a convenience for callers outside the turn flow; turns should
// capture a Snapshot once and resolve against it.
func (r *Registry) Resolve(agentName, crewName string) (*Definition, error) {
	snap, err := r.Snapshot(agentName)
	if err != nil {
		return nil, err
	}
	return snap.Resolve(crewName)
}

// HotSwap replaces exactly one crew's definition. The resulting graph is
// re-validated before the swap becomes visible, so a swap can never leave the
// agent with a dangling transition or a broken default. Collected fields and
// context-store contents are untouched.
func (r *Registry) HotSwap(agentName, crewName string, def *Definition) error {
	if def == nil {
		return fmt.Errorf("%w: replacement definition is nil", contractx.ErrConfiguration)
	}
	if def.Name != crewName {
		return fmt.Errorf("%w: replacement name=%q does not match crew=%q", contractx.ErrConfiguration, def.Name, crewName)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	value, ok := r.agents.Load(agentName)
	if !ok {
		return fmt.Errorf("%w: agent=%s is not loaded", contractx.ErrConfiguration, agentName)
	}
	ptr := value.(*atomic.Pointer[Snapshot])
	prev := ptr.Load()
	if prev == nil {
		return fmt.Errorf("%w: agent=%s is not loaded", contractx.ErrConfiguration, agentName)
	}
	if _, exists := prev.crews[crewName]; !exists {
		return fmt.Errorf("%w: agent=%s has no crew=%s to swap", contractx.ErrConfiguration, agentName, crewName)
	}

	next := make([]*Definition, 0, len(prev.crews))
	for name, existing := range prev.crews {
		if name == crewName {
			next = append(next, def)
		} else {
			next = append(next, existing)
		}
	}

	crews, defaultCrew, err := buildGraph(agentName, next)
	if err != nil {
		return err
	}

	ptr.Store(&Snapshot{
		agentName:   agentName,
		crews:       crews,
		defaultCrew: defaultCrew,
		version:     prev.version + 1,
	})

	log.Info().
		Str("agent", agentName).
		Str("crew", crewName).
		Uint64("version", prev.version+1).
		Msg("crew definition hot-swapped")
	return nil
}

func (r *Registry) pointerFor(agentName string) *atomic.Pointer[Snapshot] {
	value, _ := r.agents.LoadOrStore(agentName, &atomic.Pointer[Snapshot]{})
	return value.(*atomic.Pointer[Snapshot])
}

func buildGraph(agentName string, defs []*Definition) (map[string]*Definition, string, error) {
	if len(defs) == 0 {
		return nil, "", fmt.Errorf("%w: agent=%s has no crews", contractx.ErrConfiguration, agentName)
	}

	crews := make(map[string]*Definition, len(defs))
	defaultCrew := ""
	for _, def := range defs {
		if err := def.Validate(); err != nil {
			return nil, "", err
		}
		if _, dup := crews[def.Name]; dup {
			return nil, "", fmt.Errorf("%w: agent=%s duplicate crew=%s", contractx.ErrConfiguration, agentName, def.Name)
		}
		crews[def.Name] = def
		if def.Default {
			if defaultCrew != "" {
				return nil, "", fmt.Errorf("%w: agent=%s has more than one default crew (%s, %s)",
					contractx.ErrConfiguration, agentName, defaultCrew, def.Name)
			}
			defaultCrew = def.Name
		}
	}
	if defaultCrew == "" {
		return nil, "", fmt.Errorf("%w: agent=%s has no default crew", contractx.ErrConfiguration, agentName)
	}

	for _, def := range crews {
		if def.Terminal() {
			continue
		}
		if _, ok := crews[def.TransitionTo]; !ok {
			return nil, "", fmt.Errorf("%w: agent=%s crew=%s transitions to unknown crew=%s",
				contractx.ErrConfiguration, agentName, def.Name, def.TransitionTo)
		}
	}

	return crews, defaultCrew, nil
}
