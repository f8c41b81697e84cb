package prompt

// ChainKey is the reserved binding under which stage n's output is made
// available to stage n+1 in a sequence. The output also replaces the "text"
// binding so that templates written against {text} chain without changes.
const ChainKey = "previous_output"

// Stage is one resolved step of a session.
type Stage struct {
	Name     string
	Resolved string
}

// Session is an ordered sequence of templates plus the bindings threaded
// through them. It is ephemeral and scoped to a single multi-stage analysis.
type Session struct {
	lib      *Library
	names    []string
	bindings map[string]string
	idx      int
	stages   []Stage
}

// NewSession validates that every named template exists and returns a session
// positioned at the first stage. The bindings map is copied.
func NewSession(lib *Library, names []string, bindings map[string]string) (*Session, error) {
	for _, name := range names {
		if _, ok := lib.Get(name); !ok {
			return nil, promptNotFoundError{name: name}
		}
	}
	b := make(map[string]string, len(bindings))
	for k, v := range bindings {
		b[k] = v
	}
	return &Session{lib: lib, names: names, bindings: b}, nil
}

// Len returns the number of stages in the session.
func (s *Session) Len() int { return len(s.names) }

// Done reports whether every stage has been resolved.
func (s *Session) Done() bool { return s.idx >= len(s.names) }

// Current resolves the template at the session cursor without advancing it.
func (s *Session) Current() (Stage, error) {
	if s.Done() {
		return Stage{}, promptNotFoundError{name: "(exhausted sequence)"}
	}
	name := s.names[s.idx]
	resolved, err := s.lib.Resolve(name, s.bindings)
	if err != nil {
		return Stage{}, err
	}
	return Stage{Name: name, Resolved: resolved}, nil
}

// Advance records the output of the current stage and moves the cursor. The
// output becomes available to later stages under ChainKey and as "text".
func (s *Session) Advance(stage Stage, output string) {
	s.stages = append(s.stages, stage)
	s.bindings[ChainKey] = output
	s.bindings["text"] = output
	s.idx++
}

// Stages returns the stages resolved so far, in order.
func (s *Session) Stages() []Stage {
	out := make([]Stage, len(s.stages))
	copy(out, s.stages)
	return out
}

// ResolveSequence resolves each named template in order without executing
// anything; each stage's resolved string is threaded to the next one as its
// chained output. Used where the caller has no model in the loop.
func ResolveSequence(lib *Library, names []string, bindings map[string]string) ([]Stage, error) {
	s, err := NewSession(lib, names, bindings)
	if err != nil {
		return nil, err
	}
	for !s.Done() {
		stage, err := s.Current()
		if err != nil {
			return nil, err
		}
		s.Advance(stage, stage.Resolved)
	}
	return s.Stages(), nil
}
