package detector

import (
	"fmt"
)

// Backend selects the detector implementation
type Backend string

const (
	BackendCascade Backend = "cascade"
	BackendPigo    Backend = "pigo"
	BackendSCRFD   Backend = "scrfd"
)

// Backends returns every supported backend
func Backends() []Backend {
	return []Backend{BackendCascade, BackendPigo, BackendSCRFD}
}

// Supports reports whether the backend has a model for the kind.
// pigo and SCRFD only find frontal faces.
func (b Backend) Supports(k Kind) bool {
	switch b {
	case BackendCascade:
		return true
	case BackendPigo, BackendSCRFD:
		return k == Frontal
	default:
		return false
	}
}

// ParseBackend validates a backend name
func ParseBackend(s string) (Backend, error) {
	for _, b := range Backends() {
		if string(b) == s {
			return b, nil
		}
	}
	return "", fmt.Errorf("unknown detector backend: %q (use cascade, pigo or scrfd)", s)
}

// ModelSpec names the model file of one kind and the backend that reads it
type ModelSpec struct {
	Backend Backend
	Path    string
}

// Loader builds fresh, private detector instances.
// Every Load call reads its model again so that no two callers share state.
type Loader struct {
	Models  map[Kind]ModelSpec
	Cascade CascadeParams
	Pigo    PigoParams
	SCRFD   SCRFDParams
}

// NewLoader maps every kind to a model. Kinds the backend cannot serve use
// the Haar cascade at fallback[kind].
func NewLoader(backend Backend, models map[Kind]string, fallback map[Kind]string) (*Loader, error) {
	l := &Loader{Models: map[Kind]ModelSpec{}}
	for _, k := range Kinds() {
		spec := ModelSpec{Backend: backend, Path: models[k]}
		if !backend.Supports(k) {
			spec = ModelSpec{Backend: BackendCascade, Path: fallback[k]}
		}
		if spec.Path == "" {
			return nil, fmt.Errorf("%w: no %s model configured for the %s backend", ErrModelLoad, k, spec.Backend)
		}
		l.Models[k] = spec
	}
	return l, nil
}

// Load returns a new detector for kind
func (l *Loader) Load(kind Kind) (Detector, error) {
	spec, ok := l.Models[kind]
	if !ok {
		return nil, fmt.Errorf("%w: no model for %s", ErrModelLoad, kind)
	}

	switch spec.Backend {
	case BackendCascade:
		// the stock profile cascade only knows faces turned one way
		return NewCascade(spec.Path, l.Cascade, kind == Profile)
	case BackendPigo:
		return NewPigo(spec.Path, l.Pigo)
	case BackendSCRFD:
		return NewSCRFD(spec.Path, l.SCRFD)
	default:
		return nil, fmt.Errorf("%w: unknown backend %q", ErrModelLoad, spec.Backend)
	}
}

// UsesBackend reports whether any kind is served by b
func (l *Loader) UsesBackend(b Backend) bool {
	for _, spec := range l.Models {
		if spec.Backend == b {
			return true
		}
	}
	return false
}
