package codec

import (
	"strings"
	"sync"
)

const (
	DefaultHandler         = "time"
	DefaultIdentityEncoder = "json"
)

// Names selects handlers and identity encoders from a Registry by name.
type Names struct {
	Handlers         []string `toml:"handlers" yaml:"handlers" json:"handlers"`
	IdentityEncoders []string `toml:"identity_encoders" yaml:"identity_encoders" json:"identity_encoders"`
}

func (n Names) withDefaults() Names {
	if len(n.Handlers) == 0 {
		n.Handlers = []string{DefaultHandler}
	}
	if len(n.IdentityEncoders) == 0 {
		n.IdentityEncoders = []string{DefaultIdentityEncoder}
	}
	return n
}

func (n Names) key() string {
	return strings.Join(n.Handlers, ",") + "|" + strings.Join(n.IdentityEncoders, ",")
}

// Registry is the name table handlers and identity encoders are loaded from.
type Registry struct {
	mu       sync.Mutex
	handlers map[string]Handler
	identity map[string]IdentityEncoder
	loaded   map[string]*Codec
}

// NewRegistry returns a registry holding the built-in "time" handler and
// "json" identity encoder.
func NewRegistry() *Registry {
	r := &Registry{
		handlers: make(map[string]Handler),
		identity: make(map[string]IdentityEncoder),
		loaded:   make(map[string]*Codec),
	}
	r.handlers[DefaultHandler] = TimeHandler
	r.identity[DefaultIdentityEncoder] = JSONIdentity
	return r
}

// RegisterHandler adds or replaces a handler under its name.
func (r *Registry) RegisterHandler(h Handler) error {
	if _, err := NewEncodingMap(h); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[h.Name] = h
	r.loaded = make(map[string]*Codec)
	return nil
}

func (r *Registry) RegisterIdentityEncoder(name string, enc IdentityEncoder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.identity[name] = enc
	r.loaded = make(map[string]*Codec)
}

// Load resolves every name eagerly; an unknown name fails the whole load.
func (r *Registry) Load(names Names) (*Codec, error) {
	names = names.withDefaults()
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.loaded[names.key()]; ok {
		return c, nil
	}

	m := &EncodingMap{}
	for _, name := range names.Handlers {
		h, ok := r.handlers[name]
		if !ok {
			return nil, &LoadError{Kind: "handler", Name: name}
		}
		if err := m.Add(h); err != nil {
			return nil, err
		}
	}
	encoders := make([]IdentityEncoder, 0, len(names.IdentityEncoders))
	for _, name := range names.IdentityEncoders {
		enc, ok := r.identity[name]
		if !ok {
			return nil, &LoadError{Kind: "identity encoder", Name: name}
		}
		encoders = append(encoders, enc)
	}
	c := NewCodec(m, encoders...)
	r.loaded[names.key()] = c
	return c, nil
}
