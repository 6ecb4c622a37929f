package back

import (
	"context"
	"fmt"

	"github.com/wirelang/wirec/compiler/lir"
)

type (
	// Backend turns an LIR unit into one generated source artifact.
	Backend interface {
		Name() string
		Generate(ctx context.Context, u *lir.Unit) (File, error)
	}

	File struct {
		Path string
		Data []byte
	}

	Registry struct {
		backends map[string]Backend
	}

	UnknownBackendError struct {
		Name string
	}
)

func (e *UnknownBackendError) Error() string {
	return fmt.Sprintf("unknown backend %q", e.Name)
}

func NewRegistry(l ...Backend) *Registry {
	r := &Registry{
		backends: map[string]Backend{},
	}

	for _, b := range l {
		r.backends[b.Name()] = b
	}

	return r
}

func (r *Registry) Generate(ctx context.Context, name string, u *lir.Unit) (File, error) {
	b, ok := r.backends[name]
	if !ok {
		return File{}, &UnknownBackendError{Name: name}
	}

	return b.Generate(ctx, u)
}
