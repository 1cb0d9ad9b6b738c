package config

import (
	"context"
	"errors"
	"testing"

	"github.com/narratale/voicesmith/pkg/provider/clone"
)

// stubProvider is a minimal clone.Provider for registry tests.
type stubProvider struct {
	name string
}

func (s *stubProvider) Name() string { return s.name }

func (s *stubProvider) TrainVoice(context.Context, string, []clone.Sample) (clone.TrainResult, error) {
	return clone.TrainResult{}, nil
}

func TestRegistry_CreateClone(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	r.RegisterClone("stub", func(entry ProviderEntry) (clone.Provider, error) {
		return &stubProvider{name: entry.Name}, nil
	})

	p, err := r.CreateClone(ProviderEntry{Name: "stub"})
	if err != nil {
		t.Fatalf("CreateClone() unexpected error: %v", err)
	}
	if p.Name() != "stub" {
		t.Errorf("provider name = %q, want stub", p.Name())
	}
}

func TestRegistry_NotRegistered(t *testing.T) {
	t.Parallel()
	r := NewRegistry()

	_, err := r.CreateClone(ProviderEntry{Name: "ghost"})
	if !errors.Is(err, ErrProviderNotRegistered) {
		t.Fatalf("CreateClone() error = %v, want ErrProviderNotRegistered", err)
	}
}

func TestRegistry_FactoryError(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	wantErr := errors.New("missing api key")
	r.RegisterClone("strict", func(ProviderEntry) (clone.Provider, error) {
		return nil, wantErr
	})

	_, err := r.CreateClone(ProviderEntry{Name: "strict"})
	if !errors.Is(err, wantErr) {
		t.Fatalf("CreateClone() error = %v, want factory error", err)
	}
}

func TestRegistry_Overwrite(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	r.RegisterClone("dup", func(ProviderEntry) (clone.Provider, error) {
		return &stubProvider{name: "first"}, nil
	})
	r.RegisterClone("dup", func(ProviderEntry) (clone.Provider, error) {
		return &stubProvider{name: "second"}, nil
	})

	p, err := r.CreateClone(ProviderEntry{Name: "dup"})
	if err != nil {
		t.Fatalf("CreateClone() unexpected error: %v", err)
	}
	if p.Name() != "second" {
		t.Errorf("provider name = %q, want second (last registration wins)", p.Name())
	}
}
