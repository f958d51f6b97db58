// Package runrecord persists the set of live VM instances for a run, so a
// crashed or --no-teardown run can be cleaned up later.
package runrecord

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/gpubench/gpubench/internal/provider"
)

// Filename is the record file written into a run directory.
const Filename = "instances.json"

// Instance is one live VM recorded for later teardown.
type Instance struct {
	GroupLabel string `json:"group_label"`
	GPUName    string `json:"gpu_name"`
	GPUCount   int    `json:"gpu_count"`
	Address    string `json:"address"`
	SSHPort    int    `json:"ssh_port"`
	Provider   string `json:"provider,omitempty"`
	InstanceID string `json:"instance_id,omitempty"`
	Zone       string `json:"zone,omitempty"`
}

// DeleteHandle reconstructs the provider delete handle for this instance.
func (i Instance) DeleteHandle() provider.DeleteHandle {
	return provider.DeleteHandle{
		Provider:   i.Provider,
		InstanceID: i.InstanceID,
		Zone:       i.Zone,
	}
}

// Store tracks live instances in a run directory. Writes go through an
// atomic rename so a crash never leaves a truncated record.
type Store struct {
	mu   sync.Mutex
	path string
}

// NewStore creates a store writing to dir/instances.json.
func NewStore(dir string) *Store {
	return &Store{path: filepath.Join(dir, Filename)}
}

// Path returns the record file location.
func (s *Store) Path() string {
	return s.path
}

// Add appends an instance to the record.
func (s *Store) Add(inst Instance) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	instances, err := s.read()
	if err != nil {
		return err
	}
	return s.write(append(instances, inst))
}

// Remove deletes the instance with the given provider instance ID. Removing
// an unknown ID is not an error; the record converges on what is live.
func (s *Store) Remove(instanceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	instances, err := s.read()
	if err != nil {
		return err
	}

	kept := instances[:0]
	for _, inst := range instances {
		if inst.InstanceID != instanceID {
			kept = append(kept, inst)
		}
	}
	return s.write(kept)
}

// List returns all recorded instances.
func (s *Store) List() ([]Instance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read()
}

// Clear removes the record file entirely.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove %s: %w", s.path, err)
	}
	return nil
}

// Load reads an instance record from an arbitrary run directory.
func Load(dir string) ([]Instance, error) {
	return NewStore(dir).List()
}

func (s *Store) read() ([]Instance, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read %s: %w", s.path, err)
	}

	var instances []Instance
	if err := json.Unmarshal(data, &instances); err != nil {
		return nil, fmt.Errorf("malformed instance record %s: %w", s.path, err)
	}
	return instances, nil
}

func (s *Store) write(instances []Instance) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("failed to create run directory: %w", err)
	}

	data, err := json.MarshalIndent(instances, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode instance record: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write instance record: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace instance record: %w", err)
	}
	return nil
}
