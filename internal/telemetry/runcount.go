package telemetry

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

type runState struct {
	RunCount uint64 `yaml:"runcount"`
}

// RunCounter persists the number of boots in a small YAML file.
type RunCounter struct {
	path string
}

func NewRunCounter(path string) *RunCounter {
	return &RunCounter{path: path}
}

func (c *RunCounter) Path() string {
	return c.path
}

// Current returns the stored count; ok is false when nothing has been stored yet.
func (c *RunCounter) Current() (count uint64, ok bool, err error) {
	data, err := os.ReadFile(c.path)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to read run counter: %w", err)
	}
	var st runState
	if err := yaml.Unmarshal(data, &st); err != nil {
		return 0, false, fmt.Errorf("failed to parse run counter %s: %w", c.path, err)
	}
	return st.RunCount, true, nil
}

// Next records a boot and returns its number: 0 on the very first boot, then 1, 2, ...
func (c *RunCounter) Next() (uint64, error) {
	count, ok, err := c.Current()
	if err != nil {
		return 0, err
	}
	if ok {
		count++
	}
	if err := c.store(count); err != nil {
		return 0, err
	}
	return count, nil
}

func (c *RunCounter) store(count uint64) error {
	data, err := yaml.Marshal(runState{RunCount: count})
	if err != nil {
		return err
	}
	dir := filepath.Dir(c.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".runcount-*")
	if err != nil {
		return fmt.Errorf("failed to write run counter: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write run counter: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write run counter: %w", err)
	}
	if err := os.Rename(tmp.Name(), c.path); err != nil {
		return fmt.Errorf("failed to write run counter: %w", err)
	}
	return nil
}
