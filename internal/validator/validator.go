// Package validator holds the pluggable transition-condition checks. Each
// rule is a named Validator registered in a Registry; the controller
// resolves rule names at transition time. The scheduler never sees this
// interface.
package validator

import (
	"fmt"
	"os"
	"os/exec"
	"sync"
)

// Validator answers whether a single condition holds. Args come from the
// transition's resolved condition; ctx carries runtime values such as the
// active module.
type Validator interface {
	Validate(args map[string]any, ctx map[string]any) (bool, error)
}

type Registry struct {
	mu         sync.RWMutex
	validators map[string]Validator
}

func NewRegistry() *Registry {
	r := &Registry{validators: make(map[string]Validator)}
	r.Register("file_exists", &FileExists{})
	r.Register("shell", &Shell{})
	return r
}

func (r *Registry) Register(name string, v Validator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.validators[name] = v
}

// Get returns the validator registered under name, or nil.
func (r *Registry) Get(name string) Validator {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.validators[name]
}

// FileExists passes when args["path"] names an existing file.
type FileExists struct{}

func (*FileExists) Validate(args map[string]any, _ map[string]any) (bool, error) {
	path, ok := args["path"].(string)
	if !ok || path == "" {
		return false, fmt.Errorf("file_exists: missing path arg")
	}
	info, err := os.Stat(path)
	if err != nil {
		return false, nil
	}
	return !info.IsDir(), nil
}

// Shell passes when args["command"] exits zero.
type Shell struct{}

func (*Shell) Validate(args map[string]any, _ map[string]any) (bool, error) {
	command, ok := args["command"].(string)
	if !ok || command == "" {
		return false, fmt.Errorf("shell: missing command arg")
	}
	cmd := exec.Command("sh", "-c", command)
	if err := cmd.Run(); err != nil {
		return false, nil
	}
	return true, nil
}
