package domain

import (
	"encoding/json"
	"fmt"
	"os"
)

// LanguageSpec is one entry of the language registry: everything the
// engine needs to run a job in that language's container, loaded once at
// startup from a JSON document and never mutated.
type LanguageSpec struct {
	// Name is the registry key, e.g. "python", "java", "rust".
	Name string `json:"name"`
	// Image is the Docker image reference for this language.
	Image string `json:"image"`
	// MemoryLimitMB caps container memory.
	MemoryLimitMB int64 `json:"memory_limit_mb"`
	// CPULimit caps container CPU in fractional cores.
	CPULimit float64 `json:"cpu_limit"`
	// CompileCommand is run once per job before the test loop. Empty for
	// purely interpreted languages, in which case the engine still
	// emits a no-op "compile" phase that reports success.
	CompileCommand []string `json:"compile_command,omitempty"`
	// ExecuteCommand runs once per test case, fed TestCase.Input on
	// stdin.
	ExecuteCommand []string `json:"execute_command"`
	// FileExtension is the conventional source filename suffix written
	// into the container's scratch path, e.g. ".py".
	FileExtension string `json:"file_extension"`
	// SourceFile is the exact filename (no directory) the engine writes
	// the job's source into under the container's /scratch working
	// directory, e.g. "Solution.java". Falls back to "solution"+
	// FileExtension when empty, which covers every language whose
	// runtime does not require a specific class/module name.
	SourceFile string `json:"source_file,omitempty"`
	// StderrPolicy controls whether benign stderr output fails a test.
	// "strict" (the default) treats any non-whitespace stderr as a
	// failure; "ignore" scrubs stderr from clean-exit outputs before
	// scoring, for runtimes that print startup noise to stderr.
	StderrPolicy string `json:"stderr_policy,omitempty"`
}

// Stderr policies.
const (
	StderrStrict = "strict"
	StderrIgnore = "ignore"
)

// IgnoresStderr reports whether clean-exit stderr output should be
// scrubbed before scoring.
func (s LanguageSpec) IgnoresStderr() bool {
	return s.StderrPolicy == StderrIgnore
}

// ScratchFile returns the filename SourceFile names, or the
// "solution"+FileExtension default when SourceFile is unset.
func (s LanguageSpec) ScratchFile() string {
	if s.SourceFile != "" {
		return s.SourceFile
	}
	return "solution" + s.FileExtension
}

// QueueName returns the deterministic main-queue key for this language,
// matching the optimus:queue:{name} convention.
func (s LanguageSpec) QueueName() string {
	return fmt.Sprintf("optimus:queue:%s", s.Name)
}

// LanguageRegistry is the immutable, process-wide set of configured
// languages, read once at startup.
type LanguageRegistry struct {
	specs map[string]LanguageSpec
	names []string
}

// NewLanguageRegistry builds a registry from the decoded configuration
// document. Duplicate names overwrite earlier entries.
func NewLanguageRegistry(specs []LanguageSpec) *LanguageRegistry {
	r := &LanguageRegistry{specs: make(map[string]LanguageSpec, len(specs))}
	for _, s := range specs {
		if _, exists := r.specs[s.Name]; !exists {
			r.names = append(r.names, s.Name)
		}
		r.specs[s.Name] = s
	}
	return r
}

// Get returns the spec for a language name, ok=false if unconfigured.
func (r *LanguageRegistry) Get(name string) (LanguageSpec, bool) {
	s, ok := r.specs[name]
	return s, ok
}

// Names lists configured language names in registration order.
func (r *LanguageRegistry) Names() []string {
	out := make([]string, len(r.names))
	copy(out, r.names)
	return out
}

// LoadLanguageRegistry reads the language registry document (a JSON array
// of LanguageSpec) from path, used by both cmd/server and cmd/worker at
// startup.
func LoadLanguageRegistry(path string) (*LanguageRegistry, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("op=domain.LoadLanguageRegistry: read %s: %w", path, err)
	}
	var specs []LanguageSpec
	if err := json.Unmarshal(b, &specs); err != nil {
		return nil, fmt.Errorf("op=domain.LoadLanguageRegistry: parse %s: %w", path, err)
	}
	return NewLanguageRegistry(specs), nil
}
