package agentcfg

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"hadoku/internal/logger"

	"github.com/fsnotify/fsnotify"
	"github.com/mitchellh/mapstructure"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

//go:embed schema.json
var agentSchemaJSON []byte

// Snapshot is an immutable view of the loaded agent set.
type Snapshot struct {
	Version  int64
	LoadedAt time.Time
	Agents   map[string]AgentConfig
}

// Active returns enabled agents sorted by id for deterministic iteration.
func (s Snapshot) Active() []AgentConfig {
	out := make([]AgentConfig, 0, len(s.Agents))
	for _, a := range s.Agents {
		if a.Enabled {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ChangeListener fires after a successful reload.
type ChangeListener func(Snapshot)

// Registry loads agents.yaml, validates it against the embedded schema plus
// the Go-side cross-field rules, and hot-reloads on file change. A reload
// that fails validation keeps the previous snapshot.
type Registry struct {
	path string
	v    *viper.Viper

	mu        sync.RWMutex
	snapshot  Snapshot
	listeners []ChangeListener
}

// NewRegistry reads the agent config file and starts watching it.
func NewRegistry(path string) (*Registry, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("agent registry requires a config path")
	}
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read agent config failed: %w", err)
	}
	r := &Registry{path: path, v: v}
	if err := r.reload(); err != nil {
		return nil, err
	}
	v.OnConfigChange(func(evt fsnotify.Event) {
		if err := r.reload(); err != nil {
			logger.Errorf("agent config reload failed, keeping previous set: %v", err)
			return
		}
		r.notifyListeners()
	})
	v.WatchConfig()
	return r, nil
}

// NewStaticRegistry wraps an in-memory agent set; used by the simulator and
// tests where no file watching is wanted.
func NewStaticRegistry(agents []AgentConfig) (*Registry, error) {
	byID := make(map[string]AgentConfig, len(agents))
	for _, a := range agents {
		if err := Validate(a); err != nil {
			return nil, err
		}
		if _, dup := byID[a.ID]; dup {
			return nil, fmt.Errorf("duplicate agent id %q", a.ID)
		}
		byID[a.ID] = a
	}
	return &Registry{snapshot: Snapshot{Version: 1, LoadedAt: time.Now(), Agents: byID}}, nil
}

// Snapshot returns the current agent set.
func (r *Registry) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshot
}

// Agent looks up one agent by id.
func (r *Registry) Agent(id string) (AgentConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.snapshot.Agents[id]
	return a, ok
}

// OnChange registers a listener for successful reloads.
func (r *Registry) OnChange(fn ChangeListener) {
	if fn == nil {
		return
	}
	r.mu.Lock()
	r.listeners = append(r.listeners, fn)
	r.mu.Unlock()
}

func (r *Registry) notifyListeners() {
	r.mu.RLock()
	snap := r.snapshot
	listeners := append([]ChangeListener(nil), r.listeners...)
	r.mu.RUnlock()
	for _, fn := range listeners {
		fn(snap)
	}
}

func (r *Registry) reload() error {
	if err := r.v.ReadInConfig(); err != nil {
		return fmt.Errorf("re-read agent config failed: %w", err)
	}
	settings := r.v.AllSettings()
	if err := validateAgainstSchema(settings); err != nil {
		return err
	}

	var file struct {
		Agents []AgentConfig `mapstructure:"agents"`
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &file,
		WeaklyTypedInput: true,
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(settings); err != nil {
		return fmt.Errorf("parse agent config failed: %w", err)
	}

	byID := make(map[string]AgentConfig, len(file.Agents))
	for _, a := range file.Agents {
		if err := Validate(a); err != nil {
			return err
		}
		if _, dup := byID[a.ID]; dup {
			return fmt.Errorf("duplicate agent id %q", a.ID)
		}
		byID[a.ID] = a
	}

	r.mu.Lock()
	r.snapshot = Snapshot{
		Version:  r.snapshot.Version + 1,
		LoadedAt: time.Now(),
		Agents:   byID,
	}
	r.mu.Unlock()
	logger.Infof("agent registry loaded %d agents from %s", len(byID), r.path)
	return nil
}

var (
	schemaOnce     sync.Once
	compiledSchema *jsonschema.Schema
	schemaErr      error
)

func validateAgainstSchema(settings map[string]any) error {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("agents.schema.json", bytes.NewReader(agentSchemaJSON)); err != nil {
			schemaErr = err
			return
		}
		compiledSchema, schemaErr = compiler.Compile("agents.schema.json")
	})
	if schemaErr != nil {
		return fmt.Errorf("agent schema compile failed: %w", schemaErr)
	}
	// Round-trip through JSON so numbers and nested maps take the types the
	// validator expects.
	raw, err := json.Marshal(settings)
	if err != nil {
		return err
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return err
	}
	if err := compiledSchema.Validate(doc); err != nil {
		return fmt.Errorf("agent config schema violation: %w", err)
	}
	return nil
}

// ParseFile decodes a standalone agents YAML document without a registry.
// Used by the backtest CLI to run ad-hoc agent sets.
func ParseFile(data []byte) ([]AgentConfig, error) {
	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse agents yaml failed: %w", err)
	}
	if err := validateAgainstSchema(doc); err != nil {
		return nil, err
	}
	var file struct {
		Agents []AgentConfig `mapstructure:"agents"`
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &file,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return nil, err
	}
	if err := dec.Decode(doc); err != nil {
		return nil, err
	}
	for _, a := range file.Agents {
		if err := Validate(a); err != nil {
			return nil, err
		}
	}
	return file.Agents, nil
}
