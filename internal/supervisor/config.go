package supervisor

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/edged/edged/internal/commitio"
	"github.com/edged/edged/internal/configtree"
)

// ServiceSpec is validated (go-playground/validator/v10) against each
// entry under `services` before it is merged into the tree — catching a
// malformed config file before any Lifecycle is built from it, rather
// than failing one service at a time during buildServices.
type ServiceSpec struct {
	Type        string `validate:"omitempty,alpha"`
	BashTimeout int64  `validate:"gte=0"`
	Requires    string `validate:"omitempty,requiressyntax"`
}

var (
	validatorOnce sync.Once
	validate      *validator.Validate
)

// requiresPattern allows a comma/semicolon/space/tab-separated list of
// name[:state-prefix] tokens built only from ASCII letters, digits and
// '_' — a narrower alphabet than lifecycle.ParseDependencies, which accepts
// any character in a name and also splits on newlines. It is checked here
// so a bad config is rejected before the owning Lifecycle ever exists to
// transition to Errored over it.
var requiresPattern = func() func(fl validator.FieldLevel) bool {
	allowed := "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789_:,; \t"
	return func(fl validator.FieldLevel) bool {
		for _, r := range fl.Field().String() {
			if !strings.ContainsRune(allowed, r) {
				return false
			}
		}
		return true
	}
}()

func getValidator() *validator.Validate {
	validatorOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		_ = validate.RegisterValidation("requiressyntax", requiresPattern)
	})
	return validate
}

// validateServiceSpecs decodes the "services" subsection of a freshly
// loaded config map and validates each entry's shape, returning a combined
// error describing every offending service (a ConfigParseError, per
// spec.md §7 — the whole file is rejected rather than admitting partially
// valid services).
func validateServiceSpecs(m map[string]configtree.Any) error {
	servicesAny, ok := m["services"]
	if !ok {
		return nil
	}
	services, ok := servicesAny.(map[string]configtree.Any)
	if !ok {
		return fmt.Errorf("services: expected a map, got %T", servicesAny)
	}

	v := getValidator()
	var problems []string
	for name, raw := range services {
		fields, ok := raw.(map[string]configtree.Any)
		if !ok {
			problems = append(problems, fmt.Sprintf("%s: expected a map", name))
			continue
		}
		spec := ServiceSpec{
			Type: stringField(fields, "type"),
			Requires: firstNonEmptyField(
				stringField(fields, "requires"),
				stringField(fields, "dependencies"),
				stringField(fields, "dependency"),
				stringField(fields, "defaultimpl"),
			),
		}
		if bt, ok := fields["bashtimeout"]; ok {
			spec.BashTimeout = intField(bt)
		}
		if err := v.Struct(&spec); err != nil {
			problems = append(problems, fmt.Sprintf("%s: %v", name, err))
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid service configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

func stringField(m map[string]configtree.Any, key string) string {
	s, _ := m[key].(string)
	return s
}

// firstNonEmptyField mirrors registry.firstNonEmpty for the dependency
// synonym fields validated here (requires/dependencies/dependency/
// defaultimpl) — this package can't import registry's unexported helper,
// so it gets its own copy of the same one-line pattern.
func firstNonEmptyField(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func intField(v configtree.Any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case float64:
		return int64(n)
	default:
		return 0
	}
}

// loadConfigFile decodes src as YAML (.yaml, .yml) or JSON (.json) based on
// its extension. Any other extension, .tlog included, is rejected with an
// error; a transaction log cannot be used as a -config source.
func loadConfigFile(src string) (map[string]configtree.Any, error) {
	switch strings.ToLower(filepath.Ext(src)) {
	case ".yaml", ".yml":
		return configtree.LoadYAMLFile(src)
	case ".json":
		data, err := os.ReadFile(src)
		if err != nil {
			return nil, err
		}
		var m map[string]configtree.Any
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("parse %s: %w", src, err)
		}
		return m, nil
	default:
		return nil, fmt.Errorf("unrecognised config extension %q", filepath.Ext(src))
	}
}

// seedConfig implements spec.md §4.9 step 3: a `-config <src>` seeds the
// tree from that file, persists it as config.yaml, and discards any stale
// tlog; otherwise the existing config.yaml (if any) is replayed, followed
// by config.tlog. It returns the next sequence number a transaction log
// writer should continue from.
func (s *Supervisor) seedConfig(src string) (uint64, error) {
	configPath := filepath.Join(s.configDir, "config.yaml")
	tlogPath := filepath.Join(s.configDir, "config.tlog")

	if src != "" {
		m, err := loadConfigFile(src)
		if err != nil {
			return 0, err
		}
		if err := validateServiceSpecs(m); err != nil {
			return 0, err
		}
		if err := s.Tree.MergeMap("", m); err != nil {
			return 0, err
		}
		if err := configtree.DumpYAMLFile(configPath, s.Tree.Root()); err != nil {
			return 0, err
		}
		if err := os.Remove(tlogPath); err != nil && !os.IsNotExist(err) {
			return 0, fmt.Errorf("remove stale tlog: %w", err)
		}
		return 0, nil
	}

	if _, err := os.Stat(configPath); err == nil {
		m, err := configtree.LoadYAMLFile(configPath)
		if err != nil {
			return 0, err
		}
		if err := s.Tree.MergeMap("", m); err != nil {
			return 0, err
		}
	}

	reader := &commitio.ConfigurationReader{Tree: s.Tree}
	seq, err := reader.ReadFile(tlogPath)
	if err != nil {
		return 0, fmt.Errorf("replay tlog: %w", err)
	}
	return seq, nil
}

// beginTransactionLog opens config.tlog for append (continuing numbering
// from startSeq) and attaches a ConfigurationWriter to the whole tree, so
// every mutation from this point on — including ones seedConfig itself
// just made via MergeMap — is durably recorded.
func (s *Supervisor) beginTransactionLog(startSeq uint64) error {
	tlogPath := filepath.Join(s.configDir, "config.tlog")
	w, err := commitio.OpenConfigurationWriter(tlogPath, startSeq)
	if err != nil {
		return err
	}
	w.Attach(s.Tree.Root(), "")
	s.cfgWriter = w
	return nil
}

// setLogPath writes logPath, expanded through the template engine, to
// `system/logfile`, per the `-log`/`-l` flag (§6: writes `system.logfile`).
// An empty logPath leaves the tree untouched.
func (s *Supervisor) setLogPath(logPath string) {
	if logPath == "" {
		return
	}
	expanded := s.engine.Expand(logPath)
	if err := s.Tree.SetValue("system/logfile", expanded); err != nil {
		s.Logger.Error().Err(err).Str("path", expanded).Msg("set system.logfile")
	}
}
