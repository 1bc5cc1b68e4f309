package strategy

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"stuntman/internal/logger"
)

var ErrDuplicateRule = errors.New("strategy rule already registered")

// Registry 保存已解析的规则，按名称索引。规则在注册时构建一次，之后只读。
type Registry struct {
	factory *Factory

	mu    sync.RWMutex
	rules map[string]Rule
}

func NewRegistry(factory *Factory) *Registry {
	if factory == nil {
		factory = &Factory{}
	}
	return &Registry{factory: factory, rules: make(map[string]Rule)}
}

// Register 直接登记一个规则实例。
func (r *Registry) Register(rule Rule) error {
	if rule == nil {
		return errors.New("nil rule")
	}
	key := normalizeName(rule.Name())
	if key == "" {
		return errors.New("rule name is empty")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rules[key]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateRule, rule.Name())
	}
	r.rules[key] = rule
	return nil
}

// Load 依次构建并登记 specs，返回第一个错误前已成功的数量。
func (r *Registry) Load(specs []Spec) (int, error) {
	loaded := 0
	for _, spec := range specs {
		rule, err := r.factory.Build(spec)
		if err != nil {
			logger.Warnf("build strategy %s (%s) failed: %v", spec.Name, spec.Kind, err)
			return loaded, fmt.Errorf("strategy %q: %w", spec.Name, err)
		}
		if err := r.Register(rule); err != nil {
			return loaded, err
		}
		loaded++
	}
	logger.Infof("strategy registry loaded %d rules", loaded)
	return loaded, nil
}

// LoadDefaults 用默认参数登记全部内置规则。
func (r *Registry) LoadDefaults() error {
	specs := make([]Spec, 0, len(Kinds()))
	for _, k := range Kinds() {
		specs = append(specs, Spec{Name: k.String(), Kind: k.String()})
	}
	_, err := r.Load(specs)
	return err
}

func (r *Registry) Resolve(name string) (Rule, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rule, ok := r.rules[normalizeName(name)]
	return rule, ok
}

// Names 按字母序返回已登记规则名。
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.rules))
	for _, rule := range r.rules {
		out = append(out, rule.Name())
	}
	sort.Strings(out)
	return out
}

func (r *Registry) Rules() []Rule {
	names := r.Names()
	out := make([]Rule, 0, len(names))
	for _, n := range names {
		if rule, ok := r.Resolve(n); ok {
			out = append(out, rule)
		}
	}
	return out
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
