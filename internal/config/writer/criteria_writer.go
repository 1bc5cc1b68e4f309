package writer

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"stuntman/internal/validation"
)

var (
	ErrBuiltinPreset  = errors.New("builtin preset is read-only")
	ErrPresetNotFound = errors.New("preset not found")
)

// CriteriaYAML criteria.yaml 的结构。
type CriteriaYAML struct {
	Presets map[string]validation.Criteria `yaml:"presets"`
}

// CriteriaWriter 负责读写自定义验证阈值预设。
type CriteriaWriter struct {
	path string
	mu   sync.RWMutex
	now  func() time.Time
}

func NewCriteriaWriter(path string) *CriteriaWriter {
	return &CriteriaWriter{path: path, now: time.Now}
}

// Read 读取预设；文件不存在时返回空集合。
func (w *CriteriaWriter) Read() (*CriteriaYAML, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	cfg := &CriteriaYAML{}
	data, err := os.ReadFile(w.path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("读取 criteria.yaml 失败: %w", err)
	}
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("解析 criteria.yaml 失败: %w", err)
		}
	}
	if cfg.Presets == nil {
		cfg.Presets = make(map[string]validation.Criteria)
	}
	return cfg, nil
}

// Presets 返回内置预设与文件预设合并后的结果。
func (w *CriteriaWriter) Presets() (validation.Presets, error) {
	cfg, err := w.Read()
	if err != nil {
		return nil, err
	}
	return validation.BuiltinPresets().Merge(cfg.Presets), nil
}

// Write 先备份再原子替换。
func (w *CriteriaWriter) Write(cfg *CriteriaYAML) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.backup(); err != nil {
		return fmt.Errorf("备份失败: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("序列化 criteria 失败: %w", err)
	}
	if dir := filepath.Dir(w.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	tmpPath := w.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("写入临时文件失败: %w", err)
	}
	if err := os.Rename(tmpPath, w.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("替换配置文件失败: %w", err)
	}
	return nil
}

func (w *CriteriaWriter) backup() error {
	src, err := os.Open(w.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer src.Close()

	backupDir := filepath.Join(filepath.Dir(w.path), "backups")
	if err := os.MkdirAll(backupDir, 0o755); err != nil {
		return err
	}
	stamp := w.now().Format("20060102_150405.000")
	dst, err := os.Create(filepath.Join(backupDir, fmt.Sprintf("criteria_%s.yaml", stamp)))
	if err != nil {
		return err
	}
	defer dst.Close()
	if _, err := io.Copy(dst, src); err != nil {
		return err
	}
	w.cleanOldBackups(backupDir, 10)
	return nil
}

func (w *CriteriaWriter) cleanOldBackups(dir string, keep int) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	var backups []string
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), "criteria_") && strings.HasSuffix(e.Name(), ".yaml") {
			backups = append(backups, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(backups)
	for i := 0; i < len(backups)-keep; i++ {
		os.Remove(backups[i])
	}
}

// UpdatePreset 新增或覆盖一个预设；内置预设名不可覆盖。
func (w *CriteriaWriter) UpdatePreset(name string, c validation.Criteria) error {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" {
		return fmt.Errorf("preset 名称不能为空")
	}
	if _, builtin := validation.BuiltinPresets()[key]; builtin {
		return fmt.Errorf("%w: %s", ErrBuiltinPreset, key)
	}
	cfg, err := w.Read()
	if err != nil {
		return err
	}
	c.Name = key
	cfg.Presets[key] = c
	return w.Write(cfg)
}

func (w *CriteriaWriter) DeletePreset(name string) error {
	key := strings.ToLower(strings.TrimSpace(name))
	if _, builtin := validation.BuiltinPresets()[key]; builtin {
		return fmt.Errorf("%w: %s", ErrBuiltinPreset, key)
	}
	cfg, err := w.Read()
	if err != nil {
		return err
	}
	if _, ok := cfg.Presets[key]; !ok {
		return fmt.Errorf("%w: %s", ErrPresetNotFound, key)
	}
	delete(cfg.Presets, key)
	return w.Write(cfg)
}

func (w *CriteriaWriter) Path() string {
	return w.path
}
