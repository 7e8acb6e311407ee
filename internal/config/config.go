package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
	"time"

	"github.com/AvengeMedia/dankseek/internal/errdefs"
	"github.com/AvengeMedia/dankseek/internal/log"
	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

type Config struct {
	SnapshotPath           string   `toml:"snapshot_path" yaml:"snapshot_path"`
	RootDir                string   `toml:"root_dir" yaml:"root_dir"`
	ListenAddr             string   `toml:"listen_addr" yaml:"listen_addr"`
	StaticDir              string   `toml:"static_dir,omitempty" yaml:"static_dir,omitempty"`
	MaxFileBytes           int64    `toml:"max_file_bytes" yaml:"max_file_bytes"`
	WorkerCount            int      `toml:"worker_count" yaml:"worker_count"`
	ReindexIntervalSeconds int      `toml:"reindex_interval_seconds" yaml:"reindex_interval_seconds"`
	ResultLimit            int      `toml:"result_limit" yaml:"result_limit"`
	QueryCacheSize         int      `toml:"query_cache_size" yaml:"query_cache_size"`
	Watch                  bool     `toml:"watch" yaml:"watch"`
	MaxDepth               int      `toml:"max_depth" yaml:"max_depth"`
	ExcludeHidden          bool     `toml:"exclude_hidden" yaml:"exclude_hidden"`
	ExcludeDirs            []string `toml:"exclude_dirs" yaml:"exclude_dirs"`
	TextExts               []string `toml:"text_extensions" yaml:"text_extensions"`
	ExtractPDF             bool     `toml:"extract_pdf" yaml:"extract_pdf"`
	ExtractExif            bool     `toml:"extract_exif" yaml:"extract_exif"`
	ImageExts              []string `toml:"image_extensions" yaml:"image_extensions"`
	IndexXattrs            bool     `toml:"index_xattrs" yaml:"index_xattrs"`
	LogLevel               string   `toml:"log_level" yaml:"log_level"`

	excludeDirsMap map[string]bool
	excludeRegexes []*regexp.Regexp
}

func Default() *Config {
	defaultExcludeDirs := []string{
		// VCS
		".git",
		".hg",
		".svn",

		// JavaScript/Node.js
		"node_modules",
		"bower_components",

		// Python
		"__pycache__",
		".venv",
		"venv",
		".tox",

		// Build outputs
		"dist",
		"build",
		"target",
		"vendor",

		// Cache directories
		".cache",
		".next",

		// IDE/Editor
		".idea",
		".vscode",
	}

	workerCount := runtime.NumCPU() / 2
	if workerCount < 1 {
		workerCount = 1
	}

	cfg := &Config{
		SnapshotPath:           getDefaultSnapshotPath(),
		ListenAddr:             ":8080",
		MaxFileBytes:           8 * 1024 * 1024,
		WorkerCount:            workerCount,
		ReindexIntervalSeconds: 30,
		ResultLimit:            15,
		QueryCacheSize:         256,
		Watch:                  true,
		ExcludeHidden:          true,
		ExcludeDirs:            defaultExcludeDirs,
		TextExts: []string{
			".txt", ".md", ".rst", ".org", ".go", ".py", ".js", ".ts",
			".json", ".yaml", ".yml", ".toml", ".html", ".css", ".rs",
			".c", ".cpp", ".h", ".java", ".rb", ".php", ".sh", ".csv",
		},
		ExtractPDF:  true,
		ExtractExif: true,
		ImageExts:   []string{".jpg", ".jpeg", ".tif", ".tiff"},
		IndexXattrs: true,
		LogLevel:    "info",
	}

	cfg.BuildMaps()
	return cfg
}

// Load reads a TOML or YAML (by extension) config on top of the defaults.
// A missing file is created with the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := cfg.Save(path); err != nil {
			log.Warnf("failed to create default config at %s: %v", path, err)
		} else {
			log.Infof("created default config at %s", path)
		}
		return cfg, nil
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, errdefs.NewCustomError(errdefs.ErrTypeInvalidConfig, path, err)
		}
	default:
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, errdefs.NewCustomError(errdefs.ErrTypeInvalidConfig, path, err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	cfg.BuildMaps()
	return cfg, nil
}

func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		f.WriteString("# DankSeek Configuration\n\n")
		enc := yaml.NewEncoder(f)
		defer enc.Close()
		return enc.Encode(c)
	default:
		f.WriteString("# DankSeek Configuration\n\n")
		return toml.NewEncoder(f).Encode(c)
	}
}

func (c *Config) Validate() error {
	if c.SnapshotPath == "" {
		return errdefs.NewCustomError(errdefs.ErrTypeInvalidConfig, "snapshot_path must be set", nil)
	}
	if c.WorkerCount < 1 {
		c.WorkerCount = 1
	}
	if c.ReindexIntervalSeconds < 1 {
		return errdefs.NewCustomError(errdefs.ErrTypeInvalidConfig,
			fmt.Sprintf("reindex_interval_seconds must be positive, got %d", c.ReindexIntervalSeconds), nil)
	}
	if c.ResultLimit < 0 {
		return errdefs.NewCustomError(errdefs.ErrTypeInvalidConfig,
			fmt.Sprintf("result_limit must not be negative, got %d", c.ResultLimit), nil)
	}
	return nil
}

// SetRoot makes dir absolute and resolves symlinks so indexed paths, watcher
// events and pruning all agree on one spelling of every path.
func (c *Config) SetRoot(dir string) error {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return err
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
	}
	c.RootDir = filepath.Clean(abs)
	return nil
}

// InRoot reports whether path lies at or below RootDir. Every path is inside
// an unset root.
func (c *Config) InRoot(path string) bool {
	if c.RootDir == "" {
		return true
	}
	rel, err := filepath.Rel(c.RootDir, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func (c *Config) ReindexInterval() time.Duration {
	return time.Duration(c.ReindexIntervalSeconds) * time.Second
}

// BuildMaps compiles ExcludeDirs. Entries written as /pattern/ are regular
// expressions matched against single path components; invalid ones are skipped.
func (c *Config) BuildMaps() {
	c.excludeDirsMap = make(map[string]bool, len(c.ExcludeDirs))
	c.excludeRegexes = nil
	for _, dir := range c.ExcludeDirs {
		if len(dir) > 2 && strings.HasPrefix(dir, "/") && strings.HasSuffix(dir, "/") {
			re, err := regexp.Compile(dir[1 : len(dir)-1])
			if err != nil {
				log.Warnf("ignoring invalid exclude pattern %s: %v", dir, err)
				continue
			}
			c.excludeRegexes = append(c.excludeRegexes, re)
			continue
		}
		c.excludeDirsMap[dir] = true
	}
}

func getDefaultSnapshotPath() string {
	var base string
	if runtime.GOOS == "windows" {
		base = os.Getenv("LOCALAPPDATA")
		if base == "" {
			base = filepath.Join(os.Getenv("USERPROFILE"), "AppData", "Local")
		}
	} else {
		base = os.Getenv("XDG_CACHE_HOME")
		if base == "" {
			home, _ := os.UserHomeDir()
			base = filepath.Join(home, ".cache")
		}
	}
	return filepath.Join(base, "dankseek", "index.json")
}

func GetDefaultConfigPath() string {
	var base string
	if runtime.GOOS == "windows" {
		base = os.Getenv("APPDATA")
		if base == "" {
			base = filepath.Join(os.Getenv("USERPROFILE"), "AppData", "Roaming")
		}
	} else {
		base = os.Getenv("XDG_CONFIG_HOME")
		if base == "" {
			home, _ := os.UserHomeDir()
			base = filepath.Join(home, ".config")
		}
	}
	return filepath.Join(base, "dankseek", "config.toml")
}

func (c *Config) ShouldIndexFile(path string) bool {
	if c.ExcludeHidden && containsHiddenComponent(path, c.RootDir) {
		return false
	}
	return !c.containsExcludedComponent(path)
}

func (c *Config) ShouldIndexDir(path string) bool {
	if c.ExcludeHidden && containsHiddenComponent(path, c.RootDir) {
		return false
	}
	if c.containsExcludedComponent(path) {
		return false
	}
	return c.MaxDepth <= 0 || c.GetDepth(path) < c.MaxDepth
}

// relComponents returns the components of path below rootDir, or nil when path
// is rootDir itself or lies outside it.
func relComponents(path, rootDir string) []string {
	rel, err := filepath.Rel(rootDir, path)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return nil
	}
	return strings.Split(rel, string(filepath.Separator))
}

func containsHiddenComponent(path, rootDir string) bool {
	for _, comp := range relComponents(path, rootDir) {
		if len(comp) > 0 && comp[0] == '.' {
			return true
		}
	}
	return false
}

func (c *Config) containsExcludedComponent(path string) bool {
	for _, comp := range relComponents(path, c.RootDir) {
		if c.excludeDirsMap[comp] {
			return true
		}
		for _, re := range c.excludeRegexes {
			if re.MatchString(comp) {
				return true
			}
		}
	}
	return false
}

func (c *Config) GetDepth(path string) int {
	return len(relComponents(path, c.RootDir))
}

func (c *Config) IsTextFile(path string) bool {
	return hasExt(path, c.TextExts)
}

func (c *Config) IsImageFile(path string) bool {
	return hasExt(path, c.ImageExts)
}

func (c *Config) IsPDFFile(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".pdf")
}

func hasExt(path string, exts []string) bool {
	ext := filepath.Ext(path)
	for _, e := range exts {
		if strings.EqualFold(e, ext) {
			return true
		}
	}
	return false
}

type IndexStats struct {
	RootDir       string    `json:"root_dir"`
	TotalFiles    int       `json:"total_files"`
	TotalTerms    int       `json:"total_terms"`
	TotalTokens   int       `json:"total_tokens"`
	Added         int       `json:"added"`
	Updated       int       `json:"updated"`
	Removed       int       `json:"removed"`
	Failed        int       `json:"failed"`
	Cycles        int       `json:"cycles"`
	LastIndexTime time.Time `json:"last_index_time"`
	IndexDuration string    `json:"index_duration"`
	LastError     string    `json:"last_error,omitempty"`
}
