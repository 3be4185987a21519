// Package config loads the server's XML configuration file. Path values may
// contain ${NAME} environment references; exclude patterns and BuildDir may
// contain {PROJECT_HOME}, replaced with the owning project's home path.
package config

import (
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// DefaultListenPath is used when the config omits <Listen>.
const DefaultListenPath = "/tmp/symdb.sock"

// defaultBuildDir is used when a project omits <BuildDir>.
const defaultBuildDir = "_build"

const projectHomeVar = "{PROJECT_HOME}"

// envRe matches ${NAME} environment references in path values.
var envRe = regexp.MustCompile(`\$\{(\w+)\}`)

// xmlConfig mirrors the on-disk document.
type xmlConfig struct {
	XMLName        xml.Name     `xml:"Config"`
	LogDir         string       `xml:"LogDir"`
	DataDir        string       `xml:"DataDir"`
	Listen         string       `xml:"Listen"`
	GlobalExcluded struct {
		Entries []xmlExclude `xml:"ExcludeEntry"`
	} `xml:"GlobalExcluded"`
	Projects struct {
		Projects []xmlProject `xml:"Project"`
	} `xml:"Projects"`
	SystemInclude struct {
		Directories []string `xml:"Directory"`
	} `xml:"SystemInclude"`
}

type xmlExclude struct {
	Pattern string `xml:"pattern,attr"`
}

type xmlProject struct {
	Name            string       `xml:"Name"`
	Home            string       `xml:"Home"`
	BuildDir        string       `xml:"BuildDir"`
	EnableFileWatch *bool        `xml:"EnableFileWatch"`
	Excludes        []xmlExclude `xml:"ExcludeEntry"`
}

// RegexPattern is a compiled exclude pattern that remembers its source text.
type RegexPattern struct {
	Pattern string
	re      *regexp.Regexp
}

// Match reports whether the whole path matches the pattern.
func (p RegexPattern) Match(path string) bool {
	return p.re.MatchString(path)
}

// ProjectConfig is one configured project.
type ProjectConfig struct {
	Name        string
	HomePath    string
	BuildPath   string
	EnableWatch bool
	Excludes    []RegexPattern

	global *Config
}

// Config is the loaded server configuration.
type Config struct {
	LogDir     string
	DataDir    string
	ListenPath string
	Projects   []*ProjectConfig

	// SystemIncludeArgs is the pre-built ["-isystem", dir, ...] tail appended
	// to every pruned compile command.
	SystemIncludeArgs []string

	globalExcludes []RegexPattern
	// patterns containing {PROJECT_HOME}; specialized per project
	globalTemplates []string
}

// Load reads and validates the configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	var doc xmlConfig
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	if doc.LogDir == "" {
		return nil, fmt.Errorf("config: LogDir missing")
	}
	if doc.DataDir == "" {
		return nil, fmt.Errorf("config: DataDir missing")
	}

	cfg := &Config{
		LogDir:     ExpandEnv(doc.LogDir),
		DataDir:    ExpandEnv(doc.DataDir),
		ListenPath: doc.Listen,
	}
	if cfg.ListenPath == "" {
		cfg.ListenPath = DefaultListenPath
	}

	for _, dir := range []string{cfg.LogDir, cfg.DataDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("config: create %s: %w", dir, err)
		}
	}

	for _, e := range doc.GlobalExcluded.Entries {
		if strings.Contains(e.Pattern, projectHomeVar) {
			cfg.globalTemplates = append(cfg.globalTemplates, e.Pattern)
			continue
		}
		rp, err := compilePattern(e.Pattern, "")
		if err != nil {
			return nil, err
		}
		cfg.globalExcludes = append(cfg.globalExcludes, rp)
	}

	for _, d := range doc.SystemInclude.Directories {
		cfg.SystemIncludeArgs = append(cfg.SystemIncludeArgs,
			"-isystem", ExpandEnv(d))
	}

	for _, xp := range doc.Projects.Projects {
		pc, err := cfg.buildProject(xp)
		if err != nil {
			return nil, err
		}
		cfg.Projects = append(cfg.Projects, pc)
	}

	return cfg, nil
}

func (c *Config) buildProject(xp xmlProject) (*ProjectConfig, error) {
	if xp.Name == "" {
		return nil, fmt.Errorf("config: project without Name")
	}
	if xp.Home == "" {
		return nil, fmt.Errorf("config: project %s without Home", xp.Name)
	}

	pc := &ProjectConfig{
		Name:        xp.Name,
		HomePath:    ExpandEnv(xp.Home),
		EnableWatch: true,
		global:      c,
	}
	if xp.EnableFileWatch != nil {
		pc.EnableWatch = *xp.EnableFileWatch
	}

	buildDir := xp.BuildDir
	if buildDir == "" {
		buildDir = defaultBuildDir
	}
	buildDir = strings.ReplaceAll(ExpandEnv(buildDir), projectHomeVar, pc.HomePath)
	if !filepath.IsAbs(buildDir) {
		buildDir = filepath.Join(pc.HomePath, buildDir)
	}
	pc.BuildPath = buildDir

	for _, e := range xp.Excludes {
		rp, err := compilePattern(e.Pattern, pc.HomePath)
		if err != nil {
			return nil, err
		}
		pc.Excludes = append(pc.Excludes, rp)
	}

	// Specialize global {PROJECT_HOME} templates for this project.
	for _, tmpl := range c.globalTemplates {
		rp, err := compilePattern(tmpl, pc.HomePath)
		if err != nil {
			return nil, err
		}
		pc.Excludes = append(pc.Excludes, rp)
	}

	return pc, nil
}

// IsFileExcluded checks a path against the global exclude patterns.
func (c *Config) IsFileExcluded(path string) bool {
	for _, rp := range c.globalExcludes {
		if rp.Match(path) {
			return true
		}
	}
	return false
}

// IsFileExcluded checks a path against the project's patterns and then the
// global ones.
func (p *ProjectConfig) IsFileExcluded(path string) bool {
	for _, rp := range p.Excludes {
		if rp.Match(path) {
			return true
		}
	}
	if p.global != nil {
		return p.global.IsFileExcluded(path)
	}
	return false
}

// compilePattern compiles an exclude pattern, substituting {PROJECT_HOME}
// when a home path is supplied. The match is anchored to the whole path.
func compilePattern(pattern, home string) (RegexPattern, error) {
	used := pattern
	if home != "" {
		used = strings.ReplaceAll(used, projectHomeVar, home)
	}
	re, err := regexp.Compile("^(?:" + used + ")$")
	if err != nil {
		return RegexPattern{}, fmt.Errorf("config: pattern %q: %w", pattern, err)
	}
	return RegexPattern{Pattern: pattern, re: re}, nil
}

// ExpandEnv replaces ${NAME} references with the environment's values.
// Unset variables expand to the empty string.
func ExpandEnv(s string) string {
	return envRe.ReplaceAllStringFunc(s, func(m string) string {
		return os.Getenv(m[2 : len(m)-1])
	})
}
