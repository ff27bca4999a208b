package global

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

const (
	propsTOMLFileName = "props.toml"

	defaultBlockSize          = 128 * 1024
	defaultOpenSize           = 512 * 1024
	defaultSaveSize           = 512 * 1024
	defaultProgressIntervalMS = 100
	defaultJobCapacity        = 2
	defaultPollIntervalMS     = 50
	defaultRecentLimit        = 20
)

type BackgroundProps struct {
	// Files larger than OpenSize bytes load on a background goroutine.
	OpenSize int64 `json:"open_size" toml:"open_size"`
	// Documents larger than SaveSize bytes save on a background goroutine.
	SaveSize           int64 `json:"save_size" toml:"save_size"`
	BlockSize          int   `json:"block_size" toml:"block_size"`
	ProgressIntervalMS int   `json:"progress_interval_ms" toml:"progress_interval_ms"`
	SleepMS            int   `json:"sleep_ms" toml:"sleep_ms"`
}

type JobsProps struct {
	Capacity           int    `json:"capacity" toml:"capacity"`
	ClearBeforeExecute bool   `json:"clear_before_execute" toml:"clear_before_execute"`
	TimeCommands       bool   `json:"time_commands" toml:"time_commands"`
	Shell              string `json:"shell,omitempty" toml:"shell,omitempty"`
	UsePTY             bool   `json:"use_pty" toml:"use_pty"`
	PollIntervalMS     int    `json:"poll_interval_ms" toml:"poll_interval_ms"`
}

type FilesProps struct {
	ReadOnly          bool `json:"read_only" toml:"read_only"`
	CheckModifiedTime bool `json:"check_modified_time" toml:"check_modified_time"`
	SniffUTF8         bool `json:"sniff_utf8" toml:"sniff_utf8"`
	WatchExternal     bool `json:"watch_external" toml:"watch_external"`
	RecentLimit       int  `json:"recent_limit" toml:"recent_limit"`
}

type AutosaveProps struct {
	DelaySeconds int `json:"delay_seconds" toml:"delay_seconds"`
}

// Tool is a configured external command. Subsystem is a digit '0'..'7' or
// a subsystem name.
type Tool struct {
	Name             string `json:"name" toml:"name"`
	Command          string `json:"command" toml:"command"`
	Subsystem        string `json:"subsystem,omitempty" toml:"subsystem,omitempty"`
	SaveBefore       int    `json:"save_before" toml:"save_before"`
	Filter           bool   `json:"filter,omitempty" toml:"filter,omitempty"`
	Input            string `json:"input,omitempty" toml:"input,omitempty"`
	Quiet            bool   `json:"quiet,omitempty" toml:"quiet,omitempty"`
	ReplaceSelection string `json:"replace_selection,omitempty" toml:"replace_selection,omitempty"`
	GroupUndo        bool   `json:"group_undo,omitempty" toml:"group_undo,omitempty"`
}

// Properties is the configuration context handed to every component that
// needs settings. It is a value; components keep their own copy.
type Properties struct {
	Background BackgroundProps `json:"background" toml:"background"`
	Jobs       JobsProps       `json:"jobs" toml:"jobs"`
	Files      FilesProps      `json:"files" toml:"files"`
	Autosave   AutosaveProps   `json:"autosave" toml:"autosave"`
	Tools      []Tool          `json:"tools,omitempty" toml:"tools,omitempty"`
}

func (p Properties) ProgressInterval() time.Duration {
	return time.Duration(p.Background.ProgressIntervalMS) * time.Millisecond
}

func (p Properties) BlockSleep() time.Duration {
	return time.Duration(p.Background.SleepMS) * time.Millisecond
}

func (p Properties) PollInterval() time.Duration {
	return time.Duration(p.Jobs.PollIntervalMS) * time.Millisecond
}

func (p Properties) AutosaveDelay() time.Duration {
	return time.Duration(p.Autosave.DelaySeconds) * time.Second
}

func (p Properties) Tool(name string) (Tool, bool) {
	name = strings.TrimSpace(name)
	for _, t := range p.Tools {
		if t.Name == name {
			return t, true
		}
	}
	return Tool{}, false
}

// DefaultProperties is what a fresh props.toml contains.
func DefaultProperties() Properties {
	return normalizeProperties(Properties{
		Files: FilesProps{SniffUTF8: true, WatchExternal: true, CheckModifiedTime: true},
	})
}

type PropertyStore struct {
	dir string
}

func NewPropertyStore(dir string) *PropertyStore {
	return &PropertyStore{dir: dir}
}

func (s *PropertyStore) Path() string {
	return filepath.Join(s.dir, propsTOMLFileName)
}

func (s *PropertyStore) LoadOrInit() (Properties, error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return Properties{}, err
	}

	path := s.Path()
	if b, err := os.ReadFile(path); err == nil {
		props := DefaultProperties()
		props.Tools = nil
		if err := toml.Unmarshal(b, &props); err != nil {
			return Properties{}, err
		}
		return normalizeProperties(props), nil
	} else if !os.IsNotExist(err) {
		return Properties{}, err
	}

	props := DefaultProperties()
	if err := writeTOMLAtomically(path, props); err != nil {
		return Properties{}, err
	}
	return props, nil
}

func (s *PropertyStore) Save(props Properties) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return err
	}
	return writeTOMLAtomically(s.Path(), normalizeProperties(props))
}

func normalizeProperties(p Properties) Properties {
	if p.Background.BlockSize <= 0 {
		p.Background.BlockSize = defaultBlockSize
	}
	if p.Background.OpenSize <= 0 {
		p.Background.OpenSize = defaultOpenSize
	}
	if p.Background.SaveSize <= 0 {
		p.Background.SaveSize = defaultSaveSize
	}
	if p.Background.ProgressIntervalMS < 0 {
		p.Background.ProgressIntervalMS = 0
	} else if p.Background.ProgressIntervalMS == 0 {
		p.Background.ProgressIntervalMS = defaultProgressIntervalMS
	}
	if p.Background.SleepMS < 0 {
		p.Background.SleepMS = 0
	}
	if p.Jobs.Capacity <= 0 {
		p.Jobs.Capacity = defaultJobCapacity
	}
	if p.Jobs.PollIntervalMS <= 0 {
		p.Jobs.PollIntervalMS = defaultPollIntervalMS
	}
	p.Jobs.Shell = strings.TrimSpace(p.Jobs.Shell)
	if p.Files.RecentLimit <= 0 {
		p.Files.RecentLimit = defaultRecentLimit
	}
	if p.Autosave.DelaySeconds < 0 {
		p.Autosave.DelaySeconds = 0
	}
	tools := make([]Tool, 0, len(p.Tools))
	seen := map[string]bool{}
	for _, t := range p.Tools {
		t.Name = strings.TrimSpace(t.Name)
		t.Command = strings.TrimSpace(t.Command)
		if t.Name == "" || t.Command == "" || seen[t.Name] {
			continue
		}
		seen[t.Name] = true
		if t.SaveBefore < 0 || t.SaveBefore > 2 {
			t.SaveBefore = 0
		}
		tools = append(tools, t)
	}
	p.Tools = tools
	return p
}

func writeTOMLAtomically(path string, v any) error {
	b, err := toml.Marshal(v)
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
