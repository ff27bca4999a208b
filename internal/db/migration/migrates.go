package migration

import (
	"fmt"
	"sync"

	"gorm.io/gorm"
)

type step struct {
	name string
	run  func(*Migration) error
}

var (
	steps    []step
	initOnce sync.Once
)

// Migration is passed to each migration step. DB is set by RunAll.
type Migration struct {
	DB   *gorm.DB
	logs []string
}

func (m *Migration) Log(v ...interface{}) {
	m.logs = append(m.logs, fmt.Sprint(v...))
}

func (m *Migration) Logs() []string {
	out := make([]string, len(m.logs))
	copy(out, m.logs)
	return out
}

func register(name string, run func(*Migration) error) {
	steps = append(steps, step{name: name, run: run})
}

// Init registers the built-in steps once.
func Init() {
	initOnce.Do(func() {
		register("drop_blank_recent_paths", dropBlankRecentPaths)
		register("trim_command_lines", trimCommandLines)
	})
}

// Names lists registered steps in run order.
func Names() []string {
	out := make([]string, 0, len(steps))
	for _, s := range steps {
		out = append(out, s.name)
	}
	return out
}

// RunAll runs all registered migrations in order. Used for data/behavior one-shots; schema is synced via db.SyncSchema.
func RunAll(db *gorm.DB) error {
	if db == nil {
		return fmt.Errorf("db is required")
	}
	ctx := &Migration{DB: db}
	for _, s := range steps {
		ctx.logs = nil
		if err := s.run(ctx); err != nil {
			return fmt.Errorf("migration %s failed: %w", s.name, err)
		}
	}
	return nil
}

func dropBlankRecentPaths(m *Migration) error {
	res := m.DB.Exec(`DELETE FROM recent_files WHERE TRIM(path) = ''`)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		m.Log("dropped blank recent paths: ", res.RowsAffected)
	}
	return nil
}

func trimCommandLines(m *Migration) error {
	return m.DB.Exec(`UPDATE command_runs SET line = TRIM(line) WHERE line <> TRIM(line)`).Error
}
