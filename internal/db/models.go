package db

// RecentFile is one row of the most-recently-opened file list.
type RecentFile struct {
	Path          string `gorm:"column:path;primaryKey"`
	Encoding      string `gorm:"column:encoding;not null;default:''"`
	FirstOpenedAt int64  `gorm:"column:first_opened_at;not null"`
	LastOpenedAt  int64  `gorm:"column:last_opened_at;not null"`
	OpenCount     int    `gorm:"column:open_count;not null"`
}

func (RecentFile) TableName() string { return "recent_files" }

type CommandRun struct {
	ID         int64  `gorm:"column:id;primaryKey;autoIncrement"`
	Line       string `gorm:"column:line;not null;default:''"`
	Dir        string `gorm:"column:dir;not null;default:''"`
	Subsystem  int    `gorm:"column:subsystem;not null;default:0"`
	ExitCode   int    `gorm:"column:exit_code;not null;default:0"`
	Cancelled  bool   `gorm:"column:cancelled;not null;default:false"`
	ErrorText  string `gorm:"column:error_text;not null;default:''"`
	DurationMS int64  `gorm:"column:duration_ms;not null;default:0"`
	StartedAt  int64  `gorm:"column:started_at;not null;default:0"`
}

func (CommandRun) TableName() string { return "command_runs" }
