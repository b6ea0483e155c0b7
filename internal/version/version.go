package version

import "fmt"

// Заполняются через -ldflags при сборке.
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Build описывает собранный бинарь.
type Build struct {
	Version string
	Commit  string
	Date    string
}

// Current возвращает информацию о текущей сборке.
func Current() Build {
	return Build{Version: version, Commit: commit, Date: date}
}

// String возвращает однострочное описание сборки для логов.
func (b Build) String() string {
	return fmt.Sprintf("version=%s commit=%s date=%s", b.Version, b.Commit, b.Date)
}
