package version

import "fmt"

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Info returns version information populated via -ldflags.
func Info() (v, c, d string) { return version, commit, date }

// Version возвращает только номер версии.
func Version() string { return version }

// UserAgent используется клиентскими утилитами в заголовке User-Agent.
func UserAgent(tool string) string {
	return fmt.Sprintf("orderstream-%s/%s", tool, version)
}

func String() string {
	return fmt.Sprintf("version=%s commit=%s date=%s", version, commit, date)
}
