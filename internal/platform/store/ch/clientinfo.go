package ch

import (
	"os"
	"strings"

	"github.com/ClickHouse/clickhouse-go/v2"

	"ghstrata/internal/core/version"
)

// ClientInfo tags every query in system.query_log with the binary, its role and host
func ClientInfo(role string, b version.BuildInfo) clickhouse.ClientInfo {
	host, _ := os.Hostname()
	return clickhouse.ClientInfo{Products: []struct{ Name, Version string }{
		{Name: orUnknown(b.Service), Version: orUnknown(b.Version)},
		{Name: "role", Version: orUnknown(role)},
		{Name: "commit", Version: orUnknown(b.Commit)},
		{Name: "go", Version: orUnknown(b.Go)},
		{Name: "host", Version: orUnknown(host)},
	}}
}

func orUnknown(s string) string {
	if s = strings.TrimSpace(s); s == "" {
		return "unknown"
	}
	return s
}
