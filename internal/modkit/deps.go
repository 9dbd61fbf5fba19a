package modkit

import (
	"ghstrata/internal/platform/config"
	"ghstrata/internal/platform/logger"
	"ghstrata/internal/platform/store"
)

// Deps holds what every module constructor receives
type Deps struct {
	Log logger.Logger
	Cfg config.Conf
	// CH is nil unless GHSTRATA_CH_URL is set
	CH store.Clickhouse
}

// Publishes reports whether results should also go to clickhouse
func (d Deps) Publishes() bool { return d.CH != nil }
