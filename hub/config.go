package main

import (
	"github.com/peerhub/peerhub/compat/qbitapi"
	"github.com/peerhub/peerhub/compat/restapi"
	"github.com/peerhub/peerhub/compat/torznab"
	"github.com/peerhub/peerhub/hub/wsserver"
	"github.com/peerhub/peerhub/lib/auth"
	"github.com/peerhub/peerhub/lib/category"
	"github.com/peerhub/peerhub/lib/fetch"
	"github.com/peerhub/peerhub/lib/metricstore"
	"github.com/peerhub/peerhub/lib/moveop"
	"github.com/peerhub/peerhub/lib/scheduler"
	"github.com/peerhub/peerhub/lib/userstore"
	"github.com/peerhub/peerhub/metrics"
	"github.com/peerhub/peerhub/utils/log"
)

// Config defines hub deployment configuration: logging, metrics and
// per-component tuning. Runtime state (clients, auth, directories) lives in
// config.json under the data dir and is managed by the config package.
type Config struct {
	Logging   log.Config              `yaml:"logging"`
	Metrics   metrics.Config          `yaml:"metrics"`
	Fetch     fetch.Config            `yaml:"fetch"`
	Category  category.Config         `yaml:"category"`
	MoveOps   moveop.Config           `yaml:"move_ops"`
	Samples   metricstore.Config      `yaml:"samples"`
	Scheduler scheduler.Config        `yaml:"scheduler"`
	Sessions  userstore.SessionConfig `yaml:"sessions"`
	LoginGate auth.Config             `yaml:"login_gate"`
	WSServer  wsserver.Config         `yaml:"wsserver"`
	QbitAPI   qbitapi.Config          `yaml:"qbitapi"`
	Torznab   torznab.Config          `yaml:"torznab"`
	RestAPI   restapi.Config          `yaml:"restapi"`
}
