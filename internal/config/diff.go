package config

import (
	"reflect"
	"sort"
	"strings"

	logx "swbf2sched/pkg/logx"
)

// Sections that only take effect after a restart.
var restartSections = map[string]bool{"storage": true, "admin": true, "scheduler.name": true}

// SummarizeChange returns (1) a sorted list of changed sections, (2) safe
// structured attrs for logging (never includes the admin token) and (3) the
// changed sections that need a restart to take effect.
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field, []string) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 16)

	osch, nsch := oldCfg.Scheduler, newCfg.Scheduler
	if strings.TrimSpace(osch.Name) != strings.TrimSpace(nsch.Name) {
		changed = append(changed, "scheduler.name")
	}
	if strings.TrimSpace(osch.TickDelay) != strings.TrimSpace(nsch.TickDelay) ||
		osch.HistorySize != nsch.HistorySize || osch.FaultLogRate != nsch.FaultLogRate {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.String("scheduler.tick_delay", strings.TrimSpace(nsch.TickDelay)),
			logx.Int("scheduler.history_size", nsch.HistorySize),
			logx.Any("scheduler.fault_log_rate", nsch.FaultLogRate),
		)
	}

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	var oDriver, nDriver, oPath, nPath, oBusy, nBusy string
	if s := oldCfg.Storage; s != nil {
		oDriver, oPath, oBusy = strings.TrimSpace(s.Driver), strings.TrimSpace(s.Path), strings.TrimSpace(s.BusyTimeout)
	}
	if s := newCfg.Storage; s != nil {
		nDriver, nPath, nBusy = strings.TrimSpace(s.Driver), strings.TrimSpace(s.Path), strings.TrimSpace(s.BusyTimeout)
	}
	if oDriver != nDriver || oPath != nPath || oBusy != nBusy {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", nDriver),
			logx.Bool("storage.path_set", nPath != ""),
		)
	}

	oa, na := oldCfg.Admin, newCfg.Admin
	if oa.Enabled != na.Enabled ||
		strings.TrimSpace(oa.Addr) != strings.TrimSpace(na.Addr) ||
		oa.AllowInsecure != na.AllowInsecure || oa.Pprof != na.Pprof ||
		strings.TrimSpace(oa.ReadTimeout) != strings.TrimSpace(na.ReadTimeout) ||
		strings.TrimSpace(oa.IdleTimeout) != strings.TrimSpace(na.IdleTimeout) ||
		strings.TrimSpace(oa.Token) != strings.TrimSpace(na.Token) {
		changed = append(changed, "admin")
		attrs = append(attrs,
			logx.Bool("admin.enabled", na.Enabled),
			logx.String("admin.addr", strings.TrimSpace(na.Addr)),
			logx.Bool("admin.token_set", strings.TrimSpace(na.Token) != ""),
			logx.Bool("admin.pprof", na.Pprof),
		)
	}

	if !reflect.DeepEqual(oldCfg.Jobs, newCfg.Jobs) {
		changed = append(changed, "jobs")
		attrs = append(attrs, logx.Int("jobs.count", len(newCfg.Jobs)))
	}

	sort.Strings(changed)
	var restart []string
	for _, c := range changed {
		if restartSections[c] {
			restart = append(restart, c)
		}
	}
	return changed, attrs, restart
}
