// Package jobs turns config-defined jobs into scheduler units and cron entries.
package jobs
