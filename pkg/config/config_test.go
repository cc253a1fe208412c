package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"
)

func TestFromViperDefaults(t *testing.T) {
	v := viper.New()
	setDefaults(v)

	cfg := fromViper(v)
	require.Equal(t, EnvDevelopment, cfg.Env)
	require.Equal(t, "/api/v1", cfg.APIPrefix)
	require.Equal(t, 9, cfg.Scheduler.StartHour)
	require.Equal(t, 17, cfg.Scheduler.EndHour)
	require.Equal(t, 30, cfg.Scheduler.SlotMinutes)
	require.Equal(t, 10*time.Second, cfg.Workflow.CollaboratorTimeout)
	require.Equal(t, 24*time.Hour, cfg.Sweep.Retention)
}

func TestNormalizeSchedulerRejectsUnusableGrid(t *testing.T) {
	cases := []SchedulerConfig{
		{StartHour: 17, EndHour: 9, SlotMinutes: 30},
		{StartHour: 9, EndHour: 17, SlotMinutes: 0},
		{StartHour: 9, EndHour: 17, SlotMinutes: 45},
		{StartHour: 9, EndHour: 25, SlotMinutes: 30},
	}
	for _, tc := range cases {
		got := normalizeScheduler(tc)
		require.Equal(t, DefaultStartHour, got.StartHour)
		require.Equal(t, DefaultEndHour, got.EndHour)
		require.Equal(t, DefaultSlotMinutes, got.SlotMinutes)
	}

	kept := normalizeScheduler(SchedulerConfig{StartHour: 8, EndHour: 12, SlotMinutes: 15, AutoBookHorizonDay: 3})
	require.Equal(t, 8, kept.StartHour)
	require.Equal(t, 15, kept.SlotMinutes)
	require.Equal(t, 3, kept.AutoBookHorizonDay)
}

func TestSplitAndTrim(t *testing.T) {
	require.Nil(t, splitAndTrim(""))
	require.Equal(t, []string{"a", "b"}, splitAndTrim(" a, ,b "))
}
