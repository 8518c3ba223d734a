// Package config wraps github.com/spf13/viper to load the kernel's
// build-time tunables from a YAML file, environment variables
// (FLEXKERNEL_*), or baked-in defaults. cmd/flexkerneld applies only
// HeapSizeBytes and TicksPerSecond; the other fields are loaded but
// not consumed, and the task-table capacity and stack size stay the
// constants in internal/sched (MaxTasks, StackWords).
package config

import (
	"strings"

	"github.com/spf13/viper"
)

// Config collects the tunables a target build would fix at compile
// time.
type Config struct {
	MaxTasks        int `mapstructure:"max_tasks"`
	StackSizeWords  int `mapstructure:"stack_size_words"`
	HeapSizeBytes   int `mapstructure:"heap_size_bytes"`
	MaxQueues       int `mapstructure:"max_queues"`
	MaxSemaphores   int `mapstructure:"max_semaphores"`
	MaxMutexes      int `mapstructure:"max_mutexes"`
	LowestPriority  int `mapstructure:"lowest_priority"`
	HighestPriority int `mapstructure:"highest_priority"`
	TicksPerSecond  int `mapstructure:"ticks_per_second"`
}

// Defaults returns the stock configuration: 32 tasks, 1024-word
// stacks, a 32 KiB heap, priorities 0-7, and a 1 kHz tick.
func Defaults() Config {
	return Config{
		MaxTasks:        32,
		StackSizeWords:  1024,
		HeapSizeBytes:   32 * 1024,
		MaxQueues:       16,
		MaxSemaphores:   16,
		MaxMutexes:      16,
		LowestPriority:  0,
		HighestPriority: 7,
		TicksPerSecond:  1000,
	}
}

// Load reads configuration from environment variables
// (FLEXKERNEL_MAX_TASKS, etc.) layered over cfgFile (if non-empty)
// layered over Defaults; an environment variable wins over the same
// key in the file.
func Load(cfgFile string) (Config, error) {
	v := viper.New()
	d := Defaults()

	v.SetDefault("max_tasks", d.MaxTasks)
	v.SetDefault("stack_size_words", d.StackSizeWords)
	v.SetDefault("heap_size_bytes", d.HeapSizeBytes)
	v.SetDefault("max_queues", d.MaxQueues)
	v.SetDefault("max_semaphores", d.MaxSemaphores)
	v.SetDefault("max_mutexes", d.MaxMutexes)
	v.SetDefault("lowest_priority", d.LowestPriority)
	v.SetDefault("highest_priority", d.HighestPriority)
	v.SetDefault("ticks_per_second", d.TicksPerSecond)

	v.SetEnvPrefix("flexkernel")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, err
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, err
	}
	return c, nil
}

// TickPeriodHz returns the tick source frequency to pass to
// port.Port.TickTimerInit.
func (c Config) TickPeriodHz() int {
	if c.TicksPerSecond <= 0 {
		return 1000
	}
	return c.TicksPerSecond
}
