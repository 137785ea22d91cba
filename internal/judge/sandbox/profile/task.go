package profile

import "codejudge/internal/judge/sandbox/spec"

// TaskType identifies the sandbox task category.
type TaskType string

const (
	TaskTypeCompile TaskType = "compile"
	TaskTypeRun     TaskType = "run"
)

// TaskProfile defines sandbox resources and security settings for a task type.
type TaskProfile struct {
	LanguageID     string             `yaml:"languageId"`
	TaskType       TaskType           `yaml:"taskType"`
	RootFS         string             `yaml:"rootFS"`
	SeccompProfile string             `yaml:"seccompProfile"`
	Image          string             `yaml:"image"`
	User           string             `yaml:"user"`
	AllowNetwork   bool               `yaml:"allowNetwork"`
	DefaultLimits  spec.ResourceLimit `yaml:"defaultLimits"`
}

// Name returns the resolver key for the profile, "<language>-<task>".
func Name(languageID string, taskType TaskType) string {
	if languageID == "" {
		return string(taskType)
	}
	return languageID + "-" + string(taskType)
}
