package model

// TestCase is one input with its expected output.
type TestCase struct {
	Input  string `json:"input" yaml:"input"`
	Output string `json:"output" yaml:"output"`
}

// Problem carries the test-case sets the judge needs.
type Problem struct {
	ID              string     `json:"id" yaml:"id"`
	Title           string     `json:"title" yaml:"title"`
	SampleTestCases []TestCase `json:"sampleTestCases" yaml:"sampleTestCases"`
	FullTestCases   []TestCase `json:"fullTestCases" yaml:"fullTestCases"`
}

// TestCases returns the set used by mode.
func (p Problem) TestCases(mode Mode) []TestCase {
	if mode == ModeRun {
		return p.SampleTestCases
	}
	return p.FullTestCases
}
