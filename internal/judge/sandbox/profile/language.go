// Package profile defines language and task profiles used by the sandbox.
package profile

// LanguageSpec defines how to compile and run a language.
// Command templates may reference {src}, {bin} and {workdir}.
type LanguageSpec struct {
	ID               string   `yaml:"id"`
	Name             string   `yaml:"name"`
	Version          string   `yaml:"version"`
	SourceFile       string   `yaml:"sourceFile"`
	BinaryFile       string   `yaml:"binaryFile"`
	CompileEnabled   bool     `yaml:"compileEnabled"`
	CompileCmdTpl    string   `yaml:"compileCmd"`
	RunCmdTpl        string   `yaml:"runCmd"`
	Env              []string `yaml:"env"`
	TimeMultiplier   float64  `yaml:"timeMultiplier"`
	MemoryMultiplier float64  `yaml:"memoryMultiplier"`
}

// DefaultLanguages returns the built-in C++, Java and Python definitions.
func DefaultLanguages() []LanguageSpec {
	return []LanguageSpec{
		{
			ID:             "cpp",
			Name:           "C++",
			Version:        "g++ 17",
			SourceFile:     "main.cpp",
			BinaryFile:     "main",
			CompileEnabled: true,
			CompileCmdTpl:  "g++ -O2 -std=c++17 -o {bin} {src}",
			RunCmdTpl:      "{bin}",
			Env:            []string{"PATH=/usr/local/bin:/usr/bin:/bin"},
		},
		{
			ID:               "java",
			Name:             "Java",
			Version:          "17",
			SourceFile:       "Main.java",
			BinaryFile:       "Main.class",
			CompileEnabled:   true,
			CompileCmdTpl:    "javac -encoding UTF-8 -d {workdir} {src}",
			RunCmdTpl:        "java -Xss64m -cp {workdir} Main",
			Env:              []string{"PATH=/usr/local/bin:/usr/bin:/bin"},
			TimeMultiplier:   2,
			MemoryMultiplier: 2,
		},
		{
			ID:             "python",
			Name:           "Python",
			Version:        "3",
			SourceFile:     "main.py",
			RunCmdTpl:      "python3 {src}",
			Env:            []string{"PATH=/usr/local/bin:/usr/bin:/bin", "PYTHONDONTWRITEBYTECODE=1"},
			TimeMultiplier: 2,
		},
	}
}
