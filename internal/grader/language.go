package grader

import "errors"

// ErrUnsupportedLanguage means the submission's language has no toolchain
// entry in the table below.
var ErrUnsupportedLanguage = errors.New("unsupported submission language")

// Language describes one supported toolchain: where the source lands inside
// the sandbox workspace and the argv for the compile and run steps. Compile
// is empty for interpreted languages. Commands run with the workspace as
// their working directory.
type Language struct {
	Name       string
	SourceFile string
	Compile    []string
	Run        []string
}

var languages = map[string]Language{
	"python3": {
		Name:       "python3",
		SourceFile: "main.py",
		Run:        []string{"python3", "main.py"},
	},
	"javascript": {
		Name:       "javascript",
		SourceFile: "main.js",
		Run:        []string{"node", "main.js"},
	},
	"go": {
		Name:       "go",
		SourceFile: "main.go",
		Compile:    []string{"go", "build", "-o", "main", "main.go"},
		Run:        []string{"./main"},
	},
	"c": {
		Name:       "c",
		SourceFile: "main.c",
		Compile:    []string{"gcc", "-O2", "-std=c11", "-o", "main", "main.c"},
		Run:        []string{"./main"},
	},
	"cpp": {
		Name:       "cpp",
		SourceFile: "main.cpp",
		Compile:    []string{"g++", "-O2", "-std=c++17", "-o", "main", "main.cpp"},
		Run:        []string{"./main"},
	},
}

// LookupLanguage resolves a language name to its toolchain entry.
func LookupLanguage(name string) (Language, bool) {
	l, ok := languages[name]
	return l, ok
}

// SupportedLanguages lists the names the engine can execute.
func SupportedLanguages() []string {
	out := make([]string, 0, len(languages))
	for name := range languages {
		out = append(out, name)
	}
	return out
}
