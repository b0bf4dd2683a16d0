package buildinfo

import "fmt"

// Set with -ldflags "-X mclp/internal/buildinfo.Version=..." at release.
var (
    Version = "dev"
    Commit  = ""
    BuiltAt = ""
)

func Info() map[string]string {
    return map[string]string{
        "version": Version,
        "commit":  Commit,
        "builtAt": BuiltAt,
    }
}

// String renders the build for version output, e.g. "mclp dev (abc123, 2024-01-01)".
func String(name string) string {
    s := fmt.Sprintf("%s %s", name, Version)
    switch {
    case Commit != "" && BuiltAt != "":
        s += fmt.Sprintf(" (%s, %s)", Commit, BuiltAt)
    case Commit != "":
        s += fmt.Sprintf(" (%s)", Commit)
    }
    return s
}
