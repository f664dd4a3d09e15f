// Package security implements the Security Policy: path, command, and
// input validation plus output sanitization applied at every tool
// boundary. A Policy is value-like and safe to share across sessions once
// constructed; it holds no mutable state beyond its configuration.
package security

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/kestrelai/agentcore/internal/model"
	toolsec "github.com/kestrelai/agentcore/internal/tools/security"
)

// Operation is the kind of filesystem access being validated.
type Operation string

const (
	OpRead    Operation = "read"
	OpWrite   Operation = "write"
	OpExecute Operation = "execute"
)

// PathDecision is the result of validatePath.
type PathDecision struct {
	Allowed       bool
	Reason        string
	CanonicalPath string
}

// CommandDecision is the result of validateCommand.
type CommandDecision struct {
	Allowed bool
	Reason  string
}

// SanitizeResult is the result of sanitizeOutput.
type SanitizeResult struct {
	Clean            string
	Redacted         bool
	RedactedPatterns []string
}

// InputDecision is the result of validateInput.
type InputDecision struct {
	Safe    bool
	Threats []string
}

// Policy is the agent core's Security Policy. Construct with NewPolicy and
// treat as immutable thereafter.
type Policy struct {
	WorkspaceRoot    string
	WorkspaceOnly    bool
	Autonomy         model.AutonomyLevel
	CommandAllowlist []string
	ExtraDenyPaths   []string
}

// defaultBlockedRoots are rejected regardless of configuration.
var defaultBlockedRoots = []string{
	"/etc", "/boot", "/root/.ssh", "/root/.gnupg",
}

func defaultDenyPaths() []string {
	home, err := os.UserHomeDir()
	roots := append([]string{}, defaultBlockedRoots...)
	if err == nil && home != "" {
		roots = append(roots, filepath.Join(home, ".ssh"), filepath.Join(home, ".gnupg"))
	}
	return roots
}

// NewPolicy builds a Policy. An empty workspaceRoot disables workspace
// containment (WorkspaceOnly stays false).
func NewPolicy(workspaceRoot string, autonomy model.AutonomyLevel, allowlist []string) *Policy {
	return &Policy{
		WorkspaceRoot:    workspaceRoot,
		WorkspaceOnly:    workspaceRoot != "",
		Autonomy:         autonomy,
		CommandAllowlist: allowlist,
		ExtraDenyPaths:   defaultDenyPaths(),
	}
}

// ValidatePath decides whether an operation on path may proceed. Paths are
// canonicalized via the OS-level realpath before comparison so that
// relative, absolute, symlinked, and ..-laden paths all normalize the same
// way; symlinks that would escape the workspace are rejected.
func (p *Policy) ValidatePath(path string, op Operation) PathDecision {
	if strings.ContainsRune(path, 0) {
		return PathDecision{Allowed: false, Reason: "path contains a NUL byte"}
	}

	root := p.WorkspaceRoot
	if root == "" {
		root = "."
	}
	rootAbs, err := filepath.Abs(root)
	if err != nil {
		return PathDecision{Allowed: false, Reason: "cannot resolve workspace root"}
	}
	rootReal, err := realpath(rootAbs)
	if err != nil {
		rootReal = rootAbs
	}

	var target string
	if filepath.IsAbs(path) {
		target = filepath.Clean(path)
	} else {
		target = filepath.Join(rootAbs, path)
	}

	targetReal, err := realpath(target)
	if err != nil {
		// Path may not exist yet (e.g. a write creating a new file); fall
		// back to canonicalizing the parent directory and rejoining.
		parentReal, perr := realpath(filepath.Dir(target))
		if perr != nil {
			targetReal = filepath.Clean(target)
		} else {
			targetReal = filepath.Join(parentReal, filepath.Base(target))
		}
	}

	for _, blocked := range p.ExtraDenyPaths {
		blockedReal, err := realpath(blocked)
		if err != nil {
			blockedReal = blocked
		}
		if targetReal == blockedReal || strings.HasPrefix(targetReal, blockedReal+string(os.PathSeparator)) {
			return PathDecision{Allowed: false, Reason: "path targets a protected system location"}
		}
	}

	if p.WorkspaceOnly {
		rel, err := filepath.Rel(rootReal, targetReal)
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(os.PathSeparator)) {
			return PathDecision{Allowed: false, Reason: "path escapes workspace root"}
		}
	}

	if op == OpExecute && p.Autonomy == model.AutonomyReadonly {
		return PathDecision{Allowed: false, Reason: "execute denied at readonly autonomy"}
	}
	if op == OpWrite && p.Autonomy == model.AutonomyReadonly {
		return PathDecision{Allowed: false, Reason: "write denied at readonly autonomy"}
	}

	return PathDecision{Allowed: true, CanonicalPath: targetReal}
}

// realpath resolves symlinks; unlike filepath.EvalSymlinks it does not
// require the final path component to exist.
func realpath(path string) (string, error) {
	resolved, err := filepath.EvalSymlinks(path)
	if err == nil {
		return resolved, nil
	}
	if !os.IsNotExist(err) {
		return "", err
	}
	parent, perr := filepath.EvalSymlinks(filepath.Dir(path))
	if perr != nil {
		return "", perr
	}
	return filepath.Join(parent, filepath.Base(path)), nil
}

var shellMetaPattern = regexp.MustCompile("[;&|><`\n]|\\$\\(")

// ValidateCommand decides whether a command invocation may proceed. Below
// full autonomy the base name must be allowlisted, except for "bash -c" (or
// "sh -c"). Shell metacharacters in any argument are always rejected,
// except for "bash -c"/"sh -c": there the script string is scanned
// quote-aware instead, and an unsafe script is rejected below full autonomy.
func (p *Policy) ValidateCommand(cmd string, args []string) CommandDecision {
	base := filepath.Base(cmd)

	isShellDashC := (base == "bash" || base == "sh") && len(args) >= 2 && args[0] == "-c"

	if p.Autonomy != model.AutonomyFull {
		allowed := false
		for _, a := range p.CommandAllowlist {
			if a == base {
				allowed = true
				break
			}
		}
		if !allowed && !isShellDashC {
			return CommandDecision{Allowed: false, Reason: "command not in allowlist for current autonomy level"}
		}
	}

	if isShellDashC {
		script := args[1]
		if !toolsec.IsSafeCommand(script) {
			reason := toolsec.ExtractUnsafeReason(script)
			if p.Autonomy == model.AutonomyFull {
				return CommandDecision{Allowed: true}
			}
			return CommandDecision{Allowed: false, Reason: "unsafe shell script: " + reason}
		}
		return CommandDecision{Allowed: true}
	}

	for _, a := range args {
		if shellMetaPattern.MatchString(a) {
			return CommandDecision{Allowed: false, Reason: "argument contains shell metacharacters"}
		}
	}

	return CommandDecision{Allowed: true}
}

// RequiresConfirmation reports whether op needs interactive confirmation
// under the policy's autonomy level. Only "full" skips confirmation.
func (p *Policy) RequiresConfirmation(op Operation) bool {
	if p.Autonomy == model.AutonomyFull {
		return false
	}
	return op == OpWrite || op == OpExecute
}
