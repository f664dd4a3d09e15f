package security

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// AuditSeverity ranks a filesystem audit finding.
type AuditSeverity string

const (
	SeverityInfo     AuditSeverity = "info"
	SeverityWarn     AuditSeverity = "warn"
	SeverityCritical AuditSeverity = "critical"
)

// AuditFinding is a single filesystem permission or symlink observation.
type AuditFinding struct {
	CheckID     string
	Severity    AuditSeverity
	Title       string
	Detail      string
	Remediation string
}

// AuditWorkspace checks a session's workspace root and, if set, its config
// file for world/group writable or readable permissions and symlinks. It
// never blocks session creation; findings are meant to be logged.
func AuditWorkspace(workspaceRoot, configPath string) []AuditFinding {
	var findings []AuditFinding
	if workspaceRoot != "" {
		findings = append(findings, checkDirectory(workspaceRoot)...)
	}
	if configPath != "" {
		findings = append(findings, checkConfigFile(configPath)...)
	}
	return findings
}

func checkDirectory(path string) []AuditFinding {
	var findings []AuditFinding
	info, err := os.Lstat(path)
	if err != nil {
		return nil
	}
	if info.Mode()&os.ModeSymlink != 0 {
		findings = append(findings, AuditFinding{
			CheckID: "fs.symlink_workspace", Severity: SeverityWarn,
			Title:       "workspace root is a symlink",
			Detail:      fmt.Sprintf("%s is a symbolic link; symlinks can cross trust boundaries.", path),
			Remediation: "use a real directory for the workspace root",
		})
	}
	mode := info.Mode().Perm()
	if mode&0o002 != 0 {
		findings = append(findings, AuditFinding{
			CheckID: "fs.workspace_world_writable", Severity: SeverityCritical,
			Title: "workspace root is world-writable", Detail: fmt.Sprintf("%s has mode %o", path, mode),
			Remediation: fmt.Sprintf("chmod o-w %s", path),
		})
	}
	if mode&0o020 != 0 {
		findings = append(findings, AuditFinding{
			CheckID: "fs.workspace_group_writable", Severity: SeverityWarn,
			Title: "workspace root is group-writable", Detail: fmt.Sprintf("%s has mode %o", path, mode),
			Remediation: fmt.Sprintf("chmod g-w %s", path),
		})
	}

	if info.IsDir() {
		_ = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
			if err != nil || p == path {
				return nil
			}
			fi, ferr := d.Info()
			if ferr != nil {
				return nil
			}
			if isSensitiveFile(p) {
				fmode := fi.Mode().Perm()
				if fmode&0o044 != 0 {
					findings = append(findings, AuditFinding{
						CheckID: "fs.sensitive_file_readable", Severity: SeverityCritical,
						Title: "sensitive file readable beyond owner", Detail: fmt.Sprintf("%s has mode %o", p, fmode),
						Remediation: fmt.Sprintf("chmod 600 %s", p),
					})
				}
			}
			return nil
		})
	}
	return findings
}

func checkConfigFile(path string) []AuditFinding {
	info, err := os.Lstat(path)
	if err != nil {
		return nil
	}
	var findings []AuditFinding
	mode := info.Mode().Perm()
	if mode&0o044 != 0 {
		findings = append(findings, AuditFinding{
			CheckID: "fs.config_readable", Severity: SeverityCritical,
			Title: "config file readable beyond owner", Detail: fmt.Sprintf("%s has mode %o", path, mode),
			Remediation: fmt.Sprintf("chmod 600 %s", path),
		})
	}
	return findings
}

func isSensitiveFile(path string) bool {
	base := strings.ToLower(filepath.Base(path))
	switch {
	case strings.Contains(base, "secret"),
		strings.Contains(base, "credential"),
		strings.HasSuffix(base, ".pem"),
		strings.HasSuffix(base, ".key"),
		base == ".env":
		return true
	default:
		return false
	}
}
