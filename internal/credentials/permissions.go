// ABOUTME: Permission checks for age identity files holding private keys.
// ABOUTME: Warns on group-readable keys and rejects world-accessible ones.
package credentials

import (
	"fmt"
	"os"
	"strings"
)

const (
	permOwnerRead  = 0o400
	permGroupRead  = 0o040
	permGroupWrite = 0o020
	permGroupExec  = 0o010
	permOtherMask  = 0o007
)

// CheckIdentityPermissions validates the identity file permissions.
//
// It returns a warning when the file is group-readable and an error when
// the file is accessible by others or group-writable/executable. The file
// is never chmod'd; fixing it is the owner's call.
func CheckIdentityPermissions(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", fmt.Errorf("identity path is required")
	}
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("stat identity %s: %w", path, err)
	}
	if !info.Mode().IsRegular() {
		return "", fmt.Errorf("identity %s must be a regular file", path)
	}
	perms := info.Mode().Perm()
	if perms&permOwnerRead == 0 {
		return "", fmt.Errorf("identity %s must be readable by owner (mode %04o)", path, perms)
	}
	if perms&permOtherMask != 0 {
		return "", fmt.Errorf("identity %s must not be accessible by others (mode %04o)", path, perms)
	}
	if perms&(permGroupWrite|permGroupExec) != 0 {
		return "", fmt.Errorf("identity %s must not be group-writable or executable (mode %04o)", path, perms)
	}
	if perms&permGroupRead != 0 {
		return fmt.Sprintf("identity %s is group-readable (mode %04o); consider chmod 0600", path, perms), nil
	}
	return "", nil
}
