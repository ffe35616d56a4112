package core

import (
	"fmt"
	"io/fs"
	"os"
	"os/user"
	"path/filepath"
	"strconv"
	"strings"
)

// Owner is the uid/gid that created backup files are reassigned to. A nil
// *Owner disables reassignment, so callers can pass it through unchecked.
type Owner struct {
	UID int
	GID int
}

// ParseOwner resolves a "UID[:GID]" spec, accepting names or numeric IDs.
// Without a group part the user's primary group is used. An empty spec
// returns nil.
func ParseOwner(spec string) (*Owner, error) {
	if spec == "" {
		return nil, nil
	}

	userPart, groupPart, hasGroup := strings.Cut(spec, ":")

	u, err := user.Lookup(userPart)
	if err != nil {
		if u, err = user.LookupId(userPart); err != nil {
			return nil, fmt.Errorf("unknown user %q", userPart)
		}
	}
	uid, err := strconv.Atoi(u.Uid)
	if err != nil {
		return nil, fmt.Errorf("non-numeric uid for user %q", userPart)
	}

	gidStr := u.Gid
	if hasGroup {
		g, err := user.LookupGroup(groupPart)
		if err != nil {
			if g, err = user.LookupGroupId(groupPart); err != nil {
				return nil, fmt.Errorf("unknown group %q", groupPart)
			}
		}
		gidStr = g.Gid
	}
	gid, err := strconv.Atoi(gidStr)
	if err != nil {
		return nil, fmt.Errorf("non-numeric gid for group %q", groupPart)
	}

	return &Owner{UID: uid, GID: gid}, nil
}

// Chown reassigns a single path. No-op on a nil Owner.
func (o *Owner) Chown(path string) error {
	if o == nil {
		return nil
	}
	if err := os.Chown(path, o.UID, o.GID); err != nil {
		return fmt.Errorf("changing ownership of %s: %w", path, err)
	}
	return nil
}

// ChownTree reassigns root and everything under it. No-op on a nil Owner.
func (o *Owner) ChownTree(root string) error {
	if o == nil {
		return nil
	}
	return filepath.WalkDir(root, func(path string, _ fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		return o.Chown(path)
	})
}
