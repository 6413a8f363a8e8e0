package control

import (
	"log/slog"
	"os"
	"os/user"
	"strconv"
)

// applySocketGroup chowns the Unix socket's group ownership to the named
// group, best-effort — a missing or unresolvable group only produces a
// warning, since the daemon's own operation never depends on it.
func applySocketGroup(socketPath, groupName string, logger *slog.Logger) {
	if groupName == "" {
		return
	}

	grp, err := user.LookupGroup(groupName)
	if err != nil {
		logger.Warn("socket group lookup failed", "group", groupName, "error", err)
		return
	}
	gid, err := strconv.Atoi(grp.Gid)
	if err != nil {
		logger.Warn("socket group has non-numeric gid", "group", groupName, "gid", grp.Gid)
		return
	}
	if err := os.Chown(socketPath, -1, gid); err != nil {
		logger.Warn("socket chown failed", "group", groupName, "error", err)
	}
}
