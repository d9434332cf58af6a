package engine

import (
	"os"
	"path/filepath"
)

// systemSocketPath is the engine's conventional system-wide socket.
const systemSocketPath = "/var/run/docker.sock"

// userSocketPath is the per-user socket that desktop engine installs
// create, preferred because it exists without elevated group membership.
func userSocketPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".docker", "run", "docker.sock")
}

// socketCandidates returns the endpoints to try in order: the user-local
// socket, then the system socket, then the explicit override. The order
// is part of the tool's contract; operators rely on the user socket
// winning on workstations. Socket paths only qualify when the file
// exists, while the override is trusted as given since it may name a
// remote tcp endpoint.
func socketCandidates(override string) []string {
	return buildCandidates([]string{userSocketPath(), systemSocketPath}, fileExists, override)
}

func buildCandidates(paths []string, exists func(string) bool, override string) []string {
	var candidates []string
	for _, p := range paths {
		if p != "" && exists(p) {
			candidates = append(candidates, "unix://"+p)
		}
	}
	if override != "" {
		candidates = append(candidates, override)
	}
	return candidates
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
